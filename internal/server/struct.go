package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/docqa"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full ingestion run.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds one POST /api/query call (default: 2m).
	QueryTimeout time.Duration
	// IngestTimeout bounds one POST /api/ingest call (default: 10m).
	IngestTimeout time.Duration
	// MaxIngestBytes caps the ingest request body (default: 32 MiB).
	MaxIngestBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on API
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// Identity resolves the owner of each API request. If nil, HeaderIdentity
	// is used and a warning is logged at startup.
	Identity Identity
	// Transcripts, when set, persists each answered turn and supplies the
	// history for queries that omit it.
	Transcripts store.TranscriptStore
	// HistoryDepth is the number of prior turns loaded from Transcripts
	// (default: 10).
	HistoryDepth int
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// DocService is the core the handlers call. *docqa.Service satisfies it;
// tests inject a fake.
type DocService interface {
	Ingest(ctx context.Context, ownerID string, req docqa.IngestRequest) (*docqa.IngestResponse, error)
	Query(ctx context.Context, ownerID string, req docqa.QueryRequest) (*rag.QueryResult, error)
	Collections(ctx context.Context, ownerID string) ([]rag.OwnershipRecord, error)
}

// Server is the HTTP server in front of the document Q&A service.
type Server struct {
	// svc handles ingest and query calls.
	svc DocService
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// transcripts is the optional conversation store.
	transcripts store.TranscriptStore
	// metrics holds the Prometheus collectors for this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Text is the extracted document text.
	Text string `json:"text"`
	// Name is the collection the chunks are stored under.
	Name string `json:"name"`
	// TotalPages is the page count of the source document.
	TotalPages int `json:"totalPages"`
}

// ingestResponse is the JSON body returned by POST /api/ingest on success.
type ingestResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	SucceededChunks int    `json:"succeededChunks"`
	TotalChunks     int    `json:"totalChunks"`
}

// turnJSON is one conversation turn on the wire.
type turnJSON struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// queryRequest is the JSON body for POST /api/query. A nil History lets the
// server supply the stored transcript; an empty array means no history.
type queryRequest struct {
	Question string     `json:"question"`
	Name     string     `json:"name"`
	History  []turnJSON `json:"history"`
}

// sourceJSON is one retrieved chunk in a query response.
type sourceJSON struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	ChunkIndex int     `json:"chunkIndex"`
}

// queryResponse is the JSON body returned by POST /api/query on success.
type queryResponse struct {
	Success bool         `json:"success"`
	Answer  string       `json:"answer"`
	Sources []sourceJSON `json:"sources"`
}

// collectionJSON is one entry of GET /api/collections.
type collectionJSON struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// collectionsResponse is the JSON body returned by GET /api/collections.
type collectionsResponse struct {
	Success     bool             `json:"success"`
	Collections []collectionJSON `json:"collections"`
}

// errorResponse is the JSON body of every failed API call.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	// Index is set when ingestion was rate limited. Persisted and Total are
	// set when ingestion was rate limited or interrupted.
	Index     *int `json:"index,omitempty"`
	Persisted *int `json:"persisted,omitempty"`
	Total     *int `json:"total,omitempty"`
}

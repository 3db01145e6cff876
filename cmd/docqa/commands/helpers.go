package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/answer"
	"github.com/54b3r/docqa-go/internal/docqa"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/server"
	"github.com/54b3r/docqa-go/internal/store"
)

// backends holds the storage dependencies shared by every command.
type backends struct {
	// vectors is the selected vector store.
	vectors rag.VectorStore
	// ledger is the ownership ledger.
	ledger rag.OwnershipLedger
	// sqlite is the ledger's SQLite database when the ledger lives there. It
	// is reused for transcripts when they share the same path.
	sqlite *store.SQLiteStore
	// sqlitePath is the path sqlite was opened from.
	sqlitePath string
	// pingers probe the stores for GET /api/ready.
	pingers []server.Pinger
	// closers run in reverse order on shutdown.
	closers []func()
}

// Close releases every opened store.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// vectorBackend resolves VECTOR_BACKEND. When unset, a configured
// QDRANT_HOST selects qdrant; otherwise the local SQLite store is used.
func vectorBackend() string {
	if b := getEnvOrDefault("VECTOR_BACKEND", ""); b != "" {
		return b
	}
	if os.Getenv("QDRANT_HOST") != "" {
		return "qdrant"
	}
	return "sqlite"
}

// buildBackends opens the vector store selected by VECTOR_BACKEND and the
// ownership ledger that goes with it.
//
//	qdrant: QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION, QDRANT_API_KEY, QDRANT_TLS
//	pgvector: POSTGRES_DSN; the ledger shares the database
//	sqlite: VECTOR_DB_PATH (default ~/.docqa/vectors.db)
//	memory: process-local, for demos; the ledger is in memory too
//
// Except for pgvector and memory, the ledger is the SQLite database at
// DOCQA_DB (default ~/.docqa/docqa.db).
func buildBackends(ctx context.Context, log *slog.Logger, dimension int) (*backends, error) {
	b := &backends{}
	backend := vectorBackend()

	switch backend {
	case "qdrant":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		qs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "docqa"),
			VectorSize: uint64(dimension), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		b.vectors = qs
		b.closers = append(b.closers, func() { _ = qs.Close() })
		b.pingers = append(b.pingers, server.NewPinger("qdrant", qs.Ping))
		log.Info("vector store ready", slog.String("backend", backend), slog.String("host", host), slog.Int("port", port))

	case "pgvector":
		dsn := os.Getenv("POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("VECTOR_BACKEND=pgvector requires POSTGRES_DSN")
		}
		pg, err := rag.OpenPgVector(ctx, dsn, dimension)
		if err != nil {
			return nil, err
		}
		b.vectors = pg
		b.closers = append(b.closers, func() { _ = pg.Close() })
		b.pingers = append(b.pingers, server.NewPinger("postgres", pg.Ping))

		ledger, err := store.NewPostgresLedger(ctx, pg.DB())
		if err != nil {
			b.Close()
			return nil, err
		}
		b.ledger = ledger
		log.Info("vector store ready", slog.String("backend", backend))

	case "sqlite":
		path := os.Getenv("VECTOR_DB_PATH")
		if path == "" {
			def, err := docqaDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(def, "vectors.db")
		}
		sv, err := rag.OpenSQLite(path, dimension)
		if err != nil {
			return nil, err
		}
		b.vectors = sv
		b.closers = append(b.closers, func() { _ = sv.Close() })
		b.pingers = append(b.pingers, server.NewPinger("vectors", sv.Ping))
		log.Info("vector store ready", slog.String("backend", backend), slog.String("path", path))

	case "memory":
		b.vectors = rag.NewMemoryStore(dimension)
		b.ledger = store.NewMemoryLedger()
		log.Warn("vector store is in memory; documents are lost on exit")

	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q, valid values: qdrant, pgvector, sqlite, memory", backend)
	}

	if b.ledger == nil {
		path := os.Getenv("DOCQA_DB")
		if path == "" {
			def, err := store.DefaultDBPath()
			if err != nil {
				b.Close()
				return nil, err
			}
			path = def
		}
		ss, err := store.Open(path)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.ledger, b.sqlite, b.sqlitePath = ss, ss, path
		b.closers = append(b.closers, func() { _ = ss.Close() })
		b.pingers = append(b.pingers, server.NewPinger("ledger", ss.Ping))
		log.Info("ledger ready", slog.String("path", path))
	}

	return b, nil
}

// openTranscripts resolves DOCQA_TRANSCRIPT_DB. "disabled" turns transcripts
// off; empty reuses the ledger database when it is SQLite and otherwise the
// default path. Failures disable transcripts with a warning.
func openTranscripts(b *backends, log *slog.Logger) store.TranscriptStore {
	path := os.Getenv("DOCQA_TRANSCRIPT_DB")
	if path == "disabled" {
		log.Info("transcripts: disabled via DOCQA_TRANSCRIPT_DB=disabled")
		return nil
	}
	if path == "" || path == b.sqlitePath {
		if b.sqlite != nil {
			return b.sqlite
		}
		def, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("transcripts: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
		path = def
	}

	ts, err := store.Open(path)
	if err != nil {
		log.Warn("transcripts: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	b.closers = append(b.closers, func() { _ = ts.Close() })
	log.Info("transcripts: store opened", slog.String("path", path))
	return ts
}

// buildService wires the embedder, the optional chat model and the stores
// into a docqa.Service. reg may be nil to leave metrics unregistered.
func buildService(ctx context.Context, log *slog.Logger, reg prometheus.Registerer, progress func(done, total int)) (*docqa.Service, *backends, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	backend := embedder.Backend()
	log.Info("embedder initialised", slog.String("provider", backend))

	b, err := buildBackends(ctx, log, embedder.DefaultDimensions(backend))
	if err != nil {
		return nil, nil, err
	}

	var gen answer.Generator
	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	if chatModel != nil {
		cg, err := answer.NewChatGenerator(chatModel)
		if err != nil {
			b.Close()
			return nil, nil, err
		}
		gen = cg
		log.Info("answers phrased by chat model", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "none")))
	} else {
		log.Info("no chat model configured; answers are extractive")
	}

	svc, err := docqa.New(emb, b.vectors, b.ledger, docqa.Options{
		Generator:        gen,
		MaxContextTokens: getEnvInt("ANSWER_MAX_CONTEXT_TOKENS", 0),
		TopK:             getEnvInt("RAG_TOP_K", 0),
		Concurrency:      getEnvInt("INGEST_CONCURRENCY", 1),
		Progress:         progress,
		Registerer:       reg,
	})
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return svc, b, nil
}

// docqaDir returns ~/.docqa, creating it if needed.
func docqaDir() (string, error) {
	p, err := store.DefaultDBPath()
	if err != nil {
		return "", err
	}
	return filepath.Dir(p), nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat is getEnvInt for floating point settings.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docqa-go/internal/logging"
)

// probeTimeout bounds each dependency probe in GET /api/ready.
const probeTimeout = 5 * time.Second

// Pinger reports whether one dependency (vector store, ledger, transcript
// database) is reachable. Implementations must be safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses, e.g. "qdrant".
	Name() string
}

type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleHealth handles GET /api/health. It never touches a dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /api/ready. All pingers run in parallel, each under
// probeTimeout; the response lists them in registration order and is 503 if
// any failed.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := probeAll(r.Context(), s.pingers)

	resp := readyResponse{Ready: true, Checks: checks}
	log := logging.FromContext(r.Context())
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// probeAll pings every dependency concurrently. A failing probe never cancels
// the others.
func probeAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var g errgroup.Group
	for i, p := range pingers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(pctx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

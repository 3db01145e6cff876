package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/server"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP API",
		Long: `Start the docqa HTTP API.

Endpoints:
  POST /api/ingest        store a document's text under a named collection
  POST /api/query         answer a question against a collection
  GET  /api/collections   list the caller's collections
  GET  /api/health        liveness
  GET  /api/ready         dependency readiness
  GET  /metrics           Prometheus metrics

Callers are identified by Bearer token (DOCQA_API_TOKENS="token=owner,...").
Without tokens the X-Owner-ID header is trusted, which is only safe for
local development.

Examples:
  docqa serve
  docqa serve --port 9090
  VECTOR_BACKEND=qdrant MODEL_PROVIDER=ollama docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("vector_backend", vectorBackend()),
				slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "none")),
			)

			defer tracing.Install(log, "docqa serve")()

			svc, b, err := buildService(ctx, log, prometheus.DefaultRegisterer, nil)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer b.Close()

			var identity server.Identity
			if raw := os.Getenv("DOCQA_API_TOKENS"); raw != "" {
				tokens, err := server.ParseTokens(raw)
				if err != nil {
					return fmt.Errorf("serve: DOCQA_API_TOKENS: %w", err)
				}
				identity = server.NewTokenIdentity(tokens)
				log.Info("identity: bearer tokens configured", slog.Int("owners", len(tokens)))
			}

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCQA_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("DOCQA_PORT", port)
			}

			srv, err := server.New(svc, &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				Pingers:     b.pingers,
				RateLimit:   getEnvFloat("DOCQA_RATE_LIMIT", 0),
				RateBurst:   getEnvInt("DOCQA_RATE_BURST", 0),
				Identity:    identity,
				Transcripts: openTranscripts(b, log),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

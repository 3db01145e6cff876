// Package tracing sends the chat model calls made while answering questions
// to Langfuse. Embedding calls are not traced. Tracing is opt-in: without
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY nothing is installed.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/docqa-go/internal/version"
)

const defaultHost = "http://localhost:3000"

// Setup builds the Langfuse callback handler for the named trace source. ok
// is false, and both other results nil, when the keys are not configured.
// flush must run before exit or buffered traces are lost.
func Setup(name string) (handler callbacks.Handler, flush func(), ok bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      name,
		Release:   version.Version,
	})
	return handler, flush, true
}

// Install registers the handler from Setup globally for every eino component
// and returns the flush function, a no-op when tracing is off.
func Install(log *slog.Logger, name string) func() {
	handler, flush, ok := Setup(name)
	if !ok {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled", slog.String("trace_name", name))
	return flush
}

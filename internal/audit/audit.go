// Package audit writes one structured log line per CLI invocation and per
// tenant-scoped action, so an operator can reconstruct who ingested or
// queried which collection with which backends. Secret values are reduced to
// "set" or "unset".
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// secretSuffixes marks an environment variable as a credential.
var secretSuffixes = []string{"_KEY", "_TOKEN", "_TOKENS", "_DSN", "_SECRET"}

// trackedEnv is the ordered set of variables recorded on command start.
var trackedEnv = []string{
	"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL",
	"OPENAI_API_KEY", "OPENAI_MODEL",
	"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
	"GOOGLE_API_KEY", "GEMINI_MODEL",
	"ARK_API_KEY", "ARK_MODEL",
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "HF_API_TOKEN",
	"VECTOR_BACKEND", "QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION", "QDRANT_API_KEY",
	"POSTGRES_DSN", "VECTOR_DB_PATH",
	"DOCQA_DB", "DOCQA_TRANSCRIPT_DB", "DOCQA_API_TOKENS",
	"INGEST_CONCURRENCY", "RAG_TOP_K",
	"LOG_LEVEL", "LOG_FORMAT",
	"LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
}

// IsSecret reports whether key names a credential.
func IsSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// SanitiseKey returns value, or only its presence when key is a secret.
func SanitiseKey(key, value string) string {
	if value == "" {
		return "unset"
	}
	if IsSecret(key) {
		return "set"
	}
	return value
}

// LogCommandStart records the command, the config file it loaded and the
// backend selection taken from the environment.
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(trackedEnv)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, key := range trackedEnv {
		attrs = append(attrs, slog.String(key, SanitiseKey(key, os.Getenv(key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// LogTenantAccess records a command acting on one owner's data. collection
// is empty for owner-wide actions such as listing.
func LogTenantAccess(log *slog.Logger, command, ownerID, collection string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("owner_id", ownerID),
	}
	if collection != "" {
		attrs = append(attrs, slog.String("collection", collection))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: tenant access", attrs...)
}

// sanitiseConfigPath shortens the home directory to "~".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}

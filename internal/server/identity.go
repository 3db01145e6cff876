package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// OwnerHeader carries the caller's owner ID when HeaderIdentity is in use.
const OwnerHeader = "X-Owner-ID"

// Identity resolves the owner making a request. ok is false when the request
// carries no acceptable credential.
type Identity interface {
	Caller(r *http.Request) (ownerID string, ok bool)
}

// TokenIdentity maps Bearer tokens to owner IDs.
type TokenIdentity struct {
	tokens map[string]string
}

// NewTokenIdentity returns an Identity backed by the token → owner map.
func NewTokenIdentity(tokens map[string]string) *TokenIdentity {
	return &TokenIdentity{tokens: tokens}
}

// ParseTokens parses "tok1=owner1,tok2=owner2" as read from DOCQA_API_TOKENS.
func ParseTokens(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, owner, ok := strings.Cut(pair, "=")
		tok, owner = strings.TrimSpace(tok), strings.TrimSpace(owner)
		if !ok || tok == "" || owner == "" {
			return nil, fmt.Errorf("server: malformed token entry %q: want token=owner", pair)
		}
		out[tok] = owner
	}
	return out, nil
}

// Caller implements Identity.
func (t *TokenIdentity) Caller(r *http.Request) (string, bool) {
	tok := bearerToken(r)
	if tok == "" {
		return "", false
	}
	owner, ok := t.tokens[tok]
	return owner, ok
}

// HeaderIdentity trusts the X-Owner-ID header. Development only: anyone can
// claim any owner.
type HeaderIdentity struct{}

// Caller implements Identity.
func (HeaderIdentity) Caller(r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	return owner, owner != ""
}

type ownerKey struct{}

// withOwner returns a copy of ctx carrying the resolved owner ID.
func withOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// ownerFrom returns the owner ID stored by identityMiddleware, or "".
func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// identityMiddleware resolves the caller before any handler runs. Requests
// without a recognised credential receive 401 with a WWW-Authenticate
// challenge. Token values are never logged.
func identityMiddleware(id Identity, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		owner, ok := id.Caller(r)
		if !ok {
			log.Warn("identity: request rejected",
				slog.String("path", r.URL.Path),
				slog.Bool("credential_present", r.Header.Get("Authorization") != "" || r.Header.Get(OwnerHeader) != ""),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="docqa"`)
			writeError(w, r, fmt.Errorf("server: %w", rag.ErrUnauthenticated))
			return
		}

		ctx, _ := logging.With(withOwner(r.Context(), owner), slog.String("owner_id", owner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func quietLimiter(t *testing.T, rps float64, burst int) *rateLimiter {
	t.Helper()
	rl, stop := newRateLimiter(rps, burst, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(stop)
	return rl
}

func hit(h http.Handler, method, path, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstPassesThrough(t *testing.T) {
	t.Parallel()

	h := quietLimiter(t, 100, 5).middleware("collections", okHandler)
	for i := range 5 {
		if w := hit(h, http.MethodGet, "/api/collections", "127.0.0.1:12345"); w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestRateLimit_RejectsOverBurst(t *testing.T) {
	t.Parallel()

	rl := quietLimiter(t, 0.001, 2)
	var rejected []string
	rl.onReject = func(handler string) { rejected = append(rejected, handler) }
	h := rl.middleware("query", okHandler)

	hit(h, http.MethodPost, "/api/query", "10.0.0.2:1234")
	hit(h, http.MethodPost, "/api/query", "10.0.0.2:1234")
	w := hit(h, http.MethodPost, "/api/query", "10.0.0.2:1234")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra != "1" {
		t.Errorf("Retry-After: expected 1, got %q", ra)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	if got := decodeError(t, w).Error; got != "rate_limited" {
		t.Errorf("error: expected rate_limited, got %q", got)
	}
	if len(rejected) != 1 || rejected[0] != "query" {
		t.Errorf("onReject: expected [query], got %v", rejected)
	}
}

// Exhausting one client's bucket must not affect another client.
func TestRateLimit_ClientsIsolated(t *testing.T) {
	t.Parallel()

	h := quietLimiter(t, 0.001, 1).middleware("collections", okHandler)
	for range 5 {
		hit(h, http.MethodGet, "/api/collections", "192.168.1.1:1111")
	}
	if w := hit(h, http.MethodGet, "/api/collections", "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_SweepDropsIdleClients(t *testing.T) {
	t.Parallel()

	rl := quietLimiter(t, 1, 1)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	now = now.Add(clientIdleTTL + time.Second)
	rl.allow("10.0.0.2")

	if n := rl.sweep(); n != 1 {
		t.Fatalf("expected 1 active client after sweep, got %d", n)
	}
	if _, ok := rl.buckets["10.0.0.2"]; !ok {
		t.Error("recent client was swept")
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"::1:8080", "::1"},
		{"noport", "noport"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.want, got)
		}
	}
}

package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-client rate on API endpoints.
	defaultRateLimit = 10
	// defaultRateBurst lets a client fire a short batch of queries at once.
	defaultRateBurst = 20

	// clientIdleTTL is how long a client's bucket survives without traffic.
	clientIdleTTL = 5 * time.Minute
	// sweepInterval is how often idle buckets are dropped.
	sweepInterval = time.Minute
)

// bucket is one client's token bucket.
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles API calls per client address. Ingestion is the
// expensive path (one embedding call per chunk), so the limit sits in front
// of identity resolution and the service.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	rps   rate.Limit
	burst int
	log   *slog.Logger

	// onReject is called once per throttled request with the handler name.
	onReject func(handler string)

	now func() time.Time
}

// newRateLimiter starts a limiter and its idle sweeper. The returned stop
// function ends the sweeper and must be called exactly once.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[string]*bucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
		onReject: func(string) {},
		now:      time.Now,
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				n := rl.sweep()
				rl.log.Debug("rate limiter swept idle clients", slog.Int("active", n))
			}
		}
	}()
	return rl, func() { close(done) }
}

// allow spends one token from addr's bucket.
func (rl *rateLimiter) allow(addr string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[addr]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[addr] = b
	}
	b.lastSeen = rl.now()
	rl.mu.Unlock()
	return b.lim.Allow()
}

// sweep drops buckets idle for longer than clientIdleTTL and returns how
// many remain.
func (rl *rateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-clientIdleTTL)
	for addr, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, addr)
		}
	}
	return len(rl.buckets)
}

// middleware rejects over-limit requests to handler with 429 and a JSON
// error body.
func (rl *rateLimiter) middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientIP(r)
		if rl.allow(addr) {
			next.ServeHTTP(w, r)
			return
		}
		rl.onReject(handler)
		logging.FromContext(r.Context()).Warn("request throttled",
			slog.String("client", addr),
			slog.String("handler", handler),
		)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
			Error:   "rate_limited",
			Message: "too many requests; slow down",
		})
	})
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored;
// behind a proxy every client shares the proxy's bucket.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i > 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}

package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Defaults applied by NewReliable when the corresponding RetryConfig field is zero.
const (
	DefaultMaxAttempts     = 3
	DefaultCallTimeout     = 30 * time.Second
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
)

// RetryConfig tunes the Reliable wrapper.
type RetryConfig struct {
	// MaxAttempts bounds the number of calls per text, including the first.
	MaxAttempts int
	// CallTimeout bounds each individual call to the wrapped embedder.
	CallTimeout time.Duration
	// InitialInterval and MaxInterval shape the exponential backoff between
	// attempts.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RequestsPerSecond paces outgoing calls with a token bucket. 0 disables
	// pacing.
	RequestsPerSecond float64
	// Burst is the token bucket size (default 1).
	Burst int
	// Dimensions, when positive, rejects vectors of any other length.
	Dimensions int
}

// Reliable wraps an embedder with pacing, a per-call timeout, bounded retry
// of transient failures, and error classification. Rate-limit responses are
// never retried; they are returned at once so ingestion can abort.
type Reliable struct {
	inner   rag.Embedder
	cfg     RetryConfig
	limiter *rate.Limiter
}

// NewReliable constructs a Reliable around inner.
func NewReliable(inner rag.Embedder, cfg RetryConfig) *Reliable {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	r := &Reliable{inner: inner, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return r
}

// Embed implements rag.Embedder. The returned error, if any, wraps either
// rag.ErrRateLimited or rag.ErrEmbeddingService.
func (r *Reliable) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", rag.ErrEmbeddingService)
	}

	var vec []float32
	attempt := 0
	op := func() error {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(Classify(err))
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()

		v, err := r.inner.Embed(callCtx, text)
		if err != nil {
			classified := Classify(err)
			if errors.Is(classified, rag.ErrRateLimited) || ctx.Err() != nil {
				return backoff.Permanent(classified)
			}
			return classified
		}
		if len(v) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: empty vector", rag.ErrEmbeddingService))
		}
		if r.cfg.Dimensions > 0 && len(v) != r.cfg.Dimensions {
			return backoff.Permanent(fmt.Errorf("%w: got %d dimensions, want %d",
				rag.ErrEmbeddingService, len(v), r.cfg.Dimensions))
		}
		vec = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).Debug("embedder: retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, Classify(err)
	}
	return vec, nil
}

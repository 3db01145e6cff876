package server

import (
	"context"
	"fmt"
)

// funcPinger adapts a probe function to the Pinger interface.
type funcPinger struct {
	// name identifies the dependency in readiness responses (e.g. "qdrant").
	name string
	// fn performs the probe.
	fn func(ctx context.Context) error
}

// NewPinger returns a Pinger named name that calls fn. Vector stores, the
// ownership ledger, and the embedder all expose a Ping-shaped method that
// can be passed here directly.
func NewPinger(name string, fn func(ctx context.Context) error) Pinger {
	return &funcPinger{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *funcPinger) Name() string { return p.name }

// Ping runs the probe.
func (p *funcPinger) Ping(ctx context.Context) error {
	if err := p.fn(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

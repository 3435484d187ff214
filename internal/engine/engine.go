package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/indextts-gateway/internal/config"
	"github.com/lexiqai/indextts-gateway/internal/core"
	"github.com/lexiqai/indextts-gateway/internal/resilience"
)

// New builds the engine selected by cfg.EngineMode. The gRPC engine is
// returned only after the sidecar has answered a health probe.
func New(ctx context.Context, cfg *config.Config) (core.Engine, error) {
	switch cfg.EngineMode {
	case config.EngineModeMock:
		return NewMock(cfg.MockSampleRate), nil

	case config.EngineModeExec:
		return NewExec(cfg.EngineCommand)

	case config.EngineModeGRPC:
		g, err := NewGRPC(GRPCOptions{
			Target:      cfg.EngineURL,
			TLS:         cfg.EngineTLSEnabled,
			DialTimeout: time.Duration(cfg.EngineDialTimeout) * time.Second,
			Breaker: resilience.NewCircuitBreaker("engine",
				cfg.CircuitBreakerMaxFailures,
				time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
			Retry: &resilience.RetryConfig{
				MaxAttempts:       cfg.RetryMaxAttempts,
				InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
				MaxBackoff:        5 * time.Second,
				BackoffMultiplier: 2.0,
			},
		})
		if err != nil {
			return nil, err
		}
		reconnect := &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		}
		if err := g.WaitReady(ctx, reconnect); err != nil {
			g.Close()
			return nil, fmt.Errorf("engine at %s is not ready: %w", cfg.EngineURL, err)
		}
		return g, nil
	}
	return nil, fmt.Errorf("unknown engine mode %q", cfg.EngineMode)
}

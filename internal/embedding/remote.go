package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// ProviderFunc is the pluggable remote backend: a caller-supplied function
// that turns text into a raw vector, typically an HTTP client owned by a
// collaborator outside the core.
type ProviderFunc func(ctx context.Context, text string) ([]float32, error)

// minRemoteInputLen is the input length below which the remote provider is
// skipped in favor of the deterministic fallback — short fragments embed
// into noise anyway.
const minRemoteInputLen = 3

// RemoteAdapter calls a provider function behind a circuit breaker and
// degrades to the deterministic fallback when the provider fails or the
// breaker is open. It therefore never fails a write path: Embed only errors
// when the provider result has the wrong dimension.
type RemoteAdapter struct {
	provider ProviderFunc
	fallback *FallbackAdapter
	breaker  *gobreaker.CircuitBreaker
	model    string
	dim      int
}

// RemoteConfig tunes the circuit breaker.
type RemoteConfig struct {
	MaxFailures          uint32        // consecutive failures to trip (default 3)
	Timeout              time.Duration // open -> half-open delay (default 30s)
	HalfOpenMaxSuccesses uint32        // successes to close again (default 2)
}

// NewRemoteAdapter wires the provider behind a breaker with the fallback of
// the same dimension. model names the remote model for provenance.
func NewRemoteAdapter(provider ProviderFunc, model string, dim int, cfg RemoteConfig) (*RemoteAdapter, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding: provider function is required")
	}
	if dim < 1 {
		dim = DefaultDimension
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxSuccesses == 0 {
		cfg.HalfOpenMaxSuccesses = 2
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbeddingProvider",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	})

	return &RemoteAdapter{
		provider: provider,
		fallback: NewFallbackAdapter(dim),
		breaker:  breaker,
		model:    model,
		dim:      dim,
	}, nil
}

// Embed calls the provider through the breaker. Provider failures, open
// breaker, and too-short inputs all degrade to the deterministic fallback.
func (r *RemoteAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(strings.TrimSpace(text)) < minRemoteInputLen {
		return r.fallback.Embed(ctx, text)
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vec, err := r.provider(ctx, text)
		if err != nil {
			return nil, classifyProviderError(err)
		}
		if len(vec) != r.dim {
			// A mis-sized vector is a configuration problem, not a
			// transient outage — surface it rather than hashing over it.
			return nil, model.EmbeddingDimMismatchError(r.dim, len(vec))
		}
		return vec, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrEmbeddingDimMismatch) {
			return nil, err
		}
		return r.fallback.Embed(ctx, text)
	}
	return l2Normalize(result.([]float32)), nil
}

// Dimension returns the configured vector width.
func (r *RemoteAdapter) Dimension() int { return r.dim }

// ModelName returns the remote model's name.
func (r *RemoteAdapter) ModelName() string { return r.model }

// classifyProviderError maps raw provider failures onto the error taxonomy
// so callers can tell auth problems from rate limits from plain outages.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "forbidden"):
		return fmt.Errorf("%w: %v", model.ErrAuthentication, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", model.ErrRateLimitExceeded, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
}

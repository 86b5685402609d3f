// Package resilience bounds calls to external extraction vendors with a
// timeout, a request-rate limit and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds guard settings for one vendor
type Config struct {
	Name string

	// Timeout bounds each call (0 = no per-call deadline)
	Timeout time.Duration

	// RequestsPerMinute - steady request rate (0 = unlimited)
	RequestsPerMinute int

	// Burst size for rate limiter
	Burst int

	// MaxFailures - consecutive failures that open the breaker (0 = 5)
	MaxFailures int

	// Cooldown before an open breaker lets a trial request through (0 = 30s)
	Cooldown time.Duration
}

// Guard wraps vendor calls. A nil *Guard runs calls unguarded.
type Guard struct {
	config  Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// New creates a guard
func New(cfg Config, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	g := &Guard{config: cfg, logger: logger}

	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, cfg.RequestsPerMinute/10)
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	maxFailures := uint32(cfg.MaxFailures)
	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up says nothing about vendor health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("vendor", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return g
}

// Name returns the guarded vendor name
func (g *Guard) Name() string {
	if g == nil {
		return ""
	}
	return g.config.Name
}

// State reports the breaker state
func (g *Guard) State() gobreaker.State {
	if g == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}

// Do runs fn under g's deadline, rate limit and breaker.
func Do[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g == nil {
		return fn(ctx)
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("%s: rate limit wait: %w", g.config.Name, err)
		}
	}

	out, err := g.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", g.config.Name, err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: call timed out after %s: %w", g.config.Name, g.config.Timeout, err)
		}
		return zero, err
	}

	result, _ := out.(T)
	return result, nil
}

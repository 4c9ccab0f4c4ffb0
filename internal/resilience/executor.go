// Package resilience wraps calls to remote services (embedding, generation,
// scoring) with retry and a per-operation circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Config tunes retries and breakers. Zero fields take defaults.
type Config struct {
	RetryMaxAttempts    int           `yaml:"retry_max_attempts" json:"retry_max_attempts"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff" json:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff" json:"retry_max_backoff"`
	RetryMultiplier     float64       `yaml:"retry_multiplier" json:"retry_multiplier"`

	BreakerEnabled          bool          `yaml:"breaker_enabled" json:"breaker_enabled"`
	BreakerMinRequests      uint32        `yaml:"breaker_min_requests" json:"breaker_min_requests"`
	BreakerFailureRatio     float64       `yaml:"breaker_failure_ratio" json:"breaker_failure_ratio"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout" json:"breaker_open_timeout"`
	BreakerHalfOpenMaxCalls uint32        `yaml:"breaker_half_open_max_calls" json:"breaker_half_open_max_calls"`
}

// DefaultConfig keeps retries short: remote calls sit on the query path.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:        2,
		RetryInitialBackoff:     100 * time.Millisecond,
		RetryMaxBackoff:         time.Second,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = d.RetryMaxAttempts
	}
	if c.RetryInitialBackoff < 0 {
		c.RetryInitialBackoff = 0
	}
	if c.RetryMaxBackoff <= 0 {
		c.RetryMaxBackoff = d.RetryMaxBackoff
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = d.RetryMultiplier
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = d.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = d.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = d.BreakerOpenTimeout
	}
	if c.BreakerHalfOpenMaxCalls == 0 {
		c.BreakerHalfOpenMaxCalls = d.BreakerHalfOpenMaxCalls
	}
	return c
}

// Classification tells the executor what to do with an error.
type Classification struct {
	Retryable     bool
	RecordFailure bool
}

// Classifier classifies errors returned by an operation.
type Classifier func(err error) Classification

// DefaultClassifier retries retryable AmanErrors. Caller cancellation is
// neither retried nor held against the remote service.
func DefaultClassifier(err error) Classification {
	if errors.Is(err, context.Canceled) {
		return Classification{}
	}
	return Classification{Retryable: amanerrors.IsRetryable(err), RecordFailure: true}
}

// Executor runs operations with retry inside a named circuit breaker.
// It is safe for concurrent use and shared by all remote adapters.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn under operation's breaker. A nil Executor runs fn once.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classifier Classifier) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	if e == nil {
		return fn(ctx)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = DefaultClassifier
	}

	if !e.cfg.BreakerEnabled {
		return e.retry(ctx, op, fn, classifier)
	}
	_, err := e.breaker(op, classifier).Execute(func() (any, error) {
		return nil, e.retry(ctx, op, fn, classifier)
	})
	if IsCircuitOpen(err) {
		return amanerrors.New(amanerrors.ErrCodeNetworkUnavailable, "circuit open for "+op, err).
			WithDetail("operation", op)
	}
	return err
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, nil)
	return out, err
}

func (e *Executor) retry(ctx context.Context, op string, fn func(context.Context) error, classifier Classifier) error {
	attempt := 0
	cfg := amanerrors.RetryConfig{
		MaxRetries:   e.cfg.RetryMaxAttempts - 1,
		InitialDelay: e.cfg.RetryInitialBackoff,
		MaxDelay:     e.cfg.RetryMaxBackoff,
		Multiplier:   e.cfg.RetryMultiplier,
		Jitter:       true,
		RetryIf: func(err error) bool {
			if !classifier(err).Retryable {
				return false
			}
			if attempt < e.cfg.RetryMaxAttempts {
				slog.Warn("retry_attempt",
					slog.String("operation", op),
					slog.Int("attempt", attempt),
					slog.Int("max_attempts", e.cfg.RetryMaxAttempts),
					slog.String("error", err.Error()))
			}
			return true
		},
	}
	return amanerrors.Retry(ctx, cfg, func(ctx context.Context) error {
		attempt++
		return fn(ctx)
	})
}

func (e *Executor) breaker(op string, classifier Classifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[op]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        op,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change",
				slog.String("operation", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	e.breakers[op] = b
	return b
}

// State reports the breaker state for op, or closed if it was never used.
func (e *Executor) State(op string) gobreaker.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.breakers[op]; ok {
		return b.State()
	}
	return gobreaker.StateClosed
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

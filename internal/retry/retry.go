// Package retry runs an operation until it succeeds, fails fatally, or runs
// out of attempts. Operations signal a transient failure by returning a
// *pcserr.RetriableError; any other non-nil error stops the loop at once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/netheos/pcsgo/internal/pcserr"
)

// Defaults used by storage builders when no configuration overrides them.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 5 * time.Minute
)

// Config holds the tunables of a Strategy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps computed backoff. Zero disables the cap. Explicit delays
	// carried by a RetriableError are never capped.
	MaxDelay time.Duration
}

// Observer is notified of retry decisions. Used for metrics.
type Observer interface {
	Retrying(attempt int, delay time.Duration, err error)
	Exhausted(attempts int, err error)
}

// Strategy retries operations with exponential backoff and ±50% jitter.
// A Strategy is safe for concurrent use; it keeps no per-call state.
type Strategy struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer

	// sleepFunc waits between attempts. Tests override it to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// randFunc returns a value in [0, 1) used for jitter.
	randFunc func() float64
}

// New returns a Strategy. MaxAttempts below 1 is treated as 1.
func New(cfg Config, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &Strategy{
		cfg:       cfg,
		logger:    logger,
		sleepFunc: timeSleep,
		randFunc:  rand.Float64, //nolint:gosec // jitter does not need crypto rand
	}
}

// Default returns a Strategy with DefaultMaxAttempts and DefaultBaseDelay.
func Default(logger *slog.Logger) *Strategy {
	return New(Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}, logger)
}

// NoRetry returns a single-attempt Strategy. A retriable failure is unwrapped
// and returned as fatal, for callers that are themselves wrapped by an outer
// retry loop.
func NoRetry() *Strategy {
	return New(Config{MaxAttempts: 1}, nil)
}

// SetObserver installs o. It must be called before the Strategy is shared.
func (s *Strategy) SetObserver(o Observer) {
	s.observer = o
}

// MaxAttempts returns the attempt budget.
func (s *Strategy) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

// Do invokes fn until it returns a nil error or a non-retriable error, or
// the attempt budget is spent. When the budget is spent the cause wrapped
// by the last RetriableError is returned. A context cancelled while sleeping
// yields an error matching both pcserr.ErrRetryInterrupted and ctx.Err().
func Do[T any](ctx context.Context, s *Strategy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var re *pcserr.RetriableError
		if !errors.As(err, &re) {
			return zero, err
		}

		cause := re.Err
		if cause == nil {
			cause = re
		}

		if attempt >= s.cfg.MaxAttempts {
			if s.cfg.MaxAttempts > 1 {
				s.logger.Error("retries exhausted",
					slog.Int("attempts", attempt),
					slog.String("error", cause.Error()),
				)
			}

			if s.observer != nil {
				s.observer.Exhausted(attempt, cause)
			}

			return zero, cause
		}

		delay := re.Delay
		if delay < 0 {
			delay = s.Backoff(attempt)
		}

		s.logger.Warn("retrying after transient error",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", cause.Error()),
		)

		if s.observer != nil {
			s.observer.Retrying(attempt, delay, cause)
		}

		if err := s.sleepFunc(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w: %w", pcserr.ErrRetryInterrupted, err)
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, s *Strategy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}

// Backoff returns the wait before attempt+1:
// base * (rand + 0.5) * 2^(attempt-1), capped by MaxDelay when set and
// saturating at the largest Duration.
func (s *Strategy) Backoff(attempt int) time.Duration {
	d := float64(s.cfg.BaseDelay) * (s.randFunc() + 0.5) * math.Pow(2, float64(attempt-1))

	if s.cfg.MaxDelay > 0 && d > float64(s.cfg.MaxDelay) {
		return s.cfg.MaxDelay
	}

	// Without a cap, late attempts exceed what a Duration can hold.
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(d)
}

// timeSleep waits for d or until ctx is done.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

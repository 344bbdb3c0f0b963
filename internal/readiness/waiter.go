package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Observer is notified after every probe attempt.
type Observer func(target string, attempt int, err error)

// Waiter probes dependencies until they accept connections or the policy is exhausted.
type Waiter struct {
	policy   Policy
	logger   *zap.Logger
	observer Observer
}

// WaiterOption configures Waiter behaviour.
type WaiterOption func(*Waiter)

// WithObserver registers a callback invoked after each attempt.
func WithObserver(observer Observer) WaiterOption {
	return func(w *Waiter) {
		w.observer = observer
	}
}

// NewWaiter constructs a Waiter for the given policy.
func NewWaiter(policy Policy, logger *zap.Logger, opts ...WaiterOption) *Waiter {
	w := &Waiter{
		policy: policy,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait probes until the first success. It returns the number of attempts
// made. After MaxAttempts failures the error wraps ErrNotReady and the last
// probe error. The first probe runs without delay.
func (w *Waiter) Wait(ctx context.Context, probe Probe) (int, error) {
	if err := w.policy.Validate(); err != nil {
		return 0, fmt.Errorf("invalid wait policy: %w", err)
	}

	target := probe.Name()
	logger := w.logger.With(zap.String("target", target))
	progress := rate.Sometimes{First: 3, Interval: 10 * time.Second}
	start := time.Now()
	attempts := 0

	err := retry.Do(ctx, w.policy.Backoff(), func(ctx context.Context) error {
		attempts++
		err := probe.Probe(ctx)
		if w.observer != nil {
			w.observer(target, attempts, err)
		}
		if err == nil {
			return nil
		}

		logger.Debug("dependency not ready", zap.Int("attempt", attempts), zap.Error(err))
		progress.Do(func() {
			logger.Info("waiting for dependency",
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", w.policy.MaxAttempts),
				zap.String("last_error", err.Error()),
			)
		})
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		logger.Info("dependency ready", zap.Int("attempts", attempts), zap.Duration("waited", time.Since(start)))
		return attempts, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			return attempts, fmt.Errorf("wait for %s: %w", target, ctx.Err())
		}
	}
	return attempts, &NotReadyError{Target: target, Attempts: attempts, Err: err}
}

// WaitAll waits for each probe in order and stops at the first failure.
func (w *Waiter) WaitAll(ctx context.Context, probes ...Probe) error {
	for _, probe := range probes {
		if _, err := w.Wait(ctx, probe); err != nil {
			return err
		}
	}
	return nil
}

package readiness

import (
	"errors"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds how long the waiter keeps probing.
type Policy struct {
	// MaxAttempts is the total number of probes, including the first.
	MaxAttempts int
	// Delay is the pause after the first failed probe.
	Delay time.Duration
	// Multiplier grows the pause after each failure; 1 keeps it constant.
	Multiplier float64
	// MaxDelay caps a single pause. Zero means uncapped.
	MaxDelay time.Duration
	// Jitter randomly shifts each pause by up to +/- Jitter.
	Jitter time.Duration
}

// DefaultPolicy probes 60 times, one second apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 60,
		Delay:       time.Second,
		Multiplier:  1,
	}
}

// Validate reports whether the policy can be turned into a backoff.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("max attempts must be at least 1")
	case p.Delay <= 0:
		return errors.New("delay must be positive")
	case p.Multiplier < 1:
		return errors.New("multiplier must be at least 1")
	case p.MaxDelay < 0:
		return errors.New("max delay must not be negative")
	case p.Jitter < 0:
		return errors.New("jitter must not be negative")
	}
	return nil
}

// Backoff builds a fresh go-retry backoff for one wait. Backoffs are
// stateful, so each wait needs its own.
func (p Policy) Backoff() retry.Backoff {
	var b retry.Backoff
	if p.Multiplier <= 1 {
		b = retry.NewConstant(p.Delay)
	} else {
		b = multiplierBackoff(p.Delay, p.Multiplier)
	}
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

func multiplierBackoff(base time.Duration, multiplier float64) retry.Backoff {
	next := float64(base)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		current := next
		next *= multiplier
		if current >= math.MaxInt64 {
			return time.Duration(math.MaxInt64), false
		}
		return time.Duration(current), false
	})
}

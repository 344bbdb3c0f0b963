package readiness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func drain(p Policy) []time.Duration {
	b := p.Backoff()
	var out []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			return out
		}
		out = append(out, d)
	}
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.NoError(t, p.Validate())
	assert.Equal(t, 60, p.MaxAttempts)
	assert.Equal(t, time.Second, p.Delay)

	delays := drain(p)
	assert.Len(t, delays, 59, "60 attempts means 59 pauses")
	for _, d := range delays {
		assert.Equal(t, time.Second, d)
	}
}

func TestPolicyBackoffMultiplierAndCap(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 5, Delay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 30 * time.Millisecond}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		30 * time.Millisecond,
	}, drain(p))
}

func TestPolicyBackoffJitterStaysInBounds(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 20, Delay: 100 * time.Millisecond, Multiplier: 1, Jitter: 10 * time.Millisecond}
	for _, d := range drain(p) {
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}

func TestPolicyBackoffIsFreshPerCall(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 3, Delay: time.Millisecond, Multiplier: 3}
	assert.Equal(t, drain(p), drain(p))
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy Policy
		ok     bool
	}{
		{"default", DefaultPolicy(), true},
		{"zero attempts", Policy{MaxAttempts: 0, Delay: time.Second, Multiplier: 1}, false},
		{"zero delay", Policy{MaxAttempts: 1, Multiplier: 1}, false},
		{"shrinking multiplier", Policy{MaxAttempts: 1, Delay: time.Second, Multiplier: 0.5}, false},
		{"negative cap", Policy{MaxAttempts: 1, Delay: time.Second, Multiplier: 1, MaxDelay: -1}, false},
		{"negative jitter", Policy{MaxAttempts: 1, Delay: time.Second, Multiplier: 1, Jitter: -1}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.policy.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

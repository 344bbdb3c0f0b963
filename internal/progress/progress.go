package progress

import (
	"errors"
	"sync"
	"time"
)

// ErrUnknownStep is returned when a step was not registered with the tracker.
var ErrUnknownStep = errors.New("unknown step")

// State is the lifecycle state of a bootstrap step.
type State string

// Step states.
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Step is the recorded state of one bootstrap step.
type Step struct {
	Name       string     `json:"name"`
	State      State      `json:"state"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// Snapshot is a point-in-time copy of the tracker.
type Snapshot struct {
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
	Current   string    `json:"current,omitempty"`
	Steps     []Step    `json:"steps"`
}

// Reader exposes tracker snapshots.
type Reader interface {
	Snapshot() Snapshot
}

// Tracker records step transitions.
type Tracker interface {
	Reader
	Start(name string) error
	Finish(name string, err error) error
	Skip(name, reason string) error
}

// MemoryTracker keeps step state in memory and guards access with a RWMutex.
type MemoryTracker struct {
	mu        sync.RWMutex
	runID     string
	startedAt time.Time
	current   string
	steps     []Step
	index     map[string]int
	clock     func() time.Time
}

// NewMemoryTracker registers the given steps in order, all pending.
func NewMemoryTracker(runID string, steps []string, clock func() time.Time) *MemoryTracker {
	if clock == nil {
		clock = time.Now
	}
	t := &MemoryTracker{
		runID:     runID,
		startedAt: clock(),
		steps:     make([]Step, 0, len(steps)),
		index:     make(map[string]int, len(steps)),
		clock:     clock,
	}
	for _, name := range steps {
		if _, ok := t.index[name]; ok {
			continue
		}
		t.index[name] = len(t.steps)
		t.steps = append(t.steps, Step{Name: name, State: StatePending})
	}
	return t
}

// Start marks a step as running and makes it the current step.
func (t *MemoryTracker) Start(name string) error {
	return t.update(name, func(s *Step, now time.Time) {
		s.State = StateRunning
		s.StartedAt = &now
		s.FinishedAt = nil
		s.Detail = ""
		t.current = name
	})
}

// Finish marks a step as succeeded, or failed when err is non-nil.
func (t *MemoryTracker) Finish(name string, err error) error {
	return t.update(name, func(s *Step, now time.Time) {
		s.State = StateSucceeded
		s.Detail = ""
		if err != nil {
			s.State = StateFailed
			s.Detail = err.Error()
		}
		s.FinishedAt = &now
		if t.current == name {
			t.current = ""
		}
	})
}

// Skip marks a step as skipped with a reason.
func (t *MemoryTracker) Skip(name, reason string) error {
	return t.update(name, func(s *Step, now time.Time) {
		s.State = StateSkipped
		s.Detail = reason
		s.FinishedAt = &now
	})
}

// Snapshot returns a defensive copy of the tracked state.
func (t *MemoryTracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	steps := make([]Step, len(t.steps))
	for i, s := range t.steps {
		steps[i] = Step{
			Name:       s.Name,
			State:      s.State,
			StartedAt:  cloneTime(s.StartedAt),
			FinishedAt: cloneTime(s.FinishedAt),
			Detail:     s.Detail,
		}
	}

	return Snapshot{
		RunID:     t.runID,
		StartedAt: t.startedAt,
		Current:   t.current,
		Steps:     steps,
	}
}

func (t *MemoryTracker) update(name string, fn func(*Step, time.Time)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[name]
	if !ok {
		return ErrUnknownStep
	}
	fn(&t.steps[i], t.clock())
	return nil
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}

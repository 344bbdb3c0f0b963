package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/eugenenazirov/django-entrypoint/internal/progress"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Overall run states reported by the status endpoint.
const (
	runStateRunning   = "running"
	runStateFailed    = "failed"
	runStateCompleted = "completed"
)

// Handler serves bootstrap progress.
type Handler struct {
	progress progress.Reader
	clock    func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler reading from the given progress source.
func NewHandler(reader progress.Reader, opts ...HandlerOption) *Handler {
	h := &Handler{
		progress: reader,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if h.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "no bootstrap run is being tracked")
		return
	}

	snap := h.progress.Snapshot()
	resp := statusResponse{
		Snapshot:  snap,
		State:     runState(snap.Steps),
		Timestamp: h.clock(),
		Uptime:    h.clock().Sub(snap.StartedAt).Round(time.Millisecond).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func runState(steps []progress.Step) string {
	done := true
	for _, step := range steps {
		switch step.State {
		case progress.StateFailed:
			return runStateFailed
		case progress.StatePending, progress.StateRunning:
			done = false
		}
	}
	if done {
		return runStateCompleted
	}
	return runStateRunning
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type statusResponse struct {
	progress.Snapshot
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}

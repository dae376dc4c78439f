package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Priority orders draining: high before normal before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// ParsePriority maps a name to a Priority; unknown names are normal.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityLow:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// Request is a persisted, not-yet-sent mutating call.
type Request struct {
	ID         string            `json:"id"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Priority   Priority          `json:"priority"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	Attempts   int               `json:"attempts"`
	LastError  string            `json:"lastError,omitempty"`
	// Seq is the enqueue order. It orders requests of equal priority, so a
	// wall clock stepping backwards cannot reorder them.
	Seq uint64 `json:"seq"`
}

// Executor sends one queued request. A nil error removes it from the queue.
type Executor func(ctx context.Context, req Request) error

// DrainResult summarizes one pass over the queue.
type DrainResult struct {
	Attempted    int
	Sent         int
	Failed       int
	DeadLettered int
	// Interrupted is set when connectivity dropped mid-drain.
	Interrupted bool
	// Err is set by DrainAsync when the drain was skipped or stopped early,
	// e.g. ErrDrainInProgress.
	Err error
}

var (
	ErrNotFound        = errors.New("queue: request not found")
	ErrNoExecutor      = errors.New("queue: no executor registered")
	ErrDrainInProgress = errors.New("queue: drain already in progress")
)

package triage

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

// Task is one unit of classification work: a normalized pull-request signal
// plus the webhook action that produced it. Tasks travel either inline or
// through the broker in queued mode.
type Task struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Signal     pr.Signal `json:"signal"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask wraps a signal into a task with a fresh ULID.
func NewTask(action string, signal pr.Signal) *Task {
	return &Task{
		ID:         ulid.Make().String(),
		Action:     action,
		Signal:     signal,
		EnqueuedAt: time.Now().UTC(),
	}
}

// ProcessStatus is the terminal state of one chain execution.
type ProcessStatus string

const (
	// StatusPersisted means a new verdict was stored (and a comment attempted).
	StatusPersisted ProcessStatus = "persisted"

	// StatusSkipped means the PR already had a verdict; nothing was written.
	StatusSkipped ProcessStatus = "skipped"
)

// ProcessResult reports what the chain did with a task.
type ProcessResult struct {
	Status         ProcessStatus      `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	VerdictID      int64              `json:"verdict_id,omitempty"`
	Classification *pr.Classification `json:"classification,omitempty"`
	CommentPosted  bool               `json:"comment_posted"`
}

package models

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a queued job
type JobState string

const (
	JobStateQueued       JobState = "queued"
	JobStateRunning      JobState = "running"
	JobStateSucceeded    JobState = "succeeded"
	JobStateFailed       JobState = "failed"
	JobStateRetrying     JobState = "retrying"
	JobStateDeadLettered JobState = "dead_lettered"
)

// IsTerminal reports whether the job can no longer change
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateDeadLettered
}

// Valid reports whether s is a known state, used to validate list filters
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateRunning, JobStateSucceeded, JobStateFailed, JobStateRetrying, JobStateDeadLettered:
		return true
	}
	return false
}

// Job is one unit of automation work executed against the platform for a (workspace, account) pair.
// Terminal jobs are immutable; re-running an action means enqueueing a new job.
type Job struct {
	ID          string          `json:"id" badgerhold:"key"`
	WorkspaceID string          `json:"workspaceId" badgerhold:"index"`
	AccountID   string          `json:"accountId" badgerhold:"index"`
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	State       JobState        `json:"state" badgerhold:"index"`

	Attempts       int       `json:"attempts"`
	NextEligibleAt time.Time `json:"nextEligibleAt"`
	LastError      string    `json:"lastError,omitempty"`
	ErrorKind      string    `json:"errorKind,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`

	// AutomationID is set when the job was materialised by an automation
	AutomationID string `json:"automationId,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// EnqueueRequest is the input to the queue's enqueue operation
type EnqueueRequest struct {
	WorkspaceID  string          `json:"workspaceId" validate:"required"`
	AccountID    string          `json:"accountId" validate:"required"`
	Kind         JobKind         `json:"kind" validate:"required"`
	Payload      json.RawMessage `json:"payload"`
	AutomationID string          `json:"automationId,omitempty"`
}

// JobFilter narrows job listings. Empty fields match everything.
type JobFilter struct {
	WorkspaceID string
	AccountID   string
	State       JobState
	Limit       int
}

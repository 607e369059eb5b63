package models

import (
	"encoding/json"
	"time"
)

// Automation is a recurring template that materialises jobs on a cron schedule or on demand.
// The queue has no notion of recurrence; automations only ever call enqueue.
type Automation struct {
	ID          string          `json:"id" badgerhold:"key"`
	WorkspaceID string          `json:"workspaceId" badgerhold:"index" validate:"required"`
	AccountID   string          `json:"accountId" validate:"required"`
	Name        string          `json:"name"`
	Kind        JobKind         `json:"kind" validate:"required"`
	Payload     json.RawMessage `json:"payload"`
	Schedule    string          `json:"schedule,omitempty"` // 5-field cron, empty for trigger-only automations
	Enabled     bool            `json:"enabled"`

	LastRunAt time.Time `json:"lastRunAt,omitempty"`
	LastJobID string    `json:"lastJobId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

package models

import "time"

// Notification payloads carried by events

type CredentialInvalidatedPayload struct {
	AccountID string    `json:"accountId"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

type JobOutcomePayload struct {
	JobID       string   `json:"jobId"`
	WorkspaceID string   `json:"workspaceId"`
	AccountID   string   `json:"accountId"`
	Kind        JobKind  `json:"kind"`
	State       JobState `json:"state"`
	Attempts    int      `json:"attempts"`
	ErrorKind   string   `json:"errorKind,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type LoginSucceededPayload struct {
	SessionID   string `json:"sessionId"`
	WorkspaceID string `json:"workspaceId"`
	AccountID   string `json:"accountId"`
}

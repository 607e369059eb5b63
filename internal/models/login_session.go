package models

import "time"

// LoginSessionState is the state of a browser-driven login attempt
type LoginSessionState string

const (
	LoginStatePending             LoginSessionState = "pending"
	LoginStateAwaitingInteraction LoginSessionState = "awaiting_interaction"
	LoginStateSucceeded           LoginSessionState = "succeeded"
	LoginStateFailed              LoginSessionState = "failed"
	LoginStateExpired             LoginSessionState = "expired"
	LoginStateCancelled           LoginSessionState = "cancelled"
)

// IsTerminal reports whether no further transition is possible
func (s LoginSessionState) IsTerminal() bool {
	switch s {
	case LoginStateSucceeded, LoginStateFailed, LoginStateExpired, LoginStateCancelled:
		return true
	}
	return false
}

// IsActive reports whether the session still holds the workspace's single login slot
func (s LoginSessionState) IsActive() bool {
	return s == LoginStatePending || s == LoginStateAwaitingInteraction
}

// LoginSession is one browser-automation login attempt owned by a workspace
type LoginSession struct {
	ID          string            `json:"id" badgerhold:"key"`
	WorkspaceID string            `json:"workspaceId" badgerhold:"index"`
	State       LoginSessionState `json:"state" badgerhold:"index"`

	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastPolledAt time.Time `json:"lastPolledAt,omitempty"`
	Deadline     time.Time `json:"deadline"`
	CompletedAt  time.Time `json:"completedAt,omitempty"`

	// AccountID references the harvested credential set; empty until succeeded
	AccountID string `json:"accountId,omitempty"`

	CancelRequested bool   `json:"cancelRequested"`
	Error           string `json:"error,omitempty"`
}

// LoginSessionStatus is the read-side view returned to pollers. It never carries raw tokens.
type LoginSessionStatus struct {
	SessionID   string            `json:"sessionId"`
	WorkspaceID string            `json:"workspaceId"`
	State       LoginSessionState `json:"state"`
	AccountID   string            `json:"accountId,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	Deadline    time.Time         `json:"deadline"`
}

// Status builds the poll view of the session
func (s *LoginSession) Status() LoginSessionStatus {
	status := LoginSessionStatus{
		SessionID:   s.ID,
		WorkspaceID: s.WorkspaceID,
		State:       s.State,
		Error:       s.Error,
		CreatedAt:   s.CreatedAt,
		Deadline:    s.Deadline,
	}
	if s.State == LoginStateSucceeded {
		status.AccountID = s.AccountID
	}
	return status
}

// ExistingCredentialStatus answers checkExisting for a workspace
type ExistingCredentialStatus struct {
	WorkspaceID string `json:"workspaceId"`
	Found       bool   `json:"found"`
	AccountID   string `json:"accountId,omitempty"`
	Valid       bool   `json:"valid"`
}

// WorkspaceAccount records the default platform account for a workspace
type WorkspaceAccount struct {
	WorkspaceID string    `json:"workspaceId" badgerhold:"key"`
	AccountID   string    `json:"accountId"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

package handlers

import (
	"context"

	"github.com/ternarybob/gramflow/internal/models"
)

// SessionOrchestrator is the login session surface used by SessionHandler
type SessionOrchestrator interface {
	StartSession(ctx context.Context, workspaceID string) (*models.LoginSession, error)
	PollSession(ctx context.Context, sessionID string) (*models.LoginSessionStatus, error)
	CancelSession(ctx context.Context, sessionID string) (*models.LoginSession, error)
	CheckExisting(ctx context.Context, workspaceID string) (*models.ExistingCredentialStatus, error)
}

// JobQueue is the queue surface used by JobHandler
type JobQueue interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
}

// ExtensionBridge answers credential harvesting channel messages
type ExtensionBridge interface {
	Handle(ctx context.Context, req *models.ExtensionRequest) (*models.ExtensionResponse, error)
}

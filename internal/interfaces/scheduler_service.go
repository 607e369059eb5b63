package interfaces

import (
	"context"

	"github.com/ternarybob/gramflow/internal/models"
)

// JobEnqueuer is the queue entry point used by job producers
type JobEnqueuer interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.Job, error)
}

// SchedulerService manages automations and materialises their jobs on a cron schedule
type SchedulerService interface {
	// Start loads enabled automations and starts the cron scheduler
	Start() error

	// Stop halts the scheduler and waits for running triggers
	Stop() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// CreateAutomation validates and stores an automation, scheduling it when enabled
	CreateAutomation(ctx context.Context, automation *models.Automation) (*models.Automation, error)

	GetAutomation(ctx context.Context, id string) (*models.Automation, error)

	// ListAutomations returns the automations of a workspace, or all when workspaceID is empty
	ListAutomations(ctx context.Context, workspaceID string) ([]*models.Automation, error)

	// DeleteAutomation unschedules and removes an automation. Jobs it already produced are kept.
	DeleteAutomation(ctx context.Context, id string) error

	// TriggerAutomation enqueues a job from the automation immediately
	TriggerAutomation(ctx context.Context, id string) (*models.Job, error)
}

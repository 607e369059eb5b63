package interfaces

import (
	"context"

	"github.com/ternarybob/gramflow/internal/models"
)

// CredentialStorage persists credential sets under the legacy single-key format
// and the current structured format. Every method is atomic with respect to the others.
type CredentialStorage interface {
	// GetCurrent returns the current-format record or models.ErrCredentialNotFound
	GetCurrent(ctx context.Context, accountID string) (*models.CredentialSet, error)

	// GetLegacy returns the legacy cookie map or models.ErrCredentialNotFound
	GetLegacy(ctx context.Context, accountID string) (models.LegacyCredentialRecord, error)

	// Get returns the current record, falling back to the legacy key, in one read transaction.
	// Returns models.ErrCredentialNotFound when neither key exists.
	Get(ctx context.Context, accountID string) (*models.CredentialSet, error)

	// Put writes the current record, mirroring into the legacy key when one exists
	Put(ctx context.Context, set *models.CredentialSet) error

	// PutLegacy writes a record in the legacy format only
	PutLegacy(ctx context.Context, accountID string, record models.LegacyCredentialRecord) error

	// Update applies fn to the current record in a single read-modify-write transaction.
	// A legacy-only record is materialised into the current format first.
	Update(ctx context.Context, accountID string, fn func(set *models.CredentialSet) error) (*models.CredentialSet, error)

	// ListLegacyAccounts returns the account ids that still have a legacy key
	ListLegacyAccounts(ctx context.Context) ([]string, error)

	// WriteMigrated writes set as the current record unless one already exists.
	// Returns false when a current record was already present.
	WriteMigrated(ctx context.Context, set *models.CredentialSet) (bool, error)

	DeleteLegacy(ctx context.Context, accountID string) error
}

// WorkspaceStorage records the default platform account of each workspace
type WorkspaceStorage interface {
	SetDefaultAccount(ctx context.Context, workspaceID, accountID string) error
	// SetDefaultAccountIfAbsent returns true when the default was written
	SetDefaultAccountIfAbsent(ctx context.Context, workspaceID, accountID string) (bool, error)
	// GetDefaultAccount returns "" when the workspace has no default account
	GetDefaultAccount(ctx context.Context, workspaceID string) (string, error)
}

type LoginSessionStorage interface {
	SaveSession(ctx context.Context, session *models.LoginSession) error
	GetSession(ctx context.Context, id string) (*models.LoginSession, error)
	// GetActiveSession returns nil when the workspace has no pending or awaiting session
	GetActiveSession(ctx context.Context, workspaceID string) (*models.LoginSession, error)
	ListActiveSessions(ctx context.Context) ([]*models.LoginSession, error)
}

type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// ListJobs returns matching jobs newest first
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
	// ListJobsByState returns jobs in state ordered oldest first
	ListJobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error)
	// UpdateJob applies fn to the stored job in a single transaction.
	// Returning an error from fn aborts the update.
	UpdateJob(ctx context.Context, id string, fn func(job *models.Job) error) (*models.Job, error)
}

type AutomationStorage interface {
	SaveAutomation(ctx context.Context, automation *models.Automation) error
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
	ListAutomations(ctx context.Context, workspaceID string) ([]*models.Automation, error)
	DeleteAutomation(ctx context.Context, id string) error
}

// StorageManager exposes every storage concern backed by one database
type StorageManager interface {
	CredentialStorage() CredentialStorage
	WorkspaceStorage() WorkspaceStorage
	LoginSessionStorage() LoginSessionStorage
	JobStorage() JobStorage
	AutomationStorage() AutomationStorage
	// DB returns the underlying database handle (the *badger.DB for the Badger backend)
	DB() interface{}
	Close() error
}

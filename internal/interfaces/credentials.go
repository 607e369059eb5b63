package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/gramflow/internal/models"
)

// CredentialStore is the authoritative sink for harvested credential sets
type CredentialStore interface {
	// Put validates set and stores it for accountID, superseding any previous set.
	// Fails with models.ErrInvalidCredentialSet when a mandatory token is missing.
	Put(ctx context.Context, accountID string, set *models.CredentialSet) error

	// Get returns the stored set, including invalidated ones (Valid=false),
	// or models.ErrCredentialNotFound
	Get(ctx context.Context, accountID string) (*models.CredentialSet, error)

	// Invalidate marks the stored set unusable until the account logs in again
	Invalidate(ctx context.Context, accountID, reason string) error

	// MarkValidated stamps a successful verify-session
	MarkValidated(ctx context.Context, accountID string, at time.Time) error

	// Migrate rewrites legacy records into the current format. Safe to run repeatedly.
	Migrate(ctx context.Context) (*models.MigrationReport, error)

	// SetWorkspaceDefault records accountID as the default account of workspaceID
	SetWorkspaceDefault(ctx context.Context, workspaceID, accountID string) error

	// ClaimWorkspaceDefault records accountID as the default only when the workspace has none.
	// Returns true when the default was written.
	ClaimWorkspaceDefault(ctx context.Context, workspaceID, accountID string) (bool, error)

	// WorkspaceDefault returns the default account of workspaceID, or "" when none is recorded
	WorkspaceDefault(ctx context.Context, workspaceID string) (string, error)
}

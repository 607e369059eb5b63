package sessions

import (
	"context"

	"github.com/ternarybob/gramflow/internal/models"
)

// Driver runs one browser-automation login. Run blocks until the login finishes,
// fails, or ctx ends, and returns the harvested token cookies.
type Driver interface {
	Run(ctx context.Context, progress Progress) (*models.CredentialWire, error)
}

// Progress is the driver's view of its session
type Progress interface {
	SessionID() string

	// AwaitingInteraction records that the login page is up and waiting for the user
	AwaitingInteraction()

	// Cancelled is the cooperative checkpoint. A driver stops at the first true result.
	Cancelled() bool
}

// DriverFunc adapts a function to Driver
type DriverFunc func(ctx context.Context, progress Progress) (*models.CredentialWire, error)

func (f DriverFunc) Run(ctx context.Context, progress Progress) (*models.CredentialWire, error) {
	return f(ctx, progress)
}

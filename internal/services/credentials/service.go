package credentials

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// Service is the Credential Store. It validates every set at ingestion, reads through
// to the legacy key until migration has run, and publishes invalidations.
type Service struct {
	storage          interfaces.CredentialStorage
	workspaces       interfaces.WorkspaceStorage
	eventService     interfaces.EventService
	retireLegacyKeys bool
	now              func() time.Time
	logger           arbor.ILogger
}

// Option configures the Service
type Option func(*Service)

// WithRetireLegacyKeys deletes legacy keys once their rewrite has been verified
func WithRetireLegacyKeys(retire bool) Option {
	return func(s *Service) {
		s.retireLegacyKeys = retire
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new credential store. eventService may be nil.
func NewService(storage interfaces.CredentialStorage, workspaces interfaces.WorkspaceStorage, eventService interfaces.EventService, logger arbor.ILogger, opts ...Option) *Service {
	s := &Service{
		storage:      storage,
		workspaces:   workspaces,
		eventService: eventService,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Put(ctx context.Context, accountID string, set *models.CredentialSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		accountID = strings.TrimSpace(set.DSUserID)
	}

	// Store a fresh record rather than the caller's pointer
	record := *set
	record.AccountID = accountID
	record.SessionID = strings.TrimSpace(set.SessionID)
	record.CSRFToken = strings.TrimSpace(set.CSRFToken)
	record.DSUserID = strings.TrimSpace(set.DSUserID)
	record.FormatVersion = models.CredentialFormatCurrent
	record.Valid = true
	record.InvalidatedAt = time.Time{}
	record.InvalidationReason = ""
	if record.CapturedAt.IsZero() {
		record.CapturedAt = s.now()
	}

	if err := s.storage.Put(ctx, &record); err != nil {
		return fmt.Errorf("failed to put credential set for %s: %w", accountID, err)
	}

	s.logger.Info().
		Str("account_id", accountID).
		Str("ds_user_id", record.DSUserID).
		Msg("Credential set stored")
	return nil
}

func (s *Service) Get(ctx context.Context, accountID string) (*models.CredentialSet, error) {
	// Current and legacy keys are read in one transaction so a concurrent
	// migration is either fully visible or not at all
	return s.storage.Get(ctx, accountID)
}

func (s *Service) Invalidate(ctx context.Context, accountID, reason string) error {
	at := s.now()
	_, err := s.storage.Update(ctx, accountID, func(set *models.CredentialSet) error {
		set.Valid = false
		set.InvalidatedAt = at
		set.InvalidationReason = reason
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate credential set for %s: %w", accountID, err)
	}

	s.logger.Warn().
		Str("account_id", accountID).
		Str("reason", reason).
		Msg("Credential set invalidated - re-login required")

	if s.eventService != nil {
		event := interfaces.Event{
			Type: interfaces.EventCredentialInvalidated,
			Payload: models.CredentialInvalidatedPayload{
				AccountID: accountID,
				Reason:    reason,
				At:        at,
			},
		}
		if err := s.eventService.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("account_id", accountID).Msg("Failed to publish credential invalidation")
		}
	}
	return nil
}

func (s *Service) MarkValidated(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.storage.Update(ctx, accountID, func(set *models.CredentialSet) error {
		// A concurrent invalidation wins
		if !set.Valid {
			return nil
		}
		set.LastValidatedAt = at
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark credential set validated for %s: %w", accountID, err)
	}
	return nil
}

func (s *Service) SetWorkspaceDefault(ctx context.Context, workspaceID, accountID string) error {
	return s.workspaces.SetDefaultAccount(ctx, workspaceID, accountID)
}

// ClaimWorkspaceDefault records accountID as the workspace default unless one is already set
func (s *Service) ClaimWorkspaceDefault(ctx context.Context, workspaceID, accountID string) (bool, error) {
	claimed, err := s.workspaces.SetDefaultAccountIfAbsent(ctx, workspaceID, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to set default account of workspace %s: %w", workspaceID, err)
	}
	if claimed {
		s.logger.Info().
			Str("workspace_id", workspaceID).
			Str("account_id", accountID).
			Msg("Workspace default account recorded")
	}
	return claimed, nil
}

func (s *Service) WorkspaceDefault(ctx context.Context, workspaceID string) (string, error) {
	return s.workspaces.GetDefaultAccount(ctx, workspaceID)
}

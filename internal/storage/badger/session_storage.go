package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LoginSessionStorage implements the LoginSessionStorage interface for Badger
type LoginSessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLoginSessionStorage creates a new LoginSessionStorage instance
func NewLoginSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LoginSessionStorage {
	return &LoginSessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LoginSessionStorage) SaveSession(ctx context.Context, session *models.LoginSession) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save login session: %w", err)
	}
	return nil
}

func (s *LoginSessionStorage) GetSession(ctx context.Context, id string) (*models.LoginSession, error) {
	var session models.LoginSession
	if err := s.db.Store().Get(id, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get login session: %w", err)
	}
	return &session, nil
}

func (s *LoginSessionStorage) GetActiveSession(ctx context.Context, workspaceID string) (*models.LoginSession, error) {
	var sessions []models.LoginSession
	query := badgerhold.Where("WorkspaceID").Eq(workspaceID).
		And("State").In(models.LoginStatePending, models.LoginStateAwaitingInteraction).
		SortBy("CreatedAt")
	if err := s.db.Store().Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("failed to find active login session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

func (s *LoginSessionStorage) ListActiveSessions(ctx context.Context) ([]*models.LoginSession, error) {
	var sessions []models.LoginSession
	query := badgerhold.Where("State").In(models.LoginStatePending, models.LoginStateAwaitingInteraction).SortBy("CreatedAt")
	if err := s.db.Store().Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list active login sessions: %w", err)
	}

	result := make([]*models.LoginSession, len(sessions))
	for i := range sessions {
		result[i] = &sessions[i]
	}
	return result, nil
}

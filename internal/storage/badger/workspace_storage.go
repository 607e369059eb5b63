package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WorkspaceStorage implements the WorkspaceStorage interface for Badger
type WorkspaceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWorkspaceStorage creates a new WorkspaceStorage instance
func NewWorkspaceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WorkspaceStorage {
	return &WorkspaceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WorkspaceStorage) SetDefaultAccount(ctx context.Context, workspaceID, accountID string) error {
	record := &models.WorkspaceAccount{
		WorkspaceID: workspaceID,
		AccountID:   accountID,
		UpdatedAt:   time.Now(),
	}
	if err := s.db.Store().Upsert(workspaceID, record); err != nil {
		return fmt.Errorf("failed to set default account: %w", err)
	}
	return nil
}

func (s *WorkspaceStorage) SetDefaultAccountIfAbsent(ctx context.Context, workspaceID, accountID string) (bool, error) {
	written := false
	err := s.db.update(func(txn *badger.Txn) error {
		written = false
		var existing models.WorkspaceAccount
		err := s.db.Store().TxGet(txn, workspaceID, &existing)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}

		record := &models.WorkspaceAccount{
			WorkspaceID: workspaceID,
			AccountID:   accountID,
			UpdatedAt:   time.Now(),
		}
		if err := s.db.Store().TxInsert(txn, workspaceID, record); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to set default account: %w", err)
	}
	return written, nil
}

func (s *WorkspaceStorage) GetDefaultAccount(ctx context.Context, workspaceID string) (string, error) {
	var record models.WorkspaceAccount
	if err := s.db.Store().Get(workspaceID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get default account: %w", err)
	}
	return record.AccountID, nil
}

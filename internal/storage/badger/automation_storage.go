package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AutomationStorage implements the AutomationStorage interface for Badger
type AutomationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAutomationStorage creates a new AutomationStorage instance
func NewAutomationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AutomationStorage {
	return &AutomationStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AutomationStorage) SaveAutomation(ctx context.Context, automation *models.Automation) error {
	if automation.ID == "" {
		return fmt.Errorf("automation ID is required")
	}
	if err := s.db.Store().Upsert(automation.ID, automation); err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}
	return nil
}

func (s *AutomationStorage) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	var automation models.Automation
	if err := s.db.Store().Get(id, &automation); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrAutomationNotFound, id)
		}
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	return &automation, nil
}

// ListAutomations lists the automations of a workspace, or all automations when workspaceID is empty
func (s *AutomationStorage) ListAutomations(ctx context.Context, workspaceID string) ([]*models.Automation, error) {
	query := badgerhold.Where("ID").Ne("")
	if workspaceID != "" {
		query = query.And("WorkspaceID").Eq(workspaceID)
	}

	var automations []models.Automation
	if err := s.db.Store().Find(&automations, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}

	result := make([]*models.Automation, len(automations))
	for i := range automations {
		result[i] = &automations[i]
	}
	return result, nil
}

func (s *AutomationStorage) DeleteAutomation(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Automation{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: %s", models.ErrAutomationNotFound, id)
		}
		return fmt.Errorf("failed to delete automation: %w", err)
	}
	return nil
}

package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	credential interfaces.CredentialStorage
	workspace  interfaces.WorkspaceStorage
	session    interfaces.LoginSessionStorage
	job        interfaces.JobStorage
	automation interfaces.AutomationStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManager(db, logger)
	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")
	return manager, nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:         db,
		credential: NewCredentialStorage(db, logger),
		workspace:  NewWorkspaceStorage(db, logger),
		session:    NewLoginSessionStorage(db, logger),
		job:        NewJobStorage(db, logger),
		automation: NewAutomationStorage(db, logger),
		logger:     logger,
	}
}

func (m *Manager) CredentialStorage() interfaces.CredentialStorage {
	return m.credential
}

func (m *Manager) WorkspaceStorage() interfaces.WorkspaceStorage {
	return m.workspace
}

func (m *Manager) LoginSessionStorage() interfaces.LoginSessionStorage {
	return m.session
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

func (m *Manager) AutomationStorage() interfaces.AutomationStorage {
	return m.automation
}

// DB returns the raw *badger.DB, used by the Badger lease locker
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Badger()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

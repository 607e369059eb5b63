package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// Key layout. The legacy key is the one the browser extension's client-side storage used;
// the current key holds the structured record.
const (
	legacyCredentialPrefix  = "ig_cookies_"
	currentCredentialPrefix = "credentials:v2:"
)

func legacyCredentialKey(accountID string) []byte {
	return []byte(legacyCredentialPrefix + accountID)
}

func currentCredentialKey(accountID string) []byte {
	return []byte(currentCredentialPrefix + accountID)
}

// CredentialStorage stores credential sets as raw badger entries so that both
// lookup keys are written in the same transaction
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CredentialStorage {
	return &CredentialStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CredentialStorage) GetCurrent(ctx context.Context, accountID string) (*models.CredentialSet, error) {
	var set *models.CredentialSet
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		var err error
		set, err = readCurrent(txn, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (s *CredentialStorage) GetLegacy(ctx context.Context, accountID string) (models.LegacyCredentialRecord, error) {
	var record models.LegacyCredentialRecord
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		var err error
		record, err = readLegacy(txn, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *CredentialStorage) Get(ctx context.Context, accountID string) (*models.CredentialSet, error) {
	var set *models.CredentialSet
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		var err error
		set, err = readAny(txn, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (s *CredentialStorage) Put(ctx context.Context, set *models.CredentialSet) error {
	if set == nil || set.AccountID == "" {
		return fmt.Errorf("%w: account id is required", models.ErrInvalidCredentialSet)
	}

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal credential set: %w", err)
	}
	legacyData, err := json.Marshal(models.LegacyRecordFromSet(set))
	if err != nil {
		return fmt.Errorf("failed to marshal legacy credential record: %w", err)
	}

	err = s.db.update(func(txn *badger.Txn) error {
		if err := txn.Set(currentCredentialKey(set.AccountID), data); err != nil {
			return err
		}

		// Keep legacy readers in step until the legacy key is retired
		_, err := txn.Get(legacyCredentialKey(set.AccountID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return txn.Set(legacyCredentialKey(set.AccountID), legacyData)
	})
	if err != nil {
		return fmt.Errorf("failed to store credential set: %w", err)
	}
	return nil
}

func (s *CredentialStorage) PutLegacy(ctx context.Context, accountID string, record models.LegacyCredentialRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal legacy credential record: %w", err)
	}
	return s.db.update(func(txn *badger.Txn) error {
		return txn.Set(legacyCredentialKey(accountID), data)
	})
}

func (s *CredentialStorage) Update(ctx context.Context, accountID string, fn func(set *models.CredentialSet) error) (*models.CredentialSet, error) {
	var updated *models.CredentialSet
	err := s.db.update(func(txn *badger.Txn) error {
		set, err := readAny(txn, accountID)
		if err != nil {
			return err
		}

		if err := fn(set); err != nil {
			return err
		}
		set.FormatVersion = models.CredentialFormatCurrent

		data, err := json.Marshal(set)
		if err != nil {
			return fmt.Errorf("failed to marshal credential set: %w", err)
		}
		if err := txn.Set(currentCredentialKey(accountID), data); err != nil {
			return err
		}
		updated = set
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *CredentialStorage) ListLegacyAccounts(ctx context.Context) ([]string, error) {
	accounts := []string{}
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(legacyCredentialPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			accounts = append(accounts, strings.TrimPrefix(key, legacyCredentialPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy credential keys: %w", err)
	}
	return accounts, nil
}

func (s *CredentialStorage) WriteMigrated(ctx context.Context, set *models.CredentialSet) (bool, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return false, fmt.Errorf("failed to marshal credential set: %w", err)
	}

	written := false
	err = s.db.update(func(txn *badger.Txn) error {
		written = false
		_, err := txn.Get(currentCredentialKey(set.AccountID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(currentCredentialKey(set.AccountID), data); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to write migrated credential set: %w", err)
	}
	return written, nil
}

func (s *CredentialStorage) DeleteLegacy(ctx context.Context, accountID string) error {
	return s.db.update(func(txn *badger.Txn) error {
		return txn.Delete(legacyCredentialKey(accountID))
	})
}

func readCurrent(txn *badger.Txn, accountID string) (*models.CredentialSet, error) {
	item, err := txn.Get(currentCredentialKey(accountID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrCredentialNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential set: %w", err)
	}

	var set models.CredentialSet
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &set)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode credential set for %s: %w", accountID, err)
	}
	return &set, nil
}

// readAny reads the current key and falls back to the legacy key within txn
func readAny(txn *badger.Txn, accountID string) (*models.CredentialSet, error) {
	set, err := readCurrent(txn, accountID)
	if !errors.Is(err, models.ErrCredentialNotFound) {
		return set, err
	}
	record, err := readLegacy(txn, accountID)
	if err != nil {
		return nil, err
	}
	return models.CredentialSetFromLegacy(accountID, record), nil
}

func readLegacy(txn *badger.Txn, accountID string) (models.LegacyCredentialRecord, error) {
	item, err := txn.Get(legacyCredentialKey(accountID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrCredentialNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy credential record: %w", err)
	}

	record := models.LegacyCredentialRecord{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode legacy credential record for %s: %w", accountID, err)
	}
	return record, nil
}

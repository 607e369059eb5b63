package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.WorkspaceID != "" {
		query = query.And("WorkspaceID").Eq(filter.WorkspaceID)
	}
	if filter.AccountID != "" {
		query = query.And("AccountID").Eq(filter.AccountID)
	}
	if filter.State != "" {
		query = query.And("State").Eq(filter.State)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) ListJobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("State").Eq(state).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", state, err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, id string, fn func(job *models.Job) error) (*models.Job, error) {
	var updated models.Job
	err := s.db.update(func(txn *badger.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(txn, id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
			}
			return err
		}

		if err := fn(&job); err != nil {
			return err
		}

		if err := s.db.Store().TxUpdate(txn, id, &job); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func toJobPointers(jobs []models.Job) []*models.Job {
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}

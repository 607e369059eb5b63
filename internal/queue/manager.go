package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// errNotClaimable aborts a claim when the job left the queued state between listing and update
var errNotClaimable = errors.New("job is no longer queued")

// Manager owns the job lifecycle up to execution: enqueue, retry promotion,
// stale recovery and dispatch under the per-account lock.
// Execution and outcome handling live in the WorkerPool.
type Manager struct {
	jobs     interfaces.JobStorage
	locker   interfaces.AccountLocker
	pool     *WorkerPool
	config   Config
	logger   arbor.ILogger
	now      func() time.Time
	validate *validator.Validate

	// Serialises dispatch ticks within this process
	dispatchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the Manager
type Option func(*Manager)

// WithClock overrides the time source used for eligibility, backoff and staleness
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a queue manager and its worker pool
func NewManager(
	jobs interfaces.JobStorage,
	locker interfaces.AccountLocker,
	executor *Executor,
	credentials interfaces.CredentialStore,
	events interfaces.EventService,
	config Config,
	logger arbor.ILogger,
	opts ...Option,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		jobs:     jobs,
		locker:   locker,
		config:   config,
		logger:   logger,
		now:      time.Now,
		validate: validator.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	executor.now = m.now
	m.pool = newWorkerPool(jobs, executor, credentials, events, NewRetryPolicy(config), config, logger, m.now)
	return m
}

// Enqueue validates the request and stores a new queued job, eligible immediately
func (m *Manager) Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.Job, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidJob, err)
	}

	payload, err := models.NormalizePayload(req.Kind, req.Payload)
	if err != nil {
		return nil, err
	}

	now := m.now()
	job := &models.Job{
		ID:             common.NewJobID(),
		WorkspaceID:    req.WorkspaceID,
		AccountID:      req.AccountID,
		Kind:           req.Kind,
		Payload:        payload,
		State:          models.JobStateQueued,
		Attempts:       0,
		NextEligibleAt: now,
		AutomationID:   req.AutomationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("workspace_id", job.WorkspaceID).
		Str("account_id", job.AccountID).
		Str("kind", string(job.Kind)).
		Msg("Job enqueued")

	return job, nil
}

// GetJob returns a job by id or models.ErrJobNotFound
func (m *Manager) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return m.jobs.GetJob(ctx, id)
}

// ListJobs returns jobs matching filter, newest first
func (m *Manager) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, fmt.Errorf("%w: unknown job state %q", models.ErrInvalidJob, filter.State)
	}
	return m.jobs.ListJobs(ctx, filter)
}

// Start recovers stale running jobs, starts the worker pool and the dispatch loop
func (m *Manager) Start() error {
	recovered, err := m.RecoverStale(m.ctx)
	if err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	m.pool.Start()

	m.done = make(chan struct{})
	common.SafeGo(m.logger, "queue-dispatcher", func() {
		defer close(m.done)
		m.dispatchLoop()
	})

	m.logger.Info().
		Int("concurrency", m.config.Concurrency).
		Int("recovered", recovered).
		Dur("poll_interval", m.config.PollInterval).
		Dur("lock_ttl", m.config.LockTTL).
		Msg("Job queue started")
	return nil
}

// Stop ends dispatching and waits for in-flight jobs to finish
func (m *Manager) Stop() error {
	m.cancel()
	if m.done != nil {
		<-m.done
	}
	m.pool.Stop()
	m.logger.Info().Msg("Job queue stopped")
	return nil
}

func (m *Manager) dispatchLoop() {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Dispatch(m.ctx); err != nil && m.ctx.Err() == nil {
				m.logger.Warn().Err(err).Msg("Dispatch tick failed")
			}
		}
	}
}

// Dispatch runs one tick: promote due retries, then hand the oldest eligible job of each
// account to a free worker once the account lock is held. Returns the number dispatched.
func (m *Manager) Dispatch(ctx context.Context) (int, error) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	if _, err := m.promoteRetries(ctx); err != nil {
		return 0, err
	}

	queued, err := m.jobs.ListJobsByState(ctx, models.JobStateQueued)
	if err != nil {
		return 0, err
	}

	now := m.now()
	seen := make(map[string]bool)
	dispatched := 0

	for _, job := range queued {
		if job.NextEligibleAt.After(now) {
			continue
		}
		// Only the head of each account's stream is a candidate
		if seen[job.AccountID] {
			continue
		}
		seen[job.AccountID] = true

		if !m.pool.reserve() {
			break
		}
		if m.claim(ctx, job, now) {
			dispatched++
		} else {
			m.pool.unreserve()
		}
	}

	return dispatched, nil
}

// claim takes the account lock and moves job to running. The lock is released again
// when the job cannot be claimed.
func (m *Manager) claim(ctx context.Context, job *models.Job, now time.Time) bool {
	lease, err := m.locker.Acquire(ctx, job.AccountID, m.config.LockTTL)
	if err != nil {
		if errors.Is(err, models.ErrConcurrencyConflict) {
			m.logger.Debug().
				Str("job_id", job.ID).
				Str("account_id", job.AccountID).
				Msg("Account busy, job stays queued")
		} else {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to acquire account lock")
		}
		return false
	}

	claimed, err := m.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		if j.State != models.JobStateQueued {
			return errNotClaimable
		}
		j.State = models.JobStateRunning
		j.Attempts++
		j.StartedAt = now
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNotClaimable) {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to claim job")
		}
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			m.logger.Warn().Err(relErr).Str("job_id", job.ID).Msg("Failed to release account lock")
		}
		return false
	}

	m.logger.Debug().
		Str("job_id", claimed.ID).
		Str("account_id", claimed.AccountID).
		Int("attempt", claimed.Attempts).
		Msg("Job dispatched")

	m.pool.submit(claimedJob{job: claimed, lease: lease})
	return true
}

// promoteRetries moves retrying jobs whose next-eligible-run has passed back to queued
func (m *Manager) promoteRetries(ctx context.Context) (int, error) {
	retrying, err := m.jobs.ListJobsByState(ctx, models.JobStateRetrying)
	if err != nil {
		return 0, err
	}

	now := m.now()
	promoted := 0
	for _, job := range retrying {
		if job.NextEligibleAt.After(now) {
			continue
		}
		_, err := m.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
			if j.State != models.JobStateRetrying {
				return errNotClaimable
			}
			j.State = models.JobStateQueued
			j.UpdatedAt = now
			return nil
		})
		if err != nil {
			if !errors.Is(err, errNotClaimable) {
				m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to promote retrying job")
			}
			continue
		}
		promoted++
	}
	return promoted, nil
}

// RecoverStale returns running jobs whose heartbeat stopped for longer than the lock TTL
// to queued. The attempt count is left as is.
func (m *Manager) RecoverStale(ctx context.Context) (int, error) {
	running, err := m.jobs.ListJobsByState(ctx, models.JobStateRunning)
	if err != nil {
		return 0, err
	}

	now := m.now()
	recovered := 0
	for _, job := range running {
		if now.Sub(job.UpdatedAt) <= m.config.LockTTL {
			continue
		}
		_, err := m.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
			if j.State != models.JobStateRunning {
				return errNotClaimable
			}
			j.State = models.JobStateQueued
			j.NextEligibleAt = now
			j.UpdatedAt = now
			return nil
		})
		if err != nil {
			if !errors.Is(err, errNotClaimable) {
				m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to recover stale job")
			}
			continue
		}
		m.logger.Warn().
			Str("job_id", job.ID).
			Str("account_id", job.AccountID).
			Msg("Recovered stale running job")
		recovered++
	}
	return recovered, nil
}

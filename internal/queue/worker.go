package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/ternarybob/gramflow/internal/services/platform"
)

// Error kinds recorded on jobs that failed before reaching the platform
const (
	errorKindCredentialMissing = "credential_not_found"
	errorKindCredentialInvalid = "credential_invalid"
	errorKindInvalidJob        = "invalid_job"
	errorKindInternal          = "internal_error"
	errorKindLeaseLost         = "lease_lost"
)

// claimedJob is a running job together with the account lease held for it
type claimedJob struct {
	job   *models.Job
	lease interfaces.Lease
}

// WorkerPool runs claimed jobs on a fixed number of goroutines and records their outcome
type WorkerPool struct {
	jobs        interfaces.JobStorage
	executor    *Executor
	credentials interfaces.CredentialStore
	events      interfaces.EventService
	policy      RetryPolicy
	config      Config
	logger      arbor.ILogger
	now         func() time.Time

	// slots bounds claimed-but-unfinished jobs to the pool size, so submit never blocks
	slots chan struct{}
	work  chan claimedJob

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newWorkerPool(
	jobs interfaces.JobStorage,
	executor *Executor,
	credentials interfaces.CredentialStore,
	events interfaces.EventService,
	policy RetryPolicy,
	config Config,
	logger arbor.ILogger,
	now func() time.Time,
) *WorkerPool {
	return &WorkerPool{
		jobs:        jobs,
		executor:    executor,
		credentials: credentials,
		events:      events,
		policy:      policy,
		config:      config,
		logger:      logger,
		now:         now,
		slots:       make(chan struct{}, config.Concurrency),
		work:        make(chan claimedJob, config.Concurrency),
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.config.Concurrency; i++ {
		wp.wg.Add(1)
		workerID := i
		common.SafeGo(wp.logger, fmt.Sprintf("queue-worker-%d", workerID), func() {
			defer wp.wg.Done()
			wp.worker(workerID)
		})
	}
}

// Stop closes the work channel and waits for in-flight jobs. Jobs already submitted still run.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.work)
	})
	wp.wg.Wait()
}

func (wp *WorkerPool) reserve() bool {
	select {
	case wp.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (wp *WorkerPool) unreserve() {
	<-wp.slots
}

func (wp *WorkerPool) submit(c claimedJob) {
	wp.work <- c
}

func (wp *WorkerPool) worker(workerID int) {
	wp.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	for c := range wp.work {
		wp.process(c)
		wp.unreserve()
	}

	wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
}

// process executes one claimed job and releases its lease. Shutdown does not cancel
// in-flight platform calls; a crashed process is covered by stale recovery.
// Losing the lease cancels the execution.
func (wp *WorkerPool) process(c claimedJob) {
	job := c.job
	logger := wp.logger.WithCorrelationId(job.ID)
	ctx, cancel := context.WithCancelCause(context.Background())

	heartbeat := make(chan struct{})
	go func() {
		defer close(heartbeat)
		wp.heartbeat(ctx, cancel, job.ID, c.lease, logger)
	}()

	start := time.Now()
	result, execErr := wp.executor.Execute(ctx, job)
	leaseLost := errors.Is(context.Cause(ctx), ErrLeaseLost)
	if leaseLost {
		result, execErr = nil, context.Cause(ctx)
	}
	cancel(nil)
	<-heartbeat

	done := context.Background()
	if err := wp.complete(done, job, result, execErr, logger); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job outcome")
	}

	if err := c.lease.Release(done); err != nil && !leaseLost {
		logger.Warn().Err(err).Str("account_id", job.AccountID).Msg("Failed to release account lock")
	}

	logger.Debug().
		Str("job_id", job.ID).
		Dur("duration", time.Since(start)).
		Msg("Job processed")
}

// heartbeat extends the lease and touches the job every third of the lock TTL until ctx ends.
// When the lease is taken over, or cannot be extended for a whole TTL, the job is cancelled
// with ErrLeaseLost.
func (wp *WorkerPool) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, jobID string, lease interfaces.Lease, logger arbor.ILogger) {
	interval := wp.config.LockTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	extendedAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Extend(ctx, wp.config.LockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, ErrLeaseLost) || time.Since(extendedAt) >= wp.config.LockTTL {
					logger.Error().Err(err).Str("job_id", jobID).Msg("Account lock lost - cancelling job")
					if !errors.Is(err, ErrLeaseLost) {
						err = fmt.Errorf("%w: %w", ErrLeaseLost, err)
					}
					cancel(err)
					return
				}
				logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to extend account lock")
			} else {
				extendedAt = time.Now()
			}
			_, err := wp.jobs.UpdateJob(ctx, jobID, func(j *models.Job) error {
				if j.State != models.JobStateRunning {
					return models.ErrJobTerminal
				}
				j.UpdatedAt = wp.now()
				return nil
			})
			if err != nil && ctx.Err() == nil && !errors.Is(err, models.ErrJobTerminal) {
				logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to record job heartbeat")
			}
		}
	}
}

// outcome is the transition a finished execution applies to its job
type outcome struct {
	state          models.JobState
	nextEligibleAt time.Time
	lastError      string
	errorKind      string
	result         json.RawMessage
}

// classify maps an execution result to the job's next state. This is the single place
// deciding between retry and terminal failure.
func (wp *WorkerPool) classify(job *models.Job, result json.RawMessage, execErr error, now time.Time) outcome {
	if execErr == nil {
		return outcome{state: models.JobStateSucceeded, result: result}
	}

	failed := outcome{state: models.JobStateFailed, lastError: execErr.Error()}

	switch {
	case errors.Is(execErr, models.ErrCredentialNotFound):
		failed.errorKind = errorKindCredentialMissing
		return failed
	case errors.Is(execErr, models.ErrCredentialInvalid):
		failed.errorKind = errorKindCredentialInvalid
		return failed
	case errors.Is(execErr, models.ErrInvalidJob):
		failed.errorKind = errorKindInvalidJob
		return failed
	case errors.Is(execErr, ErrLeaseLost):
		// Another worker may own the account now; run again later like a transient failure
		if wp.policy.Exhausted(job.Attempts) {
			return outcome{state: models.JobStateDeadLettered, lastError: failed.lastError, errorKind: errorKindLeaseLost}
		}
		return outcome{
			state:          models.JobStateRetrying,
			nextEligibleAt: now.Add(wp.policy.TransientDelay(job.Attempts)),
			lastError:      failed.lastError,
			errorKind:      errorKindLeaseLost,
		}
	}

	pe, ok := platform.AsError(execErr)
	if !ok {
		failed.errorKind = errorKindInternal
		return failed
	}
	failed.errorKind = string(pe.Kind)

	var delay time.Duration
	switch pe.Kind {
	case platform.KindRateLimited:
		delay = wp.policy.RateLimitDelay(pe.RetryAfter)
	case platform.KindTransient:
		delay = wp.policy.TransientDelay(job.Attempts)
	default:
		// SessionExpired, NotFound and Unknown are never retried
		return failed
	}

	if wp.policy.Exhausted(job.Attempts) {
		return outcome{state: models.JobStateDeadLettered, lastError: failed.lastError, errorKind: failed.errorKind}
	}
	return outcome{
		state:          models.JobStateRetrying,
		nextEligibleAt: now.Add(delay),
		lastError:      failed.lastError,
		errorKind:      failed.errorKind,
	}
}

// complete applies the outcome of an execution to a running job and raises notifications
func (wp *WorkerPool) complete(ctx context.Context, job *models.Job, result json.RawMessage, execErr error, logger arbor.ILogger) error {
	if platform.KindOf(execErr) == platform.KindSessionExpired {
		if err := wp.credentials.Invalidate(ctx, job.AccountID, execErr.Error()); err != nil {
			logger.Error().Err(err).Str("account_id", job.AccountID).Msg("Failed to invalidate credential set")
		}
	}

	now := wp.now()
	out := wp.classify(job, result, execErr, now)

	updated, err := wp.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		if j.State.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", models.ErrJobTerminal, j.ID, j.State)
		}
		if j.State != models.JobStateRunning {
			return fmt.Errorf("job %s is %s, expected running", j.ID, j.State)
		}

		j.State = out.state
		j.UpdatedAt = now
		j.LastError = out.lastError
		j.ErrorKind = out.errorKind
		if out.state == models.JobStateRetrying {
			j.NextEligibleAt = out.nextEligibleAt
		}
		if out.state.IsTerminal() {
			j.CompletedAt = now
		}
		if out.result != nil {
			j.Result = out.result
		}
		return nil
	})
	if err != nil {
		return err
	}

	event := logger.Info()
	if out.state != models.JobStateSucceeded {
		event = logger.Warn().Str("error_kind", out.errorKind).Str("error", out.lastError)
	}
	event.
		Str("job_id", updated.ID).
		Str("account_id", updated.AccountID).
		Str("kind", string(updated.Kind)).
		Str("state", string(updated.State)).
		Int("attempts", updated.Attempts).
		Msg("Job finished attempt")

	switch updated.State {
	case models.JobStateFailed:
		wp.publish(ctx, interfaces.EventJobFailed, updated)
	case models.JobStateDeadLettered:
		wp.publish(ctx, interfaces.EventJobDeadLettered, updated)
	}
	return nil
}

func (wp *WorkerPool) publish(ctx context.Context, eventType interfaces.EventType, job *models.Job) {
	if wp.events == nil {
		return
	}
	event := interfaces.Event{
		Type: eventType,
		Payload: models.JobOutcomePayload{
			JobID:       job.ID,
			WorkspaceID: job.WorkspaceID,
			AccountID:   job.AccountID,
			Kind:        job.Kind,
			State:       job.State,
			Attempts:    job.Attempts,
			ErrorKind:   job.ErrorKind,
			Error:       job.LastError,
		},
	}
	if err := wp.events.Publish(ctx, event); err != nil {
		wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job notification")
	}
}

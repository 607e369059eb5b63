package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// Service implements SchedulerService. Automations only ever produce jobs through the
// queue's Enqueue; recurrence lives here and nowhere else.
type Service struct {
	storage  interfaces.AutomationStorage
	enqueuer interfaces.JobEnqueuer
	cron     *cron.Cron
	logger   arbor.ILogger
	validate *validator.Validate
	now      func() time.Time

	jobMu   sync.Mutex // Protects entries and running
	entries map[string]cron.EntryID
	running bool

	// Serialises fire for one automation so LastRunAt/LastJobID stay consistent
	fireMu sync.Mutex
}

// Option configures the Service
type Option func(*Service)

// WithClock overrides the time source used for LastRunAt
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new scheduler service
func NewService(storage interfaces.AutomationStorage, enqueuer interfaces.JobEnqueuer, logger arbor.ILogger, opts ...Option) *Service {
	s := &Service{
		storage:  storage,
		enqueuer: enqueuer,
		cron:     cron.New(),
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
		entries:  make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers every enabled scheduled automation and starts cron
func (s *Service) Start() error {
	s.jobMu.Lock()
	if s.running {
		s.jobMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.jobMu.Unlock()

	automations, err := s.storage.ListAutomations(context.Background(), "")
	if err != nil {
		return fmt.Errorf("failed to load automations: %w", err)
	}

	registered := 0
	for _, automation := range automations {
		if err := s.register(automation); err != nil {
			// A stored schedule that no longer parses must not block the rest
			s.logger.Warn().Err(err).Str("automation_id", automation.ID).Msg("Failed to schedule automation")
			continue
		}
		if automation.Enabled && automation.Schedule != "" {
			registered++
		}
	}

	s.cron.Start()

	s.logger.Info().
		Int("automations", len(automations)).
		Int("scheduled", registered).
		Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.jobMu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

func (s *Service) CreateAutomation(ctx context.Context, automation *models.Automation) (*models.Automation, error) {
	if automation == nil {
		return nil, fmt.Errorf("%w: automation is required", models.ErrInvalidAutomation)
	}

	record := *automation
	record.WorkspaceID = strings.TrimSpace(record.WorkspaceID)
	record.AccountID = strings.TrimSpace(record.AccountID)
	record.Schedule = strings.TrimSpace(record.Schedule)

	if err := s.validate.Struct(&record); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidAutomation, err)
	}
	if record.Schedule != "" {
		if err := common.ValidateSchedule(record.Schedule); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidAutomation, err)
		}
	}

	// Reject payloads the queue would refuse, at definition time rather than on first run
	payload, err := models.NormalizePayload(record.Kind, record.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidAutomation, err)
	}

	now := s.now()
	record.ID = common.NewAutomationID()
	record.Payload = payload
	record.CreatedAt = now
	record.UpdatedAt = now
	record.LastRunAt = time.Time{}
	record.LastJobID = ""

	if err := s.storage.SaveAutomation(ctx, &record); err != nil {
		return nil, err
	}
	if err := s.register(&record); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("automation_id", record.ID).
		Str("workspace_id", record.WorkspaceID).
		Str("kind", string(record.Kind)).
		Str("schedule", record.Schedule).
		Bool("enabled", record.Enabled).
		Msg("Automation created")

	return &record, nil
}

func (s *Service) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	return s.storage.GetAutomation(ctx, id)
}

func (s *Service) ListAutomations(ctx context.Context, workspaceID string) ([]*models.Automation, error) {
	return s.storage.ListAutomations(ctx, strings.TrimSpace(workspaceID))
}

func (s *Service) DeleteAutomation(ctx context.Context, id string) error {
	if err := s.storage.DeleteAutomation(ctx, id); err != nil {
		return err
	}
	s.unregister(id)

	s.logger.Info().Str("automation_id", id).Msg("Automation deleted")
	return nil
}

// TriggerAutomation enqueues a job from the automation now, whether or not it is scheduled
func (s *Service) TriggerAutomation(ctx context.Context, id string) (*models.Job, error) {
	automation, err := s.storage.GetAutomation(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, automation)
}

// register adds an enabled scheduled automation to cron. Safe to call for any automation.
func (s *Service) register(automation *models.Automation) error {
	if !automation.Enabled || automation.Schedule == "" {
		return nil
	}

	id := automation.ID
	entryID, err := s.cron.AddFunc(automation.Schedule, func() {
		s.runScheduled(id)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to add schedule %q: %v", models.ErrInvalidAutomation, automation.Schedule, err)
	}

	s.jobMu.Lock()
	if previous, ok := s.entries[id]; ok {
		s.cron.Remove(previous)
	}
	s.entries[id] = entryID
	s.jobMu.Unlock()

	s.logger.Debug().
		Str("automation_id", id).
		Str("schedule", automation.Schedule).
		Msg("Automation scheduled")
	return nil
}

func (s *Service) unregister(id string) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// runScheduled is the cron callback. It reloads the automation so deletes and
// disables made since registration are honoured.
func (s *Service) runScheduled(id string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("automation_id", id).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in scheduled automation")
		}
	}()

	ctx := context.Background()
	automation, err := s.storage.GetAutomation(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("automation_id", id).Msg("Scheduled automation no longer available")
		s.unregister(id)
		return
	}
	if !automation.Enabled {
		return
	}

	if _, err := s.fire(ctx, automation); err != nil {
		s.logger.Error().Err(err).Str("automation_id", id).Msg("Scheduled automation failed to enqueue")
	}
}

// fire materialises one job from automation and records it as the last run
func (s *Service) fire(ctx context.Context, automation *models.Automation) (*models.Job, error) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	job, err := s.enqueuer.Enqueue(ctx, models.EnqueueRequest{
		WorkspaceID:  automation.WorkspaceID,
		AccountID:    automation.AccountID,
		Kind:         automation.Kind,
		Payload:      automation.Payload,
		AutomationID: automation.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job for automation %s: %w", automation.ID, err)
	}

	now := s.now()
	automation.LastRunAt = now
	automation.LastJobID = job.ID
	automation.UpdatedAt = now
	if err := s.storage.SaveAutomation(ctx, automation); err != nil {
		// The job is already queued; only the bookkeeping is lost
		s.logger.Warn().Err(err).Str("automation_id", automation.ID).Msg("Failed to record automation run")
	}

	s.logger.Info().
		Str("automation_id", automation.ID).
		Str("job_id", job.ID).
		Msg("Automation triggered")

	return job, nil
}

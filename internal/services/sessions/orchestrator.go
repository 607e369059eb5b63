// Package sessions drives browser-automation logins as a pollable state machine.
//
// A session moves pending -> awaiting_interaction -> succeeded | failed | expired | cancelled.
// The driver runs out of band; callers only ever see the stored state. Harvested credentials
// are written to the credential store before the session is marked succeeded.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// ErrLoginCancelled is returned by drivers that stopped at a cancellation checkpoint
var ErrLoginCancelled = errors.New("login cancelled")

// ErrWorkspaceRequired is returned when a session is requested without a workspace
var ErrWorkspaceRequired = errors.New("workspace id is required")

// Orchestrator owns the login session lifecycle. All state transitions are serialized
// by one mutex so that concurrent starts for a workspace observe each other.
type Orchestrator struct {
	mu          sync.Mutex
	storage     interfaces.LoginSessionStorage
	credentials interfaces.CredentialStore
	driver      Driver
	events      interfaces.EventService
	logger      arbor.ILogger

	deadline      time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	// Driver contexts by session id, cancelled on expiry and shutdown
	running map[string]context.CancelFunc
	drivers sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates a session orchestrator
func NewOrchestrator(
	storage interfaces.LoginSessionStorage,
	credentials interfaces.CredentialStore,
	driver Driver,
	events interfaces.EventService,
	config *common.SessionsConfig,
	logger arbor.ILogger,
	opts ...Option,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		storage:       storage,
		credentials:   credentials,
		driver:        driver,
		events:        events,
		logger:        logger,
		deadline:      common.ParseDuration(config.Deadline, 5*time.Minute),
		sweepInterval: common.ParseDuration(config.SweepInterval, 15*time.Second),
		now:           time.Now,
		running:       make(map[string]context.CancelFunc),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartSession returns the workspace's active session, or creates one and launches the driver.
// It never waits for the driver.
func (o *Orchestrator) StartSession(ctx context.Context, workspaceID string) (*models.LoginSession, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, ErrWorkspaceRequired
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()

	active, err := o.storage.GetActiveSession(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if now.Before(active.Deadline) {
			o.logger.Debug().
				Str("session_id", active.ID).
				Str("workspace_id", workspaceID).
				Msg("Reusing active login session")
			return active, nil
		}
		// Past deadline but not yet swept
		if err := o.expireLocked(ctx, active, now); err != nil {
			return nil, err
		}
	}

	session := &models.LoginSession{
		ID:          common.NewLoginSessionID(),
		WorkspaceID: workspaceID,
		State:       models.LoginStatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Deadline:    now.Add(o.deadline),
	}
	if err := o.storage.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	driverCtx, cancel := context.WithTimeout(o.ctx, o.deadline)
	o.running[session.ID] = cancel
	o.drivers.Add(1)

	sessionID := session.ID
	common.SafeGo(o.logger, "login-driver:"+sessionID, func() {
		defer o.drivers.Done()
		defer cancel()
		o.runDriver(driverCtx, sessionID)
	})

	o.logger.Info().
		Str("session_id", session.ID).
		Str("workspace_id", workspaceID).
		Str("deadline", session.Deadline.Format(time.RFC3339)).
		Msg("Login session started")

	return session, nil
}

// PollSession returns the poll view of a session and stamps LastPolledAt
func (o *Orchestrator) PollSession(ctx context.Context, sessionID string) (*models.LoginSessionStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	session, err := o.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.LastPolledAt = o.now()
	if err := o.storage.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	status := session.Status()
	return &status, nil
}

// CancelSession moves a non-terminal session to cancelled and flags the driver to stop.
// Cancelling a terminal session returns it unchanged.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID string) (*models.LoginSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	session, err := o.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.IsTerminal() {
		return session, nil
	}

	now := o.now()
	session.CancelRequested = true
	session.State = models.LoginStateCancelled
	session.UpdatedAt = now
	session.CompletedAt = now
	if err := o.storage.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("session_id", session.ID).
		Str("workspace_id", session.WorkspaceID).
		Msg("Login session cancelled")

	return session, nil
}

// CheckExisting reports whether the workspace's default account has a stored credential set.
// It has no side effects.
func (o *Orchestrator) CheckExisting(ctx context.Context, workspaceID string) (*models.ExistingCredentialStatus, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, ErrWorkspaceRequired
	}

	status := &models.ExistingCredentialStatus{WorkspaceID: workspaceID}

	accountID, err := o.credentials.WorkspaceDefault(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return status, nil
	}

	set, err := o.credentials.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrCredentialNotFound) {
			return status, nil
		}
		return nil, err
	}

	status.Found = true
	status.AccountID = accountID
	status.Valid = set.Usable()
	return status, nil
}

// Sweep expires every active session whose deadline has passed and returns how many it expired
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	active, err := o.storage.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := o.now()
	expired := 0
	for _, session := range active {
		if now.Before(session.Deadline) {
			continue
		}
		if err := o.expireLocked(ctx, session, now); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (o *Orchestrator) expireLocked(ctx context.Context, session *models.LoginSession, now time.Time) error {
	session.State = models.LoginStateExpired
	session.Error = "login session deadline exceeded"
	session.UpdatedAt = now
	session.CompletedAt = now
	if err := o.storage.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to expire login session %s: %w", session.ID, err)
	}

	if cancel, ok := o.running[session.ID]; ok {
		cancel()
	}

	o.logger.Info().
		Str("session_id", session.ID).
		Str("workspace_id", session.WorkspaceID).
		Msg("Login session expired")
	return nil
}

// Start launches the background expiry sweep
func (o *Orchestrator) Start() {
	o.done = make(chan struct{})
	common.SafeGo(o.logger, "login-session-sweep", func() {
		defer close(o.done)

		ticker := time.NewTicker(o.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-o.ctx.Done():
				return
			case <-ticker.C:
				if n, err := o.Sweep(o.ctx); err != nil {
					o.logger.Error().Err(err).Msg("Login session sweep failed")
				} else if n > 0 {
					o.logger.Debug().Int("expired", n).Msg("Login session sweep expired sessions")
				}
			}
		}
	})

	o.logger.Info().
		Dur("sweep_interval", o.sweepInterval).
		Dur("deadline", o.deadline).
		Msg("Login session sweep started")
}

// Stop ends the sweep and every running driver
func (o *Orchestrator) Stop() {
	o.cancel()
	if o.done != nil {
		<-o.done
	}
	o.drivers.Wait()
}

func (o *Orchestrator) runDriver(ctx context.Context, sessionID string) {
	logger := o.logger.WithCorrelationId(sessionID)
	logger.Debug().Msg("Login driver started")

	wire, err := o.driver.Run(ctx, &progress{o: o, sessionID: sessionID})
	o.finish(sessionID, wire, err, ctx.Err())
}

// finish records the driver outcome. A session that already reached a terminal
// state keeps it and the outcome is discarded.
func (o *Orchestrator) finish(sessionID string, wire *models.CredentialWire, driverErr error, ctxErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.running, sessionID)

	ctx := context.Background()
	session, err := o.storage.GetSession(ctx, sessionID)
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to load login session for driver outcome")
		return
	}
	if session.State.IsTerminal() {
		o.logger.Debug().
			Str("session_id", sessionID).
			Str("state", string(session.State)).
			Msg("Discarding driver outcome for finished login session")
		return
	}

	now := o.now()

	switch {
	case driverErr != nil:
		o.failLocked(ctx, session, now, driverErr, ctxErr)
		return
	case wire == nil:
		o.failLocked(ctx, session, now, errors.New("driver returned no credentials"), nil)
		return
	}

	// A result that arrives after the deadline is discarded even if the sweep has not run yet
	if !now.Before(session.Deadline) {
		if err := o.expireLocked(ctx, session, now); err != nil {
			o.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to expire login session")
		}
		return
	}

	set, err := wire.ToCredentialSet("", now)
	if err != nil {
		o.failLocked(ctx, session, now, err, nil)
		return
	}

	// Credentials must be readable before any poller can observe succeeded
	if err := o.credentials.Put(ctx, set.AccountID, set); err != nil {
		o.failLocked(ctx, session, now, fmt.Errorf("failed to store credentials: %w", err), nil)
		return
	}
	if err := o.credentials.SetWorkspaceDefault(ctx, session.WorkspaceID, set.AccountID); err != nil {
		o.failLocked(ctx, session, now, fmt.Errorf("failed to record workspace account: %w", err), nil)
		return
	}

	session.State = models.LoginStateSucceeded
	session.AccountID = set.AccountID
	session.UpdatedAt = now
	session.CompletedAt = now
	session.Error = ""
	if err := o.storage.SaveSession(ctx, session); err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to mark login session succeeded")
		return
	}

	o.logger.Info().
		Str("session_id", sessionID).
		Str("workspace_id", session.WorkspaceID).
		Str("account_id", set.AccountID).
		Msg("Login session succeeded")

	if o.events != nil {
		event := interfaces.Event{
			Type: interfaces.EventLoginSucceeded,
			Payload: models.LoginSucceededPayload{
				SessionID:   sessionID,
				WorkspaceID: session.WorkspaceID,
				AccountID:   set.AccountID,
			},
		}
		if err := o.events.Publish(ctx, event); err != nil {
			o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to publish login success")
		}
	}
}

func (o *Orchestrator) failLocked(ctx context.Context, session *models.LoginSession, now time.Time, driverErr error, ctxErr error) {
	switch {
	case errors.Is(driverErr, ErrLoginCancelled) || session.CancelRequested:
		session.State = models.LoginStateCancelled
	case errors.Is(ctxErr, context.DeadlineExceeded) || !now.Before(session.Deadline):
		session.State = models.LoginStateExpired
	default:
		session.State = models.LoginStateFailed
	}
	session.Error = driverErr.Error()
	session.UpdatedAt = now
	session.CompletedAt = now

	if err := o.storage.SaveSession(ctx, session); err != nil {
		o.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to record login session failure")
		return
	}

	o.logger.Warn().
		Err(driverErr).
		Str("session_id", session.ID).
		Str("state", string(session.State)).
		Msg("Login session did not succeed")
}

// progress is the Progress handed to a driver
type progress struct {
	o         *Orchestrator
	sessionID string
}

func (p *progress) SessionID() string {
	return p.sessionID
}

func (p *progress) AwaitingInteraction() {
	o := p.o
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx := context.Background()
	session, err := o.storage.GetSession(ctx, p.sessionID)
	if err != nil || session.State != models.LoginStatePending {
		return
	}
	session.State = models.LoginStateAwaitingInteraction
	session.UpdatedAt = o.now()
	if err := o.storage.SaveSession(ctx, session); err != nil {
		o.logger.Warn().Err(err).Str("session_id", p.sessionID).Msg("Failed to record awaiting interaction")
	}
}

func (p *progress) Cancelled() bool {
	o := p.o
	o.mu.Lock()
	defer o.mu.Unlock()

	session, err := o.storage.GetSession(context.Background(), p.sessionID)
	if err != nil {
		return true
	}
	return session.CancelRequested || session.State.IsTerminal()
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/handlers"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/queue"
	"github.com/ternarybob/gramflow/internal/services/credentials"
	"github.com/ternarybob/gramflow/internal/services/events"
	"github.com/ternarybob/gramflow/internal/services/extension"
	"github.com/ternarybob/gramflow/internal/services/platform"
	"github.com/ternarybob/gramflow/internal/services/scheduler"
	"github.com/ternarybob/gramflow/internal/services/sessions"
	"github.com/ternarybob/gramflow/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     *events.Service
	SchedulerService interfaces.SchedulerService

	// Credential store and platform access
	CredentialService *credentials.Service
	PlatformLimiter   *platform.Limiter
	PlatformFactory   *platform.Factory

	// Login sessions
	SessionOrchestrator *sessions.Orchestrator

	// Job queue
	RedisClient  *redis.Client
	Locker       interfaces.AccountLocker
	QueueManager *queue.Manager

	// Browser extension bridge
	ExtensionService *extension.Service

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	SessionHandler    *handlers.SessionHandler
	JobHandler        *handlers.JobHandler
	AutomationHandler *handlers.AutomationHandler
	ExtensionHandler  *handlers.ExtensionHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start services: %w", err)
	}

	logger.Debug().Msg("Application initialization complete")

	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

func (a *App) initServices() error {
	// 1. Event service and notification subscribers
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeNotifications(a.EventService, &a.Config.Notifications, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe notifications: %w", err)
	}

	// 2. Credential store
	a.CredentialService = credentials.NewService(
		a.StorageManager.CredentialStorage(),
		a.StorageManager.WorkspaceStorage(),
		a.EventService,
		a.Logger,
		credentials.WithRetireLegacyKeys(a.Config.Credentials.RetireLegacyKeys),
	)

	if a.Config.Credentials.MigrateOnStartup {
		report, err := a.CredentialService.Migrate(context.Background())
		if err != nil {
			return fmt.Errorf("credential migration failed: %w", err)
		}
		a.Logger.Info().
			Int("scanned", report.Scanned).
			Int("migrated", report.Migrated).
			Int("retired", report.Retired).
			Int("failed", len(report.Failed)).
			Msg("Credential migration complete")
	}

	// 3. Platform client factory, sharing one limiter across all clients
	a.PlatformLimiter = platform.NewLimiter(&a.Config.Platform)
	a.PlatformFactory = platform.NewFactory(&a.Config.Platform, a.PlatformLimiter, a.Logger)

	// 4. Login session orchestrator driving a real browser
	driver := sessions.NewChromeDriver(&a.Config.Browser, a.Logger)
	a.SessionOrchestrator = sessions.NewOrchestrator(
		a.StorageManager.LoginSessionStorage(),
		a.CredentialService,
		driver,
		a.EventService,
		&a.Config.Sessions,
		a.Logger,
	)

	// 5. Per-account lock: Redis when configured, Badger leases otherwise
	if err := a.initLocker(); err != nil {
		return err
	}

	// 6. Job queue
	queueConfig := queue.NewConfig(&a.Config.Queue, &a.Config.Credentials)
	executor := queue.NewExecutor(a.CredentialService, a.PlatformFactory, queueConfig.RevalidateAfter, a.Logger)
	a.QueueManager = queue.NewManager(
		a.StorageManager.JobStorage(),
		a.Locker,
		executor,
		a.CredentialService,
		a.EventService,
		queueConfig,
		a.Logger,
	)

	// 7. Automations
	a.SchedulerService = scheduler.NewService(a.StorageManager.AutomationStorage(), a.QueueManager, a.Logger)

	// 8. Browser extension bridge
	a.ExtensionService = extension.NewService(a.CredentialService, a.PlatformFactory, a.Logger)

	return nil
}

func (a *App) initLocker() error {
	if a.Config.Redis.Addr == "" {
		db, ok := a.StorageManager.DB().(*badger.DB)
		if !ok || db == nil {
			return fmt.Errorf("badger database unavailable for account locks")
		}
		a.Locker = queue.NewBadgerLocker(db)
		a.Logger.Warn().Msg("Redis not configured, account locks are local to this process")
		return nil
	}

	a.RedisClient = redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.RedisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s failed: %w", a.Config.Redis.Addr, err)
	}

	a.Locker = queue.NewRedisLocker(a.RedisClient, a.Config.Redis.Prefix)
	a.Logger.Debug().Str("addr", a.Config.Redis.Addr).Msg("Redis account locks enabled")
	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.SessionOrchestrator, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.QueueManager, a.Logger)
	a.AutomationHandler = handlers.NewAutomationHandler(a.SchedulerService, a.Logger)
	a.ExtensionHandler = handlers.NewExtensionHandler(a.ExtensionService, a.Logger)
}

// start launches background loops: the session sweep, the queue dispatcher and the scheduler
func (a *App) start() error {
	a.SessionOrchestrator.Start()

	if err := a.QueueManager.Start(); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}

	if a.Config.Automations.Enabled {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		a.Logger.Debug().Msg("Automation scheduler disabled")
	}

	return nil
}

// Close stops producers before consumers, then releases storage
func (a *App) Close() error {
	if a.SchedulerService != nil && a.SchedulerService.IsRunning() {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.SessionOrchestrator != nil {
		a.SessionOrchestrator.Stop()
		a.Logger.Debug().Msg("Session orchestrator stopped")
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop queue manager")
		} else {
			a.Logger.Debug().Msg("Queue manager stopped")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}

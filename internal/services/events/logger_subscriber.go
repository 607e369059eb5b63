package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// AllEventTypes lists every notification the services publish
var AllEventTypes = []interfaces.EventType{
	interfaces.EventCredentialInvalidated,
	interfaces.EventJobFailed,
	interfaces.EventJobDeadLettered,
	interfaces.EventLoginSucceeded,
}

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		switch p := event.Payload.(type) {
		case models.CredentialInvalidatedPayload:
			logger.Warn().
				Str("event_type", string(event.Type)).
				Str("account_id", p.AccountID).
				Str("reason", p.Reason).
				Msg("Credential invalidated")
		case models.JobOutcomePayload:
			logger.Warn().
				Str("event_type", string(event.Type)).
				Str("job_id", p.JobID).
				Str("account_id", p.AccountID).
				Str("kind", string(p.Kind)).
				Int("attempts", p.Attempts).
				Str("error_kind", p.ErrorKind).
				Str("error", p.Error).
				Msg("Job did not succeed")
		case models.LoginSucceededPayload:
			logger.Info().
				Str("event_type", string(event.Type)).
				Str("session_id", p.SessionID).
				Str("workspace_id", p.WorkspaceID).
				Str("account_id", p.AccountID).
				Msg("Login succeeded")
		default:
			logger.Debug().
				Str("event_type", string(event.Type)).
				Msg("Event published")
		}
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range AllEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(AllEventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}

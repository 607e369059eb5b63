package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventCredentialInvalidated is published when the platform rejected a stored credential set
	EventCredentialInvalidated EventType = "credential_invalidated"
	EventJobFailed             EventType = "job_failed"
	EventJobDeadLettered       EventType = "job_dead_lettered"
	EventLoginSucceeded        EventType = "login_succeeded"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus. It is the notification collaborator:
// handler failures are logged and never reach the publisher.
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Unsubscribe from an event type
	Unsubscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}

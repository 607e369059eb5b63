package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
)

// WebhookNotification is the body posted to the notification webhook
type WebhookNotification struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
	SentAt  time.Time   `json:"sentAt"`
}

// WebhookSubscriber posts events to an external URL, retrying network failures and 5xx responses
type WebhookSubscriber struct {
	url         string
	client      *http.Client
	maxRetries  uint64
	initialWait time.Duration
	logger      arbor.ILogger
}

// NewWebhookSubscriber creates a webhook subscriber from the notifications configuration
func NewWebhookSubscriber(config *common.NotificationsConfig, logger arbor.ILogger) *WebhookSubscriber {
	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &WebhookSubscriber{
		url:         config.WebhookURL,
		client:      &http.Client{Timeout: common.ParseDuration(config.WebhookTimeout, 10*time.Second)},
		maxRetries:  uint64(maxRetries),
		initialWait: 500 * time.Millisecond,
		logger:      logger,
	}
}

// Handle delivers one event
func (w *WebhookSubscriber) Handle(ctx context.Context, event interfaces.Event) error {
	body, err := json.Marshal(WebhookNotification{
		Event:   string(event.Type),
		Payload: event.Payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.initialWait
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		return w.post(ctx, body)
	}
	notify := func(err error, wait time.Duration) {
		w.logger.Warn().
			Err(err).
			Str("event_type", string(event.Type)).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Webhook delivery failed, retrying")
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, w.maxRetries), ctx), notify)
	if err != nil {
		return fmt.Errorf("webhook delivery for %s failed after %d attempts: %w", event.Type, attempt, err)
	}

	w.logger.Debug().
		Str("event_type", string(event.Type)).
		Int("attempts", attempt).
		Msg("Webhook notification sent")
	return nil
}

func (w *WebhookSubscriber) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("webhook rejected notification with status %d", resp.StatusCode))
	}
}

// SubscribeNotifications wires the log subscriber and, when a URL is configured, the webhook
// subscriber to every event type.
func SubscribeNotifications(eventService interfaces.EventService, config *common.NotificationsConfig, logger arbor.ILogger) error {
	if err := SubscribeLoggerToAllEvents(eventService, logger); err != nil {
		return err
	}
	if config == nil || config.WebhookURL == "" {
		return nil
	}

	webhook := NewWebhookSubscriber(config, logger)
	for _, eventType := range AllEventTypes {
		if err := eventService.Subscribe(eventType, webhook.Handle); err != nil {
			return fmt.Errorf("failed to subscribe webhook to event type %s: %w", eventType, err)
		}
	}

	logger.Info().
		Str("url", config.WebhookURL).
		Msg("Webhook notifications enabled")
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

func TestPublish_DeliversToSubscribers(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var calls int32
	require.NoError(t, service.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobFailed}))
	service.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPublish_HandlerFailuresDoNotReachPublisher(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	require.NoError(t, service.Subscribe(interfaces.EventLoginSucceeded, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, service.Subscribe(interfaces.EventLoginSucceeded, func(ctx context.Context, event interfaces.Event) error {
		panic("handler panic")
	}))

	err := service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventLoginSucceeded})
	assert.NoError(t, err)
	service.Wait()
}

func TestPublish_SurvivesCancelledContext(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var sawCancelled atomic.Bool
	require.NoError(t, service.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		sawCancelled.Store(ctx.Err() != nil)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, service.Publish(ctx, interfaces.Event{Type: interfaces.EventJobFailed}))
	service.Wait()

	assert.False(t, sawCancelled.Load())
}

func TestPublishSync_ReportsFailures(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	require.NoError(t, service.Subscribe(interfaces.EventJobDeadLettered, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("boom")
	}))

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobDeadLettered})
	assert.Error(t, err)
}

func TestUnsubscribe(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var calls int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	require.NoError(t, service.Subscribe(interfaces.EventJobFailed, handler))
	require.NoError(t, service.Unsubscribe(interfaces.EventJobFailed, handler))
	assert.Error(t, service.Unsubscribe(interfaces.EventJobFailed, handler))

	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobFailed}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestLoggerSubscriber_HandlesEveryPayload(t *testing.T) {
	subscriber := NewLoggerSubscriber(arbor.NewLogger())
	ctx := context.Background()

	payloads := []interfaces.Event{
		{Type: interfaces.EventCredentialInvalidated, Payload: models.CredentialInvalidatedPayload{AccountID: "a", Reason: "expired"}},
		{Type: interfaces.EventJobFailed, Payload: models.JobOutcomePayload{JobID: "job_1", Kind: models.JobKindInboxFetch}},
		{Type: interfaces.EventLoginSucceeded, Payload: models.LoginSucceededPayload{SessionID: "login_1"}},
		{Type: interfaces.EventJobDeadLettered},
	}
	for _, event := range payloads {
		assert.NoError(t, subscriber(ctx, event))
	}
}

func TestWebhookSubscriber_RetriesServerErrors(t *testing.T) {
	var hits int32
	var received WebhookNotification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	webhook := NewWebhookSubscriber(&common.NotificationsConfig{WebhookURL: server.URL, MaxRetries: 5}, arbor.NewLogger())
	webhook.initialWait = time.Millisecond

	err := webhook.Handle(context.Background(), interfaces.Event{
		Type:    interfaces.EventCredentialInvalidated,
		Payload: models.CredentialInvalidatedPayload{AccountID: "acct-1", Reason: "login_required"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, "credential_invalidated", received.Event)
}

func TestWebhookSubscriber_DoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	webhook := NewWebhookSubscriber(&common.NotificationsConfig{WebhookURL: server.URL, MaxRetries: 5}, arbor.NewLogger())
	webhook.initialWait = time.Millisecond

	err := webhook.Handle(context.Background(), interfaces.Event{Type: interfaces.EventJobFailed})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestWebhookSubscriber_GivesUpAfterMaxRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	webhook := NewWebhookSubscriber(&common.NotificationsConfig{WebhookURL: server.URL, MaxRetries: 2}, arbor.NewLogger())
	webhook.initialWait = time.Millisecond

	err := webhook.Handle(context.Background(), interfaces.Event{Type: interfaces.EventJobDeadLettered})
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestSubscribeNotifications_WebhookOptional(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	require.NoError(t, SubscribeNotifications(service, &common.NotificationsConfig{}, arbor.NewLogger()))
	for _, eventType := range AllEventTypes {
		assert.Len(t, service.handlersFor(eventType), 1)
	}
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// Executor resolves a job's credentials and runs the matching platform operation
type Executor struct {
	credentials     interfaces.CredentialStore
	clients         interfaces.PlatformClientFactory
	revalidateAfter time.Duration
	now             func() time.Time
	logger          arbor.ILogger
}

// NewExecutor creates a job executor
func NewExecutor(credentials interfaces.CredentialStore, clients interfaces.PlatformClientFactory, revalidateAfter time.Duration, logger arbor.ILogger) *Executor {
	return &Executor{
		credentials:     credentials,
		clients:         clients,
		revalidateAfter: revalidateAfter,
		now:             time.Now,
		logger:          logger,
	}
}

// Execute runs job and returns its JSON result. Credential problems are returned as
// models.ErrCredentialNotFound or models.ErrCredentialInvalid; platform failures as *platform.Error.
func (e *Executor) Execute(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	payload, err := models.DecodePayload(job.Kind, job.Payload)
	if err != nil {
		return nil, err
	}

	set, err := e.credentials.Get(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}
	if !set.Usable() {
		return nil, fmt.Errorf("%w: account %s", models.ErrCredentialInvalid, job.AccountID)
	}

	client := e.clients.NewClient(set)

	if job.Kind != models.JobKindVerifySession && e.revalidationDue(set) {
		if _, err := client.VerifySession(ctx); err != nil {
			return nil, err
		}
		e.markValidated(ctx, job.AccountID)
	}

	result, err := e.run(ctx, client, job.Kind, payload)
	if err != nil {
		return nil, err
	}
	if job.Kind == models.JobKindVerifySession {
		e.markValidated(ctx, job.AccountID)
	}

	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", job.Kind, err)
	}
	return raw, nil
}

func (e *Executor) run(ctx context.Context, client interfaces.PlatformClient, kind models.JobKind, payload interface{}) (interface{}, error) {
	switch p := payload.(type) {
	case *models.MessageSendPayload:
		return client.SendMessage(ctx, p.ThreadID, p.Text)
	case *models.InboxFetchPayload:
		return client.FetchInbox(ctx, p.Cursor, p.Limit)
	case *models.ThreadFetchPayload:
		return client.FetchThreadMessages(ctx, p.ThreadID, p.Cursor, p.Limit)
	case *models.MarkSeenPayload:
		if err := client.MarkThreadSeen(ctx, p.ThreadID, p.ItemID); err != nil {
			return nil, err
		}
		return map[string]string{"threadId": p.ThreadID, "itemId": p.ItemID}, nil
	case *models.ProfileFetchPayload:
		return client.FetchUserByUsername(ctx, p.Username)
	case *models.FollowListPayload:
		if kind == models.JobKindFollowingFetch {
			return client.FetchFollowing(ctx, p.UserID, p.Cursor, p.Limit)
		}
		return client.FetchFollowers(ctx, p.UserID, p.Cursor, p.Limit)
	case *models.SearchPayload:
		return client.SearchByKeyword(ctx, p.Keyword, p.Scope, p.Limit)
	case *models.PostFetchPayload:
		return client.FetchPostByShortcode(ctx, p.Shortcode)
	case *models.RecentMediaPayload:
		return client.FetchRecentMedia(ctx, p.UserID, p.Limit)
	case *models.VerifySessionPayload:
		return client.VerifySession(ctx)
	default:
		return nil, fmt.Errorf("%w: no executor for job kind %q", models.ErrInvalidJob, kind)
	}
}

// revalidationDue reports whether the set has gone unverified for longer than revalidateAfter
func (e *Executor) revalidationDue(set *models.CredentialSet) bool {
	if e.revalidateAfter <= 0 {
		return false
	}
	last := set.LastValidatedAt
	if set.CapturedAt.After(last) {
		last = set.CapturedAt
	}
	return e.now().Sub(last) > e.revalidateAfter
}

func (e *Executor) markValidated(ctx context.Context, accountID string) {
	if err := e.credentials.MarkValidated(ctx, accountID, e.now()); err != nil && !errors.Is(err, models.ErrCredentialNotFound) {
		e.logger.Warn().Err(err).Str("account_id", accountID).Msg("Failed to record session validation")
	}
}

package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/ternarybob/gramflow/internal/services/credentials"
	"github.com/ternarybob/gramflow/internal/services/platform"
	storagebadger "github.com/ternarybob/gramflow/internal/storage/badger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakePlatform records calls per account and can gate or fail them
type fakePlatform struct {
	mu        sync.Mutex
	calls     map[string][]string
	active    map[string]int
	maxActive map[string]int
	failures  map[string][]error
	gates     map[string]chan struct{}
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		calls:     make(map[string][]string),
		active:    make(map[string]int),
		maxActive: make(map[string]int),
		failures:  make(map[string][]error),
		gates:     make(map[string]chan struct{}),
	}
}

// failNext makes the next calls of op fail with errs in order
func (f *fakePlatform) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// gate blocks op until the returned function is called
func (f *fakePlatform) gate(op string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakePlatform) callsFor(accountID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[accountID]...)
}

func (f *fakePlatform) maxActiveFor(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive[accountID]
}

func (f *fakePlatform) invoke(ctx context.Context, accountID, op string) error {
	f.mu.Lock()
	f.calls[accountID] = append(f.calls[accountID], op)
	f.active[accountID]++
	if f.active[accountID] > f.maxActive[accountID] {
		f.maxActive[accountID] = f.active[accountID]
	}
	gate := f.gates[op]
	var err error
	if queued := f.failures[op]; len(queued) > 0 {
		err = queued[0]
		f.failures[op] = queued[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	f.mu.Lock()
	f.active[accountID]--
	f.mu.Unlock()
	return err
}

func (f *fakePlatform) NewClient(set *models.CredentialSet) interfaces.PlatformClient {
	return &fakeClient{platform: f, accountID: set.AccountID}
}

type fakeClient struct {
	platform  *fakePlatform
	accountID string
}

func (c *fakeClient) VerifySession(ctx context.Context) (*models.AccountIdentity, error) {
	if err := c.platform.invoke(ctx, c.accountID, "verify"); err != nil {
		return nil, err
	}
	return &models.AccountIdentity{UserID: c.accountID, Username: "user_" + c.accountID}, nil
}

func (c *fakeClient) FetchInbox(ctx context.Context, cursor string, limit int) (*models.InboxPage, error) {
	if err := c.platform.invoke(ctx, c.accountID, "inbox"); err != nil {
		return nil, err
	}
	return &models.InboxPage{Threads: []models.InboxThread{{ThreadID: "t1"}}}, nil
}

func (c *fakeClient) FetchThreadMessages(ctx context.Context, threadID, cursor string, limit int) (*models.ThreadPage, error) {
	if err := c.platform.invoke(ctx, c.accountID, "thread"); err != nil {
		return nil, err
	}
	return &models.ThreadPage{}, nil
}

func (c *fakeClient) MarkThreadSeen(ctx context.Context, threadID, itemID string) error {
	return c.platform.invoke(ctx, c.accountID, "seen")
}

func (c *fakeClient) SendMessage(ctx context.Context, threadID, text string) (*models.SentMessage, error) {
	if err := c.platform.invoke(ctx, c.accountID, "send"); err != nil {
		return nil, err
	}
	return &models.SentMessage{ThreadID: threadID, ItemID: "item-1"}, nil
}

func (c *fakeClient) SearchByKeyword(ctx context.Context, keyword, scope string, limit int) (*models.SearchResult, error) {
	if err := c.platform.invoke(ctx, c.accountID, "search"); err != nil {
		return nil, err
	}
	return &models.SearchResult{}, nil
}

func (c *fakeClient) FetchUserByUsername(ctx context.Context, username string) (*models.UserProfile, error) {
	if err := c.platform.invoke(ctx, c.accountID, "profile"); err != nil {
		return nil, err
	}
	return &models.UserProfile{Username: username}, nil
}

func (c *fakeClient) FetchFollowers(ctx context.Context, userID, cursor string, limit int) (*models.UserPage, error) {
	if err := c.platform.invoke(ctx, c.accountID, "followers"); err != nil {
		return nil, err
	}
	return &models.UserPage{}, nil
}

func (c *fakeClient) FetchFollowing(ctx context.Context, userID, cursor string, limit int) (*models.UserPage, error) {
	if err := c.platform.invoke(ctx, c.accountID, "following"); err != nil {
		return nil, err
	}
	return &models.UserPage{}, nil
}

func (c *fakeClient) FetchPostByShortcode(ctx context.Context, shortcode string) (*models.Post, error) {
	if err := c.platform.invoke(ctx, c.accountID, "post"); err != nil {
		return nil, err
	}
	return &models.Post{}, nil
}

func (c *fakeClient) FetchRecentMedia(ctx context.Context, userID string, limit int) (*models.MediaPage, error) {
	if err := c.platform.invoke(ctx, c.accountID, "media"); err != nil {
		return nil, err
	}
	return &models.MediaPage{}, nil
}

// recordingEvents captures published events
type recordingEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *recordingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }
func (r *recordingEvents) Unsubscribe(interfaces.EventType, interfaces.EventHandler) error {
	return nil
}
func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) Publish(ctx context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return r.Publish(ctx, event)
}

func (r *recordingEvents) types() []interfaces.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]interfaces.EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

type queueFixture struct {
	manager     *Manager
	jobs        interfaces.JobStorage
	credentials *credentials.Service
	platform    *fakePlatform
	events      *recordingEvents
	clock       *testClock
}

func newQueueFixture(t *testing.T, mutate func(*Config)) *queueFixture {
	t.Helper()
	return newQueueFixtureWithLocker(t, mutate, nil)
}

// newQueueFixtureWithLocker uses locker for account leases, or a Badger locker when nil
func newQueueFixtureWithLocker(t *testing.T, mutate func(*Config), locker interfaces.AccountLocker) *queueFixture {
	t.Helper()

	logger := arbor.NewLogger()
	storage, err := storagebadger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	events := &recordingEvents{}
	creds := credentials.NewService(storage.CredentialStorage(), storage.WorkspaceStorage(), events, logger, credentials.WithClock(clock.Now))
	fake := newFakePlatform()

	config := Config{
		PollInterval: time.Hour,
		Concurrency:  4,
		MaxAttempts:  3,
		BaseBackoff:  30 * time.Second,
		MaxBackoff:   10 * time.Minute,
		LockTTL:      time.Minute,
	}
	if mutate != nil {
		mutate(&config)
	}

	if locker == nil {
		locker = NewBadgerLocker(storage.DB().(*badger.DB))
	}
	executor := NewExecutor(creds, fake, config.RevalidateAfter, logger)
	manager := NewManager(storage.JobStorage(), locker, executor, creds, events, config, logger, WithClock(clock.Now))

	// Dispatch is driven by the tests, only the workers run in the background
	manager.pool.Start()
	t.Cleanup(func() {
		manager.pool.Stop()
		storage.Close()
	})

	return &queueFixture{
		manager:     manager,
		jobs:        storage.JobStorage(),
		credentials: creds,
		platform:    fake,
		events:      events,
		clock:       clock,
	}
}

func (f *queueFixture) storeCredentials(t *testing.T, accountID string) {
	t.Helper()
	require.NoError(t, f.credentials.Put(context.Background(), accountID, &models.CredentialSet{
		SessionID: "sess-" + accountID,
		CSRFToken: "csrf",
		DSUserID:  accountID,
	}))
}

func (f *queueFixture) enqueue(t *testing.T, accountID string, kind models.JobKind, payload string) *models.Job {
	t.Helper()
	job, err := f.manager.Enqueue(context.Background(), models.EnqueueRequest{
		WorkspaceID: "ws-1",
		AccountID:   accountID,
		Kind:        kind,
		Payload:     json.RawMessage(payload),
	})
	require.NoError(t, err)
	return job
}

// dispatchOne retries until exactly one job was dispatched; the previous lease is
// released just after the job's outcome is recorded.
func (f *queueFixture) dispatchOne(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := f.manager.Dispatch(context.Background())
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func (f *queueFixture) waitState(t *testing.T, jobID string, state models.JobState) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := f.jobs.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestEnqueue_ValidatesKindAndPayload(t *testing.T) {
	f := newQueueFixture(t, nil)
	ctx := context.Background()

	_, err := f.manager.Enqueue(ctx, models.EnqueueRequest{WorkspaceID: "ws-1", AccountID: "a", Kind: "teleport"})
	assert.ErrorIs(t, err, models.ErrInvalidJob)

	_, err = f.manager.Enqueue(ctx, models.EnqueueRequest{WorkspaceID: "ws-1", AccountID: "a", Kind: models.JobKindMessageSend, Payload: json.RawMessage(`{"text":"hi"}`)})
	assert.ErrorIs(t, err, models.ErrInvalidJob)

	_, err = f.manager.Enqueue(ctx, models.EnqueueRequest{WorkspaceID: "ws-1", Kind: models.JobKindInboxFetch})
	assert.ErrorIs(t, err, models.ErrInvalidJob)

	job, err := f.manager.Enqueue(ctx, models.EnqueueRequest{WorkspaceID: "ws-1", AccountID: "a", Kind: models.JobKindSearch, Payload: json.RawMessage(`{"keyword":"coffee"}`)})
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, job.State)
	assert.Equal(t, 0, job.Attempts)
	assert.True(t, job.NextEligibleAt.Equal(f.clock.Now()))
	assert.JSONEq(t, `{"keyword":"coffee","limit":20,"scope":"blended"}`, string(job.Payload))
}

func TestDispatch_SerializesJobsPerAccount(t *testing.T) {
	f := newQueueFixture(t, nil)
	f.storeCredentials(t, "acct-a")
	f.storeCredentials(t, "acct-b")

	releaseInbox := f.platform.gate("inbox")

	inbox := f.enqueue(t, "acct-a", models.JobKindInboxFetch, `{}`)
	f.clock.Advance(time.Second)
	send := f.enqueue(t, "acct-a", models.JobKindMessageSend, `{"threadId":"t1","text":"hello"}`)
	other := f.enqueue(t, "acct-b", models.JobKindProfileFetch, `{"username":"someone"}`)

	n, err := f.manager.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.waitState(t, other.ID, models.JobStateSucceeded)
	f.waitState(t, inbox.ID, models.JobStateRunning)

	// acct-a is busy, so message_send stays queued with no attempt counted
	for i := 0; i < 3; i++ {
		n, err = f.manager.Dispatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	stored, err := f.jobs.GetJob(context.Background(), send.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, stored.State)
	assert.Equal(t, 0, stored.Attempts)

	releaseInbox()
	f.waitState(t, inbox.ID, models.JobStateSucceeded)

	f.dispatchOne(t)
	done := f.waitState(t, send.ID, models.JobStateSucceeded)
	assert.Equal(t, 1, done.Attempts)
	assert.JSONEq(t, `{"threadId":"t1","itemId":"item-1"}`, string(done.Result))

	assert.Equal(t, []string{"inbox", "send"}, f.platform.callsFor("acct-a"))
	assert.Equal(t, 1, f.platform.maxActiveFor("acct-a"))
}

func newRedisTestLocker(t *testing.T, server *miniredis.Miniredis) *RedisLocker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "gramflow:lock:")
}

func TestDispatch_TwoManagersSharingLocksSerializePerAccount(t *testing.T) {
	logger := arbor.NewLogger()
	storage, err := storagebadger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	server := miniredis.RunT(t)

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	events := &recordingEvents{}
	creds := credentials.NewService(storage.CredentialStorage(), storage.WorkspaceStorage(), events, logger, credentials.WithClock(clock.Now))
	fake := newFakePlatform()
	config := Config{PollInterval: time.Hour, Concurrency: 4, MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute, LockTTL: time.Minute}

	managers := make([]*Manager, 2)
	for i := range managers {
		executor := NewExecutor(creds, fake, 0, logger)
		managers[i] = NewManager(storage.JobStorage(), newRedisTestLocker(t, server), executor, creds, events, config, logger, WithClock(clock.Now))
		managers[i].pool.Start()
	}
	t.Cleanup(func() {
		for _, m := range managers {
			m.pool.Stop()
		}
		storage.Close()
	})

	ctx := context.Background()
	var jobIDs []string
	for _, account := range []string{"acct-a", "acct-b"} {
		require.NoError(t, creds.Put(ctx, account, &models.CredentialSet{SessionID: "sess-" + account, CSRFToken: "csrf", DSUserID: account}))
		for _, req := range []models.EnqueueRequest{
			{WorkspaceID: "ws-1", AccountID: account, Kind: models.JobKindInboxFetch, Payload: json.RawMessage(`{}`)},
			{WorkspaceID: "ws-1", AccountID: account, Kind: models.JobKindProfileFetch, Payload: json.RawMessage(`{"username":"one"}`)},
			{WorkspaceID: "ws-1", AccountID: account, Kind: models.JobKindProfileFetch, Payload: json.RawMessage(`{"username":"two"}`)},
		} {
			job, err := managers[0].Enqueue(ctx, req)
			require.NoError(t, err)
			jobIDs = append(jobIDs, job.ID)
			clock.Advance(time.Second)
		}
	}

	releaseInbox := fake.gate("inbox")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = m.Dispatch(ctx)
				time.Sleep(2 * time.Millisecond)
			}
		}(m)
	}

	// Both inbox fetches hold their account; neither manager may start a second job
	require.Eventually(t, func() bool {
		running, err := storage.JobStorage().ListJobsByState(ctx, models.JobStateRunning)
		return err == nil && len(running) == 2
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	running, err := storage.JobStorage().ListJobsByState(ctx, models.JobStateRunning)
	require.NoError(t, err)
	assert.Len(t, running, 2)

	releaseInbox()
	require.Eventually(t, func() bool {
		for _, id := range jobIDs {
			job, err := storage.JobStorage().GetJob(ctx, id)
			if err != nil || job.State != models.JobStateSucceeded {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)
	close(stop)
	wg.Wait()

	for _, account := range []string{"acct-a", "acct-b"} {
		assert.Equal(t, 1, fake.maxActiveFor(account), account)
		assert.Equal(t, []string{"inbox", "profile", "profile"}, fake.callsFor(account), account)
	}
	for _, id := range jobIDs {
		job, err := storage.JobStorage().GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, job.Attempts, id)
	}
}

func TestLeaseLost_CancelsRunningJobAndRetries(t *testing.T) {
	server := miniredis.RunT(t)
	f := newQueueFixtureWithLocker(t, func(c *Config) {
		c.LockTTL = 300 * time.Millisecond
	}, newRedisTestLocker(t, server))
	f.storeCredentials(t, "acct-a")

	releaseInbox := f.platform.gate("inbox")
	defer releaseInbox()

	job := f.enqueue(t, "acct-a", models.JobKindInboxFetch, `{}`)
	f.dispatchOne(t)
	f.waitState(t, job.ID, models.JobStateRunning)

	// Another holder takes the account over
	require.NoError(t, server.Set("gramflow:lock:acct-a", "someone-else"))

	retrying := f.waitState(t, job.ID, models.JobStateRetrying)
	assert.Equal(t, "lease_lost", retrying.ErrorKind)
	assert.Contains(t, retrying.LastError, ErrLeaseLost.Error())
	assert.True(t, retrying.NextEligibleAt.After(f.clock.Now()))

	// The new holder's lock is left alone
	value, err := server.Get("gramflow:lock:acct-a")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestDispatch_OldestFirstWithinAccount(t *testing.T) {
	f := newQueueFixture(t, nil)
	f.storeCredentials(t, "acct-a")

	first := f.enqueue(t, "acct-a", models.JobKindInboxFetch, `{}`)
	f.clock.Advance(time.Second)
	second := f.enqueue(t, "acct-a", models.JobKindMarkSeen, `{"threadId":"t1","itemId":"i1"}`)

	f.dispatchOne(t)
	f.waitState(t, first.ID, models.JobStateSucceeded)
	f.dispatchOne(t)
	f.waitState(t, second.ID, models.JobStateSucceeded)

	assert.Equal(t, []string{"inbox", "seen"}, f.platform.callsFor("acct-a"))
}

func TestTransientFailures_RetryWithBackoffThenDeadLetter(t *testing.T) {
	f := newQueueFixture(t, nil)
	f.storeCredentials(t, "acct-a")

	transient := &platform.Error{Kind: platform.KindTransient, StatusCode: 502, Endpoint: "inbox"}
	f.platform.failNext("inbox", transient, transient, transient)

	job := f.enqueue(t, "acct-a", models.JobKindInboxFetch, `{}`)

	expectedDelays := []time.Duration{30 * time.Second, 60 * time.Second}
	for i, delay := range expectedDelays {
		f.dispatchOne(t)
		retrying := f.waitState(t, job.ID, models.JobStateRetrying)
		assert.Equal(t, i+1, retrying.Attempts)
		assert.Equal(t, string(platform.KindTransient), retrying.ErrorKind)
		assert.True(t, retrying.NextEligibleAt.Equal(f.clock.Now().Add(delay)))

		// Not yet eligible
		n, err := f.manager.Dispatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		f.clock.Advance(delay)
	}

	f.dispatchOne(t)
	dead := f.waitState(t, job.ID, models.JobStateDeadLettered)
	assert.Equal(t, 3, dead.Attempts)
	assert.False(t, dead.CompletedAt.IsZero())
	assert.Contains(t, dead.LastError, "transient_network_error")

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]interfaces.EventType{interfaces.EventJobDeadLettered}, f.events.types())
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRateLimited_HonoursRetryAfter(t *testing.T) {
	f := newQueueFixture(t, nil)
	f.storeCredentials(t, "acct-a")

	f.platform.failNext("profile", &platform.Error{Kind: platform.KindRateLimited, RetryAfter: 90 * time.Second})
	job := f.enqueue(t, "acct-a", models.JobKindProfileFetch, `{"username":"x"}`)

	f.dispatchOne(t)
	retrying := f.waitState(t, job.ID, models.JobStateRetrying)
	assert.Equal(t, 1, retrying.Attempts)
	assert.True(t, retrying.NextEligibleAt.Equal(f.clock.Now().Add(90*time.Second)))
	assert.Equal(t, string(platform.KindRateLimited), retrying.ErrorKind)

	f.clock.Advance(89 * time.Second)
	n, err := f.manager.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(time.Second)
	f.dispatchOne(t)
	done := f.waitState(t, job.ID, models.JobStateSucceeded)
	assert.Equal(t, 2, done.Attempts)
}

func TestSessionExpired_InvalidatesCredentialsAndFailsFast(t *testing.T) {
	f := newQueueFixture(t, nil)
	ctx := context.Background()
	f.storeCredentials(t, "acct-a")

	f.platform.failNext("verify", &platform.Error{Kind: platform.KindSessionExpired, StatusCode: 401, Detail: "login_required"})
	job := f.enqueue(t, "acct-a", models.JobKindVerifySession, `{}`)

	f.dispatchOne(t)
	failed := f.waitState(t, job.ID, models.JobStateFailed)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, string(platform.KindSessionExpired), failed.ErrorKind)

	set, err := f.credentials.Get(ctx, "acct-a")
	require.NoError(t, err)
	assert.False(t, set.Valid)
	assert.Contains(t, set.InvalidationReason, "login_required")

	// The next job fails without touching the platform
	next := f.enqueue(t, "acct-a", models.JobKindInboxFetch, `{}`)
	f.dispatchOne(t)
	rejected := f.waitState(t, next.ID, models.JobStateFailed)
	assert.Equal(t, errorKindCredentialInvalid, rejected.ErrorKind)
	assert.Contains(t, rejected.LastError, models.ErrCredentialInvalid.Error())
	assert.Equal(t, []string{"verify"}, f.platform.callsFor("acct-a"))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]interfaces.EventType{
			interfaces.EventCredentialInvalidated,
			interfaces.EventJobFailed,
			interfaces.EventJobFailed,
		}, f.events.types())
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNotFound_FailsWithVerbatimDetail(t *testing.T) {
	f := newQueueFixture(t, nil)
	f.storeCredentials(t, "acct-a")

	notFound := &platform.Error{Kind: platform.KindNotFound, StatusCode: 404, Endpoint: "/api/v1/media/9/info/", Detail: "Media not found or unavailable"}
	f.platform.failNext("post", notFound)
	job := f.enqueue(t, "acct-a", models.JobKindPostFetch, `{"shortcode":"abc"}`)

	f.dispatchOne(t)
	failed := f.waitState(t, job.ID, models.JobStateFailed)
	assert.Equal(t, notFound.Error(), failed.LastError)
	assert.Equal(t, string(platform.KindNotFound), failed.ErrorKind)
	assert.Equal(t, 1, failed.Attempts)
}

func TestMissingCredentials_FailsWithoutRetry(t *testing.T) {
	f := newQueueFixture(t, nil)

	job := f.enqueue(t, "nobody", models.JobKindInboxFetch, `{}`)
	f.dispatchOne(t)

	failed := f.waitState(t, job.ID, models.JobStateFailed)
	assert.Equal(t, errorKindCredentialMissing, failed.ErrorKind)
	assert.Empty(t, f.platform.callsFor("nobody"))
}

func TestLazyRevalidation_VerifiesStaleCredentialsFirst(t *testing.T) {
	f := newQueueFixture(t, func(c *Config) { c.RevalidateAfter = time.Hour })
	ctx := context.Background()
	f.storeCredentials(t, "acct-a")

	fresh := f.enqueue(t, "acct-a", models.JobKindProfileFetch, `{"username":"x"}`)
	f.dispatchOne(t)
	f.waitState(t, fresh.ID, models.JobStateSucceeded)
	assert.Equal(t, []string{"profile"}, f.platform.callsFor("acct-a"))

	f.clock.Advance(2 * time.Hour)
	stale := f.enqueue(t, "acct-a", models.JobKindProfileFetch, `{"username":"y"}`)
	f.dispatchOne(t)
	f.waitState(t, stale.ID, models.JobStateSucceeded)
	assert.Equal(t, []string{"profile", "verify", "profile"}, f.platform.callsFor("acct-a"))

	set, err := f.credentials.Get(ctx, "acct-a")
	require.NoError(t, err)
	assert.True(t, set.LastValidatedAt.Equal(f.clock.Now()))
}

func TestRecoverStale_RequeuesAbandonedRunningJobs(t *testing.T) {
	f := newQueueFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()

	abandoned := &models.Job{
		ID: "job_abandoned", WorkspaceID: "ws-1", AccountID: "acct-a", Kind: models.JobKindInboxFetch,
		State: models.JobStateRunning, Attempts: 2, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-5 * time.Minute),
	}
	alive := &models.Job{
		ID: "job_alive", WorkspaceID: "ws-1", AccountID: "acct-b", Kind: models.JobKindInboxFetch,
		State: models.JobStateRunning, Attempts: 1, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-10 * time.Second),
	}
	require.NoError(t, f.jobs.SaveJob(ctx, abandoned))
	require.NoError(t, f.jobs.SaveJob(ctx, alive))

	n, err := f.manager.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recovered, err := f.jobs.GetJob(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, recovered.State)
	assert.Equal(t, 2, recovered.Attempts)

	untouched, err := f.jobs.GetJob(ctx, alive.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, untouched.State)
}

func TestComplete_TerminalJobIsImmutable(t *testing.T) {
	f := newQueueFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()

	job := &models.Job{
		ID: "job_done", WorkspaceID: "ws-1", AccountID: "acct-a", Kind: models.JobKindInboxFetch,
		State: models.JobStateSucceeded, Attempts: 1, Result: json.RawMessage(`{"ok":true}`),
		CreatedAt: now, UpdatedAt: now, CompletedAt: now,
	}
	require.NoError(t, f.jobs.SaveJob(ctx, job))

	err := f.manager.pool.complete(ctx, job, nil, &platform.Error{Kind: platform.KindTransient}, arbor.NewLogger())
	assert.ErrorIs(t, err, models.ErrJobTerminal)

	stored, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSucceeded, stored.State)
	assert.JSONEq(t, `{"ok":true}`, string(stored.Result))
	assert.Empty(t, stored.LastError)
}

func TestListJobs_FiltersByState(t *testing.T) {
	f := newQueueFixture(t, nil)
	ctx := context.Background()

	f.enqueue(t, "acct-a", models.JobKindInboxFetch, `{}`)
	f.clock.Advance(time.Second)
	f.enqueue(t, "acct-b", models.JobKindInboxFetch, `{}`)

	jobs, err := f.manager.ListJobs(ctx, models.JobFilter{WorkspaceID: "ws-1", State: models.JobStateQueued})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "acct-b", jobs[0].AccountID)

	_, err = f.manager.ListJobs(ctx, models.JobFilter{State: "paused"})
	assert.ErrorIs(t, err, models.ErrInvalidJob)
}

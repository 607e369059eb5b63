package credentials

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/ternarybob/gramflow/internal/storage/badger"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *recordingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }
func (r *recordingEvents) Unsubscribe(interfaces.EventType, interfaces.EventHandler) error {
	return nil
}
func (r *recordingEvents) PublishSync(ctx context.Context, e interfaces.Event) error {
	return r.Publish(ctx, e)
}
func (r *recordingEvents) Close() error { return nil }
func (r *recordingEvents) Publish(_ context.Context, e interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, interfaces.StorageManager, *recordingEvents) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	events := &recordingEvents{}
	return NewService(manager.CredentialStorage(), manager.WorkspaceStorage(), events, logger, opts...), manager, events
}

func TestPut_RejectsMissingMandatoryFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		wire models.CredentialWire
	}{
		{"empty session id", models.CredentialWire{SessionID: "", CSRFToken: "x", DSUserID: "1"}},
		{"blank csrf token", models.CredentialWire{SessionID: "s", CSRFToken: "   ", DSUserID: "1"}},
		{"missing user id", models.CredentialWire{SessionID: "s", CSRFToken: "x"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := &models.CredentialSet{SessionID: tc.wire.SessionID, CSRFToken: tc.wire.CSRFToken, DSUserID: tc.wire.DSUserID}
			err := svc.Put(ctx, "1", set)
			assert.ErrorIs(t, err, models.ErrInvalidCredentialSet)

			_, err = svc.Get(ctx, "1")
			assert.ErrorIs(t, err, models.ErrCredentialNotFound, "rejected sets are never stored")
		})
	}
}

func TestPut_SupersedesAndRevalidates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Put(ctx, "42", &models.CredentialSet{SessionID: "s1", CSRFToken: "c1", DSUserID: "42"}))
	require.NoError(t, svc.Invalidate(ctx, "42", "login_required"))

	require.NoError(t, svc.Put(ctx, "42", &models.CredentialSet{SessionID: "s2", CSRFToken: "c2", DSUserID: "42"}))

	got, err := svc.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.SessionID)
	assert.True(t, got.Valid)
	assert.Empty(t, got.InvalidationReason)
	assert.Equal(t, models.CredentialFormatCurrent, got.FormatVersion)
	assert.False(t, got.CapturedAt.IsZero())
}

func TestInvalidate_KeepsRecordFlaggedInvalid(t *testing.T) {
	svc, _, events := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Put(ctx, "7", &models.CredentialSet{SessionID: "s", CSRFToken: "c", DSUserID: "7"}))
	require.NoError(t, svc.Invalidate(ctx, "7", "session expired"))

	got, err := svc.Get(ctx, "7")
	require.NoError(t, err)
	assert.False(t, got.Valid)
	assert.False(t, got.Usable())
	assert.Equal(t, "session expired", got.InvalidationReason)

	require.Len(t, events.events, 1)
	assert.Equal(t, interfaces.EventCredentialInvalidated, events.events[0].Type)

	err = svc.Invalidate(ctx, "unknown", "x")
	assert.ErrorIs(t, err, models.ErrCredentialNotFound)
}

func TestMarkValidated_DoesNotReviveInvalidSet(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, svc.Put(ctx, "8", &models.CredentialSet{SessionID: "s", CSRFToken: "c", DSUserID: "8"}))
	require.NoError(t, svc.MarkValidated(ctx, "8", at))

	got, err := svc.Get(ctx, "8")
	require.NoError(t, err)
	assert.True(t, got.LastValidatedAt.Equal(at))

	require.NoError(t, svc.Invalidate(ctx, "8", "expired"))
	require.NoError(t, svc.MarkValidated(ctx, "8", at.Add(time.Hour)))

	got, err = svc.Get(ctx, "8")
	require.NoError(t, err)
	assert.False(t, got.Valid)
	assert.True(t, got.LastValidatedAt.Equal(at))
}

func TestGet_ReadsLegacyBeforeMigration(t *testing.T) {
	svc, manager, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, manager.CredentialStorage().PutLegacy(ctx, "55", models.LegacyCredentialRecord{
		models.CookieSessionID: "legacy-s",
		models.CookieCSRFToken: "legacy-c",
		models.CookieDSUserID:  "55",
	}))

	got, err := svc.Get(ctx, "55")
	require.NoError(t, err)
	assert.Equal(t, "legacy-s", got.SessionID)
	assert.Equal(t, models.CredentialFormatLegacy, got.FormatVersion)
}

func TestMigrate_IsIdempotentAndKeepsLegacyKey(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, manager, _ := newTestService(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	storage := manager.CredentialStorage()

	require.NoError(t, storage.PutLegacy(ctx, "100", models.LegacyCredentialRecord{
		models.CookieSessionID: "s100",
		models.CookieCSRFToken: "c100",
		models.CookieDSUserID:  "100",
		models.CookieRUR:       "rur100",
	}))
	// Incomplete legacy record is skipped, never deleted
	require.NoError(t, storage.PutLegacy(ctx, "200", models.LegacyCredentialRecord{
		models.CookieSessionID: "s200",
	}))

	first, err := svc.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Scanned)
	assert.Equal(t, 1, first.Migrated)
	assert.Equal(t, 1, first.Skipped)

	afterFirst, err := storage.GetCurrent(ctx, "100")
	require.NoError(t, err)

	second, err := svc.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Migrated)
	assert.Equal(t, 1, second.AlreadyCurrent)

	afterSecond, err := storage.GetCurrent(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, "rur100", afterSecond.RUR)
	assert.Equal(t, models.CredentialFormatCurrent, afterSecond.FormatVersion)

	// Legacy key stays readable without the retirement switch
	legacy, err := storage.GetLegacy(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "s100", legacy[models.CookieSessionID])

	_, err = storage.GetLegacy(ctx, "200")
	require.NoError(t, err)
}

func TestMigrate_RetiresOnlyVerifiedLegacyKeys(t *testing.T) {
	svc, manager, _ := newTestService(t, WithRetireLegacyKeys(true))
	ctx := context.Background()
	storage := manager.CredentialStorage()

	require.NoError(t, storage.PutLegacy(ctx, "300", models.LegacyCredentialRecord{
		models.CookieSessionID: "s300",
		models.CookieCSRFToken: "c300",
		models.CookieDSUserID:  "300",
	}))

	// A current record with different tokens cannot be verified against the legacy one
	require.NoError(t, storage.PutLegacy(ctx, "400", models.LegacyCredentialRecord{
		models.CookieSessionID: "old",
		models.CookieCSRFToken: "c400",
		models.CookieDSUserID:  "400",
	}))
	written, err := storage.WriteMigrated(ctx, &models.CredentialSet{AccountID: "400", SessionID: "new", CSRFToken: "c400", DSUserID: "400", Valid: true})
	require.NoError(t, err)
	require.True(t, written)

	report, err := svc.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retired)
	assert.Equal(t, []string{"400"}, report.Failed)

	_, err = storage.GetLegacy(ctx, "300")
	assert.ErrorIs(t, err, models.ErrCredentialNotFound)

	_, err = storage.GetLegacy(ctx, "400")
	assert.NoError(t, err)

	got, err := svc.Get(ctx, "300")
	require.NoError(t, err)
	assert.Equal(t, "s300", got.SessionID)
}

// migrationHooks runs callbacks at each storage step of a migration
type migrationHooks struct {
	interfaces.CredentialStorage
	afterWrite  func(accountID string)
	afterDelete func(accountID string)
}

func (h *migrationHooks) WriteMigrated(ctx context.Context, set *models.CredentialSet) (bool, error) {
	written, err := h.CredentialStorage.WriteMigrated(ctx, set)
	if err == nil {
		h.afterWrite(set.AccountID)
	}
	return written, err
}

func (h *migrationHooks) DeleteLegacy(ctx context.Context, accountID string) error {
	err := h.CredentialStorage.DeleteLegacy(ctx, accountID)
	if err == nil {
		h.afterDelete(accountID)
	}
	return err
}

func TestGet_ReadableThroughoutRetiringMigration(t *testing.T) {
	reader, manager, _ := newTestService(t)
	ctx := context.Background()
	storage := manager.CredentialStorage()

	require.NoError(t, storage.PutLegacy(ctx, "acct", models.LegacyCredentialRecord{
		models.CookieSessionID: "s",
		models.CookieCSRFToken: "c",
		models.CookieDSUserID:  "acct",
	}))

	var seen []string
	check := func(step string) func(string) {
		return func(accountID string) {
			got, err := reader.Get(ctx, accountID)
			if assert.NoError(t, err, step) {
				assert.Equal(t, "s", got.SessionID, step)
			}
			seen = append(seen, step)
		}
	}
	hooks := &migrationHooks{
		CredentialStorage: storage,
		afterWrite:        check("after write"),
		afterDelete:       check("after retire"),
	}
	migrator := NewService(hooks, manager.WorkspaceStorage(), nil, arbor.NewLogger(), WithRetireLegacyKeys(true))

	report, err := migrator.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retired)
	assert.Equal(t, []string{"after write", "after retire"}, seen)
}

func TestGet_ConcurrentWithRetiringMigration(t *testing.T) {
	svc, manager, _ := newTestService(t, WithRetireLegacyKeys(true))
	ctx := context.Background()
	storage := manager.CredentialStorage()

	accounts := make([]string, 40)
	for i := range accounts {
		accounts[i] = fmt.Sprintf("%d", 9000+i)
		require.NoError(t, storage.PutLegacy(ctx, accounts[i], models.LegacyCredentialRecord{
			models.CookieSessionID: "s" + accounts[i],
			models.CookieCSRFToken: "c",
			models.CookieDSUserID:  accounts[i],
		}))
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, id := range accounts {
					got, err := svc.Get(ctx, id)
					if !assert.NoError(t, err) {
						return
					}
					assert.Equal(t, "s"+id, got.SessionID)
				}
			}
		}()
	}

	report, err := svc.Migrate(ctx)
	close(done)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, len(accounts), report.Retired)
}

func TestMigrate_UpgradesRecordMaterialisedByInvalidate(t *testing.T) {
	svc, manager, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, manager.CredentialStorage().PutLegacy(ctx, "66", models.LegacyCredentialRecord{
		models.CookieSessionID: "s66",
		models.CookieCSRFToken: "c66",
		models.CookieDSUserID:  "66",
	}))
	require.NoError(t, svc.Invalidate(ctx, "66", "login_required"))

	got, err := svc.Get(ctx, "66")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialFormatCurrent, got.FormatVersion)
	assert.False(t, got.Valid)

	report, err := svc.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlreadyCurrent)
	assert.Empty(t, report.Failed)
}

func TestWorkspaceDefault(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.WorkspaceDefault(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, account)

	require.NoError(t, svc.SetWorkspaceDefault(ctx, "ws-1", "42"))
	account, err = svc.WorkspaceDefault(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "42", account)
}

func TestClaimWorkspaceDefault_KeepsFirstAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	claimed, err := svc.ClaimWorkspaceDefault(ctx, "ws-9", "100")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = svc.ClaimWorkspaceDefault(ctx, "ws-9", "200")
	require.NoError(t, err)
	assert.False(t, claimed)

	account, err := svc.WorkspaceDefault(ctx, "ws-9")
	require.NoError(t, err)
	assert.Equal(t, "100", account)
}

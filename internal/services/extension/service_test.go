package extension

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/ternarybob/gramflow/internal/services/credentials"
	"github.com/ternarybob/gramflow/internal/services/platform"
	"github.com/ternarybob/gramflow/internal/storage/badger"
)

// verifyOnlyClients answers VerifySession from the credential set it was built with
type verifyOnlyClients struct {
	sets []*models.CredentialSet
	err  error
}

func (v *verifyOnlyClients) NewClient(set *models.CredentialSet) interfaces.PlatformClient {
	v.sets = append(v.sets, set)
	return &verifyClient{set: set, err: v.err}
}

type verifyClient struct {
	interfaces.PlatformClient
	set *models.CredentialSet
	err error
}

func (c *verifyClient) VerifySession(ctx context.Context) (*models.AccountIdentity, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &models.AccountIdentity{UserID: c.set.DSUserID, Username: "harvested"}, nil
}

func newTestService(t *testing.T) (*Service, *credentials.Service, *verifyOnlyClients) {
	t.Helper()

	logger := arbor.NewLogger()
	storage, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	creds := credentials.NewService(storage.CredentialStorage(), storage.WorkspaceStorage(), nil, logger)
	clients := &verifyOnlyClients{}
	return NewService(creds, clients, logger), creds, clients
}

func wire() *models.CredentialWire {
	return &models.CredentialWire{SessionID: "sess", CSRFToken: "csrf", DSUserID: "5150", MID: "mid-1"}
}

func TestSaveCookies_StoresThroughCredentialStore(t *testing.T) {
	service, creds, _ := newTestService(t)
	ctx := context.Background()

	resp, err := service.Handle(ctx, &models.ExtensionRequest{Type: models.ExtensionSaveCookies, WorkspaceID: "ws-1", Cookies: wire()})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.Stored)
	assert.Equal(t, "5150", resp.AccountID)

	set, err := creds.Get(ctx, "5150")
	require.NoError(t, err)
	assert.Equal(t, "sess", set.SessionID)
	assert.Equal(t, "mid-1", set.MID)
	assert.True(t, set.Usable())

	account, err := creds.WorkspaceDefault(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "5150", account)
}

func TestSaveCookies_UsesAccountKey(t *testing.T) {
	service, creds, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Handle(ctx, &models.ExtensionRequest{Type: "save_cookies", AccountKey: "brand-account", Cookies: wire()})
	require.NoError(t, err)

	_, err = creds.Get(ctx, "brand-account")
	assert.NoError(t, err)
}

func TestSaveCookies_RejectsMissingMandatoryField(t *testing.T) {
	service, creds, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Handle(ctx, &models.ExtensionRequest{
		Type:    models.ExtensionSaveCookies,
		Cookies: &models.CredentialWire{SessionID: "", CSRFToken: "x", DSUserID: "1"},
	})
	assert.ErrorIs(t, err, models.ErrInvalidCredentialSet)

	_, err = service.Handle(ctx, &models.ExtensionRequest{Type: models.ExtensionSaveCookies})
	assert.ErrorIs(t, err, models.ErrInvalidCredentialSet)

	_, err = creds.Get(ctx, "1")
	assert.ErrorIs(t, err, models.ErrCredentialNotFound)
}

func TestVerifySession_UsesPerCallClientAndStoresNothing(t *testing.T) {
	service, creds, clients := newTestService(t)
	ctx := context.Background()

	resp, err := service.Handle(ctx, &models.ExtensionRequest{Type: models.ExtensionVerifySession, Cookies: wire()})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "5150", resp.AccountID)
	assert.Equal(t, "harvested", resp.Username)

	require.Len(t, clients.sets, 1)
	assert.Equal(t, "sess", clients.sets[0].SessionID)

	_, err = creds.Get(ctx, "5150")
	assert.ErrorIs(t, err, models.ErrCredentialNotFound)
}

func TestVerifySession_PlatformRejection(t *testing.T) {
	service, _, clients := newTestService(t)
	clients.err = &platform.Error{Kind: platform.KindSessionExpired, StatusCode: 401}

	resp, err := service.Handle(context.Background(), &models.ExtensionRequest{Type: models.ExtensionVerifySession, Cookies: wire()})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "session_expired")
}

func TestGetCookies_IsRejected(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Handle(context.Background(), &models.ExtensionRequest{Type: models.ExtensionGetCookies})
	assert.ErrorIs(t, err, ErrUnsupportedMessage)

	_, err = service.Handle(context.Background(), &models.ExtensionRequest{Type: "PING"})
	assert.ErrorIs(t, err, ErrUnsupportedMessage)
}

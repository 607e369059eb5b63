// Package extension answers the credential harvesting channel used by the browser extension.
package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// ErrUnsupportedMessage is returned for message types the server does not answer
var ErrUnsupportedMessage = errors.New("unsupported extension message")

// Service bridges harvesting channel messages onto the credential store and platform client
type Service struct {
	credentials interfaces.CredentialStore
	clients     interfaces.PlatformClientFactory
	logger      arbor.ILogger
	now         func() time.Time
}

// NewService creates the harvesting channel bridge
func NewService(credentials interfaces.CredentialStore, clients interfaces.PlatformClientFactory, logger arbor.ILogger) *Service {
	return &Service{
		credentials: credentials,
		clients:     clients,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle answers one channel message. Validation failures are returned as errors so the
// caller can map them onto its own envelope; platform rejections of VERIFY_SESSION are
// answered with Success=false.
func (s *Service) Handle(ctx context.Context, req *models.ExtensionRequest) (*models.ExtensionResponse, error) {
	switch strings.ToUpper(strings.TrimSpace(req.Type)) {
	case models.ExtensionSaveCookies:
		return s.saveCookies(ctx, req)
	case models.ExtensionVerifySession:
		return s.verifySession(ctx, req)
	case models.ExtensionGetCookies:
		// The cookie jar lives in the browser; only the extension can read it
		return nil, fmt.Errorf("%w: %s is answered by the browser extension, not the server", ErrUnsupportedMessage, models.ExtensionGetCookies)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMessage, req.Type)
	}
}

// saveCookies ingests the cookie fields through the credential store's Put
func (s *Service) saveCookies(ctx context.Context, req *models.ExtensionRequest) (*models.ExtensionResponse, error) {
	set, err := s.credentialSet(req)
	if err != nil {
		return nil, err
	}

	accountID := set.AccountID
	if err := s.credentials.Put(ctx, accountID, set); err != nil {
		return nil, err
	}

	if workspaceID := strings.TrimSpace(req.WorkspaceID); workspaceID != "" {
		if _, err := s.credentials.ClaimWorkspaceDefault(ctx, workspaceID, accountID); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("account_id", accountID).
		Str("workspace_id", req.WorkspaceID).
		Msg("Credentials saved from extension")

	return &models.ExtensionResponse{Success: true, AccountID: accountID, Stored: true}, nil
}

// verifySession checks the supplied cookies against the platform without storing them
func (s *Service) verifySession(ctx context.Context, req *models.ExtensionRequest) (*models.ExtensionResponse, error) {
	set, err := s.credentialSet(req)
	if err != nil {
		return nil, err
	}

	identity, err := s.clients.NewClient(set).VerifySession(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("account_id", set.AccountID).Msg("Extension session verification failed")
		return &models.ExtensionResponse{Success: false, AccountID: set.AccountID, Error: err.Error()}, nil
	}

	return &models.ExtensionResponse{Success: true, AccountID: identity.UserID, Username: identity.Username}, nil
}

func (s *Service) credentialSet(req *models.ExtensionRequest) (*models.CredentialSet, error) {
	if req.Cookies == nil {
		return nil, fmt.Errorf("%w: cookies are required", models.ErrInvalidCredentialSet)
	}
	return req.Cookies.ToCredentialSet(strings.TrimSpace(req.AccountKey), s.now())
}

package interfaces

import (
	"context"

	"github.com/ternarybob/gramflow/internal/models"
)

// PlatformClient issues platform API calls with one credential set.
// Every failure is a classified *platform.Error.
type PlatformClient interface {
	VerifySession(ctx context.Context) (*models.AccountIdentity, error)
	FetchInbox(ctx context.Context, cursor string, limit int) (*models.InboxPage, error)
	FetchThreadMessages(ctx context.Context, threadID, cursor string, limit int) (*models.ThreadPage, error)
	MarkThreadSeen(ctx context.Context, threadID, itemID string) error
	SendMessage(ctx context.Context, threadID, text string) (*models.SentMessage, error)
	SearchByKeyword(ctx context.Context, keyword, scope string, limit int) (*models.SearchResult, error)
	FetchUserByUsername(ctx context.Context, username string) (*models.UserProfile, error)
	FetchFollowers(ctx context.Context, userID, cursor string, limit int) (*models.UserPage, error)
	FetchFollowing(ctx context.Context, userID, cursor string, limit int) (*models.UserPage, error)
	FetchPostByShortcode(ctx context.Context, shortcode string) (*models.Post, error)
	FetchRecentMedia(ctx context.Context, userID string, limit int) (*models.MediaPage, error)
}

// PlatformClientFactory builds a fresh client per call from an explicit credential set
type PlatformClientFactory interface {
	NewClient(set *models.CredentialSet) PlatformClient
}

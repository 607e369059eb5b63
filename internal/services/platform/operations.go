package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/ternarybob/gramflow/internal/models"
)

// VerifySession confirms the credential set is accepted and returns the account identity
func (c *Client) VerifySession(ctx context.Context) (*models.AccountIdentity, error) {
	const path = "/api/v1/accounts/current_user/"
	res, err := c.call(ctx, CallVerifySession, http.MethodGet, path, url.Values{"edit": {"true"}}, nil)
	if err != nil {
		return nil, err
	}

	user, err := mapUserSummary(res.Get("user"), path)
	if err != nil {
		return nil, err
	}
	return &models.AccountIdentity{
		UserID:   user.UserID,
		Username: user.Username,
		FullName: user.FullName,
	}, nil
}

func (c *Client) FetchInbox(ctx context.Context, cursor string, limit int) (*models.InboxPage, error) {
	const path = "/api/v1/direct_v2/inbox/"
	params := pageParams("cursor", cursor, "limit", limit)
	params.Set("persistentBadging", "true")

	res, err := c.call(ctx, CallInboxFetch, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}

	page := &models.InboxPage{Threads: []models.InboxThread{}}
	for _, t := range res.Get("inbox.threads").Array() {
		thread, err := mapInboxThread(t, path)
		if err != nil {
			return nil, err
		}
		page.Threads = append(page.Threads, *thread)
	}
	if res.Get("inbox.has_older").Bool() {
		page.NextCursor = res.Get("inbox.oldest_cursor").String()
	}
	return page, nil
}

func (c *Client) FetchThreadMessages(ctx context.Context, threadID, cursor string, limit int) (*models.ThreadPage, error) {
	path := fmt.Sprintf("/api/v1/direct_v2/threads/%s/", url.PathEscape(threadID))
	res, err := c.call(ctx, CallThreadFetch, http.MethodGet, path, pageParams("cursor", cursor, "limit", limit), nil)
	if err != nil {
		return nil, err
	}

	page := &models.ThreadPage{ThreadID: threadID, Messages: []models.ThreadMessage{}}
	for _, item := range res.Get("thread.items").Array() {
		page.Messages = append(page.Messages, mapThreadMessage(item))
	}
	if res.Get("thread.has_older").Bool() {
		page.NextCursor = res.Get("thread.oldest_cursor").String()
	}
	return page, nil
}

func (c *Client) MarkThreadSeen(ctx context.Context, threadID, itemID string) error {
	path := fmt.Sprintf("/api/v1/direct_v2/threads/%s/items/%s/seen/", url.PathEscape(threadID), url.PathEscape(itemID))
	form := url.Values{}
	form.Set("thread_id", threadID)
	form.Set("action", "mark_seen")
	form.Set("use_unified_inbox", "true")

	_, err := c.call(ctx, CallMarkSeen, http.MethodPost, path, nil, form)
	return err
}

// SendMessage posts text into an existing thread
func (c *Client) SendMessage(ctx context.Context, threadID, text string) (*models.SentMessage, error) {
	const path = "/api/v1/direct_v2/threads/broadcast/text/"
	form := url.Values{}
	form.Set("thread_ids", fmt.Sprintf("[%s]", threadID))
	form.Set("text", text)
	form.Set("action", "send_item")
	form.Set("client_context", uuid.New().String())

	res, err := c.call(ctx, CallMessageSend, http.MethodPost, path, nil, form)
	if err != nil {
		return nil, err
	}

	sent := &models.SentMessage{
		ThreadID: firstString(res, "payload.thread_id", threadID),
		ItemID:   firstString(res, "payload.item_id", ""),
	}
	return sent, nil
}

// SearchByKeyword runs a top search. scope narrows the result to users, hashtags or places.
func (c *Client) SearchByKeyword(ctx context.Context, keyword, scope string, limit int) (*models.SearchResult, error) {
	const path = "/api/v1/fbsearch/topsearch_flat/"
	params := url.Values{}
	params.Set("query", keyword)
	params.Set("context", searchContext(scope))
	if limit > 0 {
		params.Set("count", fmt.Sprintf("%d", limit))
	}

	res, err := c.call(ctx, CallSearch, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	return mapSearchResult(res, scope, limit, path)
}

func (c *Client) FetchUserByUsername(ctx context.Context, username string) (*models.UserProfile, error) {
	const path = "/api/v1/users/web_profile_info/"
	res, err := c.call(ctx, CallProfileFetch, http.MethodGet, path, url.Values{"username": {username}}, nil)
	if err != nil {
		return nil, err
	}

	user := res.Get("data.user")
	if !user.Exists() || user.Type == 0 {
		return nil, &Error{Kind: KindNotFound, Endpoint: path, Detail: "user not found: " + username}
	}
	return mapUserProfile(user, path)
}

func (c *Client) FetchFollowers(ctx context.Context, userID, cursor string, limit int) (*models.UserPage, error) {
	return c.fetchFriendships(ctx, CallFollowersFetch, "followers", userID, cursor, limit)
}

func (c *Client) FetchFollowing(ctx context.Context, userID, cursor string, limit int) (*models.UserPage, error) {
	return c.fetchFriendships(ctx, CallFollowingFetch, "following", userID, cursor, limit)
}

func (c *Client) fetchFriendships(ctx context.Context, kind CallKind, edge, userID, cursor string, limit int) (*models.UserPage, error) {
	path := fmt.Sprintf("/api/v1/friendships/%s/%s/", url.PathEscape(userID), edge)
	res, err := c.call(ctx, kind, http.MethodGet, path, pageParams("max_id", cursor, "count", limit), nil)
	if err != nil {
		return nil, err
	}

	page := &models.UserPage{Users: []models.UserSummary{}}
	for _, u := range res.Get("users").Array() {
		user, err := mapUserSummary(u, path)
		if err != nil {
			return nil, err
		}
		page.Users = append(page.Users, *user)
	}
	page.NextCursor = res.Get("next_max_id").String()
	return page, nil
}

func (c *Client) FetchPostByShortcode(ctx context.Context, shortcode string) (*models.Post, error) {
	mediaID, err := ShortcodeToMediaID(shortcode)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, Endpoint: "shortcode", Detail: err.Error()}
	}

	path := fmt.Sprintf("/api/v1/media/%s/info/", mediaID)
	res, err := c.call(ctx, CallPostFetch, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	items := res.Get("items").Array()
	if len(items) == 0 {
		return nil, &Error{Kind: KindNotFound, Endpoint: path, Detail: "post not found: " + shortcode}
	}
	return mapPost(items[0], path)
}

func (c *Client) FetchRecentMedia(ctx context.Context, userID string, limit int) (*models.MediaPage, error) {
	path := fmt.Sprintf("/api/v1/feed/user/%s/", url.PathEscape(userID))
	res, err := c.call(ctx, CallRecentMedia, http.MethodGet, path, pageParams("max_id", "", "count", limit), nil)
	if err != nil {
		return nil, err
	}

	page := &models.MediaPage{Items: []models.Post{}}
	for _, item := range res.Get("items").Array() {
		post, err := mapPost(item, path)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *post)
	}
	if res.Get("more_available").Bool() {
		page.NextCursor = res.Get("next_max_id").String()
	}
	return page, nil
}

func searchContext(scope string) string {
	switch scope {
	case models.SearchScopeUsers:
		return "user"
	case models.SearchScopeHashtags:
		return "hashtag"
	case models.SearchScopePlaces:
		return "place"
	default:
		return "blended"
	}
}

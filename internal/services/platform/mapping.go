package platform

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ternarybob/gramflow/internal/models"
	"github.com/tidwall/gjson"
)

// shortcodeAlphabet is the base64url ordering used by post shortcodes
const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// ShortcodeToMediaID decodes a post shortcode into its numeric media id
func ShortcodeToMediaID(shortcode string) (string, error) {
	shortcode = strings.TrimSpace(shortcode)
	if shortcode == "" {
		return "", fmt.Errorf("empty shortcode")
	}
	// Private posts append a 28 character suffix to the public code
	if len(shortcode) > 28 {
		shortcode = shortcode[:len(shortcode)-28]
	}

	id := new(big.Int)
	base := big.NewInt(64)
	for _, r := range shortcode {
		idx := strings.IndexRune(shortcodeAlphabet, r)
		if idx < 0 {
			return "", fmt.Errorf("invalid shortcode character %q", r)
		}
		id.Mul(id, base)
		id.Add(id, big.NewInt(int64(idx)))
	}
	return id.String(), nil
}

func missingField(endpoint, field string) *Error {
	return &Error{Kind: KindUnknown, Endpoint: endpoint, Detail: "missing mandatory field: " + field}
}

// idString reads an id that the platform sends either as a number or a string
func idString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := r.Get(p)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.Number {
			return v.Raw
		}
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}

func firstString(r gjson.Result, path, fallback string) string {
	if v := r.Get(path); v.Exists() {
		if v.Type == gjson.Number {
			return v.Raw
		}
		if s := v.String(); s != "" {
			return s
		}
	}
	return fallback
}

// unixTime handles second and microsecond timestamps. Missing or zero maps to the zero time.
func unixTime(v gjson.Result) time.Time {
	n := v.Int()
	switch {
	case n <= 0:
		return time.Time{}
	case n > 1e14:
		return time.UnixMicro(n).UTC()
	case n > 1e11:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

func mapUserSummary(u gjson.Result, endpoint string) (*models.UserSummary, error) {
	id := idString(u, "pk", "pk_id", "id")
	if id == "" {
		return nil, missingField(endpoint, "user.pk")
	}
	username := u.Get("username").String()
	if username == "" {
		return nil, missingField(endpoint, "user.username")
	}
	return &models.UserSummary{
		UserID:        id,
		Username:      username,
		FullName:      u.Get("full_name").String(),
		ProfilePicURL: u.Get("profile_pic_url").String(),
		IsVerified:    u.Get("is_verified").Bool(),
		IsPrivate:     u.Get("is_private").Bool(),
	}, nil
}

func mapUserProfile(u gjson.Result, endpoint string) (*models.UserProfile, error) {
	summary, err := mapUserSummary(u, endpoint)
	if err != nil {
		return nil, err
	}
	return &models.UserProfile{
		UserID:         summary.UserID,
		Username:       summary.Username,
		FullName:       summary.FullName,
		Biography:      u.Get("biography").String(),
		ExternalURL:    u.Get("external_url").String(),
		ProfilePicURL:  firstString(u, "profile_pic_url_hd", summary.ProfilePicURL),
		IsVerified:     summary.IsVerified,
		IsPrivate:      summary.IsPrivate,
		IsBusiness:     u.Get("is_business_account").Bool(),
		FollowerCount:  countOf(u, "edge_followed_by.count", "follower_count"),
		FollowingCount: countOf(u, "edge_follow.count", "following_count"),
		MediaCount:     countOf(u, "edge_owner_to_timeline_media.count", "media_count"),
	}, nil
}

func countOf(r gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v.Int()
		}
	}
	return 0
}

func mapInboxThread(t gjson.Result, endpoint string) (*models.InboxThread, error) {
	threadID := idString(t, "thread_id")
	if threadID == "" {
		return nil, missingField(endpoint, "thread_id")
	}

	thread := &models.InboxThread{
		ThreadID:     threadID,
		Title:        t.Get("thread_title").String(),
		Users:        []models.UserSummary{},
		LastActivity: unixTime(t.Get("last_activity_at")),
		UnreadCount:  int(t.Get("read_state").Int()),
	}
	for _, u := range t.Get("users").Array() {
		user, err := mapUserSummary(u, endpoint)
		if err != nil {
			return nil, err
		}
		thread.Users = append(thread.Users, *user)
	}
	if items := t.Get("items").Array(); len(items) > 0 {
		thread.LastMessageID = idString(items[0], "item_id")
	}
	return thread, nil
}

func mapThreadMessage(item gjson.Result) models.ThreadMessage {
	return models.ThreadMessage{
		ItemID:    idString(item, "item_id"),
		UserID:    idString(item, "user_id"),
		ItemType:  item.Get("item_type").String(),
		Text:      item.Get("text").String(),
		Timestamp: unixTime(item.Get("timestamp")),
	}
}

func mapSearchResult(res gjson.Result, scope string, limit int, endpoint string) (*models.SearchResult, error) {
	result := &models.SearchResult{
		Users:    []models.UserSummary{},
		Hashtags: []models.Hashtag{},
		Places:   []models.Place{},
	}

	wantUsers := scope == "" || scope == models.SearchScopeBlended || scope == models.SearchScopeUsers
	wantTags := scope == "" || scope == models.SearchScopeBlended || scope == models.SearchScopeHashtags
	wantPlaces := scope == "" || scope == models.SearchScopeBlended || scope == models.SearchScopePlaces

	total := 0
	for _, entry := range res.Get("list").Array() {
		if limit > 0 && total >= limit {
			break
		}
		switch {
		case entry.Get("user").Exists() && wantUsers:
			user, err := mapUserSummary(entry.Get("user"), endpoint)
			if err != nil {
				return nil, err
			}
			result.Users = append(result.Users, *user)
		case entry.Get("hashtag").Exists() && wantTags:
			tag := entry.Get("hashtag")
			name := tag.Get("name").String()
			if name == "" {
				continue
			}
			result.Hashtags = append(result.Hashtags, models.Hashtag{
				Name:       name,
				MediaCount: tag.Get("media_count").Int(),
			})
		case entry.Get("place").Exists() && wantPlaces:
			place := entry.Get("place")
			result.Places = append(result.Places, models.Place{
				PlaceID: idString(place, "location.pk", "location.facebook_places_id"),
				Title:   place.Get("title").String(),
				Address: place.Get("location.address").String(),
			})
		default:
			continue
		}
		total++
	}
	return result, nil
}

func mapPost(item gjson.Result, endpoint string) (*models.Post, error) {
	mediaID := idString(item, "pk", "id")
	if mediaID == "" {
		return nil, missingField(endpoint, "media.pk")
	}
	owner, err := mapUserSummary(item.Get("user"), endpoint)
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		MediaID:      mediaID,
		Shortcode:    item.Get("code").String(),
		Owner:        *owner,
		Caption:      item.Get("caption.text").String(),
		MediaType:    int(item.Get("media_type").Int()),
		LikeCount:    item.Get("like_count").Int(),
		CommentCount: item.Get("comment_count").Int(),
		TakenAt:      unixTime(item.Get("taken_at")),
	}
	if candidates := item.Get("image_versions2.candidates").Array(); len(candidates) > 0 {
		post.DisplayURL = candidates[0].Get("url").String()
	} else if carousel := item.Get("carousel_media.0.image_versions2.candidates.0.url"); carousel.Exists() {
		post.DisplayURL = carousel.String()
	}
	return post, nil
}

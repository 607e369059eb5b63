package models

import "time"

// Typed results of platform calls. Optional fields carry documented defaults when the
// platform omits them: booleans false, counts 0, strings empty.

// AccountIdentity is returned by verify-session
type AccountIdentity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
}

type UserProfile struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	FullName       string `json:"fullName"`
	Biography      string `json:"biography"`
	ExternalURL    string `json:"externalUrl"`
	ProfilePicURL  string `json:"profilePicUrl"`
	IsVerified     bool   `json:"isVerified"`
	IsPrivate      bool   `json:"isPrivate"`
	IsBusiness     bool   `json:"isBusiness"`
	FollowerCount  int64  `json:"followerCount"`
	FollowingCount int64  `json:"followingCount"`
	MediaCount     int64  `json:"mediaCount"`
}

// UserSummary is the compact user shape used in lists and search results
type UserSummary struct {
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	FullName      string `json:"fullName"`
	ProfilePicURL string `json:"profilePicUrl"`
	IsVerified    bool   `json:"isVerified"`
	IsPrivate     bool   `json:"isPrivate"`
}

type UserPage struct {
	Users      []UserSummary `json:"users"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type InboxThread struct {
	ThreadID      string        `json:"threadId"`
	Title         string        `json:"title"`
	Users         []UserSummary `json:"users"`
	LastActivity  time.Time     `json:"lastActivity"`
	UnreadCount   int           `json:"unreadCount"`
	LastMessageID string        `json:"lastMessageId,omitempty"`
}

type InboxPage struct {
	Threads    []InboxThread `json:"threads"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type ThreadMessage struct {
	ItemID    string    `json:"itemId"`
	UserID    string    `json:"userId"`
	ItemType  string    `json:"itemType"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type ThreadPage struct {
	ThreadID   string          `json:"threadId"`
	Messages   []ThreadMessage `json:"messages"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

type SentMessage struct {
	ThreadID string `json:"threadId"`
	ItemID   string `json:"itemId"`
}

type Hashtag struct {
	Name       string `json:"name"`
	MediaCount int64  `json:"mediaCount"`
}

type Place struct {
	PlaceID string `json:"placeId"`
	Title   string `json:"title"`
	Address string `json:"address"`
}

type SearchResult struct {
	Users    []UserSummary `json:"users"`
	Hashtags []Hashtag     `json:"hashtags"`
	Places   []Place       `json:"places"`
}

type Post struct {
	MediaID      string      `json:"mediaId"`
	Shortcode    string      `json:"shortcode"`
	Owner        UserSummary `json:"owner"`
	Caption      string      `json:"caption"`
	MediaType    int         `json:"mediaType"`
	LikeCount    int64       `json:"likeCount"`
	CommentCount int64       `json:"commentCount"`
	TakenAt      time.Time   `json:"takenAt"`
	DisplayURL   string      `json:"displayUrl"`
}

type MediaPage struct {
	Items      []Post `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// JobKind selects the platform operation a job runs
type JobKind string

const (
	JobKindMessageSend      JobKind = "message_send"
	JobKindInboxFetch       JobKind = "inbox_fetch"
	JobKindThreadFetch      JobKind = "thread_fetch"
	JobKindMarkSeen         JobKind = "mark_seen"
	JobKindProfileFetch     JobKind = "profile_fetch"
	JobKindFollowersFetch   JobKind = "followers_fetch"
	JobKindFollowingFetch   JobKind = "following_fetch"
	JobKindSearch           JobKind = "search"
	JobKindPostFetch        JobKind = "post_fetch"
	JobKindRecentMediaFetch JobKind = "recent_media_fetch"
	JobKindVerifySession    JobKind = "verify_session"
)

// MessageSendPayload sends a text message into an existing direct thread
type MessageSendPayload struct {
	ThreadID string `json:"threadId" validate:"required"`
	Text     string `json:"text" validate:"required,max=1000"`
}

type InboxFetchPayload struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

type ThreadFetchPayload struct {
	ThreadID string `json:"threadId" validate:"required"`
	Cursor   string `json:"cursor,omitempty"`
	Limit    int    `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

type MarkSeenPayload struct {
	ThreadID string `json:"threadId" validate:"required"`
	ItemID   string `json:"itemId" validate:"required"`
}

type ProfileFetchPayload struct {
	Username string `json:"username" validate:"required"`
}

// FollowListPayload is shared by followers_fetch and following_fetch
type FollowListPayload struct {
	UserID string `json:"userId" validate:"required"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=200"`
}

// Search scopes
const (
	SearchScopeUsers    = "users"
	SearchScopeHashtags = "hashtags"
	SearchScopePlaces   = "places"
	SearchScopeBlended  = "blended"
)

type SearchPayload struct {
	Keyword string `json:"keyword" validate:"required"`
	Limit   int    `json:"limit" validate:"min=1,max=100"`
	Scope   string `json:"scope" validate:"oneof=users hashtags places blended"`
}

type PostFetchPayload struct {
	Shortcode string `json:"shortcode" validate:"required"`
}

type RecentMediaPayload struct {
	UserID string `json:"userId" validate:"required"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

type VerifySessionPayload struct{}

var payloadValidate = validator.New()

// payloadFactories maps each known kind to a constructor for its payload type
var payloadFactories = map[JobKind]func() interface{}{
	JobKindMessageSend:      func() interface{} { return &MessageSendPayload{} },
	JobKindInboxFetch:       func() interface{} { return &InboxFetchPayload{} },
	JobKindThreadFetch:      func() interface{} { return &ThreadFetchPayload{} },
	JobKindMarkSeen:         func() interface{} { return &MarkSeenPayload{} },
	JobKindProfileFetch:     func() interface{} { return &ProfileFetchPayload{} },
	JobKindFollowersFetch:   func() interface{} { return &FollowListPayload{} },
	JobKindFollowingFetch:   func() interface{} { return &FollowListPayload{} },
	JobKindSearch:           func() interface{} { return &SearchPayload{Limit: 20, Scope: SearchScopeBlended} },
	JobKindPostFetch:        func() interface{} { return &PostFetchPayload{} },
	JobKindRecentMediaFetch: func() interface{} { return &RecentMediaPayload{} },
	JobKindVerifySession:    func() interface{} { return &VerifySessionPayload{} },
}

// Valid reports whether k is a known job kind
func (k JobKind) Valid() bool {
	_, ok := payloadFactories[k]
	return ok
}

// JobKinds lists the known kinds
func JobKinds() []JobKind {
	kinds := make([]JobKind, 0, len(payloadFactories))
	for k := range payloadFactories {
		kinds = append(kinds, k)
	}
	return kinds
}

// DecodePayload decodes and validates raw against the payload type of kind.
// An empty payload decodes as {}. Unknown fields are rejected.
func DecodePayload(kind JobKind, raw json.RawMessage) (interface{}, error) {
	factory, ok := payloadFactories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job kind %q", ErrInvalidJob, kind)
	}

	payload := factory()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(payload); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidJob, kind, err)
		}
	}

	if err := payloadValidate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidJob, kind, err)
	}
	return payload, nil
}

// NormalizePayload validates raw for kind and re-encodes it with defaults applied,
// so the stored payload is exactly what the worker will execute.
func NormalizePayload(kind JobKind, raw json.RawMessage) (json.RawMessage, error) {
	payload, err := DecodePayload(kind, raw)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return data, nil
}

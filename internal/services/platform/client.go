// Package platform is the adapter for the social platform's private web API.
// A Client is built per call from one credential set; the rate-limit buckets and
// the circuit breaker are the only state shared between clients.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/tidwall/gjson"
)

// CallKind names a platform operation for rate limiting
type CallKind string

const (
	CallVerifySession  CallKind = "verify_session"
	CallInboxFetch     CallKind = "inbox_fetch"
	CallThreadFetch    CallKind = "thread_fetch"
	CallMarkSeen       CallKind = "mark_seen"
	CallMessageSend    CallKind = "message_send"
	CallSearch         CallKind = "search"
	CallProfileFetch   CallKind = "profile_fetch"
	CallFollowersFetch CallKind = "followers_fetch"
	CallFollowingFetch CallKind = "following_fetch"
	CallPostFetch      CallKind = "post_fetch"
	CallRecentMedia    CallKind = "recent_media_fetch"
)

const (
	// DefaultBaseURL is the base URL of the private API
	DefaultBaseURL = "https://i.instagram.com"

	// DefaultAppID is sent as X-IG-App-ID
	DefaultAppID = "936619743392459"
)

// Factory builds per-call clients around the shared limiter and transport
type Factory struct {
	baseURL   string
	appID     string
	userAgent string
	transport *Transport
	limiter   *Limiter
	logger    arbor.ILogger
	now       func() time.Time
}

// FactoryOption configures the Factory
type FactoryOption func(*Factory)

// WithBaseURL sets a custom base URL
func WithBaseURL(baseURL string) FactoryOption {
	return func(f *Factory) {
		f.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTransport replaces the shared transport
func WithTransport(transport *Transport) FactoryOption {
	return func(f *Factory) {
		f.transport = transport
	}
}

// WithClock overrides the time source used for retry hints
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.now = now
	}
}

// NewFactory creates a client factory from the platform configuration
func NewFactory(config *common.PlatformConfig, limiter *Limiter, logger arbor.ILogger, opts ...FactoryOption) *Factory {
	f := &Factory{
		baseURL:   DefaultBaseURL,
		appID:     DefaultAppID,
		userAgent: config.UserAgent,
		limiter:   limiter,
		logger:    logger,
		now:       time.Now,
	}
	if config.BaseURL != "" {
		f.baseURL = strings.TrimRight(config.BaseURL, "/")
	}
	if config.AppID != "" {
		f.appID = config.AppID
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = NewTransport(config, nil, logger)
	}
	return f
}

// NewClient returns a client bound to set. Nothing from previous calls is reused.
func (f *Factory) NewClient(set *models.CredentialSet) interfaces.PlatformClient {
	return &Client{factory: f, creds: set}
}

// Client issues platform calls with one credential set
type Client struct {
	factory *Factory
	creds   *models.CredentialSet
}

func (c *Client) accountID() string {
	if c.creds.AccountID != "" {
		return c.creds.AccountID
	}
	return c.creds.DSUserID
}

// call runs one rate-limited request and returns the parsed body
func (c *Client) call(ctx context.Context, kind CallKind, method, path string, params url.Values, form url.Values) (gjson.Result, error) {
	f := c.factory

	if c.creds == nil {
		return gjson.Result{}, &Error{Kind: KindUnknown, Endpoint: path, Err: models.ErrInvalidCredentialSet}
	}
	if err := c.creds.Validate(); err != nil {
		return gjson.Result{}, &Error{Kind: KindUnknown, Endpoint: path, Err: err}
	}

	if err := f.limiter.Acquire(c.accountID(), kind); err != nil {
		return gjson.Result{}, err
	}
	spent := false
	defer func() {
		if !spent {
			f.limiter.Refund(c.accountID(), kind)
		}
	}()

	reqURL := f.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return gjson.Result{}, &Error{Kind: KindUnknown, Endpoint: path, Detail: "failed to create request", Err: err}
	}
	c.setHeaders(req, form != nil)

	if f.logger != nil {
		f.logger.Debug().
			Str("account_id", c.accountID()).
			Str("kind", string(kind)).
			Str("method", method).
			Str("path", path).
			Msg("Platform API request")
	}

	resp, err := f.transport.do(req)
	if err != nil {
		return gjson.Result{}, classifyTransportError(ctx, path, err)
	}

	if perr := classifyResponse(path, resp, f.now()); perr != nil {
		if perr.Kind == KindRateLimited {
			// Penalize drains the bucket, so there is nothing to refund
			spent = true
			perr.RetryAfter = f.limiter.Penalize(c.accountID(), kind, perr.RetryAfter)
		}
		if f.logger != nil {
			f.logger.Warn().
				Str("account_id", c.accountID()).
				Str("kind", string(kind)).
				Int("status", perr.StatusCode).
				Str("error_kind", string(perr.Kind)).
				Msg("Platform API call failed")
		}
		return gjson.Result{}, perr
	}

	spent = true
	return gjson.ParseBytes(resp.Body), nil
}

func (c *Client) setHeaders(req *http.Request, hasForm bool) {
	f := c.factory
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-IG-App-ID", f.appID)
	req.Header.Set("X-CSRFToken", c.creds.CSRFToken)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if hasForm {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, cookie := range c.creds.Cookies() {
		req.AddCookie(cookie)
	}
}

func pageParams(cursorKey, cursor, limitKey string, limit int) url.Values {
	params := url.Values{}
	if cursor != "" {
		params.Set(cursorKey, cursor)
	}
	if limit > 0 {
		params.Set(limitKey, fmt.Sprintf("%d", limit))
	}
	return params
}

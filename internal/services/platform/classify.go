package platform

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Platform messages that signal an expired or challenged session
var sessionExpiredMessages = []string{
	"login_required",
	"checkpoint_required",
	"challenge_required",
	"user_has_logged_out",
}

// Platform messages that signal a soft rate limit, usually on a 400 response
var rateLimitMessages = []string{
	"please wait a few minutes",
	"feedback_required",
	"rate_limit_error",
}

// detailLimit bounds the verbatim body kept on an error
const detailLimit = 4096

// classifyTransportError maps a failure from Transport.do
func classifyTransportError(ctx context.Context, endpoint string, err error) *Error {
	var se *serverError
	switch {
	case errors.As(err, &se):
		return &Error{
			Kind:       KindTransient,
			StatusCode: se.resp.StatusCode,
			Endpoint:   endpoint,
			Detail:     truncate(string(se.resp.Body)),
		}
	case isBreakerRejection(err):
		return &Error{Kind: KindTransient, Endpoint: endpoint, Detail: "circuit breaker open", Err: err}
	case ctx.Err() != nil:
		return &Error{Kind: KindTransient, Endpoint: endpoint, Detail: "request cancelled", Err: ctx.Err()}
	default:
		return &Error{Kind: KindTransient, Endpoint: endpoint, Err: err}
	}
}

// classifyResponse returns nil for a usable response, or the classified failure.
// retryAfter is 0 when the platform sent no usable hint.
func classifyResponse(endpoint string, resp *response, now time.Time) *Error {
	message := responseMessage(resp.Body)
	lowered := strings.ToLower(message)

	if resp.StatusCode == http.StatusTooManyRequests || containsAny(lowered, rateLimitMessages) {
		return &Error{
			Kind:       KindRateLimited,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Detail:     message,
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		containsAny(lowered, sessionExpiredMessages) || gjson.GetBytes(resp.Body, "require_login").Bool() {
		return &Error{
			Kind:       KindSessionExpired,
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Detail:     message,
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return &Error{Kind: KindNotFound, StatusCode: resp.StatusCode, Endpoint: endpoint, Detail: message}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Kind: KindUnknown, StatusCode: resp.StatusCode, Endpoint: endpoint, Detail: truncate(string(resp.Body))}
	}

	if !gjson.ValidBytes(resp.Body) {
		return &Error{Kind: KindUnknown, StatusCode: resp.StatusCode, Endpoint: endpoint, Detail: "invalid JSON response: " + truncate(string(resp.Body))}
	}

	if status := gjson.GetBytes(resp.Body, "status").String(); status == "fail" {
		return &Error{Kind: KindUnknown, StatusCode: resp.StatusCode, Endpoint: endpoint, Detail: truncate(string(resp.Body))}
	}

	return nil
}

func responseMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "message").String(); msg != "" {
			return msg
		}
	}
	return truncate(string(body))
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	if len(s) > detailLimit {
		return s[:detailLimit] + "..."
	}
	return s
}

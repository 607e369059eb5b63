package platform

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
)

// maxBodySize caps how much of a platform response is read
const maxBodySize = 8 << 20

// response is a fully read platform response
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// serverError marks 5xx responses so the breaker counts them as failures
type serverError struct {
	resp *response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("platform server error: status %d", e.resp.StatusCode)
}

// Transport sends platform requests through a circuit breaker shared by all clients.
// Only network failures and 5xx responses count against the breaker.
type Transport struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     arbor.ILogger
}

// NewTransport creates the shared transport from the platform configuration
func NewTransport(config *common.PlatformConfig, httpClient *http.Client, logger arbor.ILogger) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: common.ParseDuration(config.RequestTimeout, 30*time.Second)}
	}

	maxFailures := config.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	t := &Transport{httpClient: httpClient, logger: logger}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "platform",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     common.ParseDuration(config.Breaker.OpenTimeout, 30*time.Second),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Platform circuit breaker state changed")
			}
		},
	})
	return t
}

// State returns the breaker state, for diagnostics
func (t *Transport) State() gobreaker.State {
	return t.breaker.State()
}

// do executes req. A nil error means a response below 500 was read in full.
func (t *Transport) do(req *http.Request) (*response, error) {
	result, err := t.breaker.Execute(func() (interface{}, error) {
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		r := &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		if resp.StatusCode >= 500 {
			return nil, &serverError{resp: r}
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*response), nil
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

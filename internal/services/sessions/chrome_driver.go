package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/models"
)

// DefaultLoginURL is the platform login page opened for the user
const DefaultLoginURL = "https://www.instagram.com/accounts/login/"

// ChromeDriver opens the login page in a real browser and waits for the user to sign in.
// The login is complete once the cookie jar holds all mandatory tokens.
type ChromeDriver struct {
	headless     bool
	userAgent    string
	loginURL     string
	pollInterval time.Duration
	logger       arbor.ILogger
}

// NewChromeDriver creates a chromedp login driver from the browser configuration
func NewChromeDriver(config *common.BrowserConfig, logger arbor.ILogger) *ChromeDriver {
	loginURL := config.LoginURL
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	return &ChromeDriver{
		headless:     config.Headless,
		userAgent:    config.UserAgent,
		loginURL:     loginURL,
		pollInterval: common.ParseDuration(config.PollInterval, 2*time.Second),
		logger:       logger,
	}
}

// Run implements Driver
func (d *ChromeDriver) Run(ctx context.Context, progress Progress) (*models.CredentialWire, error) {
	logger := d.logger.WithCorrelationId(progress.SessionID())

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.headless),
		chromedp.Flag("disable-gpu", d.headless),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if d.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.userAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocatorCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, network.Enable(), chromedp.Navigate(d.loginURL)); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	logger.Info().
		Str("login_url", d.loginURL).
		Bool("headless", d.headless).
		Msg("Login page opened, waiting for user")
	progress.AwaitingInteraction()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if progress.Cancelled() {
			logger.Debug().Msg("Login cancelled, closing browser")
			return nil, ErrLoginCancelled
		}

		wire, err := d.readCookies(browserCtx)
		if err != nil {
			return nil, err
		}
		if wire.SessionID != "" && wire.CSRFToken != "" && wire.DSUserID != "" {
			logger.Info().
				Str("ds_user_id", wire.DSUserID).
				Msg("Login detected in browser cookie jar")
			return wire, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("login did not complete: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *ChromeDriver) readCookies(browserCtx context.Context) (*models.CredentialWire, error) {
	var jar []models.BrowserCookie
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().WithURLs([]string{d.loginURL}).Do(ctx)
		if err != nil {
			return err
		}
		jar = make([]models.BrowserCookie, 0, len(cookies))
		for _, c := range cookies {
			jar = append(jar, models.BrowserCookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read browser cookies: %w", err)
	}

	wire := models.WireFromCookies(jar)
	return &wire, nil
}

package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/threadmap/internal/browser"
	"github.com/ibeckermayer/threadmap/internal/logging"
)

// loginTimeout is how long the user has to finish logging in.
const loginTimeout = 5 * time.Minute

// Manager handles X.com authentication
type Manager struct {
	cookieStore *CookieStore
	log         zerolog.Logger
}

// NewManager creates a new auth manager
func NewManager(cookieStore *CookieStore) *Manager {
	return &Manager{cookieStore: cookieStore, log: logging.Component("auth")}
}

// IsAuthenticated checks if we have valid stored credentials
func (m *Manager) IsAuthenticated() bool {
	return m.cookieStore.Valid() == nil
}

// Login opens a visible browser window for the user to log in to X.com and
// stores the session cookies once the home timeline is reached.
func (m *Manager) Login(ctx context.Context) error {
	browserCtx, cancel := browser.NewContext(ctx, false, chromedp.Flag("start-maximized", true))
	defer cancel()

	err := chromedp.Run(browserCtx,
		chromedp.Navigate("https://x.com/login"),
	)
	if err != nil {
		return fmt.Errorf("failed to navigate to login page: %w", err)
	}

	m.log.Info().Dur("timeout", loginTimeout).Msg("Waiting for login in the browser window")
	cookies, err := m.waitForLogin(browserCtx)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := m.cookieStore.Save(cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	m.log.Info().Int("cookies", len(cookies)).Msg("Session saved")
	return nil
}

// waitForLogin polls until the browser reaches the home timeline with an
// auth_token cookie set, and returns the browser's cookies.
func (m *Manager) waitForLogin(ctx context.Context) ([]*network.Cookie, error) {
	timeout := time.After(loginTimeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, fmt.Errorf("login timeout exceeded")
		case <-ticker.C:
			var location string
			if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
				continue
			}
			if !isHome(location) {
				continue
			}

			cookies, err := m.extractCookies(ctx)
			if err != nil {
				continue
			}
			if hasCookie(cookies, "auth_token") {
				return cookies, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func isHome(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Host == "x.com" || u.Host == "twitter.com") && u.Path == "/home"
}

// extractCookies gets all cookies from the browser
func (m *Manager) extractCookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)

	return cookies, err
}

// Logout clears stored credentials
func (m *Manager) Logout() error {
	return m.cookieStore.Clear()
}

// Cookies returns the stored session cookies for the scraper, or an error
// explaining why there is no usable session.
func (m *Manager) Cookies() ([]*network.Cookie, error) {
	if err := m.cookieStore.Valid(); err != nil {
		return nil, err
	}
	return m.cookieStore.GetXCookies()
}

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/threadmap/internal/config"
)

// ErrNoSession is returned when no usable x.com session is stored.
var ErrNoSession = errors.New("no x.com session stored")

// sessionCookies are the cookies X requires on every authenticated request.
var sessionCookies = []string{"auth_token", "ct0"}

// CookieStore handles storage of X.com session cookies
type CookieStore struct {
	path string
	now  func() time.Time
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewCookieStore creates a cookie store at the given path
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path, now: time.Now}
}

// DefaultCookieStorePath returns the default path for cookie storage
func DefaultCookieStorePath() (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cookies.json"), nil
}

// Save persists the x.com cookies among cookies to disk.
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	dir := filepath.Dir(cs.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	cookies = xCookies(cookies)

	// Find the earliest expiration among session cookies
	var earliestExpiry time.Time
	for _, c := range cookies {
		if isSessionCookie(c.Name) && c.Expires > 0 {
			exp := time.Unix(int64(c.Expires), 0)
			if earliestExpiry.IsZero() || exp.Before(earliestExpiry) {
				earliestExpiry = exp
			}
		}
	}

	stored := StoredCookies{
		Cookies:    cookies,
		CapturedAt: cs.now(),
		ExpiresAt:  earliestExpiry,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cs.path, data, 0600)
}

// Load retrieves cookies from disk
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", cs.path, err)
	}

	return &stored, nil
}

// Valid reports why the stored session is unusable, or nil.
func (cs *CookieStore) Valid() error {
	stored, err := cs.Load()
	if err != nil {
		return err
	}

	// Session cookies without an expiry live until the browser closes and
	// are accepted as-is.
	if !stored.ExpiresAt.IsZero() && cs.now().After(stored.ExpiresAt) {
		return fmt.Errorf("%w: session expired at %s", ErrNoSession, stored.ExpiresAt.Format(time.RFC3339))
	}

	for _, name := range sessionCookies {
		if !hasCookie(stored.Cookies, name) {
			return fmt.Errorf("%w: missing %s cookie", ErrNoSession, name)
		}
	}
	return nil
}

// Clear removes stored cookies. Clearing an empty store is not an error.
func (cs *CookieStore) Clear() error {
	if err := os.Remove(cs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// GetXCookies returns only the x.com related cookies for use in requests
func (cs *CookieStore) GetXCookies() ([]*network.Cookie, error) {
	stored, err := cs.Load()
	if err != nil {
		return nil, err
	}
	return xCookies(stored.Cookies), nil
}

func xCookies(cookies []*network.Cookie) []*network.Cookie {
	var out []*network.Cookie
	for _, c := range cookies {
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "x.com" || domain == "twitter.com" {
			out = append(out, c)
		}
	}
	return out
}

func isSessionCookie(name string) bool {
	for _, s := range sessionCookies {
		if s == name {
			return true
		}
	}
	return false
}

func hasCookie(cookies []*network.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}

package scraper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/threadmap/internal/browser"
	"github.com/ibeckermayer/threadmap/internal/logging"
	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/types"
)

// ErrNotLoggedIn is returned when X redirects a page load to its login flow.
var ErrNotLoggedIn = errors.New("not logged in to x.com (run `threadmap login`)")

// Options configures a Scraper.
type Options struct {
	Headless bool
	// SearchTimeout bounds a single search or status page.
	SearchTimeout time.Duration
	// MaxScrolls caps how far one search scrolls.
	MaxScrolls int
	// IdleScrolls ends a search after this many scrolls without new posts.
	IdleScrolls int
	// Cookies are the session cookies injected before the first page load.
	Cookies []*network.Cookie
}

// Scraper is a PostSource backed by a headless Chrome session on x.com. It
// reads the GraphQL responses the web client receives while a search page
// is scrolled, so posts arrive with their reply and quote metadata intact.
type Scraper struct {
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	browserCtx context.Context
	cancel     context.CancelFunc
}

var _ source.PostSource = (*Scraper)(nil)

// New creates a new scraper. The browser is started on first use.
func New(opts Options) *Scraper {
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = time.Minute
	}
	if opts.MaxScrolls <= 0 {
		opts.MaxScrolls = 50
	}
	if opts.IdleScrolls <= 0 {
		opts.IdleScrolls = 3
	}
	return &Scraper{opts: opts, log: logging.Component("scraper")}
}

// Close shuts the browser down.
func (s *Scraper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.browserCtx, s.cancel = nil, nil
	}
}

// start launches the browser and injects the session cookies once. The
// browser outlives individual calls, so it is not bound to their contexts.
func (s *Scraper) start() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx != nil {
		return s.browserCtx, nil
	}

	browserCtx, cancel := browser.NewContext(context.Background(), s.opts.Headless)
	if err := injectCookies(browserCtx, s.opts.Cookies); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to inject cookies: %w", err)
	}
	s.browserCtx, s.cancel = browserCtx, cancel
	return browserCtx, nil
}

// injectCookies sets cookies in the browser context
func injectCookies(ctx context.Context, cookies []*network.Cookie) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					Do(ctx)

				if err != nil {
					return err
				}
			}
			return nil
		}),
	)
}

// SearchURL returns the live search page for q.
func SearchURL(q source.Query) string {
	return baseURL + "/search?" + url.Values{
		"q":   {q.String()},
		"src": {"typed_query"},
		"f":   {"live"},
	}.Encode()
}

// StatusURL returns the page of a single post. X redirects it to the
// author's canonical status URL.
func StatusURL(id string) string {
	return baseURL + "/i/status/" + url.PathEscape(id)
}

// Search implements source.PostSource. Posts are yielded as their GraphQL
// pages arrive; the page keeps scrolling until MaxScrolls or until
// IdleScrolls scrolls in a row produce nothing new.
func (s *Scraper) Search(ctx context.Context, q source.Query) iter.Seq2[types.Post, error] {
	return func(yield func(types.Post, error) bool) {
		log := s.log.With().Str("query", q.String()).Logger()
		err := s.withPage(ctx, SearchURL(q), WaitForSearch, func(tabCtx context.Context, responses *capture) error {
			seen := make(map[string]bool)
			idle := 0
			for scroll := 0; scroll < s.opts.MaxScrolls && idle < s.opts.IdleScrolls; scroll++ {
				posts, err := responses.drain(tabCtx)
				if err != nil {
					return err
				}

				fresh := 0
				for _, p := range posts {
					if seen[p.ID] {
						continue
					}
					seen[p.ID] = true
					fresh++
					if !yield(p, nil) {
						return errStopped
					}
				}
				if fresh == 0 {
					idle++
				} else {
					idle = 0
				}

				if err := scrollPage(tabCtx); err != nil {
					return err
				}
				if err := sleep(tabCtx, time.Duration(500+scroll*100)*time.Millisecond); err != nil {
					return err
				}
			}
			log.Debug().Int("posts", len(seen)).Msg("Search finished")
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield(types.Post{}, fmt.Errorf("search %q: %w", q.String(), err))
		}
	}
}

// errStopped signals that the consumer stopped ranging over a search.
var errStopped = errors.New("consumer stopped")

// FetchByID implements source.PostSource.
func (s *Scraper) FetchByID(ctx context.Context, id string) (types.Post, error) {
	var found *types.Post
	err := s.withPage(ctx, StatusURL(id), WaitForStatus, func(tabCtx context.Context, responses *capture) error {
		for attempt := 0; attempt < s.opts.IdleScrolls; attempt++ {
			posts, err := responses.drain(tabCtx)
			if err != nil {
				return err
			}
			for i := range posts {
				if posts[i].ID == id {
					found = &posts[i]
					return nil
				}
				if posts[i].Quoted != nil && posts[i].Quoted.ID == id {
					found = posts[i].Quoted
					return nil
				}
			}
			if err := sleep(tabCtx, time.Second); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.Post{}, fmt.Errorf("fetch post %s: %w", id, err)
	}
	if found == nil {
		return types.Post{}, fmt.Errorf("post %s: %w", id, types.ErrNotFound)
	}
	return *found, nil
}

// withPage opens target in a new tab with GraphQL capture enabled, waits for
// the selector, and hands the tab to fn.
func (s *Scraper) withPage(ctx context.Context, target, ready string, fn func(context.Context, *capture) error) error {
	browserCtx, err := s.start()
	if err != nil {
		return err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.opts.SearchTimeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	responses := newCapture()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			responses.responseReceived(e.RequestID, e.Response.URL)
		case *network.EventLoadingFinished:
			responses.loadingFinished(e.RequestID)
		}
	})

	s.log.Debug().Str("url", target).Msg("Loading page")
	var location string
	err = chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(target),
		chromedp.Location(&location),
	)
	if err == nil && strings.Contains(location, loginPath) {
		return ErrNotLoggedIn
	}
	if err == nil {
		err = chromedp.Run(tabCtx, chromedp.WaitReady(ready, chromedp.ByQuery))
	}
	if err == nil {
		err = fn(tabCtx, responses)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// scrollPage scrolls the page down
func scrollPage(ctx context.Context) error {
	return chromedp.Run(ctx,
		chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// capture collects the ids of finished GraphQL responses. Listener callbacks
// must not block, so bodies are fetched later from the scrolling goroutine.
type capture struct {
	mu      sync.Mutex
	pending map[network.RequestID]bool
	ready   []network.RequestID
}

func newCapture() *capture {
	return &capture{pending: make(map[network.RequestID]bool)}
}

func (c *capture) responseReceived(id network.RequestID, rawURL string) {
	if !strings.Contains(rawURL, graphQLPath) {
		return
	}
	c.mu.Lock()
	c.pending[id] = true
	c.mu.Unlock()
}

func (c *capture) loadingFinished(id network.RequestID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[id] {
		delete(c.pending, id)
		c.ready = append(c.ready, id)
	}
}

// take returns and clears the finished responses in arrival order.
func (c *capture) take() []network.RequestID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.ready
	c.ready = nil
	return ids
}

// drain fetches and parses every finished response.
func (c *capture) drain(ctx context.Context) ([]types.Post, error) {
	var posts []types.Post
	for _, id := range c.take() {
		var body []byte
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Chrome evicts bodies of large or superseded responses.
			continue
		}

		parsed, err := ParseTimeline(body)
		if err != nil {
			return nil, err
		}
		posts = append(posts, parsed...)
	}
	return posts, nil
}

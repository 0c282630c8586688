package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ibeckermayer/threadmap/internal/types"
)

// RateLimited throttles queries issued against a provider. Every Search and
// FetchByID call consumes one token.
type RateLimited struct {
	next    PostSource
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket of rps requests per second.
// A non-positive rps disables throttling.
func NewRateLimited(next PostSource, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Search implements PostSource.
func (r *RateLimited) Search(ctx context.Context, q Query) iter.Seq2[types.Post, error] {
	if err := r.limiter.Wait(ctx); err != nil {
		return errSeq(fmt.Errorf("rate limiter: %w", err))
	}
	return r.next.Search(ctx, q)
}

// FetchByID implements PostSource.
func (r *RateLimited) FetchByID(ctx context.Context, id string) (types.Post, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return types.Post{}, fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.FetchByID(ctx, id)
}

// RetryConfig configures exponential backoff for provider calls.
type RetryConfig struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultRetryConfig returns the backoff used when the config file does not override it.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter && d > 0 {
		// +/- 25%
		d += d * 0.25 * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Retrying retries failed provider calls with exponential backoff. A search is
// only retried when it fails before yielding its first post; a stream that
// breaks midway is reported as failed.
type Retrying struct {
	next   PostSource
	config RetryConfig
}

// NewRetrying wraps next with retry behavior.
func NewRetrying(next PostSource, config RetryConfig) *Retrying {
	return &Retrying{next: next, config: config}
}

func retryable(err error) bool {
	return !errors.Is(err, types.ErrNotFound) &&
		!errors.Is(err, types.ErrMalformedPost) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (r *Retrying) wait(ctx context.Context, attempt int, op string, err error) error {
	d := r.config.delay(attempt)
	log.Warn().
		Err(err).
		Str("component", "source").
		Str("op", op).
		Int("attempt", attempt+1).
		Dur("backoff", d).
		Msg("Provider call failed, retrying")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Search implements PostSource.
func (r *Retrying) Search(ctx context.Context, q Query) iter.Seq2[types.Post, error] {
	return func(yield func(types.Post, error) bool) {
		for attempt := 0; ; attempt++ {
			yielded := false
			var failure error
			for p, err := range r.next.Search(ctx, q) {
				if err != nil {
					failure = err
					break
				}
				yielded = true
				if !yield(p, nil) {
					return
				}
			}
			if failure == nil {
				return
			}
			if yielded || !retryable(failure) || attempt >= r.config.MaxRetries {
				yield(types.Post{}, failure)
				return
			}
			if err := r.wait(ctx, attempt, "search "+q.String(), failure); err != nil {
				yield(types.Post{}, err)
				return
			}
		}
	}
}

// FetchByID implements PostSource.
func (r *Retrying) FetchByID(ctx context.Context, id string) (types.Post, error) {
	for attempt := 0; ; attempt++ {
		p, err := r.next.FetchByID(ctx, id)
		if err == nil {
			return p, nil
		}
		if !retryable(err) || attempt >= r.config.MaxRetries {
			return types.Post{}, err
		}
		if werr := r.wait(ctx, attempt, "fetch "+id, err); werr != nil {
			return types.Post{}, werr
		}
	}
}

// PostSaver persists posts seen on the wire.
type PostSaver interface {
	SavePost(ctx context.Context, p types.Post) error
}

// Recording passes every post it sees to a PostSaver so later runs can be
// replayed offline. Save failures are logged and never fail the query.
type Recording struct {
	next  PostSource
	saver PostSaver
}

// NewRecording wraps next so that every returned post is saved.
func NewRecording(next PostSource, saver PostSaver) *Recording {
	return &Recording{next: next, saver: saver}
}

func (r *Recording) save(ctx context.Context, p types.Post) {
	if err := r.saver.SavePost(ctx, p); err != nil {
		log.Warn().Err(err).Str("component", "source").Str("post_id", p.ID).Msg("Failed to cache post")
	}
	if p.Quoted != nil {
		r.save(ctx, *p.Quoted)
	}
}

// Search implements PostSource.
func (r *Recording) Search(ctx context.Context, q Query) iter.Seq2[types.Post, error] {
	return func(yield func(types.Post, error) bool) {
		for p, err := range r.next.Search(ctx, q) {
			if err == nil {
				r.save(ctx, p)
			}
			if !yield(p, err) || err != nil {
				return
			}
		}
	}
}

// FetchByID implements PostSource.
func (r *Recording) FetchByID(ctx context.Context, id string) (types.Post, error) {
	p, err := r.next.FetchByID(ctx, id)
	if err != nil {
		return p, err
	}
	r.save(ctx, p)
	return p, nil
}

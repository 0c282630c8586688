package app

import (
	"github.com/ibeckermayer/threadmap/internal/config"
	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/store"
)

// OnlineSource wraps a live provider with rate limiting and retries, and
// records every post it returns into db when db is not nil.
func OnlineSource(cfg config.SourceConfig, live source.PostSource, db *store.Store) source.PostSource {
	retry := source.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	if cfg.RetryBaseDelay.Duration > 0 {
		retry.BaseDelay = cfg.RetryBaseDelay.Duration
	}

	var src source.PostSource = source.NewRateLimited(live, cfg.RequestsPerSecond, cfg.Burst)
	src = source.NewRetrying(src, retry)
	if db != nil {
		src = source.NewRecording(src, db)
	}
	return src
}

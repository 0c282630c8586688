// Package cmd holds the threadmap subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/ibeckermayer/threadmap/internal/app"
	"github.com/ibeckermayer/threadmap/internal/auth"
	"github.com/ibeckermayer/threadmap/internal/config"
	"github.com/ibeckermayer/threadmap/internal/logging"
	"github.com/ibeckermayer/threadmap/internal/scraper"
	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/store"
)

const configKey = "config"

// GlobalFlags are accepted before any subcommand.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Load configuration from `FILE` (default $" + config.EnvPath + " or the user config dir)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override the configured log level (debug, info, warn, error)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Shorthand for --log-level debug",
		},
	}
}

// Setup loads the configuration and installs the logger. It runs before
// every command.
func Setup(c *cli.Context) error {
	if path := c.String("config"); path != "" {
		// Later lookups (open config) resolve the same file.
		if err := os.Setenv(config.EnvPath, path); err != nil {
			return err
		}
	}
	cfg, err := config.LoadOrDefault()
	if err != nil {
		if cfg == nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// Defaults are usable even when they could not be written out.
		log.Warn().Err(err).Msg("Using default config")
	}

	level := cfg.Log.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	if c.Bool("verbose") {
		level = "debug"
	}
	logging.Setup(level, cfg.Log.Pretty)

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func newAuthManager() (*auth.Manager, error) {
	path, err := auth.DefaultCookieStorePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get cookie store path: %w", err)
	}
	return auth.NewManager(auth.NewCookieStore(path)), nil
}

// extractFlags are shared by extract and watch.
func extractFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Aliases: []string{"u"},
			Usage:   "Post URL (https://x.com/<author>/status/<id>)",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "Post id",
		},
		&cli.BoolFlag{
			Name:    "save-images",
			Aliases: []string{"i"},
			Usage:   "Download attached media into {rootId}_images/",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "Write outputs to `DIR` instead of the configured output dir",
		},
		&cli.BoolFlag{
			Name:  "offline",
			Usage: "Rebuild from previously captured posts without opening a browser",
		},
	}
}

func requestFrom(c *cli.Context) app.Request {
	return app.Request{
		URL:        c.String("url"),
		ID:         c.String("id"),
		SaveImages: c.Bool("save-images"),
		OutDir:     c.String("out"),
	}
}

// newApp wires the post source for one command: the capture database alone
// when offline, otherwise the x.com scraper recording into that database.
// The returned func releases everything.
func newApp(c *cli.Context, cfg *config.Config) (*app.App, func(), error) {
	dbPath, err := store.DefaultPath()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open post database: %w", err)
	}
	closers := []func(){func() { db.Close() }}
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var src source.PostSource = db
	if !c.Bool("offline") {
		manager, err := newAuthManager()
		if err != nil {
			release()
			return nil, nil, err
		}
		cookies, err := manager.Cookies()
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("%w (run `threadmap login` first)", err)
		}

		sc := scraper.New(scraper.Options{
			Headless:      cfg.Scraping.Headless,
			SearchTimeout: cfg.Scraping.SearchTimeout.Duration,
			MaxScrolls:    cfg.Scraping.MaxScrolls,
			IdleScrolls:   cfg.Scraping.IdleScrolls,
			Cookies:       cookies,
		})
		closers = append(closers, sc.Close)
		src = app.OnlineSource(cfg.Source, sc, db)
	}

	opts := []app.Option{app.WithStore(db)}
	if snaps, err := store.DefaultSnapshots(); err == nil {
		opts = append(opts, app.WithSnapshots(snaps))
	}
	return app.New(cfg, src, opts...), release, nil
}

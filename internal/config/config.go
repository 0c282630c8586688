package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const appName = "threadmap"

// EnvPath overrides the config file location when set.
const EnvPath = "THREADMAP_CONFIG"

// Config holds all application configuration
type Config struct {
	Version  int            `toml:"version"`
	Scraping ScrapingConfig `toml:"scraping"`
	Thread   ThreadConfig   `toml:"thread"`
	Source   SourceConfig   `toml:"source"`
	Media    MediaConfig    `toml:"media"`
	Output   OutputConfig   `toml:"output"`
	Log      LogConfig      `toml:"log"`
	Notify   NotifyConfig   `toml:"notify"`
}

type ScrapingConfig struct {
	Headless      bool     `toml:"headless"`
	SearchTimeout Duration `toml:"search_timeout"`
	MaxScrolls    int      `toml:"max_scrolls"`
	IdleScrolls   int      `toml:"idle_scrolls"`
}

type ThreadConfig struct {
	MaxDepth     int    `toml:"max_depth"`
	ReplySearch  string `toml:"reply_search"`
	QuoteWorkers int    `toml:"quote_workers"`
}

type SourceConfig struct {
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	MaxRetries        int      `toml:"max_retries"`
	RetryBaseDelay    Duration `toml:"retry_base_delay"`
}

type MediaConfig struct {
	Workers int      `toml:"workers"`
	Timeout Duration `toml:"timeout"`
}

type OutputConfig struct {
	Dir string `toml:"dir"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// NotifyConfig configures the watch command's email about new posts. An
// empty provider disables it.
type NotifyConfig struct {
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

// EnvSMTPPass supplies notify.smtp_pass when the file leaves it empty.
const EnvSMTPPass = "THREADMAP_SMTP_PASS"

// Duration is a time.Duration written as a string ("10s", "1m30s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Scraping: ScrapingConfig{
			Headless:      true,
			SearchTimeout: Duration{60 * time.Second},
			MaxScrolls:    50,
			IdleScrolls:   3,
		},
		Thread: ThreadConfig{
			MaxDepth:     64,
			ReplySearch:  "conversation",
			QuoteWorkers: 1,
		},
		Source: SourceConfig{
			RequestsPerSecond: 0.5,
			Burst:             1,
			MaxRetries:        2,
			RetryBaseDelay:    Duration{2 * time.Second},
		},
		Media: MediaConfig{
			Workers: 4,
			Timeout: Duration{10 * time.Second},
		},
		Output: OutputConfig{
			Dir: ".",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
		},
	}
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Thread.ReplySearch {
	case "conversation", "per_node":
	default:
		errs = append(errs, fmt.Errorf("thread.reply_search must be \"conversation\" or \"per_node\", got %q", c.Thread.ReplySearch))
	}
	if c.Thread.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("thread.max_depth must be positive, got %d", c.Thread.MaxDepth))
	}
	if c.Thread.QuoteWorkers <= 0 {
		errs = append(errs, fmt.Errorf("thread.quote_workers must be positive, got %d", c.Thread.QuoteWorkers))
	}
	if c.Media.Workers <= 0 {
		errs = append(errs, fmt.Errorf("media.workers must be positive, got %d", c.Media.Workers))
	}
	if c.Media.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("media.timeout must be positive, got %s", c.Media.Timeout))
	}
	if c.Scraping.MaxScrolls <= 0 || c.Scraping.IdleScrolls <= 0 {
		errs = append(errs, fmt.Errorf("scraping.max_scrolls and scraping.idle_scrolls must be positive"))
	}
	if c.Source.RequestsPerSecond < 0 || c.Source.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("source limits must not be negative"))
	}
	switch c.Notify.Provider {
	case "":
	case "smtp":
		if c.Notify.SMTPHost == "" || c.Notify.ToAddr == "" {
			errs = append(errs, fmt.Errorf("notify.smtp_host and notify.to_address are required for smtp"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify.provider %q", c.Notify.Provider))
	}
	return errors.Join(errs...)
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// ConfigPath returns the full path to the config file, honoring THREADMAP_CONFIG.
func ConfigPath() (string, error) {
	if path := os.Getenv(EnvPath); path != "" {
		return path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the directory holding the post database and snapshots.
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// Load reads config from disk. Keys missing from the file keep their defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads and validates the config at path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Notify.SMTPPass == "" {
		cfg.Notify.SMTPPass = os.Getenv(EnvSMTPPass)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config, writing the defaults on first run.
func LoadOrDefault() (*Config, error) {
	cfg, err := Load()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = Default()
	if err := cfg.Save(); err != nil {
		return cfg, fmt.Errorf("failed to save default config: %w", err)
	}
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path, creating its directory.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

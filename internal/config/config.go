// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Portal  PortalConfig  `mapstructure:"portal"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PortalConfig describes the external document portal and the requester
// identity stamped into its request form.
type PortalConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Headless          bool   `mapstructure:"headless"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	OpDelayMs         int    `mapstructure:"op_delay_ms"`
	UserName          string `mapstructure:"user_name"`
	UserEmail         string `mapstructure:"user_email"`
	UserOccupation    string `mapstructure:"user_occupation"`
}

// CrawlConfig governs the page range and batching behavior of a run.
type CrawlConfig struct {
	StartPage    int    `mapstructure:"start_page"`
	EndPage      int    `mapstructure:"end_page"`
	BatchSize    int    `mapstructure:"batch_size"`
	DownloadDir  string `mapstructure:"download_dir"`
	FreshStart   bool   `mapstructure:"fresh_start"`
	ProgressFile string `mapstructure:"progress_file"`
}

// LedgerConfig selects and parameterizes the durable ledger backend.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// RetryConfig bounds the retry wrapper around portal operations.
type RetryConfig struct {
	Attempts  int `mapstructure:"attempts"`
	BackoffMs int `mapstructure:"backoff_ms"`
}

// StatusConfig controls the optional HTTP status server.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.headless", true)
	v.SetDefault("portal.nav_timeout_seconds", 30)
	v.SetDefault("portal.op_delay_ms", 500)
	v.SetDefault("crawl.start_page", 1)
	v.SetDefault("crawl.end_page", 1)
	v.SetDefault("crawl.batch_size", 5)
	v.SetDefault("crawl.download_dir", "downloads")
	v.SetDefault("crawl.fresh_start", false)
	v.SetDefault("crawl.progress_file", "progress.md")
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.dir", "ledgers")
	v.SetDefault("ledger.table", "ledgers")
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.backoff_ms", 500)
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. A failure here is
// a configuration fault: the run stops before any portal interaction.
func (c Config) Validate() error {
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if c.Portal.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("portal.nav_timeout_seconds must be > 0")
	}
	if c.Crawl.StartPage <= 0 {
		return fmt.Errorf("crawl.start_page must be > 0")
	}
	if c.Crawl.EndPage < c.Crawl.StartPage {
		return fmt.Errorf("crawl.end_page must be >= crawl.start_page")
	}
	if c.Crawl.BatchSize <= 0 {
		return fmt.Errorf("crawl.batch_size must be > 0")
	}
	switch c.Ledger.Backend {
	case "file":
		if c.Ledger.Dir == "" {
			return fmt.Errorf("ledger.dir is required for the file backend")
		}
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be file or postgres, got %q", c.Ledger.Backend)
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be > 0")
	}
	if c.Status.Enabled && c.Status.Port <= 0 {
		return fmt.Errorf("status.port must be > 0 when the status server is enabled")
	}
	return nil
}

// ValidateRequester checks the identity fields the request form needs. Only
// the crawl command requires them; the download command does not submit.
func (c Config) ValidateRequester() error {
	if c.Portal.UserName == "" {
		return fmt.Errorf("portal.user_name is required to submit requests")
	}
	if c.Portal.UserEmail == "" {
		return fmt.Errorf("portal.user_email is required to submit requests")
	}
	return nil
}

// NavTimeout converts the navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Portal.NavTimeoutSeconds) * time.Second
}

// OpDelay converts the inter-operation delay into a duration.
func (c Config) OpDelay() time.Duration {
	return time.Duration(c.Portal.OpDelayMs) * time.Millisecond
}

// RetryBackoff converts the retry backoff into a duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Retry.BackoffMs) * time.Millisecond
}

// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/coachscout/jobs-crawler/internal/vision"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Roster    RosterConfig    `mapstructure:"roster"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Router    RouterConfig    `mapstructure:"router"`
	LocalOCR  LocalOCRConfig  `mapstructure:"local_ocr"`
	CloudOCR  CloudOCRConfig  `mapstructure:"cloud_ocr"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RosterConfig locates the district roster.
type RosterConfig struct {
	Path  string `mapstructure:"path"`
	State string `mapstructure:"state"`
}

// BatchConfig governs the run driver.
type BatchConfig struct {
	Workers int    `mapstructure:"workers"`
	Topic   string `mapstructure:"topic"`
}

// CaptureConfig configures headless screenshot rendering.
type CaptureConfig struct {
	Width          int    `mapstructure:"width"`
	Height         int    `mapstructure:"height"`
	UserAgent      string `mapstructure:"user_agent"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	DisableCapture bool   `mapstructure:"disabled"`
}

// DiscoveryConfig configures career URL discovery from homepages.
type DiscoveryConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
	MaxURLs        int  `mapstructure:"max_urls"`
}

// RouterConfig holds the escalation chain and per-tier thresholds.
type RouterConfig struct {
	TierOrder []string              `mapstructure:"tier_order"`
	Tiers     map[string]TierConfig `mapstructure:"tiers"`
}

// TierConfig holds per-tier acceptance thresholds.
type TierConfig struct {
	MinConfidence  float64 `mapstructure:"min_confidence"`
	MinChars       int     `mapstructure:"min_chars"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// LocalOCRConfig configures the Tesseract tier.
type LocalOCRConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Languages string `mapstructure:"languages"`
}

// CloudOCRConfig configures the cloud vision tier.
type CloudOCRConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Key      string `mapstructure:"key"`
	Language string `mapstructure:"language"`
}

// DBConfig controls access to the fingerprint database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// ArchiveConfig selects the screenshot archive backend.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"` // none, local or gcs
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for decision publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.topic", "scraper.decisions")
	v.SetDefault("capture.width", 1440)
	v.SetDefault("capture.height", 900)
	v.SetDefault("capture.nav_timeout_seconds", 45)
	v.SetDefault("capture.max_parallel", 2)
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.timeout_seconds", 15)
	v.SetDefault("discovery.max_urls", 3)
	v.SetDefault("router.tier_order", []string{"local-ocr", "cloud-ocr", "agent"})
	v.SetDefault("router.tiers.local-ocr.min_confidence", 0.65)
	v.SetDefault("router.tiers.local-ocr.min_chars", 300)
	v.SetDefault("router.tiers.local-ocr.timeout_seconds", 30)
	v.SetDefault("router.tiers.cloud-ocr.min_confidence", 0.65)
	v.SetDefault("router.tiers.cloud-ocr.min_chars", 300)
	v.SetDefault("router.tiers.cloud-ocr.timeout_seconds", 60)
	v.SetDefault("local_ocr.enabled", true)
	v.SetDefault("local_ocr.languages", "eng")
	v.SetDefault("cloud_ocr.enabled", false)
	v.SetDefault("cloud_ocr.language", "en")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "screenshots")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be > 0")
	}
	if c.Capture.MaxParallel <= 0 {
		return fmt.Errorf("capture.max_parallel must be > 0")
	}
	if _, err := vision.ParseTierOrder(c.Router.TierOrder); err != nil {
		return fmt.Errorf("router.tier_order: %w", err)
	}
	for name, tier := range c.Router.Tiers {
		if tier.MinConfidence < 0 || tier.MinConfidence > 1 {
			return fmt.Errorf("router.tiers.%s.min_confidence must be in [0,1]", name)
		}
		if tier.MinChars < 0 {
			return fmt.Errorf("router.tiers.%s.min_chars must be >= 0", name)
		}
	}
	if c.CloudOCR.Enabled && (c.CloudOCR.Endpoint == "" || c.CloudOCR.Key == "") {
		return fmt.Errorf("cloud_ocr.endpoint and cloud_ocr.key must be set when cloud OCR is enabled")
	}
	switch c.Archive.Backend {
	case "none", "local", "gcs":
	default:
		return fmt.Errorf("archive.backend must be none, local or gcs")
	}
	if c.Archive.Backend == "local" && c.Archive.LocalDir == "" {
		return fmt.Errorf("archive.local_dir must be set for the local backend")
	}
	if c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
	}
	return nil
}

// VisionRouterConfig converts the raw tier settings into the validated
// form the router consumes.
func (c Config) VisionRouterConfig() (vision.RouterConfig, error) {
	order, err := vision.ParseTierOrder(c.Router.TierOrder)
	if err != nil {
		return vision.RouterConfig{}, fmt.Errorf("router.tier_order: %w", err)
	}
	policies := make(map[vision.Tier]vision.TierPolicy, len(c.Router.Tiers))
	for name, tier := range c.Router.Tiers {
		policies[vision.Tier(name)] = vision.TierPolicy{
			MinConfidence: tier.MinConfidence,
			MinChars:      tier.MinChars,
			Timeout:       time.Duration(tier.TimeoutSeconds) * time.Second,
		}
	}
	return vision.RouterConfig{Order: order, Policies: policies}, nil
}

// NavTimeout returns the capture navigation budget.
func (c CaptureConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

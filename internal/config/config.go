package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"amplify/internal/model"
	"amplify/internal/resilience"
)

// Config is the application's configuration model.
// It covers the HTTP surface, storage, the publish queue, engagement sync,
// circuit breakers, ad escalation and the platform accounts.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Sync        SyncConfig        `yaml:"sync"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Ads         AdsConfig         `yaml:"ads"`
	Platforms   PlatformsConfig   `yaml:"platforms"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
	Brands      []model.Brand     `yaml:"brands"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// If empty, read from env METRICS_ADDR
	MetricsAddr string `yaml:"metricsAddr"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type SchedulerConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"pollInterval"`
	BaseBackoff  time.Duration `yaml:"baseBackoff"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	// Finished jobs older than this are purged
	Retention time.Duration `yaml:"retention"`
}

type SyncConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Lookback   time.Duration `yaml:"lookback"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

type ResilienceConfig struct {
	Default resilience.BreakerConfig `yaml:"default"`
	// Per-target overrides, keyed like "platform:twitter" or "ads:google"
	Targets map[string]resilience.BreakerConfig `yaml:"targets"`
}

type AdsConfig struct {
	// If empty, read from env ADS_GATEWAY_URL
	GatewayURL string `yaml:"gatewayURL"`
	// If empty, read from env ADS_GATEWAY_TOKEN
	GatewayToken string `yaml:"gatewayToken"`
	// Escalate qualifying posts after every sync run
	AutoEscalate bool          `yaml:"autoEscalate"`
	MaxRetries   int           `yaml:"maxRetries"`
	RetryDelay   time.Duration `yaml:"retryDelay"`
}

// PlatformConfig tunes the HTTP client of one platform adapter.
type PlatformConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

type PlatformsConfig struct {
	Twitter   PlatformConfig `yaml:"twitter"`
	LinkedIn  PlatformConfig `yaml:"linkedin"`
	Facebook  PlatformConfig `yaml:"facebook"`
	Instagram PlatformConfig `yaml:"instagram"`
	// Wait between creating an Instagram container and publishing it
	InstagramSettle time.Duration `yaml:"instagramSettle"`
}

// AccountCredentials is a platform token plus the account it acts as.
type AccountCredentials struct {
	Token     string `yaml:"token"`
	AccountID string `yaml:"accountID"`
}

type CredentialsConfig struct {
	// If empty, tokens are read from TWITTER_TOKEN, LINKEDIN_TOKEN,
	// FACEBOOK_TOKEN and INSTAGRAM_TOKEN
	Twitter   AccountCredentials `yaml:"twitter"`
	LinkedIn  AccountCredentials `yaml:"linkedin"`
	Facebook  AccountCredentials `yaml:"facebook"`
	Instagram AccountCredentials `yaml:"instagram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080", MetricsAddr: ""},
		Storage: StorageConfig{DBPath: "./amplify.db"},
		Scheduler: SchedulerConfig{
			Workers:      4,
			PollInterval: time.Second,
			BaseBackoff:  2 * time.Second,
			MaxAttempts:  model.DefaultMaxAttempts,
			Retention:    7 * 24 * time.Hour,
		},
		Sync: SyncConfig{Interval: 4 * time.Hour, Lookback: 30 * 24 * time.Hour, MaxRetries: 2, RetryDelay: 500 * time.Millisecond},
		Resilience: ResilienceConfig{
			Default: resilience.BreakerConfig{FailureThreshold: resilience.DefaultFailureThreshold, OpenTimeout: resilience.DefaultOpenTimeout},
		},
		Ads: AdsConfig{AutoEscalate: false, MaxRetries: 2, RetryDelay: time.Second},
		Platforms: PlatformsConfig{
			Twitter:         PlatformConfig{RPS: 1, Burst: 3},
			LinkedIn:        PlatformConfig{RPS: 1, Burst: 3},
			Facebook:        PlatformConfig{RPS: 2, Burst: 5},
			Instagram:       PlatformConfig{RPS: 1, Burst: 3},
			InstagramSettle: 3 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
// AMPLIFY_ADDR, AMPLIFY_DB_PATH and AMPLIFY_LOG_LEVEL always win.
func (c *Config) ResolveEnv() {
	if v := os.Getenv("AMPLIFY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AMPLIFY_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("AMPLIFY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AMPLIFY_AUTO_ESCALATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Ads.AutoEscalate = b
		}
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = os.Getenv("METRICS_ADDR")
	}
	if c.Ads.GatewayURL == "" {
		c.Ads.GatewayURL = os.Getenv("ADS_GATEWAY_URL")
	}
	if c.Ads.GatewayToken == "" {
		c.Ads.GatewayToken = os.Getenv("ADS_GATEWAY_TOKEN")
	}
	if c.Credentials.Twitter.Token == "" {
		c.Credentials.Twitter.Token = os.Getenv("TWITTER_TOKEN")
	}
	if c.Credentials.LinkedIn.Token == "" {
		c.Credentials.LinkedIn.Token = os.Getenv("LINKEDIN_TOKEN")
	}
	if c.Credentials.Facebook.Token == "" {
		c.Credentials.Facebook.Token = os.Getenv("FACEBOOK_TOKEN")
	}
	if c.Credentials.Instagram.Token == "" {
		c.Credentials.Instagram.Token = os.Getenv("INSTAGRAM_TOKEN")
	}
}

// Load reads YAML config from path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// BrandMap indexes the configured brands by id.
func (c Config) BrandMap() map[string]model.Brand {
	out := make(map[string]model.Brand, len(c.Brands))
	for _, b := range c.Brands {
		out[b.ID] = b
	}
	return out
}

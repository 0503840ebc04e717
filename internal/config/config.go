// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire process-wide configuration. Per-repository scan
// policy lives in the manifest package; this is the operator side.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	GitHub   GitHubConfig   `mapstructure:"github" yaml:"github"`
	Git      GitConfig      `mapstructure:"git" yaml:"git"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig holds the webhook HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RedisConfig addresses the queue broker and the baseline store. Both live on
// the same instance by default but can be split.
type RedisConfig struct {
	URL         string `mapstructure:"url" yaml:"url"`
	BaselineURL string `mapstructure:"baseline_url" yaml:"baseline_url"`
}

// BaselineAddr returns the baseline store address, falling back to the queue
// broker address when no dedicated one is configured.
func (r RedisConfig) BaselineAddr() string {
	if r.BaselineURL != "" {
		return r.BaselineURL
	}
	return r.URL
}

// GitHubConfig carries the App credentials and webhook secret.
type GitHubConfig struct {
	AppID          int64         `mapstructure:"app_id" yaml:"app_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path" yaml:"private_key_path"`
	WebhookSecret  string        `mapstructure:"webhook_secret" yaml:"-"`
	APIBaseURL     string        `mapstructure:"api_base_url" yaml:"api_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// RequestsPerSecond bounds outbound API calls to stay clear of
	// secondary rate limits.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// GitConfig bounds every repository operation.
type GitConfig struct {
	CloneTimeout    time.Duration `mapstructure:"clone_timeout" yaml:"clone_timeout"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	ResolveTimeout  time.Duration `mapstructure:"resolve_timeout" yaml:"resolve_timeout"`
	CheckoutTimeout time.Duration `mapstructure:"checkout_timeout" yaml:"checkout_timeout"`
	DiffTimeout     time.Duration `mapstructure:"diff_timeout" yaml:"diff_timeout"`
}

// AnalysisConfig bounds the external analyzer invocations.
type AnalysisConfig struct {
	SlitherTimeout time.Duration `mapstructure:"slither_timeout" yaml:"slither_timeout"`
	MythrilTimeout time.Duration `mapstructure:"mythril_timeout" yaml:"mythril_timeout"`
	OyenteTimeout  time.Duration `mapstructure:"oyente_timeout" yaml:"oyente_timeout"`
	AderynTimeout  time.Duration `mapstructure:"aderyn_timeout" yaml:"aderyn_timeout"`
	// SolcVersion is the compiler version pinned via solc-select before
	// source-level analyzers run. Toolchain provisioning itself is outside
	// this service.
	SolcVersion string `mapstructure:"solc_version" yaml:"solc_version"`
}

// WorkerConfig tunes the queue consumer.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// RetryBaseDelay is the first delay of the exponential retry schedule
	// applied to transient job failures.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "audit-pit-crew")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.shutdown_timeout", "15s")

	// -- Redis --
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.baseline_url", "")

	// -- GitHub --
	v.SetDefault("github.api_base_url", "")
	v.SetDefault("github.request_timeout", "30s")
	v.SetDefault("github.requests_per_second", 5.0)

	// -- Git --
	v.SetDefault("git.clone_timeout", "120s")
	v.SetDefault("git.fetch_timeout", "30s")
	v.SetDefault("git.resolve_timeout", "10s")
	v.SetDefault("git.checkout_timeout", "30s")
	v.SetDefault("git.diff_timeout", "30s")

	// -- Analysis --
	v.SetDefault("analysis.slither_timeout", "300s")
	v.SetDefault("analysis.mythril_timeout", "300s")
	v.SetDefault("analysis.oyente_timeout", "300s")
	v.SetDefault("analysis.aderyn_timeout", "600s")
	v.SetDefault("analysis.solc_version", "0.8.20")

	// -- Worker --
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.retry_base_delay", "10s")
	v.SetDefault("worker.max_retries", 2)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("github.webhook_secret", "GITHUB_WEBHOOK_SECRET")
	v.BindEnv("github.app_id", "GITHUB_APP_ID")
	v.BindEnv("github.private_key_path", "GITHUB_PRIVATE_KEY_PATH")
	v.BindEnv("redis.url", "REDIS_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the secret if Unmarshal didn't pick it up.
	if cfg.GitHub.WebhookSecret == "" {
		cfg.GitHub.WebhookSecret = os.Getenv("GITHUB_WEBHOOK_SECRET")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be a positive integer")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must not be negative")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is a required configuration field")
	}
	if c.GitHub.RequestsPerSecond <= 0 {
		return fmt.Errorf("github.requests_per_second must be positive")
	}
	return nil
}

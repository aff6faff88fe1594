package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Scan    ScanConfig    `mapstructure:"scan" yaml:"scan"`
	SDK     SDKConfig     `mapstructure:"sdk" yaml:"sdk"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
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
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser that hosts the tabs.
type BrowserConfig struct {
	Headless   bool     `mapstructure:"headless" yaml:"headless"`
	DisableGPU bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath   string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent  string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args       []string `mapstructure:"args" yaml:"args"`
}

// ScanConfig tunes the timing of one scan.
type ScanConfig struct {
	// ReadyTimeout bounds the wait for the tab to finish loading. Exceeding it fails the scan.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	// SettleDelay lets client-side rendering finish before the first extraction.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// ExtractRetryInterval is the pause between extraction attempts.
	ExtractRetryInterval time.Duration `mapstructure:"extract_retry_interval" yaml:"extract_retry_interval"`
	// ExtractRetryDeadline bounds the total retry window. Exceeding it keeps the latest snapshot.
	ExtractRetryDeadline time.Duration `mapstructure:"extract_retry_deadline" yaml:"extract_retry_deadline"`
	// ProbeHeaders enables the fallback GET for main-document headers.
	ProbeHeaders bool `mapstructure:"probe_headers" yaml:"probe_headers"`
}

// SDKConfig describes the payment SDK being inspected.
type SDKConfig struct {
	KnownDomains      []string      `mapstructure:"known_domains" yaml:"known_domains"`
	AnalyticsPatterns []string      `mapstructure:"analytics_patterns" yaml:"analytics_patterns"`
	ScriptPatterns    []string      `mapstructure:"script_patterns" yaml:"script_patterns"`
	RegistryURL       string        `mapstructure:"registry_url" yaml:"registry_url"`
	LatestCacheTTL    time.Duration `mapstructure:"latest_cache_ttl" yaml:"latest_cache_ttl"`
	BundleScanLimit   int           `mapstructure:"bundle_scan_limit" yaml:"bundle_scan_limit"`
}

// NetworkConfig tunes outbound HTTP made by the scanner itself.
type NetworkConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst        int           `mapstructure:"burst" yaml:"burst"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// StoreConfig selects and configures the result store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"`
	TTL      time.Duration  `mapstructure:"ttl" yaml:"ttl"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
}

// RedisConfig holds the connection details for a Redis server.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SQLiteConfig holds the path of the local result database.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// Set installs cfg as the process-wide configuration.
func Set(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCfg = cfg
}

// Get returns the process-wide configuration, falling back to defaults.
func Get() *Config {
	globalMu.RLock()
	cfg := globalCfg
	globalMu.RUnlock()
	if cfg == nil {
		return NewDefaultConfig()
	}
	return cfg
}

// DefaultDataDir is where local state lives when nothing else is configured.
func DefaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".checkout-inspector"
	}
	return filepath.Join(home, ".checkout-inspector")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "checkout-inspector")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)

	// -- Scan --
	v.SetDefault("scan.ready_timeout", "30s")
	v.SetDefault("scan.settle_delay", "1500ms")
	v.SetDefault("scan.extract_retry_interval", "500ms")
	v.SetDefault("scan.extract_retry_deadline", "5s")
	v.SetDefault("scan.probe_headers", true)

	// -- SDK --
	v.SetDefault("sdk.known_domains", []string{"adyen.com", "adyenpayments.com", "adyen.link"})
	v.SetDefault("sdk.analytics_patterns", []string{"checkoutanalytics", "/analytics/v"})
	v.SetDefault("sdk.script_patterns", []string{"adyen.js", "adyen-web", "/checkoutshopper/sdk/", "adyen-checkout"})
	v.SetDefault("sdk.registry_url", "https://registry.npmjs.org/@adyen/adyen-web/latest")
	v.SetDefault("sdk.latest_cache_ttl", "1h")
	v.SetDefault("sdk.bundle_scan_limit", 3)

	// -- Network --
	v.SetDefault("network.timeout", "15s")
	v.SetDefault("network.rate_limit", 5.0)
	v.SetDefault("network.burst", 2)
	v.SetDefault("network.max_body_bytes", 8<<20)
	v.SetDefault("network.user_agent", "checkout-inspector/1.0")

	// -- Store --
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.ttl", "0s")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.sqlite.path", filepath.Join(DefaultDataDir(), "results.db"))

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8088")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	// Secrets come from the environment only.
	_ = v.BindEnv("store.redis.password", "CHECKOUT_INSPECTOR_REDIS_PASSWORD")
	_ = v.BindEnv("store.postgres.url", "CHECKOUT_INSPECTOR_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Store.Redis.Password == "" {
		cfg.Store.Redis.Password = os.Getenv("CHECKOUT_INSPECTOR_REDIS_PASSWORD")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Scan.Validate(); err != nil {
		return fmt.Errorf("scan configuration invalid: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if len(c.SDK.KnownDomains) == 0 {
		return fmt.Errorf("sdk.known_domains must list at least one domain")
	}
	if c.Network.RateLimit <= 0 {
		return fmt.Errorf("network.rate_limit must be positive")
	}
	if c.Network.MaxBodyBytes <= 0 {
		return fmt.Errorf("network.max_body_bytes must be positive")
	}
	return nil
}

// Validate checks the scan timing settings.
func (s *ScanConfig) Validate() error {
	if s.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be a positive duration")
	}
	if s.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	if s.ExtractRetryInterval <= 0 {
		return fmt.Errorf("extract_retry_interval must be a positive duration")
	}
	if s.ExtractRetryDeadline < s.ExtractRetryInterval {
		return fmt.Errorf("extract_retry_deadline must be at least extract_retry_interval")
	}
	return nil
}

// Validate checks the store backend selection.
func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Backend) {
	case BackendMemory:
	case BackendRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if s.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required for the postgres backend (hint: CHECKOUT_INSPECTOR_DATABASE_URL)")
		}
	case BackendSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.TTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the location of the optional YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

const defaultConfigFile = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Cache     CacheConfig     `koanf:"cache"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            string        `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `koanf:"driver"` // postgres or sqlite
	URL          string `koanf:"url"`
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	User         string `koanf:"user"`
	Password     string `koanf:"password"`
	DBName       string `koanf:"name"`
	SSLMode      string `koanf:"sslmode"`
	Path         string `koanf:"path"` // sqlite only
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// UpstreamConfig configures the catalog API client.
type UpstreamConfig struct {
	BaseURL           string        `koanf:"base_url"`
	APIKey            string        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxAttempts       int           `koanf:"max_attempts"`
	RateLimitCooldown time.Duration `koanf:"rate_limit_cooldown"`
	BackoffBase       time.Duration `koanf:"backoff_base"`
	RequestsPerSecond float64       `koanf:"requests_per_second"` // 0 = unlimited
	Burst             int           `koanf:"burst"`
}

type SchedulerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	ScheduleTime string        `koanf:"time"`
	WorkerCount  int           `koanf:"workers"`
	JobDelay     time.Duration `koanf:"job_delay"`
	RunOnStartup bool          `koanf:"run_on_startup"`
}

type CacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	TTL     time.Duration `koanf:"ttl"`
	Shards  int           `koanf:"shards"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	Environment  string `koanf:"environment"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			User:         "catalogsync",
			DBName:       "catalogsync",
			SSLMode:      "disable",
			Path:         "data/catalogsync.db",
			MaxOpenConns: 25,
		},
		Upstream: UpstreamConfig{
			BaseURL:           "https://api.steampowered.com",
			Timeout:           30 * time.Second,
			MaxAttempts:       5,
			RateLimitCooldown: 5 * time.Second,
			BackoffBase:       time.Second,
			Burst:             1,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			ScheduleTime: "03:00",
			WorkerCount:  1,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     600 * time.Second,
			Shards:  16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "catalogsync",
			Environment:  "development",
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// envKeys maps environment variables onto config paths.
var envKeys = map[string]string{
	"HOST":                         "server.host",
	"PORT":                         "server.port",
	"SHUTDOWN_TIMEOUT":             "server.shutdown_timeout",
	"DB_DRIVER":                    "database.driver",
	"DATABASE_URL":                 "database.url",
	"DB_HOST":                      "database.host",
	"DB_PORT":                      "database.port",
	"DB_USER":                      "database.user",
	"DB_PASSWORD":                  "database.password",
	"DB_NAME":                      "database.name",
	"DB_SSLMODE":                   "database.sslmode",
	"DB_PATH":                      "database.path",
	"DB_MAX_OPEN_CONNS":            "database.max_open_conns",
	"UPSTREAM_BASE_URL":            "upstream.base_url",
	"UPSTREAM_API_KEY":             "upstream.api_key",
	"STEAM_API_KEY":                "upstream.api_key",
	"UPSTREAM_TIMEOUT":             "upstream.timeout",
	"UPSTREAM_MAX_ATTEMPTS":        "upstream.max_attempts",
	"UPSTREAM_RATE_LIMIT_COOLDOWN": "upstream.rate_limit_cooldown",
	"UPSTREAM_BACKOFF_BASE":        "upstream.backoff_base",
	"UPSTREAM_REQUESTS_PER_SECOND": "upstream.requests_per_second",
	"UPSTREAM_BURST":               "upstream.burst",
	"SCHEDULER_ENABLED":            "scheduler.enabled",
	"SCHEDULER_TIME":               "scheduler.time",
	"SCHEDULER_WORKERS":            "scheduler.workers",
	"SCHEDULER_JOB_DELAY":          "scheduler.job_delay",
	"SCHEDULER_RUN_ON_STARTUP":     "scheduler.run_on_startup",
	"CACHE_ENABLED":                "cache.enabled",
	"CACHE_TTL":                    "cache.ttl",
	"CACHE_SHARDS":                 "cache.shards",
	"LOG_LEVEL":                    "logging.level",
	"LOG_FORMAT":                   "logging.format",
	"LOG_CALLER":                   "logging.caller",
	"OTEL_ENABLED":                 "telemetry.enabled",
	"OTEL_SERVICE_NAME":            "telemetry.service_name",
	"OTEL_ENVIRONMENT":             "telemetry.environment",
	"OTEL_EXPORTER_ENDPOINT":       "telemetry.otlp_endpoint",
}

var boolKeys = map[string]bool{
	"scheduler.enabled":        true,
	"scheduler.run_on_startup": true,
	"cache.enabled":            true,
	"logging.caller":           true,
	"telemetry.enabled":        true,
}

// Load builds the configuration from defaults, then the optional YAML file,
// then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := configFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envValue translates one environment variable. Unknown and empty variables
// are skipped so the lower layers keep their values.
func envValue(key, value string) (string, interface{}) {
	path, ok := envKeys[key]
	if !ok || value == "" {
		return "", nil
	}
	if key == "STEAM_API_KEY" && os.Getenv("UPSTREAM_API_KEY") != "" {
		return "", nil
	}
	if boolKeys[path] {
		b, ok := parseBool(value)
		if !ok {
			return "", nil
		}
		return path, b
	}
	return path, value
}

// parseBool accepts true/false, 1/0 and yes/no in any case.
func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// configFile returns the YAML file to load, or "" when there is none.
func configFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err != nil {
			return ""
		}
		return path
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("UPSTREAM_API_KEY is required")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL must not be empty")
	}
	if c.Upstream.MaxAttempts < 1 {
		return fmt.Errorf("UPSTREAM_MAX_ATTEMPTS must be at least 1, got %d", c.Upstream.MaxAttempts)
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("UPSTREAM_REQUESTS_PER_SECOND must not be negative")
	}

	switch c.Database.Driver {
	case "postgres":
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want postgres or sqlite)", c.Database.Driver)
	}

	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1, got %d", c.Scheduler.WorkerCount)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive when the cache is enabled")
	}

	return nil
}

// ConnectionString returns the Postgres DSN. DATABASE_URL wins when set.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

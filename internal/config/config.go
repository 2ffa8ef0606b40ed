package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the gateway service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	StaticDir       string `mapstructure:"static_dir"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout_ms"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CatalogConfig points at the seed catalog. An empty Path selects the
// catalog compiled into the binary.
type CatalogConfig struct {
	Path         string `mapstructure:"path"`
	Watch        bool   `mapstructure:"watch"`
	PollInterval int    `mapstructure:"poll_interval_ms"`
}

// RedisConfig enables the idempotency cache when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// PostgresConfig enables the membership audit log when Host is set.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Enabled reports whether an audit database is configured.
func (p PostgresConfig) Enabled() bool { return p.Host != "" }

// DSN returns the lib/pq connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type StreamConfig struct {
	// Capacity is the per-topic replay buffer size.
	Capacity int `mapstructure:"capacity"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"server.port":                "PORT",
	"server.static_dir":          "STATIC_DIR",
	"server.shutdown_timeout_ms": "SHUTDOWN_TIMEOUT_MS",
	"logging.level":              "LOG_LEVEL",
	"logging.format":             "LOG_FORMAT",
	"catalog.path":               "CATALOG_PATH",
	"catalog.watch":              "CATALOG_WATCH",
	"catalog.poll_interval_ms":   "CATALOG_POLL_INTERVAL_MS",
	"redis.url":                  "REDIS_URL",
	"postgres.host":              "POSTGRES_HOST",
	"postgres.port":              "POSTGRES_PORT",
	"postgres.user":              "POSTGRES_USER",
	"postgres.password":          "POSTGRES_PASSWORD",
	"postgres.database":          "POSTGRES_DB",
	"postgres.sslmode":           "POSTGRES_SSLMODE",
	"tracing.enabled":            "TRACING_ENABLED",
	"tracing.otlp_endpoint":      "OTEL_EXPORTER_OTLP_ENDPOINT",
	"stream.capacity":            "STREAM_CAPACITY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "static")
	v.SetDefault("server.shutdown_timeout_ms", 10000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.watch", false)
	v.SetDefault("catalog.poll_interval_ms", 0)
	v.SetDefault("redis.url", "")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "activities")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "activities")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "activities-gateway")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("stream.capacity", 256)
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_PATH, and environment overrides, in that order of precedence.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks fields that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console: %q", c.Logging.Format)
	}
	if c.Postgres.Enabled() && (c.Postgres.Port <= 0 || c.Postgres.Database == "") {
		return fmt.Errorf("postgres.port and postgres.database are required when postgres.host is set")
	}
	if c.Stream.Capacity < 0 {
		return fmt.Errorf("stream.capacity must not be negative")
	}
	return nil
}

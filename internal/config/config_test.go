package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadFile("")
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "static", cfg.Server.StaticDir)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.Empty(t, cfg.Catalog.Path)
		assert.False(t, cfg.Postgres.Enabled())
		assert.Empty(t, cfg.Redis.URL)
		assert.Equal(t, 256, cfg.Stream.Capacity)
	})

	t.Run("Environment variable override", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("REDIS_URL", "redis://localhost:6379/0")
		t.Setenv("POSTGRES_HOST", "db")
		t.Setenv("POSTGRES_DB", "school")

		cfg, err := LoadFile("")
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
		assert.True(t, cfg.Postgres.Enabled())
		assert.Equal(t, "school", cfg.Postgres.Database)
		assert.Contains(t, cfg.Postgres.DSN(), "host=db port=5432")
		assert.Contains(t, cfg.Postgres.DSN(), "dbname=school")
	})

	t.Run("Config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
logging:
  format: console
catalog:
  path: /etc/activities/catalog.yaml
  watch: true
`), 0o644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, "console", cfg.Logging.Format)
		assert.Equal(t, "/etc/activities/catalog.yaml", cfg.Catalog.Path)
		assert.True(t, cfg.Catalog.Watch)
	})

	t.Run("Environment beats file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0o644))
		t.Setenv("PORT", "7100")

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 7100, cfg.Server.Port)
	})

	t.Run("Missing config file falls back to defaults", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
	})
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:  ServerConfig{Port: 8080},
			Logging: LoggingConfig{Level: "info", Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "postgres without db", mutate: func(c *Config) {
			c.Postgres.Host = "db"
			c.Postgres.Port = 5432
		}, wantErr: "postgres"},
		{name: "negative stream capacity", mutate: func(c *Config) { c.Stream.Capacity = -1 }, wantErr: "stream.capacity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

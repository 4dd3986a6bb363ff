package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("CITY_AUTO_APPLY_PERCENT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30, cfg.Documents.ExpiringWindowDays)
	assert.Equal(t, 2.0, cfg.CitySources.AutoApplyPercent)
	assert.Equal(t, 72*time.Hour, cfg.Redis.ProposalTTL)
	assert.Equal(t, []string{"http://localhost:*", "http://127.0.0.1:*"}, cfg.CORS.AllowedOrigins)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9000")
	t.Setenv("EXPIRING_WINDOW_DAYS", "14")
	t.Setenv("CITY_AUTO_APPLY_PERCENT", "5.5")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_PROPOSAL_TTL", "1h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000, app://dooh")
	// Некорректное значение заменяется значением по умолчанию
	t.Setenv("REDIS_DB", "first")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.App.Port)
	assert.Equal(t, 14, cfg.Documents.ExpiringWindowDays)
	assert.Equal(t, 5.5, cfg.CitySources.AutoApplyPercent)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Redis.ProposalTTL)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, []string{"http://localhost:3000", "app://dooh"}, cfg.CORS.AllowedOrigins)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported DB_DRIVER")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Driver: "sqlite", Path: "dooh.db"},
			Storage:   StorageConfig{DataDir: "data", DocumentsRoot: "documents"},
			Documents: DocumentsConfig{ExpiringWindowDays: 30, MaxFileSize: 1024},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"empty sqlite path":     func(c *Config) { c.Database.Path = "" },
		"postgres without user": func(c *Config) { c.Database = DatabaseConfig{Driver: "postgres", Name: "dooh"} },
		"negative window":       func(c *Config) { c.Documents.ExpiringWindowDays = -1 },
		"zero file size":        func(c *Config) { c.Documents.MaxFileSize = 0 },
		"negative tolerance":    func(c *Config) { c.CitySources.AutoApplyPercent = -1 },
		"telegram without chat": func(c *Config) { c.Telegram.BotToken = "token" },
		"unknown log format":    func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "dooh.db?_foreign_keys=on&_busy_timeout=5000", SQLiteDSN("dooh.db"))
	assert.Equal(t, "file:dooh.db?cache=shared&_foreign_keys=on&_busy_timeout=5000", SQLiteDSN("file:dooh.db?cache=shared"))

	c := &Config{Database: DatabaseConfig{
		Driver: "postgres", Host: "db", Port: "5432", User: "dooh", Password: "secret", Name: "dooh_db", SSLMode: "disable",
	}}
	assert.Equal(t, "host=db port=5432 user=dooh password=secret dbname=dooh_db sslmode=disable", c.GetDatabaseDSN())
}

package testutils

import (
	"path/filepath"
	"testing"

	"backend_dooh/config"
	"backend_dooh/database"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// SetupTestDB создает тестовую базу SQLite во временном каталоге и применяет все миграции
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.OpenSQLite(config.SQLiteDSN(dbPath), nil)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if _, err := database.ApplyPending(db, zerolog.Nop()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { CleanupTestDB(db) })
	return db
}

// CleanupTestDB закрывает тестовую базу данных
func CleanupTestDB(db *gorm.DB) {
	_ = database.Close(db)
}

// SetupTestConfig возвращает конфигурацию с временными каталогами данных
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	return &config.Config{
		App: config.AppConfigStruct{Env: "test", Port: "0", Host: "127.0.0.1"},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "dooh.db"),
		},
		Storage: config.StorageConfig{
			DataDir:       filepath.Join(dir, "data"),
			DocumentsRoot: filepath.Join(dir, "documents"),
			ReportsDir:    filepath.Join(dir, "reports"),
		},
		CitySources: config.CitySourcesConfig{
			MaxRetries:       0,
			AutoApplyPercent: 2.0,
		},
		Documents: config.DocumentsConfig{
			ExpiringWindowDays: 30,
			MaxFileSize:        10 * 1024 * 1024,
		},
		Logging: config.LoggingConfig{Level: "disabled"},
	}
}

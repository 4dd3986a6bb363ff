package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"backend_dooh/config"
	"backend_dooh/logger"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// CreateDatabaseIfNotExists создает базу данных PostgreSQL, если она не существует
func CreateDatabaseIfNotExists(cfg config.DatabaseConfig, log zerolog.Logger) error {
	// Подключаемся к PostgreSQL без указания конкретной БД (к postgres по умолчанию)
	adminDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.SSLMode)

	db, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return fmt.Errorf("не удалось подключиться к PostgreSQL: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("не удалось проверить подключение к PostgreSQL: %w", err)
	}

	var exists bool
	query := "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1);"
	if err := db.QueryRow(query, cfg.Name).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка при проверке существования базы данных: %w", err)
	}

	if exists {
		log.Debug().Str("database", cfg.Name).Msg("database already exists")
		return nil
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE DATABASE %q;", cfg.Name)); err != nil {
		return fmt.Errorf("не удалось создать базу данных '%s': %w", cfg.Name, err)
	}

	log.Info().Str("database", cfg.Name).Msg("database created")
	return nil
}

// ConnectDatabase открывает хранилище и применяет отложенные миграции
func ConnectDatabase(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		logger.GormWriter{Logger: log},
		gormlogger.Config{
			SlowThreshold:             time.Second,
			Colorful:                  false,
			IgnoreRecordNotFoundError: true,
			LogLevel:                  logger.GormLevel(cfg.App.Env),
		},
	)

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case "postgres":
		if err := CreateDatabaseIfNotExists(cfg.Database, log); err != nil {
			return nil, err
		}
		db, err = gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{Logger: gormLog})
	default:
		if dir := filepath.Dir(cfg.Database.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("не удалось создать каталог базы данных: %w", err)
			}
		}
		db, err = OpenSQLite(cfg.GetDatabaseDSN(), gormLog)
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к базе данных: %w", err)
	}

	log.Info().Str("driver", cfg.Database.Driver).Msg("database connected")

	applied, err := ApplyPending(db, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка применения миграций: %w", err)
	}
	if applied > 0 {
		log.Info().Int("applied", applied).Msg("schema migrations applied")
	}

	return db, nil
}

// OpenSQLite открывает встроенную базу с включенными внешними ключами.
// Одно соединение сериализует запись так же, как блокировка файла.
func OpenSQLite(dsn string, gormLog gormlogger.Interface) (*gorm.DB, error) {
	if gormLog == nil {
		gormLog = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("не удалось включить внешние ключи: %w", err)
	}
	return db, nil
}

// Close закрывает соединение с базой
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

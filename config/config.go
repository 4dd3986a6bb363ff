package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	// Основные настройки приложения
	App AppConfigStruct `json:"app"`

	// Встроенная база данных
	Database DatabaseConfig `json:"database"`

	// Файловое хранилище (JSON side-файлы и документы)
	Storage StorageConfig `json:"storage"`

	// Redis (опционально, для кэша предложений обновления городов)
	Redis RedisConfig `json:"redis"`

	// Источники демографических данных
	CitySources CitySourcesConfig `json:"city_sources"`

	// Документы и контроль сроков
	Documents DocumentsConfig `json:"documents"`

	// Планировщик фоновых задач
	Scheduler SchedulerConfig `json:"scheduler"`

	// Telegram уведомления
	Telegram TelegramConfig `json:"telegram"`

	// CORS для локального GUI
	CORS CORSConfig `json:"cors"`

	// Логирование
	Logging LoggingConfig `json:"logging"`
}

type AppConfigStruct struct {
	Env  string `json:"env"`
	Port string `json:"port"`
	Host string `json:"host"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"` // sqlite, postgres
	Path     string `json:"path"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
}

type StorageConfig struct {
	DataDir       string `json:"data_dir"`
	DocumentsRoot string `json:"documents_root"`
	ReportsDir    string `json:"reports_dir"`
}

type RedisConfig struct {
	Enabled     bool          `json:"enabled"`
	Addr        string        `json:"addr"`
	Password    string        `json:"password"`
	DB          int           `json:"db"`
	Timeout     time.Duration `json:"timeout"`
	ProposalTTL time.Duration `json:"proposal_ttl"`
}

type CitySourcesConfig struct {
	PublicURL        string        `json:"public_url"`
	INSURL           string        `json:"ins_url"`
	BRATURL          string        `json:"brat_url"`
	Timeout          time.Duration `json:"timeout"`
	MaxRetries       int           `json:"max_retries"`
	AutoApplyPercent float64       `json:"auto_apply_percent"`
}

type DocumentsConfig struct {
	ExpiringWindowDays int    `json:"expiring_window_days"`
	MaxFileSize        int64  `json:"max_file_size"`
	S3Bucket           string `json:"s3_bucket"`
	S3Region           string `json:"s3_region"`
	S3AccessKeyID      string `json:"-"`
	S3SecretAccessKey  string `json:"-"`
}

type SchedulerConfig struct {
	Enabled           bool   `json:"enabled"`
	DocumentCheckSpec string `json:"document_check_spec"`
	CityRefreshSpec   string `json:"city_refresh_spec"`
}

type TelegramConfig struct {
	BotToken string `json:"-"`
	ChatID   string `json:"chat_id"`
}

type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// settings источник значений: переменные окружения и опциональный файл dooh.yaml
var settings = viper.New()

// LoadConfig загружает конфигурацию из .env, файла dooh.yaml и переменных окружения
func LoadConfig() (*Config, error) {
	// Загружаем .env файл если он существует
	_ = godotenv.Load()

	settings = viper.New()
	settings.SetConfigName("dooh")
	settings.SetConfigType("yaml")
	settings.AddConfigPath(".")
	settings.AddConfigPath("./config")
	settings.AutomaticEnv()
	if err := settings.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	config := &Config{
		App: AppConfigStruct{
			Env:  getEnv("APP_ENV", "development"),
			Port: getEnv("APP_PORT", "8765"),
			Host: getEnv("APP_HOST", "127.0.0.1"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", "dooh.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "dooh_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Storage: StorageConfig{
			DataDir:       getEnv("DATA_DIR", "data"),
			DocumentsRoot: getEnv("DOCUMENTS_ROOT", "documents"),
			ReportsDir:    getEnv("REPORTS_DIR", "reports"),
		},
		Redis: RedisConfig{
			Enabled:     getEnvBool("REDIS_ENABLED", false),
			Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			Timeout:     getEnvDuration("REDIS_TIMEOUT", 3*time.Second),
			ProposalTTL: getEnvDuration("REDIS_PROPOSAL_TTL", 72*time.Hour),
		},
		CitySources: CitySourcesConfig{
			PublicURL:        getEnv("CITY_SOURCE_PUBLIC_URL", ""),
			INSURL:           getEnv("CITY_SOURCE_INS_URL", ""),
			BRATURL:          getEnv("CITY_SOURCE_BRAT_URL", ""),
			Timeout:          getEnvDuration("CITY_FETCH_TIMEOUT", 15*time.Second),
			MaxRetries:       getEnvInt("CITY_FETCH_MAX_RETRIES", 2),
			AutoApplyPercent: getEnvFloat("CITY_AUTO_APPLY_PERCENT", 2.0),
		},
		Documents: DocumentsConfig{
			ExpiringWindowDays: getEnvInt("EXPIRING_WINDOW_DAYS", 30),
			MaxFileSize:        int64(getEnvInt("DOCUMENTS_MAX_FILE_SIZE", 10*1024*1024)),
			S3Bucket:           getEnv("DOCUMENTS_S3_BUCKET", ""),
			S3Region:           getEnv("DOCUMENTS_S3_REGION", "eu-central-1"),
			S3AccessKeyID:      getEnv("DOCUMENTS_S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey:  getEnv("DOCUMENTS_S3_SECRET_ACCESS_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:           getEnvBool("SCHEDULER_ENABLED", true),
			DocumentCheckSpec: getEnv("SCHEDULER_DOCUMENT_CHECK", "0 7 * * *"),
			CityRefreshSpec:   getEnv("SCHEDULER_CITY_REFRESH", "0 3 * * 1"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
	}

	// Валидация критически важных настроек
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT: %s", c.Logging.Format)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME cannot be empty")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.Database.Driver)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	if c.Storage.DocumentsRoot == "" {
		return fmt.Errorf("DOCUMENTS_ROOT cannot be empty")
	}
	if c.Documents.ExpiringWindowDays < 0 {
		return fmt.Errorf("EXPIRING_WINDOW_DAYS must not be negative")
	}
	if c.Documents.MaxFileSize <= 0 {
		return fmt.Errorf("DOCUMENTS_MAX_FILE_SIZE must be positive")
	}
	if c.CitySources.AutoApplyPercent < 0 {
		return fmt.Errorf("CITY_AUTO_APPLY_PERCENT must not be negative")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	return nil
}

// Вспомогательные функции для получения значений настроек

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(settings.GetString(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		warnInvalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := getEnv(key, ""); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		warnInvalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		warnInvalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		warnInvalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := getEnv(key, ""); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func warnInvalid(key, value string, defaultValue interface{}) {
	fmt.Printf("Warning: invalid value for %s: %s, using default: %v\n", key, value, defaultValue)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// GetDatabaseDSN возвращает строку подключения к БД
func (c *Config) GetDatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return SQLiteDSN(c.Database.Path)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.Name, c.Database.SSLMode)
}

// SQLiteDSN добавляет к пути файла параметры внешних ключей и ожидания блокировки
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// LogConfig выводит конфигурацию в лог (без секретных данных)
func (c *Config) LogConfig(log zerolog.Logger) {
	log.Info().
		Str("env", c.App.Env).
		Str("listen", c.App.Host+":"+c.App.Port).
		Str("db_driver", c.Database.Driver).
		Str("db_path", c.Database.Path).
		Str("data_dir", c.Storage.DataDir).
		Str("documents_root", c.Storage.DocumentsRoot).
		Int("expiring_window_days", c.Documents.ExpiringWindowDays).
		Bool("redis", c.Redis.Enabled).
		Bool("telegram", c.Telegram.BotToken != "").
		Bool("s3_mirror", c.Documents.S3Bucket != "").
		Msg("application configuration")
}

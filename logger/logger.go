package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// New создает корневой логгер приложения.
// format console или json; пустой формат означает console в development и json в остальных окружениях.
func New(env, format, level string) zerolog.Logger {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if format == "console" || (format == "" && env == "development") {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return log.Level(lvl)
}

// GormLevel подбирает уровень логирования gorm по окружению
func GormLevel(env string) gormlogger.LogLevel {
	if env == "development" {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

// GormWriter передает сообщения gorm в zerolog
type GormWriter struct {
	Logger zerolog.Logger
}

func (w GormWriter) Printf(msg string, args ...interface{}) {
	w.Logger.Info().Str("component", "gorm").Msgf(msg, args...)
}

package cmd

import (
	"context"
	"fmt"

	"backend_dooh/api"
	"backend_dooh/config"
	"backend_dooh/database"
	"backend_dooh/logger"
	"backend_dooh/services"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// app собранное окружение команды: конфигурация, хранилища и сервисы
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *gorm.DB
	redis    *redis.Client
	notifier services.Notifier
	svc      api.Services
}

// newApp загружает конфигурацию, открывает базу и side-файлы и создает сервисы.
// Планировщик создается, но задачи в нем не регистрируются.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.App.Env, cfg.Logging.Format, cfg.Logging.Level)

	db, err := database.ConnectDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	redisClient, err := database.InitRedis(ctx, cfg.Redis, log)
	if err != nil {
		// Без Redis предложения живут только в памяти процесса
		log.Warn().Err(err).Msg("redis unavailable, continuing without it")
		redisClient = nil
	}

	files, err := newFileStore(ctx, cfg, log)
	if err != nil {
		database.Close(db)
		return nil, err
	}

	store, err := services.OpenCityStore(cfg.Storage.DataDir)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("не удалось открыть данные городов: %w", err)
	}

	cities := services.NewCityService(store, log)
	events := services.NewSpecialEventService(store, log)
	refresh := services.NewCityRefreshService(
		cities,
		services.NewCitySources(cfg.CitySources, log),
		services.NewProposalCache(redisClient, cfg.Redis.ProposalTTL, log),
		cfg.CitySources.AutoApplyPercent,
		log,
	)
	documents := services.NewDocumentService(db, files, cfg.Documents.ExpiringWindowDays, log)
	campaigns := services.NewCampaignService(db, log)
	notifier := services.NewNotifier(cfg.Telegram, log)

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    redisClient,
		notifier: notifier,
		svc: api.Services{
			DB:        db,
			Fleet:     services.NewFleetService(db, files, log),
			Schedules: services.NewScheduleService(db),
			Documents: documents,
			Campaigns: campaigns,
			Cities:    cities,
			Refresh:   refresh,
			Events:    events,
			Reports:   services.NewReportService(campaigns, cities, events, cfg.Storage.ReportsDir, log),
			Scheduler: services.NewSchedulerService(documents, refresh, notifier, log),
			Redis:     redisClient,
		},
	}
	return a, nil
}

// newFileStore возвращает локальное хранилище документов, при заданном бакете с копией в S3
func newFileStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (services.FileStore, error) {
	local := services.NewLocalFileStore(cfg.Storage.DocumentsRoot, cfg.Documents.MaxFileSize)
	if cfg.Documents.S3Bucket == "" {
		return local, nil
	}
	uploader, err := services.NewS3Uploader(ctx, cfg.Documents)
	if err != nil {
		return nil, err
	}
	log.Info().Str("bucket", cfg.Documents.S3Bucket).Msg("document files mirrored to S3")
	return services.NewMirroredFileStore(local, uploader, log), nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("redis close failed")
		}
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn().Err(err).Msg("database close failed")
	}
}

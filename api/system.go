package api

import (
	"context"
	"net/http"
	"time"

	"backend_dooh/database"
	"backend_dooh/models"
	"backend_dooh/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// SystemAPI управление фоновыми задачами и обслуживание базы
type SystemAPI struct {
	db        *gorm.DB
	redis     *redis.Client
	scheduler *services.SchedulerService
	log       zerolog.Logger
}

// NewSystemAPI создает новый экземпляр SystemAPI; scheduler и redisClient могут быть nil
func NewSystemAPI(db *gorm.DB, redisClient *redis.Client, scheduler *services.SchedulerService, log zerolog.Logger) *SystemAPI {
	return &SystemAPI{
		db:        db,
		redis:     redisClient,
		scheduler: scheduler,
		log:       log.With().Str("api", "system").Logger(),
	}
}

type migrationsStatus struct {
	Version int                      `json:"version"`
	Applied []models.SchemaMigration `json:"applied"`
}

type healthStatus struct {
	Database  string `json:"database"`
	Redis     string `json:"redis"`
	Scheduler bool   `json:"scheduler"`
}

type jobStatus struct {
	Name    string     `json:"name"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func (sa *SystemAPI) RegisterRoutes(router *gin.RouterGroup) {
	system := router.Group("/system")
	{
		system.GET("/jobs", sa.GetJobs)
		system.POST("/jobs/document-check", sa.RunDocumentCheck)
		system.POST("/jobs/city-refresh", sa.RunCityRefresh)

		system.GET("/health", sa.GetHealth)
		system.GET("/database/migrations", sa.GetMigrations)
		system.GET("/database/indexes", sa.GetIndexes)
		system.POST("/database/indexes", sa.CreateIndexes)
		system.POST("/database/optimize", sa.OptimizeDatabase)
	}
}

// GetJobs время следующего запуска фоновых задач
// GET /api/system/jobs
func (sa *SystemAPI) GetJobs(c *gin.Context) {
	if !sa.available(c) {
		return
	}
	jobs := make([]jobStatus, 0, 2)
	for _, name := range []string{services.JobDocumentCheck, services.JobCityRefresh} {
		status := jobStatus{Name: name}
		if next, ok := sa.scheduler.NextRun(name); ok && !next.IsZero() {
			status.NextRun = &next
		}
		jobs = append(jobs, status)
	}
	SuccessResponse(c, http.StatusOK, jobs)
}

// RunDocumentCheck запускает проверку сроков документов вне расписания
// POST /api/system/jobs/document-check
func (sa *SystemAPI) RunDocumentCheck(c *gin.Context) {
	if !sa.available(c) {
		return
	}
	report, err := sa.scheduler.RunDocumentCheck(c.Request.Context())
	if err != nil {
		handleError(c, sa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, report)
}

// RunCityRefresh запускает пакетное обновление городов с уведомлением
// POST /api/system/jobs/city-refresh
func (sa *SystemAPI) RunCityRefresh(c *gin.Context) {
	if !sa.available(c) {
		return
	}
	results, err := sa.scheduler.RunCityRefresh(c.Request.Context())
	if err != nil {
		handleError(c, sa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, results)
}

func (sa *SystemAPI) available(c *gin.Context) bool {
	if sa.scheduler == nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "Планировщик отключен")
		return false
	}
	return true
}

// GetHealth состояние базы и Redis
// GET /api/system/health
func (sa *SystemAPI) GetHealth(c *gin.Context) {
	status := healthStatus{Database: "ok", Redis: "disabled", Scheduler: sa.scheduler != nil}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if sqlDB, err := sa.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status.Database = "unavailable"
		code = http.StatusServiceUnavailable
	}
	if sa.redis != nil {
		status.Redis = "ok"
		if err := sa.redis.Ping(ctx).Err(); err != nil {
			// Без Redis предложения обновления хранятся только в памяти
			status.Redis = "unavailable"
		}
	}
	SuccessResponse(c, code, status)
}

// GetMigrations журнал примененных миграций
// GET /api/system/database/migrations
func (sa *SystemAPI) GetMigrations(c *gin.Context) {
	applied, err := database.AppliedMigrations(sa.db)
	if err != nil {
		handleError(c, sa.log, err)
		return
	}
	version, err := database.CurrentVersion(sa.db)
	if err != nil {
		handleError(c, sa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, migrationsStatus{Version: version, Applied: applied})
}

func (sa *SystemAPI) GetIndexes(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, database.PerformanceIndexes)
}

// CreateIndexes пересоздает отсутствующие индексы
// POST /api/system/database/indexes
func (sa *SystemAPI) CreateIndexes(c *gin.Context) {
	if err := database.CreatePerformanceIndexes(sa.db, c.Query("table"), sa.log); err != nil {
		handleError(c, sa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"indexes": len(database.PerformanceIndexes)})
}

// OptimizeDatabase обновляет статистику и сжимает файл базы
// POST /api/system/database/optimize
func (sa *SystemAPI) OptimizeDatabase(c *gin.Context) {
	if err := database.OptimizeDatabase(sa.db, sa.log); err != nil {
		handleError(c, sa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"optimized": true})
}

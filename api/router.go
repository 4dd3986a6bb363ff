package api

import (
	"fmt"
	"net/http"
	"time"

	"backend_dooh/config"
	"backend_dooh/middleware"
	"backend_dooh/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Services сервисы, которые обслуживает локальный API
type Services struct {
	DB        *gorm.DB
	Fleet     *services.FleetService
	Schedules *services.ScheduleService
	Documents *services.DocumentService
	Campaigns *services.CampaignService
	Cities    *services.CityService
	Refresh   *services.CityRefreshService
	Events    *services.SpecialEventService
	Reports   *services.ReportService
	Scheduler *services.SchedulerService // может быть nil
	Redis     *redis.Client              // может быть nil
}

// SetupRouter собирает gin engine с middleware и маршрутами /api
func SetupRouter(cfg *config.Config, svc Services, log zerolog.Logger) (*gin.Engine, error) {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	corsConfig := cors.Config{
		AllowOrigins:  cfg.CORS.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Disposition", "Content-Length"},
		AllowWildcard: true,
		MaxAge:        12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	if err := corsConfig.Validate(); err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestLogger(log), cors.New(corsConfig))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "pong",
		})
	})

	apiGroup := r.Group("/api")

	cities := NewCitiesAPI(svc.Cities, svc.Refresh, log)
	cities.RefreshLimiter = middleware.RefreshRateLimit(svc.Redis, log)

	registrars := []interface{ RegisterRoutes(*gin.RouterGroup) }{
		NewFleetAPI(svc.Fleet, svc.Schedules, log),
		NewDocumentsAPI(svc.Documents, log),
		NewCampaignsAPI(svc.Campaigns, svc.Reports, log),
		cities,
		NewEventsAPI(svc.Events, log),
		NewReportsAPI(svc.Reports, log),
		NewSystemAPI(svc.DB, svc.Redis, svc.Scheduler, log),
	}
	for _, reg := range registrars {
		reg.RegisterRoutes(apiGroup)
	}

	return r, nil
}

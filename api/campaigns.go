package api

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"backend_dooh/models"
	"backend_dooh/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CampaignsAPI предоставляет API кампаний, роликов и таймлайна
type CampaignsAPI struct {
	campaigns *services.CampaignService
	reports   *services.ReportService
	log       zerolog.Logger
}

// NewCampaignsAPI создает новый экземпляр CampaignsAPI
func NewCampaignsAPI(campaigns *services.CampaignService, reports *services.ReportService, log zerolog.Logger) *CampaignsAPI {
	return &CampaignsAPI{
		campaigns: campaigns,
		reports:   reports,
		log:       log.With().Str("api", "campaigns").Logger(),
	}
}

// reorderRequest новый порядок роликов кампании
type reorderRequest struct {
	SpotIDs []string `json:"spot_ids" binding:"required"`
}

// RegisterRoutes регистрирует маршруты кампаний
func (ca *CampaignsAPI) RegisterRoutes(router *gin.RouterGroup) {
	campaigns := router.Group("/campaigns")
	{
		campaigns.GET("", ca.GetCampaigns)
		campaigns.POST("", ca.CreateCampaign)
		campaigns.GET("/:id", ca.GetCampaign)
		campaigns.PUT("/:id", ca.UpdateCampaign)
		campaigns.DELETE("/:id", ca.DeleteCampaign)

		// Таймлайн и экспорт
		campaigns.GET("/:id/timeline", ca.CompileTimeline)
		campaigns.POST("/:id/timeline", ca.StoreTimeline)
		campaigns.GET("/:id/export", ca.ExportTimeline)
		campaigns.POST("/:id/export", ca.ExportTimelineFile)
		campaigns.GET("/:id/financials", ca.GetFinancials)

		// Ролики
		campaigns.GET("/:id/spots", ca.GetSpots)
		campaigns.POST("/:id/spots", ca.CreateSpot)
		campaigns.POST("/:id/spots/reorder", ca.ReorderSpots)
		campaigns.PUT("/:id/spots/:spotId", ca.UpdateSpot)
		campaigns.DELETE("/:id/spots/:spotId", ca.DeleteSpot)
	}
}

// GetCampaigns возвращает список кампаний
// GET /api/campaigns?client=...
func (ca *CampaignsAPI) GetCampaigns(c *gin.Context) {
	list, err := ca.campaigns.List(c.Query("client"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, list)
}

// CreateCampaign создает кампанию
// POST /api/campaigns
func (ca *CampaignsAPI) CreateCampaign(c *gin.Context) {
	var input services.CampaignInput
	if !bindJSON(c, &input) {
		return
	}
	campaign, err := ca.campaigns.Create(input)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, campaign)
}

// GetCampaign возвращает кампанию; spots=true добавляет ролики
// GET /api/campaigns/:id?spots=true
func (ca *CampaignsAPI) GetCampaign(c *gin.Context) {
	withSpots, _ := strconv.ParseBool(c.DefaultQuery("spots", "false"))
	campaign, err := ca.campaigns.Get(c.Param("id"), withSpots)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, campaign)
}

// UpdateCampaign изменяет переданные поля кампании
// PUT /api/campaigns/:id
func (ca *CampaignsAPI) UpdateCampaign(c *gin.Context) {
	var update services.CampaignUpdate
	if !bindJSON(c, &update) {
		return
	}
	campaign, err := ca.campaigns.Update(c.Param("id"), update)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, campaign)
}

// DeleteCampaign удаляет кампанию вместе с роликами
// DELETE /api/campaigns/:id
func (ca *CampaignsAPI) DeleteCampaign(c *gin.Context) {
	if err := ca.campaigns.Delete(c.Param("id")); err != nil {
		handleError(c, ca.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CompileTimeline строит таймлайн без сохранения
// GET /api/campaigns/:id/timeline
func (ca *CampaignsAPI) CompileTimeline(c *gin.Context) {
	compiled, err := ca.campaigns.CompileTimeline(c.Param("id"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, compiled)
}

// StoreTimeline строит таймлайн и сохраняет дневной журнал в кампанию
// POST /api/campaigns/:id/timeline
func (ca *CampaignsAPI) StoreTimeline(c *gin.Context) {
	compiled, err := ca.campaigns.StoreTimeline(c.Param("id"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, compiled)
}

// ExportTimeline отдает таймлайн файлом в запрошенном формате
// GET /api/campaigns/:id/export?format=csv|xlsx|pdf|json
func (ca *CampaignsAPI) ExportTimeline(c *gin.Context) {
	format, ok := models.ParseReportFormat(c.Query("format"))
	if !ok {
		ErrorResponse(c, http.StatusBadRequest, "Неподдерживаемый формат экспорта")
		return
	}

	// Файл собирается в памяти, чтобы ошибка не оборвала уже начатый ответ
	var buf bytes.Buffer
	if _, err := ca.reports.ExportTimeline(&buf, c.Param("id"), format); err != nil {
		handleError(c, ca.log, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="timeline_%s.%s"`, c.Param("id"), format))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// ExportTimelineFile сохраняет экспорт в каталог отчетов
// POST /api/campaigns/:id/export?format=xlsx
func (ca *CampaignsAPI) ExportTimelineFile(c *gin.Context) {
	format, ok := models.ParseReportFormat(c.Query("format"))
	if !ok {
		ErrorResponse(c, http.StatusBadRequest, "Неподдерживаемый формат экспорта")
		return
	}
	path, err := ca.reports.ExportTimelineFile(c.Param("id"), format)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{
		"path":      path,
		"file_name": filepath.Base(path),
		"format":    format,
	})
}

// GetFinancials финансовая оценка кампании
// GET /api/campaigns/:id/financials
func (ca *CampaignsAPI) GetFinancials(c *gin.Context) {
	financials, err := ca.campaigns.Financials(c.Param("id"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, financials)
}

// ===================== Ролики =====================

func (ca *CampaignsAPI) GetSpots(c *gin.Context) {
	spots, err := ca.campaigns.ListSpots(c.Param("id"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, spots)
}

func (ca *CampaignsAPI) CreateSpot(c *gin.Context) {
	var input services.SpotInput
	if !bindJSON(c, &input) {
		return
	}
	spot, err := ca.campaigns.AddSpot(c.Param("id"), input)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, spot)
}

// ReorderSpots задает порядок показа; список должен содержать все ролики кампании
// POST /api/campaigns/:id/spots/reorder
func (ca *CampaignsAPI) ReorderSpots(c *gin.Context) {
	var req reorderRequest
	if !bindJSON(c, &req) {
		return
	}
	spots, err := ca.campaigns.ReorderSpots(c.Param("id"), req.SpotIDs)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, spots)
}

func (ca *CampaignsAPI) UpdateSpot(c *gin.Context) {
	var input services.SpotInput
	if !bindJSON(c, &input) {
		return
	}
	spot, err := ca.campaigns.UpdateSpot(c.Param("spotId"), input)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, spot)
}

func (ca *CampaignsAPI) DeleteSpot(c *gin.Context) {
	if err := ca.campaigns.DeleteSpot(c.Param("spotId")); err != nil {
		handleError(c, ca.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"backend_dooh/models"
	"backend_dooh/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ReportsAPI предоставляет API отчетов по кампаниям
type ReportsAPI struct {
	reports *services.ReportService
	log     zerolog.Logger
}

// NewReportsAPI создает новый экземпляр ReportsAPI
func NewReportsAPI(reports *services.ReportService, log zerolog.Logger) *ReportsAPI {
	return &ReportsAPI{
		reports: reports,
		log:     log.With().Str("api", "reports").Logger(),
	}
}

// RegisterRoutes регистрирует маршруты для API отчетов
func (ra *ReportsAPI) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/reports")
	{
		reports.POST("/campaign/preview", ra.PreviewCampaignReport)
		reports.POST("/campaign", ra.GenerateCampaignReport)
		reports.GET("/files/:name", ra.DownloadReport)
	}
}

// PreviewCampaignReport рассчитывает показатели без сохранения файла
// POST /api/reports/campaign/preview
func (ra *ReportsAPI) PreviewCampaignReport(c *gin.Context) {
	var req models.CampaignReportRequest
	if !bindJSON(c, &req) {
		return
	}
	data, err := ra.reports.BuildCampaignReport(req)
	if err != nil {
		handleError(c, ra.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, data)
}

// GenerateCampaignReport формирует отчет; download=true отдает файл сразу, иначе сохраняет его в каталог отчетов
// POST /api/reports/campaign?format=pdf&download=true
func (ra *ReportsAPI) GenerateCampaignReport(c *gin.Context) {
	format, ok := models.ParseReportFormat(c.DefaultQuery("format", string(models.ReportFormatPDF)))
	if !ok {
		ErrorResponse(c, http.StatusBadRequest, "Неподдерживаемый формат отчета")
		return
	}
	var req models.CampaignReportRequest
	if !bindJSON(c, &req) {
		return
	}

	if download, _ := strconv.ParseBool(c.Query("download")); download {
		data, err := ra.reports.BuildCampaignReport(req)
		if err != nil {
			handleError(c, ra.log, err)
			return
		}
		var buf bytes.Buffer
		if err := services.WriteCampaignReport(&buf, data, format); err != nil {
			handleError(c, ra.log, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="campaign_report.%s"`, format))
		c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
		return
	}

	path, data, err := ra.reports.GenerateCampaignReport(req, format)
	if err != nil {
		handleError(c, ra.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{
		"path":      path,
		"file_name": filepath.Base(path),
		"report":    data,
	})
}

// DownloadReport отдает ранее сохраненный файл отчета
// GET /api/reports/files/:name
func (ra *ReportsAPI) DownloadReport(c *gin.Context) {
	name := filepath.Base(c.Param("name"))
	if name == "." || name == string(filepath.Separator) {
		ErrorResponse(c, http.StatusBadRequest, "Некорректное имя файла")
		return
	}
	path := filepath.Join(ra.reports.OutputDir, name)
	if _, err := os.Stat(path); err != nil {
		ErrorResponse(c, http.StatusNotFound, "Файл отчета не найден")
		return
	}
	c.FileAttachment(path, name)
}

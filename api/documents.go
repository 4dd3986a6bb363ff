package api

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"backend_dooh/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// DocumentsAPI предоставляет API документов и контроля сроков
type DocumentsAPI struct {
	documents *services.DocumentService
	log       zerolog.Logger
	now       func() time.Time
}

// NewDocumentsAPI создает новый экземпляр DocumentsAPI
func NewDocumentsAPI(documents *services.DocumentService, log zerolog.Logger) *DocumentsAPI {
	return &DocumentsAPI{
		documents: documents,
		log:       log.With().Str("api", "documents").Logger(),
		now:       time.Now,
	}
}

// RegisterRoutes регистрирует маршруты документов
func (da *DocumentsAPI) RegisterRoutes(router *gin.RouterGroup) {
	documents := router.Group("/documents")
	{
		documents.GET("", da.GetDocuments)
		documents.POST("", da.CreateDocument)
		documents.GET("/expiry-report", da.GetExpiryReport)
		documents.GET("/vehicle-status", da.GetVehicleStatuses)
		documents.GET("/:id", da.GetDocument)
		documents.PUT("/:id", da.UpdateDocument)
		documents.DELETE("/:id", da.DeleteDocument)
		documents.GET("/:id/file", da.DownloadFile)
	}
}

// GetDocuments возвращает документы сущности или все документы с фильтром по статусу срока
// GET /api/documents?entity_type=vehicle&entity_id=...
// GET /api/documents?status=expiring
func (da *DocumentsAPI) GetDocuments(c *gin.Context) {
	if entityType, entityID := c.Query("entity_type"), c.Query("entity_id"); entityType != "" || entityID != "" {
		docs, err := da.documents.ListByEntity(entityType, entityID)
		if err != nil {
			handleError(c, da.log, err)
			return
		}
		SuccessResponse(c, http.StatusOK, docs)
		return
	}

	status, ok := services.ParseExpiryStatus(c.Query("status"))
	if !ok {
		ErrorResponse(c, http.StatusBadRequest, "Некорректный статус срока")
		return
	}
	views, err := da.documents.ListWithStatus(status, da.now())
	if err != nil {
		handleError(c, da.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, views)
}

// CreateDocument создает документ; принимает multipart форму с файлом или JSON без файла
// POST /api/documents
func (da *DocumentsAPI) CreateDocument(c *gin.Context) {
	var input services.DocumentInput
	var upload *services.FileUpload

	if isMultipart(c) {
		input = services.DocumentInput{
			EntityType:     c.PostForm("entity_type"),
			EntityID:       c.PostForm("entity_id"),
			DocumentType:   c.PostForm("document_type"),
			CustomTypeName: c.PostForm("custom_type_name"),
			IssueDate:      c.PostForm("issue_date"),
			ExpiryDate:     c.PostForm("expiry_date"),
			Notes:          c.PostForm("notes"),
		}
		var closeFile func()
		var ok bool
		if upload, closeFile, ok = formFile(c); !ok {
			return
		}
		defer closeFile()
	} else if !bindJSON(c, &input) {
		return
	}

	doc, err := da.documents.Add(input, upload)
	if err != nil {
		handleError(c, da.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, doc)
}

// GetDocument возвращает документ по ID
// GET /api/documents/:id
func (da *DocumentsAPI) GetDocument(c *gin.Context) {
	doc, err := da.documents.Get(c.Param("id"))
	if err != nil {
		handleError(c, da.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, doc)
}

// UpdateDocument изменяет документ; в multipart форме учитываются только переданные поля
// PUT /api/documents/:id
func (da *DocumentsAPI) UpdateDocument(c *gin.Context) {
	var update services.DocumentUpdate
	var upload *services.FileUpload

	if isMultipart(c) {
		update = services.DocumentUpdate{
			DocumentType:   optionalForm(c, "document_type"),
			CustomTypeName: optionalForm(c, "custom_type_name"),
			IssueDate:      optionalForm(c, "issue_date"),
			ExpiryDate:     optionalForm(c, "expiry_date"),
			Notes:          optionalForm(c, "notes"),
		}
		var closeFile func()
		var ok bool
		if upload, closeFile, ok = formFile(c); !ok {
			return
		}
		defer closeFile()
	} else if !bindJSON(c, &update) {
		return
	}

	doc, err := da.documents.Update(c.Param("id"), update, upload)
	if err != nil {
		handleError(c, da.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, doc)
}

// DeleteDocument удаляет документ и его файл
// DELETE /api/documents/:id
func (da *DocumentsAPI) DeleteDocument(c *gin.Context) {
	if err := da.documents.Delete(c.Param("id")); err != nil {
		handleError(c, da.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DownloadFile отдает приложенный файл документа
// GET /api/documents/:id/file
func (da *DocumentsAPI) DownloadFile(c *gin.Context) {
	doc, rc, err := da.documents.OpenFile(c.Param("id"))
	if err != nil {
		handleError(c, da.log, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(doc.FileName)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, doc.FileSize, contentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, doc.FileName),
	})
}

// GetExpiryReport сводка просроченных и истекающих документов на сегодня
// GET /api/documents/expiry-report
func (da *DocumentsAPI) GetExpiryReport(c *gin.Context) {
	report, err := da.documents.ExpiryReport(da.now())
	if err != nil {
		handleError(c, da.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, report)
}

// GetVehicleStatuses отображаемые статусы автомобилей с учетом просроченных документов
// GET /api/documents/vehicle-status
func (da *DocumentsAPI) GetVehicleStatuses(c *gin.Context) {
	displays, err := da.documents.VehicleDisplays(da.now())
	if err != nil {
		handleError(c, da.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, displays)
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// formFile открывает поле file формы; отсутствие файла не ошибка
func formFile(c *gin.Context) (*services.FileUpload, func(), bool) {
	header, err := c.FormFile("file")
	if err == http.ErrMissingFile {
		return nil, func() {}, true
	}
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Некорректный файл: "+err.Error())
		return nil, nil, false
	}
	f, err := header.Open()
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Не удалось прочитать файл")
		return nil, nil, false
	}
	return &services.FileUpload{Name: header.Filename, Reader: f}, func() { f.Close() }, true
}

// optionalForm возвращает nil, если поле формы не передано
func optionalForm(c *gin.Context, key string) *string {
	if v, ok := c.GetPostForm(key); ok {
		return &v
	}
	return nil
}

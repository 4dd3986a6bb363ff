package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"backend_dooh/models"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DocumentService управляет документами автомобилей и водителей
type DocumentService struct {
	DB     *gorm.DB
	Files  FileStore
	Window int
	log    zerolog.Logger
}

// NewDocumentService создает новый экземпляр DocumentService
func NewDocumentService(db *gorm.DB, files FileStore, expiringWindowDays int, log zerolog.Logger) *DocumentService {
	return &DocumentService{
		DB:     db,
		Files:  files,
		Window: expiringWindowDays,
		log:    log.With().Str("service", "documents").Logger(),
	}
}

// FileUpload загружаемый файл
type FileUpload struct {
	Name   string
	Reader io.Reader
}

// DocumentInput данные нового документа; даты в формате YYYY-MM-DD
type DocumentInput struct {
	EntityType     string `json:"entity_type"`
	EntityID       string `json:"entity_id"`
	DocumentType   string `json:"document_type"`
	CustomTypeName string `json:"custom_type_name"`
	IssueDate      string `json:"issue_date"`
	ExpiryDate     string `json:"expiry_date"`
	Notes          string `json:"notes"`
}

// DocumentUpdate изменяемые поля документа; пустая строка в датах очищает дату
type DocumentUpdate struct {
	DocumentType   *string `json:"document_type"`
	CustomTypeName *string `json:"custom_type_name"`
	IssueDate      *string `json:"issue_date"`
	ExpiryDate     *string `json:"expiry_date"`
	Notes          *string `json:"notes"`
}

// DocumentView документ с вычисленным статусом срока
type DocumentView struct {
	models.Document
	ExpiryStatus ExpiryStatus `json:"expiry_status"`
	DaysLeft     *int         `json:"days_left,omitempty"`
}

// Add создает документ и сохраняет приложенный файл
func (ds *DocumentService) Add(input DocumentInput, upload *FileUpload) (*models.Document, error) {
	doc := &models.Document{
		EntityType:     input.EntityType,
		EntityID:       input.EntityID,
		DocumentType:   input.DocumentType,
		CustomTypeName: strings.TrimSpace(input.CustomTypeName),
		Notes:          input.Notes,
	}
	var err error
	if doc.IssueDate, err = parseOptionalDate(input.IssueDate); err != nil {
		return nil, validationError(err)
	}
	if doc.ExpiryDate, err = parseOptionalDate(input.ExpiryDate); err != nil {
		return nil, validationError(err)
	}
	if err := doc.Validate(); err != nil {
		return nil, validationError(err)
	}
	if err := ds.ensureEntity(ds.DB, doc.EntityType, doc.EntityID); err != nil {
		return nil, err
	}

	var stored *StoredFile
	if upload != nil {
		if stored, err = ds.saveFile(doc.EntityType, doc.EntityID, upload); err != nil {
			return nil, err
		}
		applyStoredFile(doc, stored)
	}

	if err := ds.DB.Create(doc).Error; err != nil {
		if stored != nil {
			_ = ds.Files.Remove(stored.Path)
		}
		return nil, storageError("create document", err)
	}

	ds.log.Info().
		Str("document_id", doc.ID).
		Str("entity", doc.EntityType+"/"+doc.EntityID).
		Str("type", doc.DocumentType).
		Msg("document added")
	return doc, nil
}

// Update изменяет документ; старый файл удаляется только после успешной фиксации
func (ds *DocumentService) Update(id string, update DocumentUpdate, upload *FileUpload) (*models.Document, error) {
	var doc models.Document
	if err := ds.DB.First(&doc, "id = ?", id).Error; err != nil {
		return nil, lookupError("document", id, err)
	}

	var err error
	if update.DocumentType != nil {
		doc.DocumentType = *update.DocumentType
	}
	if update.CustomTypeName != nil {
		doc.CustomTypeName = strings.TrimSpace(*update.CustomTypeName)
	}
	if doc.DocumentType != models.DocumentTypeCustom {
		doc.CustomTypeName = ""
	}
	if update.IssueDate != nil {
		if doc.IssueDate, err = parseOptionalDate(*update.IssueDate); err != nil {
			return nil, validationError(err)
		}
	}
	if update.ExpiryDate != nil {
		if doc.ExpiryDate, err = parseOptionalDate(*update.ExpiryDate); err != nil {
			return nil, validationError(err)
		}
	}
	if update.Notes != nil {
		doc.Notes = *update.Notes
	}
	if err := doc.Validate(); err != nil {
		return nil, validationError(err)
	}

	oldPath := doc.FilePath
	var stored *StoredFile
	if upload != nil {
		if stored, err = ds.saveFile(doc.EntityType, doc.EntityID, upload); err != nil {
			return nil, err
		}
		applyStoredFile(&doc, stored)
	}

	if err := ds.DB.Save(&doc).Error; err != nil {
		if stored != nil {
			_ = ds.Files.Remove(stored.Path)
		}
		return nil, storageError("update document", err)
	}

	if stored != nil && oldPath != "" && oldPath != stored.Path {
		if err := ds.Files.Remove(oldPath); err != nil && !errors.Is(err, ErrNotFound) {
			ds.log.Warn().Err(err).Str("path", oldPath).Msg("failed to remove replaced document file")
		}
	}
	return &doc, nil
}

// Delete удаляет документ; файл удаляется после фиксации транзакции,
// сбой удаления файла только логируется
func (ds *DocumentService) Delete(id string) error {
	var filePath string
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			return lookupError("document", id, err)
		}
		if err := tx.Delete(&doc).Error; err != nil {
			return storageError("delete document", err)
		}
		filePath = doc.FilePath
		return nil
	})
	if err != nil {
		return err
	}

	if filePath != "" && ds.Files != nil {
		if err := ds.Files.Remove(filePath); err != nil && !errors.Is(err, ErrNotFound) {
			ds.log.Warn().Err(err).Str("path", filePath).Msg("failed to remove document file")
		}
	}
	ds.log.Info().Str("document_id", id).Msg("document deleted")
	return nil
}

// Get возвращает документ по ID
func (ds *DocumentService) Get(id string) (*models.Document, error) {
	var doc models.Document
	if err := ds.DB.First(&doc, "id = ?", id).Error; err != nil {
		return nil, lookupError("document", id, err)
	}
	return &doc, nil
}

// OpenFile открывает файл документа, предварительно сверяя blake2b с сохраненным значением
func (ds *DocumentService) OpenFile(id string) (*models.Document, io.ReadCloser, error) {
	doc, err := ds.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if doc.FilePath == "" {
		return nil, nil, fmt.Errorf("%w: document %s has no file", ErrNotFound, id)
	}
	if err := verifyChecksum(doc); err != nil {
		return nil, nil, err
	}
	rc, err := ds.Files.Open(doc.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return doc, rc, nil
}

// ListByEntity возвращает документы сущности
func (ds *DocumentService) ListByEntity(entityType, entityID string) ([]models.Document, error) {
	var docs []models.Document
	err := ds.DB.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("document_type, expiry_date").
		Find(&docs).Error
	if err != nil {
		return nil, storageError("list documents", err)
	}
	return docs, nil
}

// ListWithStatus возвращает все документы с вычисленным статусом; пустой status означает все
func (ds *DocumentService) ListWithStatus(status ExpiryStatus, today time.Time) ([]DocumentView, error) {
	var docs []models.Document
	if err := ds.DB.Order("expiry_date").Find(&docs).Error; err != nil {
		return nil, storageError("list documents", err)
	}

	views := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		st := Classify(doc, today, ds.Window)
		if status != "" && st != status {
			continue
		}
		view := DocumentView{Document: doc, ExpiryStatus: st}
		if doc.ExpiryDate != nil {
			days := models.DaysBetween(today, *doc.ExpiryDate)
			view.DaysLeft = &days
		}
		views = append(views, view)
	}
	return views, nil
}

// verifyChecksum сверяет файл с контрольной суммой строки; пустая сумма не проверяется
func verifyChecksum(doc *models.Document) error {
	if doc.FileChecksum == "" {
		return nil
	}
	sum, err := ChecksumFile(doc.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return notFound("file", doc.FilePath)
	}
	if err != nil {
		return storageError("checksum document file", err)
	}
	if sum != doc.FileChecksum {
		return storageError("verify document file", fmt.Errorf("checksum mismatch for %s", doc.FilePath))
	}
	return nil
}

func (ds *DocumentService) saveFile(entityType, entityID string, upload *FileUpload) (*StoredFile, error) {
	if ds.Files == nil {
		return nil, storageError("save document file", errors.New("file store is not configured"))
	}
	if upload.Reader == nil {
		return nil, validationError(errors.New("file content is empty"))
	}
	return ds.Files.Save(entityType, entityID, upload.Name, upload.Reader)
}

// ensureEntity проверяет существование владельца документа
func (ds *DocumentService) ensureEntity(db *gorm.DB, entityType, entityID string) error {
	var count int64
	var err error
	switch entityType {
	case models.EntityTypeVehicle:
		err = db.Model(&models.Vehicle{}).Where("id = ?", entityID).Count(&count).Error
	case models.EntityTypeDriver:
		err = db.Model(&models.Driver{}).Where("id = ?", entityID).Count(&count).Error
	default:
		return validationError(fmt.Errorf("unknown entity type %q", entityType))
	}
	if err != nil {
		return storageError("check document owner", err)
	}
	if count == 0 {
		return notFound(entityType, entityID)
	}
	return nil
}

func applyStoredFile(doc *models.Document, stored *StoredFile) {
	doc.FilePath = stored.Path
	doc.FileName = stored.Name
	doc.FileSize = stored.Size
	doc.FileChecksum = stored.Checksum
}

func parseOptionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := models.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package models

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Типы владельцев документов
const (
	EntityTypeVehicle = "vehicle"
	EntityTypeDriver  = "driver"
)

// Типы документов
const (
	DocumentTypeRCA                = "RCA"
	DocumentTypeITP                = "ITP"
	DocumentTypeRovinieta          = "Rovinieta"
	DocumentTypeCASCO              = "CASCO"
	DocumentTypeTransportLicense   = "Licenta transport"
	DocumentTypeCertifiedCopy      = "Copie conforma"
	DocumentTypeDrivingLicense     = "Permis de conducere"
	DocumentTypeProfessionalCert   = "Atestat profesional"
	DocumentTypeMedicalRecord      = "Fisa medicala"
	DocumentTypePsychologicalCheck = "Aviz psihologic"
	DocumentTypeIdentityCard       = "Carte de identitate"
	DocumentTypeCustom             = "Custom"
)

// MaxDocumentFileSize максимальный размер файла документа (10 MiB)
const MaxDocumentFileSize int64 = 10 * 1024 * 1024

// DocumentTypes допустимые типы документов
var DocumentTypes = []string{
	DocumentTypeRCA,
	DocumentTypeITP,
	DocumentTypeRovinieta,
	DocumentTypeCASCO,
	DocumentTypeTransportLicense,
	DocumentTypeCertifiedCopy,
	DocumentTypeDrivingLicense,
	DocumentTypeProfessionalCert,
	DocumentTypeMedicalRecord,
	DocumentTypePsychologicalCheck,
	DocumentTypeIdentityCard,
	DocumentTypeCustom,
}

// CriticalVehicleDocumentTypes документы, истечение которых выделяется в статусе автомобиля
var CriticalVehicleDocumentTypes = []string{
	DocumentTypeRCA,
	DocumentTypeITP,
	DocumentTypeRovinieta,
	DocumentTypeCASCO,
}

// AllowedDocumentExtensions допустимые расширения файлов документов
var AllowedDocumentExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Document документ автомобиля или водителя со сроком действия
type Document struct {
	ID             string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EntityType     string     `json:"entity_type" gorm:"not null;type:varchar(10);index:idx_documents_entity"`
	EntityID       string     `json:"entity_id" gorm:"not null;type:varchar(36);index:idx_documents_entity"`
	DocumentType   string     `json:"document_type" gorm:"not null;type:varchar(50)"`
	CustomTypeName string     `json:"custom_type_name" gorm:"type:varchar(100)"`
	IssueDate      *time.Time `json:"issue_date" gorm:"type:date"`
	ExpiryDate     *time.Time `json:"expiry_date" gorm:"type:date"`
	FilePath       string     `json:"file_path" gorm:"type:text"`
	FileName       string     `json:"file_name" gorm:"type:varchar(255)"`
	FileSize       int64      `json:"file_size"`
	FileChecksum   string     `json:"file_checksum" gorm:"type:varchar(64)"`
	Notes          string     `json:"notes" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at"`
	LastModified   time.Time  `json:"last_modified" gorm:"autoUpdateTime"`
}

func (Document) TableName() string {
	return "documents"
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// Validate проверяет владельца, тип документа и название пользовательского типа
func (d *Document) Validate() error {
	if d.EntityType != EntityTypeVehicle && d.EntityType != EntityTypeDriver {
		return errors.New("entity_type must be vehicle or driver")
	}
	if d.EntityID == "" {
		return errors.New("entity_id is required")
	}
	if !IsValidDocumentType(d.DocumentType) {
		return errors.New("unknown document type: " + d.DocumentType)
	}
	if d.DocumentType == DocumentTypeCustom && strings.TrimSpace(d.CustomTypeName) == "" {
		return errors.New("custom_type_name is required for Custom documents")
	}
	if d.IssueDate != nil && d.ExpiryDate != nil && DateOnly(*d.ExpiryDate).Before(DateOnly(*d.IssueDate)) {
		return errors.New("expiry_date must not be before issue_date")
	}
	return nil
}

// TypeLabel возвращает отображаемое название типа
func (d *Document) TypeLabel() string {
	if d.DocumentType == DocumentTypeCustom && d.CustomTypeName != "" {
		return d.CustomTypeName
	}
	return d.DocumentType
}

// IsValidDocumentType проверяет тип документа
func IsValidDocumentType(t string) bool {
	for _, known := range DocumentTypes {
		if known == t {
			return true
		}
	}
	return false
}

// ValidateDocumentFile проверяет расширение и размер файла
func ValidateDocumentFile(fileName string, size int64) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !AllowedDocumentExtensions[ext] {
		return errors.New("file extension not allowed: " + ext)
	}
	if size > MaxDocumentFileSize {
		return errors.New("file exceeds 10 MiB limit")
	}
	return nil
}

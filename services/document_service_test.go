package services

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"backend_dooh/models"
	"backend_dooh/testutils"
)

func setupDocumentServiceTest(t *testing.T) (*gorm.DB, *DocumentService) {
	db := testutils.SetupTestDB(t)
	files := NewLocalFileStore(t.TempDir(), 1024)
	return db, NewDocumentService(db, files, DefaultExpiringWindowDays, zerolog.Nop())
}

func TestDocumentService_AddWithFile(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")

	doc, err := ds.Add(DocumentInput{
		EntityType:   models.EntityTypeVehicle,
		EntityID:     vehicle.ID,
		DocumentType: models.DocumentTypeRCA,
		IssueDate:    "2025-01-01",
		ExpiryDate:   "2025-12-31",
	}, &FileUpload{Name: "rca.PDF", Reader: strings.NewReader("%PDF-1.4 policy")})
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "rca.PDF", doc.FileName)
	assert.Equal(t, int64(len("%PDF-1.4 policy")), doc.FileSize)
	assert.Len(t, doc.FileChecksum, 64)
	assert.True(t, strings.HasSuffix(doc.FilePath, ".pdf"))
	assert.Contains(t, doc.FilePath, "vehicles")

	_, rc, err := ds.OpenFile(doc.ID)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 policy", string(content))

	list, err := ds.ListByEntity(models.EntityTypeVehicle, vehicle.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDocumentService_AddValidation(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")

	tests := []struct {
		name    string
		input   DocumentInput
		upload  *FileUpload
		wantErr error
	}{
		{
			name:    "custom без названия",
			input:   DocumentInput{EntityType: models.EntityTypeVehicle, EntityID: vehicle.ID, DocumentType: models.DocumentTypeCustom},
			wantErr: ErrValidation,
		},
		{
			name:    "неизвестный тип",
			input:   DocumentInput{EntityType: models.EntityTypeVehicle, EntityID: vehicle.ID, DocumentType: "Passport"},
			wantErr: ErrValidation,
		},
		{
			name:    "окончание раньше выдачи",
			input:   DocumentInput{EntityType: models.EntityTypeVehicle, EntityID: vehicle.ID, DocumentType: models.DocumentTypeITP, IssueDate: "2025-05-01", ExpiryDate: "2025-04-01"},
			wantErr: ErrValidation,
		},
		{
			name:    "неверная дата",
			input:   DocumentInput{EntityType: models.EntityTypeVehicle, EntityID: vehicle.ID, DocumentType: models.DocumentTypeITP, ExpiryDate: "31.12.2025"},
			wantErr: ErrValidation,
		},
		{
			name:    "недопустимое расширение",
			input:   DocumentInput{EntityType: models.EntityTypeVehicle, EntityID: vehicle.ID, DocumentType: models.DocumentTypeITP},
			upload:  &FileUpload{Name: "itp.docx", Reader: strings.NewReader("x")},
			wantErr: ErrValidation,
		},
		{
			name:    "слишком большой файл",
			input:   DocumentInput{EntityType: models.EntityTypeVehicle, EntityID: vehicle.ID, DocumentType: models.DocumentTypeITP},
			upload:  &FileUpload{Name: "itp.jpg", Reader: strings.NewReader(strings.Repeat("x", 2048))},
			wantErr: ErrValidation,
		},
		{
			name:    "несуществующий владелец",
			input:   DocumentInput{EntityType: models.EntityTypeDriver, EntityID: "missing", DocumentType: models.DocumentTypeDrivingLicense},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ds.Add(tt.input, tt.upload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	var count int64
	db.Model(&models.Document{}).Count(&count)
	assert.Zero(t, count)
}

func TestDocumentService_UpdateReplacesFileAfterCommit(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	driver := testutils.CreateTestDriver(t, db, "Andrei")

	doc, err := ds.Add(DocumentInput{
		EntityType:   models.EntityTypeDriver,
		EntityID:     driver.ID,
		DocumentType: models.DocumentTypeDrivingLicense,
		ExpiryDate:   "2026-01-01",
	}, &FileUpload{Name: "permis.jpg", Reader: strings.NewReader("old")})
	require.NoError(t, err)
	oldPath := doc.FilePath

	updated, err := ds.Update(doc.ID, DocumentUpdate{ExpiryDate: strPtr("2031-01-01")},
		&FileUpload{Name: "permis.png", Reader: strings.NewReader("new")})
	require.NoError(t, err)

	assert.NotEqual(t, oldPath, updated.FilePath)
	assert.Equal(t, "2031-01-01", models.FormatDate(*updated.ExpiryDate))
	_, statErr := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(updated.FilePath)
	assert.NoError(t, statErr)

	cleared, err := ds.Update(doc.ID, DocumentUpdate{ExpiryDate: strPtr("")}, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.ExpiryDate)
	assert.Equal(t, updated.FilePath, cleared.FilePath)
}

func TestDocumentService_DeleteUnlinksFile(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")

	doc, err := ds.Add(DocumentInput{
		EntityType:   models.EntityTypeVehicle,
		EntityID:     vehicle.ID,
		DocumentType: models.DocumentTypeCASCO,
	}, &FileUpload{Name: "casco.pdf", Reader: strings.NewReader("casco")})
	require.NoError(t, err)

	require.NoError(t, ds.Delete(doc.ID))
	_, statErr := os.Stat(doc.FilePath)
	assert.True(t, os.IsNotExist(statErr))

	_, err = ds.Get(doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, ds.Delete(doc.ID), ErrNotFound)
}

func TestDocumentService_DeleteToleratesMissingFile(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")
	doc := testutils.CreateTestDocument(t, db, models.EntityTypeVehicle, vehicle.ID, models.DocumentTypeITP, nil)
	require.NoError(t, db.Model(doc).Update("file_path", "/nonexistent/itp.pdf").Error)

	assert.NoError(t, ds.Delete(doc.ID))
}

// commitCheckingStore проверяет при удалении файла, что строка документа уже зафиксирована
type commitCheckingStore struct {
	*LocalFileStore
	db       *gorm.DB
	docID    string
	queryErr error
	rows     int64
}

func (s *commitCheckingStore) Remove(path string) error {
	// при открытой транзакции единственное соединение занято и запрос упрется в таймаут
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.queryErr = s.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", s.docID).Count(&s.rows).Error
	return s.LocalFileStore.Remove(path)
}

func TestDocumentService_DeleteUnlinksAfterCommit(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")

	doc, err := ds.Add(DocumentInput{
		EntityType:   models.EntityTypeVehicle,
		EntityID:     vehicle.ID,
		DocumentType: models.DocumentTypeRCA,
	}, &FileUpload{Name: "rca.pdf", Reader: strings.NewReader("rca")})
	require.NoError(t, err)

	store := &commitCheckingStore{LocalFileStore: ds.Files.(*LocalFileStore), db: db, docID: doc.ID}
	ds.Files = store

	require.NoError(t, ds.Delete(doc.ID))
	require.NoError(t, store.queryErr)
	assert.Zero(t, store.rows)
	_, statErr := os.Stat(doc.FilePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDocumentService_DeleteFailureKeepsFile(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")

	doc, err := ds.Add(DocumentInput{
		EntityType:   models.EntityTypeVehicle,
		EntityID:     vehicle.ID,
		DocumentType: models.DocumentTypeITP,
	}, &FileUpload{Name: "itp.pdf", Reader: strings.NewReader("itp")})
	require.NoError(t, err)

	require.NoError(t, db.Callback().Delete().Before("gorm:delete").Register("test:fail_document_delete", func(tx *gorm.DB) {
		if tx.Statement.Table == "documents" {
			tx.AddError(errors.New("disk I/O error"))
		}
	}))

	assert.ErrorIs(t, ds.Delete(doc.ID), ErrStorage)
	_, err = ds.Get(doc.ID)
	require.NoError(t, err)
	_, statErr := os.Stat(doc.FilePath)
	assert.NoError(t, statErr)
}

func TestDocumentService_OpenFileVerifiesChecksum(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")

	doc, err := ds.Add(DocumentInput{
		EntityType:   models.EntityTypeVehicle,
		EntityID:     vehicle.ID,
		DocumentType: models.DocumentTypeRCA,
	}, &FileUpload{Name: "rca.pdf", Reader: strings.NewReader("%PDF-1.4 original")})
	require.NoError(t, err)

	sum, err := ChecksumFile(doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, doc.FileChecksum, sum)

	require.NoError(t, os.WriteFile(doc.FilePath, []byte("%PDF-1.4 tampered"), 0o644))
	_, _, err = ds.OpenFile(doc.ID)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "checksum mismatch")

	require.NoError(t, os.Remove(doc.FilePath))
	_, _, err = ds.OpenFile(doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentService_ListWithStatusAndReport(t *testing.T) {
	db, ds := setupDocumentServiceTest(t)
	today := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")
	driver := testutils.CreateTestDriver(t, db, "Andrei")

	testutils.CreateTestDocument(t, db, models.EntityTypeVehicle, vehicle.ID, models.DocumentTypeRCA, testutils.DatePtr(today, -1))
	testutils.CreateTestDocument(t, db, models.EntityTypeVehicle, vehicle.ID, models.DocumentTypeITP, testutils.DatePtr(today, 15))
	testutils.CreateTestDocument(t, db, models.EntityTypeDriver, driver.ID, models.DocumentTypeDrivingLicense, testutils.DatePtr(today, 60))
	testutils.CreateTestDocument(t, db, models.EntityTypeDriver, driver.ID, models.DocumentTypeIdentityCard, nil)

	all, err := ds.ListWithStatus("", today)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	expired, err := ds.ListWithStatus(ExpiryExpired, today)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, models.DocumentTypeRCA, expired[0].DocumentType)
	require.NotNil(t, expired[0].DaysLeft)
	assert.Equal(t, -1, *expired[0].DaysLeft)

	none, err := ds.ListWithStatus(ExpiryNone, today)
	require.NoError(t, err)
	require.Len(t, none, 1)
	assert.Nil(t, none[0].DaysLeft)

	report, err := ds.ExpiryReport(today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[ExpiryExpired])
	assert.Equal(t, 1, report.Counts[ExpiryExpiring])
	require.Len(t, report.Vehicles, 1)
	assert.Equal(t, "active [EXPIRED: RCA]", report.Vehicles[0].Text)
	assert.Equal(t, "Truck (CJ-01)", report.Expired[0].EntityName)

	displays, err := ds.VehicleDisplays(today)
	require.NoError(t, err)
	assert.True(t, displays[vehicle.ID].Emphasis)
}

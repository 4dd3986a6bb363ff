package testutils

import (
	"testing"
	"time"

	"backend_dooh/models"

	"gorm.io/gorm"
)

// CreateTestVehicle создает тестовый автомобиль
func CreateTestVehicle(t *testing.T, db *gorm.DB, name, registration string) *models.Vehicle {
	t.Helper()

	vehicle := &models.Vehicle{
		Name:         name,
		Registration: registration,
		Status:       models.VehicleStatusActive,
	}
	if err := db.Create(vehicle).Error; err != nil {
		t.Fatalf("Failed to create test vehicle: %v", err)
	}
	return vehicle
}

// CreateTestDriver создает тестового водителя
func CreateTestDriver(t *testing.T, db *gorm.DB, name string) *models.Driver {
	t.Helper()

	driver := &models.Driver{
		Name:          name,
		Phone:         "+40 700 000 000",
		LicenseNumber: "B-" + name,
		Status:        models.DriverStatusActive,
	}
	if err := db.Create(driver).Error; err != nil {
		t.Fatalf("Failed to create test driver: %v", err)
	}
	return driver
}

// CreateTestDocument создает документ без файла с заданной датой окончания
func CreateTestDocument(t *testing.T, db *gorm.DB, entityType, entityID, docType string, expiry *time.Time) *models.Document {
	t.Helper()

	doc := &models.Document{
		EntityType:   entityType,
		EntityID:     entityID,
		DocumentType: docType,
		ExpiryDate:   expiry,
	}
	if docType == models.DocumentTypeCustom {
		doc.CustomTypeName = "Test custom"
	}
	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("Failed to create test document: %v", err)
	}
	return doc
}

// DatePtr возвращает указатель на дату, смещенную от today на days
func DatePtr(today time.Time, days int) *time.Time {
	d := models.DateOnly(today).AddDate(0, 0, days)
	return &d
}

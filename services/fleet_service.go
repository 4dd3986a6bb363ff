package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"backend_dooh/models"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// FleetService управляет автомобилями, водителями и их закреплениями
type FleetService struct {
	DB    *gorm.DB
	Files FileStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewFleetService создает новый экземпляр FleetService
func NewFleetService(db *gorm.DB, files FileStore, log zerolog.Logger) *FleetService {
	return &FleetService{
		DB:    db,
		Files: files,
		log:   log.With().Str("service", "fleet").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// VehicleInput данные для создания автомобиля
type VehicleInput struct {
	Name         string  `json:"name"`
	Registration string  `json:"registration"`
	Status       string  `json:"status"`
	StatusNote   string  `json:"status_note"`
	DriverID     *string `json:"driver_id"`
}

// VehicleUpdate изменяемые поля автомобиля; nil означает "не менять"
type VehicleUpdate struct {
	Name         *string `json:"name"`
	Registration *string `json:"registration"`
	Status       *string `json:"status"`
	StatusNote   *string `json:"status_note"`
}

// DriverInput данные для создания водителя
type DriverInput struct {
	Name            string  `json:"name"`
	Phone           string  `json:"phone"`
	LicenseNumber   string  `json:"license_number"`
	Status          string  `json:"status"`
	AssignedVehicle *string `json:"assigned_vehicle"`
}

// DriverUpdate изменяемые поля водителя
type DriverUpdate struct {
	Name          *string `json:"name"`
	Phone         *string `json:"phone"`
	LicenseNumber *string `json:"license_number"`
	Status        *string `json:"status"`
}

// ===================== Автомобили =====================

// CreateVehicle создает автомобиль и, если указан водитель, закрепляет его
func (fs *FleetService) CreateVehicle(input VehicleInput) (*models.Vehicle, error) {
	vehicle := &models.Vehicle{
		Name:         strings.TrimSpace(input.Name),
		Registration: strings.TrimSpace(input.Registration),
		Status:       input.Status,
		StatusNote:   input.StatusNote,
	}
	if vehicle.Status == "" {
		vehicle.Status = models.VehicleStatusActive
	}
	if err := vehicle.Validate(); err != nil {
		return nil, validationError(err)
	}

	err := fs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(vehicle).Error; err != nil {
			return storageError("create vehicle", err)
		}
		if input.DriverID != nil && *input.DriverID != "" {
			if err := fs.pairInTx(tx, vehicle.ID, *input.DriverID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fs.log.Info().Str("vehicle_id", vehicle.ID).Str("name", vehicle.Name).Msg("vehicle created")
	return fs.GetVehicle(vehicle.ID)
}

// GetVehicle возвращает автомобиль по ID
func (fs *FleetService) GetVehicle(id string) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	if err := fs.DB.First(&vehicle, "id = ?", id).Error; err != nil {
		return nil, lookupError("vehicle", id, err)
	}
	return &vehicle, nil
}

// ListVehicles возвращает автомобили, опционально отфильтрованные по статусу
func (fs *FleetService) ListVehicles(status string) ([]models.Vehicle, error) {
	query := fs.DB.Order("name")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var vehicles []models.Vehicle
	if err := query.Find(&vehicles).Error; err != nil {
		return nil, storageError("list vehicles", err)
	}
	return vehicles, nil
}

// UpdateVehicle изменяет автомобиль; новое имя переносится в кэш водителя в той же транзакции
func (fs *FleetService) UpdateVehicle(id string, update VehicleUpdate) (*models.Vehicle, error) {
	err := fs.DB.Transaction(func(tx *gorm.DB) error {
		var vehicle models.Vehicle
		if err := tx.First(&vehicle, "id = ?", id).Error; err != nil {
			return lookupError("vehicle", id, err)
		}

		renamed := false
		if update.Name != nil && strings.TrimSpace(*update.Name) != vehicle.Name {
			vehicle.Name = strings.TrimSpace(*update.Name)
			renamed = true
		}
		if update.Registration != nil {
			vehicle.Registration = strings.TrimSpace(*update.Registration)
		}
		if update.Status != nil {
			vehicle.Status = *update.Status
		}
		if update.StatusNote != nil {
			vehicle.StatusNote = *update.StatusNote
		}
		if err := vehicle.Validate(); err != nil {
			return validationError(err)
		}

		if err := tx.Save(&vehicle).Error; err != nil {
			return storageError("update vehicle", err)
		}

		if renamed {
			err := tx.Model(&models.Driver{}).
				Where("assigned_vehicle = ?", vehicle.ID).
				Update("assigned_vehicle_name", vehicle.Name).Error
			if err != nil {
				return storageError("propagate vehicle name", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fs.GetVehicle(id)
}

// DeleteVehicle удаляет автомобиль вместе с расписаниями, документами и журналом закреплений.
// Закрепленный водитель освобождается в той же транзакции.
func (fs *FleetService) DeleteVehicle(id string) error {
	tx := fs.DB.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var vehicle models.Vehicle
	if err := tx.First(&vehicle, "id = ?", id).Error; err != nil {
		tx.Rollback()
		return lookupError("vehicle", id, err)
	}

	if err := fs.unpairVehicleInTx(tx, &vehicle); err != nil {
		tx.Rollback()
		return err
	}

	files, err := fs.deleteOwnedRowsInTx(tx, models.EntityTypeVehicle, id)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Delete(&vehicle).Error; err != nil {
		tx.Rollback()
		return storageError("delete vehicle", err)
	}

	if err := tx.Commit().Error; err != nil {
		return storageError("commit vehicle delete", err)
	}

	fs.removeFiles(files)
	fs.log.Info().Str("vehicle_id", id).Msg("vehicle deleted")
	return nil
}

// AssignDriver закрепляет водителя за автомобилем; nil или пустой driverID снимает закрепление
func (fs *FleetService) AssignDriver(vehicleID string, driverID *string) (*models.Vehicle, error) {
	err := fs.DB.Transaction(func(tx *gorm.DB) error {
		if driverID == nil || *driverID == "" {
			var vehicle models.Vehicle
			if err := tx.First(&vehicle, "id = ?", vehicleID).Error; err != nil {
				return lookupError("vehicle", vehicleID, err)
			}
			return fs.unpairVehicleInTx(tx, &vehicle)
		}
		return fs.pairInTx(tx, vehicleID, *driverID)
	})
	if err != nil {
		return nil, err
	}
	return fs.GetVehicle(vehicleID)
}

// ===================== Водители =====================

// CreateDriver создает водителя и, если указан автомобиль, закрепляет его
func (fs *FleetService) CreateDriver(input DriverInput) (*models.Driver, error) {
	driver := &models.Driver{
		Name:          strings.TrimSpace(input.Name),
		Phone:         strings.TrimSpace(input.Phone),
		LicenseNumber: strings.TrimSpace(input.LicenseNumber),
		Status:        input.Status,
	}
	if driver.Status == "" {
		driver.Status = models.DriverStatusActive
	}
	if err := driver.Validate(); err != nil {
		return nil, validationError(err)
	}

	err := fs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(driver).Error; err != nil {
			return storageError("create driver", err)
		}
		if input.AssignedVehicle != nil && *input.AssignedVehicle != "" {
			if err := fs.pairInTx(tx, *input.AssignedVehicle, driver.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fs.log.Info().Str("driver_id", driver.ID).Str("name", driver.Name).Msg("driver created")
	return fs.GetDriver(driver.ID)
}

// GetDriver возвращает водителя по ID
func (fs *FleetService) GetDriver(id string) (*models.Driver, error) {
	var driver models.Driver
	if err := fs.DB.First(&driver, "id = ?", id).Error; err != nil {
		return nil, lookupError("driver", id, err)
	}
	return &driver, nil
}

// ListDrivers возвращает водителей, опционально отфильтрованных по статусу
func (fs *FleetService) ListDrivers(status string) ([]models.Driver, error) {
	query := fs.DB.Order("name")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var drivers []models.Driver
	if err := query.Find(&drivers).Error; err != nil {
		return nil, storageError("list drivers", err)
	}
	return drivers, nil
}

// UpdateDriver изменяет водителя; новое имя переносится в кэш автомобиля в той же транзакции
func (fs *FleetService) UpdateDriver(id string, update DriverUpdate) (*models.Driver, error) {
	err := fs.DB.Transaction(func(tx *gorm.DB) error {
		var driver models.Driver
		if err := tx.First(&driver, "id = ?", id).Error; err != nil {
			return lookupError("driver", id, err)
		}

		renamed := false
		if update.Name != nil && strings.TrimSpace(*update.Name) != driver.Name {
			driver.Name = strings.TrimSpace(*update.Name)
			renamed = true
		}
		if update.Phone != nil {
			driver.Phone = strings.TrimSpace(*update.Phone)
		}
		if update.LicenseNumber != nil {
			driver.LicenseNumber = strings.TrimSpace(*update.LicenseNumber)
		}
		if update.Status != nil {
			driver.Status = *update.Status
		}
		if err := driver.Validate(); err != nil {
			return validationError(err)
		}

		if err := tx.Save(&driver).Error; err != nil {
			return storageError("update driver", err)
		}

		if renamed {
			err := tx.Model(&models.Vehicle{}).
				Where("driver_id = ?", driver.ID).
				Update("driver_name", driver.Name).Error
			if err != nil {
				return storageError("propagate driver name", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fs.GetDriver(id)
}

// DeleteDriver удаляет водителя; закрепленного за автомобилем удалить нельзя
func (fs *FleetService) DeleteDriver(id string) error {
	var files []string
	err := fs.DB.Transaction(func(tx *gorm.DB) error {
		var driver models.Driver
		if err := tx.First(&driver, "id = ?", id).Error; err != nil {
			return lookupError("driver", id, err)
		}
		if driver.AssignedVehicle != nil && *driver.AssignedVehicle != "" {
			return fmt.Errorf("%w: driver %s is assigned to vehicle %s, unassign first",
				ErrConflict, driver.Name, driver.AssignedVehicleName)
		}

		var err error
		files, err = fs.deleteOwnedRowsInTx(tx, models.EntityTypeDriver, id)
		if err != nil {
			return err
		}
		if err := tx.Where("driver_id = ?", id).Delete(&models.DriverAssignmentHistory{}).Error; err != nil {
			return storageError("delete driver history", err)
		}
		if err := tx.Delete(&driver).Error; err != nil {
			return storageError("delete driver", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fs.removeFiles(files)
	fs.log.Info().Str("driver_id", id).Msg("driver deleted")
	return nil
}

// AssignToVehicle закрепляет водителя за автомобилем; nil или пустой vehicleID снимает закрепление
func (fs *FleetService) AssignToVehicle(driverID string, vehicleID *string) (*models.Driver, error) {
	err := fs.DB.Transaction(func(tx *gorm.DB) error {
		if vehicleID == nil || *vehicleID == "" {
			var driver models.Driver
			if err := tx.First(&driver, "id = ?", driverID).Error; err != nil {
				return lookupError("driver", driverID, err)
			}
			return fs.unpairDriverInTx(tx, &driver)
		}
		return fs.pairInTx(tx, *vehicleID, driverID)
	})
	if err != nil {
		return nil, err
	}
	return fs.GetDriver(driverID)
}

// ===================== Журнал закреплений =====================

// DriverHistory возвращает журнал закреплений водителя, новые записи первыми
func (fs *FleetService) DriverHistory(driverID string) ([]models.DriverAssignmentHistory, error) {
	var history []models.DriverAssignmentHistory
	err := fs.DB.Where("driver_id = ?", driverID).
		Order("start_date DESC, created_at DESC").
		Find(&history).Error
	if err != nil {
		return nil, storageError("list driver history", err)
	}
	return history, nil
}

// VehicleHistory возвращает журнал закреплений автомобиля, новые записи первыми
func (fs *FleetService) VehicleHistory(vehicleID string) ([]models.DriverAssignmentHistory, error) {
	var history []models.DriverAssignmentHistory
	err := fs.DB.Where("vehicle_id = ?", vehicleID).
		Order("start_date DESC, created_at DESC").
		Find(&history).Error
	if err != nil {
		return nil, storageError("list vehicle history", err)
	}
	return history, nil
}

// ResolveDriverName возвращает имя водителя автомобиля по связи, а не по кэшу.
// Пустая строка означает, что водитель не закреплен.
func (fs *FleetService) ResolveDriverName(vehicleID string) (string, error) {
	var row struct {
		DriverName string
		Resolved   *string
	}
	err := fs.DB.Table("vehicles").
		Select("vehicles.driver_name AS driver_name, drivers.name AS resolved").
		Joins("LEFT JOIN drivers ON drivers.id = vehicles.driver_id").
		Where("vehicles.id = ?", vehicleID).
		Take(&row).Error
	if err != nil {
		return "", lookupError("vehicle", vehicleID, err)
	}
	if row.Resolved != nil {
		return *row.Resolved, nil
	}
	return "", nil
}

// ===================== Внутренние операции =====================

// pairInTx закрепляет водителя за автомобилем, освобождая прежние пары обеих сторон
func (fs *FleetService) pairInTx(tx *gorm.DB, vehicleID, driverID string) error {
	var vehicle models.Vehicle
	if err := tx.First(&vehicle, "id = ?", vehicleID).Error; err != nil {
		return lookupError("vehicle", vehicleID, err)
	}
	var driver models.Driver
	if err := tx.First(&driver, "id = ?", driverID).Error; err != nil {
		return lookupError("driver", driverID, err)
	}

	if vehicle.DriverID != nil && *vehicle.DriverID == driver.ID &&
		driver.AssignedVehicle != nil && *driver.AssignedVehicle == vehicle.ID {
		return nil
	}

	now := fs.now()

	// Водитель, которого заменяют на целевом автомобиле
	if vehicle.DriverID != nil && *vehicle.DriverID != "" && *vehicle.DriverID != driver.ID {
		if err := fs.closeOpenHistory(tx, *vehicle.DriverID, now); err != nil {
			return err
		}
		err := tx.Model(&models.Driver{}).
			Where("id = ? AND assigned_vehicle = ?", *vehicle.DriverID, vehicle.ID).
			Updates(map[string]interface{}{"assigned_vehicle": nil, "assigned_vehicle_name": ""}).Error
		if err != nil {
			return storageError("release replaced driver", err)
		}
	}

	// Прежний автомобиль переводимого водителя
	if driver.AssignedVehicle != nil && *driver.AssignedVehicle != "" && *driver.AssignedVehicle != vehicle.ID {
		err := tx.Model(&models.Vehicle{}).
			Where("id = ? AND driver_id = ?", *driver.AssignedVehicle, driver.ID).
			Updates(map[string]interface{}{"driver_id": nil, "driver_name": ""}).Error
		if err != nil {
			return storageError("release previous vehicle", err)
		}
	}
	if err := fs.closeOpenHistory(tx, driver.ID, now); err != nil {
		return err
	}

	err := tx.Model(&models.Vehicle{}).Where("id = ?", vehicle.ID).
		Updates(map[string]interface{}{"driver_id": driver.ID, "driver_name": driver.Name}).Error
	if err != nil {
		return storageError("assign driver to vehicle", err)
	}
	err = tx.Model(&models.Driver{}).Where("id = ?", driver.ID).
		Updates(map[string]interface{}{"assigned_vehicle": vehicle.ID, "assigned_vehicle_name": vehicle.Name}).Error
	if err != nil {
		return storageError("assign vehicle to driver", err)
	}

	history := models.DriverAssignmentHistory{
		DriverID:    driver.ID,
		VehicleID:   vehicle.ID,
		VehicleName: vehicle.Name,
		StartDate:   now,
	}
	if err := tx.Create(&history).Error; err != nil {
		return storageError("open assignment history", err)
	}

	fs.log.Info().
		Str("vehicle_id", vehicle.ID).
		Str("driver_id", driver.ID).
		Msg("driver assigned")
	return nil
}

// unpairVehicleInTx снимает водителя с автомобиля
func (fs *FleetService) unpairVehicleInTx(tx *gorm.DB, vehicle *models.Vehicle) error {
	if vehicle.DriverID == nil || *vehicle.DriverID == "" {
		return nil
	}
	driverID := *vehicle.DriverID

	if err := fs.closeOpenHistory(tx, driverID, fs.now()); err != nil {
		return err
	}
	err := tx.Model(&models.Driver{}).
		Where("id = ? AND assigned_vehicle = ?", driverID, vehicle.ID).
		Updates(map[string]interface{}{"assigned_vehicle": nil, "assigned_vehicle_name": ""}).Error
	if err != nil {
		return storageError("release driver", err)
	}
	err = tx.Model(&models.Vehicle{}).Where("id = ?", vehicle.ID).
		Updates(map[string]interface{}{"driver_id": nil, "driver_name": ""}).Error
	if err != nil {
		return storageError("release vehicle", err)
	}

	vehicle.DriverID = nil
	vehicle.DriverName = ""
	fs.log.Info().Str("vehicle_id", vehicle.ID).Str("driver_id", driverID).Msg("driver unassigned")
	return nil
}

// unpairDriverInTx снимает водителя с его автомобиля
func (fs *FleetService) unpairDriverInTx(tx *gorm.DB, driver *models.Driver) error {
	if err := fs.closeOpenHistory(tx, driver.ID, fs.now()); err != nil {
		return err
	}
	if driver.AssignedVehicle == nil || *driver.AssignedVehicle == "" {
		return nil
	}

	err := tx.Model(&models.Vehicle{}).
		Where("id = ? AND driver_id = ?", *driver.AssignedVehicle, driver.ID).
		Updates(map[string]interface{}{"driver_id": nil, "driver_name": ""}).Error
	if err != nil {
		return storageError("release vehicle", err)
	}
	err = tx.Model(&models.Driver{}).Where("id = ?", driver.ID).
		Updates(map[string]interface{}{"assigned_vehicle": nil, "assigned_vehicle_name": ""}).Error
	if err != nil {
		return storageError("release driver", err)
	}

	driver.AssignedVehicle = nil
	driver.AssignedVehicleName = ""
	return nil
}

// closeOpenHistory закрывает открытую запись журнала водителя
func (fs *FleetService) closeOpenHistory(tx *gorm.DB, driverID string, now time.Time) error {
	err := tx.Model(&models.DriverAssignmentHistory{}).
		Where("driver_id = ? AND end_date IS NULL", driverID).
		Update("end_date", now).Error
	if err != nil {
		return storageError("close assignment history", err)
	}
	return nil
}

// deleteOwnedRowsInTx удаляет расписания и документы сущности, возвращая пути файлов документов
func (fs *FleetService) deleteOwnedRowsInTx(tx *gorm.DB, entityType, entityID string) ([]string, error) {
	var docs []models.Document
	if err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).Find(&docs).Error; err != nil {
		return nil, storageError("load owned documents", err)
	}
	if err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).Delete(&models.Document{}).Error; err != nil {
		return nil, storageError("delete owned documents", err)
	}

	var err error
	switch entityType {
	case models.EntityTypeVehicle:
		err = tx.Where("vehicle_id = ?", entityID).Delete(&models.VehicleSchedule{}).Error
	case models.EntityTypeDriver:
		err = tx.Where("driver_id = ?", entityID).Delete(&models.DriverSchedule{}).Error
	}
	if err != nil {
		return nil, storageError("delete owned schedules", err)
	}

	files := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.FilePath != "" {
			files = append(files, doc.FilePath)
		}
	}
	return files, nil
}

// removeFiles удаляет файлы документов после фиксации транзакции
func (fs *FleetService) removeFiles(paths []string) {
	if fs.Files == nil {
		return
	}
	for _, p := range paths {
		if err := fs.Files.Remove(p); err != nil && !errors.Is(err, ErrNotFound) {
			fs.log.Warn().Err(err).Str("path", p).Msg("failed to remove document file")
		}
	}
}

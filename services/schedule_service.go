package services

import (
	"errors"
	"fmt"
	"strings"

	"backend_dooh/models"

	"gorm.io/gorm"
)

// ScheduleService управляет расписаниями автомобилей и водителей
type ScheduleService struct {
	DB *gorm.DB
}

// NewScheduleService создает новый экземпляр ScheduleService
func NewScheduleService(db *gorm.DB) *ScheduleService {
	return &ScheduleService{DB: db}
}

// ScheduleInput запись расписания; даты в формате YYYY-MM-DD
type ScheduleInput struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	EventType   string `json:"event_type"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Details     string `json:"details"`
}

func (in ScheduleInput) toEntry() (models.ScheduleEntry, error) {
	entry := models.ScheduleEntry{
		EventType:   strings.TrimSpace(in.EventType),
		Origin:      strings.TrimSpace(in.Origin),
		Destination: strings.TrimSpace(in.Destination),
		Details:     in.Details,
	}
	if entry.EventType == "" {
		entry.EventType = models.ScheduleEventOther
	}
	start, err := models.ParseDate(in.StartDate)
	if err != nil {
		return entry, validationError(fmt.Errorf("start_date: %v", err))
	}
	endStr := in.EndDate
	if strings.TrimSpace(endStr) == "" {
		endStr = in.StartDate
	}
	end, err := models.ParseDate(endStr)
	if err != nil {
		return entry, validationError(fmt.Errorf("end_date: %v", err))
	}
	entry.StartDate = start
	entry.EndDate = end
	if err := entry.Validate(); err != nil {
		return entry, validationError(err)
	}
	return entry, nil
}

// AddVehicleSchedule добавляет запись в расписание автомобиля
func (ss *ScheduleService) AddVehicleSchedule(vehicleID string, input ScheduleInput) (*models.VehicleSchedule, error) {
	entry, err := input.toEntry()
	if err != nil {
		return nil, err
	}
	if err := ss.ensureExists(&models.Vehicle{}, "vehicle", vehicleID); err != nil {
		return nil, err
	}
	schedule := &models.VehicleSchedule{ScheduleEntry: entry, VehicleID: vehicleID}
	if err := ss.DB.Create(schedule).Error; err != nil {
		return nil, storageError("create vehicle schedule", err)
	}
	return schedule, nil
}

// UpdateVehicleSchedule заменяет данные записи расписания автомобиля
func (ss *ScheduleService) UpdateVehicleSchedule(id string, input ScheduleInput) (*models.VehicleSchedule, error) {
	entry, err := input.toEntry()
	if err != nil {
		return nil, err
	}
	var schedule models.VehicleSchedule
	if err := ss.DB.First(&schedule, "id = ?", id).Error; err != nil {
		return nil, lookupError("vehicle schedule", id, err)
	}
	entry.ID = schedule.ID
	entry.CreatedAt = schedule.CreatedAt
	schedule.ScheduleEntry = entry
	if err := ss.DB.Save(&schedule).Error; err != nil {
		return nil, storageError("update vehicle schedule", err)
	}
	return &schedule, nil
}

// DeleteVehicleSchedule удаляет запись расписания автомобиля
func (ss *ScheduleService) DeleteVehicleSchedule(id string) error {
	return ss.deleteByID(&models.VehicleSchedule{}, "vehicle schedule", id)
}

// ListVehicleSchedules возвращает расписание автомобиля в хронологическом порядке
func (ss *ScheduleService) ListVehicleSchedules(vehicleID string) ([]models.VehicleSchedule, error) {
	var schedules []models.VehicleSchedule
	err := ss.DB.Where("vehicle_id = ?", vehicleID).Order("start_date, created_at").Find(&schedules).Error
	if err != nil {
		return nil, storageError("list vehicle schedules", err)
	}
	return schedules, nil
}

// AddDriverSchedule добавляет запись в расписание водителя
func (ss *ScheduleService) AddDriverSchedule(driverID string, input ScheduleInput) (*models.DriverSchedule, error) {
	entry, err := input.toEntry()
	if err != nil {
		return nil, err
	}
	if err := ss.ensureExists(&models.Driver{}, "driver", driverID); err != nil {
		return nil, err
	}
	schedule := &models.DriverSchedule{ScheduleEntry: entry, DriverID: driverID}
	if err := ss.DB.Create(schedule).Error; err != nil {
		return nil, storageError("create driver schedule", err)
	}
	return schedule, nil
}

// UpdateDriverSchedule заменяет данные записи расписания водителя
func (ss *ScheduleService) UpdateDriverSchedule(id string, input ScheduleInput) (*models.DriverSchedule, error) {
	entry, err := input.toEntry()
	if err != nil {
		return nil, err
	}
	var schedule models.DriverSchedule
	if err := ss.DB.First(&schedule, "id = ?", id).Error; err != nil {
		return nil, lookupError("driver schedule", id, err)
	}
	entry.ID = schedule.ID
	entry.CreatedAt = schedule.CreatedAt
	schedule.ScheduleEntry = entry
	if err := ss.DB.Save(&schedule).Error; err != nil {
		return nil, storageError("update driver schedule", err)
	}
	return &schedule, nil
}

// DeleteDriverSchedule удаляет запись расписания водителя
func (ss *ScheduleService) DeleteDriverSchedule(id string) error {
	return ss.deleteByID(&models.DriverSchedule{}, "driver schedule", id)
}

// ListDriverSchedules возвращает расписание водителя
func (ss *ScheduleService) ListDriverSchedules(driverID string) ([]models.DriverSchedule, error) {
	var schedules []models.DriverSchedule
	err := ss.DB.Where("driver_id = ?", driverID).Order("start_date, created_at").Find(&schedules).Error
	if err != nil {
		return nil, storageError("list driver schedules", err)
	}
	return schedules, nil
}

func (ss *ScheduleService) ensureExists(model interface{}, entity, id string) error {
	if strings.TrimSpace(id) == "" {
		return validationError(errors.New(entity + " id is required"))
	}
	var count int64
	if err := ss.DB.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return storageError("check "+entity, err)
	}
	if count == 0 {
		return notFound(entity, id)
	}
	return nil
}

func (ss *ScheduleService) deleteByID(model interface{}, entity, id string) error {
	res := ss.DB.Where("id = ?", id).Delete(model)
	if res.Error != nil {
		return storageError("delete "+entity, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(entity, id)
	}
	return nil
}

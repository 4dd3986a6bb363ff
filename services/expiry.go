package services

import (
	"sort"
	"strings"
	"time"

	"backend_dooh/models"
)

// ExpiryStatus статус срока действия документа
type ExpiryStatus string

const (
	ExpiryValid    ExpiryStatus = "valid"
	ExpiryExpiring ExpiryStatus = "expiring"
	ExpiryExpired  ExpiryStatus = "expired"
	ExpiryNone     ExpiryStatus = "no_expiry"
)

// DefaultExpiringWindowDays окно "скоро истекает" по умолчанию
const DefaultExpiringWindowDays = 30

// ParseExpiryStatus проверяет строковое значение статуса
func ParseExpiryStatus(s string) (ExpiryStatus, bool) {
	switch ExpiryStatus(s) {
	case ExpiryValid, ExpiryExpiring, ExpiryExpired, ExpiryNone:
		return ExpiryStatus(s), true
	case "":
		return "", true
	}
	return "", false
}

// Classify определяет статус документа на дату today по календарным дням.
// Зависит только от даты окончания и today.
func Classify(doc models.Document, today time.Time, windowDays int) ExpiryStatus {
	if doc.ExpiryDate == nil {
		return ExpiryNone
	}
	days := models.DaysBetween(today, *doc.ExpiryDate)
	switch {
	case days < 0:
		return ExpiryExpired
	case days <= windowDays:
		return ExpiryExpiring
	default:
		return ExpiryValid
	}
}

// VehicleDisplay статус автомобиля для отображения
type VehicleDisplay struct {
	VehicleID    string   `json:"vehicle_id"`
	Status       string   `json:"status"`
	Text         string   `json:"text"`
	ExpiredTypes []string `json:"expired_types,omitempty"`
	Emphasis     bool     `json:"emphasis"`
}

// VehicleDisplayStatus дополняет статус автомобиля списком просроченных критичных документов
func VehicleDisplayStatus(vehicle models.Vehicle, docs []models.Document, today time.Time, windowDays int) VehicleDisplay {
	expired := make(map[string]bool)
	for _, doc := range docs {
		if doc.EntityType != models.EntityTypeVehicle || doc.EntityID != vehicle.ID {
			continue
		}
		if Classify(doc, today, windowDays) == ExpiryExpired {
			expired[doc.DocumentType] = true
		}
	}

	display := VehicleDisplay{
		VehicleID: vehicle.ID,
		Status:    vehicle.Status,
		Text:      vehicle.Status,
	}
	for _, t := range models.CriticalVehicleDocumentTypes {
		if expired[t] {
			display.ExpiredTypes = append(display.ExpiredTypes, t)
		}
	}
	if len(display.ExpiredTypes) > 0 {
		display.Text += " [EXPIRED: " + strings.Join(display.ExpiredTypes, ", ") + "]"
		display.Emphasis = true
	}
	return display
}

// ExpiryReportItem документ в отчете о сроках
type ExpiryReportItem struct {
	DocumentID string       `json:"document_id"`
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	EntityName string       `json:"entity_name"`
	Type       string       `json:"type"`
	ExpiryDate string       `json:"expiry_date"`
	DaysLeft   int          `json:"days_left"`
	Status     ExpiryStatus `json:"status"`
}

// ExpiryReport сводка по срокам документов
type ExpiryReport struct {
	Date     string               `json:"date"`
	Window   int                  `json:"window_days"`
	Counts   map[ExpiryStatus]int `json:"counts"`
	Expired  []ExpiryReportItem   `json:"expired"`
	Expiring []ExpiryReportItem   `json:"expiring"`
	Vehicles []VehicleDisplay     `json:"flagged_vehicles,omitempty"`
}

// HasAlerts возвращает true, если есть просроченные или истекающие документы
func (r *ExpiryReport) HasAlerts() bool {
	return len(r.Expired) > 0 || len(r.Expiring) > 0
}

// BuildExpiryReport классифицирует документы; names сопоставляет ID сущности с отображаемым именем
func BuildExpiryReport(docs []models.Document, names map[string]string, today time.Time, windowDays int) ExpiryReport {
	report := ExpiryReport{
		Date:   models.FormatDate(today),
		Window: windowDays,
		Counts: map[ExpiryStatus]int{
			ExpiryValid:    0,
			ExpiryExpiring: 0,
			ExpiryExpired:  0,
			ExpiryNone:     0,
		},
	}

	for _, doc := range docs {
		status := Classify(doc, today, windowDays)
		report.Counts[status]++
		if status != ExpiryExpired && status != ExpiryExpiring {
			continue
		}
		item := ExpiryReportItem{
			DocumentID: doc.ID,
			EntityType: doc.EntityType,
			EntityID:   doc.EntityID,
			EntityName: names[doc.EntityID],
			Type:       doc.TypeLabel(),
			ExpiryDate: models.FormatDate(*doc.ExpiryDate),
			DaysLeft:   models.DaysBetween(today, *doc.ExpiryDate),
			Status:     status,
		}
		if item.EntityName == "" {
			item.EntityName = doc.EntityID
		}
		if status == ExpiryExpired {
			report.Expired = append(report.Expired, item)
		} else {
			report.Expiring = append(report.Expiring, item)
		}
	}

	byDays := func(items []ExpiryReportItem) {
		sort.SliceStable(items, func(i, j int) bool { return items[i].DaysLeft < items[j].DaysLeft })
	}
	byDays(report.Expired)
	byDays(report.Expiring)
	return report
}

// ExpiryReport строит отчет по всем документам на дату today
func (ds *DocumentService) ExpiryReport(today time.Time) (*ExpiryReport, error) {
	var docs []models.Document
	if err := ds.DB.Find(&docs).Error; err != nil {
		return nil, storageError("load documents", err)
	}
	var vehicles []models.Vehicle
	if err := ds.DB.Find(&vehicles).Error; err != nil {
		return nil, storageError("load vehicles", err)
	}
	var drivers []models.Driver
	if err := ds.DB.Find(&drivers).Error; err != nil {
		return nil, storageError("load drivers", err)
	}

	names := make(map[string]string, len(vehicles)+len(drivers))
	for _, v := range vehicles {
		names[v.ID] = v.Display()
	}
	for _, d := range drivers {
		names[d.ID] = d.Name
	}

	report := BuildExpiryReport(docs, names, today, ds.Window)
	for _, v := range vehicles {
		if display := VehicleDisplayStatus(v, docs, today, ds.Window); display.Emphasis {
			report.Vehicles = append(report.Vehicles, display)
		}
	}
	return &report, nil
}

// VehicleDisplays возвращает отображаемые статусы всех автомобилей
func (ds *DocumentService) VehicleDisplays(today time.Time) (map[string]VehicleDisplay, error) {
	var vehicles []models.Vehicle
	if err := ds.DB.Find(&vehicles).Error; err != nil {
		return nil, storageError("load vehicles", err)
	}
	var docs []models.Document
	err := ds.DB.Where("entity_type = ? AND document_type IN ?", models.EntityTypeVehicle, models.CriticalVehicleDocumentTypes).
		Find(&docs).Error
	if err != nil {
		return nil, storageError("load vehicle documents", err)
	}

	result := make(map[string]VehicleDisplay, len(vehicles))
	for _, v := range vehicles {
		result[v.ID] = VehicleDisplayStatus(v, docs, today, ds.Window)
	}
	return result, nil
}

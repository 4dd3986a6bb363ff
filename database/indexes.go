package database

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DatabaseIndex представляет индекс базы данных
type DatabaseIndex struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// PerformanceIndexes составные индексы под основные выборки
var PerformanceIndexes = []DatabaseIndex{
	// Закрепления: поиск открытой записи водителя
	{
		Name:    "idx_history_driver_open",
		Table:   "driver_assignment_history",
		Columns: []string{"driver_id", "end_date"},
	},
	{
		Name:    "idx_history_vehicle_start",
		Table:   "driver_assignment_history",
		Columns: []string{"vehicle_id", "start_date"},
	},

	// Расписания по сущности и дате
	{
		Name:    "idx_vehicle_schedules_entity_start",
		Table:   "vehicle_schedules",
		Columns: []string{"vehicle_id", "start_date"},
	},
	{
		Name:    "idx_driver_schedules_entity_start",
		Table:   "driver_schedules",
		Columns: []string{"driver_id", "start_date"},
	},

	// Документы: ежедневная проверка сроков
	{
		Name:    "idx_documents_expiry",
		Table:   "documents",
		Columns: []string{"expiry_date"},
	},
	{
		Name:    "idx_documents_entity_type",
		Table:   "documents",
		Columns: []string{"entity_type", "entity_id", "document_type"},
	},

	// Ролики в порядке показа
	{
		Name:    "idx_campaign_spots_order",
		Table:   "campaign_spots",
		Columns: []string{"campaign_id", "order_index"},
	},
}

// CreatePerformanceIndexes создает индексы; при table != "" только для этой таблицы
func CreatePerformanceIndexes(db *gorm.DB, table string, log zerolog.Logger) error {
	for _, index := range PerformanceIndexes {
		if table != "" && index.Table != table {
			continue
		}
		if err := CreateIndex(db, index); err != nil {
			return fmt.Errorf("failed to create index %s: %w", index.Name, err)
		}
		log.Debug().Str("index", index.Name).Msg("index ensured")
	}
	return nil
}

// CreateIndex создает отдельный индекс
func CreateIndex(db *gorm.DB, index DatabaseIndex) error {
	uniqueStr := ""
	if index.Unique {
		uniqueStr = "UNIQUE "
	}

	sql := fmt.Sprintf(
		"CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		uniqueStr, index.Name, index.Table, strings.Join(index.Columns, ", "),
	)
	return db.Exec(sql).Error
}

// OptimizeDatabase обновляет статистику и сжимает файл базы
func OptimizeDatabase(db *gorm.DB, log zerolog.Logger) error {
	if err := db.Exec("ANALYZE").Error; err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}

	if err := db.Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	log.Info().Msg("database optimization completed")
	return nil
}

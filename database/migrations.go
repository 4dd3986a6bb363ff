package database

import (
	"fmt"
	"sort"
	"time"

	"backend_dooh/models"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Migration версионированное изменение схемы
type Migration struct {
	Version      int
	Name         string
	DataLossNote string
	Up           func(tx *gorm.DB, log zerolog.Logger) error
}

// Migrations реестр миграций; версии только растут
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "initial schema",
		Up: func(tx *gorm.DB, log zerolog.Logger) error {
			return tx.AutoMigrate(
				&models.Vehicle{},
				&models.Driver{},
				&models.DriverAssignmentHistory{},
				&models.VehicleSchedule{},
				&models.DriverSchedule{},
				&models.Document{},
				&models.Campaign{},
				&models.CampaignSpot{},
			)
		},
	},
	{
		Version: 2,
		Name:    "performance indexes",
		Up: func(tx *gorm.DB, log zerolog.Logger) error {
			return CreatePerformanceIndexes(tx, "", log)
		},
	},
	{
		Version: 3,
		Name:    "rebuild campaign_spots with aligned columns",
		DataLossNote: "values in columns unknown to the current spot schema are dropped; " +
			"spots whose campaign no longer exists are dropped",
		Up: rebuildCampaignSpots,
	},
}

// ApplyPending применяет все неприменённые миграции по возрастанию версии.
// Каждая миграция выполняется в своей транзакции вместе с записью в schema_migrations.
func ApplyPending(db *gorm.DB, log zerolog.Logger) (int, error) {
	if err := db.AutoMigrate(&models.SchemaMigration{}); err != nil {
		return 0, fmt.Errorf("не удалось создать таблицу schema_migrations: %w", err)
	}

	var applied []models.SchemaMigration
	if err := db.Find(&applied).Error; err != nil {
		return 0, fmt.Errorf("не удалось прочитать schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	pending := make([]Migration, 0, len(Migrations))
	for _, m := range Migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	count := 0
	for _, m := range pending {
		m := m
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx, log); err != nil {
				return err
			}
			return tx.Create(&models.SchemaMigration{
				Version:      m.Version,
				Name:         m.Name,
				DataLossNote: m.DataLossNote,
				AppliedAt:    time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return count, fmt.Errorf("миграция %d (%s): %w", m.Version, m.Name, err)
		}

		event := log.Info().Int("version", m.Version).Str("name", m.Name)
		if m.DataLossNote != "" {
			event = event.Str("data_loss_note", m.DataLossNote)
		}
		event.Msg("migration applied")
		count++
	}
	return count, nil
}

// CurrentVersion возвращает номер последней примененной миграции (0 для пустой базы)
func CurrentVersion(db *gorm.DB) (int, error) {
	if !db.Migrator().HasTable(&models.SchemaMigration{}) {
		return 0, nil
	}
	var version int
	err := db.Model(&models.SchemaMigration{}).Select("COALESCE(MAX(version), 0)").Scan(&version).Error
	return version, err
}

// AppliedMigrations возвращает журнал примененных миграций
func AppliedMigrations(db *gorm.DB) ([]models.SchemaMigration, error) {
	var list []models.SchemaMigration
	if !db.Migrator().HasTable(&models.SchemaMigration{}) {
		return list, nil
	}
	err := db.Order("version").Find(&list).Error
	return list, err
}

// rebuildCampaignSpots пересоздает таблицу роликов по текущей схеме.
// Строки переносятся только по известным колонкам и только при существующей кампании.
func rebuildCampaignSpots(tx *gorm.DB, log zerolog.Logger) error {
	if !tx.Migrator().HasTable("campaign_spots") {
		return tx.AutoMigrate(&models.CampaignSpot{})
	}

	var rows []map[string]interface{}
	if err := tx.Table("campaign_spots").Find(&rows).Error; err != nil {
		return fmt.Errorf("read campaign_spots: %w", err)
	}

	stmt := &gorm.Statement{DB: tx}
	if err := stmt.Parse(&models.CampaignSpot{}); err != nil {
		return err
	}
	known := make(map[string]bool, len(stmt.Schema.DBNames))
	for _, name := range stmt.Schema.DBNames {
		known[name] = true
	}

	var campaignIDs []string
	if err := tx.Model(&models.Campaign{}).Pluck("id", &campaignIDs).Error; err != nil {
		return fmt.Errorf("read campaigns: %w", err)
	}
	campaigns := make(map[string]bool, len(campaignIDs))
	for _, id := range campaignIDs {
		campaigns[id] = true
	}

	if err := tx.Migrator().DropTable("campaign_spots"); err != nil {
		return fmt.Errorf("drop campaign_spots: %w", err)
	}
	if err := tx.AutoMigrate(&models.CampaignSpot{}); err != nil {
		return fmt.Errorf("recreate campaign_spots: %w", err)
	}
	if err := CreatePerformanceIndexes(tx, "campaign_spots", log); err != nil {
		return err
	}

	kept, dropped := 0, 0
	for _, row := range rows {
		campaignID := fmt.Sprint(row["campaign_id"])
		if !campaigns[campaignID] {
			dropped++
			continue
		}
		clean := make(map[string]interface{}, len(row))
		for col, value := range row {
			if known[col] {
				clean[col] = value
			}
		}
		if err := tx.Table("campaign_spots").Create(clean).Error; err != nil {
			return fmt.Errorf("restore spot %v: %w", row["id"], err)
		}
		kept++
	}

	log.Warn().Int("kept", kept).Int("dropped", dropped).Msg("campaign_spots rebuilt")
	return nil
}

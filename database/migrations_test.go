package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"backend_dooh/config"
	"backend_dooh/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(config.SQLiteDSN(filepath.Join(t.TempDir(), "test.db")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestApplyPending_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	version, err := CurrentVersion(db)
	require.NoError(t, err)
	assert.Zero(t, version)

	applied, err := ApplyPending(db, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, len(Migrations), applied)

	version, err = CurrentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, Migrations[len(Migrations)-1].Version, version)

	again, err := ApplyPending(db, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, again)

	for _, table := range []string{"vehicles", "drivers", "documents", "campaigns", "campaign_spots", "driver_assignment_history"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex(&models.CampaignSpot{}, "idx_campaign_spots_order"))

	log, err := AppliedMigrations(db)
	require.NoError(t, err)
	require.Len(t, log, len(Migrations))
	assert.NotEmpty(t, log[2].DataLossNote)
	assert.Empty(t, log[0].DataLossNote)
}

func TestApplyPending_RebuildsLegacySpotsTable(t *testing.T) {
	db := openTestDB(t)
	log := zerolog.Nop()

	require.NoError(t, Migrations[0].Up(db, log))
	require.NoError(t, db.AutoMigrate(&models.SchemaMigration{}))
	for _, m := range Migrations[:2] {
		require.NoError(t, db.Create(&models.SchemaMigration{Version: m.Version, Name: m.Name, AppliedAt: time.Now()}).Error)
	}

	require.NoError(t, db.Migrator().DropTable("campaign_spots"))
	require.NoError(t, db.Exec(`CREATE TABLE campaign_spots (
		id varchar(36) PRIMARY KEY,
		campaign_id varchar(36),
		name varchar(200),
		duration_seconds integer,
		target_cities text,
		legacy_rotation text
	)`).Error)

	vehicle := &models.Vehicle{Name: "Truck", Status: models.VehicleStatusActive}
	require.NoError(t, db.Create(vehicle).Error)
	campaign := &models.Campaign{CampaignName: "Legacy", VehicleID: vehicle.ID, SharedMode: true}
	require.NoError(t, db.Create(campaign).Error)

	require.NoError(t, db.Exec(
		`INSERT INTO campaign_spots (id, campaign_id, name, duration_seconds, target_cities, legacy_rotation) VALUES
		('spot-keep', ?, 'Keep', 15, '["Cluj"]', 'weekly'),
		('spot-orphan', 'ghost', 'Orphan', 10, NULL, 'daily')`, campaign.ID).Error)

	applied, err := ApplyPending(db, log)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	assert.False(t, db.Migrator().HasColumn(&models.CampaignSpot{}, "legacy_rotation"))
	assert.True(t, db.Migrator().HasColumn(&models.CampaignSpot{}, "order_index"))

	var spots []models.CampaignSpot
	require.NoError(t, db.Find(&spots).Error)
	require.Len(t, spots, 1)
	assert.Equal(t, "spot-keep", spots[0].ID)
	assert.Equal(t, 15, spots[0].DurationSeconds)
	assert.Equal(t, []string{"Cluj"}, spots[0].TargetCities.Data())
	assert.Nil(t, spots[0].SpotPeriods.Data())
}

func TestApplyPending_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	_, err := ApplyPending(db, zerolog.Nop())
	require.NoError(t, err)

	original := Migrations
	t.Cleanup(func() { Migrations = original })
	Migrations = append(append([]Migration(nil), original...), Migration{
		Version: 99,
		Name:    "broken",
		Up: func(tx *gorm.DB, _ zerolog.Logger) error {
			return tx.Exec("ALTER TABLE missing_table ADD COLUMN x int").Error
		},
	})

	_, err = ApplyPending(db, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "99")

	version, err := CurrentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, original[len(original)-1].Version, version)
}

package services

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"backend_dooh/models"
	"backend_dooh/testutils"
)

func setupFleetServiceTest(t *testing.T) (*gorm.DB, *FleetService, *LocalFileStore) {
	db := testutils.SetupTestDB(t)
	files := NewLocalFileStore(t.TempDir(), models.MaxDocumentFileSize)
	return db, NewFleetService(db, files, zerolog.Nop()), files
}

func strPtr(s string) *string { return &s }

func openHistoryCount(t *testing.T, db *gorm.DB, driverID string) int64 {
	var count int64
	require.NoError(t, db.Model(&models.DriverAssignmentHistory{}).
		Where("driver_id = ? AND end_date IS NULL", driverID).Count(&count).Error)
	return count
}

func TestFleetService_CreateVehicleWithDriver(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	driver := testutils.CreateTestDriver(t, db, "Ion Popescu")

	vehicle, err := fs.CreateVehicle(VehicleInput{
		Name:         "Truck LED 1",
		Registration: "CJ-01-DOH",
		DriverID:     &driver.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusActive, vehicle.Status)
	require.NotNil(t, vehicle.DriverID)
	assert.Equal(t, driver.ID, *vehicle.DriverID)
	assert.Equal(t, "Ion Popescu", vehicle.DriverName)

	reloaded, err := fs.GetDriver(driver.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.AssignedVehicle)
	assert.Equal(t, vehicle.ID, *reloaded.AssignedVehicle)
	assert.Equal(t, "Truck LED 1", reloaded.AssignedVehicleName)
	assert.Equal(t, int64(1), openHistoryCount(t, db, driver.ID))
}

func TestFleetService_CreateVehicleValidation(t *testing.T) {
	_, fs, _ := setupFleetServiceTest(t)

	_, err := fs.CreateVehicle(VehicleInput{Name: "", Registration: "B-01-ABC"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = fs.CreateVehicle(VehicleInput{Name: "Van", Registration: "B-01-ABC", Status: "flying"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFleetService_ReassignDriverMovesBothSides(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	v1 := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	v2 := testutils.CreateTestVehicle(t, db, "Truck 2", "CJ-02-BBB")
	driver := testutils.CreateTestDriver(t, db, "Maria")

	_, err := fs.AssignDriver(v1.ID, &driver.ID)
	require.NoError(t, err)

	d, err := fs.AssignToVehicle(driver.ID, &v2.ID)
	require.NoError(t, err)
	require.NotNil(t, d.AssignedVehicle)
	assert.Equal(t, v2.ID, *d.AssignedVehicle)

	old, err := fs.GetVehicle(v1.ID)
	require.NoError(t, err)
	assert.Nil(t, old.DriverID)
	assert.Empty(t, old.DriverName)

	current, err := fs.GetVehicle(v2.ID)
	require.NoError(t, err)
	require.NotNil(t, current.DriverID)
	assert.Equal(t, driver.ID, *current.DriverID)

	history, err := fs.DriverHistory(driver.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), openHistoryCount(t, db, driver.ID))

	var open, closed int
	for _, h := range history {
		if h.IsOpen() {
			open++
			assert.Equal(t, v2.ID, h.VehicleID)
			assert.Equal(t, "Truck 2", h.VehicleName)
		} else {
			closed++
			assert.Equal(t, v1.ID, h.VehicleID)
		}
	}
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, closed)
}

func TestFleetService_ReplacingDriverReleasesPrevious(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	first := testutils.CreateTestDriver(t, db, "Andrei")
	second := testutils.CreateTestDriver(t, db, "Elena")

	_, err := fs.AssignDriver(vehicle.ID, &first.ID)
	require.NoError(t, err)
	v, err := fs.AssignDriver(vehicle.ID, &second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Elena", v.DriverName)

	released, err := fs.GetDriver(first.ID)
	require.NoError(t, err)
	assert.Nil(t, released.AssignedVehicle)
	assert.Empty(t, released.AssignedVehicleName)
	assert.Equal(t, int64(0), openHistoryCount(t, db, first.ID))
	assert.Equal(t, int64(1), openHistoryCount(t, db, second.ID))

	vehicleHistory, err := fs.VehicleHistory(vehicle.ID)
	require.NoError(t, err)
	assert.Len(t, vehicleHistory, 2)
}

func TestFleetService_AssignSamePairIsNoop(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	driver := testutils.CreateTestDriver(t, db, "Andrei")

	_, err := fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)
	_, err = fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)

	history, err := fs.DriverHistory(driver.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestFleetService_Unassign(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	driver := testutils.CreateTestDriver(t, db, "Andrei")

	_, err := fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)

	v, err := fs.AssignDriver(vehicle.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, v.DriverID)
	assert.Empty(t, v.DriverName)

	d, err := fs.GetDriver(driver.ID)
	require.NoError(t, err)
	assert.Nil(t, d.AssignedVehicle)
	assert.Equal(t, int64(0), openHistoryCount(t, db, driver.ID))

	history, err := fs.DriverHistory(driver.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].EndDate)
}

func TestFleetService_FailedPairingRollsBack(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	driver := testutils.CreateTestDriver(t, db, "Andrei")
	_, err := fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)

	_, err = fs.AssignDriver(vehicle.ID, strPtr("missing-driver"))
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := fs.GetVehicle(vehicle.ID)
	require.NoError(t, err)
	require.NotNil(t, v.DriverID)
	assert.Equal(t, driver.ID, *v.DriverID)
	assert.Equal(t, int64(1), openHistoryCount(t, db, driver.ID))
}

func TestFleetService_RenamePropagatesToCaches(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	driver := testutils.CreateTestDriver(t, db, "Andrei")
	_, err := fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)

	_, err = fs.UpdateVehicle(vehicle.ID, VehicleUpdate{Name: strPtr("Truck Renamed")})
	require.NoError(t, err)
	d, err := fs.GetDriver(driver.ID)
	require.NoError(t, err)
	assert.Equal(t, "Truck Renamed", d.AssignedVehicleName)

	_, err = fs.UpdateDriver(driver.ID, DriverUpdate{Name: strPtr("Andrei Ionescu")})
	require.NoError(t, err)
	v, err := fs.GetVehicle(vehicle.ID)
	require.NoError(t, err)
	assert.Equal(t, "Andrei Ionescu", v.DriverName)

	name, err := fs.ResolveDriverName(vehicle.ID)
	require.NoError(t, err)
	assert.Equal(t, "Andrei Ionescu", name)
}

func TestFleetService_ResolveDriverNameIgnoresStaleCache(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	driver := testutils.CreateTestDriver(t, db, "Andrei")
	_, err := fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Vehicle{}).Where("id = ?", vehicle.ID).Update("driver_name", "stale").Error)

	name, err := fs.ResolveDriverName(vehicle.ID)
	require.NoError(t, err)
	assert.Equal(t, "Andrei", name)

	other := testutils.CreateTestVehicle(t, db, "Truck 2", "CJ-02-BBB")
	name, err = fs.ResolveDriverName(other.ID)
	require.NoError(t, err)
	assert.Empty(t, name)

	_, err = fs.ResolveDriverName("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFleetService_DeleteAssignedDriverConflict(t *testing.T) {
	db, fs, _ := setupFleetServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	driver := testutils.CreateTestDriver(t, db, "Andrei")
	_, err := fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)

	err = fs.DeleteDriver(driver.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = fs.AssignToVehicle(driver.ID, nil)
	require.NoError(t, err)
	require.NoError(t, fs.DeleteDriver(driver.ID))

	_, err = fs.GetDriver(driver.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var history int64
	db.Model(&models.DriverAssignmentHistory{}).Where("driver_id = ?", driver.ID).Count(&history)
	assert.Zero(t, history)
}

func TestFleetService_DeleteVehicleCascades(t *testing.T) {
	db, fs, files := setupFleetServiceTest(t)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck 1", "CJ-01-AAA")
	driver := testutils.CreateTestDriver(t, db, "Andrei")
	other := testutils.CreateTestVehicle(t, db, "Truck 2", "CJ-02-BBB")
	_, err := fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)
	_, err = fs.AssignDriver(other.ID, &driver.ID)
	require.NoError(t, err)
	_, err = fs.AssignDriver(vehicle.ID, &driver.ID)
	require.NoError(t, err)

	stored, err := files.Save(models.EntityTypeVehicle, vehicle.ID, "rca.pdf", bytes.NewReader([]byte("%PDF-1.4 test")))
	require.NoError(t, err)
	doc := testutils.CreateTestDocument(t, db, models.EntityTypeVehicle, vehicle.ID, models.DocumentTypeRCA, nil)
	require.NoError(t, db.Model(doc).Update("file_path", stored.Path).Error)

	schedules := NewScheduleService(db)
	_, err = schedules.AddVehicleSchedule(vehicle.ID, ScheduleInput{StartDate: "2025-01-01", EndDate: "2025-01-03", EventType: models.ScheduleEventMaintenance})
	require.NoError(t, err)

	require.NoError(t, fs.DeleteVehicle(vehicle.ID))

	var count int64
	db.Model(&models.Document{}).Where("entity_id = ?", vehicle.ID).Count(&count)
	assert.Zero(t, count)
	db.Model(&models.VehicleSchedule{}).Where("vehicle_id = ?", vehicle.ID).Count(&count)
	assert.Zero(t, count)

	// Журнал водителя переживает автомобиль
	history, err := fs.DriverHistory(driver.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, h := range history {
		assert.NotNil(t, h.EndDate)
	}
	var names []string
	for _, h := range history {
		names = append(names, h.VehicleName)
	}
	assert.ElementsMatch(t, []string{"Truck 1", "Truck 2", "Truck 1"}, names)

	_, statErr := os.Stat(stored.Path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Dir(stored.Path))
	assert.True(t, os.IsNotExist(statErr))

	d, err := fs.GetDriver(driver.ID)
	require.NoError(t, err)
	assert.Nil(t, d.AssignedVehicle)

	err = fs.DeleteVehicle(vehicle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFleetService_ListVehiclesByStatus(t *testing.T) {
	_, fs, _ := setupFleetServiceTest(t)
	_, err := fs.CreateVehicle(VehicleInput{Name: "A", Registration: "B-1"})
	require.NoError(t, err)
	_, err = fs.CreateVehicle(VehicleInput{Name: "B", Registration: "B-2", Status: models.VehicleStatusMaintenance, StatusNote: "tyres"})
	require.NoError(t, err)

	all, err := fs.ListVehicles("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	maintenance, err := fs.ListVehicles(models.VehicleStatusMaintenance)
	require.NoError(t, err)
	require.Len(t, maintenance, 1)
	assert.Equal(t, "tyres", maintenance[0].StatusNote)
}

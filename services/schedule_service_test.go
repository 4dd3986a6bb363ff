package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend_dooh/models"
	"backend_dooh/testutils"
)

func TestScheduleService_VehicleSchedules(t *testing.T) {
	db := testutils.SetupTestDB(t)
	ss := NewScheduleService(db)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")

	later, err := ss.AddVehicleSchedule(vehicle.ID, ScheduleInput{
		StartDate: "2025-03-10", EndDate: "2025-03-12",
		EventType: models.ScheduleEventTransit, Origin: "Cluj", Destination: "Iasi",
	})
	require.NoError(t, err)
	single, err := ss.AddVehicleSchedule(vehicle.ID, ScheduleInput{StartDate: "2025-03-01"})
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleEventOther, single.EventType)
	assert.Equal(t, single.StartDate, single.EndDate)

	list, err := ss.ListVehicleSchedules(vehicle.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, single.ID, list[0].ID)

	updated, err := ss.UpdateVehicleSchedule(later.ID, ScheduleInput{StartDate: "2025-03-11", EndDate: "2025-03-11", EventType: models.ScheduleEventMaintenance})
	require.NoError(t, err)
	assert.Equal(t, later.ID, updated.ID)
	assert.Equal(t, "2025-03-11", models.FormatDate(updated.StartDate))
	assert.Equal(t, models.ScheduleEventMaintenance, updated.EventType)

	require.NoError(t, ss.DeleteVehicleSchedule(single.ID))
	assert.ErrorIs(t, ss.DeleteVehicleSchedule(single.ID), ErrNotFound)
	_, err = ss.UpdateVehicleSchedule(single.ID, ScheduleInput{StartDate: "2025-03-01"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduleService_Validation(t *testing.T) {
	db := testutils.SetupTestDB(t)
	ss := NewScheduleService(db)
	vehicle := testutils.CreateTestVehicle(t, db, "Truck", "CJ-01")
	driver := testutils.CreateTestDriver(t, db, "Andrei")

	_, err := ss.AddVehicleSchedule(vehicle.ID, ScheduleInput{StartDate: "2025-03-05", EndDate: "2025-03-01"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ss.AddVehicleSchedule(vehicle.ID, ScheduleInput{StartDate: "March 5"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ss.AddVehicleSchedule("missing", ScheduleInput{StartDate: "2025-03-05"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ss.AddDriverSchedule("", ScheduleInput{StartDate: "2025-03-05"})
	assert.ErrorIs(t, err, ErrValidation)

	leave, err := ss.AddDriverSchedule(driver.ID, ScheduleInput{StartDate: "2025-07-01", EndDate: "2025-07-14", EventType: models.ScheduleEventLeave})
	require.NoError(t, err)
	list, err := ss.ListDriverSchedules(driver.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, leave.ID, list[0].ID)

	_, err = ss.UpdateDriverSchedule(leave.ID, ScheduleInput{StartDate: "2025-07-20", EndDate: "2025-07-14"})
	assert.ErrorIs(t, err, ErrValidation)
	require.NoError(t, ss.DeleteDriverSchedule(leave.ID))
}

package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend_dooh/models"
)

func setupCityServiceTest(t *testing.T) (string, *CityService) {
	dir := t.TempDir()
	store, err := OpenCityStore(dir)
	require.NoError(t, err)
	cs := NewCityService(store, zerolog.Nop())
	cs.now = func() time.Time { return time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC) }
	return dir, cs
}

func sampleSnapshot(population int64) models.CitySnapshot {
	return models.CitySnapshot{
		Population:           population,
		County:               "Iași",
		ActivePopulationPct:  62.5,
		DailyTrafficTotal:    180000,
		DailyPedestrianTotal: 95000,
		ModalSplit:           models.ModalSplit{Auto: 45, Walking: 25, Cycling: 5, PublicTransport: 25},
		AvgCommuteDistanceKm: 7.2,
	}
}

func TestCityService_UpsertCreatesQuarterPeriod(t *testing.T) {
	dir, cs := setupCityServiceTest(t)

	record, err := cs.Upsert("Iași", sampleSnapshot(271692))
	require.NoError(t, err)
	assert.Equal(t, "2025-Q2", record.Current)
	assert.Equal(t, models.SourceManual, record.Periods["2025-Q2"].Source)
	assert.NotEmpty(t, record.Periods["2025-Q2"].LastUpdated)

	updated, err := cs.Upsert("iasi", sampleSnapshot(280000))
	require.NoError(t, err)
	assert.Equal(t, "Iași", updated.Name)
	assert.Len(t, updated.Periods, 1)

	snap, err := cs.CurrentSnapshot("IASI")
	require.NoError(t, err)
	assert.Equal(t, int64(280000), snap.Population)

	_, err = os.Stat(filepath.Join(dir, CityHistoryFile))
	assert.NoError(t, err)
}

func TestCityService_UpsertValidation(t *testing.T) {
	_, cs := setupCityServiceTest(t)

	_, err := cs.Upsert("  ", sampleSnapshot(1))
	assert.ErrorIs(t, err, ErrValidation)

	bad := sampleSnapshot(1)
	bad.ModalSplit.Auto = 90
	_, err = cs.Upsert("Cluj", bad)
	assert.ErrorIs(t, err, ErrValidation)

	bad = sampleSnapshot(-5)
	_, err = cs.Upsert("Cluj", bad)
	assert.ErrorIs(t, err, ErrValidation)

	names, err := cs.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCityService_PeriodsAndSetCurrent(t *testing.T) {
	_, cs := setupCityServiceTest(t)

	_, err := cs.AddSnapshotPeriod("Cluj-Napoca", "2024-Q4", sampleSnapshot(100), false)
	require.NoError(t, err)
	record, err := cs.AddSnapshotPeriod("Cluj-Napoca", "2025-Q1", sampleSnapshot(200), false)
	require.NoError(t, err)
	assert.Equal(t, "2024-Q4", record.Current)

	periods, err := cs.ListPeriods("cluj-napoca")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-Q4", "2025-Q1"}, periods)

	require.NoError(t, cs.SetCurrent("Cluj-Napoca", "2025-Q1"))
	snap, err := cs.CurrentSnapshot("Cluj-Napoca")
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.Population)

	assert.ErrorIs(t, cs.SetCurrent("Cluj-Napoca", "2019-Q1"), ErrNotFound)
	assert.ErrorIs(t, cs.SetCurrent("Arad", "2025-Q1"), ErrNotFound)
}

func TestCityService_DeleteRemovesPreferenceAndEvents(t *testing.T) {
	_, cs := setupCityServiceTest(t)
	events := NewSpecialEventService(cs.Store, zerolog.Nop())

	_, err := cs.Upsert("Brașov", sampleSnapshot(250000))
	require.NoError(t, err)
	_, err = cs.Upsert("Sibiu", sampleSnapshot(150000))
	require.NoError(t, err)
	require.NoError(t, cs.SetPreference("Brașov", "INS"))
	_, err = events.Create(models.SpecialEvent{City: "Brasov", Name: "Cerbul de Aur", StartDate: "2025-08-01", EndDate: "2025-08-03"})
	require.NoError(t, err)

	pref, err := cs.Preference("brasov")
	require.NoError(t, err)
	assert.Equal(t, models.PreferenceINS, pref)

	require.NoError(t, cs.Delete("brasov"))

	_, err = cs.Get("Brașov")
	assert.ErrorIs(t, err, ErrNotFound)
	prefs, err := cs.Store.Preferences.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, prefs)
	list, err := events.List("")
	require.NoError(t, err)
	assert.Empty(t, list)

	names, err := cs.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"Sibiu"}, names)

	assert.ErrorIs(t, cs.Delete("Brașov"), ErrNotFound)
}

func TestCityService_Preferences(t *testing.T) {
	_, cs := setupCityServiceTest(t)
	_, err := cs.Upsert("Oradea", sampleSnapshot(196000))
	require.NoError(t, err)

	pref, err := cs.Preference("Oradea")
	require.NoError(t, err)
	assert.Equal(t, models.PreferencePublic, pref)

	assert.ErrorIs(t, cs.SetPreference("Oradea", "satellite"), ErrValidation)
	assert.ErrorIs(t, cs.SetPreference("Nowhere", "manual"), ErrNotFound)

	require.NoError(t, cs.SetPreference("Oradea", "manual"))
	summaries, err := cs.List()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, models.PreferenceManual, summaries[0].Preference)
	assert.Equal(t, "2025-Q2", summaries[0].Current)
	assert.Equal(t, int64(196000), summaries[0].Snapshot.Population)
}

func TestCityService_ReloadPicksUpExternalEdits(t *testing.T) {
	dir, cs := setupCityServiceTest(t)
	_, err := cs.Upsert("Arad", sampleSnapshot(145000))
	require.NoError(t, err)

	external := `{"Timișoara":{"name":"Timișoara","periods":{"2025-Q1":{"population":319279,"county":"Timiș"}},"current":"2025-Q1"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, CityHistoryFile), []byte(external), 0o644))

	require.NoError(t, cs.Reload())
	names, err := cs.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"Timișoara"}, names)

	snap, err := cs.CurrentSnapshot("timisoara")
	require.NoError(t, err)
	assert.Equal(t, "Timiș", snap.County)
}

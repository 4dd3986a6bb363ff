package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TestModelsMigrate проверяет, что все таблицы создаются и хуки заполняют значения по умолчанию
func TestModelsMigrate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&Vehicle{},
		&Driver{},
		&DriverAssignmentHistory{},
		&VehicleSchedule{},
		&DriverSchedule{},
		&Document{},
		&Campaign{},
		&CampaignSpot{},
		&SchemaMigration{},
	))

	t.Run("Автомобиль получает ID и статус", func(t *testing.T) {
		v := Vehicle{Name: "Truck 1"}
		require.NoError(t, db.Create(&v).Error)
		assert.Len(t, v.ID, 36)
		assert.Equal(t, VehicleStatusActive, v.Status)
	})

	t.Run("Кампания сохраняет JSON поля и суммы", func(t *testing.T) {
		c := Campaign{
			CampaignName:   "Summer",
			CityPeriods:    datatypes.NewJSONType(CityPeriods{"Cluj": {{Start: "2025-06-01", End: "2025-06-02"}}}),
			TransitPeriods: datatypes.NewJSONType([]TransitPeriod{{VehicleID: "v1", Km: 120.5}}),
			CostPerKm:      decimal.RequireFromString("1.25"),
		}
		require.NoError(t, db.Create(&c).Error)
		assert.Equal(t, DefaultDailyHours, c.DailyHours)

		var loaded Campaign
		require.NoError(t, db.First(&loaded, "id = ?", c.ID).Error)
		assert.Equal(t, "2025-06-02", loaded.CityPeriods.Data()["Cluj"][0].End)
		assert.True(t, loaded.CostPerKm.Equal(decimal.RequireFromString("1.25")))
		assert.Equal(t, "120.5", loaded.TotalTransitKm().String())
	})
}

func TestDates(t *testing.T) {
	d, err := ParseDate(" 2025-11-03 ")
	require.NoError(t, err)
	assert.Equal(t, "2025-11-03", FormatDate(d))
	assert.Equal(t, "2025-Q4", PeriodLabel(d))
	assert.Equal(t, "2025-Q1", PeriodLabel(time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)))

	_, err = ParseDate("03.11.2025")
	assert.Error(t, err)

	from := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	to := time.Date(2025, 6, 4, 0, 10, 0, 0, time.UTC)
	assert.Equal(t, 3, DaysBetween(from, to))
	assert.Equal(t, -3, DaysBetween(to, from))
}

func TestDecodeCityPeriods(t *testing.T) {
	t.Run("Ключ __meta__ несет shared_mode", func(t *testing.T) {
		periods, shared, err := DecodeCityPeriods([]byte(`{
			"__meta__": {"shared_mode": true},
			"Iasi": [{"start": "2025-06-01", "end": "2025-06-03"}]
		}`))
		require.NoError(t, err)
		require.NotNil(t, shared)
		assert.True(t, *shared)
		assert.Len(t, periods, 1)
		assert.Equal(t, CityPeriod{Start: "2025-06-01", End: "2025-06-03"}, periods["Iasi"][0])
	})

	t.Run("Пустой ввод", func(t *testing.T) {
		periods, shared, err := DecodeCityPeriods([]byte("null"))
		require.NoError(t, err)
		assert.Nil(t, shared)
		assert.Empty(t, periods)
	})

	t.Run("Ошибки формата", func(t *testing.T) {
		_, _, err := DecodeCityPeriods([]byte(`[]`))
		assert.Error(t, err)
		_, _, err = DecodeCityPeriods([]byte(`{"Iasi": "2025-06-01"}`))
		assert.Error(t, err)
		_, _, err = DecodeCityPeriods([]byte(`{" ": []}`))
		assert.Error(t, err)
	})
}

func TestCampaignVehicleIDs(t *testing.T) {
	c := Campaign{
		VehicleID: "v1",
		AdditionalVehicles: datatypes.NewJSONType([]AdditionalVehicle{
			{VehicleID: "v2"}, {VehicleID: " v1 "}, {VehicleID: ""}, {VehicleID: "v3"},
		}),
	}
	assert.Equal(t, []string{"v1", "v2", "v3"}, c.VehicleIDs())
}

func TestCitySnapshotValidate(t *testing.T) {
	valid := CitySnapshot{Population: 300000, ActivePopulationPct: 60, ModalSplit: ModalSplit{Auto: 40, Walking: 30, PublicTransport: 30}}
	assert.NoError(t, valid.Validate())

	cases := map[string]CitySnapshot{
		"negative population": {Population: -1},
		"active over 100":     {ActivePopulationPct: 101},
		"negative share":      {ModalSplit: ModalSplit{Cycling: -5}},
		"split over 100":      {ModalSplit: ModalSplit{Auto: 60, Walking: 50}},
		"negative commute":    {AvgCommuteDistanceKm: -0.5},
	}
	for name, snapshot := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, snapshot.Validate())
		})
	}
}

func TestNormalizeCityName(t *testing.T) {
	assert.Equal(t, "iasi", NormalizeCityName(" Iași "))
	assert.Equal(t, "brasov", NormalizeCityName("Brașov"))
	assert.Equal(t, NormalizeCityName("Timisoara"), NormalizeCityName("Timișoara"))
	assert.True(t, IsValidPreference(PreferenceManual))
	assert.False(t, IsValidPreference("Manual"))
}

func TestSpecialEvent(t *testing.T) {
	e := SpecialEvent{City: " Cluj ", Name: "Untold", StartDate: "2025-08-07", EndDate: "2025-08-10"}
	e.Normalize()
	require.NoError(t, e.Validate())
	assert.Equal(t, "Cluj", e.City)
	assert.Equal(t, 1.0, e.TrafficMultiplier)
	assert.False(t, e.IsSingleDay)

	day := func(s string) time.Time {
		d, err := ParseDate(s)
		require.NoError(t, err)
		return d
	}
	assert.True(t, e.ActiveOn(day("2025-08-10")))
	assert.False(t, e.ActiveOn(day("2025-08-11")))
	assert.True(t, e.Overlaps(day("2025-08-01"), day("2025-08-07")))
	assert.False(t, e.Overlaps(day("2025-08-11"), day("2025-08-20")))

	single := SpecialEvent{City: "Iasi", Name: "Match", StartDate: "2025-09-01", EndDate: "2025-09-05", IsSingleDay: true}
	single.Normalize()
	assert.Equal(t, "2025-09-01", single.EndDate)

	bad := SpecialEvent{City: "Iasi", Name: "Fair", StartDate: "2025-09-05", EndDate: "2025-09-01", TrafficMultiplier: 1, PedestrianMultiplier: 1}
	assert.Error(t, bad.Validate())
}

func TestDocumentValidate(t *testing.T) {
	issue := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	expiry := issue.AddDate(0, 0, -1)

	doc := Document{EntityType: EntityTypeVehicle, EntityID: "v1", DocumentType: DocumentTypeRCA}
	assert.NoError(t, doc.Validate())
	assert.Equal(t, "RCA", doc.TypeLabel())

	custom := Document{EntityType: EntityTypeDriver, EntityID: "d1", DocumentType: DocumentTypeCustom}
	assert.Error(t, custom.Validate())
	custom.CustomTypeName = "Card tahograf"
	assert.NoError(t, custom.Validate())
	assert.Equal(t, "Card tahograf", custom.TypeLabel())

	reversed := Document{EntityType: EntityTypeVehicle, EntityID: "v1", DocumentType: DocumentTypeITP, IssueDate: &issue, ExpiryDate: &expiry}
	assert.Error(t, reversed.Validate())

	assert.NoError(t, ValidateDocumentFile("scan.PDF", 1024))
	assert.Error(t, ValidateDocumentFile("scan.docx", 1024))
	assert.Error(t, ValidateDocumentFile("scan.png", MaxDocumentFileSize+1))
}

func TestParseReportFormat(t *testing.T) {
	for in, want := range map[string]ReportFormat{
		"pdf":   ReportFormatPDF,
		"excel": ReportFormatExcel,
		"xlsx":  ReportFormatExcel,
		"":      ReportFormatCSV,
		"json":  ReportFormatJSON,
	} {
		got, ok := ParseReportFormat(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseReportFormat("docx")
	assert.False(t, ok)
}

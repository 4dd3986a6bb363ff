package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"backend_dooh/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CampaignService управляет кампаниями, роликами и компиляцией таймлайна
type CampaignService struct {
	DB  *gorm.DB
	log zerolog.Logger
}

// NewCampaignService создает новый экземпляр CampaignService
func NewCampaignService(db *gorm.DB, log zerolog.Logger) *CampaignService {
	return &CampaignService{
		DB:  db,
		log: log.With().Str("service", "campaigns").Logger(),
	}
}

// CampaignInput данные кампании из API или CLI.
// city_periods может содержать служебный ключ __meta__ с shared_mode.
type CampaignInput struct {
	CampaignName       string                     `json:"campaign_name"`
	ClientName         string                     `json:"client_name"`
	VehicleID          string                     `json:"vehicle_id"`
	AdditionalVehicles []models.AdditionalVehicle `json:"additional_vehicles"`
	CityPeriods        json.RawMessage            `json:"city_periods"`
	SharedMode         *bool                      `json:"shared_mode"`
	CitySchedules      models.CitySchedules       `json:"city_schedules"`
	TransitPeriods     []models.TransitPeriod     `json:"transit_periods"`
	DailyHours         string                     `json:"daily_hours"`
	DriverTimeline     json.RawMessage            `json:"driver_timeline"`
	CostPerKm          decimal.Decimal            `json:"cost_per_km"`
	FixedCosts         decimal.Decimal            `json:"fixed_costs"`
	ExpectedRevenue    decimal.Decimal            `json:"expected_revenue"`
	LoopDuration       int                        `json:"loop_duration"`
}

// CampaignUpdate изменяемые поля кампании; nil означает "не менять"
type CampaignUpdate struct {
	CampaignName       *string                     `json:"campaign_name"`
	ClientName         *string                     `json:"client_name"`
	VehicleID          *string                     `json:"vehicle_id"`
	AdditionalVehicles *[]models.AdditionalVehicle `json:"additional_vehicles"`
	CityPeriods        json.RawMessage             `json:"city_periods"`
	SharedMode         *bool                       `json:"shared_mode"`
	CitySchedules      *models.CitySchedules       `json:"city_schedules"`
	TransitPeriods     *[]models.TransitPeriod     `json:"transit_periods"`
	DailyHours         *string                     `json:"daily_hours"`
	DriverTimeline     json.RawMessage             `json:"driver_timeline"`
	CostPerKm          *decimal.Decimal            `json:"cost_per_km"`
	FixedCosts         *decimal.Decimal            `json:"fixed_costs"`
	ExpectedRevenue    *decimal.Decimal            `json:"expected_revenue"`
	LoopDuration       *int                        `json:"loop_duration"`
}

// SpotInput данные ролика
type SpotInput struct {
	Name            string               `json:"name"`
	FilePath        string               `json:"file_path"`
	FileName        string               `json:"file_name"`
	DurationSeconds int                  `json:"duration_seconds"`
	Status          string               `json:"status"`
	OrderIndex      *int                 `json:"order_index"`
	TargetCities    []string             `json:"target_cities"`
	TargetVehicles  []string             `json:"target_vehicles"`
	SpotSharedMode  *bool                `json:"spot_shared_mode"`
	SpotPeriods     models.CityPeriods   `json:"spot_periods"`
	SpotSchedules   models.CitySchedules `json:"spot_schedules"`
	StartDate       string               `json:"start_date"`
	EndDate         string               `json:"end_date"`
	HourlySchedule  map[string]bool      `json:"hourly_schedule"`
	IsActive        *bool                `json:"is_active"`
}

// CompiledTimeline скомпилированный таймлайн кампании
type CompiledTimeline struct {
	CampaignID   string               `json:"campaign_id"`
	CampaignName string               `json:"campaign_name"`
	Result       *TimelineResult      `json:"result"`
	Rows         []models.TimelineRow `json:"rows"`
	Stats        []VehicleStats       `json:"stats"`
}

// CampaignFinancials финансовая оценка кампании
type CampaignFinancials struct {
	CampaignID      string          `json:"campaign_id"`
	TransitKm       decimal.Decimal `json:"transit_km"`
	TransitCost     decimal.Decimal `json:"transit_cost"`
	FixedCosts      decimal.Decimal `json:"fixed_costs"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	ExpectedRevenue decimal.Decimal `json:"expected_revenue"`
	Profit          decimal.Decimal `json:"profit"`
	MarginPct       decimal.Decimal `json:"margin_pct"`
}

// ===================== Кампании =====================

// Create создает кампанию после проверки автомобилей и дат
func (cs *CampaignService) Create(input CampaignInput) (*models.Campaign, error) {
	periods, metaShared, err := models.DecodeCityPeriods(input.CityPeriods)
	if err != nil {
		return nil, validationError(err)
	}

	shared := true
	if metaShared != nil {
		shared = *metaShared
	}
	if input.SharedMode != nil {
		shared = *input.SharedMode
	}

	campaign := &models.Campaign{
		CampaignName:       strings.TrimSpace(input.CampaignName),
		ClientName:         strings.TrimSpace(input.ClientName),
		VehicleID:          strings.TrimSpace(input.VehicleID),
		AdditionalVehicles: datatypes.NewJSONType(input.AdditionalVehicles),
		CityPeriods:        datatypes.NewJSONType(periods),
		SharedMode:         shared,
		CitySchedules:      datatypes.NewJSONType(input.CitySchedules),
		TransitPeriods:     datatypes.NewJSONType(input.TransitPeriods),
		DailyHours:         strings.TrimSpace(input.DailyHours),
		DriverTimeline:     datatypes.JSON(input.DriverTimeline),
		CostPerKm:          input.CostPerKm,
		FixedCosts:         input.FixedCosts,
		ExpectedRevenue:    input.ExpectedRevenue,
		LoopDuration:       input.LoopDuration,
	}
	if campaign.DailyHours == "" {
		campaign.DailyHours = models.DefaultDailyHours
	}

	if err := cs.validate(cs.DB, campaign, nil); err != nil {
		return nil, err
	}
	if err := cs.DB.Create(campaign).Error; err != nil {
		return nil, storageError("create campaign", err)
	}

	cs.log.Info().Str("campaign_id", campaign.ID).Str("name", campaign.CampaignName).Msg("campaign created")
	return campaign, nil
}

// Get возвращает кампанию; withSpots подгружает ролики в порядке показа
func (cs *CampaignService) Get(id string, withSpots bool) (*models.Campaign, error) {
	query := cs.DB
	if withSpots {
		query = query.Preload("Spots", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index, created_at")
		})
	}
	var campaign models.Campaign
	if err := query.First(&campaign, "id = ?", id).Error; err != nil {
		return nil, lookupError("campaign", id, err)
	}
	return &campaign, nil
}

// List возвращает кампании, опционально по клиенту
func (cs *CampaignService) List(clientName string) ([]models.Campaign, error) {
	query := cs.DB.Order("created_at DESC")
	if clientName != "" {
		query = query.Where("client_name = ?", clientName)
	}
	var campaigns []models.Campaign
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, storageError("list campaigns", err)
	}
	return campaigns, nil
}

// Update изменяет кампанию; любое сохранение обновляет last_modified
func (cs *CampaignService) Update(id string, update CampaignUpdate) (*models.Campaign, error) {
	err := cs.DB.Transaction(func(tx *gorm.DB) error {
		var campaign models.Campaign
		if err := tx.First(&campaign, "id = ?", id).Error; err != nil {
			return lookupError("campaign", id, err)
		}
		previous := campaign.VehicleIDs()

		if update.CampaignName != nil {
			campaign.CampaignName = strings.TrimSpace(*update.CampaignName)
		}
		if update.ClientName != nil {
			campaign.ClientName = strings.TrimSpace(*update.ClientName)
		}
		if update.VehicleID != nil {
			campaign.VehicleID = strings.TrimSpace(*update.VehicleID)
		}
		if update.AdditionalVehicles != nil {
			campaign.AdditionalVehicles = datatypes.NewJSONType(*update.AdditionalVehicles)
		}
		if len(update.CityPeriods) > 0 {
			periods, metaShared, err := models.DecodeCityPeriods(update.CityPeriods)
			if err != nil {
				return validationError(err)
			}
			campaign.CityPeriods = datatypes.NewJSONType(periods)
			if metaShared != nil {
				campaign.SharedMode = *metaShared
			}
		}
		if update.SharedMode != nil {
			campaign.SharedMode = *update.SharedMode
		}
		if update.CitySchedules != nil {
			campaign.CitySchedules = datatypes.NewJSONType(*update.CitySchedules)
		}
		if update.TransitPeriods != nil {
			campaign.TransitPeriods = datatypes.NewJSONType(*update.TransitPeriods)
		}
		if update.DailyHours != nil {
			campaign.DailyHours = strings.TrimSpace(*update.DailyHours)
			if campaign.DailyHours == "" {
				campaign.DailyHours = models.DefaultDailyHours
			}
		}
		if len(update.DriverTimeline) > 0 {
			campaign.DriverTimeline = datatypes.JSON(update.DriverTimeline)
		}
		if update.CostPerKm != nil {
			campaign.CostPerKm = *update.CostPerKm
		}
		if update.FixedCosts != nil {
			campaign.FixedCosts = *update.FixedCosts
		}
		if update.ExpectedRevenue != nil {
			campaign.ExpectedRevenue = *update.ExpectedRevenue
		}
		if update.LoopDuration != nil {
			campaign.LoopDuration = *update.LoopDuration
		}

		if err := cs.validate(tx, &campaign, previous); err != nil {
			return err
		}
		if err := tx.Omit("Spots").Save(&campaign).Error; err != nil {
			return storageError("update campaign", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cs.Get(id, false)
}

// Delete удаляет кампанию вместе со всеми роликами
func (cs *CampaignService) Delete(id string) error {
	err := cs.DB.Transaction(func(tx *gorm.DB) error {
		var campaign models.Campaign
		if err := tx.First(&campaign, "id = ?", id).Error; err != nil {
			return lookupError("campaign", id, err)
		}
		if err := tx.Where("campaign_id = ?", id).Delete(&models.CampaignSpot{}).Error; err != nil {
			return storageError("delete campaign spots", err)
		}
		if err := tx.Delete(&campaign).Error; err != nil {
			return storageError("delete campaign", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	cs.log.Info().Str("campaign_id", id).Msg("campaign deleted")
	return nil
}

// ===================== Таймлайн =====================

// CompileTimeline строит таймлайн кампании с отображаемыми именами автомобилей
func (cs *CampaignService) CompileTimeline(id string) (*CompiledTimeline, error) {
	campaign, err := cs.Get(id, false)
	if err != nil {
		return nil, err
	}

	result, err := BuildTimeline(TimelineInputFromCampaign(campaign))
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		cs.log.Warn().Str("campaign_id", id).Msg(w)
	}

	displays, err := cs.vehicleDisplayNames(campaign.VehicleIDs())
	if err != nil {
		return nil, err
	}

	return &CompiledTimeline{
		CampaignID:   campaign.ID,
		CampaignName: campaign.CampaignName,
		Result:       result,
		Rows:         result.Rows(func(vid string) string { return displays[vid] }),
		Stats:        result.Stats(),
	}, nil
}

// StoreTimeline компилирует таймлайн и сохраняет строки в vehicle_timeline
func (cs *CampaignService) StoreTimeline(id string) (*CompiledTimeline, error) {
	compiled, err := cs.CompileTimeline(id)
	if err != nil {
		return nil, err
	}
	err = cs.DB.Model(&models.Campaign{}).Where("id = ?", id).
		Update("vehicle_timeline", datatypes.NewJSONType(compiled.Rows)).Error
	if err != nil {
		return nil, storageError("store vehicle timeline", err)
	}
	return compiled, nil
}

// Financials считает стоимость переездов и ожидаемую прибыль
func (cs *CampaignService) Financials(id string) (*CampaignFinancials, error) {
	campaign, err := cs.Get(id, false)
	if err != nil {
		return nil, err
	}
	return ComputeFinancials(campaign), nil
}

// ComputeFinancials: стоимость = км переездов * цена за км + постоянные расходы
func ComputeFinancials(c *models.Campaign) *CampaignFinancials {
	km := c.TotalTransitKm()
	transitCost := km.Mul(c.CostPerKm).Round(2)
	total := transitCost.Add(c.FixedCosts)
	profit := c.ExpectedRevenue.Sub(total)

	margin := decimal.Zero
	if c.ExpectedRevenue.IsPositive() {
		margin = profit.Div(c.ExpectedRevenue).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return &CampaignFinancials{
		CampaignID:      c.ID,
		TransitKm:       km,
		TransitCost:     transitCost,
		FixedCosts:      c.FixedCosts,
		TotalCost:       total,
		ExpectedRevenue: c.ExpectedRevenue,
		Profit:          profit,
		MarginPct:       margin,
	}
}

// ===================== Ролики =====================

// AddSpot добавляет ролик в конец очереди кампании
func (cs *CampaignService) AddSpot(campaignID string, input SpotInput) (*models.CampaignSpot, error) {
	spot := &models.CampaignSpot{CampaignID: campaignID}
	applySpotInput(spot, input)
	if err := spot.Validate(); err != nil {
		return nil, validationError(err)
	}

	err := cs.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Campaign{}).Where("id = ?", campaignID).Count(&count).Error; err != nil {
			return storageError("check campaign", err)
		}
		if count == 0 {
			return notFound("campaign", campaignID)
		}
		if input.OrderIndex == nil {
			var maxIndex int
			err := tx.Model(&models.CampaignSpot{}).Where("campaign_id = ?", campaignID).
				Select("COALESCE(MAX(order_index), -1)").Row().Scan(&maxIndex)
			if err != nil {
				return storageError("next spot order", err)
			}
			spot.OrderIndex = maxIndex + 1
		}
		if err := tx.Create(spot).Error; err != nil {
			return storageError("create spot", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spot, nil
}

// UpdateSpot заменяет данные ролика
func (cs *CampaignService) UpdateSpot(spotID string, input SpotInput) (*models.CampaignSpot, error) {
	var spot models.CampaignSpot
	if err := cs.DB.First(&spot, "id = ?", spotID).Error; err != nil {
		return nil, lookupError("spot", spotID, err)
	}
	applySpotInput(&spot, input)
	if err := spot.Validate(); err != nil {
		return nil, validationError(err)
	}
	if err := cs.DB.Save(&spot).Error; err != nil {
		return nil, storageError("update spot", err)
	}
	return &spot, nil
}

// DeleteSpot удаляет ролик
func (cs *CampaignService) DeleteSpot(spotID string) error {
	res := cs.DB.Where("id = ?", spotID).Delete(&models.CampaignSpot{})
	if res.Error != nil {
		return storageError("delete spot", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("spot", spotID)
	}
	return nil
}

// ListSpots возвращает ролики кампании в порядке показа
func (cs *CampaignService) ListSpots(campaignID string) ([]models.CampaignSpot, error) {
	var spots []models.CampaignSpot
	err := cs.DB.Where("campaign_id = ?", campaignID).Order("order_index, created_at").Find(&spots).Error
	if err != nil {
		return nil, storageError("list spots", err)
	}
	return spots, nil
}

// ReorderSpots задает порядок роликов; список должен содержать все ролики кампании ровно один раз
func (cs *CampaignService) ReorderSpots(campaignID string, orderedIDs []string) ([]models.CampaignSpot, error) {
	err := cs.DB.Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&models.CampaignSpot{}).Where("campaign_id = ?", campaignID).Pluck("id", &existing).Error; err != nil {
			return storageError("load spots", err)
		}
		if len(existing) != len(orderedIDs) {
			return validationError(fmt.Errorf("expected %d spot ids, got %d", len(existing), len(orderedIDs)))
		}
		owned := make(map[string]bool, len(existing))
		for _, id := range existing {
			owned[id] = true
		}
		seen := make(map[string]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			if !owned[id] || seen[id] {
				return validationError(fmt.Errorf("spot %s is unknown or repeated", id))
			}
			seen[id] = true
		}
		for i, id := range orderedIDs {
			if err := tx.Model(&models.CampaignSpot{}).Where("id = ?", id).Update("order_index", i).Error; err != nil {
				return storageError("reorder spots", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cs.ListSpots(campaignID)
}

// ===================== Внутренние операции =====================

// validate проверяет ссылки на автомобили и формат дат кампании
func (cs *CampaignService) validate(db *gorm.DB, c *models.Campaign, previous []string) error {
	if c.CampaignName == "" {
		return validationError(errors.New("campaign_name is required"))
	}
	if c.VehicleID == "" {
		return validationError(errors.New("vehicle_id is required"))
	}
	if c.LoopDuration < 0 {
		return validationError(errors.New("loop_duration must not be negative"))
	}
	if c.CostPerKm.IsNegative() || c.FixedCosts.IsNegative() || c.ExpectedRevenue.IsNegative() {
		return validationError(errors.New("financial values must not be negative"))
	}

	// удаленные позже автомобили кампании не мешают ее редактировать
	ids := c.VehicleIDs()
	kept := make(map[string]bool, len(previous))
	for _, id := range previous {
		kept[id] = true
	}
	var added []string
	for _, id := range ids {
		if !kept[id] {
			added = append(added, id)
		}
	}
	if len(added) > 0 {
		var found []string
		if err := db.Model(&models.Vehicle{}).Where("id IN ?", added).Pluck("id", &found).Error; err != nil {
			return storageError("check campaign vehicles", err)
		}
		present := make(map[string]bool, len(found))
		for _, id := range found {
			present[id] = true
		}
		for _, id := range added {
			if !present[id] {
				return notFound("vehicle", id)
			}
		}
	}

	for city, periods := range c.CityPeriods.Data() {
		for i, p := range periods {
			start, err := models.ParseDate(p.Start)
			if err != nil {
				return validationError(fmt.Errorf("city_periods[%s][%d].start: %v", city, i, err))
			}
			end, err := models.ParseDate(p.End)
			if err != nil {
				return validationError(fmt.Errorf("city_periods[%s][%d].end: %v", city, i, err))
			}
			if start.After(end) {
				return validationError(fmt.Errorf("city_periods[%s][%d]: start after end", city, i))
			}
		}
	}
	for city, days := range c.CitySchedules.Data() {
		for day := range days {
			if _, err := models.ParseDate(day); err != nil {
				return validationError(fmt.Errorf("city_schedules[%s]: %v", city, err))
			}
		}
	}

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	for i, tp := range c.TransitPeriods.Data() {
		if !known[tp.VehicleID] {
			return validationError(fmt.Errorf("transit_periods[%d]: vehicle %q is not part of the campaign", i, tp.VehicleID))
		}
		if _, err := models.ParseDate(tp.Start); err != nil {
			return validationError(fmt.Errorf("transit_periods[%d].start: %v", i, err))
		}
		if tp.End != "" {
			if _, err := models.ParseDate(tp.End); err != nil {
				return validationError(fmt.Errorf("transit_periods[%d].end: %v", i, err))
			}
		}
		if tp.Km < 0 {
			return validationError(fmt.Errorf("transit_periods[%d].km must not be negative", i))
		}
	}
	return nil
}

// vehicleDisplayNames возвращает "name (registration)" для известных автомобилей
func (cs *CampaignService) vehicleDisplayNames(ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var vehicles []models.Vehicle
	if err := cs.DB.Where("id IN ?", ids).Find(&vehicles).Error; err != nil {
		return nil, storageError("load campaign vehicles", err)
	}
	for _, v := range vehicles {
		names[v.ID] = v.Display()
	}
	return names, nil
}

func applySpotInput(spot *models.CampaignSpot, input SpotInput) {
	spot.Name = strings.TrimSpace(input.Name)
	spot.FilePath = input.FilePath
	spot.FileName = input.FileName
	spot.DurationSeconds = input.DurationSeconds
	if spot.DurationSeconds == 0 {
		spot.DurationSeconds = 10
	}
	spot.Status = input.Status
	if spot.Status == "" {
		spot.Status = "OK"
	}
	if input.OrderIndex != nil {
		spot.OrderIndex = *input.OrderIndex
	}

	cities := append([]string(nil), input.TargetCities...)
	sort.Strings(cities)
	spot.TargetCities = datatypes.NewJSONType(cities)
	spot.TargetVehicles = datatypes.NewJSONType(input.TargetVehicles)

	spot.SpotSharedMode = true
	if input.SpotSharedMode != nil {
		spot.SpotSharedMode = *input.SpotSharedMode
	}
	spot.SpotPeriods = datatypes.NewJSONType(input.SpotPeriods)
	spot.SpotSchedules = datatypes.NewJSONType(input.SpotSchedules)
	spot.StartDate = strings.TrimSpace(input.StartDate)
	spot.EndDate = strings.TrimSpace(input.EndDate)
	spot.HourlySchedule = datatypes.NewJSONType(input.HourlySchedule)
	spot.IsActive = true
	if input.IsActive != nil {
		spot.IsActive = *input.IsActive
	}
}

package services

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"backend_dooh/database"
	"backend_dooh/models"

	"github.com/rs/zerolog"
)

// Имена JSON side-файлов в каталоге данных
const (
	CityHistoryFile     = "city_data_history.json"
	SpecialEventsFile   = "special_events.json"
	CityPreferencesFile = "city_update_preferences.json"
)

type (
	cityHistory     = map[string]models.CityRecord
	eventsByCity    = map[string][]models.SpecialEvent
	cityPreferences = map[string]models.UpdatePreference
)

// CityStore три side-файла городских данных
type CityStore struct {
	Cities      *database.JSONFile[cityHistory]
	Events      *database.JSONFile[eventsByCity]
	Preferences *database.JSONFile[cityPreferences]
}

// OpenCityStore открывает side-файлы в каталоге dataDir
func OpenCityStore(dataDir string) (*CityStore, error) {
	cities, err := database.OpenJSONFile(filepath.Join(dataDir, CityHistoryFile), func() cityHistory { return cityHistory{} })
	if err != nil {
		return nil, storageError("open city history", err)
	}
	events, err := database.OpenJSONFile(filepath.Join(dataDir, SpecialEventsFile), func() eventsByCity { return eventsByCity{} })
	if err != nil {
		return nil, storageError("open special events", err)
	}
	prefs, err := database.OpenJSONFile(filepath.Join(dataDir, CityPreferencesFile), func() cityPreferences { return cityPreferences{} })
	if err != nil {
		return nil, storageError("open city preferences", err)
	}
	return &CityStore{Cities: cities, Events: events, Preferences: prefs}, nil
}

// Reload перечитывает все side-файлы с диска
func (s *CityStore) Reload() error {
	if err := s.Cities.Reload(); err != nil {
		return storageError("reload city history", err)
	}
	if err := s.Events.Reload(); err != nil {
		return storageError("reload special events", err)
	}
	if err := s.Preferences.Reload(); err != nil {
		return storageError("reload city preferences", err)
	}
	return nil
}

// CityService управляет демографическими срезами городов
type CityService struct {
	Store *CityStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewCityService создает новый экземпляр CityService
func NewCityService(store *CityStore, log zerolog.Logger) *CityService {
	return &CityService{
		Store: store,
		log:   log.With().Str("service", "cities").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CitySummary город с текущим срезом для списка
type CitySummary struct {
	Name       string              `json:"name"`
	Current    string              `json:"current"`
	Periods    []string            `json:"periods"`
	Snapshot   models.CitySnapshot `json:"snapshot"`
	Preference string              `json:"update_preference"`
}

// Upsert записывает срез в текущий период города; новый город получает период текущего квартала
func (cs *CityService) Upsert(name string, snapshot models.CitySnapshot) (*models.CityRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError(errors.New("city name is required"))
	}
	if err := snapshot.Validate(); err != nil {
		return nil, validationError(err)
	}

	var result models.CityRecord
	err := cs.Store.Cities.Update(func(data *cityHistory) error {
		key, ok := findCityKey(*data, name)
		if !ok {
			key = name
		}
		record := (*data)[key]
		record.Name = key
		if record.Periods == nil {
			record.Periods = make(map[string]models.CitySnapshot)
		}
		if record.Current == "" {
			record.Current = models.PeriodLabel(cs.now())
		}
		if snapshot.LastUpdated == "" {
			snapshot.LastUpdated = cs.now().Format(time.RFC3339)
		}
		if snapshot.Source == "" {
			snapshot.Source = models.SourceManual
		}
		record.Periods[record.Current] = snapshot
		(*data)[key] = record
		result = record
		return nil
	})
	if err != nil {
		return nil, passThrough("save city", err)
	}
	cs.log.Info().Str("city", result.Name).Str("period", result.Current).Msg("city snapshot saved")
	return &result, nil
}

// AddSnapshotPeriod добавляет или заменяет срез периода; makeCurrent переносит указатель current
func (cs *CityService) AddSnapshotPeriod(name, label string, snapshot models.CitySnapshot, makeCurrent bool) (*models.CityRecord, error) {
	name = strings.TrimSpace(name)
	label = strings.TrimSpace(label)
	if name == "" || label == "" {
		return nil, validationError(errors.New("city name and period label are required"))
	}
	if err := snapshot.Validate(); err != nil {
		return nil, validationError(err)
	}

	var result models.CityRecord
	err := cs.Store.Cities.Update(func(data *cityHistory) error {
		key, ok := findCityKey(*data, name)
		if !ok {
			key = name
		}
		record := (*data)[key]
		record.Name = key
		if record.Periods == nil {
			record.Periods = make(map[string]models.CitySnapshot)
		}
		if snapshot.LastUpdated == "" {
			snapshot.LastUpdated = cs.now().Format(time.RFC3339)
		}
		record.Periods[label] = snapshot
		if makeCurrent || record.Current == "" {
			record.Current = label
		}
		(*data)[key] = record
		result = record
		return nil
	})
	if err != nil {
		return nil, passThrough("save city period", err)
	}
	return &result, nil
}

// Get возвращает все срезы города
func (cs *CityService) Get(name string) (*models.CityRecord, error) {
	data, err := cs.Store.Cities.Snapshot()
	if err != nil {
		return nil, storageError("read city history", err)
	}
	key, ok := findCityKey(data, name)
	if !ok {
		return nil, notFound("city", name)
	}
	record := data[key]
	return &record, nil
}

// CurrentSnapshot возвращает текущий срез города
func (cs *CityService) CurrentSnapshot(name string) (models.CitySnapshot, error) {
	record, err := cs.Get(name)
	if err != nil {
		return models.CitySnapshot{}, err
	}
	snap, ok := record.CurrentSnapshot()
	if !ok {
		return models.CitySnapshot{}, fmt.Errorf("%w: city %s has no current snapshot", ErrNotFound, name)
	}
	return snap, nil
}

// ListPeriods возвращает метки периодов города по возрастанию
func (cs *CityService) ListPeriods(name string) ([]string, error) {
	record, err := cs.Get(name)
	if err != nil {
		return nil, err
	}
	return sortedPeriods(record), nil
}

// SetCurrent переносит указатель current на существующий период
func (cs *CityService) SetCurrent(name, label string) error {
	return passThrough("set current period", cs.Store.Cities.Update(func(data *cityHistory) error {
		key, ok := findCityKey(*data, name)
		if !ok {
			return notFound("city", name)
		}
		record := (*data)[key]
		if _, ok := record.Periods[label]; !ok {
			return notFound("city period", name+"/"+label)
		}
		record.Current = label
		(*data)[key] = record
		return nil
	}))
}

// Delete удаляет город вместе с его предпочтением и событиями
func (cs *CityService) Delete(name string) error {
	var key string
	err := cs.Store.Cities.Update(func(data *cityHistory) error {
		k, ok := findCityKey(*data, name)
		if !ok {
			return notFound("city", name)
		}
		key = k
		delete(*data, k)
		return nil
	})
	if err != nil {
		return passThrough("delete city", err)
	}

	err = cs.Store.Preferences.Update(func(data *cityPreferences) error {
		if k, ok := findCityKey(*data, key); ok {
			delete(*data, k)
		}
		return nil
	})
	if err != nil {
		return storageError("delete city preference", err)
	}
	err = cs.Store.Events.Update(func(data *eventsByCity) error {
		if k, ok := findCityKey(*data, key); ok {
			delete(*data, k)
		}
		return nil
	})
	if err != nil {
		return storageError("delete city events", err)
	}

	cs.log.Info().Str("city", key).Msg("city deleted")
	return nil
}

// List возвращает города по алфавиту с текущими срезами
func (cs *CityService) List() ([]CitySummary, error) {
	data, err := cs.Store.Cities.Snapshot()
	if err != nil {
		return nil, storageError("read city history", err)
	}
	prefs, err := cs.Store.Preferences.Snapshot()
	if err != nil {
		return nil, storageError("read city preferences", err)
	}

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]CitySummary, 0, len(names))
	for _, name := range names {
		record := data[name]
		snap, _ := record.CurrentSnapshot()
		pref := models.PreferencePublic
		if k, ok := findCityKey(prefs, name); ok {
			pref = prefs[k].Preference
		}
		result = append(result, CitySummary{
			Name:       name,
			Current:    record.Current,
			Periods:    sortedPeriods(&record),
			Snapshot:   snap,
			Preference: pref,
		})
	}
	return result, nil
}

// Names возвращает названия всех городов
func (cs *CityService) Names() ([]string, error) {
	data, err := cs.Store.Cities.Snapshot()
	if err != nil {
		return nil, storageError("read city history", err)
	}
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Preference возвращает предпочтение источника; по умолчанию public
func (cs *CityService) Preference(name string) (string, error) {
	prefs, err := cs.Store.Preferences.Snapshot()
	if err != nil {
		return "", storageError("read city preferences", err)
	}
	if k, ok := findCityKey(prefs, name); ok && models.IsValidPreference(prefs[k].Preference) {
		return prefs[k].Preference, nil
	}
	return models.PreferencePublic, nil
}

// SetPreference сохраняет предпочтение источника обновления
func (cs *CityService) SetPreference(name, preference string) error {
	preference = strings.ToLower(strings.TrimSpace(preference))
	if !models.IsValidPreference(preference) {
		return validationError(fmt.Errorf("unknown update preference %q", preference))
	}
	if _, err := cs.Get(name); err != nil {
		return err
	}
	return passThrough("save city preference", cs.Store.Preferences.Update(func(data *cityPreferences) error {
		key, ok := findCityKey(*data, name)
		if !ok {
			key = strings.TrimSpace(name)
		}
		(*data)[key] = models.UpdatePreference{Preference: preference, UpdatedAt: cs.now()}
		return nil
	}))
}

// Reload перечитывает городские side-файлы
func (cs *CityService) Reload() error {
	return cs.Store.Reload()
}

// applyCandidate записывает срез как новый период метки label и делает его текущим
func (cs *CityService) applyCandidate(name string, candidate models.CitySnapshot) (string, error) {
	label := models.PeriodLabel(cs.now())
	if candidate.LastUpdated == "" {
		candidate.LastUpdated = cs.now().Format(time.RFC3339)
	}
	if _, err := cs.AddSnapshotPeriod(name, label, candidate, true); err != nil {
		return "", err
	}
	return label, nil
}

// findCityKey ищет ключ города: точное совпадение, затем без учета регистра и диакритики
func findCityKey[V any](data map[string]V, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if _, ok := data[name]; ok {
		return name, true
	}
	want := models.NormalizeCityName(name)
	for key := range data {
		if models.NormalizeCityName(key) == want {
			return key, true
		}
	}
	return "", false
}

func sortedPeriods(record *models.CityRecord) []string {
	labels := make([]string, 0, len(record.Periods))
	for label := range record.Periods {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

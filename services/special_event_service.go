package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"backend_dooh/models"

	"github.com/rs/zerolog"
)

// SpecialEventService управляет событиями городов; ключ события (город, дата начала)
type SpecialEventService struct {
	Store *CityStore
	log   zerolog.Logger
}

// NewSpecialEventService создает новый экземпляр SpecialEventService
func NewSpecialEventService(store *CityStore, log zerolog.Logger) *SpecialEventService {
	return &SpecialEventService{
		Store: store,
		log:   log.With().Str("service", "special_events").Logger(),
	}
}

// EventMultipliers множители трафика на дату или диапазон
type EventMultipliers struct {
	Traffic    float64               `json:"traffic"`
	Pedestrian float64               `json:"pedestrian"`
	Events     []models.SpecialEvent `json:"events"`
}

// Create добавляет событие; Conflict если у города уже есть событие с той же датой начала
func (es *SpecialEventService) Create(event models.SpecialEvent) (*models.SpecialEvent, error) {
	event.Normalize()
	if err := event.Validate(); err != nil {
		return nil, validationError(err)
	}

	err := es.Store.Events.Update(func(data *eventsByCity) error {
		key, ok := findCityKey(*data, event.City)
		if !ok {
			key = event.City
		}
		for _, existing := range (*data)[key] {
			if existing.StartDate == event.StartDate {
				return fmt.Errorf("%w: event %s/%s already exists", ErrConflict, key, event.StartDate)
			}
		}
		event.City = key
		(*data)[key] = sortEvents(append((*data)[key], event))
		return nil
	})
	if err != nil {
		return nil, passThrough("create special event", err)
	}
	es.log.Info().Str("city", event.City).Str("start", event.StartDate).Str("name", event.Name).Msg("special event created")
	return &event, nil
}

// Get возвращает событие по ключу
func (es *SpecialEventService) Get(city, startDate string) (*models.SpecialEvent, error) {
	data, err := es.Store.Events.Snapshot()
	if err != nil {
		return nil, storageError("read special events", err)
	}
	key, ok := findCityKey(data, city)
	if ok {
		for _, e := range data[key] {
			if e.StartDate == startDate {
				return &e, nil
			}
		}
	}
	return nil, notFound("special event", city+"/"+startDate)
}

// Update заменяет событие с ключом (city, startDate); смена города или даты начала меняет ключ
func (es *SpecialEventService) Update(city, startDate string, event models.SpecialEvent) (*models.SpecialEvent, error) {
	if strings.TrimSpace(event.City) == "" {
		event.City = city
	}
	event.Normalize()
	if err := event.Validate(); err != nil {
		return nil, validationError(err)
	}

	err := es.Store.Events.Update(func(data *eventsByCity) error {
		oldKey, ok := findCityKey(*data, city)
		if !ok {
			return notFound("special event", city+"/"+startDate)
		}
		idx := -1
		for i, e := range (*data)[oldKey] {
			if e.StartDate == startDate {
				idx = i
				break
			}
		}
		if idx < 0 {
			return notFound("special event", city+"/"+startDate)
		}

		newKey, ok := findCityKey(*data, event.City)
		if !ok {
			newKey = event.City
		}
		for i, e := range (*data)[newKey] {
			if newKey == oldKey && i == idx {
				continue
			}
			if e.StartDate == event.StartDate {
				return fmt.Errorf("%w: event %s/%s already exists", ErrConflict, newKey, event.StartDate)
			}
		}

		remaining := append([]models.SpecialEvent(nil), (*data)[oldKey][:idx]...)
		remaining = append(remaining, (*data)[oldKey][idx+1:]...)
		if len(remaining) == 0 {
			delete(*data, oldKey)
		} else {
			(*data)[oldKey] = remaining
		}

		event.City = newKey
		(*data)[newKey] = sortEvents(append((*data)[newKey], event))
		return nil
	})
	if err != nil {
		return nil, passThrough("update special event", err)
	}
	return &event, nil
}

// Delete удаляет событие
func (es *SpecialEventService) Delete(city, startDate string) error {
	return passThrough("delete special event", es.Store.Events.Update(func(data *eventsByCity) error {
		key, ok := findCityKey(*data, city)
		if !ok {
			return notFound("special event", city+"/"+startDate)
		}
		events := (*data)[key]
		for i, e := range events {
			if e.StartDate != startDate {
				continue
			}
			events = append(events[:i], events[i+1:]...)
			if len(events) == 0 {
				delete(*data, key)
			} else {
				(*data)[key] = events
			}
			return nil
		}
		return notFound("special event", city+"/"+startDate)
	}))
}

// List возвращает события города по дате начала; пустой city означает все города
func (es *SpecialEventService) List(city string) ([]models.SpecialEvent, error) {
	data, err := es.Store.Events.Snapshot()
	if err != nil {
		return nil, storageError("read special events", err)
	}
	if city != "" {
		key, ok := findCityKey(data, city)
		if !ok {
			return []models.SpecialEvent{}, nil
		}
		return data[key], nil
	}

	cities := make([]string, 0, len(data))
	for c := range data {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	var all []models.SpecialEvent
	for _, c := range cities {
		all = append(all, data[c]...)
	}
	return all, nil
}

// ActiveOn возвращает события города, идущие в указанный день
func (es *SpecialEventService) ActiveOn(city string, day time.Time) ([]models.SpecialEvent, error) {
	return es.EventsInRange(city, day, day)
}

// EventsInRange возвращает события города, пересекающиеся с диапазоном дат
func (es *SpecialEventService) EventsInRange(city string, from, to time.Time) ([]models.SpecialEvent, error) {
	events, err := es.List(city)
	if err != nil {
		return nil, err
	}
	var result []models.SpecialEvent
	for _, e := range events {
		if e.Overlaps(from, to) {
			result = append(result, e)
		}
	}
	return result, nil
}

// Multipliers возвращает максимальные множители среди событий диапазона; без событий 1.0
func (es *SpecialEventService) Multipliers(city string, from, to time.Time) (*EventMultipliers, error) {
	events, err := es.EventsInRange(city, from, to)
	if err != nil {
		return nil, err
	}
	return CombineMultipliers(events), nil
}

// CombineMultipliers берет максимум множителей по событиям
func CombineMultipliers(events []models.SpecialEvent) *EventMultipliers {
	m := &EventMultipliers{Traffic: 1.0, Pedestrian: 1.0, Events: events}
	for _, e := range events {
		if e.TrafficMultiplier > m.Traffic {
			m.Traffic = e.TrafficMultiplier
		}
		if e.PedestrianMultiplier > m.Pedestrian {
			m.Pedestrian = e.PedestrianMultiplier
		}
	}
	return m
}

func sortEvents(events []models.SpecialEvent) []models.SpecialEvent {
	sort.SliceStable(events, func(i, j int) bool { return events[i].StartDate < events[j].StartDate })
	return events
}

package api

import (
	"net/http"
	"time"

	"backend_dooh/models"
	"backend_dooh/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// EventsAPI предоставляет API специальных событий городов
type EventsAPI struct {
	events *services.SpecialEventService
	log    zerolog.Logger
}

// NewEventsAPI создает новый экземпляр EventsAPI
func NewEventsAPI(events *services.SpecialEventService, log zerolog.Logger) *EventsAPI {
	return &EventsAPI{
		events: events,
		log:    log.With().Str("api", "events").Logger(),
	}
}

// RegisterRoutes регистрирует маршруты событий; событие адресуется парой город и дата начала
func (ea *EventsAPI) RegisterRoutes(router *gin.RouterGroup) {
	events := router.Group("/events")
	{
		events.GET("", ea.GetEvents)
		events.POST("", ea.CreateEvent)
		events.GET("/multipliers", ea.GetMultipliers)
		events.GET("/:city/:date", ea.GetEvent)
		events.PUT("/:city/:date", ea.UpdateEvent)
		events.DELETE("/:city/:date", ea.DeleteEvent)
	}
}

// GetEvents возвращает события; from и to ограничивают диапазон
// GET /api/events?city=Iasi&from=2025-06-01&to=2025-06-30
func (ea *EventsAPI) GetEvents(c *gin.Context) {
	city := c.Query("city")
	if c.Query("from") == "" && c.Query("to") == "" {
		list, err := ea.events.List(city)
		if err != nil {
			handleError(c, ea.log, err)
			return
		}
		SuccessResponse(c, http.StatusOK, list)
		return
	}

	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	list, err := ea.events.EventsInRange(city, from, to)
	if err != nil {
		handleError(c, ea.log, err)
		return
	}
	if list == nil {
		list = []models.SpecialEvent{}
	}
	SuccessResponse(c, http.StatusOK, list)
}

// CreateEvent создает событие
// POST /api/events
func (ea *EventsAPI) CreateEvent(c *gin.Context) {
	var event models.SpecialEvent
	if !bindJSON(c, &event) {
		return
	}
	created, err := ea.events.Create(event)
	if err != nil {
		handleError(c, ea.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, created)
}

func (ea *EventsAPI) GetEvent(c *gin.Context) {
	event, err := ea.events.Get(c.Param("city"), c.Param("date"))
	if err != nil {
		handleError(c, ea.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, event)
}

// UpdateEvent заменяет событие; новый город или дата начала меняют ключ
// PUT /api/events/:city/:date
func (ea *EventsAPI) UpdateEvent(c *gin.Context) {
	var event models.SpecialEvent
	if !bindJSON(c, &event) {
		return
	}
	updated, err := ea.events.Update(c.Param("city"), c.Param("date"), event)
	if err != nil {
		handleError(c, ea.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, updated)
}

func (ea *EventsAPI) DeleteEvent(c *gin.Context) {
	if err := ea.events.Delete(c.Param("city"), c.Param("date")); err != nil {
		handleError(c, ea.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMultipliers множители трафика города за диапазон дат
// GET /api/events/multipliers?city=Iasi&from=2025-06-01&to=2025-06-30
func (ea *EventsAPI) GetMultipliers(c *gin.Context) {
	city := c.Query("city")
	if city == "" {
		ErrorResponse(c, http.StatusBadRequest, "Не указан город")
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	multipliers, err := ea.events.Multipliers(city, from, to)
	if err != nil {
		handleError(c, ea.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, multipliers)
}

// dateRange разбирает параметры from и to; пропущенная граница равна другой
func dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	fromRaw, toRaw := c.Query("from"), c.Query("to")
	if fromRaw == "" {
		fromRaw = toRaw
	}
	if toRaw == "" {
		toRaw = fromRaw
	}
	from, err := models.ParseDate(fromRaw)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Некорректная дата from: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	to, err := models.ParseDate(toRaw)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Некорректная дата to: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		ErrorResponse(c, http.StatusBadRequest, "Дата to раньше from")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

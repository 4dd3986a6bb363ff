package api

import (
	"net/http"
	"strings"

	"backend_dooh/models"
	"backend_dooh/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CitiesAPI предоставляет API демографии городов и их обновления из источников
type CitiesAPI struct {
	cities  *services.CityService
	refresh *services.CityRefreshService
	log     zerolog.Logger

	// RefreshLimiter ограничивает обращения к внешним источникам; nil отключает ограничение
	RefreshLimiter gin.HandlerFunc
}

// NewCitiesAPI создает новый экземпляр CitiesAPI
func NewCitiesAPI(cities *services.CityService, refresh *services.CityRefreshService, log zerolog.Logger) *CitiesAPI {
	return &CitiesAPI{
		cities:  cities,
		refresh: refresh,
		log:     log.With().Str("api", "cities").Logger(),
	}
}

type periodRequest struct {
	Label       string              `json:"label" binding:"required"`
	Snapshot    models.CitySnapshot `json:"snapshot"`
	MakeCurrent bool                `json:"make_current"`
}

type currentRequest struct {
	Period string `json:"period" binding:"required"`
}

type preferenceRequest struct {
	Preference string `json:"preference" binding:"required"`
}

// RegisterRoutes регистрирует маршруты городов
func (ca *CitiesAPI) RegisterRoutes(router *gin.RouterGroup) {
	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if ca.RefreshLimiter == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{ca.RefreshLimiter, h}
	}

	cities := router.Group("/cities")
	{
		cities.GET("", ca.GetCities)
		cities.POST("/reload", ca.Reload)
		cities.GET("/pending", ca.GetPendingAll)
		cities.POST("/refresh", limited(ca.RefreshAll)...)

		cities.GET("/:name", ca.GetCity)
		cities.PUT("/:name", ca.UpsertCity)
		cities.DELETE("/:name", ca.DeleteCity)

		cities.GET("/:name/periods", ca.GetPeriods)
		cities.POST("/:name/periods", ca.AddPeriod)
		cities.PUT("/:name/current", ca.SetCurrent)

		cities.GET("/:name/preference", ca.GetPreference)
		cities.PUT("/:name/preference", ca.SetPreference)

		cities.POST("/:name/refresh", limited(ca.RefreshCity)...)
		cities.GET("/:name/pending", ca.GetPending)
		cities.POST("/:name/confirm", ca.Confirm)
		cities.POST("/:name/decline", ca.Decline)
	}
}

// GetCities возвращает сводку по всем городам
// GET /api/cities
func (ca *CitiesAPI) GetCities(c *gin.Context) {
	list, err := ca.cities.List()
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, list)
}

// GetCity возвращает город со всеми периодами
// GET /api/cities/:name
func (ca *CitiesAPI) GetCity(c *gin.Context) {
	record, err := ca.cities.Get(c.Param("name"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, record)
}

// UpsertCity записывает срез в текущий период города, новый город создается
// PUT /api/cities/:name
func (ca *CitiesAPI) UpsertCity(c *gin.Context) {
	var snapshot models.CitySnapshot
	if !bindJSON(c, &snapshot) {
		return
	}
	record, err := ca.cities.Upsert(c.Param("name"), snapshot)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, record)
}

// DeleteCity удаляет город, его предпочтение и события
// DELETE /api/cities/:name
func (ca *CitiesAPI) DeleteCity(c *gin.Context) {
	if err := ca.cities.Delete(c.Param("name")); err != nil {
		handleError(c, ca.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ca *CitiesAPI) GetPeriods(c *gin.Context) {
	periods, err := ca.cities.ListPeriods(c.Param("name"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, periods)
}

// AddPeriod добавляет срез за период, например 2025-Q3
// POST /api/cities/:name/periods
func (ca *CitiesAPI) AddPeriod(c *gin.Context) {
	var req periodRequest
	if !bindJSON(c, &req) {
		return
	}
	record, err := ca.cities.AddSnapshotPeriod(c.Param("name"), req.Label, req.Snapshot, req.MakeCurrent)
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, record)
}

func (ca *CitiesAPI) SetCurrent(c *gin.Context) {
	var req currentRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := ca.cities.SetCurrent(c.Param("name"), req.Period); err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"city": c.Param("name"), "current": req.Period})
}

func (ca *CitiesAPI) GetPreference(c *gin.Context) {
	if _, err := ca.cities.Get(c.Param("name")); err != nil {
		handleError(c, ca.log, err)
		return
	}
	preference, err := ca.cities.Preference(c.Param("name"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"city": c.Param("name"), "preference": preference})
}

func (ca *CitiesAPI) SetPreference(c *gin.Context) {
	var req preferenceRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := ca.cities.SetPreference(c.Param("name"), req.Preference); err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"city": c.Param("name"), "preference": strings.ToLower(req.Preference)})
}

// RefreshCity обновляет город по предпочтению или из явно указанного источника
// POST /api/cities/:name/refresh?source=INS
func (ca *CitiesAPI) RefreshCity(c *gin.Context) {
	var (
		result *services.RefreshResult
		err    error
	)
	if source := c.Query("source"); source != "" {
		result, err = ca.refresh.RefreshFrom(c.Request.Context(), c.Param("name"), source)
	} else {
		result, err = ca.refresh.Refresh(c.Request.Context(), c.Param("name"))
	}
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	// Неудача всех источников не ошибка запроса: подробности в source_errors
	SuccessResponse(c, http.StatusOK, result)
}

// RefreshAll обновляет все города по очереди
// POST /api/cities/refresh
func (ca *CitiesAPI) RefreshAll(c *gin.Context) {
	results, err := ca.refresh.RefreshAll(c.Request.Context())
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, results)
}

func (ca *CitiesAPI) GetPending(c *gin.Context) {
	proposal, ok := ca.refresh.Pending(c.Request.Context(), c.Param("name"))
	if !ok {
		ErrorResponse(c, http.StatusNotFound, "Нет ожидающего обновления для города")
		return
	}
	SuccessResponse(c, http.StatusOK, proposal)
}

func (ca *CitiesAPI) GetPendingAll(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, ca.refresh.PendingAll(c.Request.Context()))
}

// Confirm применяет ожидающее предложение как новый текущий период
// POST /api/cities/:name/confirm
func (ca *CitiesAPI) Confirm(c *gin.Context) {
	result, err := ca.refresh.Confirm(c.Request.Context(), c.Param("name"))
	if err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, result)
}

// Decline отклоняет предложение, данные города не меняются
// POST /api/cities/:name/decline
func (ca *CitiesAPI) Decline(c *gin.Context) {
	if err := ca.refresh.Decline(c.Request.Context(), c.Param("name")); err != nil {
		handleError(c, ca.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reload перечитывает side-файлы после внешнего редактирования
// POST /api/cities/reload
func (ca *CitiesAPI) Reload(c *gin.Context) {
	if err := ca.cities.Reload(); err != nil {
		handleError(c, ca.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"reloaded": true})
}

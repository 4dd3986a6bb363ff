package api

import (
	"net/http"

	"backend_dooh/models"
	"backend_dooh/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// FleetAPI предоставляет API автомобилей, водителей и их расписаний
type FleetAPI struct {
	fleet     *services.FleetService
	schedules *services.ScheduleService
	log       zerolog.Logger
}

// NewFleetAPI создает новый экземпляр FleetAPI
func NewFleetAPI(fleet *services.FleetService, schedules *services.ScheduleService, log zerolog.Logger) *FleetAPI {
	return &FleetAPI{
		fleet:     fleet,
		schedules: schedules,
		log:       log.With().Str("api", "fleet").Logger(),
	}
}

// assignRequest тело запроса закрепления; null снимает закрепление
type assignRequest struct {
	ID *string `json:"id"`
}

// RegisterRoutes регистрирует маршруты парка
func (fa *FleetAPI) RegisterRoutes(router *gin.RouterGroup) {
	vehicles := router.Group("/vehicles")
	{
		vehicles.GET("", fa.GetVehicles)
		vehicles.POST("", fa.CreateVehicle)
		vehicles.GET("/:id", fa.GetVehicle)
		vehicles.PUT("/:id", fa.UpdateVehicle)
		vehicles.DELETE("/:id", fa.DeleteVehicle)
		vehicles.PUT("/:id/driver", fa.AssignDriver)
		vehicles.GET("/:id/history", fa.GetVehicleHistory)

		vehicles.GET("/:id/schedules", fa.GetVehicleSchedules)
		vehicles.POST("/:id/schedules", fa.CreateVehicleSchedule)
		vehicles.PUT("/:id/schedules/:scheduleId", fa.UpdateVehicleSchedule)
		vehicles.DELETE("/:id/schedules/:scheduleId", fa.DeleteVehicleSchedule)
	}

	drivers := router.Group("/drivers")
	{
		drivers.GET("", fa.GetDrivers)
		drivers.POST("", fa.CreateDriver)
		drivers.GET("/:id", fa.GetDriver)
		drivers.PUT("/:id", fa.UpdateDriver)
		drivers.DELETE("/:id", fa.DeleteDriver)
		drivers.PUT("/:id/vehicle", fa.AssignVehicle)
		drivers.GET("/:id/history", fa.GetDriverHistory)

		drivers.GET("/:id/schedules", fa.GetDriverSchedules)
		drivers.POST("/:id/schedules", fa.CreateDriverSchedule)
		drivers.PUT("/:id/schedules/:scheduleId", fa.UpdateDriverSchedule)
		drivers.DELETE("/:id/schedules/:scheduleId", fa.DeleteDriverSchedule)
	}
}

// ===================== Автомобили =====================

// GetVehicles возвращает список автомобилей, опционально по статусу
// GET /api/vehicles?status=active
func (fa *FleetAPI) GetVehicles(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !models.IsValidVehicleStatus(status) {
		ErrorResponse(c, http.StatusBadRequest, "Некорректный статус автомобиля")
		return
	}
	vehicles, err := fa.fleet.ListVehicles(status)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, vehicles)
}

// CreateVehicle создает автомобиль
// POST /api/vehicles
func (fa *FleetAPI) CreateVehicle(c *gin.Context) {
	var input services.VehicleInput
	if !bindJSON(c, &input) {
		return
	}
	vehicle, err := fa.fleet.CreateVehicle(input)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, vehicle)
}

// GetVehicle возвращает автомобиль по ID
// GET /api/vehicles/:id
func (fa *FleetAPI) GetVehicle(c *gin.Context) {
	vehicle, err := fa.fleet.GetVehicle(c.Param("id"))
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, vehicle)
}

// UpdateVehicle изменяет переданные поля автомобиля
// PUT /api/vehicles/:id
func (fa *FleetAPI) UpdateVehicle(c *gin.Context) {
	var update services.VehicleUpdate
	if !bindJSON(c, &update) {
		return
	}
	vehicle, err := fa.fleet.UpdateVehicle(c.Param("id"), update)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, vehicle)
}

// DeleteVehicle удаляет автомобиль вместе с документами и расписаниями
// DELETE /api/vehicles/:id
func (fa *FleetAPI) DeleteVehicle(c *gin.Context) {
	if err := fa.fleet.DeleteVehicle(c.Param("id")); err != nil {
		handleError(c, fa.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AssignDriver закрепляет водителя за автомобилем
// PUT /api/vehicles/:id/driver {"id": "<driver>"|null}
func (fa *FleetAPI) AssignDriver(c *gin.Context) {
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	vehicle, err := fa.fleet.AssignDriver(c.Param("id"), req.ID)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, vehicle)
}

// GetVehicleHistory история закреплений водителей за автомобилем
// GET /api/vehicles/:id/history
func (fa *FleetAPI) GetVehicleHistory(c *gin.Context) {
	history, err := fa.fleet.VehicleHistory(c.Param("id"))
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, history)
}

// ===================== Водители =====================

// GetDrivers возвращает список водителей
// GET /api/drivers?status=active
func (fa *FleetAPI) GetDrivers(c *gin.Context) {
	drivers, err := fa.fleet.ListDrivers(c.Query("status"))
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, drivers)
}

// CreateDriver создает водителя
// POST /api/drivers
func (fa *FleetAPI) CreateDriver(c *gin.Context) {
	var input services.DriverInput
	if !bindJSON(c, &input) {
		return
	}
	driver, err := fa.fleet.CreateDriver(input)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, driver)
}

// GetDriver возвращает водителя по ID
// GET /api/drivers/:id
func (fa *FleetAPI) GetDriver(c *gin.Context) {
	driver, err := fa.fleet.GetDriver(c.Param("id"))
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, driver)
}

// UpdateDriver изменяет водителя; новое имя попадает в кэш автомобиля в той же транзакции
// PUT /api/drivers/:id
func (fa *FleetAPI) UpdateDriver(c *gin.Context) {
	var update services.DriverUpdate
	if !bindJSON(c, &update) {
		return
	}
	driver, err := fa.fleet.UpdateDriver(c.Param("id"), update)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, driver)
}

// DeleteDriver удаляет водителя
// DELETE /api/drivers/:id
func (fa *FleetAPI) DeleteDriver(c *gin.Context) {
	if err := fa.fleet.DeleteDriver(c.Param("id")); err != nil {
		handleError(c, fa.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AssignVehicle закрепляет автомобиль за водителем
// PUT /api/drivers/:id/vehicle {"id": "<vehicle>"|null}
func (fa *FleetAPI) AssignVehicle(c *gin.Context) {
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	driver, err := fa.fleet.AssignToVehicle(c.Param("id"), req.ID)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, driver)
}

// GetDriverHistory история закреплений водителя
// GET /api/drivers/:id/history
func (fa *FleetAPI) GetDriverHistory(c *gin.Context) {
	history, err := fa.fleet.DriverHistory(c.Param("id"))
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, history)
}

// ===================== Расписания =====================

func (fa *FleetAPI) GetVehicleSchedules(c *gin.Context) {
	list, err := fa.schedules.ListVehicleSchedules(c.Param("id"))
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, list)
}

func (fa *FleetAPI) CreateVehicleSchedule(c *gin.Context) {
	var input services.ScheduleInput
	if !bindJSON(c, &input) {
		return
	}
	entry, err := fa.schedules.AddVehicleSchedule(c.Param("id"), input)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, entry)
}

func (fa *FleetAPI) UpdateVehicleSchedule(c *gin.Context) {
	var input services.ScheduleInput
	if !bindJSON(c, &input) {
		return
	}
	entry, err := fa.schedules.UpdateVehicleSchedule(c.Param("scheduleId"), input)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, entry)
}

func (fa *FleetAPI) DeleteVehicleSchedule(c *gin.Context) {
	if err := fa.schedules.DeleteVehicleSchedule(c.Param("scheduleId")); err != nil {
		handleError(c, fa.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (fa *FleetAPI) GetDriverSchedules(c *gin.Context) {
	list, err := fa.schedules.ListDriverSchedules(c.Param("id"))
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, list)
}

func (fa *FleetAPI) CreateDriverSchedule(c *gin.Context) {
	var input services.ScheduleInput
	if !bindJSON(c, &input) {
		return
	}
	entry, err := fa.schedules.AddDriverSchedule(c.Param("id"), input)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, entry)
}

func (fa *FleetAPI) UpdateDriverSchedule(c *gin.Context) {
	var input services.ScheduleInput
	if !bindJSON(c, &input) {
		return
	}
	entry, err := fa.schedules.UpdateDriverSchedule(c.Param("scheduleId"), input)
	if err != nil {
		handleError(c, fa.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, entry)
}

func (fa *FleetAPI) DeleteDriverSchedule(c *gin.Context) {
	if err := fa.schedules.DeleteDriverSchedule(c.Param("scheduleId")); err != nil {
		handleError(c, fa.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package api

import (
	"errors"
	"net/http"

	"backend_dooh/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// APIResponse стандартная структура ответа API
type APIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// SuccessResponse возвращает успешный ответ
func SuccessResponse(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Status: "success",
		Data:   data,
	})
}

// ErrorResponse возвращает ошибку
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, APIResponse{
		Status: "error",
		Error:  message,
	})
}

// StatusFor сопоставляет ошибку сервиса с HTTP статусом
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleError отвечает клиенту по классу ошибки; ошибки хранилища пишутся в лог без подробностей в ответе
func handleError(c *gin.Context, log zerolog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		ErrorResponse(c, status, "Внутренняя ошибка сервера")
		return
	}
	ErrorResponse(c, status, err.Error())
}

// bindJSON разбирает тело запроса; при ошибке отвечает 400
func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

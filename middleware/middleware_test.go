package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestLogger_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	r := gin.New()
	r.Use(RequestLogger(log))
	r.GET("/api/vehicles/:id", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/vehicles/42?full=1", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "warn", event["level"])
	assert.Equal(t, "GET", event["method"])
	assert.Equal(t, "/api/vehicles/42?full=1", event["path"])
	assert.Equal(t, float64(http.StatusNotFound), event["status"])
}

func TestRecovery_ReturnsInternalError(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Recovery(zerolog.New(&buf)))
	r.GET("/boom", func(c *gin.Context) {
		panic("nil map write")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, buf.String(), "nil map write")
}

func TestRateLimit_WithoutRedisPassesThrough(t *testing.T) {
	r := gin.New()
	r.POST("/api/cities/:name/refresh", RefreshRateLimit(nil, zerolog.Nop()), func(c *gin.Context) {
		assert.Equal(t, "/api/cities/:name/refresh:Iasi", RouteKeyGenerator(c))
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cities/Iasi/refresh", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

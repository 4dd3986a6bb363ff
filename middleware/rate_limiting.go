package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RateLimitConfig конфигурация ограничения частоты запросов
type RateLimitConfig struct {
	Requests     int                       // Количество запросов
	Window       time.Duration             // Временное окно
	KeyGenerator func(*gin.Context) string // Генератор ключей
}

// rateLimitPrefix префикс счетчиков в Redis
const rateLimitPrefix = "dooh:rate_limit:"

// RouteKeyGenerator ключ по маршруту и параметру города, чтобы один город не опрашивался чаще лимита
func RouteKeyGenerator(c *gin.Context) string {
	key := c.FullPath()
	if name := c.Param("name"); name != "" {
		key += ":" + name
	}
	return key
}

// RateLimit ограничивает частоту запросов счетчиком в Redis.
// Без Redis или при его ошибке запрос пропускается.
func RateLimit(client *redis.Client, config RateLimitConfig, log zerolog.Logger) gin.HandlerFunc {
	if config.KeyGenerator == nil {
		config.KeyGenerator = RouteKeyGenerator
	}
	return func(c *gin.Context) {
		if client == nil || config.Requests <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		key := rateLimitPrefix + config.KeyGenerator(c)

		current, err := client.Get(ctx, key).Int()
		if err != nil && err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limit check skipped")
			c.Next()
			return
		}

		reset := strconv.FormatInt(time.Now().Add(config.Window).Unix(), 10)
		if current >= config.Requests {
			c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", reset)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "error",
				"error": fmt.Sprintf("Слишком много запросов: не более %d за %v",
					config.Requests, config.Window),
			})
			return
		}

		pipe := client.Pipeline()
		pipe.Incr(ctx, key)
		if current == 0 {
			// TTL ставится только первому запросу окна
			pipe.Expire(ctx, key, config.Window)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limit counter not updated")
		}

		remaining := config.Requests - current - 1
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", reset)

		c.Next()
	}
}

// RefreshRateLimit ограничение ручных обновлений города из внешних источников
func RefreshRateLimit(client *redis.Client, log zerolog.Logger) gin.HandlerFunc {
	return RateLimit(client, RateLimitConfig{
		Requests: 5,
		Window:   time.Minute,
	}, log)
}

package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend_dooh/config"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// InitRedis инициализирует подключение к Redis.
// При выключенном Redis возвращает nil без ошибки, кэш работает только в памяти.
func InitRedis(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		IdleTimeout:  300 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return client, nil
}

// CacheSetJSON сохраняет JSON объект в кэш
func CacheSetJSON(ctx context.Context, client *redis.Client, key string, value interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ошибка сериализации JSON: %w", err)
	}
	return client.Set(ctx, key, jsonData, ttl).Err()
}

// CacheGetJSON получает JSON объект из кэша; redis.Nil при отсутствии ключа
func CacheGetJSON(ctx context.Context, client *redis.Client, key string, dest interface{}) error {
	jsonData, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}

	if err := json.Unmarshal(jsonData, dest); err != nil {
		return fmt.Errorf("ошибка десериализации JSON: %w", err)
	}
	return nil
}

// CacheDel удаляет значения из кэша
func CacheDel(ctx context.Context, client *redis.Client, keys ...string) error {
	return client.Del(ctx, keys...).Err()
}

// CacheKeys возвращает ключи по шаблону
func CacheKeys(ctx context.Context, client *redis.Client, pattern string) ([]string, error) {
	var keys []string
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

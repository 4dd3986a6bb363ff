package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend_dooh/database"
	"backend_dooh/models"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// ProposalKeyPrefix префикс ключей предложений обновления в Redis
const ProposalKeyPrefix = "dooh:city_proposal:"

// DefaultProposalTTL время жизни предложения в Redis
const DefaultProposalTTL = 72 * time.Hour

// ProposalCache хранит предложения обновления городов до подтверждения.
// Основная копия в памяти; Redis (если подключен) переживает перезапуск API.
type ProposalCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   zerolog.Logger

	mu        sync.RWMutex
	proposals map[string]*RefreshProposal
}

// NewProposalCache создает кэш; redisClient может быть nil
func NewProposalCache(redisClient *redis.Client, ttl time.Duration, log zerolog.Logger) *ProposalCache {
	if ttl <= 0 {
		ttl = DefaultProposalTTL
	}
	return &ProposalCache{
		redis:     redisClient,
		ttl:       ttl,
		log:       log.With().Str("component", "proposal_cache").Logger(),
		proposals: make(map[string]*RefreshProposal),
	}
}

// Put сохраняет предложение для города
func (pc *ProposalCache) Put(ctx context.Context, p *RefreshProposal) {
	key := models.NormalizeCityName(p.City)
	pc.mu.Lock()
	pc.proposals[key] = p
	pc.mu.Unlock()

	if pc.redis == nil {
		return
	}
	if err := database.CacheSetJSON(ctx, pc.redis, ProposalKeyPrefix+key, p, pc.ttl); err != nil {
		pc.log.Warn().Err(err).Str("city", p.City).Msg("failed to cache proposal in redis")
	}
}

// Get возвращает предложение; при промахе в памяти читает Redis
func (pc *ProposalCache) Get(ctx context.Context, city string) (*RefreshProposal, bool) {
	key := models.NormalizeCityName(city)
	pc.mu.RLock()
	p, ok := pc.proposals[key]
	pc.mu.RUnlock()
	if ok {
		return p, true
	}
	if pc.redis == nil {
		return nil, false
	}

	var cached RefreshProposal
	err := database.CacheGetJSON(ctx, pc.redis, ProposalKeyPrefix+key, &cached)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			pc.log.Warn().Err(err).Str("city", city).Msg("failed to read proposal from redis")
		}
		return nil, false
	}

	pc.mu.Lock()
	pc.proposals[key] = &cached
	pc.mu.Unlock()
	return &cached, true
}

// Delete удаляет предложение города
func (pc *ProposalCache) Delete(ctx context.Context, city string) {
	key := models.NormalizeCityName(city)
	pc.mu.Lock()
	delete(pc.proposals, key)
	pc.mu.Unlock()

	if pc.redis == nil {
		return
	}
	if err := database.CacheDel(ctx, pc.redis, ProposalKeyPrefix+key); err != nil {
		pc.log.Warn().Err(err).Str("city", city).Msg("failed to delete proposal from redis")
	}
}

// List возвращает все ожидающие предложения, включая сохраненные только в Redis
func (pc *ProposalCache) List(ctx context.Context) []*RefreshProposal {
	if pc.redis != nil {
		keys, err := database.CacheKeys(ctx, pc.redis, ProposalKeyPrefix+"*")
		if err != nil {
			pc.log.Warn().Err(err).Msg("failed to list proposals in redis")
		}
		for _, k := range keys {
			pc.Get(ctx, k[len(ProposalKeyPrefix):])
		}
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()
	result := make([]*RefreshProposal, 0, len(pc.proposals))
	for _, p := range pc.proposals {
		result = append(result, p)
	}
	return result
}

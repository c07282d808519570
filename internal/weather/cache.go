package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cache stores recent observations keyed by rounded coordinates.
type Cache interface {
	Get(ctx context.Context, key string) (*Observation, bool, error)
	Set(ctx context.Context, key string, obs *Observation, ttl time.Duration) error
}

// Cached serves repeat lookups for nearby coordinates from a Cache. Cache
// failures fall through to the wrapped provider.
type Cached struct {
	next  Provider
	cache Cache
	ttl   time.Duration
}

func NewCached(next Provider, cache Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{next: next, cache: cache, ttl: ttl}
}

// cacheKey rounds to two decimals, roughly 1 km.
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("weather:%.2f:%.2f", lat, lon)
}

func (c *Cached) Current(ctx context.Context, lat, lon float64) (*Observation, error) {
	key := cacheKey(lat, lon)

	obs, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("weather cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return obs, nil
	}

	obs, err = c.next.Current(ctx, lat, lon)
	if err != nil || obs == nil {
		return obs, err
	}
	if err := c.cache.Set(ctx, key, obs, c.ttl); err != nil {
		zap.L().Warn("weather cache write failed", zap.String("key", key), zap.Error(err))
	}
	return obs, nil
}

// RedisCache implements Cache on Redis.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, eris.Wrapf(err, "weather: redis ping %s", addr)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Observation, bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "weather: redis get")
	}
	var obs Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, false, eris.Wrap(err, "weather: decode cached observation")
	}
	return &obs, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, obs *Observation, ttl time.Duration) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return eris.Wrap(err, "weather: encode observation")
	}
	return eris.Wrap(r.rdb.Set(ctx, key, data, ttl).Err(), "weather: redis set")
}

func (r *RedisCache) Close() error {
	return r.rdb.Close()
}

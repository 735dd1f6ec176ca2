package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cache stores resolved points by location key.
type Cache interface {
	Get(ctx context.Context, key string) (Point, bool, error)
	Set(ctx context.Context, key string, p Point) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{points: map[string]Point{}}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (Point, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.points[key]
	return p, ok, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, p Point) error {
	c.mu.Lock()
	c.points[key] = p
	c.mu.Unlock()
	return nil
}

// RedisCache stores points as "lat,lon" strings with a TTL.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithCachePrefix sets the key namespace. Surrounding colons are trimmed;
// the default is "geo".
func WithCachePrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) { c.prefix = strings.Trim(prefix, ":") }
}

// WithCacheTTL sets how long a resolved point is kept. The default is 30
// days.
func WithCacheTTL(d time.Duration) RedisCacheOption {
	return func(c *RedisCache) { c.ttl = d }
}

// NewRedisCache returns a Cache backed by rdb.
func NewRedisCache(rdb *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{rdb: rdb, prefix: "geo", ttl: 30 * 24 * time.Hour}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

// Get implements Cache. A missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) (Point, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Point{}, false, nil
	}
	if err != nil {
		return Point{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	p, err := decodePoint(v)
	if err != nil {
		return Point{}, false, err
	}
	return p, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, p Point) error {
	if err := c.rdb.Set(ctx, c.key(key), encodePoint(p), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func encodePoint(p Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

func decodePoint(s string) (Point, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, fmt.Errorf("malformed cached point %q", s)
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Point{}, fmt.Errorf("malformed cached point %q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return Point{}, fmt.Errorf("malformed cached point %q: %w", s, err)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// CachedResolver puts a Cache in front of another Resolver. Concurrent
// lookups of the same location share one upstream call. Misses are not
// cached.
type CachedResolver struct {
	next  Resolver
	cache Cache
	group singleflight.Group
}

// NewCachedResolver wraps next with cache.
func NewCachedResolver(next Resolver, cache Cache) *CachedResolver {
	return &CachedResolver{next: next, cache: cache}
}

type lookup struct {
	p  Point
	ok bool
}

// Resolve implements Resolver. Cache errors degrade to an upstream lookup.
func (r *CachedResolver) Resolve(ctx context.Context, postalCode, city string) (Point, bool) {
	key := cacheKey(postalCode, city)
	if key == "|" {
		return Point{}, false
	}
	log := zerolog.Ctx(ctx)

	p, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("geo cache read failed")
	}
	if ok {
		return p, true
	}

	v, _, _ := r.group.Do(key, func() (any, error) {
		if p, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			return lookup{p: p, ok: true}, nil
		}
		p, ok := r.next.Resolve(ctx, postalCode, city)
		if ok {
			if err := r.cache.Set(ctx, key, p); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("geo cache write failed")
			}
		}
		return lookup{p: p, ok: ok}, nil
	})
	res := v.(lookup)
	return res.p, res.ok
}

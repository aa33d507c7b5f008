package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Pair of currencies, e.g. KRW:RUB. One unit of Base costs Rate units of Target
type Pair struct {
	Base   string
	Target string
}

func (p Pair) String() string {
	return p.Base + ":" + p.Target
}

type Rate struct {
	Value     decimal.Decimal `json:"value"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Cache of fetched rates. Implementations drop entries older than their TTL
type Cache interface {
	// Reports whether the pair was cached and not expired
	Get(ctx context.Context, pair Pair) (Rate, bool, error)
	Set(ctx context.Context, pair Pair, rate Rate) error
}

// RedisCache stores rates as JSON with key expiration
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "kglow:rates:"}
}

func (c *RedisCache) Get(ctx context.Context, pair Pair) (Rate, bool, error) {
	var rate Rate

	data, err := c.client.Get(ctx, c.prefix+pair.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return rate, false, nil
	case err != nil:
		return rate, false, fmt.Errorf("redis error: %w", err)
	}

	if err := json.Unmarshal(data, &rate); err != nil {
		return rate, false, fmt.Errorf("broken cached rate: %w", err)
	}

	return rate, true, nil
}

func (c *RedisCache) Set(ctx context.Context, pair Pair, rate Rate) error {
	data, err := json.Marshal(rate)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.prefix+pair.String(), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	return nil
}

// MemoryCache keeps rates in the process. Used when redis is not configured
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	rates map[Pair]Rate
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:   ttl,
		now:   time.Now,
		rates: make(map[Pair]Rate),
	}
}

func (c *MemoryCache) Get(_ context.Context, pair Pair) (Rate, bool, error) {
	c.mu.RLock()
	rate, ok := c.rates[pair]
	c.mu.RUnlock()

	if !ok || c.now().Sub(rate.FetchedAt) >= c.ttl {
		return Rate{}, false, nil
	}

	return rate, true, nil
}

func (c *MemoryCache) Set(_ context.Context, pair Pair, rate Rate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rates[pair] = rate
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"mpesa-stk-service/config"
	"mpesa-stk-service/models"
)

// TokenCache stores the current Daraja access token. Get reports false when
// nothing is cached.
type TokenCache interface {
	Get(ctx context.Context) (models.AccessToken, bool, error)
	Set(ctx context.Context, token models.AccessToken) error
}

// MemoryTokenCache keeps the token in process memory.
type MemoryTokenCache struct {
	mu    sync.Mutex
	token models.AccessToken
	set   bool
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{}
}

func (c *MemoryTokenCache) Get(_ context.Context) (models.AccessToken, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.set, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, token models.AccessToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.set = true
	return nil
}

// RedisTokenCache shares the token between replicas. The key expires with the
// token.
type RedisTokenCache struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

type cachedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisClient connects to cfg.URL, which is either a redis:// URL or a
// plain host:port address.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL, DB: cfg.DB}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

// NewRedisTokenCache stores the token under a key derived from the consumer
// key so different credentials never share a token.
func NewRedisTokenCache(client *redis.Client, consumerKey string) *RedisTokenCache {
	return &RedisTokenCache{
		client: client,
		key:    "mpesa:access_token:" + consumerKey,
		now:    time.Now,
	}
}

func (c *RedisTokenCache) Get(ctx context.Context) (models.AccessToken, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.AccessToken{}, false, nil
	}
	if err != nil {
		return models.AccessToken{}, false, fmt.Errorf("redis get token: %w", err)
	}

	var t cachedToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return models.AccessToken{}, false, fmt.Errorf("decode cached token: %w", err)
	}
	return models.AccessToken{Value: t.Value, ExpiresAt: t.ExpiresAt}, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, token models.AccessToken) error {
	ttl := token.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(cachedToken{Value: token.Value, ExpiresAt: token.ExpiresAt})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

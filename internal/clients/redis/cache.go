package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/newsgraph/internal/platform/logger"
)

// Cache is a byte-oriented key/value store with expiry.
type Cache interface {
	// Get reports ok=false on a miss; err is only set for transport failures.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Close() error
}

// Cmdable is the subset of the go-redis client the cache uses.
type Cmdable interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Close() error
}

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type cache struct {
	log    *logger.Logger
	rdb    Cmdable
	prefix string
}

// NewCache connects and pings before returning.
func NewCache(ctx context.Context, log *logger.Logger, opts Options) (Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewCacheWithClient(log, rdb, opts.Prefix), nil
}

func NewCacheWithClient(log *logger.Logger, rdb Cmdable, prefix string) Cache {
	if log == nil {
		log = logger.Nop()
	}
	if prefix == "" {
		prefix = "newsgraph:"
	}
	return &cache{log: log.With("service", "RedisCache"), rdb: rdb, prefix: prefix}
}

func (c *cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return b, true, nil
}

func (c *cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.prefix+key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

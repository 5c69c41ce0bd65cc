package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Deliverus/internal/services/stats"
	"github.com/redis/go-redis/v9"
)

var _ stats.Cache = (*StatsCache)(nil)

type Config struct {
	URL    string        `mapstructure:"url"`
	TTL    time.Duration `mapstructure:"ttl"`
	Prefix string        `mapstructure:"prefix"`
}

type StatsCache struct {
	rdb    *redis.Client
	prefix string
}

func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewStatsCache(rdb *redis.Client, prefix string) *StatsCache {
	return &StatsCache{rdb: rdb, prefix: prefix}
}

func (c *StatsCache) Get(ctx context.Context, key string) (*stats.Report, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var rep stats.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, false, fmt.Errorf("decode cached report: %w", err)
	}
	return &rep, true, nil
}

func (c *StatsCache) Set(ctx context.Context, key string, rep *stats.Report, ttl time.Duration) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

package api_config

import (
	shared "github.com/NordCoder/Deliverus/internal/config/shared"
)

func Load(path string) (*Config, error) {
	v := shared.NewViper(path, "api")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")

	v.SetDefault("stats.cache", false)
	v.SetDefault("stats.redis.url", "redis://localhost:6379/0")
	v.SetDefault("stats.redis.ttl", "1m")
	v.SetDefault("stats.redis.prefix", "deliverus:")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Stats.Cache && cfg.Stats.Redis.URL == "" {
		return nil, shared.ErrConfig("stats.redis.url is required when stats.cache is on")
	}
	return &cfg, nil
}

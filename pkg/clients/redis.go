package clients

import (
	"context"

	"github.com/lumora-tech/visibility-engine/internal/cfg"
	"github.com/redis/go-redis/v9"
)

// RedisClient — обёртка над go-redis клиентом.
type RedisClient struct {
	Client *redis.Client
}

func NewRedisClient(cfg *cfg.RedisCfg) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.User,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	return &RedisClient{Client: client}
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

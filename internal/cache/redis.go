package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"facesync/internal/config"
)

// pubsubHeadroom keeps idle connections around for gallery subscriptions,
// each of which pins a connection of its own.
const pubsubHeadroom = 4

// NewRedisClient connects the client shared by the live feed and the
// signature replay guard.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   "facesync",
		PoolSize:     cfg.PoolSize,
		MinIdleConns: min(cfg.PoolSize, pubsubHeadroom),
		DialTimeout:  cfg.DialTimeout,
	})

	if err := Check(client)(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Check returns a health probe for client bounded by its dial timeout.
func Check(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if timeout := client.Options().DialTimeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
		}
		return nil
	}
}

package repository

import (
	"context"
	"fmt"
	"time"

	"castlebook/internal/config"

	"github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "castlebook:lease:"

// releaseScript deletes the lease only while it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLeaseRepository struct {
	client *redis.Client
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisLeaseRepository(client *redis.Client) *RedisLeaseRepository {
	return &RedisLeaseRepository{client: client}
}

// TryAcquire takes the lease with SET NX PX. Re-acquiring a lease already held by owner extends it.
func (r *RedisLeaseRepository) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := leaseKeyPrefix + name
	ok, err := r.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if ok {
		return true, nil
	}

	current, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lease %s: %w", name, err)
	}
	if current != owner {
		return false, nil
	}
	if err := r.client.PExpire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to extend lease %s: %w", name, err)
	}
	return true, nil
}

func (r *RedisLeaseRepository) Release(ctx context.Context, name, owner string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := releaseScript.Run(ctx, r.client, []string{leaseKeyPrefix + name}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis client if there is one.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

package repository

import (
	"context"
	"testing"
	"time"

	"castlebook/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLeaseRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer Close(client)

	repo := NewRedisLeaseRepository(client)
	ctx := context.Background()
	require.NoError(t, Ping(ctx, client))

	t.Run("AcquireAndBlock", func(t *testing.T) {
		ok, err := repo.TryAcquire(ctx, "sweeper", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "a", mustGet(t, s, leaseKeyPrefix+"sweeper"))

		ok, err = repo.TryAcquire(ctx, "sweeper", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("HolderExtends", func(t *testing.T) {
		s.FastForward(30 * time.Second)
		ok, err := repo.TryAcquire(ctx, "sweeper", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, time.Minute, s.TTL(leaseKeyPrefix+"sweeper"))
	})

	t.Run("Expiry", func(t *testing.T) {
		s.FastForward(2 * time.Minute)
		ok, err := repo.TryAcquire(ctx, "sweeper", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ReleaseOnlyByOwner", func(t *testing.T) {
		require.NoError(t, repo.Release(ctx, "sweeper", "a"))
		assert.True(t, s.Exists(leaseKeyPrefix+"sweeper"))

		require.NoError(t, repo.Release(ctx, "sweeper", "b"))
		assert.False(t, s.Exists(leaseKeyPrefix+"sweeper"))
	})
}

func mustGet(t *testing.T, s *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := s.Get(key)
	require.NoError(t, err)
	return v
}

func TestRedisLeaseRepository_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisLeaseRepository(nil)
		_, err := repo.TryAcquire(ctx, "x", "a", time.Second)
		assert.Error(t, err)
		assert.Error(t, repo.Release(ctx, "x", "a"))
	})

	t.Run("ServerDown", func(t *testing.T) {
		s, err := miniredis.Run()
		require.NoError(t, err)
		client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
		defer client.Close()
		s.Close()

		repo := NewRedisLeaseRepository(client)
		_, err = repo.TryAcquire(ctx, "x", "a", time.Second)
		assert.Error(t, err)
		assert.Error(t, Ping(ctx, client))
	})

	t.Run("CloseNil", func(t *testing.T) {
		assert.NoError(t, Close(nil))
	})
}

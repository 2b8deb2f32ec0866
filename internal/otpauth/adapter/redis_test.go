package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hur-delivery/otpauth/internal/otpauth/adapter"
	redisclient "github.com/hur-delivery/otpauth/internal/redis"
)

func newTestRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:    mr.Addr(),
		Timeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	return client, mr
}

func TestRateLimiter_CheckAndIncrement(t *testing.T) {
	t.Run("allows exactly up to the limit then rejects", func(t *testing.T) {
		client, _ := newTestRedis(t)
		rl := adapter.NewRateLimiter(client.RDB)
		ctx := context.Background()
		key := "otp_send:phone:9647701234567"

		for i := 0; i < 5; i++ {
			allowed, err := rl.CheckAndIncrement(ctx, key, 5, 900)
			require.NoError(t, err)
			assert.True(t, allowed, "request %d should be allowed", i+1)
		}

		allowed, err := rl.CheckAndIncrement(ctx, key, 5, 900)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("window expiry resets the counter", func(t *testing.T) {
		client, mr := newTestRedis(t)
		rl := adapter.NewRateLimiter(client.RDB)
		ctx := context.Background()
		key := "otp_send:phone:9647701234568"

		_, err := rl.CheckAndIncrement(ctx, key, 1, 60)
		require.NoError(t, err)
		assert.Equal(t, 60*time.Second, mr.TTL(key))

		allowed, err := rl.CheckAndIncrement(ctx, key, 1, 60)
		require.NoError(t, err)
		assert.False(t, allowed)

		mr.FastForward(61 * time.Second)

		allowed, err = rl.CheckAndIncrement(ctx, key, 1, 60)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("redis down: returns error", func(t *testing.T) {
		client, mr := newTestRedis(t)
		rl := adapter.NewRateLimiter(client.RDB)
		mr.Close()

		_, err := rl.CheckAndIncrement(context.Background(), "k", 1, 60)
		assert.Error(t, err)
	})
}

func TestPhoneLocker(t *testing.T) {
	t.Run("second holder is refused until release", func(t *testing.T) {
		client, _ := newTestRedis(t)
		l := adapter.NewPhoneLocker(client.RDB)
		ctx := context.Background()
		key := "identity_lock:9647701234567"

		token, ok, err := l.TryLock(ctx, key, 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, token)

		_, ok, err = l.TryLock(ctx, key, 30*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, l.Unlock(ctx, key, token))

		_, ok, err = l.TryLock(ctx, key, 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("stale token does not release a newer lock", func(t *testing.T) {
		client, mr := newTestRedis(t)
		l := adapter.NewPhoneLocker(client.RDB)
		ctx := context.Background()
		key := "identity_lock:9647701234567"

		stale, ok, err := l.TryLock(ctx, key, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Second)

		fresh, ok, err := l.TryLock(ctx, key, 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, l.Unlock(ctx, key, stale))

		got, err := mr.Get(key)
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
	})

	t.Run("lock expires with its ttl", func(t *testing.T) {
		client, mr := newTestRedis(t)
		l := adapter.NewPhoneLocker(client.RDB)

		_, ok, err := l.TryLock(context.Background(), "k", 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 30*time.Second, mr.TTL("k"))
	})
}

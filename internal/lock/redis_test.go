package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestAcquire_Exclusive(t *testing.T) {
	_, client := setupRedis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "recon:mockpay", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := locker.Acquire(ctx, "recon:mockpay", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	other, err := locker.Acquire(ctx, "recon:otherpay", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestRelease_AllowsReacquire(t *testing.T) {
	_, client := setupRedis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "retention", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))

	again, err := locker.Acquire(ctx, "retention", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestRelease_DoesNotStealAfterExpiry(t *testing.T) {
	s, client := setupRedis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "retention", time.Second)
	require.NoError(t, err)
	require.NotNil(t, stale)

	s.FastForward(2 * time.Second)

	current, err := locker.Acquire(ctx, "retention", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, current)

	require.NoError(t, stale.Release(ctx))

	value, err := s.Get(keyPrefix + "retention")
	require.NoError(t, err)
	assert.Equal(t, current.owner, value)
}

func TestRelease_NilLease(t *testing.T) {
	var lease *Lease
	assert.NoError(t, lease.Release(context.Background()))
}

package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLocker(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	l := &Locker{R: rdb}

	unlock, ok, err := l.TryLock(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("lock:test"))

	_, ok, err = l.TryLock(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ExpiredHolderCannotDropNewLock(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	l := &Locker{R: rdb}

	unlockOld, ok, err := l.TryLock(ctx, "lock:test", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)

	_, ok, err = l.TryLock(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, unlockOld(ctx))
	assert.True(t, mr.Exists("lock:test"))
}

func TestDedup(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	d := &Dedup{R: rdb, Service: "webhook"}

	seen, err := d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "evt_1"))
	seen, err = d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists("dedup:webhook:evt_1"))
	assert.Equal(t, TTLDedup, mr.TTL("dedup:webhook:evt_1"))
}

func TestStatusCache(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	c := &StatusCache{R: rdb}

	_, ok, err := c.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, CachedStatus{TransactionID: "tx1", BuyerID: "b1", Status: "Success"}))
	require.NoError(t, c.Fill(ctx, CachedStatus{TransactionID: "tx1", BuyerID: "b1", Status: "Processing"}))

	got, ok, err := c.Get(ctx, "tx1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Success", got.Status)
	assert.Equal(t, "b1", got.BuyerID)
}

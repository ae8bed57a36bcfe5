package mapview

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*miniredis.Miniredis, RedisViewStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, RedisViewStore{Client: rc}
}

func TestRedisViewStoreRoundTrip(t *testing.T) {
	mr, s := newRedisStore(t)
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := ViewState{Center: orb.Point{116.39, 39.9}, Zoom: 10.5}
	require.NoError(t, s.Save(ctx, "u1", want))
	assert.True(t, mr.Exists("mapview:view:u1"))
	assert.Equal(t, 7*24*time.Hour, mr.TTL("mapview:view:u1"))

	got, ok, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	s.Prefix, s.TTL = "test:", time.Minute
	require.NoError(t, s.Save(ctx, "u2", want))
	assert.Equal(t, time.Minute, mr.TTL("test:u2"))
}

func TestRedisViewStoreRejectsNonFinite(t *testing.T) {
	mr, s := newRedisStore(t)
	bad := ViewState{Center: orb.Point{math.NaN(), 30}, Zoom: 5}
	assert.Error(t, s.Save(context.Background(), "u1", bad))
	assert.Error(t, s.Save(context.Background(), "u1", ViewState{Center: orb.Point{104, 30}, Zoom: math.Inf(1)}))
	assert.False(t, mr.Exists("mapview:view:u1"))
}

func TestRedisViewStoreInvalidEntryIsAbsent(t *testing.T) {
	mr, s := newRedisStore(t)
	require.NoError(t, mr.Set("mapview:view:u1", "{broken"))
	_, ok, err := s.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("mapview:view:u1", `{"center":"somewhere","zoom":3}`))
	_, ok, err = s.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisViewStoreServerDown(t *testing.T) {
	mr, s := newRedisStore(t)
	mr.Close()
	_, ok, err := s.Load(context.Background(), "u1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRestoreAndTeardownThroughRedis(t *testing.T) {
	mr, store := newRedisStore(t)
	e := newTestEnv()
	want := ViewState{Center: orb.Point{121.47, 31.23}, Zoom: 9}
	require.NoError(t, store.Save(context.Background(), "user-1", want))

	c := NewController(Options{Registry: e.reg, Credentials: bothKeys, Scheduler: &Queue{}, Store: store, StoreKey: "user-1"})
	require.NoError(t, c.Restore(context.Background()))
	assert.Equal(t, want, c.ViewState())
	mountTest(t, c)
	assert.Equal(t, want, e.adapters()[0].view)

	moved := ViewState{Center: orb.Point{113.26, 23.13}, Zoom: 12}
	require.True(t, c.SetViewState(moved))
	require.NoError(t, c.ApplyViewState())
	c.Teardown()

	got, ok, err := store.Load(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, moved, got)
	assert.True(t, mr.Exists("mapview:view:user-1"))

	mr.Close()
	c2 := NewController(Options{Registry: e.reg, Store: store, StoreKey: "user-1"})
	assert.Error(t, c2.Restore(context.Background()))
	assert.Equal(t, DefaultViewState(), c2.ViewState())
}

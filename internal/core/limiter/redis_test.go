package limiter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/threadgate/threadgate/internal/core"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test"), mr
}

func TestRedisStoreFixedWindow(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entry, ok, err := store.IncrementIfBelow(ctx, "generation:10.0.0.1", 2, time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Count)
	assert.Equal(t, now.Add(time.Minute), entry.WindowResetAt)

	entry, ok, err = store.IncrementIfBelow(ctx, "generation:10.0.0.1", 2, time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, entry.Count)

	entry, ok, err = store.IncrementIfBelow(ctx, "generation:10.0.0.1", 2, time.Minute, now)
	require.NoError(t, err)
	require.False(t, ok)
	assert.Equal(t, 2, entry.Count)

	val, err := mr.Get("test:generation:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "2", val)

	mr.FastForward(61 * time.Second)
	entry, ok, err = store.IncrementIfBelow(ctx, "generation:10.0.0.1", 2, time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Count)
}

func TestRedisStoreGetDeleteSweep(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Clock = func() time.Time { return now }

	entry, err := store.Get(ctx, "api:u")
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, _, err = store.IncrementIfBelow(ctx, "api:u", 5, time.Minute, now)
	require.NoError(t, err)

	entry, err = store.Get(ctx, "api:u")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Count)
	assert.Equal(t, now.Add(time.Minute), entry.WindowResetAt)

	removed, err := store.Sweep(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	require.NoError(t, store.Delete(ctx, "api:u"))
	entry, err = store.Get(ctx, "api:u")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRedisStoreConcurrentChecksThroughLimiter(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t)
	l := &Limiter{
		Store: store,
		Presets: map[core.EndpointClass]core.WindowConfig{
			core.ClassGeneration: {Window: time.Minute, MaxRequests: 3},
		},
	}

	var admitted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			d, err := l.Check(ctx, "10.0.0.1", core.ClassGeneration)
			if err != nil {
				return err
			}
			if d.Admitted {
				admitted.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(3), admitted.Load())
}

func TestRedisStoreUnavailableFailsOpen(t *testing.T) {
	store, mr := newRedisTestStore(t)
	mr.Close()

	l := &Limiter{Store: store}
	d, err := l.Check(context.Background(), "u", core.ClassGeneration)
	require.Error(t, err)
	assert.True(t, d.Admitted)
}

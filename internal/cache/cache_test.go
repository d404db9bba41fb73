package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetExpiry(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	c := New[string, string](mock, time.Minute)

	c.Set("a", "1", 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, time.Minute, c.TTL("a"))

	mock.Add(59 * time.Second)
	_, ok = c.Get("a")
	assert.True(t, ok)

	mock.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry must not be served at its expiry instant")
	assert.Equal(t, time.Duration(0), c.TTL("a"))
}

func TestPerEntryTTL(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	c := New[Key, string](mock, time.Hour)

	short := Key{Kind: KindNames, Ref: "secrets-replicator/names/prod", Destination: "us-west-2"}
	long := Key{Kind: KindFilter, Ref: "secrets-replicator/filters/prod", Destination: "us-west-2"}
	c.Set(short, "names", 10*time.Second)
	c.Set(long, "filters", 0)

	mock.Add(11 * time.Second)
	_, ok := c.Get(short)
	assert.False(t, ok)
	_, ok = c.Get(long)
	assert.True(t, ok)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func TestKeysAreDestinationScoped(t *testing.T) {
	t.Parallel()

	c := New[Key, string](clock.NewMock(), time.Minute)
	c.Set(Key{Kind: KindFilter, Ref: "f", Destination: "us-west-2"}, "west", 0)

	_, ok := c.Get(Key{Kind: KindFilter, Ref: "f", Destination: "eu-west-1"})
	assert.False(t, ok)
	_, ok = c.Get(Key{Kind: KindNames, Ref: "f", Destination: "us-west-2"})
	assert.False(t, ok)
}

func TestGetOrLoadRefreshesOnExpiry(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	c := New[string, int](mock, time.Minute)
	ctx := context.Background()

	loads := 0
	load := func(context.Context) (int, error) {
		loads++
		return loads, nil
	}

	v, err := c.GetOrLoad(ctx, "k", 0, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.GetOrLoad(ctx, "k", 0, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, loads)

	mock.Add(2 * time.Minute)
	v, err = c.GetOrLoad(ctx, "k", 0, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "stale entry must be reloaded")
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	c := New[string, string](clock.NewMock(), time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := c.GetOrLoad(ctx, "k", 0, func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrLoad(ctx, "k", 0, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDeleteAndClear(t *testing.T) {
	t.Parallel()

	c := New[string, string](nil, 0)
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New[int, int](clock.NewMock(), time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = c.GetOrLoad(ctx, j%5, 0, func(context.Context) (int, error) { return i, nil })
				c.Get(j % 5)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, c.Len())
}

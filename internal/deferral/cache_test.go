package deferral

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*ReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewReportCache(client, time.Minute), mr
}

func TestReportCacheVersioningInvalidatesKeys(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	base := reportKey(1, DirectionExpense, DateOf(2024, time.January, 1), DateOf(2024, time.March, 31))
	require.Equal(t, "deferral:report:1:expense:2024-01-01:2024-03-31", base)

	key, err := cache.BuildKey(ctx, base)
	require.NoError(t, err)
	require.Equal(t, base+":v1", key)

	sub := cache.client.Subscribe(ctx, bumpChannel)
	defer func() { _ = sub.Close() }()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)
	messages := sub.Channel()

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, base)
	require.NoError(t, err)
	require.Equal(t, base+":v2", key)

	select {
	case msg := <-messages:
		require.Equal(t, bumpChannel, msg.Channel)
		require.Equal(t, "2", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected bump publication")
	}
}

func TestReportCacheFetchJSONUsesStoredValue(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"entries": 13}, nil
	}

	var first, second map[string]int
	require.NoError(t, cache.FetchJSON(ctx, "k", &first, loader))
	require.NoError(t, cache.FetchJSON(ctx, "k", &second, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, first, second)
	require.Equal(t, 13, second["entries"])
	require.Equal(t, time.Minute, mr.TTL("k"))
}

func TestReportCacheLoaderErrorIsNotCached(t *testing.T) {
	cache, mr := newTestCache(t)
	boom := errors.New("boom")
	var dest map[string]int
	err := cache.FetchJSON(context.Background(), "k", &dest, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("k"))
}

func TestNilReportCacheAlwaysLoads(t *testing.T) {
	var cache *ReportCache
	ctx := context.Background()
	key, err := cache.BuildKey(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, "a:b", key)
	require.NoError(t, cache.Bump(ctx))

	calls := 0
	var dest string
	for i := 0; i < 2; i++ {
		require.NoError(t, cache.FetchJSON(ctx, key, &dest, func(context.Context) (any, error) {
			calls++
			return "fresh", nil
		}))
	}
	require.Equal(t, 2, calls)
	require.Equal(t, "fresh", dest)
}

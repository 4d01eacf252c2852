package qcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetchQueryReturnsData(t *testing.T) {
	client := newTestClient()
	data, err := client.FetchQuery(context.Background(), QueryOptions{
		QueryKey: Key("simple"),
		QueryFn: QueryFn(func(ctx context.Context) (any, error) {
			return "value", nil
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "value", data)
}

func TestClientEnsureQueryDataSkipsFetchWhenFresh(t *testing.T) {
	client := newTestClient()
	var calls int
	opts := QueryOptions{
		QueryKey:  Key("fresh"),
		StaleTime: time.Hour,
		QueryFn: QueryFn(func(ctx context.Context) (any, error) {
			calls++
			return "v1", nil
		}),
	}

	data1, err := client.EnsureQueryData(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "v1", data1)
	assert.Equal(t, 1, calls)

	data2, err := client.EnsureQueryData(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "v1", data2)
	assert.Equal(t, 1, calls, "fresh data should not trigger a second fetch")
}

func TestClientSetQueryDataUpdatesCacheDirectly(t *testing.T) {
	client := newTestClient()
	client.queryCache.Build(QueryOptions{QueryKey: Key("direct")})

	next := client.SetQueryData(Key("direct"), func(old any) any {
		assert.Nil(t, old)
		return "set-directly"
	})
	assert.Equal(t, "set-directly", next)

	data, ok := client.GetQueryData(Key("direct"))
	require.True(t, ok)
	assert.Equal(t, "set-directly", data)
}

func TestClientResolveQueryOptionsAppliesDefaultGCTime(t *testing.T) {
	client := newTestClient()

	resolved := client.resolveQueryOptions(QueryOptions{QueryKey: Key("no-overrides")})
	assert.Equal(t, DefaultGCTime, resolved.GCTime)
	assert.Equal(t, DefaultStaleTime, resolved.StaleTime)

	withOverride := client.resolveQueryOptions(QueryOptions{
		QueryKey: Key("overridden"),
		GCTime:   time.Minute,
	})
	assert.Equal(t, time.Minute, withOverride.GCTime)
}

func TestClientSetQueryDefaultsLayersUnderCallSite(t *testing.T) {
	client := newTestClient()
	client.SetQueryDefaults(Key("todos"), QueryOptions{StaleTime: time.Minute})

	resolved := client.resolveQueryOptions(QueryOptions{QueryKey: Key("todos", 1)})
	assert.Equal(t, time.Minute, resolved.StaleTime)

	// An unrelated key prefix must not pick up the default.
	other := client.resolveQueryOptions(QueryOptions{QueryKey: Key("users", 1)})
	assert.Equal(t, time.Duration(0), other.StaleTime)
}

func TestClientSetQueryDefaultsCallSiteOverrides(t *testing.T) {
	client := newTestClient()
	client.SetQueryDefaults(Key("todos"), QueryOptions{StaleTime: time.Minute})

	resolved := client.resolveQueryOptions(QueryOptions{
		QueryKey:  Key("todos", 1),
		StaleTime: 5 * time.Second,
	})
	assert.Equal(t, 5*time.Second, resolved.StaleTime)
}

func TestClientMountResumesPausedMutationsOnReconnect(t *testing.T) {
	client := newTestClient()
	client.onlineManager.SetOnline(false)

	unmount := client.Mount()
	defer unmount()

	m := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("mount-resume"),
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			return "ok", nil
		}),
	})
	resultCh := m.Execute(context.Background(), nil)

	assert.Eventually(t, func() bool {
		return m.State().IsPaused
	}, time.Second, time.Millisecond)

	client.onlineManager.SetOnline(true)

	res := <-resultCh
	require.NoError(t, res.Err)
}

func TestClientMountIsReferenceCounted(t *testing.T) {
	client := newTestClient()
	unmount1 := client.Mount()
	unmount2 := client.Mount()

	unmount1()
	// Still mounted once; a focus transition should still reach the cache.
	unmount2()
	// Idempotent: calling twice must not panic.
	unmount2()
}

func TestClientClearRemovesEverything(t *testing.T) {
	client := newTestClient()
	client.queryCache.Build(QueryOptions{QueryKey: Key("a")})
	client.mutationCache.Build(MutationOptions{MutationKey: Key("b")})

	require.NoError(t, client.Clear())
	assert.Equal(t, 0, client.queryCache.Size())
	assert.Equal(t, 0, client.mutationCache.Size())
}

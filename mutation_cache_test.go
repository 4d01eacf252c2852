package qcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/qcache/events"
)

// Mutations sharing a Scope execute strictly in submission order — a later
// mutation stays paused until its earlier sibling settles.
func TestMutationCacheScopedMutationsSerialize(t *testing.T) {
	client := newTestClient()
	scope := &MutationScope{ID: "order-42"}

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})

	m1 := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("order", 1),
		Scope:       scope,
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			<-release
			mu.Lock()
			order = append(order, "m1")
			mu.Unlock()
			return "first", nil
		}),
	})
	m2 := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("order", 2),
		Scope:       scope,
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			mu.Lock()
			order = append(order, "m2")
			mu.Unlock()
			return "second", nil
		}),
	})

	ch1 := m1.Execute(context.Background(), nil)
	// Give m1 a moment to become pending before m2 is submitted.
	time.Sleep(5 * time.Millisecond)
	ch2 := m2.Execute(context.Background(), nil)

	// m2 must be paused: m1 (earlier in the scope) is still pending.
	assert.Eventually(t, func() bool {
		return m2.State().IsPaused
	}, time.Second, time.Millisecond)

	close(release)
	res1 := <-ch1
	res2 := <-ch2

	require.NoError(t, res1.Err)
	require.NoError(t, res2.Err)
	assert.Equal(t, []string{"m1", "m2"}, order)
}

// Unscoped mutations are never serialized against each other.
func TestMutationCacheUnscopedMutationsRunConcurrently(t *testing.T) {
	client := newTestClient()
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	fn := MutationFn(func(ctx context.Context, variables any) (any, error) {
		started <- struct{}{}
		<-release
		return "ok", nil
	})

	m1 := client.mutationCache.Build(MutationOptions{MutationKey: Key("u1"), Fn: fn})
	m2 := client.mutationCache.Build(MutationOptions{MutationKey: Key("u2"), Fn: fn})

	ch1 := m1.Execute(context.Background(), nil)
	ch2 := m2.Execute(context.Background(), nil)

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("both unscoped mutations should start without waiting on each other")
		}
	}

	close(release)
	<-ch1
	<-ch2
}

// A mutation started while offline pauses instead of failing, and
// ResumePausedMutations continues it once connectivity returns.
func TestClientResumePausedMutationsOnReconnect(t *testing.T) {
	client := newTestClient()
	client.onlineManager.SetOnline(false)

	m := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("offline-write"),
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			return "synced", nil
		}),
	})

	resultCh := m.Execute(context.Background(), nil)
	assert.Eventually(t, func() bool {
		return m.State().IsPaused
	}, time.Second, time.Millisecond)

	client.onlineManager.SetOnline(true)
	require.NoError(t, client.ResumePausedMutations())

	res := <-resultCh
	require.NoError(t, res.Err)
	assert.Equal(t, MutationSuccess, m.State().Status)
}

// Subscribe delivers the actual recorded event to each handler.
func TestMutationCacheSubscribeReceivesEvent(t *testing.T) {
	client := newTestClient()

	var got []events.Event
	unsubscribe := client.mutationCache.Subscribe(func(ev events.Event) {
		got = append(got, ev)
	})
	defer unsubscribe()

	m := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("subscribed"),
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			return "ok", nil
		}),
	})
	<-m.Execute(context.Background(), nil)

	require.NotEmpty(t, got)
	added, ok := got[0].(events.MutationAdded)
	require.True(t, ok, "first event must be MutationAdded")
	assert.Equal(t, m.ID(), added.MutationID)
}

// A cache-level OnMutate hook runs ahead of the mutation's own
// options-level OnMutate, and its returned context is visible unless the
// options-level hook overrides it.
func TestMutationCacheOnMutateRunsBeforeOptionsLevel(t *testing.T) {
	var order []string
	client := NewClient(ClientOptions{
		MutationCacheOnMutate: func(ctx any, variables any) (any, error) {
			order = append(order, "cache")
			return "cache-context", nil
		},
	})

	var observedContext any
	m := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("hooked"),
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			return "ok", nil
		}),
		Callbacks: MutationCallbacks{
			OnMutate: func(ctx any, variables any) (any, error) {
				order = append(order, "options")
				return ctx, nil
			},
			OnSuccess: func(data, variables, mctx any) {
				observedContext = mctx
			},
		},
	})

	res := <-m.Execute(context.Background(), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"cache", "options"}, order)
	assert.Equal(t, context.Background(), observedContext)
}

package qcache

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *QueryClient {
	return NewClient(ClientOptions{})
}

// Two overlapping Fetch calls against the same query while an attempt is
// in flight must see exactly one queryFn invocation and identical data.
func TestQueryFetchDedupsConcurrentCallers(t *testing.T) {
	client := newTestClient()
	var calls int32
	data := map[string]any{"id": 1}

	opts := QueryOptions{
		QueryKey: Key("u", 1),
		QueryFn: QueryFn(func(ctx context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(20 * time.Millisecond)
			return data, nil
		}),
	}

	q := client.queryCache.Build(opts)
	ch1 := q.Fetch(nil)
	ch2 := q.Fetch(nil)

	r1 := <-ch1
	r2 := <-ch2

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.NoError(t, r1.Err)
	require.NoError(t, r2.Err)
	assert.Equal(t, r1.Data, r2.Data)
}

// cancel({revert:true}) during a refetch restores the pre-fetch snapshot.
func TestQueryCancelRevertRestoresSnapshot(t *testing.T) {
	client := newTestClient()
	block := make(chan struct{})

	opts := QueryOptions{
		QueryKey: Key("revert-me"),
		QueryFn: QueryFn(func(ctx context.Context) (any, error) {
			select {
			case <-block:
				return "new", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	}
	q := client.queryCache.Build(opts)

	// Seed a successful prior fetch synchronously.
	q.onFetchSuccess(1)
	snapshotUpdatedAt := q.State().DataUpdatedAt
	require.Equal(t, 1, q.State().Data)

	resultCh := q.Fetch(nil)
	// give the fetch goroutine a moment to snapshot and start
	time.Sleep(5 * time.Millisecond)
	q.Cancel(CancelOptions{Revert: true})
	close(block)
	<-resultCh

	state := q.State()
	assert.Equal(t, 1, state.Data)
	assert.Equal(t, snapshotUpdatedAt, state.DataUpdatedAt)
	assert.Equal(t, FetchIdle, state.FetchStatus)
}

// Invalidate marks a query stale until a successful fetch resets it.
func TestQueryInvalidateMarksStaleUntilSuccess(t *testing.T) {
	client := newTestClient()
	opts := QueryOptions{
		QueryKey:  Key("inv"),
		StaleTime: time.Hour,
		QueryFn: QueryFn(func(ctx context.Context) (any, error) {
			return "ok", nil
		}),
	}
	q := client.queryCache.Build(opts)
	q.onFetchSuccess("v1")
	assert.False(t, q.IsStale())

	q.Invalidate()
	assert.True(t, q.IsStale())

	<-q.Fetch(nil)
	assert.False(t, q.IsStale())
}

// A query built with structural sharing enabled (the default) keeps the
// previous value's backing slice when a new fetch produces a deep-equal
// result, rather than replacing it with the freshly decoded one.
func TestQueryStructuralSharingPreservesIdentity(t *testing.T) {
	client := newTestClient()
	type payload struct{ Items []int }
	first := payload{Items: []int{1, 2, 3}}

	opts := QueryOptions{QueryKey: Key("structural")}
	q := client.queryCache.Build(opts)
	q.onFetchSuccess(first)

	second := payload{Items: []int{1, 2, 3}}
	q.onFetchSuccess(second)

	got := q.State().Data.(payload)
	assert.Equal(t, first.Items, got.Items)
	assert.Equal(t,
		reflect.ValueOf(first.Items).Pointer(),
		reflect.ValueOf(got.Items).Pointer(),
		"deep-equal slice should be replaced by the prior value's backing array, not a fresh copy",
	)
}

// Batched updates against the same query notify observers exactly once,
// with the final value.
func TestQueryBatchedSetDataNotifiesObserverOnce(t *testing.T) {
	client := newTestClient()
	opts := QueryOptions{QueryKey: Key("batched")}
	q := client.queryCache.Build(opts)

	var notifications int32
	var lastSeen any
	obs := client.NewQueryObserver(QueryObserverOptions{QueryOptions: opts})
	unsub := obs.Subscribe(func(r QueryResult) {
		atomic.AddInt32(&notifications, 1)
		lastSeen = r.Data
	})
	defer unsub()

	client.notifyManager.Batch(func() {
		for i := 0; i < 10; i++ {
			v := i
			q.dispatch(queryAction{kind: actionSuccess, data: v})
		}
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&notifications))
	assert.Equal(t, 9, lastSeen)
}

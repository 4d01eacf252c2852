package qcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/qcache/events"
)

// InvalidateQueries marks every matching query stale, but only refetches
// the ones with an active observer; unobserved matches stay
// stale-but-not-refetched until something next looks at them.
func TestInvalidateQueriesRefetchesOnlyObservedQueries(t *testing.T) {
	client := newTestClient()

	var watchedCalls, idleCalls int32
	watchedOpts := QueryOptions{
		QueryKey: Key("todos", "watched"),
		QueryFn: QueryFn(func(ctx context.Context) (any, error) {
			atomic.AddInt32(&watchedCalls, 1)
			return "watched-data", nil
		}),
	}
	idleOpts := QueryOptions{
		QueryKey: Key("todos", "idle"),
		QueryFn: QueryFn(func(ctx context.Context) (any, error) {
			atomic.AddInt32(&idleCalls, 1)
			return "idle-data", nil
		}),
	}

	watched := client.queryCache.Build(watchedOpts)
	idle := client.queryCache.Build(idleOpts)
	watched.onFetchSuccess("watched-data")
	idle.onFetchSuccess("idle-data")

	obs := client.NewQueryObserver(QueryObserverOptions{QueryOptions: watchedOpts})
	unsub := obs.Subscribe(func(QueryResult) {})
	defer unsub()
	require.Equal(t, 1, watched.ObserverCount())
	require.Equal(t, 0, idle.ObserverCount())

	client.InvalidateQueries(QueryFilters{QueryKey: Key("todos")})

	assert.True(t, watched.IsStale())
	assert.True(t, idle.IsStale())

	// One fetch from Subscribe (the seeded data is already stale at the
	// default StaleTime of 0) plus one refetch from InvalidateQueries.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&watchedCalls) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&idleCalls), "unobserved query must not be refetched by InvalidateQueries")
}

// Find/FindAll partial-key matching only returns entries whose key is an
// elementwise prefix extension of the filter key.
func TestQueryCacheFindAllPartialKeyMatch(t *testing.T) {
	client := newTestClient()
	client.queryCache.Build(QueryOptions{QueryKey: Key("todos", 1)})
	client.queryCache.Build(QueryOptions{QueryKey: Key("todos", 2)})
	client.queryCache.Build(QueryOptions{QueryKey: Key("users", 1)})

	matches := client.queryCache.FindAll(QueryFilters{QueryKey: Key("todos")})
	assert.Len(t, matches, 2)

	exact := client.queryCache.FindAll(QueryFilters{QueryKey: Key("todos", 1), Exact: true})
	assert.Len(t, exact, 1)
}

// Where (go-bexpr) filters further narrow the candidate set by status.
func TestQueryCacheFindAllWhereFilter(t *testing.T) {
	client := newTestClient()
	q1 := client.queryCache.Build(QueryOptions{QueryKey: Key("a")})
	q2 := client.queryCache.Build(QueryOptions{QueryKey: Key("b")})
	q1.onFetchSuccess("ok")
	q2.onFetchError(assertErr{"boom"})

	matches := client.queryCache.FindAll(QueryFilters{Where: `status == "error"`})
	require.Len(t, matches, 1)
	assert.Equal(t, q2.Hash(), matches[0].Hash())
}

// RemoveQueries deletes matching entries and cancels their in-flight fetch.
func TestQueryCacheRemoveQueriesDeletesEntries(t *testing.T) {
	client := newTestClient()
	client.queryCache.Build(QueryOptions{QueryKey: Key("gone", 1)})
	client.queryCache.Build(QueryOptions{QueryKey: Key("gone", 2)})
	require.Equal(t, 2, client.queryCache.Size())

	client.RemoveQueries(QueryFilters{QueryKey: Key("gone")})
	assert.Equal(t, 0, client.queryCache.Size())
}

// Subscribe delivers the actual recorded event to each handler, not just a
// signal that something changed.
func TestQueryCacheSubscribeReceivesEvent(t *testing.T) {
	client := newTestClient()

	var got []events.Event
	unsubscribe := client.queryCache.Subscribe(func(ev events.Event) {
		got = append(got, ev)
	})
	defer unsubscribe()

	q := client.queryCache.Build(QueryOptions{QueryKey: Key("watched")})
	q.onFetchSuccess("v1")

	require.NotEmpty(t, got)
	added, ok := got[0].(events.QueryAdded)
	require.True(t, ok, "first event must be QueryAdded")
	assert.Equal(t, q.Hash(), added.QueryHash)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

package qcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	snapshot DehydratedState
}

func (p *memPersister) PersistClient(s DehydratedState) error { p.snapshot = s; return nil }
func (p *memPersister) RestoreClient() (DehydratedState, error) { return p.snapshot, nil }
func (p *memPersister) RemoveClient() error                     { p.snapshot = DehydratedState{}; return nil }

func TestDehydrateHydrateRoundTripsQueryState(t *testing.T) {
	src := newTestClient()
	q := src.queryCache.Build(QueryOptions{QueryKey: Key("todos", 1)})
	q.onFetchSuccess("original-data")

	snap := Dehydrate(src, nil)
	require.Len(t, snap.Queries, 1)
	assert.Equal(t, SchemaVersion, snap.SchemaVersion)

	dst := newTestClient()
	require.NoError(t, Hydrate(dst, snap))

	data, ok := dst.GetQueryData(Key("todos", 1))
	require.True(t, ok)
	assert.Equal(t, "original-data", data)
}

// Hydrating fresh data must not itself trigger a fetch. The key's StaleTime
// default keeps the hydrated data fresh (with StaleTime 0 it would be stale
// at once, and attaching an observer would fetch).
func TestHydrateDoesNotTriggerFetch(t *testing.T) {
	src := newTestClient()
	q := src.queryCache.Build(QueryOptions{QueryKey: Key("no-fetch")})
	q.onFetchSuccess("cached")
	snap := Dehydrate(src, nil)

	var calls int
	dst := newTestClient()
	dst.SetQueryDefaults(Key("no-fetch"), QueryOptions{StaleTime: time.Hour})
	require.NoError(t, Hydrate(dst, snap))

	obs := dst.NewQueryObserver(QueryObserverOptions{
		QueryOptions: QueryOptions{
			QueryKey: Key("no-fetch"),
			QueryFn: QueryFn(func(ctx context.Context) (any, error) {
				calls++
				return "refetched", nil
			}),
		},
	})
	unsub := obs.Subscribe(func(QueryResult) {})
	defer unsub()

	assert.Equal(t, 0, calls, "hydrated fresh data must not be refetched on observer attach")
	assert.Equal(t, "cached", obs.GetCurrentResult().Data)
}

func TestHydrateRejectsIncompatibleSchemaVersion(t *testing.T) {
	dst := newTestClient()
	err := Hydrate(dst, DehydratedState{SchemaVersion: "99.0.0"})
	assert.Error(t, err)
}

func TestDehydrateFiltersViaShouldDehydrateQuery(t *testing.T) {
	client := newTestClient()
	client.queryCache.Build(QueryOptions{QueryKey: Key("keep")})
	client.queryCache.Build(QueryOptions{QueryKey: Key("skip")})

	snap := Dehydrate(client, &DehydrateOptions{
		ShouldDehydrateQuery: func(q *Query) bool {
			return q.Key()[0] == "keep"
		},
	})

	require.Len(t, snap.Queries, 1)
	assert.Equal(t, QueryKey{"keep"}, snap.Queries[0].QueryKey)
}

func TestPersisterRoundTripThroughMemPersister(t *testing.T) {
	p := &memPersister{}
	client := newTestClient()
	client.queryCache.Build(QueryOptions{QueryKey: Key("persisted")}).onFetchSuccess("v")

	require.NoError(t, p.PersistClient(Dehydrate(client, nil)))

	restored, err := p.RestoreClient()
	require.NoError(t, err)
	require.Len(t, restored.Queries, 1)
}

package qcache

import (
	"sync"

	"github.com/hashicorp/go-bexpr"
	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/hashicorp/qcache/events"
	"github.com/hashicorp/qcache/internal/eventlog"
	"github.com/hashicorp/qcache/internal/keyindex"
	"github.com/hashicorp/qcache/internal/metrics"
)

// QueryFilters selects a subset of a QueryCache's entries for Find/FindAll.
// Fields are ANDed together; zero-value fields are ignored.
type QueryFilters struct {
	// QueryKey, if non-nil, matches by partial key prefix unless Exact is
	// set, in which case the full key must match exactly.
	QueryKey QueryKey
	Exact    bool

	Status      *QueryStatus
	FetchStatus *FetchStatus
	Stale       *bool

	// Predicate is an arbitrary free-form filter over the candidate Query.
	Predicate func(*Query) bool

	// Where is a go-bexpr boolean expression evaluated against a flattened
	// view of the query's public state (hash, status, fetch_status, stale),
	// the filter surface a devtools adapter would expose as a search box.
	Where string
}

// queryFilterView is the bexpr-tagged projection QueryFilters.Where is
// evaluated against.
type queryFilterView struct {
	Hash        string `bexpr:"hash"`
	Status      string `bexpr:"status"`
	FetchStatus string `bexpr:"fetch_status"`
	Stale       bool   `bexpr:"stale"`
}

// QueryCache is the keyed store of Queries: queryHash -> *Query. Grounded
// on the depViewMap-keyed, mutex-guarded store a Watcher owns, generalized
// from "track Consul/Vault dependencies" to "track cached query results".
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*Query

	client *QueryClient
	logger hclog.Logger

	notify    *NotifyManager
	listeners events.Broadcaster

	gcTimers *gcTimers
	events   *eventlog.Log
	metrics  *metrics.Recorder
}

func newQueryCache(client *QueryClient, nm *NotifyManager, logger hclog.Logger, m *metrics.Recorder) *QueryCache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &QueryCache{
		entries:  make(map[string]*Query),
		client:   client,
		logger:   logger.Named("query_cache"),
		notify:   nm,
		gcTimers: newGCTimers(),
		events:   eventlog.New(256),
		metrics:  m,
	}
}

// Build returns the existing Query for opts.Hash(), or constructs and adds
// a new one (emitting "added").
func (c *QueryCache) Build(opts QueryOptions) *Query {
	hash := opts.Hash()

	c.mu.Lock()
	if q, ok := c.entries[hash]; ok {
		c.mu.Unlock()
		return q
	}
	c.mu.Unlock()

	q := newQuery(c.client, c, opts, c.logger)
	c.add(hash, q, opts)
	return q
}

func (c *QueryCache) add(hash string, q *Query, opts QueryOptions) {
	c.mu.Lock()
	c.entries[hash] = q
	c.mu.Unlock()

	c.metrics.SetGauge([]string{"query", "cache", "size"}, float32(c.Size()))
	c.logger.Trace("adding query", "hash", hash)

	c.notify.Batch(func() {
		c.record(events.QueryAdded{QueryHash: hash, QueryKey: []any(opts.QueryKey)})
	})
}

// Get returns the Query for hash, if present.
func (c *QueryCache) Get(hash string) (*Query, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.entries[hash]
	return q, ok
}

// GetAll returns every Query currently in the cache.
func (c *QueryCache) GetAll() []*Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Query, 0, len(c.entries))
	for _, q := range c.entries {
		out = append(out, q)
	}
	return out
}

// Size returns the number of entries currently cached.
func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove is the internal removal path used both by explicit RemoveQueries
// and by gc timer expiry: cancels the query's in-flight fetch and deletes
// it from the store, emitting "removed".
func (c *QueryCache) remove(q *Query) bool {
	hash := q.Hash()

	c.mu.Lock()
	_, ok := c.entries[hash]
	delete(c.entries, hash)
	c.mu.Unlock()
	if !ok {
		return false
	}

	q.Destroy()
	c.gcTimers.Cancel(hash)
	c.metrics.SetGauge([]string{"query", "cache", "size"}, float32(c.Size()))

	c.notify.Batch(func() {
		c.record(events.QueryRemoved{QueryHash: hash})
	})
	return true
}

// Remove removes every query matching filters.
func (c *QueryCache) Remove(filters QueryFilters) {
	matches := c.FindAll(filters)
	c.notify.Batch(func() {
		for _, q := range matches {
			c.remove(q)
		}
	})
}

// Find returns the first Query matching filters, if any.
func (c *QueryCache) Find(filters QueryFilters) *Query {
	all := c.FindAll(filters)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// FindAll returns every Query matching filters.
func (c *QueryCache) FindAll(filters QueryFilters) []*Query {
	candidates := c.candidateSet(filters)

	var eval *bexpr.Evaluator
	if filters.Where != "" {
		var err error
		eval, err = bexpr.CreateEvaluator(filters.Where)
		if err != nil {
			c.logger.Warn("invalid Where filter", "expr", filters.Where, "error", err)
			eval = nil
		}
	}

	out := make([]*Query, 0, len(candidates))
	for _, q := range candidates {
		if !c.matches(q, filters, eval) {
			continue
		}
		out = append(out, q)
	}
	return out
}

// candidateSet narrows the scan using the keyindex when a QueryKey filter
// is present, falling back to a full scan otherwise.
func (c *QueryCache) candidateSet(filters QueryFilters) []*Query {
	if len(filters.QueryKey) == 0 {
		return c.GetAll()
	}

	c.mu.Lock()
	idx := keyindex.New()
	for hash, q := range c.entries {
		idx.Insert(hash, []any(q.Key()))
	}
	c.mu.Unlock()

	var hashes []string
	if filters.Exact {
		for _, h := range idx.MatchPrefix([]any(filters.QueryKey)) {
			hashes = append(hashes, h)
		}
	} else {
		hashes = idx.MatchPrefix([]any(filters.QueryKey))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Query, 0, len(hashes))
	for _, h := range hashes {
		if q, ok := c.entries[h]; ok {
			if filters.Exact && len(q.Key()) != len(filters.QueryKey) {
				continue
			}
			out = append(out, q)
		}
	}
	return out
}

func (c *QueryCache) matches(q *Query, filters QueryFilters, eval *bexpr.Evaluator) bool {
	state := q.State()

	if filters.Status != nil && state.Status != *filters.Status {
		return false
	}
	if filters.FetchStatus != nil && state.FetchStatus != *filters.FetchStatus {
		return false
	}
	if filters.Stale != nil && q.IsStale() != *filters.Stale {
		return false
	}
	if filters.Predicate != nil && !filters.Predicate(q) {
		return false
	}
	if eval != nil {
		ok, err := eval.Evaluate(queryFilterView{
			Hash:        q.Hash(),
			Status:      string(state.Status),
			FetchStatus: string(state.FetchStatus),
			Stale:       q.IsStale(),
		})
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Clear removes every query, aggregating any per-entry teardown errors.
func (c *QueryCache) Clear() error {
	all := c.GetAll()
	var result *multierror.Error
	c.notify.Batch(func() {
		for _, q := range all {
			func() {
				defer func() {
					if r := recover(); r != nil {
						result = multierror.Append(result, errAsError(r))
					}
				}()
				c.remove(q)
			}()
		}
	})
	c.gcTimers.StopAll()
	return result.ErrorOrNil()
}

func errAsError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "qcache: panic during cache clear" }

// OnFocus broadcasts a focus transition to every observed query.
func (c *QueryCache) OnFocus() {
	for _, q := range c.GetAll() {
		if q.ObserverCount() > 0 {
			q.OnFocus()
		}
	}
}

// OnOnline broadcasts an online transition to every observed query.
func (c *QueryCache) OnOnline() {
	for _, q := range c.GetAll() {
		if q.ObserverCount() > 0 {
			q.OnOnline()
		}
	}
}

// notifyUpdated re-emits a Query's reducer transition on the event stream.
func (c *QueryCache) notifyUpdated(q *Query, kind queryActionKind) {
	state := q.State()
	c.notify.Batch(func() {
		c.record(events.QueryUpdated{
			QueryHash: q.Hash(),
			Action:    actionKindString(kind),
			Status:    string(state.Status),
			At:        state.DataUpdatedAt,
		})
	})
}

func (c *QueryCache) notifyObserverAdded(q *Query, _ *QueryObserver) {
	c.notify.Batch(func() {
		c.record(events.QueryObserverAdded{QueryHash: q.Hash()})
	})
}

func (c *QueryCache) notifyObserverRemoved(q *Query, _ *QueryObserver) {
	c.notify.Batch(func() {
		c.record(events.QueryObserverRemoved{QueryHash: q.Hash()})
	})
}

func (c *QueryCache) notifyObserverResultsUpdated(q *Query) {
	c.notify.Batch(func() {
		c.record(events.QueryObserverResultsUpdated{QueryHash: q.Hash()})
	})
}

func (c *QueryCache) notifyObserverOptionsUpdated(q *Query) {
	c.notify.Batch(func() {
		c.record(events.QueryObserverOptionsUpdated{QueryHash: q.Hash()})
	})
}

// record stores ev in the bounded event log and fans it out to stream
// subscribers.
func (c *QueryCache) record(ev events.Event) {
	c.events.Add(ev)
	c.listeners.Notify(ev)
}

// Subscribe registers handler to be invoked with each event as it is
// recorded (added, removed, updated, observer(Added|Removed), ...).
func (c *QueryCache) Subscribe(handler events.EventHandler) (unsubscribe func()) {
	return c.listeners.Subscribe(handler)
}

// RecentEvents returns the bounded history of recent cache events, oldest
// first, for devtools-style introspection.
func (c *QueryCache) RecentEvents() []events.Event {
	raw := c.events.Recent()
	out := make([]events.Event, 0, len(raw))
	for _, r := range raw {
		if ev, ok := r.(events.Event); ok {
			out = append(out, ev)
		}
	}
	return out
}

func actionKindString(kind queryActionKind) string {
	switch kind {
	case actionContinueFetch:
		return "continue"
	case actionFailed:
		return "failed"
	case actionPause:
		return "pause"
	case actionFetch:
		return "fetch"
	case actionSuccess:
		return "success"
	case actionError:
		return "error"
	case actionInvalidate:
		return "invalidate"
	case actionSetState:
		return "setState"
	case actionFetchReverted:
		return "fetchReverted"
	default:
		return "unknown"
	}
}

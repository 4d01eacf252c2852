package qcache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// GCTimeInfinite disables gc for a Query/Mutation entirely (the server-side
// default).
const GCTimeInfinite time.Duration = -1

// fetchFuture lets multiple concurrent Query.Fetch callers await the same
// in-flight attempt, the Go analogue of returning "the active promise" for
// single-flight dedup.
type fetchFuture struct {
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFetchFuture() *fetchFuture {
	return &fetchFuture{done: make(chan struct{})}
}

func (f *fetchFuture) resolve(r Result) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Wait returns a fresh channel that receives the eventual result once, so
// every caller gets its own channel over the one shared future.
func (f *fetchFuture) Wait() <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		<-f.done
		ch <- f.result
	}()
	return ch
}

// FetchOptions customizes one Query.Fetch call.
type FetchOptions struct {
	// CancelRefetch, if true, cancels an in-flight fetch (silently) and
	// starts a new one instead of joining the active one.
	CancelRefetch bool
	Meta          any
}

// Query is one cached entry: a key, its resolved options, reducer-managed
// state, fan-out to observers, and fetch orchestration via a Retryer.
// Grounded on the dependency + most-recent-data + dataLock + goroutine/
// channel fetch pair a view owns, generalized from "poll Consul on an
// interval" to "fetch on demand, single-flight, with gc when unobserved".
type Query struct {
	mu      sync.Mutex
	client  *QueryClient
	cache   *QueryCache
	logger  hclog.Logger
	options QueryOptions
	state   QueryState

	observers []*QueryObserver
	retryer   *Retryer
	future    *fetchFuture

	snapshotData          any
	snapshotDataUpdatedAt time.Time
}

func newQuery(client *QueryClient, cache *QueryCache, opts QueryOptions, logger hclog.Logger) *Query {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Query{
		client:  client,
		cache:   cache,
		logger:  logger.Named("query"),
		options: opts,
		state:   initialQueryState(&opts),
	}
}

// Key returns the query's canonicalized key.
func (q *Query) Key() QueryKey {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options.QueryKey
}

// Hash returns the query's hash.
func (q *Query) Hash() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options.Hash()
}

// Options returns a copy of the query's current options.
func (q *Query) Options() QueryOptions {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options
}

// SetOptions replaces the query's options (used when an observer's resolved
// options change the query's configuration without changing its hash).
func (q *Query) SetOptions(opts QueryOptions) {
	q.mu.Lock()
	q.options = opts
	q.mu.Unlock()
}

// State returns a copy of the query's current state.
func (q *Query) State() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// IsStale reports whether the query is stale given its own resolved
// staleTime.
func (q *Query) IsStale() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.IsStaleByTime(q.options.StaleTime)
}

// Invalidate marks the query stale without triggering a fetch.
func (q *Query) Invalidate() {
	q.dispatch(queryAction{kind: actionInvalidate})
}

// --- Observers ---------------------------------------------------------

// AddObserver registers o, cancelling any pending gc timer.
func (q *Query) AddObserver(o *QueryObserver) {
	q.mu.Lock()
	for _, e := range q.observers {
		if e == o {
			q.mu.Unlock()
			return
		}
	}
	q.observers = append(q.observers, o)
	hash := q.options.Hash()
	q.mu.Unlock()

	q.cache.gcTimers.Cancel(hash)
	q.cache.notifyObserverAdded(q, o)
}

// RemoveObserver deregisters o. If it was the last observer, arms a gc
// timer (unless gcTime is GCTimeInfinite) that removes the query from its
// cache on expiry.
func (q *Query) RemoveObserver(o *QueryObserver) {
	q.mu.Lock()
	for i, e := range q.observers {
		if e == o {
			q.observers = append(q.observers[:i], q.observers[i+1:]...)
			break
		}
	}
	remaining := len(q.observers)
	gcTime := q.options.GCTime
	hash := q.options.Hash()
	q.mu.Unlock()

	q.cache.notifyObserverRemoved(q, o)

	if remaining == 0 && gcTime != GCTimeInfinite {
		q.cache.gcTimers.Arm(hash, gcTime, func() {
			q.cache.remove(q)
		})
	}
}

// ObserverCount returns the number of currently subscribed observers.
func (q *Query) ObserverCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

func (q *Query) observerSnapshot() []*QueryObserver {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*QueryObserver, len(q.observers))
	copy(out, q.observers)
	return out
}

// --- Fetch ---------------------------------------------------------------

// Fetch runs the single-flight dedup, snapshot-for-revert, state transition
// to fetching/paused, behavior wrapping, and Retryer dispatch that together
// make up one fetch attempt.
func (q *Query) Fetch(fetchOpts *FetchOptions) <-chan Result {
	if fetchOpts == nil {
		fetchOpts = &FetchOptions{}
	}

	q.mu.Lock()
	if q.retryer != nil && !fetchOpts.CancelRefetch {
		future := q.future
		q.mu.Unlock()
		return future.Wait()
	}
	activeRetryer := q.retryer
	q.mu.Unlock()

	if activeRetryer != nil {
		activeRetryer.Cancel(CancelOptions{Silent: true})
	}

	q.mu.Lock()
	q.snapshotData = q.state.Data
	q.snapshotDataUpdatedAt = q.state.DataUpdatedAt
	opts := q.options
	q.mu.Unlock()

	canFetchNow := opts.NetworkMode == NetworkAlways || opts.NetworkMode == NetworkOfflineFirst || q.client.onlineManager.IsOnline()
	q.dispatch(queryAction{kind: actionFetch, meta: fetchOpts.Meta, paused: !canFetchNow})

	rawFn, skipped := ResolveQueryFn(opts.QueryFn)
	fetchFn := rawFn
	if opts.Behavior != nil {
		fetchFn = opts.Behavior(&FetchContext{QueryKey: opts.QueryKey, State: q.State(), FetchFn: rawFn})
	}
	if fetchFn == nil || skipped {
		future := newFetchFuture()
		q.mu.Lock()
		q.future = future
		q.mu.Unlock()
		err := errSkippedFetch
		q.dispatch(queryAction{kind: actionError, err: err})
		future.resolve(Result{Err: err})
		return future.Wait()
	}

	future := newFetchFuture()
	q.mu.Lock()
	q.future = future
	q.mu.Unlock()

	retryer := NewRetryer(RetryerConfig{
		Fn:          func(ctx context.Context) (any, error) { return fetchFn(ctx) },
		NetworkMode: opts.NetworkMode,
		Retry:       opts.Retry,
		RetryDelay:  opts.RetryDelay,
		IsOnline:    q.client.onlineManager.IsOnline,
		IsFocused:   q.client.focusManager.IsFocused,
		Metrics:     q.cache.metrics,
		MetricKey:   []string{"query", "fetch"},
		OnSuccess: func(data any) {
			q.onFetchSuccess(data)
		},
		OnError: func(err error) {
			q.onFetchError(err)
		},
		OnFail: func(failureCount int, err error) {
			q.dispatch(queryAction{kind: actionFailed, failureCount: failureCount, err: err})
		},
		OnPause: func() {
			q.dispatch(queryAction{kind: actionPause})
		},
		OnContinue: func() {
			q.dispatch(queryAction{kind: actionContinueFetch})
		},
	})

	q.mu.Lock()
	q.retryer = retryer
	q.mu.Unlock()

	resultCh := retryer.Start(context.Background())
	go func() {
		res := <-resultCh
		q.mu.Lock()
		q.retryer = nil
		q.mu.Unlock()
		future.resolve(res)
	}()

	return future.Wait()
}

// errSkippedQuery is returned when Fetch is invoked on a query whose
// resolved QueryFn is nil or the SkipToken sentinel.
type errSkippedQuery struct{}

func (errSkippedQuery) Error() string { return "qcache: query has no queryFn (skipped)" }

var errSkippedFetch error = errSkippedQuery{}

func (q *Query) onFetchSuccess(data any) {
	q.mu.Lock()
	if q.options.IsStructuralSharing() {
		data = ReplaceEqualDeep(q.state.Data, data)
	}
	q.mu.Unlock()
	q.dispatch(queryAction{kind: actionSuccess, data: data})
}

func (q *Query) onFetchError(err error) {
	if ce, ok := err.(*CancelledError); ok {
		if ce.Revert {
			q.mu.Lock()
			q.state.Data = q.snapshotData
			q.state.DataUpdatedAt = q.snapshotDataUpdatedAt
			q.state.FetchStatus = FetchIdle
			q.mu.Unlock()
			if !ce.Silent {
				q.cache.notifyUpdated(q, actionFetchReverted)
			}
			return
		}
		if ce.Silent {
			return
		}
	}
	q.dispatch(queryAction{kind: actionError, err: err})
}

// --- Cancellation ----------------------------------------------------------

// Cancel cancels the active Retryer, if any.
func (q *Query) Cancel(opts CancelOptions) {
	q.mu.Lock()
	retryer := q.retryer
	q.mu.Unlock()
	if retryer != nil {
		retryer.Cancel(opts)
	}
}

// Reset cancels any active fetch and returns the query to a fresh state,
// using InitialData if the options provide it.
func (q *Query) Reset() {
	q.Cancel(CancelOptions{Silent: true})
	q.mu.Lock()
	q.state = initialQueryState(&q.options)
	q.mu.Unlock()
	q.cache.notifyUpdated(q, actionSetState)
}

// Destroy cancels any active fetch; called by the owning cache on removal.
func (q *Query) Destroy() {
	q.Cancel(CancelOptions{Silent: true})
}

// --- Focus / Online reactivity ---------------------------------------------

// OnFocus triggers a refetch if any observer requests refetch-on-focus and
// the query is stale, then resumes the Retryer if it is paused. A refetch
// joins a fetch already in flight, so a paused one is woken rather than
// left waiting.
func (q *Query) OnFocus() {
	if len(q.observerSnapshot()) == 0 {
		return
	}
	if q.shouldRefetchOnFocus() {
		q.Fetch(nil)
	}
	q.resumeRetryer()
}

// OnOnline is the reconnect analogue of OnFocus.
func (q *Query) OnOnline() {
	if len(q.observerSnapshot()) == 0 {
		return
	}
	if q.shouldRefetchOnReconnect() {
		q.Fetch(nil)
	}
	q.resumeRetryer()
}

func (q *Query) resumeRetryer() {
	q.mu.Lock()
	retryer := q.retryer
	q.mu.Unlock()
	if retryer != nil {
		retryer.Continue()
	}
}

func (q *Query) shouldRefetchOnFocus() bool {
	q.mu.Lock()
	stale := q.state.IsStaleByTime(q.options.StaleTime)
	refetch := q.options.refetchOnWindowFocus()
	q.mu.Unlock()
	return stale && refetch && q.anyObserverWants(func(o *QueryObserver) bool { return o.options.refetchOnWindowFocus() })
}

func (q *Query) shouldRefetchOnReconnect() bool {
	q.mu.Lock()
	stale := q.state.IsStaleByTime(q.options.StaleTime)
	refetch := q.options.refetchOnReconnect()
	q.mu.Unlock()
	return stale && refetch && q.anyObserverWants(func(o *QueryObserver) bool { return o.options.refetchOnReconnect() })
}

func (q *Query) anyObserverWants(pred func(*QueryObserver) bool) bool {
	for _, o := range q.observerSnapshot() {
		if pred(o) {
			return true
		}
	}
	return false
}

// --- Reducer -----------------------------------------------------------

type queryActionKind int

const (
	actionContinueFetch queryActionKind = iota
	actionFailed
	actionPause
	actionFetch
	actionSuccess
	actionError
	actionInvalidate
	actionSetState
	actionFetchReverted
)

type queryAction struct {
	kind         queryActionKind
	meta         any
	paused       bool
	failureCount int
	err          error
	data         any
}

// dispatch applies action to state via the pure reducer, then notifies the
// cache (which re-emits on its event stream) and every current observer.
// Observer notification is deduped per query hash through ScheduleUnique,
// so repeated dispatches against the same query inside one NotifyManager
// batch still reach each observer exactly once, against the final state.
func (q *Query) dispatch(action queryAction) {
	q.mu.Lock()
	q.state = reduceQueryState(q.state, action)
	q.mu.Unlock()
	q.cache.notifyUpdated(q, action.kind)

	hash := q.Hash()
	q.cache.notify.ScheduleUnique("query-observers:"+hash, func() {
		for _, o := range q.observerSnapshot() {
			o.onQueryUpdate()
		}
	})
}

// reduceQueryState is the pure reducer driving Query's state machine.
func reduceQueryState(s QueryState, a queryAction) QueryState {
	switch a.kind {
	case actionFetch:
		s.FetchMeta = a.meta
		if a.paused {
			s.FetchStatus = FetchPaused
		} else {
			s.FetchStatus = FetchFetching
		}
		return s
	case actionPause:
		s.FetchStatus = FetchPaused
		return s
	case actionContinueFetch:
		s.FetchStatus = FetchFetching
		return s
	case actionFailed:
		s.FetchFailCount = a.failureCount
		s.FetchFailErr = a.err
		return s
	case actionSuccess:
		s.Data = a.data
		s.DataUpdatedAt = time.Now()
		s.Status = StatusSuccess
		s.Err = nil
		s.FetchStatus = FetchIdle
		s.IsInvalidated = false
		s.FetchFailCount = 0
		s.FetchFailErr = nil
		return s
	case actionError:
		s.Err = a.err
		s.ErrUpdatedAt = time.Now()
		s.Status = StatusError
		s.FetchStatus = FetchIdle
		s.FetchFailCount++
		s.FetchFailErr = a.err
		return s
	case actionInvalidate:
		s.IsInvalidated = true
		return s
	case actionSetState:
		return s
	default:
		return s
	}
}

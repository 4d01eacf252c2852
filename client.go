package qcache

import (
	"context"
	"reflect"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/imdario/mergo"

	"github.com/hashicorp/qcache/internal/metrics"
)

type queryDefaultEntry struct {
	keyPrefix QueryKey
	opts      QueryOptions
}

type mutationDefaultEntry struct {
	keyPrefix QueryKey
	opts      MutationOptions
}

// ClientOptions configures a new QueryClient.
type ClientOptions struct {
	Logger                 hclog.Logger
	Metrics                *metrics.Recorder
	DefaultQueryOptions    QueryOptions
	DefaultMutationOptions MutationOptions
	// Persister, if set, causes an unset NetworkMode to default to
	// NetworkOfflineFirst.
	Persister Persister
	// MutationCacheOnMutate, if set, runs ahead of every mutation's own
	// options-level OnMutate, the cache-wide "before every mutation" hook
	// a client installs once instead of repeating per mutation.
	MutationCacheOnMutate func(ctx any, variables any) (context any, err error)
}

// QueryClient is the façade binding the two caches, layered defaults, and
// the focus/online managers. Owns both caches the same way a single
// top-level process owns every dependency it watches.
type QueryClient struct {
	mu     sync.Mutex
	logger hclog.Logger
	metric *metrics.Recorder

	queryCache    *QueryCache
	mutationCache *MutationCache
	focusManager  *FocusManager
	onlineManager *OnlineManager
	notifyManager *NotifyManager

	persister Persister

	defaultQueryOptions    QueryOptions
	defaultMutationOptions MutationOptions
	queryDefaults          []queryDefaultEntry
	mutationDefaults       []mutationDefaultEntry

	mountCount  int
	unsubFocus  func()
	unsubOnline func()
}

// NewClient constructs a QueryClient with its own caches and managers.
func NewClient(opts ClientOptions) *QueryClient {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New("qcache")
	}

	c := &QueryClient{
		logger:                 logger.Named("client"),
		metric:                 m,
		focusManager:           NewFocusManager(),
		onlineManager:          NewOnlineManager(),
		notifyManager:          NewNotifyManager(),
		persister:              opts.Persister,
		defaultQueryOptions:    opts.DefaultQueryOptions,
		defaultMutationOptions: opts.DefaultMutationOptions,
	}
	c.queryCache = newQueryCache(c, c.notifyManager, logger, m)
	c.mutationCache = newMutationCache(c, c.notifyManager, logger, m, opts.MutationCacheOnMutate)
	return c
}

// LoadDefaultOptions loads a YAML defaults file and installs it as the
// client's default query options. Must be called before any query is
// built to take effect on those queries' resolution.
func (c *QueryClient) LoadDefaultOptions(path string) error {
	opts, err := LoadDefaultOptions(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.defaultQueryOptions = opts
	c.mu.Unlock()
	return nil
}

// SetQueryDefaults registers opts to be layered under any query whose key
// has keyPrefix as a partial-key prefix.
func (c *QueryClient) SetQueryDefaults(keyPrefix QueryKey, opts QueryOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryDefaults = append(c.queryDefaults, queryDefaultEntry{keyPrefix: keyPrefix, opts: opts})
}

// SetMutationDefaults is the mutation analogue of SetQueryDefaults, matched
// against MutationOptions.MutationKey.
func (c *QueryClient) SetMutationDefaults(keyPrefix QueryKey, opts MutationOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutationDefaults = append(c.mutationDefaults, mutationDefaultEntry{keyPrefix: keyPrefix, opts: opts})
}

func partialKeyMatch(prefix, key QueryKey) bool {
	if len(prefix) > len(key) {
		return false
	}
	for i, p := range prefix {
		if !reflect.DeepEqual(normalizeForHash(p), normalizeForHash(key[i])) {
			return false
		}
	}
	return true
}

// resolveQueryOptions layers the package defaults -> client defaults ->
// matching key defaults -> call-site options, via mergo, then applies the
// client's derived defaults.
func (c *QueryClient) resolveQueryOptions(o QueryOptions) QueryOptions {
	c.mu.Lock()
	clientDefaults := c.defaultQueryOptions
	matches := make([]QueryOptions, 0, len(c.queryDefaults))
	for _, d := range c.queryDefaults {
		if partialKeyMatch(d.keyPrefix, o.QueryKey) {
			matches = append(matches, d.opts)
		}
	}
	persister := c.persister
	c.mu.Unlock()

	merged := QueryOptions{StaleTime: DefaultStaleTime, GCTime: DefaultGCTime}
	_ = mergo.Merge(&merged, clientDefaults, mergo.WithOverride)
	for _, m := range matches {
		_ = mergo.Merge(&merged, m, mergo.WithOverride)
	}
	_ = mergo.Merge(&merged, o, mergo.WithOverride)

	if merged.NetworkMode == NetworkOnline && persister != nil {
		merged.NetworkMode = NetworkOfflineFirst
	}
	return merged
}

// resolveMutationOptions is the mutation analogue of resolveQueryOptions.
func (c *QueryClient) resolveMutationOptions(o MutationOptions) MutationOptions {
	c.mu.Lock()
	merged := c.defaultMutationOptions
	matches := make([]MutationOptions, 0, len(c.mutationDefaults))
	for _, d := range c.mutationDefaults {
		if partialKeyMatch(d.keyPrefix, o.MutationKey) {
			matches = append(matches, d.opts)
		}
	}
	c.mu.Unlock()

	for _, m := range matches {
		_ = mergo.Merge(&merged, m, mergo.WithOverride)
	}
	_ = mergo.Merge(&merged, o, mergo.WithOverride)
	return merged
}

// NewQueryObserver resolves opts and builds an observer attached to the
// corresponding (possibly newly built) Query.
func (c *QueryClient) NewQueryObserver(opts QueryObserverOptions) *QueryObserver {
	opts.QueryOptions = c.resolveQueryOptions(opts.QueryOptions)
	return newQueryObserver(c, opts)
}

// NewMutationObserver resolves opts and returns a fresh observer (not yet
// attached to any Mutation; Mutate builds one on demand).
func (c *QueryClient) NewMutationObserver(opts MutationObserverOptions) *MutationObserver {
	opts.MutationOptions = c.resolveMutationOptions(opts.MutationOptions)
	return newMutationObserver(c, opts)
}

// FetchQuery resolves opts, builds or finds the Query, and blocks for its
// result, returning an error on terminal failure.
func (c *QueryClient) FetchQuery(ctx context.Context, opts QueryOptions) (any, error) {
	resolved := c.resolveQueryOptions(opts)
	q := c.queryCache.Build(resolved)
	res := <-q.Fetch(nil)
	return res.Data, res.Err
}

// PrefetchQuery is FetchQuery but swallows errors, since prefetching is
// speculative.
func (c *QueryClient) PrefetchQuery(ctx context.Context, opts QueryOptions) {
	_, _ = c.FetchQuery(ctx, opts)
}

// EnsureQueryData returns the cached data if fresh, otherwise fetches.
func (c *QueryClient) EnsureQueryData(ctx context.Context, opts QueryOptions) (any, error) {
	resolved := c.resolveQueryOptions(opts)
	q := c.queryCache.Build(resolved)
	state := q.State()
	if state.Data != nil && !state.IsStaleByTime(resolved.StaleTime) {
		return state.Data, nil
	}
	return c.FetchQuery(ctx, opts)
}

// FetchInfiniteQuery is FetchQuery with an initial page parameter threaded
// through FetchOptions.Meta for a Behavior hook to consume; full
// multi-page accumulation is the Behavior hook's responsibility (see
// QueryBehavior), kept minimal here per the engine's "agnostic to paging
// strategy" scope.
func (c *QueryClient) FetchInfiniteQuery(ctx context.Context, opts QueryOptions, initialPageParam any) (any, error) {
	resolved := c.resolveQueryOptions(opts)
	q := c.queryCache.Build(resolved)
	res := <-q.Fetch(&FetchOptions{Meta: initialPageParam})
	return res.Data, res.Err
}

// PrefetchInfiniteQuery swallows errors, mirroring PrefetchQuery.
func (c *QueryClient) PrefetchInfiniteQuery(ctx context.Context, opts QueryOptions, initialPageParam any) {
	_, _ = c.FetchInfiniteQuery(ctx, opts, initialPageParam)
}

// EnsureInfiniteQueryData mirrors EnsureQueryData for infinite queries.
func (c *QueryClient) EnsureInfiniteQueryData(ctx context.Context, opts QueryOptions, initialPageParam any) (any, error) {
	resolved := c.resolveQueryOptions(opts)
	q := c.queryCache.Build(resolved)
	state := q.State()
	if state.Data != nil && !state.IsStaleByTime(resolved.StaleTime) {
		return state.Data, nil
	}
	return c.FetchInfiniteQuery(ctx, opts, initialPageParam)
}

// GetQueryData returns the cached data for key, if a query exists for it.
func (c *QueryClient) GetQueryData(key QueryKey) (any, bool) {
	q, ok := c.queryCache.Get(HashQueryKey(key))
	if !ok {
		return nil, false
	}
	state := q.State()
	return state.Data, state.Data != nil
}

// GetQueryState returns the full state for key, if a query exists for it.
func (c *QueryClient) GetQueryState(key QueryKey) (QueryState, bool) {
	q, ok := c.queryCache.Get(HashQueryKey(key))
	if !ok {
		return QueryState{}, false
	}
	return q.State(), true
}

// SetQueryData sets (building the query if necessary) the data for key via
// updater, which receives the previous data (nil if none).
func (c *QueryClient) SetQueryData(key QueryKey, updater func(old any) any) any {
	opts := c.resolveQueryOptions(QueryOptions{QueryKey: key})
	q := c.queryCache.Build(opts)
	next := updater(q.State().Data)
	q.dispatch(queryAction{kind: actionSuccess, data: next})
	return next
}

// GetQueriesData returns the data for every query matching filters, keyed
// by hash.
func (c *QueryClient) GetQueriesData(filters QueryFilters) map[string]any {
	out := make(map[string]any)
	for _, q := range c.queryCache.FindAll(filters) {
		out[q.Hash()] = q.State().Data
	}
	return out
}

// SetQueriesData applies updater to every query matching filters, batched
// into a single notification flush.
func (c *QueryClient) SetQueriesData(filters QueryFilters, updater func(old any) any) {
	matches := c.queryCache.FindAll(filters)
	c.notifyManager.Batch(func() {
		for _, q := range matches {
			next := updater(q.State().Data)
			q.dispatch(queryAction{kind: actionSuccess, data: next})
		}
	})
}

// InvalidateQueries marks every matching query isInvalidated, refetching
// only those with active observers.
func (c *QueryClient) InvalidateQueries(filters QueryFilters) {
	matches := c.queryCache.FindAll(filters)
	c.notifyManager.Batch(func() {
		for _, q := range matches {
			q.Invalidate()
			if q.ObserverCount() > 0 {
				q.Fetch(&FetchOptions{CancelRefetch: true})
			}
		}
	})
}

// RefetchQueries force-refetches every matching query regardless of
// staleness.
func (c *QueryClient) RefetchQueries(filters QueryFilters) {
	matches := c.queryCache.FindAll(filters)
	c.notifyManager.Batch(func() {
		for _, q := range matches {
			q.Fetch(&FetchOptions{CancelRefetch: true})
		}
	})
}

// ResetQueries returns every matching query to its fresh/initial state.
func (c *QueryClient) ResetQueries(filters QueryFilters) {
	matches := c.queryCache.FindAll(filters)
	c.notifyManager.Batch(func() {
		for _, q := range matches {
			q.Reset()
		}
	})
}

// RemoveQueries removes every matching query from the cache.
func (c *QueryClient) RemoveQueries(filters QueryFilters) {
	c.queryCache.Remove(filters)
}

// CancelQueries cancels the in-flight fetch of every matching query.
func (c *QueryClient) CancelQueries(filters QueryFilters, opts CancelOptions) {
	for _, q := range c.queryCache.FindAll(filters) {
		q.Cancel(opts)
	}
}

// IsFetching returns the number of matching queries currently fetching.
func (c *QueryClient) IsFetching(filters QueryFilters) int {
	count := 0
	for _, q := range c.queryCache.FindAll(filters) {
		if q.State().FetchStatus == FetchFetching {
			count++
		}
	}
	return count
}

// IsMutating returns the number of mutations currently pending.
func (c *QueryClient) IsMutating() int {
	count := 0
	for _, m := range c.mutationCache.GetAll() {
		if m.State().Status == MutationPending {
			count++
		}
	}
	return count
}

// ResumePausedMutations continues every currently paused mutation.
func (c *QueryClient) ResumePausedMutations() error {
	return c.mutationCache.ResumePausedMutations()
}

// Mount reference-counts a subscription to the focus/online managers; the
// first mount installs listeners that, on focus or reconnect, resume
// paused mutations and broadcast to the query cache. Returns an idempotent
// unmount function.
func (c *QueryClient) Mount() (unmount func()) {
	c.mu.Lock()
	c.mountCount++
	first := c.mountCount == 1
	c.mu.Unlock()

	if first {
		unsubFocus := c.focusManager.Subscribe(func() {
			if c.focusManager.IsFocused() {
				c.queryCache.OnFocus()
				_ = c.ResumePausedMutations()
			}
		})
		unsubOnline := c.onlineManager.Subscribe(func() {
			if c.onlineManager.IsOnline() {
				c.queryCache.OnOnline()
				_ = c.ResumePausedMutations()
			}
		})
		c.mu.Lock()
		c.unsubFocus = unsubFocus
		c.unsubOnline = unsubOnline
		c.mu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.mountCount--
			last := c.mountCount == 0
			unsubFocus, unsubOnline := c.unsubFocus, c.unsubOnline
			c.mu.Unlock()
			if last {
				if unsubFocus != nil {
					unsubFocus()
				}
				if unsubOnline != nil {
					unsubOnline()
				}
			}
		})
	}
}

// Clear removes every query and mutation from both caches.
func (c *QueryClient) Clear() error {
	err := c.queryCache.Clear()
	c.mutationCache.Clear()
	return err
}

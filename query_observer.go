package qcache

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// QueryResult is the derived, UI-facing view over a Query's state: the
// "tagged result" the design notes call for, expressed as one struct with
// cross-cutting flags rather than a sum type (Go has no ergonomic open sum
// type without generated code, and every flag here is independently
// meaningful to a renderer).
type QueryResult struct {
	Status      QueryStatus
	FetchStatus FetchStatus

	Data  any
	Error error

	DataUpdatedAt  time.Time
	ErrorUpdatedAt time.Time

	FailureCount  int
	FailureReason error

	IsPending  bool
	IsSuccess  bool
	IsError    bool
	IsFetching bool
	IsStale    bool

	IsPlaceholderData bool

	Refetch func(ctx context.Context, opts *FetchOptions) <-chan Result
}

// As type-asserts r.Data into T, reporting ok=false on mismatch — the
// generic sugar layered on top of the untyped core result, so callers with
// a known data type don't have to assert manually at every call site.
func As[T any](r QueryResult) (T, bool) {
	v, ok := r.Data.(T)
	return v, ok
}

// QueryObserverOptions layers QueryOptions with observer-only concerns.
type QueryObserverOptions struct {
	QueryOptions

	// NotifyOnChangeProps, when nil, notifies on any change (the safe
	// default for a non-reflective language per the design notes). A
	// single-element []string{"all"} is equivalent. An explicit list
	// restricts notification to changes in those QueryResult field names.
	NotifyOnChangeProps []string

	KeepPreviousData bool

	RefetchInterval             time.Duration
	RefetchIntervalInBackground bool
}

// QueryObserver is a per-subscription view over a Query: it resolves
// options, attaches to (or swaps) the underlying Query, computes a derived
// QueryResult, and notifies subscribers on tracked-property changes.
type QueryObserver struct {
	mu sync.Mutex

	client  *QueryClient
	options QueryObserverOptions

	query         *Query
	currentResult QueryResult
	previousData  any
	hadPrevious   bool

	listeners Subscribable

	ticker     *time.Ticker
	tickerStop chan struct{}
}

func newQueryObserver(client *QueryClient, opts QueryObserverOptions) *QueryObserver {
	o := &QueryObserver{client: client, options: opts}
	o.attach(client.queryCache.Build(opts.QueryOptions))
	o.currentResult = o.computeResult()
	return o
}

func (o *QueryObserver) attach(q *Query) {
	o.mu.Lock()
	prev := o.query
	o.query = q
	o.mu.Unlock()
	if prev != nil {
		prev.RemoveObserver(o)
	}
	q.AddObserver(o)
}

// Subscribe registers listener for result notifications. On every call it
// fetches if the query is enabled and stale, and starts the refetchInterval
// ticker if configured.
func (o *QueryObserver) Subscribe(listener func(QueryResult)) (unsubscribe func()) {
	wrapped := func() {
		listener(o.GetCurrentResult())
	}
	unsub := o.listeners.Subscribe(wrapped)

	o.mu.Lock()
	q := o.query
	opts := o.options
	o.mu.Unlock()

	if opts.IsEnabled() && opts.StaleTime >= 0 && q.IsStale() {
		q.Fetch(nil)
	}
	o.startRefetchInterval()

	return func() {
		unsub()
		o.stopRefetchInterval()
	}
}

// SetOptions re-resolves options; if the resolved hash changes, swaps to
// the (possibly newly built) Query for that hash.
func (o *QueryObserver) SetOptions(opts QueryObserverOptions) {
	opts.QueryOptions = o.client.resolveQueryOptions(opts.QueryOptions)
	o.mu.Lock()
	oldHash := o.query.Hash()
	newHash := opts.Hash()
	o.options = opts
	o.mu.Unlock()

	if newHash != oldHash {
		next := o.client.queryCache.Build(opts.QueryOptions)
		o.attach(next)
	} else {
		o.query.SetOptions(opts.QueryOptions)
	}

	o.recompute()
	o.client.queryCache.notifyObserverOptionsUpdated(o.query)
	o.restartRefetchInterval()
}

// GetCurrentResult returns the observer's last-computed result.
func (o *QueryObserver) GetCurrentResult() QueryResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentResult
}

// Refetch triggers a fetch on the underlying query regardless of staleness.
func (o *QueryObserver) Refetch(ctx context.Context, opts *FetchOptions) <-chan Result {
	return o.query.Fetch(opts)
}

// onQueryUpdate is invoked by Query.dispatch on every reducer transition.
func (o *QueryObserver) onQueryUpdate() {
	o.recompute()
}

func (o *QueryObserver) recompute() {
	old := o.GetCurrentResult()
	next := o.computeResult()

	o.mu.Lock()
	o.currentResult = next
	o.mu.Unlock()

	if o.shouldNotify(old, next) {
		o.listeners.notifyAll()
		o.client.queryCache.notifyObserverResultsUpdated(o.query)
	}
}

func (o *QueryObserver) computeResult() QueryResult {
	o.mu.Lock()
	q := o.query
	opts := o.options
	o.mu.Unlock()

	state := q.State()
	data := state.Data
	isPlaceholder := false

	if data == nil && opts.KeepPreviousData && o.hadPreviousData() {
		data = o.previousDataSnapshot()
		isPlaceholder = true
	} else if data == nil && opts.PlaceholderData != nil {
		data = opts.PlaceholderData
		isPlaceholder = true
	}

	if state.Status == StatusSuccess && !isPlaceholder {
		o.mu.Lock()
		o.previousData = state.Data
		o.hadPrevious = true
		o.mu.Unlock()
	}

	return QueryResult{
		Status:            state.Status,
		FetchStatus:       state.FetchStatus,
		Data:              data,
		Error:             state.Err,
		DataUpdatedAt:     state.DataUpdatedAt,
		ErrorUpdatedAt:    state.ErrUpdatedAt,
		FailureCount:      state.FetchFailCount,
		FailureReason:     state.FetchFailErr,
		IsPending:         state.Status == StatusPending,
		IsSuccess:         state.Status == StatusSuccess,
		IsError:           state.Status == StatusError,
		IsFetching:        state.FetchStatus == FetchFetching,
		IsStale:           state.IsStaleByTime(opts.StaleTime),
		IsPlaceholderData: isPlaceholder,
		Refetch:           func(ctx context.Context, fo *FetchOptions) <-chan Result { return q.Fetch(fo) },
	}
}

func (o *QueryObserver) hadPreviousData() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hadPrevious
}

func (o *QueryObserver) previousDataSnapshot() any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.previousData
}

// shouldNotify applies the tracked-property contract: nil or "all" notifies
// on any change; an explicit list restricts to those named fields.
func (o *QueryObserver) shouldNotify(old, next QueryResult) bool {
	o.mu.Lock()
	props := o.options.NotifyOnChangeProps
	o.mu.Unlock()

	changed := changedResultFields(old, next)
	if len(changed) == 0 {
		return false
	}
	if len(props) == 0 || contains(props, "all") {
		return true
	}
	for _, p := range props {
		if contains(changed, p) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// changedResultFields names every QueryResult field whose value differs
// between old and next, by exported field name.
func changedResultFields(old, next QueryResult) []string {
	var out []string
	ov := reflect.ValueOf(old)
	nv := reflect.ValueOf(next)
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Func {
			continue // Refetch closures are always distinct; not a meaningful diff
		}
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			out = append(out, field.Name)
		}
	}
	return out
}

func (o *QueryObserver) startRefetchInterval() {
	o.mu.Lock()
	interval := o.options.RefetchInterval
	inBackground := o.options.RefetchIntervalInBackground
	networkMode := o.options.NetworkMode
	o.mu.Unlock()
	if interval <= 0 {
		return
	}

	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	o.mu.Lock()
	o.ticker = ticker
	o.tickerStop = stop
	o.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if !inBackground && !o.client.focusManager.IsFocused() {
					continue
				}
				if networkMode != NetworkAlways && !o.client.onlineManager.IsOnline() {
					continue
				}
				o.query.Fetch(nil)
			}
		}
	}()
}

func (o *QueryObserver) stopRefetchInterval() {
	o.mu.Lock()
	stop := o.tickerStop
	o.ticker = nil
	o.tickerStop = nil
	o.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (o *QueryObserver) restartRefetchInterval() {
	o.stopRefetchInterval()
	o.startRefetchInterval()
}

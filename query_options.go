package qcache

import (
	"context"
	"time"
)

// QueryStatus reflects the data/error outcome lifecycle of a Query.
type QueryStatus string

const (
	StatusPending QueryStatus = "pending"
	StatusError   QueryStatus = "error"
	StatusSuccess QueryStatus = "success"
)

// FetchStatus reflects the execution state of a Query, independent of Status.
type FetchStatus string

const (
	FetchIdle     FetchStatus = "idle"
	FetchFetching FetchStatus = "fetching"
	FetchPaused   FetchStatus = "paused"
)

// DefaultStaleTime and DefaultGCTime are QueryOptions' zero-value defaults.
const (
	DefaultStaleTime = time.Duration(0)
	DefaultGCTime    = 5 * time.Minute
)

// FetchContext is passed to a QueryBehavior hook, which may wrap fetchFn
// (used, e.g., to fold paginated pages into one accumulated result the way
// an infinite query would).
type FetchContext struct {
	QueryKey QueryKey
	State    QueryState
	FetchFn  QueryFn
}

// QueryBehavior wraps the raw QueryFn into the one actually run, given the
// query's key and current state.
type QueryBehavior func(ctx *FetchContext) QueryFn

// QueryOptions configures how a Query is built, fetched and garbage
// collected. Zero value is a usable (if inert) configuration; QueryClient
// layers cache/client/call-site options together with mergo before a Query
// is built.
type QueryOptions struct {
	QueryKey    QueryKey
	QueryHash   string
	QueryHashFn func(QueryKey) string

	// QueryFn holds either a QueryFn, a plain func(context.Context)(any,
	// error), nil, or the SkipToken sentinel. Use ResolveQueryFn to read it.
	QueryFn any

	// Enabled gates whether the query is permitted to fetch at all. A nil
	// pointer resolves to true unless QueryFn is skipped.
	Enabled *bool

	StaleTime   time.Duration
	GCTime      time.Duration
	NetworkMode NetworkMode
	Retry       RetryPolicy
	RetryDelay  RetryDelayFunc
	Behavior    QueryBehavior

	// StructuralSharing defaults true (deep-equal replacement preserving
	// identity); set false to always replace data wholesale.
	StructuralSharing *bool

	InitialData          any
	InitialDataUpdatedAt time.Time
	PlaceholderData      any
	Meta                 map[string]any

	// RefetchOnWindowFocus/RefetchOnReconnect gate Query.OnFocus/OnOnline
	// refetch-on-stale behavior. RefetchOnWindowFocus defaults true;
	// RefetchOnReconnect defaults true unless NetworkMode is NetworkAlways.
	RefetchOnWindowFocus *bool
	RefetchOnReconnect   *bool
}

// ResolveQueryFn extracts the concrete QueryFn from QueryOptions.QueryFn,
// reporting skipped=true for nil or the SkipToken sentinel.
func ResolveQueryFn(v any) (fn QueryFn, skipped bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case skipTokenType:
		return nil, true
	case QueryFn:
		return t, false
	case func(context.Context) (any, error):
		return QueryFn(t), false
	default:
		return nil, true
	}
}

// IsEnabled resolves the effective Enabled flag: explicit false always wins;
// otherwise a skipped QueryFn forces false; otherwise default true.
func (o *QueryOptions) IsEnabled() bool {
	if o.Enabled != nil && !*o.Enabled {
		return false
	}
	_, skipped := ResolveQueryFn(o.QueryFn)
	if skipped {
		return false
	}
	if o.Enabled != nil {
		return *o.Enabled
	}
	return true
}

// IsStructuralSharing resolves the effective StructuralSharing flag.
func (o *QueryOptions) IsStructuralSharing() bool {
	return o.StructuralSharing == nil || *o.StructuralSharing
}

func (o *QueryOptions) refetchOnWindowFocus() bool {
	return o.RefetchOnWindowFocus == nil || *o.RefetchOnWindowFocus
}

func (o *QueryOptions) refetchOnReconnect() bool {
	if o.RefetchOnReconnect != nil {
		return *o.RefetchOnReconnect
	}
	return o.NetworkMode != NetworkAlways
}

// Hash returns the query's hash, computed from QueryKey via QueryHashFn (or
// the default HashQueryKey) if QueryHash is unset.
func (o *QueryOptions) Hash() string {
	if o.QueryHash != "" {
		return o.QueryHash
	}
	if o.QueryHashFn != nil {
		return o.QueryHashFn(o.QueryKey)
	}
	return HashQueryKey(o.QueryKey)
}

// QueryState is the reducer-managed state of one Query.
type QueryState struct {
	Data          any
	DataUpdatedAt time.Time

	Err            error
	ErrUpdatedAt   time.Time
	FetchFailCount int
	FetchFailErr   error
	FetchMeta      any

	IsInvalidated bool
	Status        QueryStatus
	FetchStatus   FetchStatus
}

// initialQueryState builds the starting QueryState for a freshly built
// Query, seeding from InitialData when present.
func initialQueryState(opts *QueryOptions) QueryState {
	if opts.InitialData != nil {
		return QueryState{
			Data:          opts.InitialData,
			DataUpdatedAt: nonZeroOr(opts.InitialDataUpdatedAt, time.Now()),
			Status:        StatusSuccess,
			FetchStatus:   FetchIdle,
		}
	}
	return QueryState{
		Status:      StatusPending,
		FetchStatus: FetchIdle,
	}
}

func nonZeroOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// IsStaleByTime reports whether state is stale given staleTime, per
// invalidate() or the data simply being old enough.
func (s *QueryState) IsStaleByTime(staleTime time.Duration) bool {
	if s.IsInvalidated {
		return true
	}
	if s.DataUpdatedAt.IsZero() {
		return true
	}
	return time.Since(s.DataUpdatedAt) >= staleTime
}

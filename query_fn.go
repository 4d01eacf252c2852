package qcache

import "context"

// QueryFn fetches the data for a Query. It is invoked with a context that is
// cancelled when the owning fetch is cancelled, and its return value becomes
// the query's new data (on nil error) or its new error.
//
// QueryOptions.QueryFn may hold the SkipToken sentinel instead of a QueryFn
// (ResolveQueryFn detects it), in which case the query is disabled.
type QueryFn func(ctx context.Context) (any, error)

// MutationFn performs one mutation attempt with the variables supplied to
// MutationObserver.Mutate.
type MutationFn func(ctx context.Context, variables any) (any, error)

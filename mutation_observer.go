package qcache

import "context"

// MutationResult is the derived, UI-facing view over a Mutation's state.
type MutationResult struct {
	Status    MutationStatus
	Data      any
	Error     error
	Variables any
	IsIdle    bool
	IsPending bool
	IsSuccess bool
	IsError   bool
	IsPaused  bool
}

// MutationObserverOptions configures a MutationObserver: the base
// MutationOptions plus nothing observer-specific yet (mirrors
// QueryObserverOptions' shape for symmetry and future growth).
type MutationObserverOptions struct {
	MutationOptions
}

// MutationObserver is a per-subscription view over a Mutation: Mutate
// attaches to a freshly built Mutation each call (mutations, unlike
// queries, are not looked up by key) and forwards state transitions to
// subscribers.
type MutationObserver struct {
	client  *QueryClient
	options MutationObserverOptions

	mutation  *Mutation
	listeners Subscribable
}

func newMutationObserver(client *QueryClient, opts MutationObserverOptions) *MutationObserver {
	return &MutationObserver{client: client, options: opts}
}

// MutateCallbacks overrides callbacks at the call-site, layered over the
// observer's own options, layered over cache defaults.
type MutateCallbacks struct {
	OnSuccess func(data, variables, context any)
	OnError   func(err error, variables, context any)
	OnSettled func(data any, err error, variables, context any)
}

// Mutate builds a new Mutation from the observer's options (merged with any
// call-site callback overrides) and executes it.
func (o *MutationObserver) Mutate(ctx context.Context, variables any, cbs *MutateCallbacks) <-chan Result {
	opts := o.options.MutationOptions
	opts.Callbacks = composeMutationCallbacks(opts.Callbacks, cbs)

	m := o.client.mutationCache.Build(opts)
	o.mutation = m
	m.addObserver(o)

	o.listeners.notifyAll()
	return m.Execute(ctx, variables)
}

// composeMutationCallbacks layers call-site overrides (cbs) over the
// resolved cache/client/observer callbacks, invoking both in the
// deterministic order (existing, then override).
func composeMutationCallbacks(base MutationCallbacks, cbs *MutateCallbacks) MutationCallbacks {
	if cbs == nil {
		return base
	}
	out := base
	if cbs.OnSuccess != nil {
		prev := base.OnSuccess
		out.OnSuccess = func(data, variables, context any) {
			if prev != nil {
				prev(data, variables, context)
			}
			cbs.OnSuccess(data, variables, context)
		}
	}
	if cbs.OnError != nil {
		prev := base.OnError
		out.OnError = func(err error, variables, context any) {
			if prev != nil {
				prev(err, variables, context)
			}
			cbs.OnError(err, variables, context)
		}
	}
	if cbs.OnSettled != nil {
		prev := base.OnSettled
		out.OnSettled = func(data any, err error, variables, context any) {
			if prev != nil {
				prev(data, err, variables, context)
			}
			cbs.OnSettled(data, err, variables, context)
		}
	}
	return out
}

// Reset clears the observer's view of its last mutation.
func (o *MutationObserver) Reset() {
	if o.mutation != nil {
		o.mutation.Reset()
	}
	o.mutation = nil
	o.listeners.notifyAll()
}

// GetCurrentResult derives a MutationResult from the observer's attached
// Mutation, or the idle zero value if none has run yet.
func (o *MutationObserver) GetCurrentResult() MutationResult {
	if o.mutation == nil {
		return MutationResult{Status: MutationIdle, IsIdle: true}
	}
	s := o.mutation.State()
	return MutationResult{
		Status:    s.Status,
		Data:      s.Data,
		Error:     s.Err,
		Variables: s.Variables,
		IsIdle:    s.Status == MutationIdle,
		IsPending: s.Status == MutationPending,
		IsSuccess: s.Status == MutationSuccess,
		IsError:   s.Status == MutationError,
		IsPaused:  s.IsPaused,
	}
}

// Subscribe registers listener for mutation result notifications.
func (o *MutationObserver) Subscribe(listener func(MutationResult)) (unsubscribe func()) {
	return o.listeners.Subscribe(func() { listener(o.GetCurrentResult()) })
}

func (o *MutationObserver) onMutationUpdate() {
	o.listeners.notifyAll()
}

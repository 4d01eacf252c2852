package qcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

var mutationIDSeq int64

func nextMutationID() int64 {
	return atomic.AddInt64(&mutationIDSeq, 1)
}

// Mutation is one write operation: state machine, lifecycle callbacks, and
// (when scoped) serialization against its sibling mutations. Grounded on
// the same goroutine/channel attempt-and-retry shape as Query, but driven
// by an explicit Execute call instead of a poll loop.
type Mutation struct {
	mu         sync.Mutex
	id         int64
	client     *QueryClient
	cache      *MutationCache
	logger     hclog.Logger
	options    MutationOptions
	state      MutationState
	observers  []*MutationObserver
	retryer    *Retryer
	lastResult Result
}

func newMutation(client *QueryClient, cache *MutationCache, opts MutationOptions, logger hclog.Logger) *Mutation {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Mutation{
		id:      nextMutationID(),
		client:  client,
		cache:   cache,
		logger:  logger.Named("mutation"),
		options: opts,
		state:   MutationState{Status: MutationIdle},
	}
}

// ID returns the mutation's monotonic identifier.
func (m *Mutation) ID() int64 { return m.id }

// Scope returns the mutation's serialization scope, or nil if unscoped.
func (m *Mutation) Scope() *MutationScope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options.Scope
}

// State returns a copy of the mutation's current state.
func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mutation) addObserver(o *MutationObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Mutation) removeObserver(o *MutationObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.observers {
		if e == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

func (m *Mutation) observerSnapshot() []*MutationObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MutationObserver, len(m.observers))
	copy(out, m.observers)
	return out
}

// Execute runs the mutation through its full idle->pending->settled cycle.
func (m *Mutation) Execute(ctx context.Context, variables any) <-chan Result {
	canStart := m.cache.canRun(m)

	m.mu.Lock()
	m.state = MutationState{
		Status:      MutationPending,
		Variables:   variables,
		SubmittedAt: time.Now().UnixNano(),
		IsPaused:    !canStart,
	}
	onMutate := m.options.Callbacks.OnMutate
	m.mu.Unlock()

	var mctx any
	if cacheOnMutate := m.cache.OnMutate(); cacheOnMutate != nil {
		c, err := cacheOnMutate(ctx, variables)
		if err == nil {
			mctx = c
		}
	}
	if onMutate != nil {
		c, err := onMutate(ctx, variables)
		if err == nil {
			mctx = c
		}
	}
	m.mu.Lock()
	m.state.Context = mctx
	m.mu.Unlock()

	m.cache.notifyUpdated(m, "execute")
	m.notifyObservers()

	return m.start(ctx, variables, mctx)
}

func (m *Mutation) start(ctx context.Context, variables, mctx any) <-chan Result {
	m.mu.Lock()
	opts := m.options
	m.mu.Unlock()

	retryer := NewRetryer(RetryerConfig{
		Fn: func(ctx context.Context) (any, error) {
			return opts.Fn(ctx, variables)
		},
		NetworkMode: opts.NetworkMode,
		Retry:       opts.Retry,
		RetryDelay:  opts.RetryDelay,
		CanRun:      func() bool { return m.cache.canRun(m) },
		IsOnline:    m.client.onlineManager.IsOnline,
		IsFocused:   m.client.focusManager.IsFocused,
		Metrics:     m.cache.metrics,
		MetricKey:   []string{"mutation", "pending"},
		OnPause: func() {
			m.mu.Lock()
			m.state.IsPaused = true
			m.mu.Unlock()
			m.cache.notifyUpdated(m, "pause")
			m.notifyObservers()
		},
		OnContinue: func() {
			m.mu.Lock()
			m.state.IsPaused = false
			m.mu.Unlock()
			m.cache.notifyUpdated(m, "continue")
			m.notifyObservers()
		},
		OnFail: func(failureCount int, err error) {
			m.mu.Lock()
			m.state.FailureCount = failureCount
			m.state.FailureErr = err
			m.mu.Unlock()
			m.cache.notifyUpdated(m, "failed")
			m.notifyObservers()
		},
	})

	m.mu.Lock()
	m.retryer = retryer
	m.mu.Unlock()

	resultCh := retryer.Start(ctx)
	out := make(chan Result, 1)
	go func() {
		res := <-resultCh
		m.mu.Lock()
		m.retryer = nil
		m.lastResult = res
		m.mu.Unlock()
		m.settle(ctx, variables, mctx, res)
		out <- res
		close(out)
	}()
	return out
}

func (m *Mutation) settle(ctx context.Context, variables, mctx any, res Result) {
	if ce, ok := res.Err.(*CancelledError); ok && ce.Silent {
		// A silent cancel comes from Reset, which has already returned the
		// state to idle.
		m.cache.runNext(m)
		return
	}
	m.mu.Lock()
	callbacks := m.options.Callbacks
	if res.Err == nil {
		m.state.Data = res.Data
		m.state.Err = nil
		m.state.Status = MutationSuccess
		m.state.IsPaused = false
	} else {
		m.state.Err = res.Err
		m.state.Status = MutationError
		m.state.IsPaused = false
	}
	m.mu.Unlock()

	if res.Err == nil {
		if callbacks.OnSuccess != nil {
			callbacks.OnSuccess(res.Data, variables, mctx)
		}
	} else if callbacks.OnError != nil {
		callbacks.OnError(res.Err, variables, mctx)
	}
	if callbacks.OnSettled != nil {
		callbacks.OnSettled(res.Data, res.Err, variables, mctx)
	}

	m.cache.notifyUpdated(m, "settled")
	m.notifyObservers()
	m.cache.runNext(m)
}

// Continue resumes a paused mutation, preserving failureCount and context.
func (m *Mutation) Continue(ctx context.Context) <-chan Result {
	m.mu.Lock()
	retryer := m.retryer
	variables := m.state.Variables
	mctx := m.state.Context
	m.mu.Unlock()

	if retryer != nil {
		retryer.Continue()
		out := make(chan Result, 1)
		go func() {
			m.mu.Lock()
			last := m.lastResult
			m.mu.Unlock()
			out <- last
			close(out)
		}()
		return out
	}
	return m.start(ctx, variables, mctx)
}

// Reset returns the mutation to idle, cancelling any active attempt.
func (m *Mutation) Reset() {
	m.mu.Lock()
	retryer := m.retryer
	m.state = MutationState{Status: MutationIdle}
	m.mu.Unlock()
	if retryer != nil {
		retryer.Cancel(CancelOptions{Silent: true})
	}
	m.notifyObservers()
}

func (m *Mutation) notifyObservers() {
	for _, o := range m.observerSnapshot() {
		o.onMutationUpdate()
	}
}

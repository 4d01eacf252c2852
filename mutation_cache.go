package qcache

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/hashicorp/qcache/events"
	"github.com/hashicorp/qcache/internal/eventlog"
	"github.com/hashicorp/qcache/internal/metrics"
)

// MutationCache is the set of Mutations, grouped by optional scope for
// serialized execution. Grounded on the same mutex-guarded map shape as
// QueryCache; the scope index reuses mutationScope (adapted from the
// teacher's insertion-ordered dependency set).
type MutationCache struct {
	mu        sync.Mutex
	all       map[int64]*Mutation
	scopes    map[string]*mutationScope
	client    *QueryClient
	logger    hclog.Logger
	notify    *NotifyManager
	listeners events.Broadcaster
	events    *eventlog.Log
	metrics   *metrics.Recorder

	// onMutate is the cache-level hook run before a mutation's own
	// options-level OnMutate, mirroring a client-wide "before every
	// mutation" interceptor. Nil means no cache-level hook is installed.
	onMutate func(ctx any, variables any) (context any, err error)
}

func newMutationCache(client *QueryClient, nm *NotifyManager, logger hclog.Logger, m *metrics.Recorder, onMutate func(ctx any, variables any) (context any, err error)) *MutationCache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MutationCache{
		all:      make(map[int64]*Mutation),
		scopes:   make(map[string]*mutationScope),
		client:   client,
		logger:   logger.Named("mutation_cache"),
		notify:   nm,
		events:   eventlog.New(256),
		metrics:  m,
		onMutate: onMutate,
	}
}

// OnMutate returns the cache-level OnMutate hook, if one was installed on
// the client, for Mutation.Execute to run ahead of the mutation's own
// options-level hook.
func (c *MutationCache) OnMutate() func(ctx any, variables any) (context any, err error) {
	return c.onMutate
}

// Build constructs and registers a new Mutation for opts.
func (c *MutationCache) Build(opts MutationOptions) *Mutation {
	m := newMutation(c.client, c, opts, c.logger)

	c.mu.Lock()
	c.all[m.id] = m
	var scopeID string
	if opts.Scope != nil {
		scopeID = opts.Scope.ID
		s, ok := c.scopes[scopeID]
		if !ok {
			s = newMutationScope()
			c.scopes[scopeID] = s
		}
		s.Add(m)
	}
	c.mu.Unlock()

	c.metrics.SetGauge([]string{"mutation", "cache", "size"}, float32(c.Size()))
	c.notify.Batch(func() {
		c.record(events.MutationAdded{MutationID: m.id, ScopeID: scopeID})
	})
	return m
}

// Get returns the mutation with the given ID, if present.
func (c *MutationCache) Get(id int64) (*Mutation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.all[id]
	return m, ok
}

// GetAll returns every mutation currently tracked.
func (c *MutationCache) GetAll() []*Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Mutation, 0, len(c.all))
	for _, m := range c.all {
		out = append(out, m)
	}
	return out
}

// Size returns the number of mutations currently tracked.
func (c *MutationCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.all)
}

// Find returns the first mutation matching predicate.
func (c *MutationCache) Find(predicate func(*Mutation) bool) *Mutation {
	for _, m := range c.GetAll() {
		if predicate(m) {
			return m
		}
	}
	return nil
}

// FindAll returns every mutation matching predicate.
func (c *MutationCache) FindAll(predicate func(*Mutation) bool) []*Mutation {
	var out []*Mutation
	for _, m := range c.GetAll() {
		if predicate == nil || predicate(m) {
			out = append(out, m)
		}
	}
	return out
}

// Remove deregisters m. This still emits "removed" even if m was already
// absent: removal is idempotent from the caller's point of view and the
// event stream mirrors intent, not presence.
func (c *MutationCache) Remove(m *Mutation) {
	c.mu.Lock()
	delete(c.all, m.id)
	if scope := m.Scope(); scope != nil {
		if s, ok := c.scopes[scope.ID]; ok {
			s.Remove(m)
		}
	}
	c.mu.Unlock()

	c.metrics.SetGauge([]string{"mutation", "cache", "size"}, float32(c.Size()))
	c.notify.Batch(func() {
		c.record(events.MutationRemoved{MutationID: m.id})
	})
}

// Clear removes every mutation.
func (c *MutationCache) Clear() {
	all := c.GetAll()
	c.notify.Batch(func() {
		for _, m := range all {
			c.Remove(m)
		}
	})
}

// canRun reports whether m is permitted to become pending: unscoped
// mutations always may; scoped mutations may only if no earlier sibling in
// the scope is pending, or m itself is that earliest pending sibling.
func (c *MutationCache) canRun(m *Mutation) bool {
	scope := m.Scope()
	if scope == nil {
		return true
	}

	c.mu.Lock()
	s, ok := c.scopes[scope.ID]
	c.mu.Unlock()
	if !ok {
		return true
	}

	for _, sibling := range s.List() {
		if sibling == m {
			return true
		}
		if sibling.State().Status == MutationPending {
			return false
		}
	}
	return true
}

// runNext advances m's scope: finds the next paused sibling after m and
// continues it.
func (c *MutationCache) runNext(m *Mutation) {
	scope := m.Scope()
	if scope == nil {
		return
	}

	c.mu.Lock()
	s, ok := c.scopes[scope.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	found := false
	for _, sibling := range s.List() {
		if sibling == m {
			found = true
			continue
		}
		if !found {
			continue
		}
		if sibling.State().IsPaused {
			sibling.Continue(context.Background())
			return
		}
	}
}

// ResumePausedMutations continues every currently paused mutation across
// all scopes, aggregating per-mutation errors into a single collected
// report instead of swallowing them silently.
func (c *MutationCache) ResumePausedMutations() error {
	var result *multierror.Error
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, m := range c.GetAll() {
		if !m.State().IsPaused {
			continue
		}
		wg.Add(1)
		go func(m *Mutation) {
			defer wg.Done()
			res := <-m.Continue(context.Background())
			if res.Err != nil {
				mu.Lock()
				result = multierror.Append(result, res.Err)
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()
	return result.ErrorOrNil()
}

func (c *MutationCache) notifyUpdated(m *Mutation, action string) {
	state := m.State()
	c.notify.Batch(func() {
		c.record(events.MutationUpdated{MutationID: m.id, Action: action, Status: string(state.Status)})
	})
}

func (c *MutationCache) record(ev events.Event) {
	c.events.Add(ev)
	c.listeners.Notify(ev)
}

// Subscribe registers handler to be invoked with each event as it is
// recorded (added, removed, updated).
func (c *MutationCache) Subscribe(handler events.EventHandler) (unsubscribe func()) {
	return c.listeners.Subscribe(handler)
}

// RecentEvents returns the bounded history of recent mutation events.
func (c *MutationCache) RecentEvents() []events.Event {
	raw := c.events.Recent()
	out := make([]events.Event, 0, len(raw))
	for _, r := range raw {
		if ev, ok := r.(events.Event); ok {
			out = append(out, ev)
		}
	}
	return out
}

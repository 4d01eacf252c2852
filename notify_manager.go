package qcache

import "sync"

// NotifyFunc invokes a single queued callback. The default simply calls it.
type NotifyFunc func(cb func())

// BatchNotifyFunc wraps the invocation of an entire flushed batch. The
// default runs every queued callback in order via notifyFn.
type BatchNotifyFunc func(run func())

// ScheduleFunc defers running fn. Go has no microtask queue, so the default
// runs fn synchronously once the outermost Batch returns (depth 0) — the
// closest analogue to "schedule a zero-delay task" available without an
// event loop. A host may install a goroutine-based ScheduleFunc instead.
type ScheduleFunc func(fn func())

// NotifyManager batches listener invocations across nested transactions. Any
// public QueryClient/cache operation that may cause multiple state updates
// (e.g. InvalidateQueries, SetQueriesData) brackets its work in Batch so
// observers are notified once per flush instead of once per intermediate
// update.
type NotifyManager struct {
	mu      sync.Mutex
	depth   int
	queue   []func()
	pending map[string]int // dedup key -> index in queue, for ScheduleUnique

	notifyFn    NotifyFunc
	batchNotify BatchNotifyFunc
	scheduleFn  ScheduleFunc
}

// NewNotifyManager constructs a NotifyManager with the default synchronous
// notify/batch/schedule functions.
func NewNotifyManager() *NotifyManager {
	return &NotifyManager{
		notifyFn:    func(cb func()) { cb() },
		batchNotify: func(run func()) { run() },
		scheduleFn:  func(fn func()) { fn() },
	}
}

// SetNotifyFunction overrides how a single callback is invoked.
func (nm *NotifyManager) SetNotifyFunction(fn NotifyFunc) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.notifyFn = fn
}

// SetBatchNotifyFunction overrides how a flushed batch is invoked, letting a
// host wrap a flush in its own batching primitive (e.g. a UI framework's
// update coalescer).
func (nm *NotifyManager) SetBatchNotifyFunction(fn BatchNotifyFunc) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.batchNotify = fn
}

// SetScheduleFunction overrides how a flush is deferred.
func (nm *NotifyManager) SetScheduleFunction(fn ScheduleFunc) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.scheduleFn = fn
}

// Batch runs fn with the transaction depth incremented. If depth returns to
// zero, the queue accumulated during fn (and any nested Batch calls) is
// flushed exactly once. A panic inside fn still decrements the depth and
// flushes before propagating, matching "exceptions thrown by fn still
// decrement the counter and flush".
func (nm *NotifyManager) Batch(fn func()) {
	nm.mu.Lock()
	nm.depth++
	nm.mu.Unlock()

	defer func() {
		nm.mu.Lock()
		nm.depth--
		var flush func()
		if nm.depth == 0 {
			queue := nm.queue
			nm.queue = nil
			nm.pending = nil
			notifyFn := nm.notifyFn
			batchNotify := nm.batchNotify
			scheduleFn := nm.scheduleFn
			if len(queue) > 0 {
				flush = func() {
					scheduleFn(func() {
						batchNotify(func() {
							for _, cb := range queue {
								notifyFn(cb)
							}
						})
					})
				}
			}
		}
		nm.mu.Unlock()
		if flush != nil {
			flush()
		}
	}()

	fn()
}

// Schedule enqueues cb if a Batch transaction is active, otherwise invokes
// it immediately via notifyFn.
func (nm *NotifyManager) Schedule(cb func()) {
	nm.mu.Lock()
	if nm.depth > 0 {
		nm.queue = append(nm.queue, cb)
		nm.mu.Unlock()
		return
	}
	notifyFn := nm.notifyFn
	nm.mu.Unlock()
	notifyFn(cb)
}

// ScheduleUnique enqueues cb under key if a Batch transaction is active,
// replacing any callback already pending under the same key rather than
// appending a second one — so N dispatches against the same query within
// one flush still notify its observers exactly once, with the final state
// so a flood of updates against one entity still surfaces as one render.
// Outside a batch it behaves like Schedule.
func (nm *NotifyManager) ScheduleUnique(key string, cb func()) {
	nm.mu.Lock()
	if nm.depth > 0 {
		if nm.pending == nil {
			nm.pending = make(map[string]int)
		}
		if idx, ok := nm.pending[key]; ok {
			nm.queue[idx] = cb
		} else {
			nm.pending[key] = len(nm.queue)
			nm.queue = append(nm.queue, cb)
		}
		nm.mu.Unlock()
		return
	}
	notifyFn := nm.notifyFn
	nm.mu.Unlock()
	notifyFn(cb)
}

// BatchCalls returns a wrapper around fn that Schedules each invocation
// instead of calling fn directly.
func (nm *NotifyManager) BatchCalls(fn func(args ...any)) func(args ...any) {
	return func(args ...any) {
		nm.Schedule(func() { fn(args...) })
	}
}

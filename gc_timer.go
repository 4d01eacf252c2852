package qcache

import (
	"sync"
	"time"
)

// gcTimers is a threadsafe registry of per-entry garbage-collection timers,
// keyed by queryHash/mutationID. Generalized from a buffer-period timer pool
// (arm on deactivation, cancel on re-activation, fire once) into gc duty:
// a Query/Mutation with zero observers arms one, any new observer cancels it.
type gcTimers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newGCTimers() *gcTimers {
	return &gcTimers{timers: make(map[string]*time.Timer)}
}

// Arm (re)schedules fire to run after d, replacing any existing timer for
// id. A non-positive d fires on the next scheduler tick; callers wanting
// "never GC" (gcTime = Infinity) should not call Arm at all.
func (t *gcTimers) Arm(id string, d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[id]; ok {
		existing.Stop()
	}
	t.timers[id] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		fire()
	})
}

// Cancel stops and removes id's timer, if any. Returns true if a timer was
// actually armed.
func (t *gcTimers) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.timers[id]
	if !ok {
		return false
	}
	existing.Stop()
	delete(t.timers, id)
	return true
}

// Armed reports whether id currently has a pending gc timer.
func (t *gcTimers) Armed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[id]
	return ok
}

// StopAll cancels every pending timer, used when a cache is cleared.
func (t *gcTimers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

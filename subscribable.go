package qcache

import "sync"

// listener is the generic callback shape managed by Subscribable.
type listener func()

// subscribeHooks lets an embedding struct react to the first subscribe and
// last unsubscribe, the way FocusManager/OnlineManager lazily install and
// tear down a platform event source.
type subscribeHooks interface {
	onSubscribe()
	onUnsubscribe()
}

// Subscribable is a generic publisher of zero-argument callbacks. It is the
// base other managers and caches build on, mirroring the small
// composable structs (stringSet, depSet) embedded by bigger types.
type Subscribable struct {
	mu        sync.Mutex
	listeners map[int]listener
	nextID    int
	hooks     subscribeHooks
}

// bindHooks lets an embedding type register itself as the subscribeHooks
// implementation (Go has no virtual-method override, so this stands in for
// the "protected onSubscribe/onUnsubscribe" pattern).
func (s *Subscribable) bindHooks(h subscribeHooks) {
	s.hooks = h
}

// Subscribe registers listener and returns an idempotent unsubscribe
// function.
func (s *Subscribable) Subscribe(l listener) (unsubscribe func()) {
	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[int]listener)
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	firstSubscriber := len(s.listeners) == 1
	s.mu.Unlock()

	if firstSubscriber && s.hooks != nil {
		s.hooks.onSubscribe()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			lastSubscriber := len(s.listeners) == 0
			s.mu.Unlock()
			if lastSubscriber && s.hooks != nil {
				s.hooks.onUnsubscribe()
			}
		})
	}
}

// HasListeners reports whether any listener is currently subscribed. Exposed
// so subclasses can manage lazy event-source setup outside the
// subscribe/unsubscribe hooks too (e.g. before doing optional work).
func (s *Subscribable) HasListeners() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners) > 0
}

// notifyAll invokes every currently subscribed listener. Listeners are
// snapshotted under the lock and invoked outside it so a listener may
// subscribe/unsubscribe without deadlocking.
func (s *Subscribable) notifyAll() {
	s.mu.Lock()
	snapshot := make([]listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		snapshot = append(snapshot, l)
	}
	s.mu.Unlock()

	for _, l := range snapshot {
		l()
	}
}

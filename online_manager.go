package qcache

import "sync"

// OnlineSetupFunc installs a platform hook that calls onChange whenever
// connectivity transitions, and returns a teardown func.
type OnlineSetupFunc func(onChange func(online bool)) (teardown func())

// OnlineManager publishes boolean online transitions to subscribers.
type OnlineManager struct {
	Subscribable

	mu       sync.Mutex
	online   bool
	setup    OnlineSetupFunc
	teardown func()
}

// NewOnlineManager constructs an OnlineManager defaulting to online.
func NewOnlineManager() *OnlineManager {
	om := &OnlineManager{online: true}
	om.bindHooks(om)
	return om
}

func (om *OnlineManager) onSubscribe() {
	om.mu.Lock()
	setup := om.setup
	om.mu.Unlock()
	if setup == nil {
		return
	}
	teardown := setup(om.setOnlineInternal)
	om.mu.Lock()
	om.teardown = teardown
	om.mu.Unlock()
}

func (om *OnlineManager) onUnsubscribe() {
	om.mu.Lock()
	teardown := om.teardown
	om.teardown = nil
	om.mu.Unlock()
	if teardown != nil {
		teardown()
	}
}

// SetEventListener swaps the platform setup function, tearing down the
// prior one first (if currently subscribed).
func (om *OnlineManager) SetEventListener(setup OnlineSetupFunc) {
	om.mu.Lock()
	hadListeners := om.HasListeners()
	prevTeardown := om.teardown
	om.setup = setup
	om.teardown = nil
	om.mu.Unlock()

	if prevTeardown != nil {
		prevTeardown()
	}
	if hadListeners && setup != nil {
		teardown := setup(om.setOnlineInternal)
		om.mu.Lock()
		om.teardown = teardown
		om.mu.Unlock()
	}
}

// IsOnline returns the current connectivity state.
func (om *OnlineManager) IsOnline() bool {
	om.mu.Lock()
	defer om.mu.Unlock()
	return om.online
}

func (om *OnlineManager) setOnlineInternal(online bool) {
	om.mu.Lock()
	changed := online != om.online
	om.online = online
	om.mu.Unlock()
	if changed {
		om.notifyAll()
	}
}

// SetOnline forces the online state directly (there is no platform-derive
// case for connectivity the way FocusManager re-derives from visibility;
// online defaults true and stays whatever it was last set to).
func (om *OnlineManager) SetOnline(online bool) {
	om.setOnlineInternal(online)
}

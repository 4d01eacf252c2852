package qcache

import "sync"

// FocusSetupFunc installs a platform hook that calls onChange whenever
// window/application focus transitions, and returns a teardown func. A nil
// FocusSetupFunc means no platform hook is available (the default for a
// headless Go process), in which case FocusManager reports focused.
type FocusSetupFunc func(onChange func(focused bool)) (teardown func())

// FocusManager publishes boolean focus transitions to subscribers.
type FocusManager struct {
	Subscribable

	mu       sync.Mutex
	focused  bool
	setup    FocusSetupFunc
	teardown func()
}

// NewFocusManager constructs a FocusManager defaulting to focused, since
// without an explicit platform hook there is no window to lose focus.
func NewFocusManager() *FocusManager {
	fm := &FocusManager{focused: true}
	fm.bindHooks(fm)
	return fm
}

func (fm *FocusManager) onSubscribe() {
	fm.mu.Lock()
	setup := fm.setup
	fm.mu.Unlock()
	if setup == nil {
		return
	}
	teardown := setup(fm.setFocusedInternal)
	fm.mu.Lock()
	fm.teardown = teardown
	fm.mu.Unlock()
}

func (fm *FocusManager) onUnsubscribe() {
	fm.mu.Lock()
	teardown := fm.teardown
	fm.teardown = nil
	fm.mu.Unlock()
	if teardown != nil {
		teardown()
	}
}

// SetEventListener swaps the platform setup function, tearing down the
// prior one first (if currently subscribed).
func (fm *FocusManager) SetEventListener(setup FocusSetupFunc) {
	fm.mu.Lock()
	hadListeners := fm.HasListeners()
	prevTeardown := fm.teardown
	fm.setup = setup
	fm.teardown = nil
	fm.mu.Unlock()

	if prevTeardown != nil {
		prevTeardown()
	}
	if hadListeners && setup != nil {
		teardown := setup(fm.setFocusedInternal)
		fm.mu.Lock()
		fm.teardown = teardown
		fm.mu.Unlock()
	}
}

// IsFocused returns the current focus state.
func (fm *FocusManager) IsFocused() bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.focused
}

func (fm *FocusManager) setFocusedInternal(focused bool) {
	fm.mu.Lock()
	changed := focused != fm.focused
	fm.focused = focused
	fm.mu.Unlock()
	if changed {
		fm.notifyAll()
	}
}

// SetFocused forces the focus state. Passing nil re-derives from the
// platform hook by re-running setup's initial callback semantics: since Go
// has no direct "ask the platform now" primitive, re-deriving means
// re-installing the hook, which is expected to immediately report current
// state via onChange.
func (fm *FocusManager) SetFocused(focused *bool) {
	if focused == nil {
		fm.mu.Lock()
		setup := fm.setup
		hadListeners := fm.HasListeners()
		prevTeardown := fm.teardown
		fm.mu.Unlock()
		if setup == nil || !hadListeners {
			return
		}
		if prevTeardown != nil {
			prevTeardown()
		}
		teardown := setup(fm.setFocusedInternal)
		fm.mu.Lock()
		fm.teardown = teardown
		fm.mu.Unlock()
		return
	}
	fm.setFocusedInternal(*focused)
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package events defines the typed event stream QueryCache and
// MutationCache emit: added|removed|updated|observerAdded|observerRemoved|
// observerResultsUpdated|observerOptionsUpdated, the external interface a
// devtools adapter observes.
package events

import (
	"sync"
	"time"
)

// EventHandler is the callback signature for receiving events.
type EventHandler func(Event)

// Broadcaster fans a recorded event out to every subscribed handler. It is
// the shared subscription mechanism QueryCache and MutationCache both embed
// for their event streams.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[int]EventHandler
	nextID    int
}

// Subscribe registers handler and returns an idempotent unsubscribe
// function.
func (b *Broadcaster) Subscribe(handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	if b.listeners == nil {
		b.listeners = make(map[int]EventHandler)
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Notify invokes every currently subscribed handler with ev. Handlers are
// snapshotted under the lock and invoked outside it so a handler may
// subscribe/unsubscribe without deadlocking.
func (b *Broadcaster) Notify(ev Event) {
	b.mu.Lock()
	snapshot := make([]EventHandler, 0, len(b.listeners))
	for _, h := range b.listeners {
		snapshot = append(snapshot, h)
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		h(ev)
	}
}

// Event type-restricts the variants a cache may emit.
type Event interface {
	isEvent()
}

// QueryAdded is emitted when QueryCache.Build constructs a new Query.
type QueryAdded struct {
	event
	QueryHash string
	QueryKey  any
}

// QueryRemoved is emitted when a Query is removed from its cache (by gc or
// an explicit RemoveQueries call).
type QueryRemoved struct {
	event
	QueryHash string
}

// QueryUpdated is emitted after every reducer transition on a Query:
// Action names the dispatched action kind (fetch, success, error, ...).
type QueryUpdated struct {
	event
	QueryHash string
	Action    string
	Status    string
	At        time.Time
}

// QueryObserverAdded/Removed are emitted when an observer (de)registers
// from a Query.
type QueryObserverAdded struct {
	event
	QueryHash string
}

type QueryObserverRemoved struct {
	event
	QueryHash string
}

// QueryObserverResultsUpdated is emitted when an observer recomputes and
// notifies its subscribers of a new derived result.
type QueryObserverResultsUpdated struct {
	event
	QueryHash string
}

// QueryObserverOptionsUpdated is emitted when an observer's resolved
// options change (possibly swapping its underlying Query).
type QueryObserverOptionsUpdated struct {
	event
	QueryHash string
}

// MutationAdded/Removed/Updated mirror the query variants for the
// MutationCache's parallel event stream.
type MutationAdded struct {
	event
	MutationID int64
	ScopeID    string
}

type MutationRemoved struct {
	event
	MutationID int64
}

type MutationUpdated struct {
	event
	MutationID int64
	Action     string
	Status     string
	At         time.Time
}

// Event interface fulfillment.
type event struct{}

func (event) isEvent() {}

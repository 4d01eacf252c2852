// Package eventlog is a bounded, queryable history of recent cache events,
// adapted from an unbounded event-callback stream into a capped ring a
// devtools-style adapter can page through without a long-lived process
// leaking memory.
package eventlog

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Log retains the most recent N events added to it, evicting the oldest
// once full.
type Log struct {
	mu    sync.Mutex
	cache *lru.Cache
	seq   uint64
}

// New constructs a Log retaining at most size events. size<=0 defaults to
// 256.
func New(size int) *Log {
	if size <= 0 {
		size = 256
	}
	c, _ := lru.New(size)
	return &Log{cache: c}
}

// Add appends event to the log, evicting the oldest entry if full.
func (l *Log) Add(event any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.cache.Add(l.seq, event)
}

// Recent returns every currently retained event, oldest first.
func (l *Log) Recent() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := l.cache.Keys()
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		if v, ok := l.cache.Peek(k); ok {
			out = append(out, v)
		}
	}
	return out
}

// Len reports how many events are currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}

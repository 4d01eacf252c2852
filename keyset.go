package qcache

import "sync"

// mutationScope is an insertion-ordered, append/remove set of Mutations
// sharing one scope.id, generalized from an insertion-ordered dependency
// set (membership by string key plus an ordered backing slice) into the
// per-scope mutation list MutationCache.canRun/runNext walk.
type mutationScope struct {
	mu   sync.Mutex
	list []*Mutation
}

func newMutationScope() *mutationScope {
	return &mutationScope{list: make([]*Mutation, 0, 4)}
}

// Add appends m to the end of the scope's list if not already present.
func (s *mutationScope) Add(m *Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.list {
		if existing == m {
			return
		}
	}
	s.list = append(s.list, m)
}

// Remove deletes m from the list, preserving relative order of the rest.
// Reports whether m was present.
func (s *mutationScope) Remove(m *Mutation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.list {
		if existing == m {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return true
		}
	}
	return false
}

// List returns a snapshot of the scope's mutations in insertion order.
func (s *mutationScope) List() []*Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Mutation, len(s.list))
	copy(out, s.list)
	return out
}

// Len reports the number of mutations currently in the scope.
func (s *mutationScope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

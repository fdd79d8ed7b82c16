package workflow

import "sync"

// StateEntry is a committed shared-state value together with the superstep
// that wrote it.
type StateEntry struct {
	Value   any `json:"value"`
	Version int `json:"version"`
}

// stagedWrite is a pending mutation queued during a superstep. Clear marks
// a whole-scope removal.
type stagedWrite struct {
	scope string
	key   string
	value any
	clear bool
}

// SharedState is the engine-owned key/value store addressable by
// (scope, key) and shared across executors.
//
// Writes are staged: QueueUpdate during superstep N becomes visible to Read
// from superstep N+1 onward, never within N. The delayed-visibility model is
// the store's only concurrency-control mechanism; there are no per-key locks
// because readers can never observe a same-step write.
//
// Scope lifetime is the run's lifetime unless a scope is explicitly cleared.
type SharedState struct {
	mu     sync.RWMutex
	scopes map[string]map[string]StateEntry
	staged []stagedWrite
}

// NewSharedState creates an empty store.
func NewSharedState() *SharedState {
	return &SharedState{scopes: make(map[string]map[string]StateEntry)}
}

// Read returns the most recent committed value for (scope, key).
func (s *SharedState) Read(scope, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scopes[scope]
	if !ok {
		return nil, false
	}
	entry, ok := sc[key]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Version returns the superstep in which (scope, key) was last committed.
func (s *SharedState) Version(scope, key string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.scopes[scope][key]
	if !ok {
		return 0, false
	}
	return entry.Version, true
}

// QueueUpdate stages a write. Staged writes from one superstep are committed
// at the barrier in the order they were queued, so the last write to a key
// within a step wins.
func (s *SharedState) QueueUpdate(scope, key string, value any) {
	s.mu.Lock()
	s.staged = append(s.staged, stagedWrite{scope: scope, key: key, value: value})
	s.mu.Unlock()
}

// QueueClear stages removal of every key in scope.
func (s *SharedState) QueueClear(scope string) {
	s.mu.Lock()
	s.staged = append(s.staged, stagedWrite{scope: scope, clear: true})
	s.mu.Unlock()
}

// commit applies all staged writes with the given superstep as their
// version and reports whether anything changed. Called by the Runner at the
// superstep barrier, never concurrently with dispatch.
func (s *SharedState) commit(superstep int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.staged) == 0 {
		return false
	}
	for _, w := range s.staged {
		if w.clear {
			delete(s.scopes, w.scope)
			continue
		}
		sc, ok := s.scopes[w.scope]
		if !ok {
			sc = make(map[string]StateEntry)
			s.scopes[w.scope] = sc
		}
		sc[w.key] = StateEntry{Value: w.value, Version: superstep}
	}
	s.staged = s.staged[:0]
	return true
}

// snapshot returns a deep-enough copy of the committed scopes for
// checkpointing. Values are copied by reference; checkpointed values must be
// JSON-serializable anyway, so aliasing is harmless once encoded.
func (s *SharedState) snapshot() map[string]map[string]StateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]StateEntry, len(s.scopes))
	for scope, kv := range s.scopes {
		cp := make(map[string]StateEntry, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		out[scope] = cp
	}
	return out
}

// restore replaces the committed scopes wholesale. Staged writes are
// discarded; a checkpoint is only ever taken at a barrier where none exist.
func (s *SharedState) restore(scopes map[string]map[string]StateEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = make(map[string]map[string]StateEntry, len(scopes))
	for scope, kv := range scopes {
		cp := make(map[string]StateEntry, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		s.scopes[scope] = cp
	}
	s.staged = nil
}

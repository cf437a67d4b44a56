package store

import (
	"context"
	"sync"
)

// MemoryRepository keeps states in process. Stored values are copies, so
// callers may mutate what they get back.
type MemoryRepository struct {
	mu     sync.RWMutex
	states map[string]*UserState
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{states: make(map[string]*UserState)}
}

func (r *MemoryRepository) Get(_ context.Context, userID string) (*UserState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[userID]
	if !ok {
		return nil, nil
	}
	return st.Clone()
}

func (r *MemoryRepository) Put(_ context.Context, st *UserState) error {
	cp, err := st.Clone()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.UserID] = cp
	return nil
}

func (r *MemoryRepository) CompareAndSwap(_ context.Context, st *UserState, expected int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if cur, ok := r.states[st.UserID]; ok {
		current = cur.Version
	}
	if current != expected {
		return ErrVersionConflict
	}
	st.Version = expected + 1
	cp, err := st.Clone()
	if err != nil {
		st.Version = expected
		return err
	}
	r.states[st.UserID] = cp
	return nil
}

// Users lists stored user ids.
func (r *MemoryRepository) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.states))
	for id := range r.states {
		out = append(out, id)
	}
	return out
}

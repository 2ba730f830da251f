package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemDocStore is an in-memory DocStore for tests. It tracks save counts so
// debounce behavior can be asserted.
type MemDocStore struct {
	mu        sync.Mutex
	states    map[string]*ProjectState
	artifacts map[string]map[string]any
	saves     map[string]int
}

// NewMemDocStore creates an empty in-memory document store.
func NewMemDocStore() *MemDocStore {
	return &MemDocStore{
		states:    make(map[string]*ProjectState),
		artifacts: make(map[string]map[string]any),
		saves:     make(map[string]int),
	}
}

// LoadProjectState fetches the per-mode state document.
func (s *MemDocStore) LoadProjectState(_ context.Context, key StateKey) (*ProjectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: project state %s", ErrNotFound, key.ID())
	}
	cp := *state
	cp.Cards = append([]Card(nil), state.Cards...)
	return &cp, nil
}

// SaveProjectState writes the per-mode state document (full replace).
func (s *MemDocStore) SaveProjectState(_ context.Context, key StateKey, state *ProjectState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	cp.ID = key.ID()
	cp.Mode = key.Mode
	cp.UpdatedAt = time.Now().UTC()
	cp.Cards = append([]Card(nil), state.Cards...)
	s.states[key.ID()] = &cp
	s.saves[key.ID()]++
	return nil
}

// MergeRunArtifact deep-extends doc into the stored artifact.
func (s *MemDocStore) MergeRunArtifact(_ context.Context, key ArtifactKey, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[key.ID()] = DeepExtend(s.artifacts[key.ID()], doc)
	return nil
}

// LoadRunArtifact fetches an artifact document.
func (s *MemDocStore) LoadRunArtifact(_ context.Context, key ArtifactKey) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.artifacts[key.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: run artifact %s", ErrNotFound, key.ID())
	}
	return doc, nil
}

// SaveCount returns how many times a state key has been persisted.
func (s *MemDocStore) SaveCount(key StateKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[key.ID()]
}

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

// Store manages in-memory sessions and the cancellation set. Sessions are
// created on the first client message and destroyed after a terminal status
// unless paused.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*State
	cancelled map[string]struct{}
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions:  make(map[string]*State),
		cancelled: make(map[string]struct{}),
	}
}

// Create registers a new session. Creating an id that already exists
// returns the existing session (reconnect after pause).
func (s *Store) Create(sessionID, goal string, ctx models.ProjectContext, mode models.Mode, files []string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok {
		return existing
	}

	if !mode.Valid() {
		mode = models.ModeLaboratory
	}
	now := time.Now()
	state := &State{
		SessionID:     sessionID,
		Goal:          goal,
		Context:       ctx,
		Mode:          mode,
		aliasRegistry: make(map[string]string),
		cachedPlans:   make(map[int]*models.StepPlan),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	state.React.CurrentStep = 1
	for _, f := range files {
		state.availableFiles = append(state.availableFiles, f)
	}
	s.sessions[sessionID] = state
	return state
}

// Get retrieves a session.
func (s *Store) Get(sessionID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return state, nil
}

// List returns snapshots of all live sessions.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	states := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		states = append(states, st)
	}
	s.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(states))
	for _, st := range states {
		snaps = append(snaps, st.Snapshot())
	}
	return snaps
}

// Delete removes a session and clears its cancel flag.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.cancelled, sessionID)
}

// Cancel marks a session for cancellation. The engine observes the flag at
// cycle boundaries; long in-flight awaits finish under their own timeouts.
func (s *Store) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[sessionID] = struct{}{}
}

// IsCancelled reports whether a session is marked for cancellation.
func (s *Store) IsCancelled(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cancelled[sessionID]
	return ok
}

// ClearCancel removes the cancellation mark (session resume).
func (s *Store) ClearCancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancelled, sessionID)
}

// Package session holds per-session workflow state and the step guard that
// serializes ReAct cycles. A session is pinned to one process; state here
// is process-local and durable only through its terminal results.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

// ReActState tracks the engine's position inside a session's loop.
type ReActState struct {
	CurrentStep  int  `json:"current_step"`
	GoalAchieved bool `json:"goal_achieved"`
	Paused       bool `json:"paused"`
	PausedAtStep int  `json:"paused_at_step,omitempty"`
	RetryCount   int  `json:"retry_count"`
	Operations   int  `json:"operations"`
	StalledFor   int  `json:"stalled_for"`
}

// State is the full per-session workflow state. Mutations happen only on
// the owning engine task; external readers use Snapshot.
type State struct {
	mu sync.RWMutex

	SessionID string
	ChatID    string
	Goal      string
	Context   models.ProjectContext
	Mode      models.Mode

	// Optional planner hints from the client's start message.
	HistorySummary string
	PriorityFiles  []string

	availableFiles []string
	aliasRegistry  map[string]string
	history        []models.StepRecord
	cachedPlans    map[int]*models.StepPlan

	React       ReActState
	ReplayCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is an immutable view of a session for REST reads.
type Snapshot struct {
	SessionID      string                `json:"session_id"`
	Goal           string                `json:"goal"`
	Context        models.ProjectContext `json:"project_context"`
	Mode           models.Mode           `json:"mode"`
	AvailableFiles []string              `json:"available_files"`
	Aliases        map[string]string     `json:"aliases"`
	History        []models.StepRecord   `json:"history"`
	React          ReActState            `json:"react_state"`
	ReplayCount    int                   `json:"replay_count"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// RegisterFile appends a storage path to the available files; newest last.
// Duplicate paths move to the end so "latest" stays correct.
func (s *State) RegisterFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.availableFiles {
		if f == path {
			s.availableFiles = append(s.availableFiles[:i], s.availableFiles[i+1:]...)
			break
		}
	}
	s.availableFiles = append(s.availableFiles, path)
	s.UpdatedAt = time.Now()
}

// AvailableFiles returns a copy of the registered paths, newest last.
func (s *State) AvailableFiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.availableFiles...)
}

// LatestFile returns the most recently registered path, or "".
func (s *State) LatestFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.availableFiles) == 0 {
		return ""
	}
	return s.availableFiles[len(s.availableFiles)-1]
}

// HasFile reports whether path is registered.
func (s *State) HasFile(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.availableFiles {
		if f == path {
			return true
		}
	}
	return false
}

// RegisterAlias binds an output alias to a storage path.
func (s *State) RegisterAlias(alias, path string) {
	if alias == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliasRegistry[NormalizeAlias(alias)] = path
	s.UpdatedAt = time.Now()
}

// ResolveAlias maps a token through the alias registry. Resolution is the
// single authoritative path from alias to storage path; matching is
// case- and whitespace-insensitive.
func (s *State) ResolveAlias(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, ok := s.aliasRegistry[NormalizeAlias(token)]
	return path, ok
}

// Aliases returns a copy of the alias registry.
func (s *State) Aliases() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.aliasRegistry))
	for k, v := range s.aliasRegistry {
		out[k] = v
	}
	return out
}

// AppendRecord appends a completed step to the history.
func (s *State) AppendRecord(rec models.StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	s.UpdatedAt = time.Now()
}

// PatchLastRecord replaces the most recent history entry in place.
// Used by replay, which re-materializes a prior step's output without
// extending history.
func (s *State) PatchLastRecord(rec models.StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) > 0 {
		s.history[len(s.history)-1] = rec
	}
	s.UpdatedAt = time.Now()
}

// History returns a copy of the execution history.
func (s *State) History() []models.StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.StepRecord(nil), s.history...)
}

// LastRecord returns the most recent history entry, or nil.
func (s *State) LastRecord() *models.StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return nil
	}
	rec := s.history[len(s.history)-1]
	return &rec
}

// HistoryLen returns the number of executed steps.
func (s *State) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// CachePlan stores a plan for replay, keyed by step number.
func (s *State) CachePlan(plan *models.StepPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedPlans[plan.StepNumber] = plan.Clone()
}

// CachedPlan returns the cached plan for a step number, or nil.
func (s *State) CachedPlan(step int) *models.StepPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cachedPlans[step].Clone()
}

// Snapshot returns an immutable copy of the session.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	aliases := make(map[string]string, len(s.aliasRegistry))
	for k, v := range s.aliasRegistry {
		aliases[k] = v
	}
	return Snapshot{
		SessionID:      s.SessionID,
		Goal:           s.Goal,
		Context:        s.Context,
		Mode:           s.Mode,
		AvailableFiles: append([]string(nil), s.availableFiles...),
		Aliases:        aliases,
		History:        append([]models.StepRecord(nil), s.history...),
		React:          s.React,
		ReplayCount:    s.ReplayCount,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// NormalizeAlias lowercases and strips whitespace so planner-authored
// aliases match regardless of formatting.
func NormalizeAlias(alias string) string {
	return strings.Join(strings.Fields(strings.ToLower(alias)), " ")
}

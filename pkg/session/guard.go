package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// GuardStatus is the lifecycle phase recorded on an installed step guard.
type GuardStatus string

const (
	GuardPlanning      GuardStatus = "planning"
	GuardValidating    GuardStatus = "validating"
	GuardExecuting     GuardStatus = "executing"
	GuardEvaluating    GuardStatus = "evaluating"
	GuardDecisionReady GuardStatus = "decision_ready"
)

// StepGuard is the per-session mutual-exclusion cell: at most one exists
// per session, and a new step may only begin when it is absent. Release is
// token-verified so a late completion of a prior step cannot clear the
// guard installed by a new one.
type StepGuard struct {
	Token      string
	StepNumber int
	Status     GuardStatus
	UpdatedAt  time.Time
}

// GuardRegistry tracks step guards across sessions.
type GuardRegistry struct {
	mu     sync.Mutex
	guards map[string]*StepGuard
}

// NewGuardRegistry creates an empty guard registry.
func NewGuardRegistry() *GuardRegistry {
	return &GuardRegistry{guards: make(map[string]*StepGuard)}
}

// Acquire installs a fresh guard for a session and returns its token.
// Fails fast (ok=false) when a guard is already installed; the caller
// decides whether to back off.
func (r *GuardRegistry) Acquire(sessionID string, step int) (token string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.guards[sessionID]; exists {
		return "", false
	}
	token = uuid.New().String()
	r.guards[sessionID] = &StepGuard{
		Token:      token,
		StepNumber: step,
		Status:     GuardPlanning,
		UpdatedAt:  time.Now(),
	}
	return token, true
}

// UpdateStatus advances the guard's lifecycle phase. A mismatched token is
// a no-op.
func (r *GuardRegistry) UpdateStatus(sessionID, token string, status GuardStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	guard, ok := r.guards[sessionID]
	if !ok || guard.Token != token {
		return
	}
	guard.Status = status
	guard.UpdatedAt = time.Now()
}

// Release removes the guard. Idempotent; a release with a non-matching
// token leaves the cell alone.
func (r *GuardRegistry) Release(sessionID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	guard, ok := r.guards[sessionID]
	if !ok || guard.Token != token {
		return
	}
	delete(r.guards, sessionID)
}

// Current returns a copy of the installed guard, if any.
func (r *GuardRegistry) Current(sessionID string) (StepGuard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	guard, ok := r.guards[sessionID]
	if !ok {
		return StepGuard{}, false
	}
	return *guard, true
}

package models

import "time"

// StepPlan is the planner's output for one ReAct cycle: which atom to run,
// on which files, and the prompt handed to the atom. Plans are cached per
// step number so a step can be replayed when its materialized output goes
// missing.
type StepPlan struct {
	StepNumber   int      `json:"step_number"`
	AtomID       string   `json:"atom_id"`
	Description  string   `json:"description"`
	FilesUsed    []string `json:"files_used"`
	Inputs       []string `json:"inputs,omitempty"`
	OutputAlias  string   `json:"output_alias,omitempty"`
	Prompt       string   `json:"prompt"`
	GoalAchieved bool     `json:"goal_achieved,omitempty"`
}

// Clone returns a deep copy of the plan. Cached plans are rebound against
// the current alias registry during replay, so callers must never mutate
// the cached instance directly.
func (p *StepPlan) Clone() *StepPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.FilesUsed = append([]string(nil), p.FilesUsed...)
	cp.Inputs = append([]string(nil), p.Inputs...)
	return &cp
}

// AtomResult is the opaque response from an atom endpoint. Payload carries
// the atom-specific fields (result files, row counts, chart configs).
type AtomResult struct {
	Success bool           `json:"success"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// StepRecord is a fully executed step: the plan, the atom result, the
// evaluator's verdict, and timing.
type StepRecord struct {
	StepPlan
	Result      *AtomResult `json:"result,omitempty"`
	Evaluation  *Evaluation `json:"evaluation,omitempty"`
	SavedPath   string      `json:"saved_path,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Succeeded reports whether the step's atom call succeeded.
func (r *StepRecord) Succeeded() bool {
	return r.Result != nil && r.Result.Success
}

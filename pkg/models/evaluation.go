package models

// Decision is the evaluator's verdict on an executed step.
type Decision string

const (
	DecisionContinue            Decision = "continue"
	DecisionRetryWithCorrection Decision = "retry_with_correction"
	DecisionChangeApproach      Decision = "change_approach"
	DecisionComplete            Decision = "complete"
)

// Valid reports whether d is one of the four recognized decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionContinue, DecisionRetryWithCorrection, DecisionChangeApproach, DecisionComplete:
		return true
	}
	return false
}

// Coerce returns d if valid, otherwise DecisionContinue. The LLM
// occasionally invents decision values; unknown ones never stall the loop.
func (d Decision) Coerce() Decision {
	if d.Valid() {
		return d
	}
	return DecisionContinue
}

// Evaluation is the LLM grader's structured verdict for one step.
// QualityScore is nil when the grader did not supply one.
type Evaluation struct {
	Decision            Decision `json:"decision"`
	Reasoning           string   `json:"reasoning"`
	QualityScore        *float64 `json:"quality_score,omitempty"`
	Correctness         bool     `json:"correctness"`
	Issues              []string `json:"issues,omitempty"`
	CorrectedPrompt     string   `json:"corrected_prompt,omitempty"`
	AlternativeApproach string   `json:"alternative_approach,omitempty"`
}

// FallbackEvaluation is the heuristic verdict used when the grader times
// out or fails: continue on success, retry otherwise.
func FallbackEvaluation(stepSucceeded bool, reason string) *Evaluation {
	decision := DecisionContinue
	if !stepSucceeded {
		decision = DecisionRetryWithCorrection
	}
	return &Evaluation{
		Decision:    decision,
		Reasoning:   reason,
		Correctness: stepSucceeded,
	}
}

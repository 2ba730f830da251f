package engine

import (
	"context"

	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
)

// applyDecision routes the evaluator's verdict: advance, retry the same
// step with a corrected prompt, re-plan with a different approach, or
// complete (after the forced-visualization check).
func (e *Engine) applyDecision(ctx context.Context, st *session.State, bus events.Emitter, run *runState, plan *models.StepPlan, ev *models.Evaluation) cycleOutcome {
	switch ev.Decision {
	case models.DecisionComplete:
		return e.handleGoalAchieved(ctx, st, bus, run)

	case models.DecisionRetryWithCorrection:
		st.React.RetryCount++
		if st.React.RetryCount > e.deps.Limits.MaxRetriesPerStep {
			// Retry budget spent; force a different approach instead of
			// hammering the same prompt.
			st.React.RetryCount = 0
			run.changeApproach = true
			run.altApproach = ev.AlternativeApproach
			if run.altApproach == "" {
				run.altApproach = ev.Reasoning
			}
			return cycleStay
		}
		run.corrected = ev.CorrectedPrompt
		if run.corrected == "" {
			run.corrected = plan.Prompt
		}
		if err := bus.Emit(ctx, events.EventCorrection, map[string]any{
			"step_number":      plan.StepNumber,
			"attempt":          st.React.RetryCount,
			"corrected_prompt": run.corrected,
			"reasoning":        ev.Reasoning,
		}); err != nil {
			return cycleDisconnected
		}
		return cycleStay

	case models.DecisionChangeApproach:
		st.React.RetryCount = 0
		run.changeApproach = true
		run.altApproach = ev.AlternativeApproach
		if run.altApproach == "" {
			run.altApproach = ev.Reasoning
		}
		return cycleStay

	default: // continue
		st.React.RetryCount = 0
		run.changeApproach = false
		run.altApproach = ""
		run.corrected = ""
		if plan.GoalAchieved {
			// The planner flagged this step as the last one; honor the flag
			// once the step has landed instead of asking for another plan.
			return e.handleGoalAchieved(ctx, st, bus, run)
		}
		st.React.CurrentStep++
		return cycleAdvance
	}
}

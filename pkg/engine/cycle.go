package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theHdd4/trinity-orchestrator/pkg/atom"
	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/insight"
	"github.com/theHdd4/trinity-orchestrator/pkg/metrics"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
)

// runCycle executes one plan→validate→execute→save→evaluate→decide cycle for
// the current step. The step guard is held by the caller for the whole cycle.
func (e *Engine) runCycle(ctx context.Context, st *session.State, bus events.Emitter, run *runState, token string) cycleOutcome {
	step := st.React.CurrentStep

	if err := bus.Emit(ctx, events.EventWorkflowProgress, map[string]any{
		"current_step":     step,
		"total_steps":      e.deps.Limits.MaxSteps,
		"progress_percent": (step - 1) * 100 / e.deps.Limits.MaxSteps,
		"status":           "planning",
		"loading":          true,
		"message":          fmt.Sprintf("Working on step %d", step),
	}); err != nil {
		return cycleDisconnected
	}

	plan, fresh, outcome := e.obtainPlan(ctx, st, bus, run, token)
	if outcome != cycleAdvance {
		return outcome
	}

	// Planner can declare the goal done without proposing work.
	if plan == nil {
		return e.handleGoalAchieved(ctx, st, bus, run)
	}

	st.CachePlan(plan)

	// Corrected retries and synthesized steps repeat the previous atom on
	// purpose; only fresh planner output counts as a loop.
	if fresh && e.detectLoop(st, plan) {
		if err := bus.Emit(ctx, events.EventLoopDetected, map[string]any{
			"step_number": step,
			"atom_id":     plan.AtomID,
			"message":     "planner repeated the previous step; treating the goal as achieved",
		}); err != nil {
			return cycleDisconnected
		}
		return cycleCompleted
	}

	// Validate dependencies before spending an operation on the atom.
	e.deps.Guards.UpdateStatus(st.SessionID, token, session.GuardValidating)
	if rej := e.validatePlan(st, plan); rej != nil {
		return e.handleRejection(ctx, st, bus, run, rej)
	}

	// Execute.
	if e.deps.Sessions.IsCancelled(st.SessionID) {
		_ = bus.Emit(ctx, events.EventWorkflowStopped, map[string]any{
			"session_id": st.SessionID,
			"reason":     "cancelled by client",
		})
		return cycleStopped
	}
	e.deps.Guards.UpdateStatus(st.SessionID, token, session.GuardExecuting)
	rec, outcome := e.executeStep(ctx, st, bus, plan)
	if outcome != cycleAdvance {
		return outcome
	}

	// Auto-save materializes the dataset before evaluation sees it.
	if outcome := e.autoSave(ctx, st, bus, plan, rec); outcome != cycleAdvance {
		return outcome
	}

	// Evaluate.
	e.deps.Guards.UpdateStatus(st.SessionID, token, session.GuardEvaluating)
	ev := e.evaluateStep(ctx, st, bus, plan, rec)
	rec.Evaluation = ev
	rec.CompletedAt = time.Now().UTC()
	st.AppendRecord(*rec)

	executed := map[string]any{
		"step":         plan.StepNumber,
		"card_id":      uuid.NewString(),
		"atom_id":      plan.AtomID,
		"result":       resultSummary(rec),
		"output_alias": plan.OutputAlias,
	}
	if text := e.stepInsight(ctx, st, *rec); text != "" {
		executed["insight"] = text
	}
	if ai := e.atomInsight(ctx, rec); ai != nil {
		executed["atom_insight"] = map[string]any{
			"insight":     ai.Insight,
			"impact":      ai.Impact,
			"risk":        ai.Risk,
			"next_action": ai.NextAction,
		}
	}
	if err := bus.Emit(ctx, events.EventAgentExecuted, executed); err != nil {
		return cycleDisconnected
	}

	stepEvent := events.EventStepCompleted
	if !rec.Succeeded() {
		stepEvent = events.EventStepFailed
	}
	if err := bus.Emit(ctx, stepEvent, map[string]any{
		"step_number": plan.StepNumber,
		"atom_id":     plan.AtomID,
		"file_path":   rec.SavedPath,
	}); err != nil {
		return cycleDisconnected
	}

	e.deps.Guards.UpdateStatus(st.SessionID, token, session.GuardDecisionReady)
	return e.applyDecision(ctx, st, bus, run, plan, ev)
}

// obtainPlan returns the plan for the current step, preferring in order: a
// synthesized forced step, the resume plan after a pause, a cached plan with
// a corrected prompt, then a fresh planner call. fresh is true only for
// planner output. A nil plan with cycleAdvance means the planner declared
// the goal achieved.
func (e *Engine) obtainPlan(ctx context.Context, st *session.State, bus events.Emitter, run *runState, token string) (*models.StepPlan, bool, cycleOutcome) {
	if p := run.pendingForced; p != nil {
		run.pendingForced = nil
		return p, false, cycleAdvance
	}
	if p := run.resumePlan; p != nil && p.StepNumber == st.React.CurrentStep {
		run.resumePlan = nil
		return p, false, cycleAdvance
	}
	run.resumePlan = nil

	if run.corrected != "" {
		if cached := st.CachedPlan(st.React.CurrentStep); cached != nil {
			p := cached.Clone()
			p.Prompt = run.corrected
			run.corrected = ""
			return p, false, cycleAdvance
		}
		run.corrected = ""
	}

	e.deps.Guards.UpdateStatus(st.SessionID, token, session.GuardPlanning)
	plan, outcome := e.planStep(ctx, st, bus, run)
	return plan, true, outcome
}

// detectLoop reports whether the plan repeats the immediately preceding
// step: same atom against the same file set means the planner is cycling.
func (e *Engine) detectLoop(st *session.State, plan *models.StepPlan) bool {
	last := st.LastRecord()
	if last == nil || last.AtomID != plan.AtomID {
		return false
	}
	return sameFileSet(last.FilesUsed, plan.FilesUsed)
}

// resultSummary is the compact atom result carried on agent_executed.
func resultSummary(rec *models.StepRecord) map[string]any {
	out := map[string]any{"success": rec.Succeeded()}
	if rec.Result != nil && rec.Result.Error != "" {
		out["error"] = rec.Result.Error
	}
	if rec.SavedPath != "" {
		out["file_path"] = rec.SavedPath
	}
	return out
}

func sameFileSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[f] = struct{}{}
	}
	for _, f := range b {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}

// handleRejection re-plans the same step after a validation reject,
// triggering a replay first when the prior output never materialized.
func (e *Engine) handleRejection(ctx context.Context, st *session.State, bus events.Emitter, run *runState, rej *Rejection) cycleOutcome {
	if rej.Kind == RejectMissingOutput {
		switch outcome := e.replayLastStep(ctx, st, bus); outcome {
		case replayOK:
			// Prior output now exists; re-plan the same step.
			return cycleStay
		case replayExhausted:
			if err := bus.Emit(ctx, events.EventRetryRequired, map[string]any{
				"step_number": st.React.CurrentStep,
				"message":     "replay budget exhausted while recovering a missing output",
			}); err != nil {
				return cycleDisconnected
			}
			return cycleStopped
		case replayDisconnected:
			return cycleDisconnected
		}
		// replayFailed falls through to a plain re-plan.
	}

	if err := bus.Emit(ctx, events.EventValidationBlocked, map[string]any{
		"step_number": st.React.CurrentStep,
		"reason":      rej.Reason,
	}); err != nil {
		return cycleDisconnected
	}
	run.changeApproach = true
	run.altApproach = rej.Reason
	return cycleStay
}

// executeStep invokes the atom and returns the in-progress record.
func (e *Engine) executeStep(ctx context.Context, st *session.State, bus events.Emitter, plan *models.StepPlan) (*models.StepRecord, cycleOutcome) {
	if err := bus.Emit(ctx, events.EventAction, map[string]any{
		"step_number": plan.StepNumber,
		"atom_id":     plan.AtomID,
		"message":     plan.Description,
	}); err != nil {
		return nil, cycleDisconnected
	}
	if err := bus.Emit(ctx, events.EventAtomPrompt, map[string]any{
		"step":        plan.StepNumber,
		"atom_id":     plan.AtomID,
		"prompt":      plan.Prompt,
		"parameters":  plan.Inputs,
		"description": plan.Description,
	}); err != nil {
		return nil, cycleDisconnected
	}
	if err := bus.Emit(ctx, events.EventStepStarted, map[string]any{
		"step_number": plan.StepNumber,
		"atom_id":     plan.AtomID,
		"files_used":  plan.FilesUsed,
	}); err != nil {
		return nil, cycleDisconnected
	}

	st.React.Operations++
	onRetry := func(attempt int, reason string) {
		metrics.AtomRetries.WithLabelValues(plan.AtomID).Inc()
		_ = bus.Emit(ctx, events.EventAtomRetry, map[string]any{
			"step_number": plan.StepNumber,
			"atom_id":     plan.AtomID,
			"attempt":     attempt,
			"reason":      reason,
		})
	}
	result, err := e.deps.Invoker.Invoke(ctx, atom.InvokeRequest{
		AtomID:    plan.AtomID,
		Prompt:    plan.Prompt,
		SessionID: st.SessionID,
		ChatID:    st.ChatID,
		Context:   st.Context,
	}, onRetry)
	if err != nil {
		// Transport-level exhaustion still yields a record so evaluation can
		// route the workflow instead of tearing it down.
		result = &models.AtomResult{Success: false, Error: err.Error()}
	}
	metrics.StepsExecuted.WithLabelValues(plan.AtomID, fmt.Sprintf("%t", result.Success)).Inc()

	rec := &models.StepRecord{
		StepPlan:  *plan.Clone(),
		Result:    result,
		StartedAt: time.Now().UTC(),
	}
	return rec, cycleAdvance
}

// stepInsight produces the short per-step narrative carried on the
// agent_executed payload. Failures degrade to an empty string; the call is
// synchronous with a bounded context so event ordering holds.
func (e *Engine) stepInsight(ctx context.Context, st *session.State, rec models.StepRecord) string {
	if e.deps.Insights == nil {
		return ""
	}
	ictx, cancel := context.WithTimeout(ctx, e.deps.Limits.InsightTimeout)
	defer cancel()
	text, err := e.deps.Insights.StepInsight(ictx, st.Goal, rec)
	if err != nil {
		return ""
	}
	return text
}

// atomInsight produces the structured card insight for an executed atom.
// Facts are the stable outcome fields of the record, so identical outcomes
// hit the content-addressed cache. Failures degrade to no insight.
func (e *Engine) atomInsight(ctx context.Context, rec *models.StepRecord) *insight.AtomInsight {
	if e.deps.Insights == nil {
		return nil
	}
	facts := map[string]any{
		"description": rec.Description,
		"success":     rec.Succeeded(),
	}
	if rec.SavedPath != "" {
		facts["saved_path"] = rec.SavedPath
	}
	if rec.OutputAlias != "" {
		facts["output_alias"] = rec.OutputAlias
	}
	if rec.Result != nil && rec.Result.Error != "" {
		facts["error"] = rec.Result.Error
	}

	ictx, cancel := context.WithTimeout(ctx, e.deps.Limits.InsightTimeout)
	defer cancel()
	ai, err := e.deps.Insights.AtomInsight(ictx, rec.AtomID, facts)
	if err != nil {
		return nil
	}
	return ai
}

// handleGoalAchieved runs the forced-visualization check before accepting a
// planner-declared completion.
func (e *Engine) handleGoalAchieved(ctx context.Context, st *session.State, bus events.Emitter, run *runState) cycleOutcome {
	if forced := e.forcedVisualization(st, run); forced != nil {
		run.pendingForced = forced
		st.React.CurrentStep = forced.StepNumber
		if err := bus.Emit(ctx, events.EventThought, map[string]any{
			"step_number": forced.StepNumber,
			"message":     "Adding a final visualization before completing",
		}); err != nil {
			return cycleDisconnected
		}
		return cycleStay
	}
	return cycleCompleted
}

// forcedVisualization synthesizes a terminal chart-maker step when the run
// produced data but never charted it. At most one forced step per run, and
// none at all when the goal itself opts out of charts.
func (e *Engine) forcedVisualization(st *session.State, run *runState) *models.StepPlan {
	if run.forcedDone {
		return nil
	}
	if goalDisclaimsVisualization(st.Goal) {
		return nil
	}
	for _, rec := range st.History() {
		if rec.AtomID == atom.AtomChartMaker && rec.Succeeded() {
			return nil
		}
	}
	latest := st.LatestFile()
	if latest == "" {
		return nil
	}
	run.forcedDone = true
	return &models.StepPlan{
		StepNumber:  st.React.CurrentStep + 1,
		AtomID:      atom.AtomChartMaker,
		Description: "Visualize the final dataset",
		FilesUsed:   []string{latest},
		Prompt:      fmt.Sprintf("Create a chart summarizing the key patterns in %s", latest),
	}
}

// goalDisclaimsVisualization reports whether the goal text explicitly opts
// out of charts ("no chart", "do not visualize", ...).
func goalDisclaimsVisualization(goal string) bool {
	g := strings.ToLower(goal)
	for _, marker := range []string{
		"no chart", "no plot", "no graph", "no visual",
		"without a chart", "without chart", "without visual",
		"do not visualize", "don't visualize",
		"do not visualise", "don't visualise",
		"do not chart", "don't chart",
		"skip the chart", "text only",
	} {
		if strings.Contains(g, marker) {
			return true
		}
	}
	return false
}

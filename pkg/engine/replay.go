package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/atom"
	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/metrics"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
)

type replayResult int

const (
	replayOK replayResult = iota
	replayFailed
	replayExhausted
	replayDisconnected
)

// replayLastStep re-executes the previous step from its cached plan to
// recover a missing materialized output. The history entry is patched in
// place; replays never extend history or advance the step counter.
func (e *Engine) replayLastStep(ctx context.Context, st *session.State, bus events.Emitter) replayResult {
	if st.ReplayCount >= e.deps.Limits.MaxReplays {
		return replayExhausted
	}

	last := st.LastRecord()
	if last == nil {
		return replayFailed
	}
	plan := st.CachedPlan(last.StepNumber)
	if plan == nil {
		return replayFailed
	}
	// Rebind against the current registry; aliases may point at newer paths
	// than when the plan was first produced.
	e.rewritePlan(st, plan)

	st.ReplayCount++
	metrics.Replays.Inc()

	if err := bus.Emit(ctx, events.EventThought, map[string]any{
		"step_number": plan.StepNumber,
		"message":     fmt.Sprintf("Re-running step %d to recover its output", plan.StepNumber),
	}); err != nil {
		return replayDisconnected
	}

	result, err := e.deps.Invoker.Invoke(ctx, atom.InvokeRequest{
		AtomID:    plan.AtomID,
		Prompt:    plan.Prompt,
		SessionID: st.SessionID,
		ChatID:    st.ChatID,
		Context:   st.Context,
	}, nil)
	if err != nil || !result.Success {
		return replayFailed
	}

	patched := *last
	patched.StepPlan = *plan.Clone()
	patched.Result = result
	patched.SavedPath = ""
	patched.CompletedAt = time.Now().UTC()

	if outcome := e.autoSave(ctx, st, bus, plan, &patched); outcome == cycleDisconnected {
		return replayDisconnected
	}
	st.PatchLastRecord(patched)
	if patched.SavedPath == "" {
		return replayFailed
	}
	return replayOK
}

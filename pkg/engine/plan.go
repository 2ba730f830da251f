package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/llm"
	"github.com/theHdd4/trinity-orchestrator/pkg/metadata"
	"github.com/theHdd4/trinity-orchestrator/pkg/metrics"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/prompt"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
)

// plannerResponse mirrors the JSON contract pinned in the planning prompt.
type plannerResponse struct {
	AtomID       string   `json:"atom_id"`
	Description  string   `json:"description"`
	FilesUsed    []string `json:"files_used"`
	Inputs       []string `json:"inputs"`
	OutputAlias  string   `json:"output_alias"`
	Prompt       string   `json:"prompt"`
	GoalAchieved bool     `json:"goal_achieved"`
}

// planStep asks the model for the next step. A (nil, cycleAdvance) return
// means the planner declared the goal achieved with no further work.
func (e *Engine) planStep(ctx context.Context, st *session.State, bus events.Emitter, run *runState) (*models.StepPlan, cycleOutcome) {
	step := st.React.CurrentStep
	limits := e.deps.Limits

	if err := bus.Emit(ctx, events.EventThought, map[string]any{
		"step_number": step,
		"message":     fmt.Sprintf("Planning step %d", step),
	}); err != nil {
		return nil, cycleDisconnected
	}

	run.loopRisk = e.loopRisk(st)

	in := prompt.PlanInput{
		Goal:                st.Goal,
		StepNumber:          step,
		History:             st.History(),
		Files:               e.fileInventory(ctx, st),
		PriorityFiles:       st.PriorityFiles,
		Aliases:             st.Aliases(),
		HistorySummary:      st.HistorySummary,
		LoopRisk:            run.loopRisk,
		ChangeApproach:      run.changeApproach,
		AlternativeApproach: run.altApproach,
	}
	run.changeApproach = false
	run.altApproach = ""

	req := llm.Request{
		Messages:    toLLMMessages(e.deps.Prompts.BuildPlanMessages(in)),
		Temperature: e.deps.Settings.PlanTemperature,
		MaxTokens:   e.deps.Settings.MaxTokens,
	}

	var resp plannerResponse
	err := llm.CompleteJSON(ctx, e.deps.LLM, req, &resp, llm.CallOptions{
		AttemptTimeout:    limits.LLMTimeout,
		Bound:             limits.PlanBound,
		DecodeRetries:     limits.PlanJSONRetries,
		HeartbeatInterval: limits.HeartbeatInterval,
		Heartbeat: func(elapsed time.Duration) {
			_ = bus.Emit(ctx, events.EventGenerationStatus, map[string]any{
				"step_number":     step,
				"elapsed_seconds": int(elapsed.Seconds()),
				"message":         "Still working on the plan",
			})
		},
	})
	if err != nil {
		return nil, e.planFailure(ctx, st, bus, err)
	}

	if resp.GoalAchieved && resp.AtomID == "" {
		return nil, cycleAdvance
	}

	if resp.AtomID == "" {
		if inferred, ok := e.deps.Registry.InferFromDescription(resp.Description); ok {
			resp.AtomID = inferred
		}
	}
	if _, ok := e.deps.Registry.Get(resp.AtomID); !ok {
		// Unknown atom and nothing inferable: exit gracefully instead of
		// executing a step nobody can serve.
		_ = bus.Emit(ctx, events.EventWorkflowStopped, map[string]any{
			"session_id": st.SessionID,
			"reason":     fmt.Sprintf("planner proposed an unknown capability %q", resp.AtomID),
		})
		return nil, cycleStopped
	}

	plan := &models.StepPlan{
		StepNumber:   step,
		AtomID:       resp.AtomID,
		Description:  resp.Description,
		FilesUsed:    resp.FilesUsed,
		Inputs:       resp.Inputs,
		OutputAlias:  resp.OutputAlias,
		Prompt:       resp.Prompt,
		GoalAchieved: resp.GoalAchieved,
	}
	e.rewritePlan(st, plan)
	return plan, cycleAdvance
}

// planFailure maps planner errors onto loop outcomes. Timeouts and decode
// exhaustion pause the session so the client can resume; a dead parent
// context means the caller is shutting down.
func (e *Engine) planFailure(ctx context.Context, st *session.State, bus events.Emitter, err error) cycleOutcome {
	if ctx.Err() != nil {
		return cycleStopped
	}

	var jsonErr *llm.JSONGenerationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		if emitErr := bus.Emit(ctx, events.EventGenerationTimeout, map[string]any{
			"step_number": st.React.CurrentStep,
			"message":     "plan generation timed out; session paused, resume to continue",
		}); emitErr != nil {
			return cycleDisconnected
		}
	case errors.As(err, &jsonErr):
		metrics.LLMJSONRetries.Add(float64(jsonErr.Attempts - 1))
		if emitErr := bus.Emit(ctx, events.EventGenerationFailed, map[string]any{
			"step_number": st.React.CurrentStep,
			"message":     "plan generation produced no usable output; session paused, resume to retry",
		}); emitErr != nil {
			return cycleDisconnected
		}
	default:
		if emitErr := bus.Emit(ctx, events.EventGenerationFailed, map[string]any{
			"step_number": st.React.CurrentStep,
			"message":     err.Error(),
		}); emitErr != nil {
			return cycleDisconnected
		}
		return cycleFailed
	}

	st.React.Paused = true
	st.React.PausedAtStep = st.React.CurrentStep
	return cyclePaused
}

// loopRisk flags repetition trends in the recent history so the planner
// prompt can warn the model before a hard loop trips.
func (e *Engine) loopRisk(st *session.State) bool {
	history := st.History()
	if len(history) < 2 {
		return false
	}
	tail := history[len(history)-2:]
	return tail[0].AtomID == tail[1].AtomID
}

// fileInventory profiles the available files for the planning prompt,
// degrading to bare path entries when no metadata source is wired.
func (e *Engine) fileInventory(ctx context.Context, st *session.State) []*metadata.FileMetadata {
	paths := st.AvailableFiles()
	if e.deps.Metadata != nil {
		return e.deps.Metadata.GetAll(ctx, paths)
	}
	out := make([]*metadata.FileMetadata, 0, len(paths))
	for _, p := range paths {
		out = append(out, &metadata.FileMetadata{Path: p})
	}
	return out
}

func toLLMMessages(in []prompt.Message) []llm.Message {
	out := make([]llm.Message, len(in))
	for i, m := range in {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

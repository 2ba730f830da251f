// Package engine implements the ReAct orchestration loop: plan → validate →
// execute → auto-save → evaluate → decide, one cycle at a time, streaming
// progress over the per-session bus. All collaborators (LLM, atoms, storage,
// insights) are injected interfaces.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/atom"
	"github.com/theHdd4/trinity-orchestrator/pkg/config"
	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/insight"
	"github.com/theHdd4/trinity-orchestrator/pkg/llm"
	"github.com/theHdd4/trinity-orchestrator/pkg/metadata"
	"github.com/theHdd4/trinity-orchestrator/pkg/metrics"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/prompt"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
)

// AtomInvoker is the engine's view of the atom HTTP layer.
type AtomInvoker interface {
	Invoke(ctx context.Context, req atom.InvokeRequest, onRetry atom.RetryFunc) (*models.AtomResult, error)
	Save(ctx context.Context, req atom.SaveRequest) (string, error)
}

// InsightSource is the engine's view of the insight generator.
type InsightSource interface {
	StepInsight(ctx context.Context, goal string, rec models.StepRecord) (string, error)
	AtomInsight(ctx context.Context, atomID string, facts map[string]any) (*insight.AtomInsight, error)
	WorkflowInsight(ctx context.Context, goal string, history []models.StepRecord) (*insight.WorkflowInsight, error)
}

// MetadataSource supplies per-file column inventories for planning prompts.
type MetadataSource interface {
	GetAll(ctx context.Context, paths []string) []*metadata.FileMetadata
}

// LLMSettings carries the model-call knobs the engine varies per phase.
type LLMSettings struct {
	PlanTemperature float64
	EvalTemperature float64
	MaxTokens       int
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Sessions *session.Store
	Guards   *session.GuardRegistry
	Registry *atom.Registry
	Invoker  AtomInvoker
	LLM      llm.Client
	Prompts  *prompt.Builder
	Metadata MetadataSource       // optional
	Insights InsightSource        // optional
	Docs     storage.DocStore     // optional; terminal run artifact persistence
	Limits   *config.Limits
	Settings LLMSettings
}

// Engine drives ReAct sessions. One Execute call owns one session's loop;
// sessions across the process run independently.
type Engine struct {
	deps Deps
}

// NewEngine creates an Engine.
func NewEngine(deps Deps) *Engine {
	if deps.Limits == nil {
		deps.Limits = config.DefaultLimits()
	}
	return &Engine{deps: deps}
}

// runState is per-Execute controller state that never outlives the call
// (unlike session.State, which survives pauses).
type runState struct {
	changeApproach bool
	altApproach    string
	corrected      string
	pendingForced  *models.StepPlan
	forcedDone     bool
	resumePlan     *models.StepPlan
	loopRisk       bool
}

// cycleOutcome is what one cycle told the loop to do next.
type cycleOutcome int

const (
	cycleAdvance cycleOutcome = iota
	cycleStay                 // same step again (retry, change approach, validation reject)
	cycleCompleted
	cyclePaused
	cycleStopped
	cycleDisconnected
	cycleFailed
)

// Execute runs the ReAct loop for a session until a terminal condition and
// returns the terminal status. A "paused" return keeps session state alive
// for resume; every other status ends the session.
func (e *Engine) Execute(ctx context.Context, st *session.State, bus events.Emitter) string {
	limits := e.deps.Limits
	log := slog.With("session_id", st.SessionID)

	run := &runState{}
	if st.React.Paused {
		// Resume: pick up at the paused step, reusing its cached plan when
		// one was produced before the timeout.
		run.resumePlan = st.CachedPlan(st.React.PausedAtStep)
		st.React.Paused = false
		st.React.PausedAtStep = 0
		log.Info("Resuming paused session", "step", st.React.CurrentStep)
	}

	if err := bus.Emit(ctx, events.EventWorkflowStarted, map[string]any{
		"session_id":  st.SessionID,
		"goal":        st.Goal,
		"total_steps": limits.MaxSteps,
	}); err != nil {
		return e.finish(st, events.StatusDisconnected)
	}

	for cycle := 0; cycle < limits.MaxSteps; cycle++ {
		if e.deps.Sessions.IsCancelled(st.SessionID) {
			_ = bus.Emit(ctx, events.EventWorkflowStopped, map[string]any{
				"session_id": st.SessionID,
				"reason":     "cancelled by client",
			})
			return e.finish(st, events.StatusStopped)
		}
		if st.React.Operations >= limits.MaxOperations {
			_ = bus.Emit(ctx, events.EventAbortComplexity, map[string]any{
				"step_number": st.React.CurrentStep,
				"operations":  st.React.Operations,
				"message":     "workflow exceeded the sequential operation budget",
			})
			return e.finish(st, events.StatusAborted)
		}
		if st.React.StalledFor >= limits.MaxStalled {
			_ = bus.Emit(ctx, events.EventStalled, map[string]any{
				"step_number": st.React.CurrentStep,
				"message":     "no progress across consecutive cycles",
			})
			return e.finish(st, events.StatusStopped)
		}

		token, ok := e.deps.Guards.Acquire(st.SessionID, st.React.CurrentStep)
		if !ok {
			// A prior step is still in flight. Back off without advancing.
			select {
			case <-time.After(limits.GuardBackoff):
			case <-ctx.Done():
				return e.finish(st, events.StatusStopped)
			}
			continue
		}

		historyBefore := st.HistoryLen()
		outcome := e.runCycle(ctx, st, bus, run, token)
		e.deps.Guards.Release(st.SessionID, token)

		if st.HistoryLen() > historyBefore {
			st.React.StalledFor = 0
		} else {
			st.React.StalledFor++
		}

		switch outcome {
		case cycleAdvance, cycleStay:
			metrics.CyclesTotal.WithLabelValues("continue").Inc()
		case cycleCompleted:
			metrics.CyclesTotal.WithLabelValues("completed").Inc()
			st.React.GoalAchieved = true
			e.emitTerminal(ctx, st, bus)
			return e.finish(st, events.StatusCompleted)
		case cyclePaused:
			metrics.CyclesTotal.WithLabelValues("paused").Inc()
			return e.finish(st, events.StatusPaused)
		case cycleStopped:
			metrics.CyclesTotal.WithLabelValues("stopped").Inc()
			return e.finish(st, events.StatusStopped)
		case cycleDisconnected:
			metrics.CyclesTotal.WithLabelValues("disconnected").Inc()
			return e.finish(st, events.StatusDisconnected)
		case cycleFailed:
			metrics.CyclesTotal.WithLabelValues("failed").Inc()
			_ = bus.Emit(ctx, events.EventError, map[string]any{
				"session_id": st.SessionID,
				"message":    "workflow ended after an unrecoverable planning failure",
			})
			return e.finish(st, events.StatusFailed)
		}
	}

	// Step budget exhausted without an explicit completion.
	_ = bus.Emit(ctx, events.EventWorkflowCompleted, map[string]any{
		"session_id":    st.SessionID,
		"total_steps":   st.HistoryLen(),
		"goal_achieved": st.React.GoalAchieved,
	})
	return e.finish(st, events.StatusCompleted)
}

// finish records the terminal status metric and returns it.
func (e *Engine) finish(st *session.State, status string) string {
	metrics.WorkflowsCompleted.WithLabelValues(status).Inc()
	slog.Info("Workflow finished", "session_id", st.SessionID, "status", status,
		"steps", st.HistoryLen(), "replays", st.ReplayCount)
	return status
}

// emitTerminal persists the run artifact and streams the terminal insight
// followed by workflow_completed, which is always the last event.
func (e *Engine) emitTerminal(ctx context.Context, st *session.State, bus events.Emitter) {
	e.persistRunArtifact(ctx, st)

	if e.deps.Insights != nil && st.HistoryLen() > 0 {
		wi, err := e.deps.Insights.WorkflowInsight(ctx, st.Goal, st.History())
		if err != nil {
			_ = bus.Emit(ctx, events.EventInsightFailed, map[string]any{
				"session_id": st.SessionID,
				"message":    err.Error(),
			})
		} else {
			_ = bus.Emit(ctx, events.EventWorkflowInsight, map[string]any{
				"session_id":     st.SessionID,
				"insight":        wi.Insight,
				"used_steps":     wi.UsedSteps,
				"files_profiled": wi.FilesProfiled,
			})
		}
	}

	_ = bus.Emit(ctx, events.EventWorkflowCompleted, map[string]any{
		"session_id":    st.SessionID,
		"total_steps":   st.HistoryLen(),
		"goal_achieved": true,
	})
}

// persistRunArtifact merges the run summary into the document store.
// Failures log and move on; durability of the final event stream never
// blocks the client-facing completion.
func (e *Engine) persistRunArtifact(ctx context.Context, st *session.State) {
	if e.deps.Docs == nil {
		return
	}
	steps := make([]any, 0, st.HistoryLen())
	for _, rec := range st.History() {
		steps = append(steps, map[string]any{
			"step":         rec.StepNumber,
			"atom_id":      rec.AtomID,
			"description":  rec.Description,
			"success":      rec.Succeeded(),
			"saved_path":   rec.SavedPath,
			"output_alias": rec.OutputAlias,
		})
	}
	key := storage.ArtifactKey{
		Client:  st.Context.Client,
		App:     st.Context.App,
		Project: st.Context.Project,
	}
	err := e.deps.Docs.MergeRunArtifact(ctx, key, map[string]any{
		"workflows": []any{map[string]any{
			"session_id": st.SessionID,
			"goal":       st.Goal,
			"steps":      steps,
			"files":      toAnySlice(st.AvailableFiles()),
		}},
	})
	if err != nil {
		slog.Warn("Failed to persist run artifact", "session_id", st.SessionID, "error", err)
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

package engine

import (
	"context"
	"errors"

	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/llm"
	"github.com/theHdd4/trinity-orchestrator/pkg/metrics"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/prompt"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
)

// evaluateStep grades an executed step. Grader failures never stall the
// loop: any error falls back to the heuristic verdict.
func (e *Engine) evaluateStep(ctx context.Context, st *session.State, bus events.Emitter, plan *models.StepPlan, rec *models.StepRecord) *models.Evaluation {
	limits := e.deps.Limits

	_ = bus.Emit(ctx, events.EventObservation, map[string]any{
		"step_number": plan.StepNumber,
		"success":     rec.Succeeded(),
		"message":     observationText(rec),
	})

	req := llm.Request{
		Messages: toLLMMessages(e.deps.Prompts.BuildEvalMessages(prompt.EvalInput{
			Goal:    st.Goal,
			Plan:    *plan,
			Result:  rec.Result,
			History: st.History(),
		})),
		Temperature: e.deps.Settings.EvalTemperature,
		MaxTokens:   e.deps.Settings.MaxTokens,
	}

	var ev models.Evaluation
	err := llm.CompleteJSON(ctx, e.deps.LLM, req, &ev, llm.CallOptions{
		AttemptTimeout: limits.LLMTimeout,
		Bound:          limits.EvalBound,
		DecodeRetries:  limits.EvalJSONRetries,
	})
	if err != nil {
		var jsonErr *llm.JSONGenerationError
		if errors.As(err, &jsonErr) {
			metrics.LLMJSONRetries.Add(float64(jsonErr.Attempts - 1))
		}
		fallback := models.FallbackEvaluation(rec.Succeeded(), "evaluator unavailable; using step outcome")
		e.emitDecision(ctx, bus, plan.StepNumber, fallback)
		return fallback
	}

	ev.Decision = ev.Decision.Coerce()
	e.emitDecision(ctx, bus, plan.StepNumber, &ev)
	return &ev
}

func (e *Engine) emitDecision(ctx context.Context, bus events.Emitter, step int, ev *models.Evaluation) {
	payload := map[string]any{
		"step_number": step,
		"decision":    string(ev.Decision),
		"reasoning":   ev.Reasoning,
		"correctness": ev.Correctness,
	}
	if ev.QualityScore != nil {
		payload["quality_score"] = *ev.QualityScore
	}
	if len(ev.Issues) > 0 {
		payload["issues"] = ev.Issues
	}
	_ = bus.Emit(ctx, events.EventDecision, payload)
}

// observationText is the short result summary streamed before grading.
func observationText(rec *models.StepRecord) string {
	if rec.Result == nil {
		return "step produced no result"
	}
	if !rec.Result.Success {
		return prompt.Truncate("step failed: "+rec.Result.Error, 500)
	}
	if rec.SavedPath != "" {
		return "step succeeded, output saved to " + rec.SavedPath
	}
	return "step succeeded"
}

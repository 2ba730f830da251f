package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/atom"
	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
)

// autoSave materializes a successful dataset-producing step before the
// evaluator sees it. Save failures degrade the record (SavedPath stays
// empty) rather than failing the cycle; the dependency gate catches the
// hole on the next step and triggers a replay.
func (e *Engine) autoSave(ctx context.Context, st *session.State, bus events.Emitter, plan *models.StepPlan, rec *models.StepRecord) cycleOutcome {
	if !rec.Succeeded() {
		return cycleAdvance
	}
	cap, ok := e.deps.Registry.Get(plan.AtomID)
	if !ok || !cap.ProducesDataset {
		return cycleAdvance
	}

	path, err := e.materialize(ctx, st, plan, rec, cap)
	if err != nil {
		slog.Warn("Auto-save failed; continuing with degraded step",
			"session_id", st.SessionID, "step", plan.StepNumber,
			"atom_id", plan.AtomID, "error", err)
		return cycleAdvance
	}
	if path == "" {
		return cycleAdvance
	}

	rec.SavedPath = path
	st.RegisterFile(path)
	if plan.OutputAlias != "" {
		st.RegisterAlias(plan.OutputAlias, path)
	}

	if err := bus.Emit(ctx, events.EventFileCreated, map[string]any{
		"step_number":  plan.StepNumber,
		"file_path":    path,
		"output_alias": plan.OutputAlias,
	}); err != nil {
		return cycleDisconnected
	}
	return cycleAdvance
}

// materialize resolves the step's output to a storage path. Passthrough
// atoms already reference stored files; everything else round-trips the
// result CSV through the atom's save endpoint.
func (e *Engine) materialize(ctx context.Context, st *session.State, plan *models.StepPlan, rec *models.StepRecord, cap atom.Capability) (string, error) {
	if cap.PassthroughSave {
		return e.deps.Registry.ResultFile(plan.AtomID, rec.Result.Payload), nil
	}

	// Some atoms persist server-side and answer with the stored path.
	if path := e.deps.Registry.ResultFile(plan.AtomID, rec.Result.Payload); path != "" {
		return path, nil
	}

	csv := extractCSV(rec.Result.Payload)
	if csv == "" {
		return "", fmt.Errorf("atom %s returned neither a stored path nor CSV content", plan.AtomID)
	}

	return e.deps.Invoker.Save(ctx, atom.SaveRequest{
		AtomID:    plan.AtomID,
		SessionID: st.SessionID,
		Filename:  saveFilename(plan),
		CSVData:   csv,
	})
}

// saveFilename derives the stored filename from the step's output alias and
// a UTC timestamp.
func saveFilename(plan *models.StepPlan) string {
	alias := plan.OutputAlias
	if alias == "" {
		alias = fmt.Sprintf("step_%d_output", plan.StepNumber)
	}
	return fmt.Sprintf("%s_%s.arrow", sanitizeFilename(alias), time.Now().UTC().Format("20060102T150405Z"))
}

// sanitizeFilename keeps [a-z0-9_-]; everything else becomes an underscore.
func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// extractCSV pulls serialized tabular content out of an atom payload.
func extractCSV(payload map[string]any) string {
	for _, key := range []string{"csv_data", "data"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

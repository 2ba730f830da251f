package engine

import (
	"fmt"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
)

// RejectionKind classifies why a planned step cannot run yet.
type RejectionKind int

const (
	RejectPreviousFailed RejectionKind = iota
	RejectMissingOutput
	RejectEmptyDataset
)

// Rejection is a typed validation verdict. A nil *Rejection means the plan
// may execute.
type Rejection struct {
	Kind   RejectionKind
	Reason string
}

// validatePlan gates a plan on the state of the previous step. First steps
// and steps that do not consume prior output always pass; the interesting
// cases are a failed predecessor, a predecessor whose output never
// materialized, and a predecessor that produced zero rows.
func (e *Engine) validatePlan(st *session.State, plan *models.StepPlan) *Rejection {
	last := st.LastRecord()
	if last == nil {
		return nil
	}
	if !e.consumesPriorOutput(st, plan, last) {
		return nil
	}

	if !last.Succeeded() {
		reason := fmt.Sprintf("step %d (%s) failed", last.StepNumber, last.AtomID)
		if last.Result != nil && last.Result.Error != "" {
			reason = fmt.Sprintf("%s: %s", reason, last.Result.Error)
		}
		return &Rejection{Kind: RejectPreviousFailed, Reason: reason}
	}

	materialized := e.materializedOutput(st, last)
	if materialized == "" {
		return &Rejection{
			Kind:   RejectMissingOutput,
			Reason: fmt.Sprintf("no materialized output from step %d (%s)", last.StepNumber, last.AtomID),
		}
	}

	if rows, ok := rowCount(last.Result.Payload); ok && rows <= 0 {
		return &Rejection{
			Kind:   RejectEmptyDataset,
			Reason: fmt.Sprintf("step %d (%s) produced an empty dataset", last.StepNumber, last.AtomID),
		}
	}
	return nil
}

// consumesPriorOutput reports whether the plan depends on the previous
// step's result. Atoms that take no input never do; otherwise the plan
// counts as dependent when it references the predecessor's alias, saved
// path, or declared result file, or when the predecessor was supposed to
// produce a dataset and the plan names no older file explicitly.
func (e *Engine) consumesPriorOutput(st *session.State, plan *models.StepPlan, last *models.StepRecord) bool {
	cap, ok := e.deps.Registry.Get(plan.AtomID)
	if ok && !cap.RequiresInput {
		return false
	}

	refs := make([]string, 0, len(plan.FilesUsed)+len(plan.Inputs))
	refs = append(refs, plan.FilesUsed...)
	refs = append(refs, plan.Inputs...)

	materialized := e.materializedOutput(st, last)
	for _, ref := range refs {
		if ref == materialized && ref != "" {
			return true
		}
		if last.OutputAlias != "" {
			if resolved, ok := st.ResolveAlias(ref); ok && resolved == materialized && materialized != "" {
				return true
			}
			if equalAlias(ref, last.OutputAlias) {
				return true
			}
		}
	}

	// No explicit reference. A latest-preferring consumer right after a
	// dataset producer still depends on that output.
	lastCap, ok := e.deps.Registry.Get(last.AtomID)
	if ok && lastCap.ProducesDataset && cap.PrefersLatest {
		return true
	}
	return false
}

// materializedOutput returns the predecessor's usable output path, favoring
// the auto-saved path over the atom's own declared result file. The path
// must also be registered as available to count.
func (e *Engine) materializedOutput(st *session.State, last *models.StepRecord) string {
	if last.SavedPath != "" && st.HasFile(last.SavedPath) {
		return last.SavedPath
	}
	if last.Result == nil {
		return ""
	}
	if path := e.deps.Registry.ResultFile(last.AtomID, last.Result.Payload); path != "" && st.HasFile(path) {
		return path
	}
	return ""
}

// rowCount digs the row count out of an atom payload.
func rowCount(payload map[string]any) (int, bool) {
	for _, key := range []string{"row_count", "rows", "num_rows"} {
		switch v := payload[key].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		}
	}
	return 0, false
}

func equalAlias(a, b string) bool {
	return session.NormalizeAlias(a) == session.NormalizeAlias(b)
}

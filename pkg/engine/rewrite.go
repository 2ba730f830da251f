package engine

import (
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
)

// rewritePlan normalizes a freshly planned step before validation: alias
// tokens in files_used and string inputs resolve to their registered paths,
// and latest-preferring atoms (chart-maker) are rebound to the newest
// materialized file no matter which file the planner named.
func (e *Engine) rewritePlan(st *session.State, plan *models.StepPlan) {
	for i, f := range plan.FilesUsed {
		if path, ok := st.ResolveAlias(f); ok {
			plan.FilesUsed[i] = path
		}
	}
	for i, in := range plan.Inputs {
		if path, ok := st.ResolveAlias(in); ok {
			plan.Inputs[i] = path
		}
	}

	cap, ok := e.deps.Registry.Get(plan.AtomID)
	if !ok || !cap.PrefersLatest {
		return
	}
	latest := st.LatestFile()
	if latest == "" {
		return
	}
	// Stale planner bindings are the norm here: the model tends to chart the
	// file it saw at planning time, not the one the previous step produced.
	plan.FilesUsed = []string{latest}
	if len(plan.Inputs) > 0 {
		plan.Inputs = []string{latest}
	}
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/theHdd4/trinity-orchestrator/pkg/atom"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

func TestRewriteResolvesAliases(t *testing.T) {
	e, st := validatorFixture(t)
	st.RegisterFile("merged.arrow")
	st.RegisterAlias("merged data", "merged.arrow")

	plan := &models.StepPlan{
		AtomID:    atom.AtomGroupBy,
		FilesUsed: []string{"Merged Data", "sales.arrow"},
		Inputs:    []string{"merged data"},
	}
	e.rewritePlan(st, plan)

	assert.Equal(t, []string{"merged.arrow", "sales.arrow"}, plan.FilesUsed)
	assert.Equal(t, []string{"merged.arrow"}, plan.Inputs)
}

func TestRewriteRebindsLatestPreferringAtom(t *testing.T) {
	e, st := validatorFixture(t)
	st.RegisterFile("grouped.arrow")

	plan := &models.StepPlan{
		AtomID:    atom.AtomChartMaker,
		FilesUsed: []string{"sales.arrow"},
		Inputs:    []string{"sales.arrow"},
	}
	e.rewritePlan(st, plan)

	assert.Equal(t, []string{"grouped.arrow"}, plan.FilesUsed)
	assert.Equal(t, []string{"grouped.arrow"}, plan.Inputs)
}

func TestRewriteLeavesNonLatestAtomsAlone(t *testing.T) {
	e, st := validatorFixture(t)
	st.RegisterFile("grouped.arrow")

	plan := &models.StepPlan{
		AtomID:    atom.AtomMerge,
		FilesUsed: []string{"sales.arrow", "costs.arrow"},
	}
	e.rewritePlan(st, plan)

	assert.Equal(t, []string{"sales.arrow", "costs.arrow"}, plan.FilesUsed)
}

func TestRewriteKeepsBindingWithoutAnyFile(t *testing.T) {
	h := newHarness(t, nil)
	st := h.newSession("chart something")

	plan := &models.StepPlan{AtomID: atom.AtomChartMaker, FilesUsed: []string{"ghost.arrow"}}
	h.engine.rewritePlan(st, plan)

	assert.Equal(t, []string{"ghost.arrow"}, plan.FilesUsed)
}

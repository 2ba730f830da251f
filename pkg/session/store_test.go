package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

func projectCtx() models.ProjectContext {
	return models.ProjectContext{Client: "acme", App: "forecast", Project: "q3"}
}

func TestStoreCreateReturnsExistingOnReconnect(t *testing.T) {
	store := NewStore()

	st := store.Create("sess-1", "analyze sales", projectCtx(), models.ModeLaboratory, []string{"sales.arrow"})
	st.React.Paused = true
	st.React.PausedAtStep = 2

	// A reconnect with the same id must land on the paused session, not a
	// fresh one.
	again := store.Create("sess-1", "different goal", projectCtx(), models.ModeLaboratory, nil)
	assert.Same(t, st, again)
	assert.True(t, again.React.Paused)
	assert.Equal(t, "analyze sales", again.Goal)
}

func TestStoreInvalidModeFallsBack(t *testing.T) {
	store := NewStore()
	st := store.Create("sess-1", "goal", projectCtx(), models.Mode("bogus"), nil)
	assert.Equal(t, models.ModeLaboratory, st.Mode)
}

func TestStoreCancelLifecycle(t *testing.T) {
	store := NewStore()
	store.Create("sess-1", "goal", projectCtx(), models.ModeLaboratory, nil)

	assert.False(t, store.IsCancelled("sess-1"))
	store.Cancel("sess-1")
	assert.True(t, store.IsCancelled("sess-1"))

	store.ClearCancel("sess-1")
	assert.False(t, store.IsCancelled("sess-1"))

	store.Cancel("sess-1")
	store.Delete("sess-1")
	_, err := store.Get("sess-1")
	require.Error(t, err)
	assert.False(t, store.IsCancelled("sess-1"))
}

func TestRegisterFileKeepsNewestLast(t *testing.T) {
	store := NewStore()
	st := store.Create("sess-1", "goal", projectCtx(), models.ModeLaboratory, []string{"a.arrow", "b.arrow"})

	st.RegisterFile("c.arrow")
	assert.Equal(t, "c.arrow", st.LatestFile())

	// Re-registering an existing path moves it to the end.
	st.RegisterFile("a.arrow")
	assert.Equal(t, []string{"b.arrow", "c.arrow", "a.arrow"}, st.AvailableFiles())
	assert.Equal(t, "a.arrow", st.LatestFile())
	assert.True(t, st.HasFile("b.arrow"))
	assert.False(t, st.HasFile("missing.arrow"))
}

func TestAliasResolutionIsCaseAndSpaceInsensitive(t *testing.T) {
	store := NewStore()
	st := store.Create("sess-1", "goal", projectCtx(), models.ModeLaboratory, nil)

	st.RegisterAlias("Merged  Sales", "merged_sales.arrow")

	path, ok := st.ResolveAlias("merged sales")
	require.True(t, ok)
	assert.Equal(t, "merged_sales.arrow", path)

	path, ok = st.ResolveAlias("  MERGED SALES ")
	require.True(t, ok)
	assert.Equal(t, "merged_sales.arrow", path)

	_, ok = st.ResolveAlias("unknown alias")
	assert.False(t, ok)

	// Empty aliases are ignored entirely.
	st.RegisterAlias("", "nowhere.arrow")
	assert.Len(t, st.Aliases(), 1)
}

func TestCachedPlanIsIsolatedFromMutation(t *testing.T) {
	store := NewStore()
	st := store.Create("sess-1", "goal", projectCtx(), models.ModeLaboratory, nil)

	plan := &models.StepPlan{StepNumber: 2, AtomID: "merge", FilesUsed: []string{"a.arrow"}}
	st.CachePlan(plan)
	plan.FilesUsed[0] = "mutated.arrow"

	cached := st.CachedPlan(2)
	require.NotNil(t, cached)
	assert.Equal(t, "a.arrow", cached.FilesUsed[0])

	// And mutating the returned copy leaves the cache intact.
	cached.AtomID = "concat"
	assert.Equal(t, "merge", st.CachedPlan(2).AtomID)

	assert.Nil(t, st.CachedPlan(99))
}

func TestPatchLastRecordReplacesInPlace(t *testing.T) {
	store := NewStore()
	st := store.Create("sess-1", "goal", projectCtx(), models.ModeLaboratory, nil)

	st.AppendRecord(models.StepRecord{StepPlan: models.StepPlan{StepNumber: 1, AtomID: "merge"}})
	st.AppendRecord(models.StepRecord{StepPlan: models.StepPlan{StepNumber: 2, AtomID: "groupby-wtg-avg"}})

	patched := models.StepRecord{
		StepPlan:  models.StepPlan{StepNumber: 2, AtomID: "groupby-wtg-avg"},
		SavedPath: "recovered.arrow",
	}
	st.PatchLastRecord(patched)

	require.Equal(t, 2, st.HistoryLen())
	last := st.LastRecord()
	require.NotNil(t, last)
	assert.Equal(t, "recovered.arrow", last.SavedPath)
}

func TestNormalizeAlias(t *testing.T) {
	assert.Equal(t, "merged sales", NormalizeAlias("  Merged   SALES "))
	assert.Equal(t, "", NormalizeAlias("   "))
}

func TestSnapshotIsDetached(t *testing.T) {
	store := NewStore()
	st := store.Create("sess-1", "goal", projectCtx(), models.ModeLaboratory, []string{"a.arrow"})
	st.RegisterAlias("out", "out.arrow")

	snap := st.Snapshot()
	snap.AvailableFiles[0] = "tampered"
	snap.Aliases["out"] = "tampered"

	assert.Equal(t, "a.arrow", st.AvailableFiles()[0])
	resolved, _ := st.ResolveAlias("out")
	assert.Equal(t, "out.arrow", resolved)
}

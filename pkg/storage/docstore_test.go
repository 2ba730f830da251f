package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeCardsKeepsLastOccurrence(t *testing.T) {
	cards := []Card{
		{"id": "a", "title": "first"},
		{"id": "b", "title": "keep"},
		{"id": "a", "title": "last"},
		{"title": "no id"},
	}

	out := DedupeCards(cards)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].CardID())
	assert.Equal(t, "last", out[1]["title"])
	assert.Empty(t, out[2].CardID())
}

func TestDedupeCardsEmpty(t *testing.T) {
	assert.Empty(t, DedupeCards(nil))
	assert.Empty(t, DedupeCards([]Card{}))
}

func TestDeepExtend(t *testing.T) {
	dst := map[string]any{
		"scalar": 1,
		"nested": map[string]any{"keep": "x", "overwrite": "old"},
		"list":   []any{"a"},
	}
	src := map[string]any{
		"scalar": 2,
		"nested": map[string]any{"overwrite": "new", "added": true},
		"list":   []any{"b"},
		"fresh":  "value",
	}

	out := DeepExtend(dst, src)
	assert.Equal(t, 2, out["scalar"])
	assert.Equal(t, "value", out["fresh"])
	assert.Equal(t, []any{"a", "b"}, out["list"])

	nested := out["nested"].(map[string]any)
	assert.Equal(t, "x", nested["keep"])
	assert.Equal(t, "new", nested["overwrite"])
	assert.Equal(t, true, nested["added"])
}

func TestDeepExtendTypeMismatchOverwrites(t *testing.T) {
	dst := map[string]any{"field": map[string]any{"a": 1}}
	src := map[string]any{"field": "now a string"}
	out := DeepExtend(dst, src)
	assert.Equal(t, "now a string", out["field"])

	out = DeepExtend(nil, map[string]any{"a": 1})
	assert.Equal(t, 1, out["a"])
}

func TestStateKeyAndArtifactKeyIDs(t *testing.T) {
	sk := StateKey{Client: "acme", App: "forecast", Project: "q3", Mode: "laboratory"}
	assert.Equal(t, "acme/forecast/q3/laboratory", sk.ID())

	ak := ArtifactKey{Client: "acme", App: "forecast", Project: "q3"}
	assert.Equal(t, "acme/forecast/q3", ak.ID())
	ak.ScenarioID = "s1"
	assert.Equal(t, "acme/forecast/q3/s1", ak.ID())
}

func TestMemDocStoreProjectState(t *testing.T) {
	store := NewMemDocStore()
	ctx := context.Background()
	key := StateKey{Client: "acme", App: "forecast", Project: "q3", Mode: "laboratory"}

	_, err := store.LoadProjectState(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	state := &ProjectState{Cards: []Card{{"id": "c1"}}, AutosaveEnabled: true}
	require.NoError(t, store.SaveProjectState(ctx, key, state))

	loaded, err := store.LoadProjectState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key.ID(), loaded.ID)
	assert.Equal(t, "laboratory", loaded.Mode)
	assert.True(t, loaded.AutosaveEnabled)
	require.Len(t, loaded.Cards, 1)
	assert.Equal(t, "c1", loaded.Cards[0].CardID())

	assert.Equal(t, 1, store.SaveCount(key))
	require.NoError(t, store.SaveProjectState(ctx, key, state))
	assert.Equal(t, 2, store.SaveCount(key))
}

func TestMemDocStoreRunArtifactsMerge(t *testing.T) {
	store := NewMemDocStore()
	ctx := context.Background()
	key := ArtifactKey{Client: "acme", App: "forecast", Project: "q3"}

	require.NoError(t, store.MergeRunArtifact(ctx, key, map[string]any{
		"workflows": []any{map[string]any{"session_id": "s1"}},
	}))
	require.NoError(t, store.MergeRunArtifact(ctx, key, map[string]any{
		"workflows": []any{map[string]any{"session_id": "s2"}},
	}))

	doc, err := store.LoadRunArtifact(ctx, key)
	require.NoError(t, err)
	workflows := doc["workflows"].([]any)
	assert.Len(t, workflows, 2)
}

package atom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEndpoints(t *testing.T) {
	reg := NewRegistry("http://atoms:8000/")

	cap, ok := reg.Get(AtomMerge)
	require.True(t, ok)
	assert.Equal(t, "http://atoms:8000/api/merge", cap.Endpoint)
	assert.Equal(t, "http://atoms:8000/api/merge/save", cap.SaveEndpoint)
	assert.True(t, cap.ProducesDataset)
	assert.True(t, cap.RequiresInput)

	cap, ok = reg.Get(AtomChartMaker)
	require.True(t, ok)
	assert.Empty(t, cap.SaveEndpoint)
	assert.True(t, cap.PrefersLatest)
	assert.False(t, cap.ProducesDataset)

	_, ok = reg.Get("no-such-atom")
	assert.False(t, ok)
}

func TestRegistryDescriptionsCoverAllAtoms(t *testing.T) {
	reg := NewRegistry("http://atoms:8000")
	descs := reg.Descriptions()
	require.Len(t, descs, len(reg.IDs()))
	for id, desc := range descs {
		assert.NotEmpty(t, desc, "atom %s has no description", id)
	}
}

func TestInferFromDescription(t *testing.T) {
	reg := NewRegistry("http://atoms:8000")

	tests := []struct {
		description string
		want        string
	}{
		{"Merge the sales and region datasets on store id", AtomMerge},
		{"Plot a bar chart of revenue by region", AtomChartMaker},
		{"Group by region and compute the weighted average", AtomGroupBy},
		{"Load the uploaded quarterly file", AtomDataUpload},
		{"Compute correlations between price and demand", AtomCorrelation},
	}
	for _, tc := range tests {
		got, ok := reg.InferFromDescription(tc.description)
		require.True(t, ok, "no atom inferred for %q", tc.description)
		assert.Equal(t, tc.want, got, "description %q", tc.description)
	}

	_, ok := reg.InferFromDescription("do something unrelated to data")
	assert.False(t, ok)
}

func TestResultFileFollowsDottedPath(t *testing.T) {
	reg := NewRegistry("http://atoms:8000")

	payload := map[string]any{
		"merge_json": map[string]any{"result_file": "merged_2024.arrow"},
	}
	assert.Equal(t, "merged_2024.arrow", reg.ResultFile(AtomMerge, payload))

	// saved_path is the fallback for every atom.
	assert.Equal(t, "fallback.arrow", reg.ResultFile(AtomMerge, map[string]any{"saved_path": "fallback.arrow"}))
	assert.Equal(t, "up.arrow", reg.ResultFile(AtomDataUpload, map[string]any{"saved_path": "up.arrow"}))

	// Wrong shapes never panic.
	assert.Empty(t, reg.ResultFile(AtomMerge, map[string]any{"merge_json": "not-a-map"}))
	assert.Empty(t, reg.ResultFile(AtomMerge, map[string]any{}))
}

// Package atom holds the static registry of callable atoms and the HTTP
// invoker that executes them. Atoms are externally hosted operations
// (load/merge/group/chart/...) addressed by id.
package atom

import (
	"sort"
	"strings"
)

// Capability describes one atom's contract with the engine.
// ProducesDataset and PrefersLatest are independent booleans: an atom may
// produce a dataset without preferring the latest one as input (merge), or
// prefer the latest without producing one (chart-maker).
type Capability struct {
	// Endpoint is the atom's execution URL.
	Endpoint string
	// SaveEndpoint is the atom's save URL for materializing results.
	// Empty when the atom produces no dataset.
	SaveEndpoint string
	// RequiresInput marks atoms that consume a prior artifact.
	RequiresInput bool
	// ProducesDataset marks atoms whose results are auto-saved and aliased.
	ProducesDataset bool
	// PrefersLatest marks atoms that should be rebound to the most recent
	// available file.
	PrefersLatest bool
	// PassthroughSave marks atoms whose result references an existing
	// storage path instead of new content (data-upload-validate).
	PassthroughSave bool
	// ResultFileField is the dotted path inside the atom's response payload
	// where the materialized output path lives. "saved_path" when empty.
	ResultFileField string
	// Keywords drive atom-id inference from plan descriptions when the
	// planner omits the id.
	Keywords []string
	// Description is the one-line capability summary shown to the planner.
	Description string
}

// Registry is the immutable atom id → capability map. It is the one
// genuinely global piece of configuration in the system.
type Registry struct {
	atoms map[string]Capability
}

// Atom ids. The enumeration is fixed by the platform.
const (
	AtomDataUpload   = "data-upload-validate"
	AtomFeature      = "feature-overview"
	AtomMerge        = "merge"
	AtomConcat       = "concat"
	AtomCreateColumn = "create-column"
	AtomGroupBy      = "groupby-wtg-avg"
	AtomDataFrameOps = "dataframe-operations"
	AtomChartMaker   = "chart-maker"
	AtomExplore      = "explore"
	AtomCorrelation  = "correlation"
)

// NewRegistry builds the registry with endpoints rooted at baseURL.
func NewRegistry(baseURL string) *Registry {
	baseURL = strings.TrimRight(baseURL, "/")
	endpoint := func(id string) string { return baseURL + "/api/" + id }
	save := func(id string) string { return baseURL + "/api/" + id + "/save" }

	return &Registry{atoms: map[string]Capability{
		AtomDataUpload: {
			Endpoint:        endpoint(AtomDataUpload),
			SaveEndpoint:    save(AtomDataUpload),
			ProducesDataset: true,
			PassthroughSave: true,
			Keywords:        []string{"load", "upload", "validate", "read", "import"},
			Description:     "Load and validate an uploaded dataset, registering it for downstream steps",
		},
		AtomFeature: {
			Endpoint:      endpoint(AtomFeature),
			RequiresInput: true,
			Keywords:      []string{"overview", "profile", "describe", "summary of columns"},
			Description:   "Profile a dataset: column types, distributions, and data quality notes",
		},
		AtomMerge: {
			Endpoint:        endpoint(AtomMerge),
			SaveEndpoint:    save(AtomMerge),
			RequiresInput:   true,
			ProducesDataset: true,
			ResultFileField: "merge_json.result_file",
			Keywords:        []string{"merge", "join", "combine datasets"},
			Description:     "Join two datasets on shared key columns",
		},
		AtomConcat: {
			Endpoint:        endpoint(AtomConcat),
			SaveEndpoint:    save(AtomConcat),
			RequiresInput:   true,
			ProducesDataset: true,
			ResultFileField: "concat_json.result_file",
			Keywords:        []string{"concat", "append", "stack", "union"},
			Description:     "Stack datasets with compatible columns into one",
		},
		AtomCreateColumn: {
			Endpoint:        endpoint(AtomCreateColumn),
			SaveEndpoint:    save(AtomCreateColumn),
			RequiresInput:   true,
			ProducesDataset: true,
			ResultFileField: "output_file",
			Keywords:        []string{"create column", "new column", "derive", "calculate column"},
			Description:     "Derive a new column from expressions over existing ones",
		},
		AtomGroupBy: {
			Endpoint:        endpoint(AtomGroupBy),
			SaveEndpoint:    save(AtomGroupBy),
			RequiresInput:   true,
			ProducesDataset: true,
			ResultFileField: "output_file",
			Keywords:        []string{"group", "aggregate", "sum", "average", "weighted"},
			Description:     "Aggregate a dataset by group with weighted or plain averages",
		},
		AtomDataFrameOps: {
			Endpoint:        endpoint(AtomDataFrameOps),
			SaveEndpoint:    save(AtomDataFrameOps),
			RequiresInput:   true,
			ProducesDataset: true,
			ResultFileField: "output_file",
			Keywords:        []string{"filter", "sort", "transform", "pivot", "dataframe"},
			Description:     "Filter, sort, pivot, or otherwise transform a dataset",
		},
		AtomChartMaker: {
			Endpoint:      endpoint(AtomChartMaker),
			RequiresInput: true,
			PrefersLatest: true,
			Keywords:      []string{"chart", "plot", "graph", "visualiz", "bar", "line", "pie"},
			Description:   "Render a chart from the most recent dataset",
		},
		AtomExplore: {
			Endpoint:      endpoint(AtomExplore),
			RequiresInput: true,
			PrefersLatest: true,
			Keywords:      []string{"explore", "inspect", "preview"},
			Description:   "Preview rows and summary statistics of a dataset",
		},
		AtomCorrelation: {
			Endpoint:      endpoint(AtomCorrelation),
			RequiresInput: true,
			Keywords:      []string{"correlat", "relationship", "association"},
			Description:   "Compute pairwise correlations between numeric columns",
		},
	}}
}

// Descriptions returns the id → description map used by prompt assembly.
func (r *Registry) Descriptions() map[string]string {
	out := make(map[string]string, len(r.atoms))
	for id, cap := range r.atoms {
		out[id] = cap.Description
	}
	return out
}

// Get returns the capability for an atom id.
func (r *Registry) Get(id string) (Capability, bool) {
	cap, ok := r.atoms[id]
	return cap, ok
}

// IDs returns all atom ids, sorted for deterministic prompt assembly.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.atoms))
	for id := range r.atoms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InferFromDescription guesses the atom id from a plan description when the
// planner omitted it. First keyword hit wins, atoms checked in sorted id
// order for determinism.
func (r *Registry) InferFromDescription(description string) (string, bool) {
	desc := strings.ToLower(description)
	for _, id := range r.IDs() {
		for _, kw := range r.atoms[id].Keywords {
			if strings.Contains(desc, kw) {
				return id, true
			}
		}
	}
	return "", false
}

// ResultFile extracts the materialized output path from an atom response
// payload, following the atom-specific field with a saved_path fallback.
// Returns "" if the payload carries no output path.
func (r *Registry) ResultFile(atomID string, payload map[string]any) string {
	if cap, ok := r.atoms[atomID]; ok && cap.ResultFileField != "" {
		if v := lookupDotted(payload, cap.ResultFileField); v != "" {
			return v
		}
	}
	return lookupDotted(payload, "saved_path")
}

// lookupDotted walks a dotted path ("merge_json.result_file") through nested
// string-keyed maps and returns the string leaf, or "".
func lookupDotted(payload map[string]any, path string) string {
	cur := any(payload)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[part]
		if !ok {
			return ""
		}
	}
	s, _ := cur.(string)
	return s
}

package storage

import (
	"context"
	"time"
)

// Card is one laboratory card in persisted project state. Shape is owned by
// the frontend; the hub only cares about the "id" field for deduplication.
type Card map[string]any

// CardID returns the card's id, or "" when absent.
func (c Card) CardID() string {
	id, _ := c["id"].(string)
	return id
}

// StateKey addresses persisted project state. One document exists per
// client/app/project/mode; writes are full-replace per mode.
type StateKey struct {
	Client  string
	App     string
	Project string
	Mode    string
}

// ID returns the document id "client/app/project/mode".
func (k StateKey) ID() string {
	return k.Client + "/" + k.App + "/" + k.Project + "/" + k.Mode
}

// ProjectState is the persisted per-mode project document. The field layout
// is fixed by the frontend contract.
type ProjectState struct {
	ID                    string           `bson:"_id" json:"_id"`
	Cards                 []Card           `bson:"cards" json:"cards"`
	WorkflowMolecules     []map[string]any `bson:"workflow_molecules" json:"workflow_molecules"`
	AuxiliaryMenuLeftOpen bool             `bson:"auxiliaryMenuLeftOpen" json:"auxiliaryMenuLeftOpen"`
	AutosaveEnabled       bool             `bson:"autosaveEnabled" json:"autosaveEnabled"`
	Mode                  string           `bson:"mode" json:"mode"`
	UpdatedAt             time.Time        `bson:"updated_at" json:"updated_at"`
}

// ArtifactKey addresses run artifact documents (scenario/forecasting side).
// ScenarioID may be empty for project-level artifacts.
type ArtifactKey struct {
	Client     string
	App        string
	Project    string
	ScenarioID string
}

// ID returns the document id, with the scenario segment when present.
func (k ArtifactKey) ID() string {
	id := k.Client + "/" + k.App + "/" + k.Project
	if k.ScenarioID != "" {
		id += "/" + k.ScenarioID
	}
	return id
}

// DocStore is the durable document store. Project state writes are
// full-replace per mode; run artifacts merge by deep-extend.
type DocStore interface {
	LoadProjectState(ctx context.Context, key StateKey) (*ProjectState, error)
	SaveProjectState(ctx context.Context, key StateKey, state *ProjectState) error
	MergeRunArtifact(ctx context.Context, key ArtifactKey, doc map[string]any) error
	LoadRunArtifact(ctx context.Context, key ArtifactKey) (map[string]any, error)
}

// DedupeCards removes duplicate cards by id, keeping the LAST occurrence
// while preserving insertion order. Cards without an id are kept as-is.
func DedupeCards(cards []Card) []Card {
	last := make(map[string]int, len(cards))
	for i, c := range cards {
		if id := c.CardID(); id != "" {
			last[id] = i
		}
	}
	out := make([]Card, 0, len(cards))
	for i, c := range cards {
		if id := c.CardID(); id != "" && last[id] != i {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DeepExtend merges src into dst recursively: nested maps merge key-wise,
// lists concatenate, scalars overwrite. dst is mutated and returned.
func DeepExtend(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, sv := range src {
		dv, exists := dst[key]
		if !exists {
			dst[key] = sv
			continue
		}
		switch svTyped := sv.(type) {
		case map[string]any:
			if dvMap, ok := dv.(map[string]any); ok {
				dst[key] = DeepExtend(dvMap, svTyped)
				continue
			}
			dst[key] = sv
		case []any:
			if dvList, ok := dv.([]any); ok {
				dst[key] = append(dvList, svTyped...)
				continue
			}
			dst[key] = sv
		default:
			dst[key] = sv
		}
	}
	return dst
}

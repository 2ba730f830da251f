package synchub

import (
	"context"
	"log/slog"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/metrics"
	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
)

const persistTimeout = 10 * time.Second

// scheduleLocked (re)arms the debounced save for a mode. Must be called
// with r.mu held. Each state message pushes the flush out by the debounce
// window; only the latest pending payload is ever written.
func (r *Room) scheduleLocked(mode string) {
	key := r.key.Key() + ":" + mode
	if t, ok := r.timers[key]; ok {
		t.Stop()
	}
	r.timers[key] = time.AfterFunc(r.debounce, func() {
		r.persist(mode)
	})
}

// persist writes the mode's pending payload to the document store. Success
// clears the pending entry; failure keeps it so the next state message
// retries.
func (r *Room) persist(mode string) {
	r.mu.Lock()
	payload := r.pending[mode]
	gen := r.gen[mode]
	delete(r.timers, r.key.Key()+":"+mode)
	r.mu.Unlock()

	if payload == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	state := stateFromPayload(mode, payload)
	if err := r.docs.SaveProjectState(ctx, r.stateKey(mode), state); err != nil {
		metrics.SyncPersists.WithLabelValues("error").Inc()
		slog.Warn("Failed to persist project state; will retry on next update",
			"project_key", r.key.Key(), "mode", mode, "error", err)
		return
	}
	metrics.SyncPersists.WithLabelValues("ok").Inc()

	r.mu.Lock()
	// A newer payload may have arrived while the write was in flight; its
	// own timer will flush it.
	if r.gen[mode] == gen {
		delete(r.pending, mode)
	}
	r.mu.Unlock()
}

// FlushAll persists every mode's pending state immediately, cancelling any
// armed timers. Used on shutdown and when the last client leaves.
func (r *Room) FlushAll() {
	r.mu.Lock()
	modes := make([]string, 0, len(r.pending))
	for mode := range r.pending {
		modes = append(modes, mode)
	}
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
	r.mu.Unlock()

	for _, mode := range modes {
		r.persist(mode)
	}
}

func (r *Room) stateKey(mode string) storage.StateKey {
	return storage.StateKey{
		Client:  r.key.Client,
		App:     r.key.App,
		Project: r.key.Project,
		Mode:    mode,
	}
}

// stateFromPayload shapes a client payload into the persisted document,
// deduplicating cards one final time before the write.
func stateFromPayload(mode string, payload map[string]any) *storage.ProjectState {
	state := &storage.ProjectState{Mode: mode}

	if list, ok := payload["cards"].([]any); ok {
		cards := make([]storage.Card, 0, len(list))
		for _, entry := range list {
			if m, ok := entry.(map[string]any); ok {
				cards = append(cards, storage.Card(m))
			}
		}
		state.Cards = storage.DedupeCards(cards)
	}
	if list, ok := payload["workflow_molecules"].([]any); ok {
		for _, entry := range list {
			if m, ok := entry.(map[string]any); ok {
				state.WorkflowMolecules = append(state.WorkflowMolecules, m)
			}
		}
	}
	if v, ok := payload["auxiliaryMenuLeftOpen"].(bool); ok {
		state.AuxiliaryMenuLeftOpen = v
	}
	if v, ok := payload["autosaveEnabled"].(bool); ok {
		state.AutosaveEnabled = v
	}
	return state
}

// payloadFromState is the inverse of stateFromPayload, used for hydration.
func payloadFromState(state *storage.ProjectState) map[string]any {
	cards := make([]any, 0, len(state.Cards))
	for _, c := range state.Cards {
		cards = append(cards, map[string]any(c))
	}
	molecules := make([]any, 0, len(state.WorkflowMolecules))
	for _, m := range state.WorkflowMolecules {
		molecules = append(molecules, m)
	}
	return map[string]any{
		"cards":                 cards,
		"workflow_molecules":    molecules,
		"auxiliaryMenuLeftOpen": state.AuxiliaryMenuLeftOpen,
		"autosaveEnabled":       state.AutosaveEnabled,
	}
}

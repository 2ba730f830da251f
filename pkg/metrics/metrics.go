// Package metrics exposes Prometheus counters for the orchestrator core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts ReAct cycles by terminal outcome of the cycle.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trinity_react_cycles_total",
		Help: "ReAct cycles executed, by outcome.",
	}, []string{"outcome"})

	// StepsExecuted counts atom executions by atom id and success.
	StepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trinity_steps_executed_total",
		Help: "Atom executions, by atom id and success.",
	}, []string{"atom_id", "success"})

	// AtomRetries counts atom call retries by atom id.
	AtomRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trinity_atom_retries_total",
		Help: "Atom call retry attempts.",
	}, []string{"atom_id"})

	// LLMJSONRetries counts JSON decode retries against the LLM.
	LLMJSONRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trinity_llm_json_retries_total",
		Help: "LLM JSON decode retry attempts.",
	})

	// Replays counts step replays.
	Replays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trinity_step_replays_total",
		Help: "Step replays triggered by missing materialized outputs.",
	})

	// SyncPersists counts debounced sync-hub persistence writes.
	SyncPersists = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trinity_sync_persists_total",
		Help: "Debounced project-state persistence writes, by result.",
	}, []string{"result"})

	// WorkflowsCompleted counts terminal workflow statuses.
	WorkflowsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trinity_workflows_total",
		Help: "Finished workflows, by terminal status.",
	}, []string{"status"})
)

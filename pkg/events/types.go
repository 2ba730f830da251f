// Package events defines the engine's WebSocket wire contract: the event
// taxonomy, payload shapes, and the per-session bus that serializes sends
// and surfaces disconnects as typed errors.
//
// All server-sent events share the envelope
//
//	{type, sequence_id, ...payload, timestamp}
//
// Within one session events are strictly ordered: the bus is a single
// producer and never emits an event for step N after any event for a later
// step.
package events

// Engine event types. String values are part of the frontend contract and
// must not change.
const (
	EventConnected         = "connected"
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowProgress  = "workflow_progress"
	EventThought           = "react_thought"
	EventAction            = "react_action"
	EventObservation       = "react_observation"
	EventDecision          = "react_decision"
	EventCorrection        = "react_correction"
	EventLoopDetected      = "react_loop_detected"
	EventStalled           = "react_stalled"
	EventAbortComplexity   = "react_abort_complexity"
	EventGenerationStatus  = "react_generation_status"
	EventGenerationTimeout = "react_generation_timeout"
	EventGenerationFailed  = "react_generation_failed"
	EventValidationBlocked = "react_validation_blocked"
	EventAtomPrompt        = "atom_prompt"
	EventAtomRetry         = "atom_retry"
	EventAgentExecuted     = "agent_executed"
	EventStepStarted       = "step_started"
	EventStepCompleted     = "step_completed"
	EventStepFailed        = "step_failed"
	EventFileCreated       = "file_created"
	EventWorkflowInsight   = "workflow_insight"
	EventInsightFailed     = "workflow_insight_failed"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowStopped   = "workflow_stopped"
	EventError             = "error"
	EventRetryRequired     = "retry_required"
)

// Terminal statuses returned by the engine's Execute.
const (
	StatusCompleted    = "completed"
	StatusStopped      = "stopped"
	StatusAborted      = "aborted"
	StatusPaused       = "paused"
	StatusFailed       = "failed"
	StatusDisconnected = "disconnected"
)

// ClientMessage is the client → server message for the engine socket.
type ClientMessage struct {
	Type           string   `json:"type"` // "start", "cancel", "resume"
	Goal           string   `json:"goal,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	ChatID         string   `json:"chat_id,omitempty"`
	Files          []string `json:"files,omitempty"`
	HistorySummary string   `json:"history_summary,omitempty"`
	FileFocus      string   `json:"file_focus,omitempty"`
	IntentRoute    string   `json:"intent_route,omitempty"`
	ClientName     string   `json:"client_name,omitempty"`
	AppName        string   `json:"app_name,omitempty"`
	ProjectName    string   `json:"project_name,omitempty"`
	Mode           string   `json:"mode,omitempty"`
}

// Package prompt assembles every piece of text the orchestrator hands to
// the LLM. Assembly is deterministic: same inputs, same prompt. The JSON
// response shapes pinned in templates.go are part of the engine contract.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/theHdd4/trinity-orchestrator/pkg/metadata"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

// resultSnapshotLimit caps how much of an atom result the evaluator sees.
const resultSnapshotLimit = 1500

// historyWindow is how many recent steps appear in prompts in full.
const historyWindow = 3

// Builder builds planning, evaluation, and insight prompts. Stateless;
// all state comes from parameters. Thread-safe.
type Builder struct {
	atomDescriptions map[string]string
}

// NewBuilder creates a Builder. atomDescriptions maps atom id to the short
// capability line shown to the planner.
func NewBuilder(atomDescriptions map[string]string) *Builder {
	return &Builder{atomDescriptions: atomDescriptions}
}

// PlanInput is everything the planner prompt is assembled from.
type PlanInput struct {
	Goal           string
	StepNumber     int
	History        []models.StepRecord
	Files          []*metadata.FileMetadata
	PriorityFiles  []string
	Aliases        map[string]string
	HistorySummary string
	// LoopRisk flags that the last atom may be about to repeat itself.
	LoopRisk bool
	// ChangeApproach tells the planner the previous plan was rejected and
	// the next one must differ in atom or files.
	ChangeApproach      bool
	AlternativeApproach string
}

// BuildPlanMessages assembles the planning conversation.
func (b *Builder) BuildPlanMessages(in PlanInput) []Message {
	var sys strings.Builder
	sys.WriteString(planTaskFocus)
	sys.WriteString("\n\nAvailable atoms:\n")
	for _, id := range sortedKeys(b.atomDescriptions) {
		fmt.Fprintf(&sys, "- %s: %s\n", id, b.atomDescriptions[id])
	}
	sys.WriteString("\n")
	sys.WriteString(planFormatInstructions)

	var user strings.Builder
	fmt.Fprintf(&user, "Goal: %s\n\nPlanning step %d.\n", in.Goal, in.StepNumber)

	if in.HistorySummary != "" {
		fmt.Fprintf(&user, "\nEarlier conversation summary:\n%s\n", in.HistorySummary)
	}

	user.WriteString("\nAvailable files (newest last):\n")
	for _, f := range in.Files {
		fmt.Fprintf(&user, "- %s", f.Path)
		if len(f.Columns) > 0 {
			fmt.Fprintf(&user, " | columns: %s | rows: %d", strings.Join(f.Columns, ", "), f.RowCount)
		}
		user.WriteString("\n")
	}
	if len(in.PriorityFiles) > 0 {
		fmt.Fprintf(&user, "\nThe user highlighted these files: %s\n", strings.Join(in.PriorityFiles, ", "))
	}

	if len(in.Aliases) > 0 {
		user.WriteString("\nKnown output aliases:\n")
		for _, alias := range sortedKeys(in.Aliases) {
			fmt.Fprintf(&user, "- %s -> %s\n", alias, in.Aliases[alias])
		}
	}

	writeHistory(&user, in.History)

	if in.LoopRisk {
		user.WriteString("\nWARNING: the previous step used the same atom you may be about to choose. Do not repeat a step on the same files.\n")
	}
	if in.ChangeApproach {
		user.WriteString("\nThe previous plan was rejected. Choose a DIFFERENT atom or different files than the last step.\n")
		if in.AlternativeApproach != "" {
			fmt.Fprintf(&user, "Suggested direction: %s\n", in.AlternativeApproach)
		}
	}

	return []Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}

// EvalInput is everything the evaluation prompt is assembled from.
type EvalInput struct {
	Goal    string
	Plan    models.StepPlan
	Result  *models.AtomResult
	History []models.StepRecord
}

// BuildEvalMessages assembles the grading conversation.
func (b *Builder) BuildEvalMessages(in EvalInput) []Message {
	var user strings.Builder
	fmt.Fprintf(&user, "Goal: %s\n\n", in.Goal)
	fmt.Fprintf(&user, "Step %d executed atom %q: %s\n", in.Plan.StepNumber, in.Plan.AtomID, in.Plan.Description)
	fmt.Fprintf(&user, "Files used: %s\n", strings.Join(in.Plan.FilesUsed, ", "))

	user.WriteString("\nResult snapshot:\n")
	user.WriteString(Truncate(resultSnapshot(in.Result), resultSnapshotLimit))
	user.WriteString("\n")

	writeHistory(&user, in.History)

	return []Message{
		{Role: "system", Content: evalTaskFocus + "\n\n" + evalFormatInstructions},
		{Role: "user", Content: user.String()},
	}
}

// BuildStepInsightMessages assembles the per-step narrative prompt.
func (b *Builder) BuildStepInsightMessages(goal string, rec models.StepRecord) []Message {
	var user strings.Builder
	fmt.Fprintf(&user, "Goal: %s\n\nStep %d ran %q: %s\n", goal, rec.StepNumber, rec.AtomID, rec.Description)
	user.WriteString("Result snapshot:\n")
	user.WriteString(Truncate(resultSnapshot(rec.Result), resultSnapshotLimit))
	return []Message{
		{Role: "system", Content: stepInsightInstructions},
		{Role: "user", Content: user.String()},
	}
}

// BuildAtomInsightMessages assembles the structured atom insight prompt.
func (b *Builder) BuildAtomInsightMessages(atomID string, facts map[string]any) []Message {
	var user strings.Builder
	fmt.Fprintf(&user, "Atom: %s\nFacts:\n", atomID)
	for _, k := range sortedAnyKeys(facts) {
		fmt.Fprintf(&user, "- %s: %v\n", k, facts[k])
	}
	return []Message{
		{Role: "system", Content: atomInsightInstructions},
		{Role: "user", Content: user.String()},
	}
}

// BuildWorkflowInsightMessages assembles the terminal summary prompt.
func (b *Builder) BuildWorkflowInsightMessages(goal string, history []models.StepRecord) []Message {
	var user strings.Builder
	fmt.Fprintf(&user, "Goal: %s\n\nExecuted steps:\n", goal)
	for _, rec := range history {
		status := "failed"
		if rec.Succeeded() {
			status = "ok"
		}
		fmt.Fprintf(&user, "%d. [%s] %s (%s)\n", rec.StepNumber, status, rec.Description, rec.AtomID)
		if rec.SavedPath != "" {
			fmt.Fprintf(&user, "   output: %s\n", rec.SavedPath)
		}
	}
	return []Message{
		{Role: "system", Content: workflowInsightInstructions},
		{Role: "user", Content: user.String()},
	}
}

// Message mirrors the LLM conversation turn without importing the llm
// package (the engine adapts it).
type Message struct {
	Role    string
	Content string
}

// writeHistory appends the last historyWindow step summaries.
func writeHistory(w *strings.Builder, history []models.StepRecord) {
	if len(history) == 0 {
		w.WriteString("\nNo steps executed yet.\n")
		return
	}
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	fmt.Fprintf(w, "\nRecent steps (%d total executed):\n", len(history))
	for _, rec := range history[start:] {
		status := "failed"
		if rec.Succeeded() {
			status = "ok"
		}
		fmt.Fprintf(w, "%d. [%s] %s -> atom=%s files=%s output_alias=%q\n",
			rec.StepNumber, status, rec.Description, rec.AtomID,
			strings.Join(rec.FilesUsed, ","), rec.OutputAlias)
	}
}

// resultSnapshot renders an atom result as stable JSON for prompts.
func resultSnapshot(result *models.AtomResult) string {
	if result == nil {
		return "(no result)"
	}
	data, err := json.Marshal(result.Payload)
	if err != nil || len(result.Payload) == 0 {
		if result.Error != "" {
			return "error: " + result.Error
		}
		return "(empty result)"
	}
	out := string(data)
	if result.Error != "" {
		out += "\nerror: " + result.Error
	}
	return out
}

// Truncate caps s at n bytes, appending an ellipsis marker when cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n...(truncated)"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

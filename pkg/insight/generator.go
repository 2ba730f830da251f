package insight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/llm"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/prompt"
)

// AtomInsight is the structured per-atom insight shown on cards.
type AtomInsight struct {
	Insight    string `json:"insight"`
	Impact     string `json:"impact"`
	Risk       string `json:"risk"`
	NextAction string `json:"next_action"`
}

// WorkflowInsight is the terminal run summary.
type WorkflowInsight struct {
	Insight       string `json:"insight"`
	UsedSteps     int    `json:"used_steps"`
	FilesProfiled int    `json:"files_profiled"`
}

// Generator renders insights via the LLM with a content-addressed cache.
type Generator struct {
	llm         llm.Client
	prompts     *prompt.Builder
	cache       Cache
	ttlGood     time.Duration
	ttlFallback time.Duration
	timeout     time.Duration
}

// NewGenerator creates a Generator. cache may be nil (no caching).
func NewGenerator(client llm.Client, prompts *prompt.Builder, cache Cache, ttlGood, ttlFallback, timeout time.Duration) *Generator {
	return &Generator{
		llm:         client,
		prompts:     prompts,
		cache:       cache,
		ttlGood:     ttlGood,
		ttlFallback: ttlFallback,
		timeout:     timeout,
	}
}

// StepInsight renders the short markdown narrative for one executed step.
func (g *Generator) StepInsight(ctx context.Context, goal string, rec models.StepRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.llm.Complete(ctx, toRequest(g.prompts.BuildStepInsightMessages(goal, rec), 0.5, 512))
	if err != nil {
		return "", fmt.Errorf("step insight failed: %w", err)
	}
	return text, nil
}

// AtomInsight renders (or recalls) the structured insight for an atom
// execution. Cache key is sha256(atom_id ‖ facts digest); a fallback
// insight is cached briefly so a flapping LLM doesn't hammer the cache.
func (g *Generator) AtomInsight(ctx context.Context, atomID string, facts map[string]any) (*AtomInsight, error) {
	key := contentKey(atomID, facts)

	if g.cache != nil {
		if data, ok := g.cache.Get(ctx, key); ok {
			var cached AtomInsight
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var insight AtomInsight
	err := llm.CompleteJSON(callCtx, g.llm, toRequest(g.prompts.BuildAtomInsightMessages(atomID, facts), 0.3, 512), &insight, llm.CallOptions{
		DecodeRetries: 1,
	})
	if err != nil {
		fallback := &AtomInsight{
			Insight: fmt.Sprintf("Executed %s.", atomID),
			Impact:  "Result recorded in the workflow.",
		}
		g.store(ctx, key, fallback, g.ttlFallback)
		return fallback, nil
	}

	g.store(ctx, key, &insight, g.ttlGood)
	return &insight, nil
}

// WorkflowInsight renders the terminal run summary.
func (g *Generator) WorkflowInsight(ctx context.Context, goal string, history []models.StepRecord) (*WorkflowInsight, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.llm.Complete(ctx, toRequest(g.prompts.BuildWorkflowInsightMessages(goal, history), 0.5, 1024))
	if err != nil {
		return nil, fmt.Errorf("workflow insight failed: %w", err)
	}

	profiled := make(map[string]struct{})
	for _, rec := range history {
		for _, f := range rec.FilesUsed {
			profiled[f] = struct{}{}
		}
	}
	return &WorkflowInsight{
		Insight:       text,
		UsedSteps:     len(history),
		FilesProfiled: len(profiled),
	}, nil
}

func (g *Generator) store(ctx context.Context, key string, insight *AtomInsight, ttl time.Duration) {
	if g.cache == nil {
		return
	}
	if data, err := json.Marshal(insight); err == nil {
		g.cache.Set(ctx, key, data, ttl)
	}
}

// contentKey hashes atom id and a stable digest of the facts.
func contentKey(atomID string, facts map[string]any) string {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(atomID))
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, facts[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// toRequest adapts prompt messages to the LLM request shape.
func toRequest(messages []prompt.Message, temperature float64, maxTokens int) llm.Request {
	req := llm.Request{Temperature: temperature, MaxTokens: maxTokens}
	for _, m := range messages {
		req.Messages = append(req.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return req
}

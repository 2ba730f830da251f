package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/atom"
	"github.com/theHdd4/trinity-orchestrator/pkg/config"
	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/insight"
	"github.com/theHdd4/trinity-orchestrator/pkg/llm"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/prompt"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
)

// capturedEvent is one emitted bus event.
type capturedEvent struct {
	name   string
	fields map[string]any
}

// fakeBus records emitted events. Setting failFrom makes every emit of that
// event (and everything after it) fail like a dead socket.
type fakeBus struct {
	mu       sync.Mutex
	events   []capturedEvent
	failFrom string
	dead     bool
}

func (b *fakeBus) Emit(_ context.Context, event string, fields map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead || (b.failFrom != "" && event == b.failFrom) {
		b.dead = true
		return &events.Disconnect{Cause: errors.New("peer gone")}
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	b.events = append(b.events, capturedEvent{name: event, fields: cp})
	return nil
}

func (b *fakeBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.name
	}
	return out
}

func (b *fakeBus) has(event string) bool {
	for _, name := range b.names() {
		if name == event {
			return true
		}
	}
	return false
}

func (b *fakeBus) first(event string) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.events {
		if ev.name == event {
			return ev.fields, true
		}
	}
	return nil, false
}

func (b *fakeBus) count(event string) int {
	n := 0
	for _, name := range b.names() {
		if name == event {
			n++
		}
	}
	return n
}

func (b *fakeBus) last() string {
	names := b.names()
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1]
}

// llmTurn is one scripted model answer. block makes the call wait for its
// context to expire.
type llmTurn struct {
	text  string
	err   error
	block bool
}

// scriptLLM answers from a fixed queue, recording every request.
type scriptLLM struct {
	mu       sync.Mutex
	turns    []llmTurn
	requests []llm.Request
}

func (s *scriptLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.turns) == 0 {
		s.mu.Unlock()
		return "", errors.New("llm script exhausted")
	}
	turn := s.turns[0]
	s.turns = s.turns[1:]
	s.mu.Unlock()

	if turn.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return turn.text, turn.err
}

func (s *scriptLLM) requestAt(i int) (llm.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.requests) {
		return llm.Request{}, false
	}
	return s.requests[i], true
}

// invokeTurn is one scripted atom response.
type invokeTurn struct {
	result *models.AtomResult
	err    error
}

// fakeInvoker answers Invoke from a queue and Save with a fixed path.
type fakeInvoker struct {
	mu       sync.Mutex
	turns    []invokeTurn
	requests []atom.InvokeRequest
	savePath string
	saveErr  error
	saves    []atom.SaveRequest
}

func (f *fakeInvoker) Invoke(_ context.Context, req atom.InvokeRequest, _ atom.RetryFunc) (*models.AtomResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.turns) == 0 {
		return nil, errors.New("invoker script exhausted")
	}
	turn := f.turns[0]
	f.turns = f.turns[1:]
	return turn.result, turn.err
}

func (f *fakeInvoker) Save(_ context.Context, req atom.SaveRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, req)
	return f.savePath, f.saveErr
}

func (f *fakeInvoker) requestAt(i int) (atom.InvokeRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.requests) {
		return atom.InvokeRequest{}, false
	}
	return f.requests[i], true
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeInsights returns canned insights, recording every atom-insight call.
type fakeInsights struct {
	mu      sync.Mutex
	atomIDs []string
	facts   []map[string]any
}

func (f *fakeInsights) StepInsight(_ context.Context, _ string, _ models.StepRecord) (string, error) {
	return "profiled the file", nil
}

func (f *fakeInsights) AtomInsight(_ context.Context, atomID string, facts map[string]any) (*insight.AtomInsight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.atomIDs = append(f.atomIDs, atomID)
	f.facts = append(f.facts, facts)
	return &insight.AtomInsight{
		Insight:    "columns look clean",
		Impact:     "ready for aggregation",
		NextAction: "group by region",
	}, nil
}

func (f *fakeInsights) WorkflowInsight(_ context.Context, _ string, history []models.StepRecord) (*insight.WorkflowInsight, error) {
	return &insight.WorkflowInsight{Insight: "run finished", UsedSteps: len(history)}, nil
}

// testLimits are production semantics at test speed.
func testLimits() *config.Limits {
	return &config.Limits{
		MaxSteps:          10,
		MaxOperations:     10,
		MaxStalled:        3,
		MaxReplays:        2,
		MaxRetriesPerStep: 1,
		LLMTimeout:        200 * time.Millisecond,
		PlanBound:         time.Second,
		EvalBound:         time.Second,
		PlanJSONRetries:   1,
		EvalJSONRetries:   1,
		HeartbeatInterval: 0,
		AtomRetries:       1,
		AtomRetryDelay:    time.Millisecond,
		InsightTimeout:    100 * time.Millisecond,
		GuardBackoff:      time.Millisecond,
	}
}

type harness struct {
	engine  *Engine
	store   *session.Store
	guards  *session.GuardRegistry
	llm     *scriptLLM
	invoker *fakeInvoker
	docs    *storage.MemDocStore
	bus     *fakeBus
}

func newHarness(t *testing.T, limits *config.Limits) *harness {
	t.Helper()
	if limits == nil {
		limits = testLimits()
	}
	registry := atom.NewRegistry("http://atoms:8000")
	h := &harness{
		store:   session.NewStore(),
		guards:  session.NewGuardRegistry(),
		llm:     &scriptLLM{},
		invoker: &fakeInvoker{},
		docs:    storage.NewMemDocStore(),
		bus:     &fakeBus{},
	}
	h.engine = NewEngine(Deps{
		Sessions: h.store,
		Guards:   h.guards,
		Registry: registry,
		Invoker:  h.invoker,
		LLM:      h.llm,
		Prompts:  prompt.NewBuilder(registry.Descriptions()),
		Docs:     h.docs,
		Limits:   limits,
	})
	return h
}

func (h *harness) newSession(goal string, files ...string) *session.State {
	return h.store.Create("sess-test", goal, models.ProjectContext{
		Client: "acme", App: "forecast", Project: "q3",
	}, models.ModeLaboratory, files)
}

func (h *harness) plan(text string) {
	h.llm.turns = append(h.llm.turns, llmTurn{text: text})
}

func (h *harness) scriptLLM(turns ...llmTurn) {
	h.llm.turns = append(h.llm.turns, turns...)
}

func (h *harness) atomSuccess(payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	h.invoker.turns = append(h.invoker.turns, invokeTurn{
		result: &models.AtomResult{Success: true, Payload: payload},
	})
}

func (h *harness) atomFailure(msg string) {
	h.invoker.turns = append(h.invoker.turns, invokeTurn{
		result: &models.AtomResult{Success: false, Error: msg, Payload: map[string]any{}},
	})
}

// Canned LLM answers.
const (
	evalContinue = `{"decision":"continue","reasoning":"moves the goal forward","correctness":true}`
	evalComplete = `{"decision":"complete","reasoning":"goal satisfied","correctness":true}`
	planDone     = `{"goal_achieved":true}`
)

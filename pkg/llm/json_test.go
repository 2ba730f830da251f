package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns queued responses in order; an entry with err set
// fails that attempt.
type scriptedClient struct {
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	text string
	err  error
}

func (c *scriptedClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.calls >= len(c.responses) {
		return "", errors.New("script exhausted")
	}
	r := c.responses[c.calls]
	c.calls++
	return r.text, r.err
}

// blockingClient waits for the context to die.
type blockingClient struct{}

func (blockingClient) Complete(ctx context.Context, req Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced block", "Here you go:\n```json\n{\"a\": 1}\n```\nDone.", `{"a": 1}`},
		{"prose wrapped", `Sure! The answer is {"a":{"b":2}} as requested.`, `{"a":{"b":2}}`},
		{"braces in strings", `{"msg":"use {curly} braces"}`, `{"msg":"use {curly} braces"}`},
		{"escaped quotes", `{"msg":"she said \"{\" loudly"}`, `{"msg":"she said \"{\" loudly"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractJSONErrors(t *testing.T) {
	_, err := ExtractJSON("no json here at all")
	require.Error(t, err)

	_, err = ExtractJSON(`{"unterminated": true`)
	require.Error(t, err)
}

func TestCompleteJSONDecodeRetry(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{text: "sorry, I cannot"},
		{text: `{"value": "second try"}`},
	}}

	var out struct {
		Value string `json:"value"`
	}
	err := CompleteJSON(context.Background(), client, Request{}, &out, CallOptions{DecodeRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, "second try", out.Value)
	assert.Equal(t, 2, client.calls)
}

func TestCompleteJSONExhaustionIsTyped(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{text: "nope"},
		{text: "still nope"},
	}}

	var out map[string]any
	err := CompleteJSON(context.Background(), client, Request{}, &out, CallOptions{DecodeRetries: 1})
	require.Error(t, err)

	var jsonErr *JSONGenerationError
	require.ErrorAs(t, err, &jsonErr)
	assert.Equal(t, 2, jsonErr.Attempts)
}

func TestCompleteJSONAttemptErrorsConsumeRetries(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{err: errors.New("upstream 502")},
		{text: `{"ok": true}`},
	}}

	var out map[string]any
	err := CompleteJSON(context.Background(), client, Request{}, &out, CallOptions{DecodeRetries: 1})
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestCompleteJSONBoundSurfacesDeadline(t *testing.T) {
	var out map[string]any
	err := CompleteJSON(context.Background(), blockingClient{}, Request{}, &out, CallOptions{
		Bound:         20 * time.Millisecond,
		DecodeRetries: 3,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompleteJSONHeartbeat(t *testing.T) {
	beats := make(chan struct{}, 16)

	// The client answers slowly enough for the ticker to fire at least once.
	slow := clientFunc(func(ctx context.Context, req Request) (string, error) {
		select {
		case <-time.After(60 * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return `{}`, nil
	})

	var out map[string]any
	err := CompleteJSON(context.Background(), slow, Request{}, &out, CallOptions{
		HeartbeatInterval: 10 * time.Millisecond,
		Heartbeat: func(elapsed time.Duration) {
			select {
			case beats <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, beats)
}

type clientFunc func(ctx context.Context, req Request) (string, error)

func (f clientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

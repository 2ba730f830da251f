package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JSONGenerationError is raised when the model exhausted the caller's
// decode-retry budget without producing parseable JSON. It is retryable at
// a higher level: the engine converts it to a pause plus a user message.
type JSONGenerationError struct {
	Attempts int
	LastErr  error
}

func (e *JSONGenerationError) Error() string {
	return fmt.Sprintf("llm produced no valid JSON after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *JSONGenerationError) Unwrap() error { return e.LastErr }

// CallOptions bound a CompleteJSON call.
type CallOptions struct {
	// AttemptTimeout bounds each individual completion attempt.
	AttemptTimeout time.Duration
	// Bound is the wall-clock limit across all attempts. Zero means the
	// caller's context is the only bound.
	Bound time.Duration
	// DecodeRetries is the number of additional attempts after a JSON
	// decode failure.
	DecodeRetries int
	// HeartbeatInterval and Heartbeat drive periodic progress callbacks
	// while an attempt is awaited. Heartbeat may be nil.
	HeartbeatInterval time.Duration
	Heartbeat         func(elapsed time.Duration)
}

// CompleteJSON calls the LLM and decodes its answer into out, retrying on
// decode failures up to the configured cap. Timeouts surface as
// context.DeadlineExceeded; decode exhaustion as *JSONGenerationError.
func CompleteJSON(ctx context.Context, c Client, req Request, out any, opts CallOptions) error {
	if opts.Bound > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Bound)
		defer cancel()
	}

	stopHeartbeat := startHeartbeat(ctx, opts)
	defer stopHeartbeat()

	var lastErr error
	attempts := opts.DecodeRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		}
		text, err := c.Complete(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			// Wall-clock exhaustion is terminal; a per-attempt timeout with
			// budget left counts as a failed attempt.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		extracted, err := ExtractJSON(text)
		if err != nil {
			lastErr = err
			continue
		}
		if err := json.Unmarshal([]byte(extracted), out); err != nil {
			lastErr = fmt.Errorf("decode llm JSON: %w", err)
			continue
		}
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &JSONGenerationError{Attempts: attempts, LastErr: lastErr}
}

// startHeartbeat spawns the heartbeat ticker. The returned stop function is
// idempotent and must be called before CompleteJSON returns.
func startHeartbeat(ctx context.Context, opts CallOptions) func() {
	if opts.Heartbeat == nil || opts.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	started := time.Now()
	go func() {
		ticker := time.NewTicker(opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				opts.Heartbeat(time.Since(started))
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}

// ExtractJSON pulls a JSON object out of model output. Handles fenced
// ```json blocks and prose-wrapped objects by scanning for the outermost
// balanced braces.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			text = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errors.New("no JSON object in llm output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", errors.New("unterminated JSON object in llm output")
}

package atom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

// Invoker calls atom endpoints over HTTP with bounded retries. Transport
// failures and retryable success=false responses both consume retry budget;
// non-retryable failures are returned to the engine as failed results.
type Invoker struct {
	registry   *Registry
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	retries    int
	retryDelay time.Duration
}

// RetryFunc is notified between retry attempts (drives atom_retry events).
type RetryFunc func(attempt int, reason string)

// InvokeRequest is the engine-side representation of one atom call.
type InvokeRequest struct {
	AtomID    string
	Prompt    string
	SessionID string
	ChatID    string
	Context   models.ProjectContext
}

// SaveRequest materializes an atom's in-memory result as a stored file.
type SaveRequest struct {
	AtomID    string
	SessionID string
	Filename  string
	CSVData   string
}

// NewInvoker creates an Invoker. retries is the per-call attempt cap;
// delay is the linear backoff unit between attempts.
func NewInvoker(registry *Registry, timeout time.Duration, retries int, delay time.Duration) *Invoker {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "atom-endpoints",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Invoker{
		registry:   registry,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		retries:    retries,
		retryDelay: delay,
	}
}

// Invoke executes one atom with retries. onRetry may be nil.
func (i *Invoker) Invoke(ctx context.Context, req InvokeRequest, onRetry RetryFunc) (*models.AtomResult, error) {
	cap, ok := i.registry.Get(req.AtomID)
	if !ok {
		return nil, fmt.Errorf("unknown atom %q", req.AtomID)
	}

	body := map[string]any{
		"prompt":     req.Prompt,
		"session_id": req.SessionID,
	}
	if req.ChatID != "" {
		body["chat_id"] = req.ChatID
	}
	if !req.Context.IsZero() {
		body["client_name"] = req.Context.Client
		body["app_name"] = req.Context.App
		body["project_name"] = req.Context.Project
	}

	var lastErr error
	for attempt := 1; attempt <= i.retries; attempt++ {
		res, err := i.breaker.Execute(func() (interface{}, error) {
			return i.post(ctx, cap.Endpoint, body)
		})
		result, _ := res.(*models.AtomResult)
		if err == nil && result.Success {
			return result, nil
		}

		var reason string
		switch {
		case err != nil:
			reason = err.Error()
			lastErr = err
		case retryableFailure(result.Error):
			reason = result.Error
			lastErr = fmt.Errorf("atom %s failed: %s", req.AtomID, result.Error)
		default:
			// Non-retryable atom failure; hand it back as a failed result.
			return result, nil
		}

		if attempt == i.retries {
			break
		}
		if onRetry != nil {
			onRetry(attempt, reason)
		}
		slog.Warn("Retrying atom call",
			"atom_id", req.AtomID, "session_id", req.SessionID,
			"attempt", attempt, "reason", reason)

		// Linear backoff: delay, 2*delay, 3*delay, ...
		select {
		case <-time.After(time.Duration(attempt) * i.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &models.AtomResult{Success: false, Error: lastErr.Error()}, nil
}

// Save calls the atom's save endpoint and returns the stored path.
func (i *Invoker) Save(ctx context.Context, req SaveRequest) (string, error) {
	cap, ok := i.registry.Get(req.AtomID)
	if !ok {
		return "", fmt.Errorf("unknown atom %q", req.AtomID)
	}
	if cap.SaveEndpoint == "" {
		return "", fmt.Errorf("atom %q has no save endpoint", req.AtomID)
	}

	result, err := i.post(ctx, cap.SaveEndpoint, map[string]any{
		"session_id": req.SessionID,
		"filename":   req.Filename,
		"csv_data":   req.CSVData,
	})
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("atom save failed: %s", result.Error)
	}
	path := i.registry.ResultFile(req.AtomID, result.Payload)
	if path == "" {
		return "", fmt.Errorf("atom save response for %s carries no saved path", req.AtomID)
	}
	return path, nil
}

// post sends one JSON POST and decodes the atom response envelope.
func (i *Invoker) post(ctx context.Context, url string, body map[string]any) (*models.AtomResult, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode atom request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build atom request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("atom endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read atom response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("atom endpoint returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("atom response is not JSON: %w", err)
	}

	result := &models.AtomResult{Payload: payload}
	if success, ok := payload["success"].(bool); ok {
		result.Success = success
	}
	if errMsg, ok := payload["error"].(string); ok {
		result.Error = errMsg
	}
	return result, nil
}

// retryableFailure reports whether a success=false message indicates a
// transient condition worth retrying.
func retryableFailure(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"timeout", "timed out", "temporar", "retry", "connection", "unavailable", "overload"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

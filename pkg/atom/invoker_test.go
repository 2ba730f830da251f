package atom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

func newTestInvoker(t *testing.T, handler http.HandlerFunc) (*Invoker, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	reg := NewRegistry(srv.URL)
	return NewInvoker(reg, 5*time.Second, 3, time.Millisecond), srv
}

func writeJSON(w http.ResponseWriter, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestInvokeSuccess(t *testing.T) {
	var gotBody map[string]any
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/merge", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, map[string]any{
			"success":    true,
			"merge_json": map[string]any{"result_file": "merged.arrow"},
			"row_count":  42,
		})
	})

	result, err := inv.Invoke(context.Background(), InvokeRequest{
		AtomID:    AtomMerge,
		Prompt:    "merge on store_id",
		SessionID: "sess-1",
		ChatID:    "chat-9",
		Context:   models.ProjectContext{Client: "acme", App: "forecast", Project: "q3"},
	}, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, float64(42), result.Payload["row_count"])

	assert.Equal(t, "merge on store_id", gotBody["prompt"])
	assert.Equal(t, "sess-1", gotBody["session_id"])
	assert.Equal(t, "chat-9", gotBody["chat_id"])
	assert.Equal(t, "acme", gotBody["client_name"])
	assert.Equal(t, "q3", gotBody["project_name"])
}

func TestInvokeRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, map[string]any{"success": false, "error": "connection reset by peer"})
			return
		}
		writeJSON(w, map[string]any{"success": true})
	})

	var retries []int
	result, err := inv.Invoke(context.Background(), InvokeRequest{AtomID: AtomGroupBy, SessionID: "sess-1"},
		func(attempt int, reason string) {
			retries = append(retries, attempt)
			assert.Contains(t, reason, "connection")
		})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []int{1}, retries)
}

func TestInvokeNonRetryableFailureReturnsResult(t *testing.T) {
	var calls atomic.Int32
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{"success": false, "error": "column 'price' not found"})
	})

	result, err := inv.Invoke(context.Background(), InvokeRequest{AtomID: AtomGroupBy, SessionID: "sess-1"}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "column 'price' not found", result.Error)
	// A deterministic atom failure is not worth re-spending.
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvokeExhaustsTransportFailures(t *testing.T) {
	var calls atomic.Int32
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	result, err := inv.Invoke(context.Background(), InvokeRequest{AtomID: AtomConcat, SessionID: "sess-1"}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "500")
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvokeCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	// Two exhausted calls rack up five consecutive failures; the breaker
	// opens mid-second-call and the third never reaches the endpoint.
	for i := 0; i < 2; i++ {
		result, err := inv.Invoke(context.Background(), InvokeRequest{AtomID: AtomConcat, SessionID: "sess-1"}, nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
	}
	require.Equal(t, int32(5), calls.Load())

	result, err := inv.Invoke(context.Background(), InvokeRequest{AtomID: AtomConcat, SessionID: "sess-1"}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "circuit breaker is open")
	assert.Equal(t, int32(5), calls.Load())
}

func TestInvokeUnknownAtom(t *testing.T) {
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := inv.Invoke(context.Background(), InvokeRequest{AtomID: "nope"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown atom")
}

func TestSaveReturnsStoredPath(t *testing.T) {
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/merge/save", r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "merged_sales.arrow", body["filename"])
		assert.Equal(t, "a,b\n1,2\n", body["csv_data"])
		writeJSON(w, map[string]any{
			"success":    true,
			"merge_json": map[string]any{"result_file": "stored/merged_sales.arrow"},
		})
	})

	path, err := inv.Save(context.Background(), SaveRequest{
		AtomID:    AtomMerge,
		SessionID: "sess-1",
		Filename:  "merged_sales.arrow",
		CSVData:   "a,b\n1,2\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "stored/merged_sales.arrow", path)
}

func TestSaveRejectsAtomsWithoutSaveEndpoint(t *testing.T) {
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := inv.Save(context.Background(), SaveRequest{AtomID: AtomChartMaker})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no save endpoint")
}

func TestSaveFailsWithoutStoredPath(t *testing.T) {
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true})
	})
	_, err := inv.Save(context.Background(), SaveRequest{AtomID: AtomMerge, Filename: "x.arrow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no saved path")
}

func TestRetryableFailure(t *testing.T) {
	assert.True(t, retryableFailure("request timed out"))
	assert.True(t, retryableFailure("Service Temporarily Unavailable"))
	assert.False(t, retryableFailure("schema mismatch"))
	assert.False(t, retryableFailure(""))
}

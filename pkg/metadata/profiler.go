package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProfiler profiles dataset files through the flight-table service,
// which reads Arrow/CSV objects server-side and answers with the column
// inventory.
type HTTPProfiler struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPProfiler creates a profiler rooted at the platform base URL.
func NewHTTPProfiler(baseURL string, timeout time.Duration) *HTTPProfiler {
	return &HTTPProfiler{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/flight-table/metadata",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type profileResponse struct {
	Columns  []string          `json:"columns"`
	DTypes   map[string]string `json:"dtypes"`
	RowCount int64             `json:"row_count"`
	Stats    map[string]any    `json:"stats"`
}

// Profile fetches metadata for one stored object.
func (p *HTTPProfiler) Profile(ctx context.Context, path string) (*FileMetadata, error) {
	body, err := json.Marshal(map[string]string{"object_name": path})
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flight-table service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("flight-table service returned %d for %s", resp.StatusCode, path)
	}

	var decoded profileResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("profile response is not JSON: %w", err)
	}

	return &FileMetadata{
		Path:     path,
		Columns:  decoded.Columns,
		DTypes:   decoded.DTypes,
		RowCount: decoded.RowCount,
		Stats:    decoded.Stats,
	}, nil
}

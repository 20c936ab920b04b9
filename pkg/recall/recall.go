// Package recall consumes the externally-owned vector-graph memory. The
// command plane never writes to it; it only pulls snippets relevant to the
// mandate being assembled.
package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MemorySnippet is one recalled memory with its provenance.
type MemorySnippet struct {
	NodeID    string    `json:"node_id"`
	Text      string    `json:"text"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// MaxSnippets caps how many snippets any recall returns to the pipeline.
const MaxSnippets = 3

// Recaller retrieves memory snippets for a user and query.
type Recaller interface {
	Recall(ctx context.Context, userID, query string) ([]MemorySnippet, error)
}

// HTTPRecaller queries the memory service over HTTP.
type HTTPRecaller struct {
	baseURL string
	http    *http.Client
}

// NewHTTPRecaller creates a recaller against the memory service root URL.
func NewHTTPRecaller(baseURL string) *HTTPRecaller {
	return &HTTPRecaller{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *HTTPRecaller) Recall(ctx context.Context, userID, query string) ([]MemorySnippet, error) {
	payload, err := json.Marshal(map[string]any{
		"user_id": userID,
		"query":   query,
		"limit":   MaxSnippets,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal recall request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/recall", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build recall request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory recall: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("memory service returned %d", resp.StatusCode)
	}

	var out struct {
		Snippets []MemorySnippet `json:"snippets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode recall response: %w", err)
	}
	if len(out.Snippets) > MaxSnippets {
		out.Snippets = out.Snippets[:MaxSnippets]
	}
	return out.Snippets, nil
}

// StaticRecaller returns a fixed snippet set; used in tests and MOCK mode.
type StaticRecaller struct {
	Snippets []MemorySnippet
	Err      error
}

func (s *StaticRecaller) Recall(_ context.Context, _, _ string) ([]MemorySnippet, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Snippets) > MaxSnippets {
		return s.Snippets[:MaxSnippets], nil
	}
	return s.Snippets, nil
}

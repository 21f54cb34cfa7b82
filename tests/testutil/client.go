package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// TestClient calls the FinCopilot HTTP API in tests.
type TestClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTestClient creates a new test client.
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the client's base URL.
func (c *TestClient) BaseURL() string {
	return c.baseURL
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

// ChatResult is a decoded chat reply plus the cache header.
type ChatResult struct {
	StatusCode int
	Response   string
	Error      string
	Message    string
	Cache      string
	RequestID  string
}

// HistoryMessage mirrors one entry of GET /api/history/{sessionId}.
type HistoryMessage struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// LinkResult is the body of POST /api/link-history.
type LinkResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Linked  int64  `json:"linked"`
	Error   string `json:"error"`
}

// CacheStats is the body of GET /api/cache/stats.
type CacheStats struct {
	TotalCached     int64   `json:"totalCached"`
	TotalHits       int64   `json:"totalHits"`
	AvgHitsPerEntry float64 `json:"avgHitsPerEntry"`
}

// Chat sends a question and decodes either the answer or the error body.
func (c *TestClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	resp, err := c.post(ctx, "/api/chat", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Response string `json:"response"`
		Error    string `json:"error"`
		Message  string `json:"message"`
	}
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	return &ChatResult{
		StatusCode: resp.StatusCode,
		Response:   body.Response,
		Error:      body.Error,
		Message:    body.Message,
		Cache:      resp.Header.Get("X-Cache"),
		RequestID:  resp.Header.Get("X-Request-ID"),
	}, nil
}

// History fetches a session's messages. A userId restricts them to that user.
func (c *TestClient) History(ctx context.Context, sessionID, userID string) ([]HistoryMessage, int, error) {
	path := "/api/history/" + sessionID
	if userID != "" {
		path += "?userId=" + userID
	}
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var msgs []HistoryMessage
	if err := decode(resp, &msgs); err != nil {
		return nil, resp.StatusCode, err
	}
	return msgs, resp.StatusCode, nil
}

// LinkHistory attaches a guest session to a user.
func (c *TestClient) LinkHistory(ctx context.Context, sessionID, userID string) (*LinkResult, int, error) {
	resp, err := c.post(ctx, "/api/link-history", map[string]string{
		"sessionId": sessionID,
		"userId":    userID,
	})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out LinkResult
	if err := decode(resp, &out); err != nil {
		return nil, resp.StatusCode, err
	}
	return &out, resp.StatusCode, nil
}

// CacheStats fetches the persistent cache aggregate.
func (c *TestClient) CacheStats(ctx context.Context) (*CacheStats, error) {
	resp, err := c.Get(ctx, "/api/cache/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cache stats: unexpected status %d", resp.StatusCode)
	}
	var out CacheStats
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMetrics fetches the Prometheus metrics text.
func (c *TestClient) GetMetrics(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, "/metrics")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read metrics: %w", err)
	}
	return string(body), nil
}

// Get issues a GET request. The caller closes the body.
func (c *TestClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.httpClient.Do(req)
}

// PostRaw sends body unmodified. The caller closes the body.
func (c *TestClient) PostRaw(ctx context.Context, path, body string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *TestClient) post(ctx context.Context, path string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.PostRaw(ctx, path, string(body))
}

func decode(resp *http.Response, v any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response (status %d): %w: %s", resp.StatusCode, err, body)
	}
	return nil
}

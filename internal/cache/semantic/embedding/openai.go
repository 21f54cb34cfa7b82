package embedding

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/fincopilot/internal/httputil"
	"github.com/blueberrycongee/fincopilot/internal/resilience"
	"github.com/blueberrycongee/fincopilot/pkg/errors"
	"github.com/blueberrycongee/fincopilot/pkg/types"
)

const upstreamName = "openai-embeddings"

// OpenAIEmbedder implements Embedder using OpenAI's embedding API.
type OpenAIEmbedder struct {
	client    *http.Client
	apiKey    string
	apiBase   string
	model     string
	dimension int
	retry     resilience.RetryConfig
}

// OpenAIConfig holds configuration for OpenAI embedder.
type OpenAIConfig struct {
	APIKey    string
	APIBase   string
	Model     string
	Dimension int
	Timeout   time.Duration
	Retry     resilience.RetryConfig
}

// DefaultOpenAIConfig returns sensible defaults for OpenAI embedder.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		APIBase:   "https://api.openai.com/v1",
		Model:     "text-embedding-ada-002",
		Dimension: 1536,
		Timeout:   30 * time.Second,
		Retry:     resilience.DefaultRetryConfig(),
	}
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api_key is required")
	}
	def := DefaultOpenAIConfig()
	if cfg.APIBase == "" {
		cfg.APIBase = def.APIBase
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = def.Dimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &OpenAIEmbedder{
		client:    &http.Client{Timeout: cfg.Timeout},
		apiKey:    cfg.APIKey,
		apiBase:   cfg.APIBase,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		retry:     cfg.Retry,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, retrying transient failures.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	bodyBytes, err := json.Marshal(types.EmbeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrUnavailable, err)
	}

	var embeddings [][]float32
	err = resilience.Retry(ctx, e.retry, isRetryable, func(ctx context.Context) error {
		var callErr error
		embeddings, callErr = e.call(ctx, bodyBytes, len(texts))
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return embeddings, nil
}

func (e *OpenAIEmbedder) call(ctx context.Context, body []byte, n int) ([][]float32, error) {
	url := fmt.Sprintf("%s/embeddings", e.apiBase)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.FromStatus(upstreamName, resp.StatusCode, upstreamMessage(respBody))
	}

	var embResp types.EmbeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([][]float32, n)
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= n {
			continue
		}
		if len(data.Embedding) != e.dimension {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", data.Index, len(data.Embedding), e.dimension)
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}
	return embeddings, nil
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Dimension returns the embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// isRetryable retries rate limits, 5xx and transport errors, but not 4xx or caller cancellation.
func isRetryable(err error) bool {
	var apiErr *errors.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return !stderrors.Is(err, context.Canceled)
}

func upstreamMessage(body []byte) string {
	var errResp types.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// Package llm calls an OpenAI-compatible chat-completion API on behalf of the
// finance assistant.
package llm

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/fincopilot/internal/history"
	"github.com/blueberrycongee/fincopilot/internal/httputil"
	"github.com/blueberrycongee/fincopilot/internal/resilience"
	"github.com/blueberrycongee/fincopilot/pkg/errors"
	"github.com/blueberrycongee/fincopilot/pkg/types"
)

// SystemPrompt scopes the assistant to finance.
const SystemPrompt = "You are a helpful Financial Assistant chatbot. You can answer queries related to finance, stocks, investments, and economic concepts. If a question is not related to finance, politely decline to answer."

const upstreamName = "openai"

// ErrEmptyCompletion is returned when the API answers without any content.
var ErrEmptyCompletion = stderrors.New("completion has no content")

// Completer produces an answer to question given the prior conversation.
type Completer interface {
	Complete(ctx context.Context, past []history.Message, question string) (string, error)
}

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey       string
	APIBase      string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
	Retry        resilience.RetryConfig
}

// DefaultConfig returns the model settings of the finance assistant.
func DefaultConfig() Config {
	return Config{
		APIBase:      "https://api.openai.com/v1",
		Model:        "gpt-3.5-turbo",
		Temperature:  0.7,
		SystemPrompt: SystemPrompt,
		Timeout:      60 * time.Second,
		Retry:        resilience.DefaultRetryConfig(),
	}
}

// OpenAIClient implements Completer.
type OpenAIClient struct {
	client *http.Client
	cfg    Config
}

// NewOpenAIClient creates a client. An API key is required.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api_key is required")
	}
	def := DefaultConfig()
	if cfg.APIBase == "" {
		cfg.APIBase = def.APIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &OpenAIClient{client: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}, nil
}

// Model returns the chat model name.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// BuildMessages lays out the prompt: system prompt, history, then the question.
func BuildMessages(systemPrompt string, past []history.Message, question string) []types.ChatMessage {
	msgs := make([]types.ChatMessage, 0, len(past)+2)
	msgs = append(msgs, types.ChatMessage{Role: types.RoleSystem, Content: systemPrompt})
	for _, m := range past {
		role := types.RoleAssistant
		if m.Type == history.TypeHuman {
			role = types.RoleUser
		}
		msgs = append(msgs, types.ChatMessage{Role: role, Content: m.Content})
	}
	return append(msgs, types.ChatMessage{Role: types.RoleUser, Content: question})
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, past []history.Message, question string) (string, error) {
	temp := c.cfg.Temperature
	body, err := json.Marshal(types.ChatRequest{
		Model:       c.cfg.Model,
		Messages:    BuildMessages(c.cfg.SystemPrompt, past, question),
		Temperature: &temp,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var answer string
	err = resilience.Retry(ctx, c.cfg.Retry, isRetryable, func(ctx context.Context) error {
		var callErr error
		answer, callErr = c.call(ctx, body)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (c *OpenAIClient) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.FromStatus(upstreamName, resp.StatusCode, upstreamMessage(respBody))
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	content := chatResp.FirstContent()
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

func isRetryable(err error) bool {
	var apiErr *errors.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	if stderrors.Is(err, ErrEmptyCompletion) {
		return false
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

var _ Completer = (*OpenAIClient)(nil)

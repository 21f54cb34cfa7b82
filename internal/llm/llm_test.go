package llm

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/fincopilot/internal/history"
	"github.com/blueberrycongee/fincopilot/internal/resilience"
	"github.com/blueberrycongee/fincopilot/pkg/errors"
	"github.com/blueberrycongee/fincopilot/pkg/types"
	"github.com/blueberrycongee/fincopilot/tests/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockOpenAIServer) *OpenAIClient {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.APIBase = mock.URL()
	cfg.Retry = resilience.RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	c, err := NewOpenAIClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewOpenAIClient(t *testing.T) {
	t.Run("should require an api key", func(t *testing.T) {
		_, err := NewOpenAIClient(Config{})
		assert.Error(t, err)
	})

	t.Run("should fill defaults", func(t *testing.T) {
		c, err := NewOpenAIClient(Config{APIKey: "k", APIBase: "http://x/v1/"})
		require.NoError(t, err)
		assert.Equal(t, "gpt-3.5-turbo", c.Model())
		assert.Equal(t, "http://x/v1", c.cfg.APIBase)
		assert.Equal(t, SystemPrompt, c.cfg.SystemPrompt)
	})
}

func TestBuildMessages(t *testing.T) {
	past := []history.Message{
		{Type: history.TypeHuman, Content: "What is a bond?"},
		{Type: history.TypeAI, Content: "A debt security."},
	}
	got := BuildMessages(SystemPrompt, past, "And a stock?")
	assert.Equal(t, []types.ChatMessage{
		{Role: types.RoleSystem, Content: SystemPrompt},
		{Role: types.RoleUser, Content: "What is a bond?"},
		{Role: types.RoleAssistant, Content: "A debt security."},
		{Role: types.RoleUser, Content: "And a stock?"},
	}, got)
}

func TestOpenAIClient_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("should send the finance prompt and return the answer", func(t *testing.T) {
		mock := testutil.NewMockOpenAIServer(8)
		defer mock.Close()
		mock.SetNextResponse("EBITDA is earnings before interest, taxes, depreciation and amortization.")
		c := newTestClient(t, mock)

		answer, err := c.Complete(ctx, []history.Message{{Type: history.TypeHuman, Content: "hi"}}, "What is EBITDA?")
		require.NoError(t, err)
		assert.Contains(t, answer, "EBITDA")

		reqs := mock.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "Bearer sk-test", reqs[0].Headers.Get("Authorization"))

		var sent types.ChatRequest
		require.NoError(t, json.Unmarshal(reqs[0].Body, &sent))
		assert.Equal(t, "gpt-3.5-turbo", sent.Model)
		require.NotNil(t, sent.Temperature)
		assert.Equal(t, 0.7, *sent.Temperature)
		require.Len(t, sent.Messages, 3)
		assert.Equal(t, SystemPrompt, sent.Messages[0].Content)
		assert.Equal(t, "What is EBITDA?", sent.Messages[2].Content)
	})

	t.Run("should retry transient errors", func(t *testing.T) {
		mock := testutil.NewMockOpenAIServer(8)
		defer mock.Close()
		mock.SetNextChatError(http.StatusServiceUnavailable, "overloaded")
		mock.SetNextResponse("ok")
		c := newTestClient(t, mock)

		answer, err := c.Complete(ctx, nil, "q")
		require.NoError(t, err)
		assert.Equal(t, "ok", answer)
		assert.Equal(t, 2, mock.ChatCalls())
	})

	t.Run("should not retry client errors", func(t *testing.T) {
		mock := testutil.NewMockOpenAIServer(8)
		defer mock.Close()
		mock.SetNextChatError(http.StatusUnauthorized, "Incorrect API key provided")
		c := newTestClient(t, mock)

		_, err := c.Complete(ctx, nil, "q")
		var apiErr *errors.APIError
		require.True(t, stderrors.As(err, &apiErr))
		assert.Equal(t, errors.TypeAuthentication, apiErr.Type)
		assert.Equal(t, "Incorrect API key provided", apiErr.Message)
		assert.Equal(t, 1, mock.ChatCalls())
	})

	t.Run("should reject empty completions", func(t *testing.T) {
		mock := testutil.NewMockOpenAIServer(8)
		defer mock.Close()
		mock.SetNextResponse("")
		c := newTestClient(t, mock)

		_, err := c.Complete(ctx, nil, "q")
		assert.ErrorIs(t, err, ErrEmptyCompletion)
		assert.Equal(t, 1, mock.ChatCalls())
	})

	t.Run("should stop on caller cancellation", func(t *testing.T) {
		mock := testutil.NewMockOpenAIServer(8)
		defer mock.Close()
		mock.SetLatency(200 * time.Millisecond)
		c := newTestClient(t, mock)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := c.Complete(cctx, nil, "q")
		assert.Error(t, err)
	})
}

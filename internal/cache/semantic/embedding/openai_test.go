package embedding

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/fincopilot/internal/resilience"
	"github.com/blueberrycongee/fincopilot/pkg/errors"
	"github.com/blueberrycongee/fincopilot/pkg/types"
	"github.com/blueberrycongee/fincopilot/tests/testutil"
)

func newTestEmbedder(t *testing.T, server *testutil.MockOpenAIServer, dim int) *OpenAIEmbedder {
	t.Helper()
	e, err := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:    "sk-test",
		APIBase:   server.URL(),
		Dimension: dim,
		Timeout:   5 * time.Second,
		Retry:     resilience.RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	return e
}

func TestNewOpenAIEmbedder(t *testing.T) {
	t.Run("should require an api key", func(t *testing.T) {
		_, err := NewOpenAIEmbedder(OpenAIConfig{})
		assert.Error(t, err)
	})

	t.Run("should apply defaults", func(t *testing.T) {
		e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test"})
		require.NoError(t, err)
		assert.Equal(t, "text-embedding-ada-002", e.Model())
		assert.Equal(t, 1536, e.Dimension())
		assert.Equal(t, "https://api.openai.com/v1", e.apiBase)
	})
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the vector and send credentials", func(t *testing.T) {
		server := testutil.NewMockOpenAIServer(8)
		defer server.Close()
		pinned := []float32{1, 0, 0, 0, 0, 0, 0, 0}
		server.SetEmbedding("What is EBITDA?", pinned)

		e := newTestEmbedder(t, server, 8)
		vec, err := e.Embed(ctx, "What is EBITDA?")
		require.NoError(t, err)
		assert.Equal(t, pinned, vec)

		reqs := server.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "/v1/embeddings", reqs[0].Path)
		assert.Equal(t, "Bearer sk-test", reqs[0].Headers.Get("Authorization"))

		var sent types.EmbeddingRequest
		require.NoError(t, json.Unmarshal(reqs[0].Body, &sent))
		assert.Equal(t, "text-embedding-ada-002", sent.Model)
		assert.Equal(t, []string{"What is EBITDA?"}, sent.Input)
	})

	t.Run("should keep batch order", func(t *testing.T) {
		server := testutil.NewMockOpenAIServer(4)
		defer server.Close()
		server.SetEmbedding("a", []float32{1, 0, 0, 0})
		server.SetEmbedding("b", []float32{0, 1, 0, 0})

		vecs, err := newTestEmbedder(t, server, 4).EmbedBatch(ctx, []string{"b", "a"})
		require.NoError(t, err)
		require.Len(t, vecs, 2)
		assert.Equal(t, []float32{0, 1, 0, 0}, vecs[0])
		assert.Equal(t, []float32{1, 0, 0, 0}, vecs[1])
	})

	t.Run("should return nil for an empty batch", func(t *testing.T) {
		server := testutil.NewMockOpenAIServer(4)
		defer server.Close()
		vecs, err := newTestEmbedder(t, server, 4).EmbedBatch(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, vecs)
		assert.Zero(t, server.EmbeddingCalls())
	})

	t.Run("should retry transient failures", func(t *testing.T) {
		server := testutil.NewMockOpenAIServer(4)
		defer server.Close()
		server.SetNextEmbeddingError(http.StatusServiceUnavailable, "overloaded")

		vec, err := newTestEmbedder(t, server, 4).Embed(ctx, "retry me")
		require.NoError(t, err)
		assert.Len(t, vec, 4)
		assert.Equal(t, 2, server.EmbeddingCalls())
	})

	t.Run("should not retry authentication errors", func(t *testing.T) {
		server := testutil.NewMockOpenAIServer(4)
		defer server.Close()
		server.SetNextEmbeddingError(http.StatusUnauthorized, "Incorrect API key provided")

		_, err := newTestEmbedder(t, server, 4).Embed(ctx, "q")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)

		var apiErr *errors.APIError
		require.True(t, stderrors.As(err, &apiErr))
		assert.Equal(t, errors.TypeAuthentication, apiErr.Type)
		assert.Equal(t, "Incorrect API key provided", apiErr.Message)
		assert.Equal(t, 1, server.EmbeddingCalls())
	})

	t.Run("should give up after max retries", func(t *testing.T) {
		server := testutil.NewMockOpenAIServer(4)
		defer server.Close()
		for i := 0; i < 3; i++ {
			server.SetNextEmbeddingError(http.StatusTooManyRequests, "slow down")
		}

		_, err := newTestEmbedder(t, server, 4).Embed(ctx, "q")
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, 3, server.EmbeddingCalls())
	})

	t.Run("should reject vectors of the wrong size", func(t *testing.T) {
		server := testutil.NewMockOpenAIServer(8)
		defer server.Close()

		_, err := newTestEmbedder(t, server, 4).Embed(ctx, "q")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("should fail on unreachable upstream", func(t *testing.T) {
		server := testutil.NewMockOpenAIServer(4)
		e := newTestEmbedder(t, server, 4)
		server.Close()

		_, err := e.Embed(ctx, "q")
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

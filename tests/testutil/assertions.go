package testutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertStatusCode asserts the HTTP response status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertContentType asserts the Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, expected),
		"expected Content-Type to start with %q, got %q", expected, contentType)
}

// AssertJSONResponse asserts the response is JSON.
func AssertJSONResponse(t *testing.T, resp *http.Response) {
	t.Helper()
	AssertContentType(t, resp, "application/json")
}

// RequireStatusOK requires the response status to be 200 OK.
func RequireStatusOK(t *testing.T, resp *http.Response) {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode, "expected 200 OK")
}

// RequireAnswer requires a successful chat reply with the given cache header.
func RequireAnswer(t *testing.T, res *ChatResult, cache string) {
	t.Helper()
	require.NotNil(t, res, "chat result should not be nil")
	require.Equal(t, http.StatusOK, res.StatusCode, "chat failed: %s", res.Error)
	assert.NotEmpty(t, res.Response, "answer should not be empty")
	assert.Equal(t, cache, res.Cache, "unexpected X-Cache header")
}

// AssertChatCalls checks how many completions reached the mock.
func AssertChatCalls(t *testing.T, mock *MockOpenAIServer, expected int) {
	t.Helper()
	assert.Equal(t, expected, mock.ChatCalls(), "unexpected chat completion count")
}

// AssertRequestRecorded checks that the mock saw method and a path ending in path.
func AssertRequestRecorded(t *testing.T, mock *MockOpenAIServer, method, path string) {
	t.Helper()
	for _, req := range mock.Requests() {
		if req.Method == method && strings.HasSuffix(req.Path, path) {
			return
		}
	}
	t.Errorf("expected request %s %s to be recorded", method, path)
}

// AssertHistoryTypes checks the alternating human/ai sequence of a transcript.
func AssertHistoryTypes(t *testing.T, msgs []HistoryMessage, types ...string) {
	t.Helper()
	got := make([]string, len(msgs))
	for i, m := range msgs {
		got[i] = m.Type
	}
	assert.Equal(t, types, got)
}

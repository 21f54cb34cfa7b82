// Package testutil provides an in-process OpenAI stand-in and HTTP helpers for tests.
package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Method  string
	Path    string
	Body    []byte
	Headers http.Header
	Time    time.Time
}

// MockResponse defines a queued chat completion response.
type MockResponse struct {
	Content    string
	StatusCode int
	Error      *MockError
	Delay      time.Duration
}

// MockError defines an error response.
type MockError struct {
	Message string
	Type    string
	Code    string
}

// MockOpenAIServer simulates the OpenAI chat completion and embedding endpoints.
type MockOpenAIServer struct {
	server *httptest.Server

	mu             sync.Mutex
	requests       []RecordedRequest
	chatQueue      []MockResponse
	embedErrors    []MockResponse
	vectors        map[string][]float32
	dimension      int
	defaultAnswer  string
	latency        time.Duration
	chatCalls      int
	embeddingCalls int
}

// NewMockOpenAIServer creates and starts a mock server producing embeddings of the given dimension.
func NewMockOpenAIServer(dimension int) *MockOpenAIServer {
	if dimension <= 0 {
		dimension = 1536
	}
	m := &MockOpenAIServer{
		vectors:       make(map[string][]float32),
		dimension:     dimension,
		defaultAnswer: "This is a mock answer from the test server.",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/v1/embeddings", m.handleEmbeddings)
	mux.HandleFunc("/embeddings", m.handleEmbeddings)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the API base, e.g. http://127.0.0.1:1234/v1.
func (m *MockOpenAIServer) URL() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockOpenAIServer) Close() {
	m.server.Close()
}

// Requests returns all recorded requests.
func (m *MockOpenAIServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// ChatCalls returns how many chat completion requests were served.
func (m *MockOpenAIServer) ChatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatCalls
}

// EmbeddingCalls returns how many embedding requests were served.
func (m *MockOpenAIServer) EmbeddingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embeddingCalls
}

// SetDefaultAnswer sets the completion returned when the queue is empty.
func (m *MockOpenAIServer) SetDefaultAnswer(answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultAnswer = answer
}

// SetLatency delays every response.
func (m *MockOpenAIServer) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// QueueResponse adds a chat completion response to the queue.
func (m *MockOpenAIServer) QueueResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatQueue = append(m.chatQueue, resp)
}

// SetNextResponse queues a successful completion with the given content.
func (m *MockOpenAIServer) SetNextResponse(content string) {
	m.QueueResponse(MockResponse{Content: content})
}

// SetNextChatError queues a failing completion.
func (m *MockOpenAIServer) SetNextChatError(statusCode int, message string) {
	m.QueueResponse(MockResponse{StatusCode: statusCode, Error: apiError(statusCode, message)})
}

// SetNextEmbeddingError makes the next embedding request fail.
func (m *MockOpenAIServer) SetNextEmbeddingError(statusCode int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedErrors = append(m.embedErrors, MockResponse{StatusCode: statusCode, Error: apiError(statusCode, message)})
}

// SetEmbedding pins the vector returned for text. Other texts get a
// deterministic pseudo-random unit vector.
func (m *MockOpenAIServer) SetEmbedding(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = append([]float32(nil), vec...)
}

func (m *MockOpenAIServer) record(r *http.Request, body []byte) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Body:    body,
		Headers: r.Header.Clone(),
		Time:    time.Now(),
	})
	return m.latency
}

func (m *MockOpenAIServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body) //nolint:errcheck // test code
	if latency := m.record(r, body); latency > 0 {
		time.Sleep(latency)
	}

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, apiError(http.StatusBadRequest, "invalid JSON body"))
		return
	}

	m.mu.Lock()
	m.chatCalls++
	content := m.defaultAnswer
	var queued *MockResponse
	if len(m.chatQueue) > 0 {
		q := m.chatQueue[0]
		m.chatQueue = m.chatQueue[1:]
		queued = &q
	}
	m.mu.Unlock()

	if queued != nil {
		if queued.Delay > 0 {
			time.Sleep(queued.Delay)
		}
		if queued.Error != nil {
			writeErrorResponse(w, queued.StatusCode, queued.Error)
			return
		}
		content = queued.Content
	}

	model := req.Model
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test code
		"id":      fmt.Sprintf("chatcmpl-mock-%d", time.Now().UnixNano()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": len(body) / 4, "completion_tokens": len(content) / 4, "total_tokens": (len(body) + len(content)) / 4},
	})
}

func (m *MockOpenAIServer) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body) //nolint:errcheck // test code
	if latency := m.record(r, body); latency > 0 {
		time.Sleep(latency)
	}

	var req struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, apiError(http.StatusBadRequest, "invalid JSON body"))
		return
	}

	m.mu.Lock()
	m.embeddingCalls++
	var failure *MockResponse
	if len(m.embedErrors) > 0 {
		f := m.embedErrors[0]
		m.embedErrors = m.embedErrors[1:]
		failure = &f
	}
	data := make([]map[string]any, len(req.Input))
	for i, text := range req.Input {
		vec, ok := m.vectors[text]
		if !ok {
			vec = DeterministicVector(text, m.dimension)
		}
		data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
	}
	m.mu.Unlock()

	if failure != nil {
		writeErrorResponse(w, failure.StatusCode, failure.Error)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test code
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]int{"prompt_tokens": 5, "total_tokens": 5},
	})
}

// DeterministicVector derives a unit vector from text so equal texts embed identically.
func DeterministicVector(text string, dimension int) []float32 {
	vec := make([]float32, dimension)
	var norm float64
	var block [sha256.Size]byte
	for i := 0; i < dimension; i++ {
		if i%8 == 0 {
			h := sha256.New()
			h.Write([]byte(text))
			_ = binary.Write(h, binary.LittleEndian, uint32(i/8)) //nolint:errcheck // hash writes never fail
			copy(block[:], h.Sum(nil))
		}
		v := float64(binary.LittleEndian.Uint32(block[(i%8)*4:]))/math.MaxUint32*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * scale)
		}
	}
	return vec
}

func apiError(statusCode int, message string) *MockError {
	return &MockError{
		Message: message,
		Type:    "api_error",
		Code:    fmt.Sprintf("error_%d", statusCode),
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, err *MockError) {
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test code
		"error": map[string]any{
			"message": err.Message,
			"type":    err.Type,
			"code":    err.Code,
		},
	})
}

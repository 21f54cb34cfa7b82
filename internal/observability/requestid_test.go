package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("expected unique request IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("expected a UUID, got %q", id1)
	}
}

func TestContextWithRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "test-request-123")
	if got := RequestIDFromContext(ctx); got != "test-request-123" {
		t.Errorf("expected test-request-123, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		inbound  string
		wantSame bool
	}{
		{"generates when missing", "", false},
		{"preserves well formed", "client-req_42.a", true},
		{"replaces invalid characters", "bad id\n", false},
		{"replaces oversized", strings.Repeat("a", maxRequestIDLen+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if captured == "" {
				t.Fatal("expected request ID in context")
			}
			if rec.Header().Get(RequestIDHeader) != captured {
				t.Errorf("response header %q does not match context %q", rec.Header().Get(RequestIDHeader), captured)
			}
			if tt.wantSame && captured != tt.inbound {
				t.Errorf("expected inbound ID %q to be kept, got %q", tt.inbound, captured)
			}
			if !tt.wantSame && captured == tt.inbound {
				t.Errorf("expected inbound ID %q to be replaced", tt.inbound)
			}
		})
	}
}

package api //nolint:revive // package name is intentional

import "net/http"

// RegisterRoutes registers the chat API on mux. chatMiddleware, when set,
// wraps only POST /api/chat (used for per-client rate limiting).
func (h *Handler) RegisterRoutes(mux *http.ServeMux, chatMiddleware func(http.Handler) http.Handler) {
	var chatHandler http.Handler = http.HandlerFunc(h.Chat)
	if chatMiddleware != nil {
		chatHandler = chatMiddleware(chatHandler)
	}

	mux.Handle("POST /api/chat", chatHandler)
	mux.HandleFunc("GET /api/history/{sessionId}", h.History)
	mux.HandleFunc("POST /api/link-history", h.LinkHistory)
	mux.HandleFunc("GET /api/cache/stats", h.CacheStats)

	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health/live", h.Live)
	mux.HandleFunc("GET /health/ready", h.Ready)
}

// RouteInfo describes an API route.
type RouteInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Routes lists the chat API routes.
func Routes() []RouteInfo {
	return []RouteInfo{
		{Method: "POST", Path: "/api/chat", Description: "Ask a finance question"},
		{Method: "GET", Path: "/api/history/{sessionId}", Description: "Recent chat history"},
		{Method: "POST", Path: "/api/link-history", Description: "Attach a guest session to a user"},
		{Method: "GET", Path: "/api/cache/stats", Description: "Semantic cache statistics"},
		{Method: "GET", Path: "/", Description: "Liveness banner"},
		{Method: "GET", Path: "/health/live", Description: "Liveness probe"},
		{Method: "GET", Path: "/health/ready", Description: "Readiness probe"},
	}
}

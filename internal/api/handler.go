// Package api provides the HTTP handlers of the FinCopilot chat API.
package api //nolint:revive // package name is intentional

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic"
	"github.com/blueberrycongee/fincopilot/internal/chat"
	"github.com/blueberrycongee/fincopilot/internal/history"
	"github.com/blueberrycongee/fincopilot/internal/httputil"
	"github.com/blueberrycongee/fincopilot/internal/observability"
	apierrors "github.com/blueberrycongee/fincopilot/pkg/errors"
)

// CacheHeader reports whether an answer came from the semantic cache.
const CacheHeader = "X-Cache"

const defaultReadyTimeout = 2 * time.Second

// ChatService is the orchestrator surface the handlers need.
type ChatService interface {
	Handle(ctx context.Context, req chat.Request) (chat.Response, error)
	History(ctx context.Context, sessionID, userID string) ([]history.Message, error)
	Link(ctx context.Context, sessionID, userID string) (int64, error)
	CacheStats(ctx context.Context) (semantic.Stats, error)
	Ready(ctx context.Context) error
	LimitMessage() string
}

// Handler serves the chat API.
type Handler struct {
	chat          ChatService
	logger        *slog.Logger
	maxBodySize   int64
	keyConfigured func() bool
	readyTimeout  time.Duration
}

// HandlerConfig contains optional handler settings.
type HandlerConfig struct {
	MaxBodySize int64
	// KeyConfigured reports whether an LLM API key is set. It is read per
	// request so a hot-reloaded key takes effect. Nil means configured.
	KeyConfigured func() bool
	ReadyTimeout  time.Duration
}

// NewHandler creates the API handler.
func NewHandler(svc ChatService, logger *slog.Logger, cfg *HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		chat:          svc,
		logger:        logger,
		maxBodySize:   httputil.DefaultMaxRequestBodyBytes,
		keyConfigured: func() bool { return true },
		readyTimeout:  defaultReadyTimeout,
	}
	if cfg != nil {
		if cfg.MaxBodySize > 0 {
			h.maxBodySize = cfg.MaxBodySize
		}
		if cfg.KeyConfigured != nil {
			h.keyConfigured = cfg.KeyConfigured
		}
		if cfg.ReadyTimeout > 0 {
			h.readyTimeout = cfg.ReadyTimeout
		}
	}
	return h
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

// ChatResponse is the body of a successful POST /api/chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// LinkRequest is the body of POST /api/link-history.
type LinkRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// LinkResponse is the body of a successful POST /api/link-history.
type LinkResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Linked  int64  `json:"linked"`
}

// Chat handles POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerWithRequestID(r.Context(), h.logger)

	if !h.keyConfigured() {
		h.writeError(w, apierrors.NewInternalError("openai", msgKeyNotConfigured))
		return
	}

	var req ChatRequest
	if err := httputil.DecodeJSONBody(r.Body, h.maxBodySize, &req); err != nil {
		h.writeError(w, decodeError(err))
		return
	}

	resp, err := h.chat.Handle(r.Context(), chat.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})
	if err != nil {
		if apiErr := validationError(err); apiErr != nil {
			h.writeError(w, apiErr)
			return
		}
		if errors.Is(err, chat.ErrLimitReached) {
			h.writeError(w, apierrors.NewLimitReachedError(h.chat.LimitMessage()))
			return
		}
		logger.Error("chat request failed", "session_id", req.SessionID, "error", err)
		h.writeError(w, apierrors.NewInternalError("", msgChatFailed))
		return
	}

	if resp.Cached {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}
	h.writeJSON(w, http.StatusOK, ChatResponse{Response: resp.Answer})
}

// History handles GET /api/history/{sessionId}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	userID := r.URL.Query().Get("userId")

	msgs, err := h.chat.History(r.Context(), sessionID, userID)
	if err != nil {
		if apiErr := validationError(err); apiErr != nil {
			h.writeError(w, apiErr)
			return
		}
		observability.LoggerWithRequestID(r.Context(), h.logger).
			Error("failed to fetch history", "session_id", sessionID, "error", err)
		h.writeError(w, apierrors.NewInternalError("", msgHistoryFailed))
		return
	}
	if msgs == nil {
		msgs = []history.Message{}
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

// LinkHistory handles POST /api/link-history.
func (h *Handler) LinkHistory(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := httputil.DecodeJSONBody(r.Body, h.maxBodySize, &req); err != nil {
		h.writeError(w, decodeError(err))
		return
	}
	if req.SessionID == "" || req.UserID == "" {
		h.writeError(w, apierrors.NewInvalidRequestError(msgLinkRequired))
		return
	}

	n, err := h.chat.Link(r.Context(), req.SessionID, req.UserID)
	if err != nil {
		if apiErr := validationError(err); apiErr != nil {
			h.writeError(w, apiErr)
			return
		}
		observability.LoggerWithRequestID(r.Context(), h.logger).
			Error("failed to link history", "session_id", req.SessionID, "error", err)
		h.writeError(w, apierrors.NewInternalError("", msgLinkFailed))
		return
	}
	h.writeJSON(w, http.StatusOK, LinkResponse{
		Success: true,
		Message: "History linked successfully",
		Linked:  n,
	})
}

// CacheStats handles GET /api/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.chat.CacheStats(r.Context())
	if err != nil {
		observability.LoggerWithRequestID(r.Context(), h.logger).
			Error("failed to fetch cache stats", "error", err)
		h.writeError(w, apierrors.NewInternalError("", msgStatsFailed))
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("FinCopilot Backend is running"))
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready by pinging the stores.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
	defer cancel()

	if err := h.chat.Ready(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

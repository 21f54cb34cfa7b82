package api //nolint:revive // package name is intentional

import (
	"errors"
	"net/http"

	"github.com/blueberrycongee/fincopilot/internal/chat"
	"github.com/blueberrycongee/fincopilot/internal/history"
	"github.com/blueberrycongee/fincopilot/internal/httputil"
	apierrors "github.com/blueberrycongee/fincopilot/pkg/errors"
)

// ErrorResponse is the error body the web client understands.
// Error holds a human readable message, or the machine code when Message is set.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Client facing messages.
const (
	msgKeyNotConfigured = "OpenAI API key not configured."
	msgSessionRequired  = "Session ID is required."
	msgMessageRequired  = "Message is required."
	msgLinkRequired     = "Session ID and User ID are required."
	msgInvalidUserID    = "User ID must be a valid UUID."
	msgInvalidJSON      = "Request body must be valid JSON."
	msgBodyTooLarge     = "Request body is too large."
	msgChatFailed       = "An error occurred while processing your request."
	msgHistoryFailed    = "Failed to fetch history"
	msgLinkFailed       = "Failed to link history"
	msgStatsFailed      = "Failed to fetch cache stats"
)

func (h *Handler) writeError(w http.ResponseWriter, e *apierrors.APIError) {
	body := ErrorResponse{Error: e.Message}
	if e.Type == apierrors.TypeLimitReached {
		body = ErrorResponse{Error: e.Type, Message: e.Message}
	}
	h.writeJSON(w, e.HTTPStatusCode(), body)
}

// decodeError maps a body decoding failure to a client error.
func decodeError(err error) *apierrors.APIError {
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		return &apierrors.APIError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Message:    msgBodyTooLarge,
			Type:       apierrors.TypeInvalidRequest,
		}
	}
	return apierrors.NewInvalidRequestError(msgInvalidJSON)
}

// validationError maps a chat validation failure to its client message.
// It returns nil for anything that is not a validation failure.
func validationError(err error) *apierrors.APIError {
	if !errors.Is(err, chat.ErrInvalidRequest) {
		return nil
	}
	switch {
	case errors.Is(err, chat.ErrSessionRequired):
		return apierrors.NewInvalidRequestError(msgSessionRequired)
	case errors.Is(err, chat.ErrMessageRequired):
		return apierrors.NewInvalidRequestError(msgMessageRequired)
	case errors.Is(err, chat.ErrUserRequired):
		return apierrors.NewInvalidRequestError(msgLinkRequired)
	case errors.Is(err, history.ErrInvalidUserID):
		return apierrors.NewInvalidRequestError(msgInvalidUserID)
	default:
		return apierrors.NewInvalidRequestError(err.Error())
	}
}

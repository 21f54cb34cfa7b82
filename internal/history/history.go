// Package history persists chat messages per session and answers the
// queries the chat flow needs: the recent window, the guest question count
// and linking a guest session to a signed-in user.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultWindow is the number of past messages sent to the model.
const DefaultWindow = 15

// Message types.
const (
	TypeHuman = "human"
	TypeAI    = "ai"
)

var (
	// ErrInvalidMessage is returned when a message lacks a session, type or content.
	ErrInvalidMessage = errors.New("invalid chat message")
	// ErrInvalidUserID is returned when a user id is not a UUID.
	ErrInvalidUserID = errors.New("user id must be a UUID")
)

// Message is one turn of a conversation. An empty UserID marks a guest message.
type Message struct {
	SessionID string    `json:"-"`
	UserID    string    `json:"-"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists chat history.
type Store interface {
	// Add appends a message.
	Add(ctx context.Context, msg Message) error

	// Recent returns up to limit of the newest messages in ascending time order.
	// With a userID the window spans all of that user's sessions; otherwise it is
	// the session's guest messages only.
	Recent(ctx context.Context, sessionID, userID string, limit int) ([]Message, error)

	// CountGuestMessages counts human guest messages in a session.
	CountGuestMessages(ctx context.Context, sessionID string) (int64, error)

	// Link assigns userID to the session's guest messages and returns how many changed.
	Link(ctx context.Context, sessionID, userID string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ValidateUserID accepts an empty id (guest) or a UUID.
func ValidateUserID(userID string) error {
	if userID == "" {
		return nil
	}
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}

func validateMessage(msg Message) error {
	if strings.TrimSpace(msg.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidMessage)
	}
	if msg.Type != TypeHuman && msg.Type != TypeAI {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
	if msg.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}
	return ValidateUserID(msg.UserID)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultWindow
	}
	return limit
}

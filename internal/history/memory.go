package history

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Add implements Store.
func (s *MemoryStore) Add(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Timestamp = s.now().UTC()
	s.messages = append(s.messages, msg)
	return nil
}

// Recent implements Store. Insertion order stands in for timestamp order.
func (s *MemoryStore) Recent(ctx context.Context, sessionID, userID string, limit int) ([]Message, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Message
	for _, m := range s.messages {
		if userID != "" {
			if m.UserID == userID {
				matched = append(matched, m)
			}
			continue
		}
		if m.SessionID == sessionID && m.UserID == "" {
			matched = append(matched, m)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return append([]Message(nil), matched...), nil
}

// CountGuestMessages implements Store.
func (s *MemoryStore) CountGuestMessages(ctx context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.messages {
		if m.SessionID == sessionID && m.UserID == "" && m.Type == TypeHuman {
			n++
		}
	}
	return n, nil
}

// Link implements Store.
func (s *MemoryStore) Link(ctx context.Context, sessionID, userID string) (int64, error) {
	if sessionID == "" || userID == "" {
		return 0, fmt.Errorf("%w: session id and user id are required", ErrInvalidMessage)
	}
	if err := ValidateUserID(userID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.messages {
		if s.messages[i].SessionID == sessionID && s.messages[i].UserID == "" {
			s.messages[i].UserID = userID
			n++
		}
	}
	return n, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

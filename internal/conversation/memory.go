package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/hidrolabs/aquarelay/internal/common/errorx"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore implements Store using in-memory storage
type MemoryStore struct {
	logger *zap.Logger
	limit  int

	mu       sync.RWMutex
	sessions map[int64]*Session
	history  map[int64][]Message
	// generations survive Clear so that in-flight replies against a
	// removed session can be recognized as stale.
	generations map[int64]uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory conversation store
func NewMemoryStore(logger *zap.Logger, historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &MemoryStore{
		logger:      logger.Named("conversation.store.memory"),
		limit:       historyLimit,
		sessions:    make(map[int64]*Session),
		history:     make(map[int64][]Message),
		generations: make(map[int64]uint64),
	}
}

// GetOrCreate implements Store.GetOrCreate
func (s *MemoryStore) GetOrCreate(_ context.Context, conversationID int64, userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[conversationID]; ok {
		sess.LastActivity = time.Now()
		return *sess, nil
	}

	now := time.Now()
	sess := &Session{
		SessionID:      uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		CreatedAt:      now,
		LastActivity:   now,
		Generation:     s.generations[conversationID],
	}
	s.sessions[conversationID] = sess
	s.history[conversationID] = make([]Message, 0, s.limit)

	s.logger.Debug("created session",
		zap.Int64("conversation_id", conversationID),
		zap.String("user_id", userID),
		zap.String("session_id", sess.SessionID))
	return *sess, nil
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, conversationID int64) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[conversationID]
	if !ok {
		return Session{}, errorx.ErrSessionNotFound
	}
	return *sess, nil
}

// Append implements Store.Append
func (s *MemoryStore) Append(_ context.Context, conversationID int64, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h := append(s.history[conversationID], msg)
	if len(h) > s.limit {
		h = h[len(h)-s.limit:]
	}
	s.history[conversationID] = h

	if sess, ok := s.sessions[conversationID]; ok {
		sess.LastActivity = time.Now()
	}
	return nil
}

// History implements Store.History
func (s *MemoryStore) History(_ context.Context, conversationID int64) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[conversationID]
	out := make([]Message, len(h))
	copy(out, h)
	return out, nil
}

// Generation implements Store.Generation
func (s *MemoryStore) Generation(_ context.Context, conversationID int64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[conversationID], nil
}

// Clear implements Store.Clear
func (s *MemoryStore) Clear(_ context.Context, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(conversationID)
	return nil
}

func (s *MemoryStore) clearLocked(conversationID int64) {
	if _, ok := s.sessions[conversationID]; !ok {
		return
	}
	delete(s.sessions, conversationID)
	delete(s.history, conversationID)
	s.generations[conversationID]++
	s.logger.Debug("cleared session", zap.Int64("conversation_id", conversationID))
}

// Sweep implements Store.Sweep
func (s *MemoryStore) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			s.clearLocked(id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("swept idle sessions", zap.Int("removed", removed))
	}
	return removed, nil
}

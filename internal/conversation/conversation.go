package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/hidrolabs/aquarelay/internal/common/config"

	"go.uber.org/zap"
)

// Message is a single entry in a conversation history.
type Message struct {
	Role      string    `json:"role"` // system, user, assistant, tool
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session tracks one chat-platform conversation's assistant state.
type Session struct {
	SessionID      string    `json:"session_id"`
	ConversationID int64     `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	// Generation is the store's clear-counter for this conversation at the
	// time the session was created. A reply dispatched against an older
	// generation is stale and must be discarded.
	Generation uint64 `json:"generation"`
}

// Store manages per-conversation sessions and their bounded histories.
type Store interface {
	// GetOrCreate returns the existing session for the conversation,
	// refreshing its last-activity timestamp, or lazily creates one.
	GetOrCreate(ctx context.Context, conversationID int64, userID string) (Session, error)

	// Get returns the session without creating one. A conversation with no
	// session yields errorx.ErrSessionNotFound.
	Get(ctx context.Context, conversationID int64) (Session, error)

	// Append adds a message to the conversation's history, evicting from
	// the front once the retained window exceeds the configured limit.
	Append(ctx context.Context, conversationID int64, msg Message) error

	// History returns an ordered snapshot of the retained messages. A
	// conversation without a session yields an empty slice.
	History(ctx context.Context, conversationID int64) ([]Message, error)

	// Generation returns the current clear-counter for the conversation.
	Generation(ctx context.Context, conversationID int64) (uint64, error)

	// Clear removes the session and its history. Idempotent.
	Clear(ctx context.Context, conversationID int64) error

	// Sweep removes every session idle for longer than maxAge and returns
	// the number removed. The store has no timer of its own; a sweeper
	// drives this externally.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// Type represents the type of conversation store
type Type string

const (
	// TypeMemory represents the in-memory conversation store
	TypeMemory Type = "memory"
	// TypeRedis represents the Redis-backed conversation store
	TypeRedis Type = "redis"
)

// NewStore creates a new conversation store based on configuration
func NewStore(logger *zap.Logger, cfg *config.SessionConfig) (Store, error) {
	logger.Info("Initializing conversation store", zap.String("type", cfg.Type))
	switch Type(cfg.Type) {
	case TypeMemory:
		return NewMemoryStore(logger, cfg.HistoryLimit), nil
	case TypeRedis:
		return NewRedisStore(logger, cfg)
	default:
		return nil, fmt.Errorf("unsupported conversation store type: %s", cfg.Type)
	}
}

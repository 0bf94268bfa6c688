package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements Store using Redis. Histories live in Redis lists
// trimmed to the retained window; session metadata is stored as JSON with a
// TTL so abandoned conversations age out even without a sweep.
type RedisStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	limit  int
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-backed conversation store
func NewRedisStore(logger *zap.Logger, cfg *config.SessionConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "aquarelay"
	}

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 20
	}

	return &RedisStore{
		logger: logger.Named("conversation.store.redis"),
		client: client,
		prefix: prefix,
		limit:  limit,
		ttl:    cfg.Redis.TTL,
	}, nil
}

func (s *RedisStore) metaKey(id int64) string { return fmt.Sprintf("%s:meta:%d", s.prefix, id) }
func (s *RedisStore) histKey(id int64) string { return fmt.Sprintf("%s:hist:%d", s.prefix, id) }
func (s *RedisStore) genKey(id int64) string  { return fmt.Sprintf("%s:gen:%d", s.prefix, id) }
func (s *RedisStore) idsKey() string          { return s.prefix + ":ids" }

// GetOrCreate implements Store.GetOrCreate
func (s *RedisStore) GetOrCreate(ctx context.Context, conversationID int64, userID string) (Session, error) {
	key := s.metaKey(conversationID)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return Session{}, fmt.Errorf("failed to unmarshal session metadata: %w", err)
		}
		sess.LastActivity = time.Now()
		if err := s.saveMeta(ctx, &sess); err != nil {
			return Session{}, err
		}
		return sess, nil
	}
	if !errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("failed to get session metadata: %w", err)
	}

	gen, err := s.Generation(ctx, conversationID)
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	sess := Session{
		SessionID:      uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		CreatedAt:      now,
		LastActivity:   now,
		Generation:     gen,
	}
	if err := s.saveMeta(ctx, &sess); err != nil {
		return Session{}, err
	}
	if err := s.client.SAdd(ctx, s.idsKey(), conversationID).Err(); err != nil {
		return Session{}, fmt.Errorf("failed to register session id: %w", err)
	}

	s.logger.Debug("created session",
		zap.Int64("conversation_id", conversationID),
		zap.String("user_id", userID),
		zap.String("session_id", sess.SessionID))
	return sess, nil
}

// Get implements Store.Get
func (s *RedisStore) Get(ctx context.Context, conversationID int64) (Session, error) {
	data, err := s.client.Get(ctx, s.metaKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, errorx.ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to get session metadata: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session metadata: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) saveMeta(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	if err := s.client.Set(ctx, s.metaKey(sess.ConversationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session metadata: %w", err)
	}
	return nil
}

// Append implements Store.Append
func (s *RedisStore) Append(ctx context.Context, conversationID int64, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := s.histKey(conversationID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	// keep only the most recent window
	pipe.LTrim(ctx, key, int64(-s.limit), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	// refresh last activity when a session exists
	data2, err := s.client.Get(ctx, s.metaKey(conversationID)).Bytes()
	if err == nil {
		var sess Session
		if err := json.Unmarshal(data2, &sess); err == nil {
			sess.LastActivity = time.Now()
			if err := s.saveMeta(ctx, &sess); err != nil {
				s.logger.Warn("failed to refresh session activity",
					zap.Int64("conversation_id", conversationID),
					zap.Error(err))
			}
		}
	}
	return nil
}

// History implements Store.History
func (s *RedisStore) History(ctx context.Context, conversationID int64) ([]Message, error) {
	items, err := s.client.LRange(ctx, s.histKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	out := make([]Message, 0, len(items))
	for _, item := range items {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn("skipping malformed history entry",
				zap.Int64("conversation_id", conversationID),
				zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Generation implements Store.Generation
func (s *RedisStore) Generation(ctx context.Context, conversationID int64) (uint64, error) {
	val, err := s.client.Get(ctx, s.genKey(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	gen, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed generation counter: %w", err)
	}
	return gen, nil
}

// Clear implements Store.Clear
func (s *RedisStore) Clear(ctx context.Context, conversationID int64) error {
	existed, err := s.client.Exists(ctx, s.metaKey(conversationID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.metaKey(conversationID), s.histKey(conversationID))
	pipe.SRem(ctx, s.idsKey(), conversationID)
	if existed > 0 {
		pipe.Incr(ctx, s.genKey(conversationID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Sweep implements Store.Sweep
func (s *RedisStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list session ids: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		data, err := s.client.Get(ctx, s.metaKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// metadata already expired; drop the dangling id
			_ = s.client.SRem(ctx, s.idsKey(), id).Err()
			continue
		}
		if err != nil {
			s.logger.Warn("failed to read session during sweep",
				zap.Int64("conversation_id", id),
				zap.Error(err))
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.LastActivity.Before(cutoff) {
			if err := s.Clear(ctx, id); err != nil {
				s.logger.Warn("failed to clear session during sweep",
					zap.Int64("conversation_id", id),
					zap.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("swept idle sessions", zap.Int("removed", removed))
	}
	return removed, nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

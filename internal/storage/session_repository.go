package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dhruvsoni1802/browser-gateway/internal/session"
)

const activeSessionsKey = "active:sessions"

// DefaultSessionTTL is how long a mirrored session outlives its last change
const DefaultSessionTTL = time.Hour

// This struct mirrors session state into Redis hashes. It never feeds
// anything back into the session manager.
type SessionRepository struct {
	redis  *RedisClient  // The Redis client to use for persistence
	ttl    time.Duration // Default TTL for sessions
	logger *slog.Logger
}

var _ session.Observer = (*SessionRepository)(nil)

// NewSessionRepository creates a new session repository
func NewSessionRepository(redisClient *RedisClient, ttl time.Duration, logger *slog.Logger) *SessionRepository {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRepository{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger.With("component", "storage"),
	}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// SaveSession persists session state to Redis using Hash
func (r *SessionRepository) SaveSession(ctx context.Context, s session.Session) error {
	key := sessionKey(s.ID)

	// Build hash fields (basic metadata)
	fields := map[string]interface{}{
		"session_id":    s.ID,
		"session_name":  s.Name,
		"status":        string(s.Status),
		"current_url":   s.CurrentURL,
		"last_error":    s.LastError,
		"created_at":    s.CreatedAt.Format(time.RFC3339Nano),
		"last_activity": s.LastActiveAt.Format(time.RFC3339Nano),
	}
	if s.Viewport != nil {
		data, err := json.Marshal(s.Viewport)
		if err != nil {
			return fmt.Errorf("failed to marshal viewport: %w", err)
		}
		fields["viewport"] = string(data)
	}
	if len(s.Metadata) > 0 {
		data, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		fields["metadata"] = string(data)
	}

	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// Store hash and set expiration (TTL)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, r.ttl)

		// Only sessions holding a browser count as active
		if s.Status == session.StatusClosed {
			pipe.SRem(ctx, activeSessionsKey, s.ID)
		} else {
			pipe.SAdd(ctx, activeSessionsKey, s.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("session saved to Redis", "session_id", s.ID, "status", s.Status)
	return nil
}

// GetSession retrieves session state from Redis
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*SessionState, error) {
	// Get all hash fields
	data, err := r.redis.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	// Check if session exists (empty map means not found)
	if len(data) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	// Parse fields
	state := &SessionState{
		SessionID:   data["session_id"],
		SessionName: data["session_name"],
		Status:      data["status"],
		CurrentURL:  data["current_url"],
		LastError:   data["last_error"],
	}

	// Parse timestamps
	if createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"]); err == nil {
		state.CreatedAt = createdAt
	}
	if lastActivity, err := time.Parse(time.RFC3339Nano, data["last_activity"]); err == nil {
		state.LastActivity = lastActivity
	}

	if raw := data["viewport"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Viewport); err != nil {
			r.logger.Warn("failed to decode stored viewport", "session_id", sessionID, "error", err)
		}
	}
	if raw := data["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Metadata); err != nil {
			r.logger.Warn("failed to decode stored metadata", "session_id", sessionID, "error", err)
		}
	}

	return state, nil
}

// ListActiveSessions returns all active session IDs
func (r *SessionRepository) ListActiveSessions(ctx context.Context) ([]string, error) {
	sessions, err := r.redis.client.SMembers(ctx, activeSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes session from Redis
func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sessionID))
		pipe.SRem(ctx, activeSessionsKey, sessionID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	r.logger.Debug("session deleted from Redis", "session_id", sessionID)
	return nil
}

// SessionChanged mirrors s. Failures are logged; the mirror is best effort.
func (r *SessionRepository) SessionChanged(s session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.SaveSession(ctx, s); err != nil {
		r.logger.Warn("failed to mirror session", "session_id", s.ID, "error", err)
	}
}

// SessionRemoved drops the mirrored copy of id
func (r *SessionRepository) SessionRemoved(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.DeleteSession(ctx, id); err != nil {
		r.logger.Warn("failed to remove mirrored session", "session_id", id, "error", err)
	}
}

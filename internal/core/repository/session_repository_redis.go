package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duynhne/session-service/internal/core/domain"
)

// maxTxRetries bounds optimistic-lock retries when concurrent logins for
// the same user keep invalidating the WATCH.
const maxTxRetries = 16

// RedisSessionRepository implements domain.SessionRepository on Redis.
//
// Layout:
//
//	<prefix>:session:<userID>:<token>  hash  id, user_id, token, status, created_at, expires_at
//	<prefix>:user_sessions:<userID>    set   tokens owned by the user
//
// Sessions are never deleted; ENDED is a status change.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionRepository creates a repository using keys under prefix.
func NewRedisSessionRepository(client *redis.Client, prefix string) *RedisSessionRepository {
	if prefix == "" {
		prefix = "auth"
	}
	return &RedisSessionRepository{client: client, prefix: prefix}
}

func (r *RedisSessionRepository) sessionKey(userID int64, token string) string {
	return r.prefix + ":session:" + strconv.FormatInt(userID, 10) + ":" + token
}

func (r *RedisSessionRepository) userKey(userID int64) string {
	return r.prefix + ":user_sessions:" + strconv.FormatInt(userID, 10)
}

// CreateIfAllowed watches the user's session index so that a concurrent
// insert for the same user aborts and retries this transaction.
func (r *RedisSessionRepository) CreateIfAllowed(ctx context.Context, s *domain.Session, admit domain.AdmitFunc) error {
	indexKey := r.userKey(s.UserID)

	txf := func(tx *redis.Tx) error {
		tokens, err := tx.SMembers(ctx, indexKey).Result()
		if err != nil {
			return err
		}
		existing, err := r.load(ctx, tx, s.UserID, tokens)
		if err != nil {
			return err
		}
		if !admit(existing) {
			return domain.ErrSessionRejected
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.sessionKey(s.UserID, s.Token), sessionFields(s))
			pipe.SAdd(ctx, indexKey, s.Token)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, indexKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("create session for user %d: %w", s.UserID, redis.TxFailedErr)
}

// GetByTokenAndUser looks up a session by its composite key.
// Returns (nil, nil) when no session matches.
func (r *RedisSessionRepository) GetByTokenAndUser(ctx context.Context, token string, userID int64) (*domain.Session, error) {
	data, err := r.client.HGetAll(ctx, r.sessionKey(userID, token)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	s, err := parseSession(data)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateStatus persists the session status. The session must exist.
func (r *RedisSessionRepository) UpdateStatus(ctx context.Context, s *domain.Session) error {
	key := r.sessionKey(s.UserID, s.Token)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update session %s: %w", s.ID, redis.Nil)
	}
	return r.client.HSet(ctx, key, "status", string(s.Status)).Err()
}

// ListByUser returns all sessions owned by the user, newest first.
func (r *RedisSessionRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Session, error) {
	tokens, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sessions, err := r.load(ctx, r.client, userID, tokens)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// pipeliner is satisfied by both *redis.Client and a watched *redis.Tx.
type pipeliner interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// load fetches the session hashes for tokens in one pipeline. Tokens whose
// hash is missing are skipped.
func (r *RedisSessionRepository) load(ctx context.Context, c pipeliner, userID int64, tokens []string) ([]domain.Session, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	_, err := c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, token := range tokens {
			cmds[i] = pipe.HGetAll(ctx, r.sessionKey(userID, token))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.Session, 0, len(cmds))
	for _, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			continue
		}
		s, err := parseSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func sessionFields(s *domain.Session) map[string]any {
	return map[string]any{
		"id":         s.ID,
		"user_id":    s.UserID,
		"token":      s.Token,
		"status":     string(s.Status),
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": s.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseSession(data map[string]string) (domain.Session, error) {
	userID, err := strconv.ParseInt(data["user_id"], 10, 64)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parse session user_id: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return domain.Session{}, fmt.Errorf("parse session created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, data["expires_at"])
	if err != nil {
		return domain.Session{}, fmt.Errorf("parse session expires_at: %w", err)
	}
	status := domain.SessionStatus(data["status"])
	if !status.Valid() {
		return domain.Session{}, fmt.Errorf("parse session status %q", data["status"])
	}

	return domain.Session{
		ID:        data["id"],
		UserID:    userID,
		Token:     data["token"],
		Status:    status,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

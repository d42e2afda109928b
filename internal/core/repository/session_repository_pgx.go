package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/session-service/internal/core/domain"
)

// PgxSessionRepository implements domain.SessionRepository using pgxpool.
type PgxSessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new PgxSessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *PgxSessionRepository {
	return &PgxSessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, token, status, created_at, expires_at`

// admissionQuery loads only the sessions that can still count against the
// cap at the new session's creation time; it is served by
// idx_sessions_user_active.
const admissionQuery = `SELECT ` + sessionColumns + ` FROM sessions
	WHERE user_id = $1 AND status = 'ACTIVE' AND expires_at >= $2`

// CreateIfAllowed locks the owning user row for the duration of the
// transaction, so concurrent logins for one user see each other's inserts.
// Only live sessions are handed to admit.
func (r *PgxSessionRepository) CreateIfAllowed(ctx context.Context, s *domain.Session, admit domain.AdmitFunc) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, s.UserID).Scan(&locked)
		if err != nil {
			return fmt.Errorf("lock user %d: %w", s.UserID, err)
		}

		rows, err := tx.Query(ctx, admissionQuery, s.UserID, s.CreatedAt)
		if err != nil {
			return err
		}
		existing, err := pgx.CollectRows(rows, scanSession)
		if err != nil {
			return err
		}

		if !admit(existing) {
			return domain.ErrSessionRejected
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			s.ID, s.UserID, s.Token, string(s.Status), s.CreatedAt, s.ExpiresAt,
		)
		return err
	})
}

// GetByTokenAndUser looks up a session by its composite key.
// Returns (nil, nil) when no session matches.
func (r *PgxSessionRepository) GetByTokenAndUser(ctx context.Context, token string, userID int64) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token = $1 AND user_id = $2`

	rows, err := r.pool.Query(ctx, query, token, userID)
	if err != nil {
		return nil, err
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &s, nil
}

// UpdateStatus persists the session status.
func (r *PgxSessionRepository) UpdateStatus(ctx context.Context, s *domain.Session) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET status = $1 WHERE id = $2`, string(s.Status), s.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %s: %w", s.ID, pgx.ErrNoRows)
	}
	return nil
}

// ListByUser returns all sessions owned by the user, newest first.
func (r *PgxSessionRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSession)
}

func scanSession(row pgx.CollectableRow) (domain.Session, error) {
	var (
		s      domain.Session
		status string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &status, &s.CreatedAt, &s.ExpiresAt)
	s.Status = domain.SessionStatus(status)
	return s, err
}

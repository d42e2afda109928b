package domain

import (
	"context"
	"errors"
)

// ErrSessionRejected is returned by SessionRepository.CreateIfAllowed when
// the admission callback refuses the new session.
var ErrSessionRejected = errors.New("session rejected by admission check")

// AdmitFunc decides, from the user's currently stored sessions, whether one
// more session may be created.
type AdmitFunc func(existing []Session) bool

// SessionRepository defines the data-access contract for session operations.
// Implementations live in internal/core/repository (Core layer).
type SessionRepository interface {
	// CreateIfAllowed inserts s if admit approves the user's existing
	// sessions. Reading the existing sessions and inserting happen atomically
	// per user: concurrent calls for the same user are serialized.
	// Implementations may omit sessions already ENDED or expired as of
	// s.CreatedAt; admit must not depend on seeing them.
	CreateIfAllowed(ctx context.Context, s *Session, admit AdmitFunc) error

	// GetByTokenAndUser looks up a session by its composite key.
	// Returns (nil, nil) when no session matches.
	GetByTokenAndUser(ctx context.Context, token string, userID int64) (*Session, error)

	// UpdateStatus persists s.Status for the session identified by s.
	UpdateStatus(ctx context.Context, s *Session) error

	// ListByUser returns all sessions owned by the user, newest first.
	ListByUser(ctx context.Context, userID int64) ([]Session, error)
}

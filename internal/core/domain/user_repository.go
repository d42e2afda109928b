package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateEmail is returned by UserRepository.Create when the email is
// already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// User is the stored identity. Repositories never fill Sessions; the engine
// attaches the user's sessions before asking the session policy.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
	Sessions     []Session
}

// Public returns the caller-facing view of the user, without the digest.
func (u *User) Public() PublicUser {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return PublicUser{ID: u.ID, Email: u.Email, Roles: roles}
}

// UserRepository defines the data-access contract for user operations.
// Implementations live in internal/core/repository (Core layer).
// The Logic layer depends on this interface only — never on SQL or pgx directly.
type UserRepository interface {
	// GetByEmail returns the user matching the given email.
	// Returns (nil, nil) when no user is found.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Create inserts a new user and returns it with its generated ID.
	// Returns ErrDuplicateEmail when the email is not unique.
	Create(ctx context.Context, email, passwordHash string, roles []string) (*User, error)
}

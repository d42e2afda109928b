package domain

import "time"

// Claims is the payload embedded in an issued token.
type Claims struct {
	TokenID   string
	Subject   int64
	Email     string
	Roles     []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Hasher is a one-way password hashing collaborator.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// TokenCodec signs and parses bearer tokens. The signing key is bound at
// construction and never changes for the lifetime of the codec.
type TokenCodec interface {
	Sign(claims Claims) (string, error)
	Parse(token string) (*Claims, error)
}

// PublicUser is the caller-facing view of a User.
type PublicUser struct {
	ID    int64    `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// SignUpRequest is the payload for POST /auth/signup.
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest is the payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SessionRequest is the payload for POST /auth/logout and /auth/validate.
// Token may be omitted when it is carried by cookie or Authorization header.
type SessionRequest struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id" binding:"required"`
}

// AuthResponse is returned on successful login.
type AuthResponse struct {
	Token string     `json:"token"`
	User  PublicUser `json:"user"`
}

// ValidateResponse is returned by POST /auth/validate.
type ValidateResponse struct {
	Status SessionStatus `json:"status"`
}

// SessionView is the caller-facing view of a session (token omitted).
type SessionView struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

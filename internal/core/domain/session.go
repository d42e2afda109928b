package domain

import "time"

// SessionStatus is the lifecycle state of a session. ACTIVE -> ENDED only.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	return s == SessionActive || s == SessionEnded
}

// Session is one issued token and its server-side lifecycle. ExpiresAt is
// authoritative over the expiry embedded in the token.
type Session struct {
	ID        string
	UserID    int64
	Token     string
	Status    SessionStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session's own expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session is ACTIVE and not yet expired at now.
func (s *Session) Live(now time.Time) bool {
	return s.Status == SessionActive && !s.Expired(now)
}

// EffectiveStatus is the status a reader should observe at now: an ACTIVE
// session past its expiry is reported as ENDED.
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.Status == SessionActive && s.Expired(now) {
		return SessionEnded
	}
	return s.Status
}

package v1

import (
	"time"

	"github.com/duynhne/session-service/internal/core/domain"
)

// DefaultMaxSessions is the per-user cap on live sessions.
const DefaultMaxSessions = 2

// SessionPolicy decides whether a user may open another session. Only
// sessions that are ACTIVE and unexpired count toward the cap.
type SessionPolicy struct {
	MaxSessions int
}

// CanIssue reports whether u holds fewer live sessions than the cap at now.
func (p SessionPolicy) CanIssue(u *domain.User, now time.Time) bool {
	return LiveSessions(u.Sessions, now) < p.MaxSessions
}

// LiveSessions counts sessions that are ACTIVE and not past expiry at now.
func LiveSessions(sessions []domain.Session, now time.Time) int {
	n := 0
	for i := range sessions {
		if sessions[i].Live(now) {
			n++
		}
	}
	return n
}

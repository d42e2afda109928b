package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/duynhne/session-service/internal/core/domain"
)

// ErrSessionMissing is returned by MemorySessionRepository.UpdateStatus for
// an unknown session.
var ErrSessionMissing = errors.New("session does not exist")

// MemoryUserRepository is a process-local domain.UserRepository used for
// development and tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	nextID  int64
	byEmail map[string]*domain.User
}

// NewMemoryUserRepository creates an empty MemoryUserRepository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byEmail: make(map[string]*domain.User)}
}

// GetByEmail returns a copy of the stored user, or (nil, nil).
func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.Roles = slices.Clone(u.Roles)
	return &cp, nil
}

// Create stores a new user with the next sequential ID.
func (r *MemoryUserRepository) Create(_ context.Context, email, passwordHash string, roles []string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return nil, domain.ErrDuplicateEmail
	}
	r.nextID++
	u := &domain.User{
		ID:           r.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        slices.Clone(roles),
		CreatedAt:    time.Now(),
	}
	r.byEmail[email] = u

	cp := *u
	cp.Roles = slices.Clone(u.Roles)
	return &cp, nil
}

type sessionKey struct {
	token  string
	userID int64
}

// MemorySessionRepository is a process-local domain.SessionRepository.
// A single mutex serializes CreateIfAllowed, which makes admission atomic
// per user.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[sessionKey]*domain.Session
	byUser   map[int64][]sessionKey
}

// NewMemorySessionRepository creates an empty MemorySessionRepository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[sessionKey]*domain.Session),
		byUser:   make(map[int64][]sessionKey),
	}
}

func (r *MemorySessionRepository) CreateIfAllowed(_ context.Context, s *domain.Session, admit domain.AdmitFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !admit(r.listLocked(s.UserID)) {
		return domain.ErrSessionRejected
	}

	key := sessionKey{token: s.Token, userID: s.UserID}
	if _, ok := r.sessions[key]; ok {
		return fmt.Errorf("session for user %d already exists", s.UserID)
	}
	cp := *s
	r.sessions[key] = &cp
	r.byUser[s.UserID] = append(r.byUser[s.UserID], key)
	return nil
}

func (r *MemorySessionRepository) GetByTokenAndUser(_ context.Context, token string, userID int64) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionKey{token: token, userID: userID}]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemorySessionRepository) UpdateStatus(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[sessionKey{token: s.Token, userID: s.UserID}]
	if !ok {
		return fmt.Errorf("update session %s: %w", s.ID, ErrSessionMissing)
	}
	stored.Status = s.Status
	return nil
}

func (r *MemorySessionRepository) ListByUser(_ context.Context, userID int64) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.listLocked(userID)
	slices.Reverse(out)
	return out, nil
}

// listLocked returns copies of the user's sessions in insertion order.
func (r *MemorySessionRepository) listLocked(userID int64) []domain.Session {
	keys := r.byUser[userID]
	out := make([]domain.Session, 0, len(keys))
	for _, k := range keys {
		out = append(out, *r.sessions[k])
	}
	return out
}

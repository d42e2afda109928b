package v1

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/session-service/internal/core/domain"
	"github.com/duynhne/session-service/middleware"
)

const (
	// DefaultSessionTTL is the authoritative lifetime of a stored session.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultTokenTTL is the expiry embedded in token claims. It is
	// deliberately longer than the session; the session record wins.
	DefaultTokenTTL = 72 * time.Hour

	// MaxPasswordBytes is the longest password bcrypt accepts.
	MaxPasswordBytes = 72
)

// AuthService implements login, signup, logout and validate.
// It depends on repository and crypto interfaces (injected via constructor)
// and MUST NOT access the database or SQL directly. It holds no per-request
// state and is safe for concurrent use.
type AuthService struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	hasher   domain.Hasher
	codec    domain.TokenCodec

	policy       SessionPolicy
	sessionTTL   time.Duration
	tokenTTL     time.Duration
	defaultRoles []string
	now          func() time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithSessionTTL sets the lifetime of stored sessions.
func WithSessionTTL(d time.Duration) Option {
	return func(s *AuthService) { s.sessionTTL = d }
}

// WithTokenTTL sets the expiry embedded in issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *AuthService) { s.tokenTTL = d }
}

// WithMaxSessions sets the per-user live session cap.
func WithMaxSessions(n int) Option {
	return func(s *AuthService) { s.policy.MaxSessions = n }
}

// WithDefaultRoles sets the roles assigned on signup.
func WithDefaultRoles(roles ...string) Option {
	return func(s *AuthService) { s.defaultRoles = slices.Clone(roles) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService creates a new AuthService. The codec carries the
// process-wide signing key.
func NewAuthService(
	users domain.UserRepository,
	sessions domain.SessionRepository,
	hasher domain.Hasher,
	codec domain.TokenCodec,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		codec:      codec,
		policy:     SessionPolicy{MaxSessions: DefaultMaxSessions},
		sessionTTL: DefaultSessionTTL,
		tokenTTL:   DefaultTokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp hashes the password and stores a new user with the default roles.
func (s *AuthService) SignUp(ctx context.Context, req domain.SignUpRequest) (_ *domain.PublicUser, err error) {
	ctx, span := middleware.StartSpan(ctx, "auth.signup", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("email", req.Email),
	))
	defer span.End()
	defer func() { middleware.RecordAuthOperation("signup", resultLabel(err)) }()

	if req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("signup: email and password are required: %w", ErrInvalidInput)
	}
	if len(req.Password) > MaxPasswordBytes {
		return nil, fmt.Errorf("signup: password longer than %d bytes: %w", MaxPasswordBytes, ErrInvalidInput)
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("signup %q: %w", req.Email, err)
	}

	user, err := s.users.Create(ctx, req.Email, digest, s.defaultRoles)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEmail) {
			span.SetAttributes(attribute.Bool("signup.success", false))
			return nil, fmt.Errorf("signup %q: %w", req.Email, ErrDuplicateEmail)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("insert user: %w", err)
	}

	pub := user.Public()
	span.SetAttributes(
		attribute.Int64("user.id", pub.ID),
		attribute.Bool("signup.success", true),
	)
	span.AddEvent("user.registered")

	return &pub, nil
}

// Login verifies credentials, enforces the session cap, and issues a token
// backed by a new ACTIVE session.
func (s *AuthService) Login(ctx context.Context, req domain.LoginRequest) (_ *domain.AuthResponse, err error) {
	ctx, span := middleware.StartSpan(ctx, "auth.login", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("email", req.Email),
	))
	defer span.End()
	defer func() { middleware.RecordAuthOperation("login", resultLabel(err)) }()

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query user %q: %w", req.Email, err)
	}
	if user == nil {
		span.SetAttributes(attribute.Bool("auth.success", false))
		span.AddEvent("authentication.failed")
		return nil, fmt.Errorf("login %q: %w", req.Email, ErrUserNotFound)
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		span.SetAttributes(attribute.Bool("auth.success", false))
		span.AddEvent("authentication.failed")
		return nil, fmt.Errorf("login %q: %w", req.Email, ErrInvalidCredentials)
	}

	// Token timestamps travel at second precision; truncate so the stored
	// session and the claims agree exactly.
	now := s.now().Truncate(time.Second)

	// Cheap pre-check so an obviously capped user costs no signing work.
	// The authoritative check runs again inside the store, atomically.
	existing, err := s.sessions.ListByUser(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list sessions for user %d: %w", user.ID, err)
	}
	user.Sessions = existing
	if !s.policy.CanIssue(user, now) {
		span.SetAttributes(attribute.Bool("auth.success", false))
		return nil, fmt.Errorf("login %q: %w", req.Email, ErrSessionLimitExceeded)
	}

	claims := domain.Claims{
		TokenID:   uuid.NewString(),
		Subject:   user.ID,
		Email:     user.Email,
		Roles:     user.Roles,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenTTL),
	}
	token, err := s.codec.Sign(claims)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sign token: %w", err)
	}

	session := &domain.Session{
		ID:        claims.TokenID,
		UserID:    user.ID,
		Token:     token,
		Status:    domain.SessionActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	err = s.sessions.CreateIfAllowed(ctx, session, func(current []domain.Session) bool {
		user.Sessions = current
		return s.policy.CanIssue(user, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionRejected) {
			span.SetAttributes(attribute.Bool("auth.success", false))
			return nil, fmt.Errorf("login %q: %w", req.Email, ErrSessionLimitExceeded)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("create session: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("user.id", user.ID),
		attribute.String("session.id", session.ID),
		attribute.Bool("auth.success", true),
	)
	span.AddEvent("user.authenticated")

	return &domain.AuthResponse{Token: token, User: user.Public()}, nil
}

// Logout ends the session identified by (token, userID). Ending an already
// ENDED session succeeds without a write.
func (s *AuthService) Logout(ctx context.Context, token string, userID int64) (err error) {
	ctx, span := middleware.StartSpan(ctx, "auth.logout", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.Int64("user.id", userID),
	))
	defer span.End()
	defer func() { middleware.RecordAuthOperation("logout", resultLabel(err)) }()

	session, err := s.lookup(ctx, token, userID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if session.Status == domain.SessionEnded {
		span.AddEvent("session.already_ended")
		return nil
	}

	session.Status = domain.SessionEnded
	if err := s.sessions.UpdateStatus(ctx, session); err != nil {
		span.RecordError(err)
		return fmt.Errorf("end session %s: %w", session.ID, err)
	}

	span.AddEvent("session.ended")
	return nil
}

// Validate reports the status of the session identified by (token, userID).
//
// Order: missing session fails with ErrSessionNotFound; ENDED returns
// without touching the token; an ACTIVE session past its expiry is
// persisted as ENDED and reported ENDED; otherwise the token must verify
// against the signing key and belong to userID, or ErrTokenInvalid.
func (s *AuthService) Validate(ctx context.Context, token string, userID int64) (_ domain.SessionStatus, err error) {
	ctx, span := middleware.StartSpan(ctx, "auth.validate", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.Int64("user.id", userID),
	))
	defer span.End()
	defer func() { middleware.RecordAuthOperation("validate", resultLabel(err)) }()

	session, err := s.lookup(ctx, token, userID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	if session.Status == domain.SessionEnded {
		span.SetAttributes(attribute.String("session.status", string(domain.SessionEnded)))
		return domain.SessionEnded, nil
	}

	if session.Expired(s.now()) {
		session.Status = domain.SessionEnded
		if err := s.sessions.UpdateStatus(ctx, session); err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("expire session %s: %w", session.ID, err)
		}
		span.AddEvent("session.expired")
		span.SetAttributes(attribute.String("session.status", string(domain.SessionEnded)))
		return domain.SessionEnded, nil
	}

	claims, err := s.codec.Parse(token)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("validate session %s: %w: %v", session.ID, ErrTokenInvalid, err)
	}
	if claims.Subject != userID || claims.TokenID != session.ID {
		return "", fmt.Errorf("validate session %s: %w: claims do not match session", session.ID, ErrTokenInvalid)
	}

	span.SetAttributes(attribute.String("session.status", string(domain.SessionActive)))
	return domain.SessionActive, nil
}

// ListSessions returns the user's sessions, newest first, with expired
// ACTIVE sessions reported as ENDED.
func (s *AuthService) ListSessions(ctx context.Context, userID int64) ([]domain.SessionView, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.list_sessions", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list sessions for user %d: %w", userID, err)
	}

	now := s.now()
	views := make([]domain.SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, domain.SessionView{
			ID:        sessions[i].ID,
			Status:    sessions[i].EffectiveStatus(now),
			CreatedAt: sessions[i].CreatedAt,
			ExpiresAt: sessions[i].ExpiresAt,
		})
	}

	span.SetAttributes(attribute.Int("session.count", len(views)))
	return views, nil
}

func (s *AuthService) lookup(ctx context.Context, token string, userID int64) (*domain.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("lookup session for user %d: %w", userID, ErrSessionNotFound)
	}
	session, err := s.sessions.GetByTokenAndUser(ctx, token, userID)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("lookup session for user %d: %w", userID, ErrSessionNotFound)
	}
	return session, nil
}

package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
	"github.com/duynhne/session-service/internal/core/domain"
	logicv1 "github.com/duynhne/session-service/internal/logic/v1"
	"github.com/duynhne/session-service/middleware"
)

// AuthCookieName is the cookie carrying the issued token.
const AuthCookieName = "auth-token"

// Handler groups HTTP handlers for the auth API v1.
// Dependencies are injected via the constructor — no global state.
type Handler struct {
	auth         *logicv1.AuthService
	cookieTTL    time.Duration
	secureCookie bool
}

// NewHandler creates a new Handler. cookieTTL should match the session TTL
// so the browser drops the cookie when the session expires.
func NewHandler(auth *logicv1.AuthService, cookieTTL time.Duration, secureCookie bool) *Handler {
	return &Handler{auth: auth, cookieTTL: cookieTTL, secureCookie: secureCookie}
}

// RegisterRoutes registers all auth API v1 routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/signup", h.SignUp)
	rg.POST("/auth/login", h.Login)
	rg.POST("/auth/logout", h.Logout)
	rg.POST("/auth/validate", h.Validate)
	rg.GET("/users/:id/sessions", h.ListSessions)
}

// startSpan opens the web-layer span and moves the request onto its context.
func startSpan(c *gin.Context) trace.Span {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	c.Request = c.Request.WithContext(ctx)
	return span
}

// SignUp handles POST /auth/signup.
func (h *Handler) SignUp(c *gin.Context) {
	span := startSpan(c)
	defer span.End()
	ctx := c.Request.Context()
	log := pkgzerolog.FromContext(ctx)

	var req domain.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		log.Warn().Err(err).Msg("Invalid signup request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.auth.SignUp(ctx, req)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("email", req.Email).Msg("Signup failed")
		writeError(c, err)
		return
	}

	log.Info().Int64("user_id", user.ID).Msg("Signup successful")
	c.JSON(http.StatusCreated, user)
}

// Login handles POST /auth/login. The token is returned in the body and as
// the auth-token cookie.
func (h *Handler) Login(c *gin.Context) {
	span := startSpan(c)
	defer span.End()
	ctx := c.Request.Context()
	log := pkgzerolog.FromContext(ctx)

	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		log.Warn().Err(err).Msg("Invalid login request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.auth.Login(ctx, req)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Msg("Login failed")
		writeError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AuthCookieName, resp.Token, int(h.cookieTTL.Seconds()), "/", "", h.secureCookie, true)

	log.Info().Int64("user_id", resp.User.ID).Msg("Login successful")
	c.JSON(http.StatusOK, resp)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	span := startSpan(c)
	defer span.End()
	ctx := c.Request.Context()
	log := pkgzerolog.FromContext(ctx)

	req, ok := bindSessionRequest(c)
	if !ok {
		return
	}

	if err := h.auth.Logout(ctx, req.Token, req.UserID); err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Int64("user_id", req.UserID).Msg("Logout failed")
		writeError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AuthCookieName, "", -1, "/", "", h.secureCookie, true)

	log.Info().Int64("user_id", req.UserID).Msg("Logout successful")
	c.JSON(http.StatusOK, gin.H{"status": string(domain.SessionEnded)})
}

// Validate handles POST /auth/validate.
func (h *Handler) Validate(c *gin.Context) {
	span := startSpan(c)
	defer span.End()
	ctx := c.Request.Context()
	log := pkgzerolog.FromContext(ctx)

	req, ok := bindSessionRequest(c)
	if !ok {
		return
	}

	status, err := h.auth.Validate(ctx, req.Token, req.UserID)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Int64("user_id", req.UserID).Msg("Validation failed")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, domain.ValidateResponse{Status: status})
}

// ListSessions handles GET /users/:id/sessions. The caller must present an
// ACTIVE session of the same user via the auth-token cookie or a Bearer header.
func (h *Handler) ListSessions(c *gin.Context) {
	span := startSpan(c)
	defer span.End()
	ctx := c.Request.Context()
	log := pkgzerolog.FromContext(ctx)

	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	token := requestToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	status, err := h.auth.Validate(ctx, token, userID)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Int64("user_id", userID).Msg("List sessions rejected")
		writeError(c, err)
		return
	}
	if status != domain.SessionActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session ended"})
		return
	}

	views, err := h.auth.ListSessions(ctx, userID)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Int64("user_id", userID).Msg("List sessions failed")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, views)
}

// bindSessionRequest reads {token, user_id}. A missing body token falls back
// to requestToken.
func bindSessionRequest(c *gin.Context) (domain.SessionRequest, bool) {
	var req domain.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}

	if req.Token == "" {
		req.Token = requestToken(c)
	}
	if req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return req, false
	}

	return req, true
}

// requestToken returns the auth-token cookie, else the Authorization: Bearer
// credential, else "".
func requestToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AuthCookieName); err == nil && cookie != "" {
		return cookie
	}
	const bearerPrefix = "Bearer "
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimSpace(auth[len(bearerPrefix):])
	}
	return ""
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, logicv1.ErrInvalidCredentials), errors.Is(err, logicv1.ErrUserNotFound):
		// Don't reveal whether the email exists.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, logicv1.ErrSessionLimitExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Session limit exceeded"})
	case errors.Is(err, logicv1.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, logicv1.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case errors.Is(err, logicv1.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
	case errors.Is(err, logicv1.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// Package v1 provides the authentication and session engine for API version 1.
//
// Error Handling:
// This package defines sentinel errors for every caller-visible failure.
// They are wrapped with context using fmt.Errorf("%w") when returned, so
// callers must match with errors.Is.
//
// Example Usage:
//
//	if user == nil {
//	    return nil, fmt.Errorf("login %q: %w", email, ErrUserNotFound)
//	}
//
// Error Checking (in handlers):
//
//	switch {
//	case errors.Is(err, logicv1.ErrSessionNotFound):
//	    c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
//	case errors.Is(err, logicv1.ErrTokenInvalid):
//	    c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
//	default:
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
//	}
package v1

import "errors"

// Sentinel errors for authentication operations.
// None of them is retried by the engine.
var (
	// ErrInvalidCredentials indicates the password does not match.
	// HTTP Status: 401 Unauthorized
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound indicates no user has the given email.
	// HTTP Status: 401 Unauthorized (don't reveal user existence)
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail indicates the email is already registered.
	// HTTP Status: 409 Conflict
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrSessionLimitExceeded indicates the user already holds the maximum
	// number of live sessions.
	// HTTP Status: 429 Too Many Requests
	ErrSessionLimitExceeded = errors.New("session limit exceeded")

	// ErrSessionNotFound indicates no session matches (token, userId).
	// HTTP Status: 404 Not Found
	ErrSessionNotFound = errors.New("session not found")

	// ErrTokenInvalid indicates a stored ACTIVE session whose token fails
	// signature or claim verification. This points at tampering, not absence.
	// HTTP Status: 401 Unauthorized
	ErrTokenInvalid = errors.New("token invalid")

	// ErrInvalidInput indicates a required argument is empty or a password
	// exceeds MaxPasswordBytes.
	// HTTP Status: 400 Bad Request
	ErrInvalidInput = errors.New("invalid input")
)

// resultLabel maps an engine error to a low-cardinality metrics label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrSessionLimitExceeded):
		return "session_limit_exceeded"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}

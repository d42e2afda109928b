// Package token implements domain.TokenCodec with HS256-signed JWTs.
package token

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/duynhne/session-service/internal/core/domain"
)

// ErrMalformedClaims is returned when a token verifies but lacks a
// required claim.
var ErrMalformedClaims = errors.New("token claims are malformed")

// authClaims is the wire form. createdAt/expiresAt mirror iat/exp under the
// names clients already read.
type authClaims struct {
	Email      string           `json:"email"`
	Roles      []string         `json:"roles"`
	IssuedOn   *jwt.NumericDate `json:"createdAt"`
	ValidUntil *jwt.NumericDate `json:"expiresAt"`
	jwt.RegisteredClaims
}

// JWTCodec signs and verifies tokens with a single symmetric key. It is
// safe for concurrent use; the key is copied at construction and never
// mutated.
type JWTCodec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// Option configures a JWTCodec.
type Option func(*JWTCodec)

// WithIssuer sets the iss claim on signed tokens and requires it on parse.
func WithIssuer(issuer string) Option {
	return func(c *JWTCodec) { c.issuer = issuer }
}

// WithClock overrides the time source used to check exp on parse.
func WithClock(now func() time.Time) Option {
	return func(c *JWTCodec) { c.now = now }
}

// NewJWTCodec creates a codec bound to key.
func NewJWTCodec(key []byte, opts ...Option) (*JWTCodec, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key must not be empty")
	}
	c := &JWTCodec{key: slices.Clone(key), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sign encodes claims into a compact HS256 JWT. Timestamps are carried at
// second precision.
func (c *JWTCodec) Sign(claims domain.Claims) (string, error) {
	if claims.TokenID == "" {
		return "", fmt.Errorf("sign token: %w: missing token id", ErrMalformedClaims)
	}
	created := jwt.NewNumericDate(claims.CreatedAt)
	expires := jwt.NewNumericDate(claims.ExpiresAt)

	wire := authClaims{
		Email:      claims.Email,
		Roles:      claims.Roles,
		IssuedOn:   created,
		ValidUntil: expires,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.TokenID,
			Subject:   strconv.FormatInt(claims.Subject, 10),
			Issuer:    c.issuer,
			IssuedAt:  created,
			ExpiresAt: expires,
		},
	}
	if wire.Roles == nil {
		wire.Roles = []string{}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature, algorithm, and expiry of tokenStr and
// returns its claims.
func (c *JWTCodec) Parse(tokenStr string) (*domain.Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	var wire authClaims
	tok, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &wire, func(t *jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	if wire.ID == "" || wire.Email == "" || wire.IssuedOn == nil || wire.ValidUntil == nil {
		return nil, ErrMalformedClaims
	}
	subject, err := strconv.ParseInt(wire.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %q", ErrMalformedClaims, wire.Subject)
	}

	return &domain.Claims{
		TokenID:   wire.ID,
		Subject:   subject,
		Email:     wire.Email,
		Roles:     wire.Roles,
		CreatedAt: wire.IssuedOn.Time,
		ExpiresAt: wire.ValidUntil.Time,
	}, nil
}

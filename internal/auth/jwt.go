// Package auth provides service-token generation and validation for the runner API.
//
// AUTHENTICATION FLOW OVERVIEW:
// The runner is called by other services (the learning platform's backend),
// never by browsers. When auth.secret is configured:
//  1. The calling service signs a short-lived JWT with the shared secret
//     (client.WithToken, or `runnerctl token` for manual calls)
//  2. It sends it as "Authorization: Bearer <jwt>" on POST /execute
//  3. RequireServiceToken validates it and records the caller in the context
//
// When no secret is configured the middleware is not installed at all.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims (data) → {"sub":"lms-backend","jti":"...","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The runner can verify the signature without any lookup, just the secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

// Issuer is stamped into and required from every token.
const Issuer = "code-runner"

// DefaultTTL is the lifetime of tokens minted by Generate.
const DefaultTTL = 5 * time.Minute

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret shared by the runner and its callers.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: CODERUNNER_AUTH_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload. "sub" names the calling service and "jti" makes
// every token unique so it can be traced in logs.
type claims struct {
	jwt.RegisteredClaims
}

// Generate mints a token for the named calling service with DefaultTTL.
func (s *TokenService) Generate(service string) (string, error) {
	return s.GenerateWithDuration(service, DefaultTTL)
}

// GenerateWithDuration mints a token with a custom lifetime.
// Used in tests and by `runnerctl token --ttl`.
func (s *TokenService) GenerateWithDuration(service string, d time.Duration) (string, error) {
	if service == "" {
		return "", errors.New("auth: service name is required")
	}
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Identity is what a valid token says about its bearer.
type Identity struct {
	Service string
	TokenID string
}

// Validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired, and carries an expiry at all
//   - Issuer matches "code-runner"
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}

	return Identity{Service: c.Subject, TokenID: c.ID}, nil
}

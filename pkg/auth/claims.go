package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultExpiryBuffer compensates for clock skew and network latency:
	// a token that is valid when checked may already be expired by the time
	// the request reaches the server.
	DefaultExpiryBuffer = 30 * time.Second

	// RefreshAdvisoryWindow is how close to expiry a token must be for
	// ShouldRefresh to advise a proactive refresh.
	RefreshAdvisoryWindow = 5 * time.Minute
)

var ErrMalformedToken = errors.New("malformed bearer token")

// Claims are the fields read from a bearer token payload. The token is
// opaque to this client otherwise, signature verification is the server's
// job.
type Claims struct {
	SubjectID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// DecodeClaims parses a JWT-shaped token string without verifying its
// signature. Returns ErrMalformedToken for anything that is not three
// base64 segments carrying a JSON payload. A missing or non-numeric exp
// claim is not a decode error, it leaves ExpiresAt zero and every expiry
// check treats such a token as expired.
func DecodeClaims(token string) (Claims, error) {
	mapClaims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, mapClaims)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	var claims Claims
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.SubjectID = sub
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	return claims, nil
}

// IsExpired reports whether the token cannot be trusted to pass a
// server-side expiry check: undecodable claims, a missing expiry, or an
// expiry inside the buffer window all count as expired.
func IsExpired(token string, now time.Time, buffer time.Duration) bool {
	claims, err := DecodeClaims(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return true
	}

	return !claims.ExpiresAt.After(now.Add(buffer))
}

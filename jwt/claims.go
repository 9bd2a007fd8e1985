package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned by Inspect when the token is not a decodable JWT.
var ErrMalformed = errors.New("malformed access token")

// AccessClaims mirrors the additional claims the auth service embeds in access
// tokens next to the registered ones.
type AccessClaims struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
	jwt.RegisteredClaims
}

var unverifiedParser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Inspect decodes tokenStr without verifying its signature or validity window.
//
// The result must only drive UI decisions. See the package documentation.
func Inspect(tokenStr string) (*AccessClaims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" || strings.Count(tokenStr, ".") != 2 {
		return nil, ErrMalformed
	}

	claims := &AccessClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	return claims, nil
}

// Role returns the role claim of tokenStr, or "" when it cannot be decoded.
func Role(tokenStr string) string {
	claims, err := Inspect(tokenStr)
	if err != nil {
		return ""
	}
	return claims.Role
}

// ExpiresIn returns how long tokenStr has left relative to now. ok is false
// when the token carries no exp claim or cannot be decoded.
func ExpiresIn(tokenStr string, now time.Time) (remaining time.Duration, ok bool) {
	claims, err := Inspect(tokenStr)
	if err != nil || claims.ExpiresAt == nil {
		return 0, false
	}
	return claims.ExpiresAt.Time.Sub(now), true
}

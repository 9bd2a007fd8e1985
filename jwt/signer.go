package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer issues HS256 access tokens shaped like the auth service's.
type Signer struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewSigner validates its inputs and returns a Signer.
func NewSigner(key []byte, ttl time.Duration, issuer string) (*Signer, error) {
	if len(key) < 16 {
		return nil, errors.New("hs256 key must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Signer{key: append([]byte(nil), key...), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// Issue signs an access token for subject with the given profile claims.
func (s *Signer) Issue(subject, username, role string) (string, error) {
	now := s.now()
	claims := AccessClaims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

package tokens

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrPartialPair is returned by Set when exactly one token is empty.
var ErrPartialPair = errors.New("tokens: access and refresh token must both be set")

// Pair is the access/refresh token pair. Both fields are empty or both are set.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether p holds no tokens.
func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Valid reports whether p satisfies the both-or-neither invariant.
func (p Pair) Valid() bool {
	return (p.AccessToken == "") == (p.RefreshToken == "")
}

// Store holds at most one token pair.
//
// Get returns the empty Pair and a nil error when nothing is stored or the
// stored record cannot be decoded. A non-nil error means the backend itself is
// unavailable.
type Store interface {
	Get(ctx context.Context) (Pair, error)
	Set(ctx context.Context, accessToken, refreshToken string) error
	Clear(ctx context.Context) error
}

func checkPair(accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return ErrPartialPair
	}
	return nil
}

func encodeEnvelope(p Pair) ([]byte, error) {
	return json.Marshal(p)
}

// decodeEnvelope never fails: anything unreadable or half-populated is "no tokens".
func decodeEnvelope(data []byte) Pair {
	if len(data) == 0 {
		return Pair{}
	}
	var p Pair
	if err := json.Unmarshal(data, &p); err != nil {
		return Pair{}
	}
	if !p.Valid() {
		return Pair{}
	}
	return p
}

package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key RedisStore uses when none is given.
const DefaultRedisKey = "goSession:tokens"

// RedisStore keeps the pair as a JSON envelope under a single key.
type RedisStore struct {
	redis redis.UniversalClient
	key   string
	ttl   time.Duration
}

// NewRedisStore returns a store writing to key. A ttl of zero keeps the
// envelope until Clear.
func NewRedisStore(client redis.UniversalClient, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{redis: client, key: key, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context) (Pair, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pair{}, nil
		}
		return Pair{}, fmt.Errorf("tokens: redis get: %w", err)
	}
	return decodeEnvelope(data), nil
}

func (s *RedisStore) Set(ctx context.Context, accessToken, refreshToken string) error {
	if err := checkPair(accessToken, refreshToken); err != nil {
		return err
	}
	data, err := encodeEnvelope(Pair{AccessToken: accessToken, RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("tokens: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("tokens: redis del: %w", err)
	}
	return nil
}

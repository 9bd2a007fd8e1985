package tokens

import (
	"context"
	"sync"
)

// MemoryStore keeps the pair in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(context.Context) (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, nil
}

func (s *MemoryStore) Set(_ context.Context, accessToken, refreshToken string) error {
	if err := checkPair(accessToken, refreshToken); err != nil {
		return err
	}
	s.mu.Lock()
	s.pair = Pair{AccessToken: accessToken, RefreshToken: refreshToken}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.pair = Pair{}
	s.mu.Unlock()
	return nil
}

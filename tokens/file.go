package tokens

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the pair as a JSON envelope in a single file.
//
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so readers observe either the old or the new pair.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the envelope location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(context.Context) (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Pair{}, nil
		}
		return Pair{}, fmt.Errorf("tokens: read %s: %w", s.path, err)
	}
	return decodeEnvelope(data), nil
}

func (s *FileStore) Set(_ context.Context, accessToken, refreshToken string) error {
	if err := checkPair(accessToken, refreshToken); err != nil {
		return err
	}
	data, err := encodeEnvelope(Pair{AccessToken: accessToken, RefreshToken: refreshToken})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("tokens: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("tokens: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("tokens: chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("tokens: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("tokens: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("tokens: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("tokens: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokens: remove %s: %w", s.path, err)
	}
	return nil
}

//go:build integration
// +build integration

package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/authapi"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/tokens"
)

// parkingService signs real access tokens and accepts any token it issued
// after the last revoke.
type parkingService struct {
	*httptest.Server
	signer *jwt.Signer

	mu        sync.Mutex
	valid     map[string]bool
	refreshes atomic.Int32
	seq       atomic.Int64
}

func newParkingService(t *testing.T) *parkingService {
	t.Helper()
	signer, err := jwt.NewSigner([]byte("integration-signing-key-012345"), time.Hour, "parking-api")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	s := &parkingService{signer: signer, valid: map[string]bool{}}

	user := map[string]any{"id": 3, "username": "carol", "email": "carol@example.com", "role": "admin", "is_active": true}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+authapi.LoginPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"access_token": s.issue(), "refresh_token": "R-carol", "user": user,
		}})
	})
	mux.HandleFunc("POST "+authapi.RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		s.refreshes.Add(1)
		if r.Header.Get("Authorization") != "Bearer R-carol" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "revoked"})
			return
		}
		time.Sleep(10 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"access_token": s.issue(), "user": user,
		}})
	})
	mux.HandleFunc("POST "+authapi.LogoutPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("GET "+authapi.MePath, s.protected(func(w http.ResponseWriter) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": user})
	}))
	mux.HandleFunc("GET /api/lots", s.protected(func(w http.ResponseWriter) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	}))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *parkingService) issue() string {
	// iat has second precision; the sequence in sub keeps tokens distinct.
	tok, err := s.signer.Issue(fmt.Sprintf("3-%d", s.seq.Add(1)), "carol", "admin")
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.valid[tok] = true
	s.mu.Unlock()
	return tok
}

func (s *parkingService) revokeAll() {
	s.mu.Lock()
	s.valid = map[string]bool{}
	s.mu.Unlock()
}

func (s *parkingService) protected(next func(http.ResponseWriter)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		h := r.Header.Get("Authorization")
		s.mu.Lock()
		ok := len(h) > len(prefix) && s.valid[h[len(prefix):]]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "Token has expired"})
			return
		}
		next(w)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// storeFactory opens a fresh handle onto the same persisted backend, the way
// a restarted process would.
type storeFactory struct {
	name string
	open func(t *testing.T) tokens.Store
}

func storeFactories(t *testing.T) []storeFactory {
	t.Helper()
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	return []storeFactory{
		{name: "file", open: func(t *testing.T) tokens.Store {
			return tokens.NewFileStore(filepath.Join(dir, "tokens.json"))
		}},
		{name: "redis", open: func(t *testing.T) tokens.Store {
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return tokens.NewRedisStore(rdb, "parking_app_tokens", time.Hour)
		}},
		{name: "sqlite", open: func(t *testing.T) tokens.Store {
			db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "tokens.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				t.Fatalf("sql db: %v", err)
			}
			sqlDB.SetMaxOpenConns(1)
			t.Cleanup(func() { _ = sqlDB.Close() })
			store, err := tokens.NewSQLStore(db, "parking_app_tokens")
			if err != nil {
				t.Fatalf("sql store: %v", err)
			}
			return store
		}},
	}
}

func newCoordinator(t *testing.T, baseURL string, store tokens.Store) *goSession.Coordinator {
	t.Helper()
	cfg := goSession.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.Metrics.Enabled = true
	c, err := goSession.New().WithConfig(cfg).WithTokenStore(store).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

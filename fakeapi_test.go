package goSession

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/authapi"
	"github.com/MrEthical07/goSession/jwt"
)

// fakeAPI is an in-process auth service plus one protected resource,
// /api/lots. Only the most recently issued access token is accepted there.
type fakeAPI struct {
	srv    *httptest.Server
	signer *jwt.Signer

	mu        sync.Mutex
	current   string
	role      string
	refreshes atomic.Int32
	logouts   atomic.Int32
	lots      atomic.Int32

	// refreshDelay holds refresh replies so concurrent 401s pile up.
	refreshDelay time.Duration
	failRefresh  atomic.Bool
}

func newFakeAPI(t testing.TB, ttl time.Duration) *fakeAPI {
	t.Helper()

	signer, err := jwt.NewSigner([]byte("0123456789abcdef0123456789abcdef"), ttl, "parking-api")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	f := &fakeAPI{signer: signer, role: "user"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+authapi.LoginPath, f.login)
	mux.HandleFunc("POST "+authapi.RefreshPath, f.refresh)
	mux.HandleFunc("POST "+authapi.LogoutPath, func(w http.ResponseWriter, r *http.Request) {
		f.logouts.Add(1)
		reply(w, http.StatusOK, map[string]any{"success": true, "message": "Logout successful"})
	})
	mux.HandleFunc("GET "+authapi.MePath, func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			reply(w, http.StatusUnauthorized, map[string]any{"msg": "Token has expired"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"success": true, "data": f.user()})
	})
	mux.HandleFunc("GET /api/lots", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			reply(w, http.StatusUnauthorized, map[string]any{"msg": "Token has expired"})
			return
		}
		f.lots.Add(1)
		reply(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) URL() string { return f.srv.URL }

func (f *fakeAPI) user() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]any{"id": 7, "username": "alice", "email": "alice@example.com", "role": f.role, "is_active": true}
}

func (f *fakeAPI) setRole(role string) {
	f.mu.Lock()
	f.role = role
	f.mu.Unlock()
}

func (f *fakeAPI) issue() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, err := f.signer.Issue("7", "alice", f.role)
	if err != nil {
		panic(err)
	}
	f.current = tok
	return tok
}

// revoke makes the current access token stale on the resource server.
func (f *fakeAPI) revoke() {
	f.mu.Lock()
	f.current = "revoked"
	f.mu.Unlock()
}

func (f *fakeAPI) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+f.current
}

func (f *fakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Username != "alice" || body.Password != "correct-password" {
		reply(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid username or password"})
		return
	}
	reply(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Login successful",
		"data":    map[string]any{"access_token": f.issue(), "refresh_token": "R1", "user": f.user()},
	})
}

func (f *fakeAPI) refresh(w http.ResponseWriter, r *http.Request) {
	f.refreshes.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	if f.failRefresh.Load() || !strings.HasSuffix(r.Header.Get("Authorization"), " R1") {
		reply(w, http.StatusUnauthorized, map[string]any{"msg": "Token has been revoked"})
		return
	}
	reply(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Token refreshed successfully",
		"data":    map[string]any{"access_token": f.issue(), "user": f.user()},
	})
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func mustBuild(t *testing.T, b *Builder) *Coordinator {
	t.Helper()
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

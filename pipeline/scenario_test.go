package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goSession/authapi"
	"github.com/MrEthical07/goSession/pipeline"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokens"
)

// parkingAPI is a stand-in auth service plus one protected resource. Only the
// most recently issued access token is accepted.
func parkingAPI(t *testing.T, refreshes *atomic.Int32) *httptest.Server {
	t.Helper()
	var current atomic.Value
	current.Store("A1")

	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	alice := map[string]any{"id": 1, "username": "alice", "email": "alice@example.com", "role": "user", "is_active": true}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+authapi.LoginPath, func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Login successful",
			"data":    map[string]any{"access_token": "A1", "refresh_token": "R1", "user": alice},
		})
		// A1 expires immediately after being issued.
		current.Store("A1-expired")
	})
	mux.HandleFunc("POST "+authapi.RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		if r.Header.Get("Authorization") != "Bearer R1" {
			reply(w, http.StatusUnauthorized, map[string]any{"msg": "bad refresh token"})
			return
		}
		current.Store("A2")
		reply(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Token refreshed successfully",
			"data":    map[string]any{"access_token": "A2", "user": alice},
		})
	})
	mux.HandleFunc("GET /api/lots", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+current.Load().(string) {
			reply(w, http.StatusUnauthorized, map[string]any{"msg": "Token has expired"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExpiredAccessTokenIsRefreshedTransparently(t *testing.T) {
	var refreshes atomic.Int32
	srv := parkingAPI(t, &refreshes)
	ctx := context.Background()

	remote, err := authapi.New(authapi.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	store := tokens.NewMemoryStore()
	sess, err := session.New(session.Deps{Remote: remote, Tokens: store})
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.Deps{Session: sess})
	require.NoError(t, err)

	_, err = sess.Login(ctx, session.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/lots", nil)
	require.NoError(t, err)
	resp, err := p.Client(10 * time.Second).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, refreshes.Load())

	pair, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, tokens.Pair{AccessToken: "A2", RefreshToken: "R1"}, pair)

	st := sess.Snapshot()
	assert.Equal(t, session.Authenticated, st.Phase)
	assert.Equal(t, "alice", st.User.Username)
}

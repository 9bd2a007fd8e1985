package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrEthical07/goSession/autherr"
	"github.com/MrEthical07/goSession/tokens"
)

const (
	msgLoginFailed        = "Login failed"
	msgRegistrationFailed = "Registration failed"
	msgRefreshFailed      = "Token refresh failed"
	msgSessionExpired     = "Session expired"
)

// ErrStale marks a refresh whose result was dropped because the session was
// logged out or logged in again while it was in flight. The newer state
// stands and must not be torn down.
var ErrStale = errors.New("session: refresh superseded")

// Deps wires a Session to its collaborators.
type Deps struct {
	Remote Remote
	Tokens tokens.Store
	Logger *slog.Logger
}

// Session is the in-memory authentication state plus the transactions that
// mutate it. It is safe for concurrent use.
type Session struct {
	remote Remote
	store  tokens.Store
	log    *slog.Logger

	mu      sync.Mutex
	phase   Phase
	user    *User
	lastErr string
	gen     uint64
}

// New returns an anonymous Session.
func New(deps Deps) (*Session, error) {
	if deps.Remote == nil {
		return nil, errors.New("session: remote required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("session: token store required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{remote: deps.Remote, store: deps.Tokens, log: log}, nil
}

// Snapshot returns the current state. The returned user is a copy.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Phase: s.phase, User: s.user.clone(), Error: s.lastErr}
}

// ClearError drops the error annotation.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}

// Tokens returns the persisted pair.
func (s *Session) Tokens(ctx context.Context) (tokens.Pair, error) {
	return s.store.Get(ctx)
}

// Login authenticates against the auth service. On failure the previous
// session, if any, is left untouched and the server message is recorded as the
// error annotation.
func (s *Session) Login(ctx context.Context, creds Credentials) (*User, error) {
	s.mu.Lock()
	if s.phase == Anonymous {
		s.phase = Authenticating
	}
	s.lastErr = ""
	s.mu.Unlock()

	res, err := s.remote.Login(ctx, creds)
	if err == nil && (res == nil || res.AccessToken == "" || res.RefreshToken == "") {
		err = autherr.New(autherr.ServerError, "Login response did not include tokens")
	}
	if err != nil {
		s.fail(autherr.MessageOf(err, msgLoginFailed))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(context.WithoutCancel(ctx), res.AccessToken, res.RefreshToken); err != nil {
		s.settleLocked()
		s.lastErr = msgLoginFailed
		return nil, fmt.Errorf("session: persist tokens: %w", err)
	}
	s.gen++
	s.user = res.User.clone()
	s.phase = Authenticated
	return s.user.clone(), nil
}

// Register creates an account. It never establishes a session.
func (s *Session) Register(ctx context.Context, reg Registration) (RegistrationResult, error) {
	res, err := s.remote.Register(ctx, reg)
	if err != nil {
		msg := autherr.MessageOf(err, msgRegistrationFailed)
		s.mu.Lock()
		s.lastErr = msg
		s.mu.Unlock()

		out := RegistrationResult{Message: msg}
		var ae *autherr.Error
		if errors.As(err, &ae) && len(ae.Fields) > 0 {
			out.Fields = ae.Fields
		}
		return out, err
	}
	if res == nil {
		return RegistrationResult{Success: true}, nil
	}
	return *res, nil
}

// Logout tears the session down locally and then tells the auth service on a
// best-effort basis. A remote failure is logged and never returned.
func (s *Session) Logout(ctx context.Context) {
	pair, err := s.store.Get(ctx)
	if err != nil {
		s.log.Warn("goSession: reading tokens before logout failed", "error", err)
	}

	s.teardown(ctx, "")

	if pair.AccessToken == "" {
		return
	}
	if err := s.remote.Logout(ctx, pair.AccessToken); err != nil {
		s.log.Warn("goSession: remote logout failed", "error", err)
	}
}

// Refresh exchanges the refresh token for a new access token and returns it.
//
// The refresh token is kept unless the server rotated it. On failure the
// session is torn down and a RefreshFailed (or SessionExpired when there was
// no refresh token) error is returned. Callers that need single-flight
// semantics go through the pipeline instead of calling this directly.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	pair, err := s.store.Get(ctx)
	if err != nil || pair.RefreshToken == "" {
		s.teardown(ctx, msgSessionExpired)
		return "", autherr.Wrap(autherr.SessionExpired, msgSessionExpired, err)
	}

	s.mu.Lock()
	gen := s.gen
	if s.phase == Authenticated {
		s.phase = Refreshing
	}
	s.mu.Unlock()

	res, err := s.remote.Refresh(ctx, pair.RefreshToken)
	if err == nil && (res == nil || res.AccessToken == "") {
		err = autherr.New(autherr.RefreshFailed, msgRefreshFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		// Logged out or logged in again while the call was in flight.
		return "", autherr.Wrap(autherr.SessionExpired, msgSessionExpired, ErrStale)
	}
	if err != nil {
		s.teardownLocked(ctx, msgSessionExpired)
		return "", asRefreshFailure(err)
	}

	refresh := pair.RefreshToken
	if res.RefreshToken != "" {
		refresh = res.RefreshToken
	}
	if err := s.store.Set(context.WithoutCancel(ctx), res.AccessToken, refresh); err != nil {
		s.teardownLocked(ctx, msgSessionExpired)
		return "", autherr.Wrap(autherr.RefreshFailed, msgRefreshFailed, err)
	}
	if res.User != nil {
		s.user = res.User.clone()
	}
	s.settleLocked()
	s.lastErr = ""
	return res.AccessToken, nil
}

// Reconcile asks the auth service who the current token belongs to. A stale,
// revoked, or unverifiable token tears the session down.
func (s *Session) Reconcile(ctx context.Context) error {
	pair, err := s.store.Get(ctx)
	if err != nil {
		s.teardown(ctx, "")
		return fmt.Errorf("session: read tokens: %w", err)
	}
	if pair.Empty() {
		s.mu.Lock()
		if s.user != nil || s.phase != Anonymous {
			s.gen++
			s.user = nil
			s.phase = Anonymous
		}
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	user, err := s.remote.Me(ctx, pair.AccessToken)
	if err == nil && user == nil {
		err = autherr.New(autherr.SessionExpired, "Session is no longer valid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		if err != nil {
			return err
		}
		return nil
	}
	if err != nil {
		s.log.Warn("goSession: reconcile failed, clearing session", "error", err)
		s.teardownLocked(ctx, "")
		return err
	}
	s.user = user.clone()
	if s.phase != Refreshing {
		s.phase = Authenticated
	}
	return nil
}

// Restore reconciles a session persisted by a previous process, if any.
func (s *Session) Restore(ctx context.Context) error {
	pair, err := s.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("session: read tokens: %w", err)
	}
	if pair.Empty() {
		return nil
	}
	return s.Reconcile(ctx)
}

// Expire tears the session down after the pipeline gave up on it.
func (s *Session) Expire(ctx context.Context, cause error) {
	if cause != nil {
		s.log.Info("goSession: session expired", "cause", cause)
	}
	s.teardown(ctx, msgSessionExpired)
}

func (s *Session) fail(msg string) {
	s.mu.Lock()
	s.settleLocked()
	s.lastErr = msg
	s.mu.Unlock()
}

// settleLocked maps the transient phases back onto the stable ones.
func (s *Session) settleLocked() {
	if s.user != nil {
		s.phase = Authenticated
		return
	}
	s.phase = Anonymous
}

func (s *Session) teardown(ctx context.Context, annotation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(ctx, annotation)
}

func (s *Session) teardownLocked(ctx context.Context, annotation string) {
	s.gen++
	s.user = nil
	s.phase = Anonymous
	s.lastErr = annotation
	if err := s.store.Clear(context.WithoutCancel(ctx)); err != nil {
		s.log.Error("goSession: clearing tokens failed", "error", err)
	}
}

func asRefreshFailure(err error) error {
	switch autherr.KindOf(err) {
	case autherr.RefreshFailed, autherr.SessionExpired:
		return err
	}
	return autherr.Wrap(autherr.RefreshFailed, autherr.MessageOf(err, msgRefreshFailed), err)
}

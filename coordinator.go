package goSession

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/autherr"
	"github.com/MrEthical07/goSession/guard"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/pipeline"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokens"
)

// Coordinator owns one client session: its state machine, the request
// pipeline in front of every authenticated call, and the navigation guard.
// It is safe for concurrent use.
type Coordinator struct {
	config  Config
	session *session.Session
	pipe    *pipeline.Pipeline
	client  *http.Client
	store   tokens.Store
	table   *guard.Table
	paths   guard.Paths
	log     *slog.Logger
	metrics *Metrics
	audit   *audit.Dispatcher

	mu        sync.Mutex
	onExpired []func(loginPath string)
	autoStop  context.CancelFunc
	autoDone  chan struct{}
	closed    bool
}

// ErrAutoRefreshRunning is returned by StartAutoRefresh when a loop is
// already active.
var ErrAutoRefreshRunning = errors.New("goSession: auto refresh already running")

// ErrClosed is returned by operations on a closed Coordinator.
var ErrClosed = errors.New("goSession: coordinator closed")

/*
====================================
TRANSACTIONS
====================================
*/

// Login authenticates with the auth service and establishes the session.
func (c *Coordinator) Login(ctx context.Context, creds session.Credentials) (*session.User, error) {
	user, err := c.session.Login(ctx, creds)
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.emit(ctx, AuditEvent{
			EventType: AuditLoginFailure,
			Username:  creds.Username,
			Error:     autherr.KindOf(err).String(),
		})
		return nil, err
	}
	c.metrics.Inc(MetricLoginSuccess)
	c.emit(ctx, userEvent(AuditLoginSuccess, user, true))
	return user, nil
}

// Register creates an account without logging in.
func (c *Coordinator) Register(ctx context.Context, reg session.Registration) (session.RegistrationResult, error) {
	res, err := c.session.Register(ctx, reg)
	ev := AuditEvent{EventType: AuditRegister, Username: reg.Username, Success: err == nil}
	if err != nil {
		c.metrics.Inc(MetricRegisterFailure)
		ev.Error = autherr.KindOf(err).String()
	} else {
		c.metrics.Inc(MetricRegisterSuccess)
	}
	c.emit(ctx, ev)
	return res, err
}

// Logout ends the session. It never fails: the remote call is best effort
// and local teardown is unconditional.
func (c *Coordinator) Logout(ctx context.Context) {
	prev := c.session.Snapshot()
	c.session.Logout(ctx)
	c.metrics.Inc(MetricLogout)
	c.emit(ctx, userEvent(AuditLogout, prev.User, true))
}

// Refresh renews the access token, joining any refresh already in flight.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	return c.pipe.Refresh(ctx)
}

// Reconcile re-reads the current user from the auth service.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	err := c.session.Reconcile(ctx)
	c.recordReconcile(ctx, err)
	return err
}

// Restore picks up a session persisted by an earlier process.
func (c *Coordinator) Restore(ctx context.Context) error {
	err := c.session.Restore(ctx)
	if st := c.session.Snapshot(); st.Authenticated() || err != nil {
		c.recordReconcile(ctx, err)
	}
	return err
}

func (c *Coordinator) recordReconcile(ctx context.Context, err error) {
	st := c.session.Snapshot()
	ev := userEvent(AuditReconcile, st.User, err == nil)
	if err != nil {
		c.metrics.Inc(MetricReconcileFailure)
		ev.Error = autherr.KindOf(err).String()
	} else {
		c.metrics.Inc(MetricReconcileSuccess)
	}
	c.emit(ctx, ev)
}

/*
====================================
ACCESSORS
====================================
*/

// State returns a snapshot of the session.
func (c *Coordinator) State() session.State {
	return c.session.Snapshot()
}

// ClearError drops the session's error annotation.
func (c *Coordinator) ClearError() {
	c.session.ClearError()
}

// IsAdmin reports whether the session user is an admin.
func (c *Coordinator) IsAdmin() bool {
	return c.session.Snapshot().Role() == session.RoleAdmin
}

// IsUser reports whether the session user has the plain user role.
func (c *Coordinator) IsUser() bool {
	return c.session.Snapshot().Role() == session.RoleUser
}

// TokenRole reads the role claim from the stored access token without
// verifying it. For UI routing only.
func (c *Coordinator) TokenRole(ctx context.Context) string {
	pair, err := c.store.Get(ctx)
	if err != nil || pair.AccessToken == "" {
		return ""
	}
	return jwt.Role(pair.AccessToken)
}

// Paths returns the configured landing pages.
func (c *Coordinator) Paths() guard.Paths {
	return c.paths
}

// Routes returns the route table consulted by Navigate.
func (c *Coordinator) Routes() *guard.Table {
	return c.table
}

// MetricsSnapshot implements the exporters' metrics source.
func (c *Coordinator) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped returns how many audit events were discarded.
func (c *Coordinator) AuditDropped() uint64 {
	return c.audit.Dropped()
}

/*
====================================
NAVIGATION
====================================
*/

// Navigate decides whether target may be reached, using the route table to
// find its requirement.
func (c *Coordinator) Navigate(ctx context.Context, target string) guard.Decision {
	req, _ := c.table.Lookup(target)
	return c.NavigateTo(ctx, req, target)
}

// NavigateTo decides whether target may be reached under req. When tokens
// exist but no user is loaded the session is reconciled first; a failed
// reconcile leaves the session anonymous and the decision is made on that.
func (c *Coordinator) NavigateTo(ctx context.Context, req guard.Requirement, target string) guard.Decision {
	st := c.session.Snapshot()
	if !st.Authenticated() {
		if pair, err := c.store.Get(ctx); err == nil && !pair.Empty() {
			if err := c.Reconcile(ctx); err != nil {
				c.log.Debug("goSession: reconcile before navigation failed", "target", target, "error", err)
			}
			st = c.session.Snapshot()
		}
	}

	d := c.paths.Decide(req, guard.View{Authenticated: st.Authenticated(), Role: string(st.Role())}, target)
	if d.Allow {
		c.metrics.Inc(MetricNavigationAllowed)
		return d
	}

	c.metrics.Inc(MetricNavigationRedirected)
	ev := userEvent(AuditNavigationRedirect, st.User, true)
	ev.Metadata = map[string]string{"target": target, "redirect": d.Redirect}
	c.emit(ctx, ev)
	return d
}

/*
====================================
HTTP
====================================
*/

// HTTPClient returns the client every authenticated call should use.
func (c *Coordinator) HTTPClient() *http.Client {
	return c.client
}

// Do sends req through the pipeline.
func (c *Coordinator) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

/*
====================================
BACKGROUND
====================================
*/

// OnSessionExpired registers fn to run whenever the pipeline expires the
// session. fn receives the login path.
func (c *Coordinator) OnSessionExpired(fn func(loginPath string)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onExpired = append(c.onExpired, fn)
	c.mu.Unlock()
}

// StartAutoRefresh keeps the access token fresh in the background. It
// refreshes every interval (Refresh.Interval when zero) or earlier when the
// token's exp claim comes within Refresh.Skew. The loop ends when ctx is
// done, the session becomes anonymous, a refresh fails, or
// StopAutoRefresh/Close is called.
func (c *Coordinator) StartAutoRefresh(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = c.config.Refresh.Interval
	}
	if interval <= 0 {
		return errors.New("goSession: auto refresh interval must be > 0")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.autoDone != nil {
		select {
		case <-c.autoDone:
		default:
			return ErrAutoRefreshRunning
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.autoStop = cancel
	c.autoDone = done

	go func() {
		defer close(done)
		defer cancel()
		c.autoRefresh(loopCtx, interval)
	}()
	return nil
}

// StopAutoRefresh stops the loop started by StartAutoRefresh and waits for
// it to exit.
func (c *Coordinator) StopAutoRefresh() {
	c.mu.Lock()
	stop, done := c.autoStop, c.autoDone
	c.autoStop, c.autoDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

func (c *Coordinator) autoRefresh(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(c.nextRefresh(ctx, interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		pair, err := c.store.Get(ctx)
		if err != nil || pair.RefreshToken == "" {
			c.log.Debug("goSession: auto refresh stopped, no session")
			return
		}
		if _, err := c.pipe.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("goSession: auto refresh failed", "error", err)
			return
		}

		timer.Reset(c.nextRefresh(ctx, interval))
	}
}

// nextRefresh is interval, shortened so the refresh lands Skew before the
// access token's exp claim.
func (c *Coordinator) nextRefresh(ctx context.Context, interval time.Duration) time.Duration {
	pair, err := c.store.Get(ctx)
	if err != nil || pair.AccessToken == "" {
		return interval
	}
	left, ok := jwt.ExpiresIn(pair.AccessToken, time.Now())
	if !ok {
		return interval
	}
	wait := left - c.config.Refresh.Skew
	if wait < 0 {
		wait = 0
	}
	if wait < interval {
		return wait
	}
	return interval
}

// Close stops background work and flushes the audit dispatcher. The
// session and its persisted tokens are left as they are.
func (c *Coordinator) Close() {
	c.StopAutoRefresh()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.audit.Close()
}

/*
====================================
PIPELINE HOOKS
====================================
*/

func (c *Coordinator) pipelineHooks() pipeline.Hooks {
	return pipeline.Hooks{
		RefreshFinished: func(d time.Duration, err error) {
			c.metrics.Observe(MetricRefreshLatency, d)
			st := c.session.Snapshot()
			if err != nil {
				c.metrics.Inc(MetricRefreshFailure)
				ev := userEvent(AuditRefreshFailure, st.User, false)
				ev.Error = autherr.KindOf(err).String()
				c.emit(context.Background(), ev)
				return
			}
			c.metrics.Inc(MetricRefreshSuccess)
			c.emit(context.Background(), userEvent(AuditRefreshSuccess, st.User, true))
		},
		Queued: func() {
			c.metrics.Inc(MetricRefreshQueued)
		},
		Retried: func() {
			c.metrics.Inc(MetricRequestRetried)
		},
		RetryCeiling: func() {
			c.metrics.Inc(MetricRetryCeiling)
			c.emit(context.Background(), AuditEvent{EventType: AuditRetryCeiling})
		},
		Expired: func(cause error) {
			c.metrics.Inc(MetricSessionExpired)
			ev := AuditEvent{EventType: AuditSessionExpired}
			if cause != nil {
				ev.Metadata = map[string]string{"cause": cause.Error()}
			}
			c.emit(context.Background(), ev)

			c.mu.Lock()
			hooks := append([]func(string){}, c.onExpired...)
			c.mu.Unlock()
			for _, fn := range hooks {
				fn(c.paths.Login)
			}
		},
	}
}

func (c *Coordinator) emit(ctx context.Context, ev AuditEvent) {
	if c.audit == nil {
		return
	}
	if id := requestIDFromContext(ctx); id != "" {
		if ev.Metadata == nil {
			ev.Metadata = map[string]string{}
		}
		ev.Metadata["request_id"] = id
	}
	c.audit.Emit(ctx, ev)
}

func userEvent(eventType string, u *session.User, success bool) AuditEvent {
	ev := AuditEvent{EventType: eventType, Success: success}
	if u != nil {
		ev.UserID = string(u.ID)
		ev.Username = u.Username
		ev.Role = string(u.Role)
	}
	return ev
}

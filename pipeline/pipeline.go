package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goSession/autherr"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokens"
)

// RequestIDHeader is added to requests that do not carry one.
const RequestIDHeader = "X-Request-Id"

// DefaultRefreshTimeout bounds a refresh when Deps leaves it unset.
const DefaultRefreshTimeout = 10 * time.Second

// Session is the part of session.Session the pipeline drives.
type Session interface {
	Tokens(ctx context.Context) (tokens.Pair, error)
	Refresh(ctx context.Context) (string, error)
	Expire(ctx context.Context, cause error)
}

// Hooks observe the refresh algorithm. Nil hooks are skipped.
type Hooks struct {
	RefreshStarted  func()
	RefreshFinished func(d time.Duration, err error)
	Queued          func()
	Retried         func()
	RetryCeiling    func()
	Expired         func(cause error)
}

// Deps wires a Pipeline.
type Deps struct {
	Session Session
	// Transport sends the actual requests. Defaults to http.DefaultTransport.
	Transport      http.RoundTripper
	RefreshTimeout time.Duration
	Logger         *slog.Logger
	Hooks          Hooks
}

// Pipeline is an http.RoundTripper that owns the refresh lock and the queue of
// calls waiting on it.
type Pipeline struct {
	sess           Session
	base           http.RoundTripper
	refreshTimeout time.Duration
	log            *slog.Logger
	hooks          Hooks

	mu         sync.Mutex
	refreshing bool
	queue      []*waiter
	// epoch counts successful refreshes. A 401 for a request dispatched in an
	// earlier epoch is replayed without refreshing again.
	epoch uint64
}

type waiter struct {
	req  *http.Request // nil when only the token is wanted
	body []byte
	done chan outcome
}

type outcome struct {
	resp  *http.Response
	token string
	err   error
}

// New returns a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Session == nil {
		return nil, errors.New("pipeline: session required")
	}
	base := deps.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	timeout := deps.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		sess:           deps.Session,
		base:           base,
		refreshTimeout: timeout,
		log:            log,
		hooks:          deps.Hooks,
	}, nil
}

// Client returns an http.Client routed through the pipeline. A zero timeout
// means no client-level timeout.
func (p *Pipeline) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: p, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	req = req.Clone(req.Context())
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	resp, epoch, err := p.send(req, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)
	return p.recover(req, body, epoch)
}

// Refresh joins the single refresh flight, starting one if none is running,
// and returns the resulting access token.
func (p *Pipeline) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.refreshing {
		w := &waiter{done: make(chan outcome, 1)}
		p.queue = append(p.queue, w)
		p.mu.Unlock()
		p.hooks.queued()

		select {
		case o := <-w.done:
			return o.token, o.err
		case <-ctx.Done():
			return "", autherr.Wrap(autherr.NetworkError, "Refresh wait cancelled", ctx.Err())
		}
	}
	p.refreshing = true
	p.mu.Unlock()

	return p.lead(ctx)
}

// Refreshing reports whether a refresh is in flight.
func (p *Pipeline) Refreshing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshing
}

func (p *Pipeline) recover(req *http.Request, body []byte, sentEpoch uint64) (*http.Response, error) {
	ctx := req.Context()

	pair, err := p.sess.Tokens(ctx)
	if err != nil || pair.RefreshToken == "" {
		if err == nil {
			err = errors.New("no refresh token")
		}
		p.expire(ctx, err)
		return nil, autherr.Wrap(autherr.SessionExpired, "Session expired", err)
	}

	p.mu.Lock()
	if p.epoch != sentEpoch && !p.refreshing {
		p.mu.Unlock()
		return p.replay(req, body)
	}
	if p.refreshing {
		w := &waiter{req: req, body: body, done: make(chan outcome, 1)}
		p.queue = append(p.queue, w)
		p.mu.Unlock()
		p.hooks.queued()

		select {
		case o := <-w.done:
			return o.resp, o.err
		case <-ctx.Done():
			go drainLate(w.done)
			return nil, autherr.Wrap(autherr.NetworkError, "Request cancelled while waiting for refresh", ctx.Err())
		}
	}
	p.refreshing = true
	p.mu.Unlock()

	if _, err := p.lead(ctx); err != nil {
		return nil, err
	}
	return p.replay(req, body)
}

// lead runs the refresh as the lock holder and settles every queued waiter.
func (p *Pipeline) lead(ctx context.Context) (string, error) {
	p.hooks.refreshStarted()
	start := time.Now()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
	token, err := p.sess.Refresh(rctx)
	cancel()
	p.hooks.refreshFinished(time.Since(start), err)

	p.mu.Lock()
	queue := p.queue
	p.queue = nil
	p.refreshing = false
	if err == nil {
		p.epoch++
	}
	p.mu.Unlock()

	if err != nil {
		expired := err
		if autherr.KindOf(err) != autherr.SessionExpired {
			expired = autherr.Wrap(autherr.SessionExpired, "Session expired", err)
		}
		for _, w := range queue {
			w.done <- outcome{err: expired}
		}
		if errors.Is(err, session.ErrStale) {
			// A logout or new login already replaced the session.
			p.log.Debug("goSession: refresh superseded", "waiters", len(queue))
			return "", expired
		}
		p.log.Warn("goSession: token refresh failed", "error", err, "waiters", len(queue))
		p.expire(ctx, err)
		return "", expired
	}

	for _, w := range queue {
		if w.req == nil {
			w.done <- outcome{token: token}
			continue
		}
		if cerr := w.req.Context().Err(); cerr != nil {
			w.done <- outcome{err: autherr.Wrap(autherr.NetworkError, "Request cancelled while waiting for refresh", cerr)}
			continue
		}
		resp, err := p.replay(w.req, w.body)
		w.done <- outcome{resp: resp, err: err}
	}
	return token, nil
}

// replay sends a request for the second and last time.
func (p *Pipeline) replay(req *http.Request, body []byte) (*http.Response, error) {
	p.hooks.retried()
	resp, _, err := p.send(req, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		p.hooks.retryCeiling()
		return nil, &autherr.Error{
			Kind:    autherr.Unauthorized,
			Message: "Unauthorized",
			Status:  http.StatusUnauthorized,
		}
	}
	return resp, nil
}

func (p *Pipeline) send(req *http.Request, body []byte) (*http.Response, uint64, error) {
	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()

	ctx := req.Context()
	pair, err := p.sess.Tokens(ctx)
	if err != nil {
		p.log.Warn("goSession: reading tokens failed, sending without credentials", "error", err)
	}

	out := req.Clone(ctx)
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}
	if pair.AccessToken != "" {
		out.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}

	resp, err := p.base.RoundTrip(out)
	if err != nil {
		msg := "Network error"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "Network error: request timed out"
		}
		return nil, epoch, autherr.Wrap(autherr.NetworkError, msg, err)
	}
	return resp, epoch, nil
}

func (p *Pipeline) expire(ctx context.Context, cause error) {
	p.sess.Expire(ctx, cause)
	p.hooks.expired(cause)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read request body: %w", err)
	}
	return body, nil
}

// drainLate closes a response the lock holder replays for a waiter that has
// already given up. Every queued waiter receives exactly one outcome.
func drainLate(done <-chan outcome) {
	if o := <-done; o.resp != nil {
		discard(o.resp)
	}
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func (h Hooks) refreshStarted() {
	if h.RefreshStarted != nil {
		h.RefreshStarted()
	}
}

func (h Hooks) refreshFinished(d time.Duration, err error) {
	if h.RefreshFinished != nil {
		h.RefreshFinished(d, err)
	}
}

func (h Hooks) queued() {
	if h.Queued != nil {
		h.Queued()
	}
}

func (h Hooks) retried() {
	if h.Retried != nil {
		h.Retried()
	}
}

func (h Hooks) retryCeiling() {
	if h.RetryCeiling != nil {
		h.RetryCeiling()
	}
}

func (h Hooks) expired(cause error) {
	if h.Expired != nil {
		h.Expired(cause)
	}
}

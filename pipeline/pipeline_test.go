package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goSession/autherr"
	"github.com/MrEthical07/goSession/tokens"
)

type fakeSession struct {
	mu   sync.Mutex
	pair tokens.Pair

	gate    chan struct{}
	next    string
	failure error

	refreshCalls atomic.Int32
	expired      atomic.Int32
}

func (f *fakeSession) Tokens(context.Context) (tokens.Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pair, nil
}

func (f *fakeSession) Refresh(ctx context.Context) (string, error) {
	f.refreshCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		f.pair = tokens.Pair{}
		return "", f.failure
	}
	f.pair.AccessToken = f.next
	return f.next, nil
}

func (f *fakeSession) Expire(context.Context, error) {
	f.expired.Add(1)
	f.mu.Lock()
	f.pair = tokens.Pair{}
	f.mu.Unlock()
}

// resource accepts only the current valid token and records every request
// that got through.
type resource struct {
	valid atomic.Value

	mu   sync.Mutex
	seen []string
}

func newResource(t *testing.T, valid string) (*resource, *httptest.Server) {
	t.Helper()
	r := &resource{}
	r.valid.Store(valid)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer "+r.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.seen = append(r.seen, req.URL.Path)
		r.mu.Unlock()
		w.Header().Set("X-Seen-Request-Id", req.Header.Get(RequestIDHeader))
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *resource) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func newPipeline(t *testing.T, sess Session, hooks Hooks) *Pipeline {
	t.Helper()
	p, err := New(Deps{Session: sess, Hooks: hooks, RefreshTimeout: 5 * time.Second})
	require.NoError(t, err)
	return p
}

func get(t *testing.T, ctx context.Context, c *http.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	return c.Do(req)
}

func TestNewRequiresSession(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestAttachesBearerWithoutMutatingRequest(t *testing.T) {
	sess := &fakeSession{pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"}}
	_, srv := newResource(t, "A1")
	p := newPipeline(t, sess, Hooks{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/lots", nil)
	require.NoError(t, err)
	resp, err := p.Client(time.Second).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Seen-Request-Id"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get(RequestIDHeader))
	assert.Zero(t, sess.refreshCalls.Load())
}

func TestSingleFlightRefresh(t *testing.T) {
	const n = 20
	sess := &fakeSession{
		pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"},
		gate: make(chan struct{}),
		next: "A2",
	}
	res, srv := newResource(t, "A2")

	var queued atomic.Int32
	p := newPipeline(t, sess, Hooks{Queued: func() { queued.Add(1) }})
	client := p.Client(10 * time.Second)

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, context.Background(), client, srv.URL+"/bookings")
			if err == nil {
				if resp.StatusCode != http.StatusOK {
					err = errors.New(resp.Status)
				}
				resp.Body.Close()
			}
			results <- err
		}()
	}

	require.Eventually(t, func() bool { return queued.Load() == n-1 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, p.Refreshing())
	close(sess.gate)
	wg.Wait()
	close(results)

	for err := range results {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, sess.refreshCalls.Load())
	assert.Len(t, res.order(), n)
	assert.False(t, p.Refreshing())
}

func TestQueuedCallsReplayInArrivalOrder(t *testing.T) {
	sess := &fakeSession{
		pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"},
		gate: make(chan struct{}),
		next: "A2",
	}
	res, srv := newResource(t, "A2")

	var queued, started atomic.Int32
	p := newPipeline(t, sess, Hooks{
		Queued:         func() { queued.Add(1) },
		RefreshStarted: func() { started.Add(1) },
	})
	client := p.Client(10 * time.Second)

	var wg sync.WaitGroup
	fire := func(path string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, context.Background(), client, srv.URL+path)
			if assert.NoError(t, err) {
				resp.Body.Close()
			}
		}()
	}

	fire("/leader")
	require.Eventually(t, func() bool { return started.Load() == 1 }, 5*time.Second, time.Millisecond)
	for i, path := range []string{"/first", "/second", "/third"} {
		fire(path)
		want := int32(i + 1)
		require.Eventually(t, func() bool { return queued.Load() == want }, 5*time.Second, time.Millisecond)
	}
	close(sess.gate)
	wg.Wait()

	assert.Equal(t, []string{"/first", "/second", "/third", "/leader"}, res.order())
}

func TestRetryCeiling(t *testing.T) {
	sess := &fakeSession{pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"}, next: "A2"}
	_, srv := newResource(t, "never")

	var ceiling, retried atomic.Int32
	p := newPipeline(t, sess, Hooks{
		RetryCeiling: func() { ceiling.Add(1) },
		Retried:      func() { retried.Add(1) },
	})

	_, err := get(t, context.Background(), p.Client(time.Second), srv.URL+"/x")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)
	assert.EqualValues(t, 1, sess.refreshCalls.Load())
	assert.EqualValues(t, 1, retried.Load())
	assert.EqualValues(t, 1, ceiling.Load())
	assert.Zero(t, sess.expired.Load())
}

func TestUnauthorizedWithoutRefreshTokenExpires(t *testing.T) {
	sess := &fakeSession{}
	_, srv := newResource(t, "A1")

	var expired atomic.Int32
	p := newPipeline(t, sess, Hooks{Expired: func(error) { expired.Add(1) }})

	_, err := get(t, context.Background(), p.Client(time.Second), srv.URL+"/x")
	require.ErrorIs(t, err, autherr.ErrSessionExpired)
	assert.Zero(t, sess.refreshCalls.Load())
	assert.EqualValues(t, 1, sess.expired.Load())
	assert.EqualValues(t, 1, expired.Load())
}

func TestRefreshFailureRejectsEveryWaiter(t *testing.T) {
	const n = 8
	sess := &fakeSession{
		pair:    tokens.Pair{AccessToken: "A1", RefreshToken: "R1"},
		gate:    make(chan struct{}),
		failure: autherr.New(autherr.RefreshFailed, "Token has expired"),
	}
	_, srv := newResource(t, "A2")

	var queued atomic.Int32
	p := newPipeline(t, sess, Hooks{Queued: func() { queued.Add(1) }})
	client := p.Client(10 * time.Second)

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, context.Background(), client, srv.URL+"/x")
			if err == nil {
				resp.Body.Close()
			}
			results <- err
		}()
	}
	require.Eventually(t, func() bool { return queued.Load() == n-1 }, 5*time.Second, time.Millisecond)
	close(sess.gate)
	wg.Wait()
	close(results)

	for err := range results {
		require.ErrorIs(t, err, autherr.ErrSessionExpired)
		require.ErrorIs(t, err, autherr.ErrRefreshFailed)
	}
	assert.EqualValues(t, 1, sess.refreshCalls.Load())
	assert.GreaterOrEqual(t, sess.expired.Load(), int32(1))
}

func TestBodyIsReplayed(t *testing.T) {
	sess := &fakeSession{pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"}, next: "A2"}
	_, srv := newResource(t, "A2")
	p := newPipeline(t, sess, Hooks{})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/bookings", strings.NewReader(`{"lot":3}`))
	require.NoError(t, err)
	resp, err := p.Client(time.Second).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lot":3}`, string(body))
}

func TestTransportErrorIsNotRetried(t *testing.T) {
	sess := &fakeSession{pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"}, next: "A2"}
	p, err := New(Deps{
		Session: sess,
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, context.DeadlineExceeded
		}),
	})
	require.NoError(t, err)

	_, err = get(t, context.Background(), p.Client(0), "http://resource.invalid/x")
	require.ErrorIs(t, err, autherr.ErrNetwork)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, sess.refreshCalls.Load())
}

func TestRefreshJoinsInFlightRefresh(t *testing.T) {
	sess := &fakeSession{
		pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"},
		gate: make(chan struct{}),
		next: "A2",
	}
	_, srv := newResource(t, "A2")

	var started atomic.Int32
	p := newPipeline(t, sess, Hooks{RefreshStarted: func() { started.Add(1) }})

	done := make(chan error, 1)
	go func() {
		resp, err := get(t, context.Background(), p.Client(5*time.Second), srv.URL+"/x")
		if err == nil {
			resp.Body.Close()
		}
		done <- err
	}()
	require.Eventually(t, func() bool { return started.Load() == 1 }, 5*time.Second, time.Millisecond)

	tokCh := make(chan string, 1)
	go func() {
		tok, err := p.Refresh(context.Background())
		assert.NoError(t, err)
		tokCh <- tok
	}()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.queue) == 1
	}, 5*time.Second, time.Millisecond)

	close(sess.gate)
	require.NoError(t, <-done)
	assert.Equal(t, "A2", <-tokCh)
	assert.EqualValues(t, 1, sess.refreshCalls.Load())
}

func TestCancelledWaiterDoesNotAbortRefresh(t *testing.T) {
	sess := &fakeSession{
		pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"},
		gate: make(chan struct{}),
		next: "A2",
	}
	_, srv := newResource(t, "A2")

	var queued atomic.Int32
	p := newPipeline(t, sess, Hooks{Queued: func() { queued.Add(1) }})

	leader := make(chan error, 1)
	go func() {
		resp, err := get(t, context.Background(), p.Client(5*time.Second), srv.URL+"/leader")
		if err == nil {
			resp.Body.Close()
		}
		leader <- err
	}()
	require.Eventually(t, func() bool { return p.Refreshing() }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiter := make(chan error, 1)
	go func() {
		_, err := get(t, ctx, p.Client(0), srv.URL+"/impatient")
		waiter <- err
	}()
	require.Eventually(t, func() bool { return queued.Load() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	require.Error(t, <-waiter)

	close(sess.gate)
	require.NoError(t, <-leader)
	assert.EqualValues(t, 1, sess.refreshCalls.Load())
}

func TestExpiredRefreshErrorIsNotWrappedTwice(t *testing.T) {
	sess := &fakeSession{
		pair:    tokens.Pair{AccessToken: "A1", RefreshToken: "R1"},
		failure: autherr.New(autherr.SessionExpired, "Session expired"),
	}
	_, srv := newResource(t, "A2")
	p := newPipeline(t, sess, Hooks{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/x", nil)
	require.NoError(t, err)
	_, err = p.RoundTrip(req)
	require.ErrorIs(t, err, autherr.ErrSessionExpired)
	assert.Equal(t, "session expired: Session expired", err.Error())
	assert.EqualValues(t, 1, sess.expired.Load())
}

type trackedBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestLateReplayForDepartedWaiterIsClosed(t *testing.T) {
	sess := &fakeSession{
		pair: tokens.Pair{AccessToken: "A1", RefreshToken: "R1"},
		gate: make(chan struct{}),
		next: "A2",
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	left := make(chan struct{})
	late := &trackedBody{Reader: strings.NewReader("late")}

	// The waiter's replay cancels its own context and only completes once the
	// waiter has returned.
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			return &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}, Body: http.NoBody}, nil
		}
		if r.URL.Path == "/impatient" {
			cancel()
			<-left
			return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: late}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: http.NoBody}, nil
	})

	var queued atomic.Int32
	p, err := New(Deps{
		Session:        sess,
		Transport:      transport,
		RefreshTimeout: 5 * time.Second,
		Hooks:          Hooks{Queued: func() { queued.Add(1) }},
	})
	require.NoError(t, err)

	leader := make(chan error, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, "http://lots.test/leader", nil)
		resp, err := p.RoundTrip(req)
		if err == nil {
			resp.Body.Close()
		}
		leader <- err
	}()
	require.Eventually(t, func() bool { return p.Refreshing() }, 5*time.Second, time.Millisecond)

	waiter := make(chan error, 1)
	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://lots.test/impatient", nil)
		_, err := p.RoundTrip(req)
		waiter <- err
	}()
	require.Eventually(t, func() bool { return queued.Load() == 1 }, 5*time.Second, time.Millisecond)

	close(sess.gate)
	require.ErrorIs(t, <-waiter, context.Canceled)
	close(left)

	require.NoError(t, <-leader)
	require.Eventually(t, late.closed.Load, 5*time.Second, time.Millisecond)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Command gosession-loadtest measures the refresh pipeline under concurrent
// load: workers hit a protected resource while the access token is revoked
// on a timer, forcing 401 bursts that must collapse into single refreshes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/authapi"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokens"
)

func main() {
	var (
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "total requests")
		revokeEvery = flag.Duration("revoke-every", 50*time.Millisecond, "how often the server invalidates the access token")
		refreshCost = flag.Duration("refresh-cost", 5*time.Millisecond, "simulated refresh latency")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer rdb.Close()

	api, err := newService(*refreshCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start service: %v\n", err)
		os.Exit(1)
	}
	defer api.Close()

	cfg := goSession.DefaultConfig()
	cfg.API.BaseURL = api.URL
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	coord, err := goSession.New().
		WithConfig(cfg).
		WithTokenStore(tokens.NewRedisStore(rdb, "loadtest_tokens", time.Hour)).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer coord.Close()

	if _, err := coord.Login(ctx, session.Credentials{Username: "load", Password: "load"}); err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	stopRevoke := make(chan struct{})
	go func() {
		t := time.NewTicker(*revokeEvery)
		defer t.Stop()
		for {
			select {
			case <-stopRevoke:
				return
			case <-t.C:
				api.revoke()
			}
		}
	}()

	stats := runRequestPhase(ctx, coord, api.URL+"/api/lots", *ops, *concurrency)
	close(stopRevoke)

	snap := coord.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("request", stats)
	fmt.Printf("server refreshes=%d revocations=%d\n", api.refreshes.Load(), api.revocations.Load())
	fmt.Printf("client refresh ok=%d failed=%d queued=%d retried=%d ceiling=%d\n",
		snap.Counters[goSession.MetricRefreshSuccess],
		snap.Counters[goSession.MetricRefreshFailure],
		snap.Counters[goSession.MetricRefreshQueued],
		snap.Counters[goSession.MetricRequestRetried],
		snap.Counters[goSession.MetricRetryCeiling],
	)
	if n := snap.Counters[goSession.MetricRefreshSuccess]; n > 0 {
		mean := snap.HistogramSums[goSession.MetricRefreshLatency] / time.Duration(n)
		fmt.Printf("refresh mean latency=%s\n", mean.Round(time.Microsecond))
	}
}

func runRequestPhase(ctx context.Context, coord *goSession.Coordinator, url string, ops, concurrency int) phaseStats {
	var (
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return nil
				}
				req, err := http.NewRequestWithContext(gctx, http.MethodGet, url, nil)
				if err != nil {
					return err
				}
				t0 := time.Now()
				resp, err := coord.Do(req)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					_, _ = io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
					if resp.StatusCode != http.StatusOK {
						atomic.AddInt64(&failures, 1)
					}
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "worker failed: %v\n", err)
	}
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// service is a minimal auth service whose access tokens die on revoke.
type service struct {
	*httptest.Server
	signer      *jwt.Signer
	cost        time.Duration
	current     atomic.Value
	refreshes   atomic.Int64
	revocations atomic.Int64
	seq         atomic.Int64
}

func newService(cost time.Duration) (*service, error) {
	signer, err := jwt.NewSigner([]byte("loadtest-signing-key-0123456789"), time.Hour, "gosession-loadtest")
	if err != nil {
		return nil, err
	}
	s := &service{signer: signer, cost: cost}
	s.current.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+authapi.LoginPath, func(w http.ResponseWriter, r *http.Request) {
		s.reply(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"access_token": s.issue(), "refresh_token": "R", "user": loadUser,
		}})
	})
	mux.HandleFunc("POST "+authapi.RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		s.refreshes.Add(1)
		time.Sleep(s.cost)
		s.reply(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"access_token": s.issue(),
		}})
	})
	mux.HandleFunc("GET /api/lots", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.current.Load().(string) {
			s.reply(w, http.StatusUnauthorized, map[string]any{"msg": "Token has expired"})
			return
		}
		s.reply(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	})
	s.Server = httptest.NewServer(mux)
	return s, nil
}

var loadUser = map[string]any{"id": 1, "username": "load", "email": "load@example.com", "role": "user", "is_active": true}

func (s *service) issue() string {
	tok, err := s.signer.Issue(fmt.Sprintf("load-%d", s.seq.Add(1)), "load", "user")
	if err != nil {
		panic(err)
	}
	s.current.Store(tok)
	return tok
}

func (s *service) revoke() {
	s.revocations.Add(1)
	s.current.Store("revoked")
}

func (s *service) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

package goSession

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/goSession/authapi"
	"github.com/MrEthical07/goSession/guard"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/pipeline"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokens"
)

// Builder assembles a Coordinator. A Builder is single use.
type Builder struct {
	config Config

	store     tokens.Store
	remote    session.Remote
	client    *http.Client
	transport http.RoundTripper
	logger    *slog.Logger
	auditSink AuditSink
	onExpired []func(loginPath string)

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTokenStore persists tokens in store instead of the configured backend.
func (b *Builder) WithTokenStore(store tokens.Store) *Builder {
	b.store = store
	return b
}

// WithRemote replaces the HTTP auth client. API.BaseURL becomes optional.
func (b *Builder) WithRemote(remote session.Remote) *Builder {
	b.remote = remote
	return b
}

// WithHTTPClient sets the client used for unauthenticated auth calls
// (login, register, refresh, logout).
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.client = client
	return b
}

// WithTransport sets the transport the pipeline sends requests through.
func (b *Builder) WithTransport(rt http.RoundTripper) *Builder {
	b.transport = rt
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// OnSessionExpired registers fn to run whenever the pipeline gives up on the
// session. fn receives the login path to redirect to.
func (b *Builder) OnSessionExpired(fn func(loginPath string)) *Builder {
	if fn != nil {
		b.onExpired = append(b.onExpired, fn)
	}
	return b
}

// Build validates the configuration and wires the coordinator.
func (b *Builder) Build() (*Coordinator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.validate(b.remote == nil); err != nil {
		return nil, err
	}

	table, err := guard.NewTable(cfg.Routes.Table...)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- TOKEN STORE --------
	store := b.store
	if store == nil {
		store, err = tokenStoreFor(cfg.Storage)
		if err != nil {
			return nil, err
		}
	}

	// -------- REMOTE --------
	remote := b.remote
	var api *authapi.Client
	if remote == nil {
		plain := b.client
		if plain == nil {
			plain = &http.Client{Timeout: cfg.API.RequestTimeout, Transport: b.transport}
		}
		api, err = authapi.New(authapi.Options{
			BaseURL:    cfg.API.BaseURL,
			HTTPClient: plain,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		remote = api
	}

	// -------- SESSION --------
	sess, err := session.New(session.Deps{
		Remote: remote,
		Tokens: store,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:    cfg,
		session:   sess,
		store:     store,
		table:     table,
		paths:     cfg.Routes.Paths,
		log:       logger,
		metrics:   NewMetrics(cfg.Metrics),
		audit:     audit.NewDispatcher(audit.Config(cfg.Audit), b.auditSink),
		onExpired: append([]func(string){}, b.onExpired...),
	}

	// -------- PIPELINE --------
	pipe, err := pipeline.New(pipeline.Deps{
		Session:        sess,
		Transport:      b.transport,
		RefreshTimeout: cfg.API.RefreshTimeout,
		Logger:         logger,
		Hooks:          c.pipelineHooks(),
	})
	if err != nil {
		c.audit.Close()
		return nil, fmt.Errorf("goSession: %w", err)
	}
	c.pipe = pipe
	c.client = pipe.Client(cfg.API.RequestTimeout)

	if api != nil {
		api.UseAuthorized(c.client)
	}

	b.built = true

	return c, nil
}

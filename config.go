package goSession

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/guard"
	"github.com/MrEthical07/goSession/tokens"
)

// Config configures a Coordinator. The yaml/env tags let binaries load it
// with cleanenv; library callers usually start from DefaultConfig.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Routes  RoutesConfig  `yaml:"routes"`
	Refresh RefreshConfig `yaml:"refresh"`
	Metrics MetricsConfig `yaml:"metrics"`
	Audit   AuditConfig   `yaml:"audit"`
	Log     LogConfig     `yaml:"log"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig points at the remote auth service.
type APIConfig struct {
	BaseURL string `yaml:"base_url" env:"GOSESSION_API_BASE_URL"`
	// RequestTimeout bounds every call made through the pipeline client.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"GOSESSION_API_REQUEST_TIMEOUT" env-default:"10s"`
	// RefreshTimeout bounds a refresh independently of the caller that
	// triggered it.
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"GOSESSION_API_REFRESH_TIMEOUT" env-default:"10s"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageSQL    = "sql"
)

// StorageConfig selects where the token pair is persisted. Builder only
// constructs the memory and file backends itself; redis and sql stores are
// built by the caller and passed through WithTokenStore.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"GOSESSION_STORAGE_BACKEND" env-default:"memory"`
	// Key names the record in redis and sql backends.
	Key      string        `yaml:"key" env:"GOSESSION_STORAGE_KEY" env-default:"parking_app_tokens"`
	FilePath string        `yaml:"file_path" env:"GOSESSION_STORAGE_FILE"`
	Redis    RedisConfig   `yaml:"redis"`
	SQL      SQLConfig     `yaml:"sql"`
	TTL      time.Duration `yaml:"ttl" env:"GOSESSION_STORAGE_TTL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"GOSESSION_REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"GOSESSION_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"GOSESSION_REDIS_DB"`
}

type SQLConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" env:"GOSESSION_SQL_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"GOSESSION_SQL_DSN"`
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig holds the landing pages and the route table the navigation
// guard consults.
type RoutesConfig struct {
	Paths guard.Paths   `yaml:"paths"`
	Table []guard.Route `yaml:"table"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig drives StartAutoRefresh.
type RefreshConfig struct {
	// Interval is the ticker period of the auto refresh loop.
	Interval time.Duration `yaml:"interval" env:"GOSESSION_REFRESH_INTERVAL" env-default:"14m"`
	// Skew refreshes early once the access token expires within this window.
	Skew time.Duration `yaml:"skew" env:"GOSESSION_REFRESH_SKEW" env-default:"1m"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `yaml:"enabled" env:"GOSESSION_AUDIT_ENABLED"`
	BufferSize int  `yaml:"buffer_size" env:"GOSESSION_AUDIT_BUFFER" env-default:"1024"`
	DropIfFull bool `yaml:"drop_if_full" env:"GOSESSION_AUDIT_DROP_IF_FULL" env-default:"true"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" env:"GOSESSION_METRICS_ENABLED"`
	EnableLatencyHistograms bool `yaml:"latency_histograms" env:"GOSESSION_METRICS_LATENCY"`
}

// LogConfig is read by binaries when building their slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"GOSESSION_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"GOSESSION_LOG_FORMAT" env-default:"text"`
}

// DefaultConfig returns the stock configuration. API.BaseURL is left empty
// and must be set unless a custom Remote is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			RequestTimeout: 10 * time.Second,
			RefreshTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
			Key:     "parking_app_tokens",
			Redis:   RedisConfig{Addr: "localhost:6379"},
			SQL:     SQLConfig{Driver: "sqlite"},
		},
		Routes: RoutesConfig{
			Paths: guard.DefaultPaths(),
		},
		Refresh: RefreshConfig{
			Interval: 14 * time.Minute,
			Skew:     time.Minute,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Routes.Table != nil {
		out.Routes.Table = append([]guard.Route(nil), cfg.Routes.Table...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	return c.validate(true)
}

// validate skips the BaseURL requirement when the caller brings its own Remote.
func (c *Config) validate(requireBaseURL bool) error {
	// API
	if requireBaseURL || c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("API BaseURL %q must be an absolute http(s) URL", c.API.BaseURL)
		}
	}
	if c.API.RequestTimeout <= 0 {
		return errors.New("API RequestTimeout must be > 0")
	}
	if c.API.RefreshTimeout <= 0 {
		return errors.New("API RefreshTimeout must be > 0")
	}

	// Storage
	switch c.Storage.Backend {
	case StorageMemory, StorageRedis, StorageSQL:
	case StorageFile:
		if c.Storage.FilePath == "" {
			return errors.New("Storage FilePath is required for the file backend")
		}
	default:
		return fmt.Errorf("Storage Backend %q is not one of memory, file, redis, sql", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.Key) == "" {
		return errors.New("Storage Key must not be empty")
	}
	if c.Storage.TTL < 0 {
		return errors.New("Storage TTL must be >= 0")
	}
	if c.Storage.Backend == StorageSQL && c.Storage.SQL.Driver != "sqlite" && c.Storage.SQL.Driver != "postgres" {
		return fmt.Errorf("Storage SQL Driver %q must be sqlite or postgres", c.Storage.SQL.Driver)
	}

	// Routes
	p := c.Routes.Paths
	for name, v := range map[string]string{"Login": p.Login, "Home": p.Home, "Admin": p.Admin, "User": p.User} {
		if !strings.HasPrefix(v, "/") {
			return fmt.Errorf("Routes Paths %s %q must be an absolute path", name, v)
		}
	}
	if _, err := guard.NewTable(c.Routes.Table...); err != nil {
		return fmt.Errorf("Routes Table: %w", err)
	}

	// Refresh
	if c.Refresh.Interval < 0 {
		return errors.New("Refresh Interval must be >= 0")
	}
	if c.Refresh.Skew < 0 {
		return errors.New("Refresh Skew must be >= 0")
	}
	if c.Refresh.Interval > 0 && c.Refresh.Skew >= c.Refresh.Interval {
		return errors.New("Refresh Skew must be shorter than Refresh Interval")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

// tokenStoreFor builds the stores that need no external connection.
func tokenStoreFor(cfg StorageConfig) (tokens.Store, error) {
	switch cfg.Backend {
	case StorageMemory:
		return tokens.NewMemoryStore(), nil
	case StorageFile:
		return tokens.NewFileStore(cfg.FilePath), nil
	}
	return nil, fmt.Errorf("goSession: storage backend %q needs WithTokenStore", cfg.Backend)
}

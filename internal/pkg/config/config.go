package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SCORITO_"

type Config struct {
	Logging  LoggingConfig  `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Redis    RedisConfig    `koanf:"redis"`
	Postgres PostgresConfig `koanf:"postgres"`
	Cache    CacheConfig    `koanf:"cache"`
	Renderer RendererConfig `koanf:"renderer"`
	Worker   WorkerConfig   `koanf:"worker"`
	Tables   TablesConfig   `koanf:"tables"`
	Telegram TelegramConfig `koanf:"telegram"`
	Cycling  CyclingConfig  `koanf:"cycling"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
	File   string `koanf:"file"`   // optional JSON log file, appended
}

type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	SecureCookies     bool          `koanf:"secure_cookies"`
}

type RedisConfig struct {
	// URL in redis://[:password@]host:port/db form. Empty selects the in-memory
	// cache, which only works when server and worker share a process.
	URL string `koanf:"url"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type CacheConfig struct {
	MatchTTL   time.Duration `koanf:"match_ttl"`
	LockTTL    time.Duration `koanf:"lock_ttl"`
	SessionTTL time.Duration `koanf:"session_ttl"`
}

type RendererConfig struct {
	Headless        bool          `koanf:"headless"`
	ExecPath        string        `koanf:"exec_path"`
	UserAgent       string        `koanf:"user_agent"`
	Sessions        int           `koanf:"sessions"`
	NavigateTimeout time.Duration `koanf:"navigate_timeout"`
	MarkerTimeout   time.Duration `koanf:"marker_timeout"`
	ConsentTimeout  time.Duration `koanf:"consent_timeout"`
	ScrollSettle    time.Duration `koanf:"scroll_settle"`
	MaxScrolls      int           `koanf:"max_scrolls"`
}

type WorkerConfig struct {
	Concurrency    int           `koanf:"concurrency"`
	Queue          string        `koanf:"queue"` // memory or redis
	QueueKey       string        `koanf:"queue_key"`
	QueueSize      int           `koanf:"queue_size"`
	PollTimeout    time.Duration `koanf:"poll_timeout"`
	JobTimeout     time.Duration `koanf:"job_timeout"`
	WarmupInterval time.Duration `koanf:"warmup_interval"` // 0 disables periodic warm-up
	MetricsAddr    string        `koanf:"metrics_addr"`    // standalone worker only
}

type TablesConfig struct {
	Sources   string `koanf:"sources"`
	Ratings   string `koanf:"ratings"`
	Schedules string `koanf:"schedules"`
}

type TelegramConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token"`
	ChatID  int64  `koanf:"chat_id"`
}

type CyclingConfig struct {
	Timeout     time.Duration `koanf:"timeout"`
	UserAgent   string        `koanf:"user_agent"`
	Concurrency int           `koanf:"concurrency"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			RequestTimeout:    20 * time.Second,
		},
		Cache: CacheConfig{
			MatchTTL:   time.Hour,
			LockTTL:    5 * time.Minute,
			SessionTTL: 24 * time.Hour,
		},
		Renderer: RendererConfig{
			Headless:        true,
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Sessions:        1,
			NavigateTimeout: 30 * time.Second,
			MarkerTimeout:   30 * time.Second,
			ConsentTimeout:  5 * time.Second,
			ScrollSettle:    2 * time.Second,
			MaxScrolls:      20,
		},
		Worker: WorkerConfig{
			Concurrency: 2,
			Queue:       "memory",
			QueueKey:    "scorito:jobs",
			QueueSize:   256,
			PollTimeout: 5 * time.Second,
			JobTimeout:  4 * time.Minute,
			MetricsAddr: ":9090",
		},
		Tables: TablesConfig{
			Sources:   "configs/sources.yaml",
			Ratings:   "configs/ratings.yaml",
			Schedules: "configs/schedules.yaml",
		},
		Cycling: CyclingConfig{
			Timeout:     20 * time.Second,
			UserAgent:   "Mozilla/5.0 (compatible; ScoritoOdds/1.0)",
			Concurrency: 4,
		},
	}
}

// Load layers defaults, the optional YAML file at path and SCORITO_ env vars
// (low to high precedence). Nested keys use a double underscore:
// SCORITO_REDIS__URL sets redis.url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must not be empty"))
	}
	if c.Cache.MatchTTL <= 0 || c.Cache.LockTTL <= 0 || c.Cache.SessionTTL <= 0 {
		errs = append(errs, errors.New("cache TTLs must be positive"))
	}
	if c.Renderer.NavigateTimeout <= 0 || c.Renderer.MarkerTimeout <= 0 {
		errs = append(errs, errors.New("renderer timeouts must be positive"))
	}
	if c.Renderer.Sessions <= 0 {
		errs = append(errs, errors.New("renderer.sessions must be positive"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be positive"))
	}
	if c.Worker.JobTimeout <= 0 {
		errs = append(errs, errors.New("worker.job_timeout must be positive"))
	}
	if c.Worker.JobTimeout >= c.Cache.LockTTL {
		errs = append(errs, fmt.Errorf("worker.job_timeout %s must be shorter than cache.lock_ttl %s", c.Worker.JobTimeout, c.Cache.LockTTL))
	}
	switch c.Worker.Queue {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("worker.queue %q: want memory or redis", c.Worker.Queue))
	}
	if c.Worker.Queue == "redis" && c.Redis.URL == "" {
		errs = append(errs, errors.New("worker.queue=redis requires redis.url"))
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("telegram.enabled requires token and chat_id"))
	}
	return errors.Join(errs...)
}

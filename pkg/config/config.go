package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PALISADE_"

// Config is the full runtime configuration. Values resolve in two layers:
// compiled defaults, then PALISADE_* environment variables.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Router    RouterConfig    `koanf:"router"`
	Audit     AuditConfig     `koanf:"audit"`
	Redis     RedisConfig     `koanf:"redis"`
	Catalogs  CatalogsConfig  `koanf:"catalogs"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type RetrievalConfig struct {
	TopK          int           `koanf:"top_k"`
	MaxHops       int           `koanf:"max_hops"`
	MinScore      float64       `koanf:"min_score"`
	VectorTimeout time.Duration `koanf:"vector_timeout"`
	GraphTimeout  time.Duration `koanf:"graph_timeout"`
	CacheSize     int           `koanf:"cache_size"`
}

type RouterConfig struct {
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
	MaxRetries     uint64        `koanf:"max_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	MaxTokens      int           `koanf:"max_tokens"`
	Temperature    float64       `koanf:"temperature"`
}

type AuditConfig struct {
	QueueSize int `koanf:"queue_size"`
}

// RedisConfig configures the optional redis-backed vector store. An empty DSN
// selects the in-memory store.
type RedisConfig struct {
	DSN       string `koanf:"dsn"`
	KeyPrefix string `koanf:"key_prefix"`
	Dimension int    `koanf:"dimension"`
}

// CatalogsConfig points at the YAML catalogs loaded on startup.
type CatalogsConfig struct {
	RolesFile    string `koanf:"roles_file"`
	ModelsFile   string `koanf:"models_file"`
	PersonasFile string `koanf:"personas_file"`
	PIIFile      string `koanf:"pii_file"`
}

// Default returns the compiled-in configuration baseline.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MaxHops:       2,
			VectorTimeout: 5 * time.Second,
			GraphTimeout:  5 * time.Second,
			CacheSize:     512,
		},
		Router: RouterConfig{
			AttemptTimeout: 30 * time.Second,
			MaxRetries:     2,
			RetryBackoff:   250 * time.Millisecond,
			MaxTokens:      1024,
		},
		Audit: AuditConfig{QueueSize: 1024},
		Redis: RedisConfig{KeyPrefix: "palisade", Dimension: 16},
	}
}

// Load resolves configuration from defaults and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return transformEnvKey(key), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// transformEnvKey converts an environment variable name into a koanf path.
// The first underscore-separated token selects the section; the remainder is
// the key. PALISADE_ROUTER_ATTEMPT_TIMEOUT becomes router.attempt_timeout.
func transformEnvKey(key string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, found := strings.Cut(trimmed, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

func (c *Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval.top_k must be positive")
	}
	if c.Retrieval.MaxHops < 0 {
		return fmt.Errorf("config: retrieval.max_hops must not be negative")
	}
	if c.Router.AttemptTimeout <= 0 {
		return fmt.Errorf("config: router.attempt_timeout must be positive")
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("config: audit.queue_size must be positive")
	}
	return nil
}

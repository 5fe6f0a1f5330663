// Package application orchestrates arena sessions: it loads configuration,
// collects contender responses and drives battles and tournaments through
// the session store and rating ledger.
package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/logging"
	"github.com/ahrav/go-arena/internal/ports"
)

// Configuration defaults.
const (
	DefaultCollectorTimeout = 30 * time.Second
	DefaultSessionTTL       = 24 * time.Hour
	DefaultKeyPrefix        = "arena:"
	DefaultLogLevel         = logging.LevelInfo
	DefaultLogFormat        = logging.FormatJSON
)

// Config is the complete arena configuration. It is decoded from YAML and
// then overridden from the environment.
type Config struct {
	// Contenders is the ordered pool. Order defines round 0 pairing and
	// which unused contender is picked next.
	Contenders []ContenderConfig `yaml:"contenders" validate:"required,min=2,unique=ID,dive"`
	// FinalChallenger is held back until every other contender has played.
	FinalChallenger string `yaml:"final_challenger" validate:"omitempty,modelformat"`
	// PoolSize caps how many contenders enter each tournament. Zero uses
	// the whole pool.
	PoolSize int `yaml:"pool_size" validate:"gte=0"`
	// Router classifies messages before they enter the arena. Every message
	// is admitted when empty.
	Router     string           `yaml:"router" validate:"omitempty,modelformat"`
	Generation GenerationConfig `yaml:"generation"`
	Collector  CollectorConfig  `yaml:"collector"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Store      StoreConfig      `yaml:"store"`
	Ratings    RatingsConfig    `yaml:"ratings"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ContenderConfig describes one model in the pool.
type ContenderConfig struct {
	// ID is the contender in provider/model form.
	ID string `yaml:"id" validate:"required,modelformat"`
	// Timeout overrides Collector.DefaultTimeout for slow backends.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// GenerationConfig holds sampling settings sent with every prompt.
type GenerationConfig struct {
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	System      string  `yaml:"system"`
}

// CollectorConfig tunes the response collector.
type CollectorConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"gte=0"`
	// LazyFetch makes Start fetch only the round 0 pair.
	LazyFetch bool `yaml:"lazy_fetch"`
}

// ResilienceConfig configures the middleware wrapped around every backend.
type ResilienceConfig struct {
	MaxRetries        int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	BreakerFailures   int           `yaml:"breaker_failures" validate:"gte=0"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown" validate:"gte=0"`
	// AttemptTimeout bounds a single provider call. When unset the
	// contender's collector timeout is split evenly across attempts.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gte=0"`
}

// StoreConfig selects the session store. An empty RedisURL keeps sessions in
// process memory only.
type StoreConfig struct {
	RedisURL string        `yaml:"redis_url" env:"ARENA_REDIS_URL" validate:"omitempty,url"`
	TTL      time.Duration `yaml:"ttl" env:"ARENA_SESSION_TTL" validate:"gte=0"`
	Prefix   string        `yaml:"prefix" env:"ARENA_KEY_PREFIX"`
}

// RatingsConfig configures the Elo ledger. An empty SQLitePath keeps
// ratings in memory.
type RatingsConfig struct {
	Initial    float64 `yaml:"initial" validate:"gte=0"`
	KFactor    float64 `yaml:"k_factor" validate:"gt=0"`
	SQLitePath string  `yaml:"sqlite_path" env:"ARENA_SQLITE_PATH"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"ARENA_LOG_LEVEL" validate:"oneof=DEBUG INFO WARN ERROR"`
	Format string `yaml:"format" env:"ARENA_LOG_FORMAT" validate:"oneof=json text"`
	File   string `yaml:"file" env:"ARENA_LOG_FILE"`
}

// ContenderIDs returns the pool in configured order.
func (c *Config) ContenderIDs() []string {
	ids := make([]string, len(c.Contenders))
	for i, cc := range c.Contenders {
		ids[i] = cc.ID
	}
	return ids
}

// Timeouts returns the per-contender timeout overrides.
func (c *Config) Timeouts() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, cc := range c.Contenders {
		if cc.Timeout > 0 {
			out[cc.ID] = cc.Timeout
		}
	}
	return out
}

// AttemptTimeout returns the per-call deadline for id. It never exceeds the
// contender's collector timeout, and with retries enabled it leaves room
// for every attempt inside that timeout.
func (c *Config) AttemptTimeout(id string) time.Duration {
	total := c.Collector.DefaultTimeout
	if d, ok := c.Timeouts()[id]; ok {
		total = d
	}
	if d := c.Resilience.AttemptTimeout; d > 0 && d < total {
		return d
	}
	if c.Resilience.AttemptTimeout == 0 && c.Resilience.MaxRetries > 0 {
		return total / time.Duration(c.Resilience.MaxRetries+1)
	}
	return total
}

// Elo returns the rating calculator described by the config.
func (c *Config) Elo() (domain.Elo, error) {
	return domain.NewElo(c.Ratings.Initial, c.Ratings.KFactor)
}

func (c *Config) applyDefaults() {
	if c.Collector.DefaultTimeout == 0 {
		c.Collector.DefaultTimeout = DefaultCollectorTimeout
	}
	if c.Store.TTL == 0 {
		c.Store.TTL = DefaultSessionTTL
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = DefaultKeyPrefix
	}
	if c.Ratings.Initial == 0 {
		c.Ratings.Initial = domain.DefaultInitialRating
	}
	if c.Ratings.KFactor == 0 {
		c.Ratings.KFactor = domain.DefaultKFactor
	}
	c.Logging.Level = strings.ToUpper(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// semanticCheck enforces rules that span fields.
func (c *Config) semanticCheck() error {
	verr := domain.NewValidationError("config", domain.ErrInvalidConfiguration)
	ids := c.ContenderIDs()
	if c.FinalChallenger != "" {
		found := false
		for _, id := range ids {
			if id == c.FinalChallenger {
				found = true
				break
			}
		}
		if !found {
			verr.AddError(fmt.Sprintf("final_challenger %q is not a configured contender", c.FinalChallenger))
		}
	}
	if c.PoolSize == 1 {
		verr.AddError("pool_size must be 0 or at least 2")
	}
	if c.PoolSize > len(ids) {
		verr.AddError(fmt.Sprintf("pool_size %d exceeds %d configured contenders", c.PoolSize, len(ids)))
	}
	if c.Resilience.RetryMaxDelay > 0 && c.Resilience.RetryBaseDelay > c.Resilience.RetryMaxDelay {
		verr.AddError("retry_base_delay cannot exceed retry_max_delay")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ConfigLoader parses, validates and caches configurations. Identical
// documents loaded concurrently are parsed once.
type ConfigLoader struct {
	validator *validator.Validate
	lookupEnv func(string) (string, bool)

	mu    sync.RWMutex
	cache map[string]*Config
	sf    singleflight.Group
}

// NewConfigLoader creates a loader that reads overrides from the process
// environment.
func NewConfigLoader() (*ConfigLoader, error) {
	return NewConfigLoaderWithEnv(os.LookupEnv)
}

// NewConfigLoaderWithEnv creates a loader that reads overrides through
// lookup.
func NewConfigLoaderWithEnv(lookup func(string) (string, bool)) (*ConfigLoader, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterArenaValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return &ConfigLoader{
		validator: v,
		lookupEnv: lookup,
		cache:     make(map[string]*Config),
	}, nil
}

// LoadFromFile loads the configuration at path.
func (l *ConfigLoader) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.NewConfigError(path, ports.ErrConfigNotFound)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.load(data)
}

// LoadFromReader loads a configuration from r.
func (l *ConfigLoader) LoadFromReader(r io.Reader) (*Config, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.load(buf.Bytes())
}

// load returns a copy of the cached config so callers may mutate it.
func (l *ConfigLoader) load(data []byte) (*Config, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	v, err, _ := l.sf.Do(hash, func() (any, error) {
		l.mu.RLock()
		cached, ok := l.cache[hash]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}

		cfg, err := l.parse(data)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.cache[hash] = cfg
		l.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}

	cfg := *v.(*Config)
	cfg.Contenders = append([]ContenderConfig(nil), cfg.Contenders...)
	return &cfg, nil
}

func (l *ConfigLoader) parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ports.NewConfigError("contenders", ports.ErrConfigNotFound)
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: l.environ()}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()

	if err := l.validator.Struct(&cfg); err != nil {
		verr := domain.NewValidationError("config", domain.ErrInvalidConfiguration)
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.AddError(fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			verr.AddError(err.Error())
		}
		return nil, verr
	}
	if err := cfg.semanticCheck(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// environ resolves only the variables the config reads so tests can inject
// a fake lookup.
func (l *ConfigLoader) environ() map[string]string {
	out := make(map[string]string)
	for _, key := range envKeys {
		if v, ok := l.lookupEnv(key); ok {
			out[key] = v
		}
	}
	return out
}

var envKeys = []string{
	"ARENA_REDIS_URL",
	"ARENA_SESSION_TTL",
	"ARENA_KEY_PREFIX",
	"ARENA_SQLITE_PATH",
	"ARENA_LOG_LEVEL",
	"ARENA_LOG_FORMAT",
	"ARENA_LOG_FILE",
}

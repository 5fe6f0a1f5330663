package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-arena/infrastructure/llm"
	"github.com/ahrav/go-arena/infrastructure/middleware"
	"github.com/ahrav/go-arena/infrastructure/store"
	"github.com/ahrav/go-arena/internal/application"
	"github.com/ahrav/go-arena/internal/logging"
	"github.com/ahrav/go-arena/internal/ports"
)

const serviceName = "go-arena"

// app holds the wired arena and everything that must be released on exit.
type app struct {
	cfg      *application.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	manager  *application.Manager
	router   ports.IntentRouter
	closers  []io.Closer
}

// appOptions replaces production collaborators in tests.
type appOptions struct {
	// generator is used instead of the provider registry when set.
	generator ports.Generator
	logOutput io.Writer
}

func loadConfig(path string) (*application.Config, error) {
	loader, err := application.NewConfigLoader()
	if err != nil {
		return nil, err
	}
	return loader.LoadFromFile(path)
}

func newApp(ctx context.Context, cfg *application.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}

	logger, err := newLogger(cfg.Logging, opts.logOutput)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, logger)

	metrics := middleware.NewPrometheusMetrics(a.registry)

	backend := a.sessionBackend(ctx, metrics)

	elo, err := cfg.Elo()
	if err != nil {
		a.Close()
		return nil, err
	}
	var ledger ports.RatingLedger
	if cfg.Ratings.SQLitePath != "" {
		sqlite, err := store.OpenSQLiteLedger(cfg.Ratings.SQLitePath, elo)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open rating ledger: %w", err)
		}
		a.closers = append(a.closers, sqlite)
		ledger = sqlite
	} else {
		ledger = store.NewMemoryLedger(elo)
	}

	generator := opts.generator
	if generator == nil {
		generator = newRegistry(cfg, metrics)
	}
	if cfg.Router != "" {
		a.router = application.NewGeneratorRouter(generator, cfg.Router)
	}

	collector := application.NewResponseCollector(generator, application.CollectorOptions{
		DefaultTimeout: cfg.Collector.DefaultTimeout,
		Timeouts:       cfg.Timeouts(),
		Generation: ports.GenerateOptions{
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			System:      cfg.Generation.System,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	manager, err := application.NewManager(
		store.NewTournamentStore(backend),
		store.NewBattleStore(backend),
		ledger,
		collector,
		application.ManagerOptions{
			Contenders:      cfg.ContenderIDs(),
			FinalChallenger: cfg.FinalChallenger,
			PoolSize:        cfg.PoolSize,
			LazyFetch:       cfg.Collector.LazyFetch,
			Logger:          logger,
			Metrics:         metrics,
		},
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.manager = manager
	return a, nil
}

func newLogger(cfg application.LoggingConfig, out io.Writer) (*logging.Logger, error) {
	if cfg.File != "" {
		logger, err := logging.NewFileLogger(cfg.File, cfg.Level, cfg.Format)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return logger, nil
	}
	if out == nil {
		out = os.Stderr
	}
	return logging.New(out, cfg.Level, cfg.Format), nil
}

// sessionBackend prefers Redis with an in-process fallback. Redis being
// down at startup is only a warning: the fallback covers each failing call
// and the client reconnects once the server is back.
func (a *app) sessionBackend(ctx context.Context, metrics ports.MetricsCollector) store.Backend {
	memory := store.NewMemoryBackend(a.cfg.Store.TTL)
	if a.cfg.Store.RedisURL == "" {
		return memory
	}
	log := a.logger.WithComponent("store")
	client, err := store.OpenRedis(a.cfg.Store.RedisURL)
	if err != nil {
		log.Warn("invalid redis url, sessions are process-local", "error", err)
		return memory
	}
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable at startup, using fallback until it recovers", "error", err)
	}
	redisBackend := store.NewRedisBackend(client, store.RedisConfig{Prefix: a.cfg.Store.Prefix, TTL: a.cfg.Store.TTL})
	a.closers = append(a.closers, redisBackend)
	return store.NewFallbackBackend(redisBackend, memory, a.logger, metrics)
}

// newRegistry wires every contender through tracing and metrics, then its
// own breaker, retry, rate limit and per-attempt timeout.
func newRegistry(cfg *application.Config, metrics *middleware.PrometheusMetrics) *llm.Registry {
	res := cfg.Resilience
	registry := llm.NewRegistry(llm.RegistryConfig{
		DefaultTimeout: cfg.Collector.DefaultTimeout,
		DefaultMiddleware: []llm.Middleware{
			llm.TracingMiddleware(serviceName),
			llm.MetricsMiddleware(metrics),
		},
	})

	ids := cfg.ContenderIDs()
	if cfg.Router != "" {
		ids = append(ids, cfg.Router)
	}
	for _, id := range ids {
		var mw []llm.Middleware
		if res.BreakerFailures > 0 {
			mw = append(mw, llm.CircuitBreakerMiddlewareWithMetrics(res.BreakerFailures, res.BreakerCooldown, metrics.CircuitBreakerMetrics(id)))
		}
		if res.MaxRetries > 0 {
			mw = append(mw, llm.RetryMiddleware(res.MaxRetries, res.RetryBaseDelay, res.RetryMaxDelay))
		}
		if res.RequestsPerSecond > 0 {
			burst := res.Burst
			if burst == 0 {
				burst = 1
			}
			mw = append(mw, llm.RateLimitMiddleware(rate.Limit(res.RequestsPerSecond), burst))
		}
		mw = append(mw, llm.TimeoutMiddleware(cfg.AttemptTimeout(id)))
		registry.Configure(id, mw...)
	}
	return registry
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

package application

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/logging"
	"github.com/ahrav/go-arena/internal/ports"
)

// MetricBackendFailures counts contender responses replaced by a placeholder.
const MetricBackendFailures = "backend_failures_total"

// errEmptyCompletion marks a backend that answered with no text.
var errEmptyCompletion = errors.New("empty completion")

// CollectorOptions configures a ResponseCollector.
type CollectorOptions struct {
	// DefaultTimeout bounds each contender call. DefaultCollectorTimeout
	// when zero.
	DefaultTimeout time.Duration
	// Timeouts overrides DefaultTimeout per contender.
	Timeouts map[string]time.Duration
	// Generation is sent with every prompt. History is filled per request.
	Generation ports.GenerateOptions
	Logger     *logging.Logger
	Metrics    ports.MetricsCollector
}

// ResponseCollector fetches contender answers concurrently. Each contender
// runs under its own timeout and a failure never cancels the others; a
// failed contender gets a placeholder response instead.
type ResponseCollector struct {
	generator      ports.Generator
	defaultTimeout time.Duration
	timeouts       map[string]time.Duration
	generation     ports.GenerateOptions
	logger         *logging.Logger
	metrics        ports.MetricsCollector

	// sf collapses concurrent fetches of the same contender for the same
	// session within this process.
	sf singleflight.Group
}

// NewResponseCollector creates a collector over generator.
func NewResponseCollector(generator ports.Generator, opts CollectorOptions) *ResponseCollector {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultCollectorTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	var metrics ports.MetricsCollector = ports.NopMetrics{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}
	timeouts := make(map[string]time.Duration, len(opts.Timeouts))
	for id, d := range opts.Timeouts {
		timeouts[id] = d
	}
	return &ResponseCollector{
		generator:      generator,
		defaultTimeout: timeout,
		timeouts:       timeouts,
		generation:     opts.Generation,
		logger:         logger.WithComponent("collector"),
		metrics:        metrics,
	}
}

// TimeoutFor returns the call timeout applied to contender.
func (c *ResponseCollector) TimeoutFor(contender string) time.Duration {
	if d, ok := c.timeouts[contender]; ok && d > 0 {
		return d
	}
	return c.defaultTimeout
}

// Collect fetches an answer from every contender concurrently and returns
// them keyed by contender. It always returns one entry per contender and
// only blocks until the slowest contender answers or times out.
func (c *ResponseCollector) Collect(ctx context.Context, sessionID, prompt string, history []domain.Turn, contenders []string) map[string]domain.Response {
	start := time.Now()
	out := make(map[string]domain.Response, len(contenders))
	var mu sync.Mutex

	var g errgroup.Group
	for _, id := range contenders {
		g.Go(func() error {
			r := c.fetch(ctx, sessionID, id, prompt, history)
			mu.Lock()
			out[id] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.metrics.RecordLatency("response_collection", time.Since(start), map[string]string{
		"contenders": strconv.Itoa(len(contenders)),
	})
	return out
}

// CollectMissing fetches every contender of t with no cached answer and
// caches the results on t. It returns the contenders that were fetched.
func (c *ResponseCollector) CollectMissing(ctx context.Context, t *domain.Tournament) []string {
	missing := t.MissingResponses()
	if len(missing) == 0 {
		return nil
	}
	for id, r := range c.Collect(ctx, t.ID, t.Message, nil, missing) {
		t.SetResponse(id, r)
	}
	return missing
}

// Backfill fetches only the current pair's missing answers. It returns the
// contenders that were fetched, so an empty result means the pair was
// already fully cached.
func (c *ResponseCollector) Backfill(ctx context.Context, t *domain.Tournament) []string {
	if t.CurrentPair == nil {
		return nil
	}
	var missing []string
	for _, id := range []string{t.CurrentPair.Left, t.CurrentPair.Right} {
		if _, ok := t.CachedResponse(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	for id, r := range c.Collect(ctx, t.ID, t.Message, nil, missing) {
		t.SetResponse(id, r)
	}
	return missing
}

// CollectBattle fetches both sides of an unanswered battle.
func (c *ResponseCollector) CollectBattle(ctx context.Context, b *domain.Battle) {
	var missing []string
	for _, side := range []domain.Side{b.Left, b.Right} {
		if side.Response == nil {
			missing = append(missing, side.Contender)
		}
	}
	if len(missing) == 0 {
		return
	}
	for id, r := range c.Collect(ctx, b.ID, b.Message, b.History, missing) {
		b.SetResponse(id, r)
	}
}

// fetch returns one contender's answer, or a placeholder when the backend
// fails, times out or returns nothing.
func (c *ResponseCollector) fetch(ctx context.Context, sessionID, contender, prompt string, history []domain.Turn) domain.Response {
	v, _, _ := c.sf.Do(sessionID+"\x00"+contender, func() (any, error) {
		return c.generate(ctx, sessionID, contender, prompt, history), nil
	})
	return v.(domain.Response)
}

func (c *ResponseCollector) generate(ctx context.Context, sessionID, contender, prompt string, history []domain.Turn) domain.Response {
	ctx, cancel := context.WithTimeout(ctx, c.TimeoutFor(contender))
	defer cancel()

	opts := c.generation
	opts.History = history

	start := time.Now()
	gen, err := c.generator.Generate(ctx, contender, prompt, opts)
	latency := time.Since(start)

	if err == nil && strings.TrimSpace(gen.Text) == "" {
		err = errEmptyCompletion
	}
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ports.ErrTimeout) {
			reason = "timeout"
		}
		c.logger.WithSession(sessionID).WithContender(contender).Warn("contender failed, using placeholder",
			"reason", reason,
			"latency", latency,
			"error", err,
		)
		c.metrics.RecordCounter(MetricBackendFailures, 1, map[string]string{
			"contender": contender,
			"reason":    reason,
		})
		return domain.NewFailedResponse(err, latency)
	}

	c.logger.WithSession(sessionID).WithContender(contender).Debug("contender answered",
		"latency", latency,
		"tokens_out", gen.TokensOut,
	)
	return domain.Response{
		Text:      gen.Text,
		Latency:   latency,
		TokensIn:  gen.TokensIn,
		TokensOut: gen.TokensOut,
	}
}

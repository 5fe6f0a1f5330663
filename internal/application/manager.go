package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/logging"
	"github.com/ahrav/go-arena/internal/ports"
)

const tracerName = "github.com/ahrav/go-arena/internal/application"

// Manager metric names.
const (
	MetricRoundsRecorded = "rounds_recorded_total"
	MetricTournaments    = "tournaments_completed_total"
	MetricBattlesVoted   = "battles_voted_total"
	MetricRatingDelta    = "rating_delta"
)

// ManagerOptions configures a Manager. Zero values select production
// defaults.
type ManagerOptions struct {
	// Contenders is the configured pool in order.
	Contenders []string
	// FinalChallenger is held back to the last round of every tournament
	// it enters.
	FinalChallenger string
	// PoolSize is the default number of contenders per tournament. Zero
	// uses the whole pool.
	PoolSize int
	// LazyFetch makes Start fetch only the round 0 pair instead of every
	// contender; later pairs are fetched on demand.
	LazyFetch bool

	Logger         *logging.Logger
	Metrics        ports.MetricsCollector
	TracerProvider trace.TracerProvider
	// Rand drives pool sampling and tie-breaking. Seeded from the runtime
	// when nil.
	Rand  *rand.Rand
	Clock func() time.Time
	NewID func() string
}

// Manager is the facade the transport layer drives. It holds no session
// state of its own: every call loads from the store, mutates a local copy
// and writes it back, so any process sharing the store can serve any call.
type Manager struct {
	tournaments ports.SessionStore[domain.Tournament]
	battles     ports.SessionStore[domain.Battle]
	ledger      ports.RatingLedger
	collector   *ResponseCollector

	pool            []string
	finalChallenger string
	poolSize        int
	lazyFetch       bool

	logger  *logging.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
	newID func() string
}

// NewManager wires the facade. The pool must hold at least two distinct
// contenders and contain the final challenger when one is set.
func NewManager(
	tournaments ports.SessionStore[domain.Tournament],
	battles ports.SessionStore[domain.Battle],
	ledger ports.RatingLedger,
	collector *ResponseCollector,
	opts ManagerOptions,
) (*Manager, error) {
	verr := domain.NewValidationError("manager", domain.ErrInvalidConfiguration)
	if tournaments == nil || battles == nil {
		verr.AddError("session stores are required")
	}
	if ledger == nil {
		verr.AddError("rating ledger is required")
	}
	if collector == nil {
		verr.AddError("response collector is required")
	}
	if len(opts.Contenders) < 2 {
		verr.AddError("at least two contenders are required")
	}
	if opts.FinalChallenger != "" && !slices.Contains(opts.Contenders, opts.FinalChallenger) {
		verr.AddError(fmt.Sprintf("final challenger %q is not in the pool", opts.FinalChallenger))
	}
	if verr.HasErrors() {
		return nil, verr
	}

	m := &Manager{
		tournaments:     tournaments,
		battles:         battles,
		ledger:          ledger,
		collector:       collector,
		pool:            slices.Clone(opts.Contenders),
		finalChallenger: opts.FinalChallenger,
		poolSize:        opts.PoolSize,
		lazyFetch:       opts.LazyFetch,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		rng:             opts.Rand,
		now:             opts.Clock,
		newID:           opts.NewID,
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	m.logger = m.logger.WithComponent("manager")
	if m.metrics == nil {
		m.metrics = ports.NopMetrics{}
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	m.tracer = tp.Tracer(tracerName)
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m, nil
}

// StartRequest begins a tournament.
type StartRequest struct {
	Message string
	// PoolSize overrides the configured pool size for this tournament.
	PoolSize int
}

// StartResult identifies the new tournament.
type StartResult struct {
	SessionID   string
	Contenders  []string
	CurrentPair domain.Pair
	TotalRounds int
}

// ResponsesResult is the current pair and its answers.
type ResponsesResult struct {
	SessionID   string
	Round       int
	TotalRounds int
	CurrentPair *domain.Pair
	Responses   map[string]domain.Response
	// Cached is true when every answer was already stored and nothing was
	// fetched or written.
	Cached    bool
	Completed bool
}

// ChoiceResult reports the bracket after a vote.
type ChoiceResult struct {
	SessionID    string
	Continuing   bool
	Round        int
	NextPair     *domain.Pair
	Responses    map[string]domain.Response
	FinalRanking []string
	History      []domain.Comparison
	Ratings      []domain.Rating
}

func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Start creates a tournament for message, stores it and prefetches
// contender answers. Backend failures never fail Start; affected
// contenders get placeholders.
func (m *Manager) Start(ctx context.Context, req StartRequest) (res StartResult, err error) {
	ctx, span := m.startSpan(ctx, "arena.start")
	defer func() { endSpan(span, err) }()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		verr := domain.NewValidationError("start", domain.ErrInvalidRequest)
		verr.AddError("message is required")
		return StartResult{}, verr
	}
	size := req.PoolSize
	if size == 0 {
		size = m.poolSize
	}
	if size < 0 || size == 1 || size > len(m.pool) {
		verr := domain.NewValidationError("start", domain.ErrInvalidRequest)
		verr.AddError(fmt.Sprintf("pool size %d must be between 2 and %d", size, len(m.pool)))
		return StartResult{}, verr
	}

	contenders := m.samplePool(size)
	challenger := ""
	if slices.Contains(contenders, m.finalChallenger) {
		challenger = m.finalChallenger
	}

	id := m.newID()
	t, err := domain.NewTournament(id, message, contenders, challenger, m.now())
	if err != nil {
		return StartResult{}, err
	}
	span.SetAttributes(attribute.String("arena.session_id", id), attribute.Int("arena.contenders", len(contenders)))

	if m.lazyFetch {
		m.collector.Backfill(ctx, t)
	} else {
		m.collector.CollectMissing(ctx, t)
	}
	t.UpdatedAt = m.now()

	if err := m.tournaments.Store(ctx, id, t); err != nil {
		return StartResult{}, fmt.Errorf("store tournament: %w", err)
	}

	m.logger.WithSession(id).Info("tournament started",
		"contenders", contenders,
		"final_challenger", challenger,
	)
	return StartResult{
		SessionID:   id,
		Contenders:  slices.Clone(contenders),
		CurrentPair: *t.CurrentPair,
		TotalRounds: t.TotalRounds(),
	}, nil
}

// samplePool picks size contenders without replacement, keeping configured
// order. The final challenger is always included when configured.
func (m *Manager) samplePool(size int) []string {
	if size == 0 || size >= len(m.pool) {
		return slices.Clone(m.pool)
	}

	candidates := make([]string, 0, len(m.pool))
	for _, c := range m.pool {
		if c != m.finalChallenger {
			candidates = append(candidates, c)
		}
	}
	want := size
	if m.finalChallenger != "" {
		want--
	}

	m.rngMu.Lock()
	m.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	m.rngMu.Unlock()

	chosen := make(map[string]bool, size)
	for _, c := range candidates[:want] {
		chosen[c] = true
	}
	if m.finalChallenger != "" {
		chosen[m.finalChallenger] = true
	}

	out := make([]string, 0, size)
	for _, c := range m.pool {
		if chosen[c] {
			out = append(out, c)
		}
	}
	return out
}

// GetResponses returns the current pair's answers, fetching any that are
// missing. Repeated calls on a fully cached pair perform no writes.
func (m *Manager) GetResponses(ctx context.Context, id string) (res ResponsesResult, err error) {
	ctx, span := m.startSpan(ctx, "arena.get_responses", attribute.String("arena.session_id", id))
	defer func() { endSpan(span, err) }()

	t, err := m.tournaments.Get(ctx, id)
	if err != nil {
		return ResponsesResult{}, err
	}

	res = ResponsesResult{
		SessionID:   t.ID,
		Round:       t.Round,
		TotalRounds: t.TotalRounds(),
		Completed:   t.Completed,
		Responses:   map[string]domain.Response{},
	}
	if t.Completed || t.CurrentPair == nil {
		res.Cached = true
		return res, nil
	}

	fetched := m.collector.Backfill(ctx, t)
	if len(fetched) > 0 {
		t.UpdatedAt = m.now()
		if err := m.tournaments.Update(ctx, id, t); err != nil {
			return ResponsesResult{}, fmt.Errorf("update tournament: %w", err)
		}
	}

	pair := *t.CurrentPair
	res.CurrentPair = &pair
	res.Responses = t.CurrentResponses()
	res.Cached = len(fetched) == 0
	return res, nil
}

// SubmitChoice records a vote on the current pair, updates both ratings and
// advances the bracket. The choice is validated before anything is loaded
// or mutated.
func (m *Manager) SubmitChoice(ctx context.Context, id, rawChoice string) (res ChoiceResult, err error) {
	ctx, span := m.startSpan(ctx, "arena.submit_choice", attribute.String("arena.session_id", id))
	defer func() { endSpan(span, err) }()

	choice, err := ParseChoice(rawChoice)
	if err != nil {
		return ChoiceResult{}, err
	}

	t, err := m.tournaments.Get(ctx, id)
	if err != nil {
		return ChoiceResult{}, err
	}
	if t.Completed {
		return ChoiceResult{}, domain.NewSessionError(id, "submit_choice", domain.ErrSessionCompleted)
	}
	if t.CurrentPair == nil {
		return ChoiceResult{}, domain.NewSessionError(id, "submit_choice", domain.ErrNoCurrentPair)
	}
	pair := *t.CurrentPair
	logger := m.logger.WithSession(id)

	m.rngMu.Lock()
	more, recordErr := t.RecordRound(choice, m.rng, m.now())
	m.rngMu.Unlock()
	switch {
	case errors.Is(recordErr, domain.ErrNoCandidate):
		logger.Error("matchup selector found no opponent, ending tournament early",
			"round", t.Round,
			"remaining", t.Remaining,
			"error", recordErr,
		)
		span.RecordError(recordErr)
	case recordErr != nil:
		return ChoiceResult{}, recordErr
	}
	m.metrics.RecordCounter(MetricRoundsRecorded, 1, map[string]string{"choice": string(choice)})
	span.SetAttributes(attribute.Int("arena.round", t.Round), attribute.String("arena.choice", string(choice)))

	ratings := m.rate(ctx, logger, pair.Left, pair.Right, choiceOutcome(choice))

	if more {
		m.collector.Backfill(ctx, t)
	}
	if err := m.tournaments.Update(ctx, id, t); err != nil {
		return ChoiceResult{}, fmt.Errorf("update tournament: %w", err)
	}

	res = ChoiceResult{
		SessionID:  id,
		Continuing: more,
		Round:      t.Round,
		History:    slices.Clone(t.History),
		Ratings:    ratings,
		Responses:  map[string]domain.Response{},
	}
	if more {
		next := *t.CurrentPair
		res.NextPair = &next
		res.Responses = t.CurrentResponses()
		return res, nil
	}

	res.FinalRanking = slices.Clone(t.FinalRanking)
	early := recordErr != nil
	m.metrics.RecordCounter(MetricTournaments, 1, map[string]string{"early": strconv.FormatBool(early)})
	logger.Info("tournament completed",
		"rounds", t.Round,
		"champion", t.Champion(),
		"final_ranking", t.FinalRanking,
		"early", early,
	)
	return res, nil
}

func choiceOutcome(c domain.Choice) domain.Outcome {
	switch c {
	case domain.ChoiceLeft:
		return domain.OutcomeAWins
	case domain.ChoiceRight:
		return domain.OutcomeBWins
	default:
		return domain.OutcomeDraw
	}
}

// rate applies one comparison to the ledger. Ledger failures are logged and
// do not fail the vote: ratings are not transactional with sessions.
func (m *Manager) rate(ctx context.Context, logger *logging.Logger, a, b string, outcome domain.Outcome) []domain.Rating {
	before, err := m.ledger.Get(ctx, a)
	if err != nil {
		logger.Error("rating lookup failed", "contender", a, "error", err)
		return nil
	}
	ra, rb, err := m.ledger.Update(ctx, a, b, outcome)
	if err != nil {
		logger.Error("rating update failed", "left", a, "right", b, "error", err)
		return nil
	}
	m.metrics.RecordHistogram(MetricRatingDelta, math.Abs(ra.Score-before.Score), nil)
	logger.Debug("ratings updated",
		"left", a, "left_rating", ra.Score,
		"right", b, "right_rating", rb.Score,
	)
	return []domain.Rating{ra, rb}
}

// Leaderboard ranks every configured contender and any other rated
// contender by Elo. Contenders that never played appear at the baseline.
func (m *Manager) Leaderboard(ctx context.Context) (entries []domain.LeaderboardEntry, err error) {
	ctx, span := m.startSpan(ctx, "arena.leaderboard")
	defer func() { endSpan(span, err) }()

	ratings, err := m.ledger.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}
	rated := make(map[string]bool, len(ratings))
	for _, r := range ratings {
		rated[r.Contender] = true
	}
	for _, id := range m.pool {
		if rated[id] {
			continue
		}
		r, err := m.ledger.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load rating %s: %w", id, err)
		}
		ratings = append(ratings, r)
	}
	return domain.BuildLeaderboard(ratings), nil
}

// Tournament returns a stored tournament, for inspection and export.
func (m *Manager) Tournament(ctx context.Context, id string) (*domain.Tournament, error) {
	return m.tournaments.Get(ctx, id)
}

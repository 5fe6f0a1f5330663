package application

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/go-arena/internal/domain"
)

// BattleRequest starts a single blind battle.
type BattleRequest struct {
	Message string
	// History is prior conversation passed to both contenders. Only the most
	// recent domain.MaxBattleHistory turns are kept.
	History []domain.Turn
	// Left and Right pin the contenders and must both be in the pool. Both
	// are drawn from the pool at random when empty.
	Left, Right string
}

// VoteResult reports a voted battle and, for decisive or tied votes, the
// updated ratings.
type VoteResult struct {
	Battle  *domain.Battle
	Ratings []domain.Rating
	// Rated is false for both_bad, which does not move ratings.
	Rated bool
}

// StartBattle creates a battle between two contenders and fetches both
// answers before storing it.
func (m *Manager) StartBattle(ctx context.Context, req BattleRequest) (b *domain.Battle, err error) {
	ctx, span := m.startSpan(ctx, "arena.start_battle")
	defer func() { endSpan(span, err) }()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		verr := domain.NewValidationError("battle", domain.ErrInvalidRequest)
		verr.AddError("message is required")
		return nil, verr
	}

	left, right := req.Left, req.Right
	if left == "" && right == "" {
		pair := m.samplePairFromPool()
		left, right = pair[0], pair[1]
	}
	verr := domain.NewValidationError("battle", domain.ErrInvalidRequest)
	for _, id := range []string{left, right} {
		if id != "" && !slices.Contains(m.pool, id) {
			verr.AddError(fmt.Sprintf("contender %q is not in the pool", id))
		}
	}
	if verr.HasErrors() {
		return nil, verr
	}

	b, err = domain.NewBattle(m.newID(), message, left, right, req.History, m.now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("arena.session_id", b.ID))

	m.collector.CollectBattle(ctx, b)
	if err := m.battles.Store(ctx, b.ID, b); err != nil {
		return nil, fmt.Errorf("store battle: %w", err)
	}
	m.logger.WithSession(b.ID).Info("battle started", "left", left, "right", right)
	return b, nil
}

// samplePairFromPool draws two distinct contenders in random order.
func (m *Manager) samplePairFromPool() [2]string {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	i := m.rng.IntN(len(m.pool))
	j := m.rng.IntN(len(m.pool) - 1)
	if j >= i {
		j++
	}
	return [2]string{m.pool[i], m.pool[j]}
}

// GetBattle loads a battle.
func (m *Manager) GetBattle(ctx context.Context, id string) (*domain.Battle, error) {
	return m.battles.Get(ctx, id)
}

// VoteBattle records the preference for a battle and updates ratings. The
// preference is validated before the battle is loaded. A battle accepts
// exactly one vote.
func (m *Manager) VoteBattle(ctx context.Context, id, rawPreference string) (res VoteResult, err error) {
	ctx, span := m.startSpan(ctx, "arena.vote_battle", attribute.String("arena.session_id", id))
	defer func() { endSpan(span, err) }()

	pref, err := ParsePreference(rawPreference)
	if err != nil {
		return VoteResult{}, err
	}

	b, err := m.battles.Get(ctx, id)
	if err != nil {
		return VoteResult{}, err
	}
	if err := b.Vote(pref, m.now()); err != nil {
		return VoteResult{}, err
	}
	m.metrics.RecordCounter(MetricBattlesVoted, 1, map[string]string{"preference": string(pref)})

	logger := m.logger.WithSession(id)
	res = VoteResult{Battle: b}
	if outcome, ok := b.Outcome(); ok {
		res.Ratings = m.rate(ctx, logger, b.Left.Contender, b.Right.Contender, outcome)
		res.Rated = res.Ratings != nil
	}

	if err := m.battles.Update(ctx, id, b); err != nil {
		return VoteResult{}, fmt.Errorf("update battle: %w", err)
	}
	logger.Info("battle voted", "preference", pref, "rated", res.Rated)
	return res, nil
}

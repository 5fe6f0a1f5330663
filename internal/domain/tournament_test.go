package domain

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRand(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed^0x9e3779b9)) }

func mustTournament(t *testing.T, pool []string, challenger string) *Tournament {
	t.Helper()
	tour, err := NewTournament("t-1", "what is a monad?", pool, challenger, testNow)
	require.NoError(t, err)
	return tour
}

// TestRecordRound_FourContenderScenario walks the A/B/C/D bracket with D
// reserved as final challenger.
func TestRecordRound_FourContenderScenario(t *testing.T) {
	tour := mustTournament(t, []string{"A", "B", "C", "D"}, "D")
	r := newTestRand(1)

	require.NotNil(t, tour.CurrentPair)
	assert.Equal(t, Pair{Left: "A", Right: "B"}, *tour.CurrentPair, "round 0 should pair the first two non-challengers")

	more, err := tour.RecordRound(ChoiceRight, r, testNow)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, Pair{Left: "B", Right: "C"}, *tour.CurrentPair)

	more, err = tour.RecordRound(ChoiceRight, r, testNow)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, Pair{Left: "C", Right: "D"}, *tour.CurrentPair)

	more, err = tour.RecordRound(ChoiceRight, r, testNow)
	require.NoError(t, err)
	assert.False(t, more)

	assert.True(t, tour.Completed)
	assert.Nil(t, tour.CurrentPair)
	assert.Equal(t, []string{"D", "C", "B", "A"}, tour.FinalRanking)
	assert.Equal(t, []string{"A", "B", "C"}, tour.Eliminated)
	assert.Equal(t, []string{"D"}, tour.WinnerChain)
	assert.Equal(t, []string{"B", "C", "D"}, tour.Champions)
	assert.Equal(t, []string{"D"}, tour.Remaining)
	assert.Equal(t, 3, tour.Round)
	assert.Len(t, tour.History, 3)
}

// TestRecordRound_ChampionDefends keeps the same champion across rounds.
func TestRecordRound_ChampionDefends(t *testing.T) {
	tour := mustTournament(t, []string{"A", "B", "C"}, "")
	r := newTestRand(2)

	_, err := tour.RecordRound(ChoiceLeft, r, testNow)
	require.NoError(t, err)
	assert.Equal(t, Pair{Left: "A", Right: "C"}, *tour.CurrentPair)

	more, err := tour.RecordRound(ChoiceLeft, r, testNow)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []string{"A", "C", "B"}, tour.FinalRanking)
	assert.Equal(t, []string{"A"}, tour.Champions)
}

// TestRecordRound_Invariants plays random brackets of every size and checks
// the structural guarantees after each round.
func TestRecordRound_Invariants(t *testing.T) {
	for n := 2; n <= 8; n++ {
		for seed := uint64(0); seed < 25; seed++ {
			pool := make([]string, n)
			for i := range pool {
				pool[i] = string(rune('A' + i))
			}
			challenger := ""
			if seed%2 == 0 {
				challenger = pool[int(seed)%n]
			}
			tour := mustTournament(t, pool, challenger)
			r := newTestRand(seed)
			choices := []Choice{ChoiceLeft, ChoiceRight, ChoiceTie}

			for !tour.Completed {
				prevRemaining := len(tour.Remaining)
				pair := *tour.CurrentPair
				if challenger != "" && pair.Contains(challenger) {
					assert.Equal(t, n-2, tour.Round, "challenger may only play the last round (n=%d seed=%d)", n, seed)
				}

				_, err := tour.RecordRound(choices[r.IntN(len(choices))], r, testNow)
				require.NoError(t, err)

				last := tour.History[len(tour.History)-1]
				assert.Equal(t, prevRemaining-1, len(tour.Remaining), "exactly one contender leaves per round")
				assert.Contains(t, tour.Remaining, last.Winner, "round winner is never removed")
				assert.NotContains(t, tour.Remaining, last.Loser)
				for _, w := range tour.WinnerChain {
					assert.NotContains(t, tour.Eliminated, w, "winner chain and eliminated must be disjoint")
				}
				for _, c := range pool {
					played := slices.ContainsFunc(tour.History, func(cmp Comparison) bool { return cmp.Pair.Contains(c) })
					assert.Equal(t, played, tour.HasPlayed(c))
				}
			}

			assert.Equal(t, n-1, tour.Round)
			assert.Len(t, tour.WinnerChain, n-len(tour.Eliminated))
			assert.Equal(t, n, len(tour.WinnerChain)+len(tour.Eliminated))
			assert.Equal(t, tour.WinnerChain[len(tour.WinnerChain)-1], tour.FinalRanking[0])
			reversed := slices.Clone(tour.Eliminated)
			slices.Reverse(reversed)
			assert.Equal(t, reversed, tour.FinalRanking[1:])
		}
	}
}

func TestRecordRound_InvalidChoiceLeavesStateUntouched(t *testing.T) {
	tour := mustTournament(t, []string{"A", "B", "C"}, "")
	before := *tour

	more, err := tour.RecordRound(Choice("maybe"), newTestRand(3), testNow)

	require.Error(t, err)
	assert.False(t, more)
	assert.True(t, errors.Is(err, ErrInvalidChoice))
	assert.True(t, IsValidation(err))
	assert.Equal(t, before.Round, tour.Round)
	assert.Empty(t, tour.History)
	assert.Equal(t, before.Remaining, tour.Remaining)
	assert.Equal(t, *before.CurrentPair, *tour.CurrentPair)
}

func TestRecordRound_CompletedIsImmutable(t *testing.T) {
	tour := mustTournament(t, []string{"A", "B"}, "")
	_, err := tour.RecordRound(ChoiceLeft, newTestRand(4), testNow)
	require.NoError(t, err)
	require.True(t, tour.Completed)

	_, err = tour.RecordRound(ChoiceLeft, newTestRand(4), testNow)
	assert.ErrorIs(t, err, ErrSessionCompleted)
	assert.False(t, tour.SetResponse("A", Response{Text: "late"}), "completed tournaments reject cache writes")
	assert.Equal(t, []string{"A", "B"}, tour.FinalRanking)
}

func TestRecordRound_TieIsUnbiased(t *testing.T) {
	r := newTestRand(5)
	leftWins := 0
	const trials = 2000
	for range trials {
		tour := mustTournament(t, []string{"A", "B"}, "")
		_, err := tour.RecordRound(ChoiceTie, r, testNow)
		require.NoError(t, err)
		if tour.FinalRanking[0] == "A" {
			leftWins++
		}
		assert.Equal(t, ChoiceTie, tour.History[0].Choice)
	}
	assert.InDelta(t, trials/2, leftWins, trials*0.06, "tie should pick each side about half the time")
}

func TestRecordRound_SelectorDefectCompletesEarly(t *testing.T) {
	tour := mustTournament(t, []string{"A", "B", "C"}, "")
	// Corrupt the bracket so no unused contender exists while two remain.
	tour.Eliminated = []string{"C"}

	more, err := tour.RecordRound(ChoiceLeft, newTestRand(6), testNow)

	assert.False(t, more)
	assert.ErrorIs(t, err, ErrNoCandidate)
	assert.True(t, tour.Completed, "a defect terminates the session instead of hanging")
	assert.NotEmpty(t, tour.FinalRanking)
}

func TestNewTournament_Validation(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		pool       []string
		challenger string
	}{
		{name: "missing id", id: "", pool: []string{"A", "B"}},
		{name: "single contender", id: "x", pool: []string{"A"}},
		{name: "duplicate contender", id: "x", pool: []string{"A", "A", "B"}},
		{name: "empty contender", id: "x", pool: []string{"A", ""}},
		{name: "challenger outside pool", id: "x", pool: []string{"A", "B"}, challenger: "Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTournament(tt.id, "msg", tt.pool, tt.challenger, testNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestTournament_ResponseCache(t *testing.T) {
	tour := mustTournament(t, []string{"A", "B", "C"}, "")
	assert.Equal(t, []string{"A", "B", "C"}, tour.MissingResponses())

	assert.True(t, tour.SetResponse("B", Response{Text: "b"}))
	assert.False(t, tour.SetResponse("Z", Response{Text: "z"}), "unknown contenders are rejected")

	assert.Equal(t, []string{"A", "C"}, tour.MissingResponses())
	got := tour.CurrentResponses()
	assert.Len(t, got, 1)
	assert.Equal(t, "b", got["B"].Text)
}

func TestNewFailedResponse(t *testing.T) {
	r := NewFailedResponse(errors.New("deadline exceeded"), 2*time.Second)
	assert.True(t, r.Failed)
	assert.Equal(t, FailedResponsePlaceholder, r.Text)
	assert.Equal(t, "deadline exceeded", r.Error)
	assert.Equal(t, 2*time.Second, r.Latency)
}

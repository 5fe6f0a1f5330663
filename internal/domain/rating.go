package domain

import (
	"errors"
	"math"
	"sort"
	"time"
)

// Elo defaults.
const (
	DefaultInitialRating = 1500.0
	DefaultKFactor       = 32.0
)

// Rating errors.
var (
	ErrInvalidRating  = errors.New("rating value is invalid")
	ErrInvalidKFactor = errors.New("k-factor must be positive")
)

// Outcome is the result of one comparison from contender A's perspective.
type Outcome int

// Comparison outcomes.
const (
	OutcomeAWins Outcome = iota
	OutcomeBWins
	OutcomeDraw
)

// scores returns the actual scores for A and B.
func (o Outcome) scores() (float64, float64) {
	switch o {
	case OutcomeAWins:
		return 1, 0
	case OutcomeBWins:
		return 0, 1
	default:
		return 0.5, 0.5
	}
}

// Rating is a contender's persisted skill estimate and record.
type Rating struct {
	Contender string    `json:"contender"`
	Score     float64   `json:"score"`
	Battles   int       `json:"battles"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Ties      int       `json:"ties"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WinRate is wins over battles, or 0 before any battle.
func (r Rating) WinRate() float64 {
	if r.Battles == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Battles)
}

// Elo computes rating updates with a fixed K-factor.
type Elo struct {
	InitialRating float64
	KFactor       float64
}

// NewElo validates the parameters and returns an Elo calculator.
func NewElo(initial, k float64) (Elo, error) {
	if k <= 0 || math.IsNaN(k) || math.IsInf(k, 0) {
		return Elo{}, ErrInvalidKFactor
	}
	if math.IsNaN(initial) || math.IsInf(initial, 0) {
		return Elo{}, ErrInvalidRating
	}
	return Elo{InitialRating: initial, KFactor: k}, nil
}

// DefaultElo returns the 1500 / K=32 calculator.
func DefaultElo() Elo {
	return Elo{InitialRating: DefaultInitialRating, KFactor: DefaultKFactor}
}

// NewRating returns a baseline rating for a contender that has never played.
func (e Elo) NewRating(contender string) Rating {
	return Rating{Contender: contender, Score: e.InitialRating}
}

// Expected is the probability that a player rated ra beats one rated rb.
func (e Elo) Expected(ra, rb float64) float64 {
	return 1.0 / (1.0 + math.Pow(10.0, (rb-ra)/400.0))
}

// Apply returns the updated ratings of a and b after one comparison.
func (e Elo) Apply(a, b Rating, outcome Outcome, now time.Time) (Rating, Rating) {
	expectedA := e.Expected(a.Score, b.Score)
	expectedB := e.Expected(b.Score, a.Score)
	actualA, actualB := outcome.scores()

	a.Score += e.KFactor * (actualA - expectedA)
	b.Score += e.KFactor * (actualB - expectedB)
	a.Battles++
	b.Battles++
	a.UpdatedAt, b.UpdatedAt = now, now

	switch outcome {
	case OutcomeAWins:
		a.Wins++
		b.Losses++
	case OutcomeBWins:
		b.Wins++
		a.Losses++
	default:
		a.Ties++
		b.Ties++
	}
	return a, b
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank      int     `json:"rank"`
	Contender string  `json:"contender"`
	Rating    float64 `json:"rating"`
	Battles   int     `json:"battles"`
	WinRate   float64 `json:"win_rate"`
}

// BuildLeaderboard ranks ratings by score, highest first. Equal scores are
// ordered by contender id so output is stable.
func BuildLeaderboard(ratings []Rating) []LeaderboardEntry {
	sorted := make([]Rating, len(ratings))
	copy(sorted, ratings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Contender < sorted[j].Contender
	})

	entries := make([]LeaderboardEntry, len(sorted))
	for i, r := range sorted {
		entries[i] = LeaderboardEntry{
			Rank:      i + 1,
			Contender: r.Contender,
			Rating:    r.Score,
			Battles:   r.Battles,
			WinRate:   r.WinRate(),
		}
	}
	return entries
}

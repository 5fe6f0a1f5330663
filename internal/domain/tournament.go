// Package domain contains the pure arena model: battles, progressive
// tournaments, the matchup selector and Elo ratings. It has no I/O.
package domain

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

// Choice is a user's vote on the current tournament pair.
type Choice string

// Accepted tournament choices.
const (
	ChoiceLeft  Choice = "left"
	ChoiceRight Choice = "right"
	ChoiceTie   Choice = "tie"
)

// Valid reports whether c is one of the accepted choices.
func (c Choice) Valid() bool {
	switch c {
	case ChoiceLeft, ChoiceRight, ChoiceTie:
		return true
	default:
		return false
	}
}

// ParseChoice converts a raw vote value into a Choice. Matching is exact;
// callers normalize user input before parsing.
func ParseChoice(raw string) (Choice, error) {
	c := Choice(raw)
	if !c.Valid() {
		verr := NewValidationError("choice", ErrInvalidChoice)
		verr.AddError(fmt.Sprintf("%q is not one of left, right, tie", raw))
		return "", verr
	}
	return c, nil
}

// Pair is the two contenders shown side by side in one round.
type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Contains reports whether id is one side of the pair.
func (p Pair) Contains(id string) bool { return p.Left == id || p.Right == id }

// Response is one contender's answer to the user message. Failed responses
// carry placeholder text so a round can proceed with partial data.
type Response struct {
	Text      string        `json:"text"`
	Latency   time.Duration `json:"latency"`
	TokensIn  int           `json:"tokens_in"`
	TokensOut int           `json:"tokens_out"`
	Failed    bool          `json:"failed"`
	Error     string        `json:"error,omitempty"`
}

// FailedResponsePlaceholder is shown in place of a contender that produced
// no answer.
const FailedResponsePlaceholder = "[This model did not respond in time. Please judge the other answer.]"

// NewFailedResponse builds the placeholder for a contender whose backend
// errored or timed out.
func NewFailedResponse(err error, latency time.Duration) Response {
	r := Response{Text: FailedResponsePlaceholder, Latency: latency, Failed: true}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Comparison records the outcome of one tournament round.
type Comparison struct {
	Round  int       `json:"round"`
	Pair   Pair      `json:"pair"`
	Choice Choice    `json:"choice"`
	Winner string    `json:"winner"`
	Loser  string    `json:"loser"`
	At     time.Time `json:"at"`
}

// Tournament is a progressive elimination bracket: each round's winner stays
// on to face a contender that has not yet played. The zero value is not
// usable; construct with NewTournament.
type Tournament struct {
	ID string
	// Contenders is the ordered pool. It never changes after creation and
	// defines "first unused contender" for matchmaking.
	Contenders []string
	// FinalChallenger, when set, is held back until it is the only unused
	// contender.
	FinalChallenger string
	Message         string
	Responses       map[string]Response
	History         []Comparison
	Round           int
	CurrentPair     *Pair
	// Eliminated lists losers in elimination order.
	Eliminated []string
	// WinnerChain lists contenders that have won a round and were never
	// eliminated. It is disjoint from Eliminated.
	WinnerChain []string
	// Champions is the ordered lineage of every contender that has held the
	// title, including those later dethroned.
	Champions    []string
	Remaining    []string
	FinalRanking []string
	Completed    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewTournament validates the pool and returns a tournament with every
// contender remaining and the round 0 pair selected.
func NewTournament(id, message string, contenders []string, finalChallenger string, now time.Time) (*Tournament, error) {
	verr := NewValidationError("tournament", ErrInvalidRequest)
	if id == "" {
		verr.AddError("id is required")
	}
	if len(contenders) < 2 {
		verr.AddError("at least two contenders are required")
	}
	seen := make(map[string]bool, len(contenders))
	for _, c := range contenders {
		if c == "" {
			verr.AddError("contender id cannot be empty")
			continue
		}
		if seen[c] {
			verr.AddError(fmt.Sprintf("duplicate contender %q", c))
		}
		seen[c] = true
	}
	if finalChallenger != "" && !seen[finalChallenger] {
		verr.AddError(fmt.Sprintf("final challenger %q is not in the pool", finalChallenger))
	}
	if verr.HasErrors() {
		return nil, verr
	}

	t := &Tournament{
		ID:              id,
		Contenders:      slices.Clone(contenders),
		FinalChallenger: finalChallenger,
		Message:         message,
		Responses:       make(map[string]Response, len(contenders)),
		Remaining:       slices.Clone(contenders),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	pair, err := NextMatchup(t)
	if err != nil {
		return nil, err
	}
	t.CurrentPair = pair
	return t, nil
}

// Champion returns the current title holder, or "" before the first round.
func (t *Tournament) Champion() string {
	if len(t.WinnerChain) == 0 {
		return ""
	}
	return t.WinnerChain[len(t.WinnerChain)-1]
}

// HasPlayed reports whether id has taken part in at least one round.
func (t *Tournament) HasPlayed(id string) bool {
	return slices.Contains(t.WinnerChain, id) || slices.Contains(t.Eliminated, id)
}

// TotalRounds is the number of rounds a full bracket takes.
func (t *Tournament) TotalRounds() int { return len(t.Contenders) - 1 }

// CachedResponse returns the stored answer for id, if any.
func (t *Tournament) CachedResponse(id string) (Response, bool) {
	r, ok := t.Responses[id]
	return r, ok
}

// SetResponse caches a contender answer. Completed tournaments are immutable
// and reject the write.
func (t *Tournament) SetResponse(id string, r Response) bool {
	if t.Completed || !slices.Contains(t.Contenders, id) {
		return false
	}
	if t.Responses == nil {
		t.Responses = make(map[string]Response, len(t.Contenders))
	}
	t.Responses[id] = r
	return true
}

// MissingResponses returns contenders with no cached answer in pool order.
func (t *Tournament) MissingResponses() []string {
	var missing []string
	for _, c := range t.Contenders {
		if _, ok := t.Responses[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// CurrentResponses returns the cached answers for both sides of the current
// pair. Sides with no cached answer are omitted.
func (t *Tournament) CurrentResponses() map[string]Response {
	out := make(map[string]Response, 2)
	if t.CurrentPair == nil {
		return out
	}
	for _, id := range []string{t.CurrentPair.Left, t.CurrentPair.Right} {
		if r, ok := t.Responses[id]; ok {
			out[id] = r
		}
	}
	return out
}

// RecordRound applies a vote to the current pair and advances the bracket.
// A tie picks a nominal winner uniformly at random using r. It returns true
// when another round is pending.
//
// When the selector cannot find an opponent while contenders remain, the
// tournament is completed early and ErrNoCandidate is returned alongside
// false so the caller can report the defect.
func (t *Tournament) RecordRound(choice Choice, r *rand.Rand, now time.Time) (bool, error) {
	if !choice.Valid() {
		_, err := ParseChoice(string(choice))
		return false, err
	}
	if t.Completed {
		return false, NewSessionError(t.ID, "record_round", ErrSessionCompleted)
	}
	if t.CurrentPair == nil {
		return false, NewSessionError(t.ID, "record_round", ErrNoCurrentPair)
	}

	pair := *t.CurrentPair
	winner, loser := pair.Left, pair.Right
	switch choice {
	case ChoiceRight:
		winner, loser = pair.Right, pair.Left
	case ChoiceTie:
		if r.IntN(2) == 1 {
			winner, loser = pair.Right, pair.Left
		}
	}

	t.History = append(t.History, Comparison{
		Round:  t.Round,
		Pair:   pair,
		Choice: choice,
		Winner: winner,
		Loser:  loser,
		At:     now,
	})

	if !slices.Contains(t.WinnerChain, winner) {
		t.WinnerChain = append(t.WinnerChain, winner)
	}
	if len(t.Champions) == 0 || t.Champions[len(t.Champions)-1] != winner {
		t.Champions = append(t.Champions, winner)
	}
	t.WinnerChain = slices.DeleteFunc(t.WinnerChain, func(id string) bool { return id == loser })
	t.Eliminated = append(t.Eliminated, loser)
	t.Remaining = slices.DeleteFunc(t.Remaining, func(id string) bool { return id == loser })
	t.Round++
	t.UpdatedAt = now

	if len(t.Remaining) > 1 && t.Round < t.TotalRounds() {
		next, err := NextMatchup(t)
		if err != nil {
			t.complete()
			return false, NewSessionError(t.ID, "record_round", err)
		}
		t.CurrentPair = next
		return true, nil
	}

	t.complete()
	return false, nil
}

// complete freezes the bracket and computes the final ranking.
func (t *Tournament) complete() {
	ranking := make([]string, 0, len(t.Eliminated)+1)
	if champ := t.Champion(); champ != "" {
		ranking = append(ranking, champ)
	}
	for i := len(t.Eliminated) - 1; i >= 0; i-- {
		ranking = append(ranking, t.Eliminated[i])
	}
	t.FinalRanking = ranking
	t.CurrentPair = nil
	t.Completed = true
}

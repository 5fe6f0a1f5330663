package domain

import (
	"fmt"
	"time"
)

// Preference is a user's verdict on a single battle.
type Preference string

// Accepted battle preferences.
const (
	PreferenceLeft    Preference = "left"
	PreferenceRight   Preference = "right"
	PreferenceTie     Preference = "tie"
	PreferenceBothBad Preference = "both_bad"
)

// Valid reports whether p is one of the accepted preferences.
func (p Preference) Valid() bool {
	switch p {
	case PreferenceLeft, PreferenceRight, PreferenceTie, PreferenceBothBad:
		return true
	default:
		return false
	}
}

// ParsePreference converts a raw vote value into a Preference.
func ParsePreference(raw string) (Preference, error) {
	p := Preference(raw)
	if !p.Valid() {
		verr := NewValidationError("preference", ErrInvalidChoice)
		verr.AddError(fmt.Sprintf("%q is not one of left, right, tie, both_bad", raw))
		return "", verr
	}
	return p, nil
}

// MaxBattleHistory caps the conversation turns carried on a battle.
const MaxBattleHistory = 20

// Turn is one prior conversation message given to contenders as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Side is one contender slot of a battle.
type Side struct {
	Contender string    `json:"contender"`
	Response  *Response `json:"response,omitempty"`
}

// Battle is one blind head-to-head comparison for a single user message.
type Battle struct {
	ID         string
	Message    string
	Left       Side
	Right      Side
	Preference *Preference
	History    []Turn
	CreatedAt  time.Time
	VotedAt    *time.Time
}

// NewBattle creates an unvoted battle between two distinct contenders. Only
// the most recent MaxBattleHistory turns are retained.
func NewBattle(id, message, left, right string, history []Turn, now time.Time) (*Battle, error) {
	verr := NewValidationError("battle", ErrInvalidRequest)
	if id == "" {
		verr.AddError("id is required")
	}
	if left == "" || right == "" {
		verr.AddError("both contenders are required")
	}
	if left == right && left != "" {
		verr.AddError("contenders must differ")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	if len(history) > MaxBattleHistory {
		history = history[len(history)-MaxBattleHistory:]
	}
	turns := make([]Turn, len(history))
	copy(turns, history)

	return &Battle{
		ID:        id,
		Message:   message,
		Left:      Side{Contender: left},
		Right:     Side{Contender: right},
		History:   turns,
		CreatedAt: now,
	}, nil
}

// Voted reports whether a preference has been recorded.
func (b *Battle) Voted() bool { return b.Preference != nil }

// SetResponse stores a contender answer on the matching side.
func (b *Battle) SetResponse(contender string, r Response) bool {
	switch contender {
	case b.Left.Contender:
		b.Left.Response = &r
	case b.Right.Contender:
		b.Right.Response = &r
	default:
		return false
	}
	return true
}

// Vote records the user's preference. A preference is set at most once.
func (b *Battle) Vote(p Preference, now time.Time) error {
	if !p.Valid() {
		_, err := ParsePreference(string(p))
		return err
	}
	if b.Voted() {
		return NewSessionError(b.ID, "vote", ErrAlreadyVoted)
	}
	b.Preference = &p
	b.VotedAt = &now
	return nil
}

// Outcome returns the Elo outcome for (left, right). ok is false for
// unvoted battles and both_bad, which do not move ratings.
func (b *Battle) Outcome() (outcome Outcome, ok bool) {
	if b.Preference == nil {
		return 0, false
	}
	switch *b.Preference {
	case PreferenceLeft:
		return OutcomeAWins, true
	case PreferenceRight:
		return OutcomeBWins, true
	case PreferenceTie:
		return OutcomeDraw, true
	default:
		return 0, false
	}
}

package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// Export formats.
const (
	FormatDPO      = "dpo"
	FormatPairwise = "pairwise"
)

// Preference sources.
const (
	SourceTournament = "tournament"
	SourceBattle     = "battle"
)

// PreferencePair is one chosen/rejected example derived from a vote.
type PreferencePair struct {
	Source        string
	SessionID     string
	Round         int
	Prompt        string
	History       []domain.Turn
	ChosenModel   string
	RejectedModel string
	Chosen        string
	Rejected      string
	At            time.Time
}

type dpoRecord struct {
	Prompt   string `json:"prompt"`
	Chosen   string `json:"chosen"`
	Rejected string `json:"rejected"`
}

type pairwiseRecord struct {
	Source        string        `json:"source"`
	SessionID     string        `json:"session_id"`
	Round         int           `json:"round"`
	Prompt        string        `json:"prompt"`
	History       []domain.Turn `json:"history,omitempty"`
	ChosenModel   string        `json:"chosen_model"`
	RejectedModel string        `json:"rejected_model"`
	Chosen        string        `json:"chosen"`
	Rejected      string        `json:"rejected"`
	At            time.Time     `json:"at"`
}

// TournamentPairs returns one pair per decisive round of a completed
// tournament. Ties and rounds with a placeholder answer are skipped.
func TournamentPairs(t *domain.Tournament) []PreferencePair {
	if !t.Completed {
		return nil
	}
	var out []PreferencePair
	for _, c := range t.History {
		if c.Choice == domain.ChoiceTie {
			continue
		}
		winner, okW := t.Responses[c.Winner]
		loser, okL := t.Responses[c.Loser]
		if !okW || !okL || winner.Failed || loser.Failed {
			continue
		}
		out = append(out, PreferencePair{
			Source:        SourceTournament,
			SessionID:     t.ID,
			Round:         c.Round,
			Prompt:        t.Message,
			ChosenModel:   c.Winner,
			RejectedModel: c.Loser,
			Chosen:        winner.Text,
			Rejected:      loser.Text,
			At:            c.At,
		})
	}
	return out
}

// BattlePair returns the pair for a battle voted left or right.
func BattlePair(b *domain.Battle) (PreferencePair, bool) {
	if b.Preference == nil || b.Left.Response == nil || b.Right.Response == nil {
		return PreferencePair{}, false
	}
	chosen, rejected := b.Left, b.Right
	switch *b.Preference {
	case domain.PreferenceLeft:
	case domain.PreferenceRight:
		chosen, rejected = b.Right, b.Left
	default:
		return PreferencePair{}, false
	}
	if chosen.Response.Failed || rejected.Response.Failed {
		return PreferencePair{}, false
	}
	p := PreferencePair{
		Source:        SourceBattle,
		SessionID:     b.ID,
		Prompt:        b.Message,
		History:       b.History,
		ChosenModel:   chosen.Contender,
		RejectedModel: rejected.Contender,
		Chosen:        chosen.Response.Text,
		Rejected:      rejected.Response.Text,
	}
	if b.VotedAt != nil {
		p.At = *b.VotedAt
	}
	return p, true
}

// ExportTrainingData writes every preference pair from live sessions to w as
// JSON lines in format and returns how many were written. Sessions that
// expire or fail to decode during the export are skipped.
func (m *Manager) ExportTrainingData(ctx context.Context, format string, w io.Writer) (n int, err error) {
	ctx, span := m.startSpan(ctx, "arena.export")
	defer func() { endSpan(span, err) }()

	encode, err := pairEncoder(format, w)
	if err != nil {
		return 0, err
	}

	tournamentIDs, err := m.tournaments.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tournaments: %w", err)
	}
	for _, id := range tournamentIDs {
		t, err := m.tournaments.Get(ctx, id)
		if err != nil {
			if m.skippable(id, err) {
				continue
			}
			return n, err
		}
		for _, p := range TournamentPairs(t) {
			if err := encode(p); err != nil {
				return n, err
			}
			n++
		}
	}

	battleIDs, err := m.battles.List(ctx)
	if err != nil {
		return n, fmt.Errorf("list battles: %w", err)
	}
	for _, id := range battleIDs {
		b, err := m.battles.Get(ctx, id)
		if err != nil {
			if m.skippable(id, err) {
				continue
			}
			return n, err
		}
		if p, ok := BattlePair(b); ok {
			if err := encode(p); err != nil {
				return n, err
			}
			n++
		}
	}

	m.logger.Info("training data exported", "format", format, "pairs", n)
	return n, nil
}

func (m *Manager) skippable(id string, err error) bool {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return true
	case errors.Is(err, ports.ErrRecordCorrupted):
		m.logger.WithSession(id).Warn("skipping corrupted session", "error", err)
		return true
	default:
		return false
	}
}

func pairEncoder(format string, w io.Writer) (func(PreferencePair) error, error) {
	enc := json.NewEncoder(w)
	switch format {
	case FormatDPO:
		return func(p PreferencePair) error {
			return enc.Encode(dpoRecord{Prompt: p.Prompt, Chosen: p.Chosen, Rejected: p.Rejected})
		}, nil
	case FormatPairwise:
		return func(p PreferencePair) error {
			return enc.Encode(pairwiseRecord{
				Source:        p.Source,
				SessionID:     p.SessionID,
				Round:         p.Round,
				Prompt:        p.Prompt,
				History:       p.History,
				ChosenModel:   p.ChosenModel,
				RejectedModel: p.RejectedModel,
				Chosen:        p.Chosen,
				Rejected:      p.Rejected,
				At:            p.At.UTC(),
			})
		}, nil
	default:
		verr := domain.NewValidationError("export", domain.ErrInvalidRequest)
		verr.AddError(fmt.Sprintf("unknown format %q, want %s or %s", format, FormatDPO, FormatPairwise))
		return nil, verr
	}
}

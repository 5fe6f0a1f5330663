package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// SchemaVersion is the only record version this package reads and writes.
const SchemaVersion = 1

// Codec converts an entity to and from its canonical stored record.
type Codec[T any] interface {
	Encode(v *T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

var recordValidator = validator.New(validator.WithRequiredStructEnabled())

// header is decoded first so unknown versions are rejected before the rest
// of the payload is trusted.
type header struct {
	SchemaVersion int `json:"schema_version"`
}

func checkVersion(data []byte) error {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRecordCorrupted, err)
	}
	if h.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", ports.ErrRecordCorrupted, h.SchemaVersion)
	}
	return nil
}

func decodeRecord(data []byte, rec any) error {
	if err := checkVersion(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRecordCorrupted, err)
	}
	if err := recordValidator.Struct(rec); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRecordCorrupted, err)
	}
	return nil
}

type responseRecord struct {
	Text      string `json:"text"`
	LatencyNS int64  `json:"latency_ns" validate:"gte=0"`
	TokensIn  int    `json:"tokens_in" validate:"gte=0"`
	TokensOut int    `json:"tokens_out" validate:"gte=0"`
	Failed    bool   `json:"failed"`
	Error     string `json:"error,omitempty"`
}

func toResponseRecord(r domain.Response) responseRecord {
	return responseRecord{
		Text:      r.Text,
		LatencyNS: int64(r.Latency),
		TokensIn:  r.TokensIn,
		TokensOut: r.TokensOut,
		Failed:    r.Failed,
		Error:     r.Error,
	}
}

func (r responseRecord) toDomain() domain.Response {
	return domain.Response{
		Text:      r.Text,
		Latency:   time.Duration(r.LatencyNS),
		TokensIn:  r.TokensIn,
		TokensOut: r.TokensOut,
		Failed:    r.Failed,
		Error:     r.Error,
	}
}

type comparisonRecord struct {
	Round  int       `json:"round" validate:"gte=0"`
	Left   string    `json:"left" validate:"required"`
	Right  string    `json:"right" validate:"required,nefield=Left"`
	Choice string    `json:"choice" validate:"oneof=left right tie"`
	Winner string    `json:"winner" validate:"required"`
	Loser  string    `json:"loser" validate:"required,nefield=Winner"`
	At     time.Time `json:"at" validate:"required"`
}

type pairRecord struct {
	Left  string `json:"left" validate:"required"`
	Right string `json:"right" validate:"required,nefield=Left"`
}

type tournamentRecord struct {
	SchemaVersion   int                       `json:"schema_version"`
	ID              string                    `json:"id" validate:"required"`
	Contenders      []string                  `json:"contenders" validate:"min=2,unique,dive,required"`
	FinalChallenger string                    `json:"final_challenger,omitempty"`
	Message         string                    `json:"message"`
	Responses       map[string]responseRecord `json:"responses" validate:"dive"`
	History         []comparisonRecord        `json:"history" validate:"dive"`
	Round           int                       `json:"round" validate:"gte=0"`
	CurrentPair     *pairRecord               `json:"current_pair"`
	Eliminated      []string                  `json:"eliminated"`
	WinnerChain     []string                  `json:"winner_chain"`
	Champions       []string                  `json:"champions"`
	Remaining       []string                  `json:"remaining" validate:"min=1"`
	FinalRanking    []string                  `json:"final_ranking,omitempty"`
	Completed       bool                      `json:"completed"`
	CreatedAt       time.Time                 `json:"created_at" validate:"required"`
	UpdatedAt       time.Time                 `json:"updated_at" validate:"required"`
}

// TournamentCodec encodes tournaments as versioned JSON. Timestamps are
// written in UTC as RFC 3339 with nanoseconds.
type TournamentCodec struct{}

// Encode implements Codec.
func (TournamentCodec) Encode(t *domain.Tournament) ([]byte, error) {
	rec := tournamentRecord{
		SchemaVersion:   SchemaVersion,
		ID:              t.ID,
		Contenders:      t.Contenders,
		FinalChallenger: t.FinalChallenger,
		Message:         t.Message,
		Responses:       make(map[string]responseRecord, len(t.Responses)),
		History:         make([]comparisonRecord, 0, len(t.History)),
		Round:           t.Round,
		Eliminated:      nonNil(t.Eliminated),
		WinnerChain:     nonNil(t.WinnerChain),
		Champions:       nonNil(t.Champions),
		Remaining:       nonNil(t.Remaining),
		FinalRanking:    t.FinalRanking,
		Completed:       t.Completed,
		CreatedAt:       t.CreatedAt.UTC(),
		UpdatedAt:       t.UpdatedAt.UTC(),
	}
	for id, r := range t.Responses {
		rec.Responses[id] = toResponseRecord(r)
	}
	for _, c := range t.History {
		rec.History = append(rec.History, comparisonRecord{
			Round:  c.Round,
			Left:   c.Pair.Left,
			Right:  c.Pair.Right,
			Choice: string(c.Choice),
			Winner: c.Winner,
			Loser:  c.Loser,
			At:     c.At.UTC(),
		})
	}
	if t.CurrentPair != nil {
		rec.CurrentPair = &pairRecord{Left: t.CurrentPair.Left, Right: t.CurrentPair.Right}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode tournament %s: %w", t.ID, err)
	}
	return data, nil
}

// Decode implements Codec. Records that fail validation or reference
// contenders outside the pool return ports.ErrRecordCorrupted.
func (TournamentCodec) Decode(data []byte) (*domain.Tournament, error) {
	var rec tournamentRecord
	if err := decodeRecord(data, &rec); err != nil {
		return nil, err
	}

	if rec.FinalChallenger != "" && !slices.Contains(rec.Contenders, rec.FinalChallenger) {
		return nil, fmt.Errorf("%w: final challenger %q not in pool", ports.ErrRecordCorrupted, rec.FinalChallenger)
	}
	for field, ids := range map[string][]string{
		"eliminated":    rec.Eliminated,
		"winner_chain":  rec.WinnerChain,
		"champions":     rec.Champions,
		"remaining":     rec.Remaining,
		"final_ranking": rec.FinalRanking,
	} {
		if !subsetOf(ids, rec.Contenders) {
			return nil, fmt.Errorf("%w: %s references a contender outside the pool", ports.ErrRecordCorrupted, field)
		}
	}
	for _, id := range rec.WinnerChain {
		if slices.Contains(rec.Eliminated, id) {
			return nil, fmt.Errorf("%w: %q is both champion and eliminated", ports.ErrRecordCorrupted, id)
		}
	}

	t := &domain.Tournament{
		ID:              rec.ID,
		Contenders:      rec.Contenders,
		FinalChallenger: rec.FinalChallenger,
		Message:         rec.Message,
		Responses:       make(map[string]domain.Response, len(rec.Responses)),
		History:         make([]domain.Comparison, 0, len(rec.History)),
		Round:           rec.Round,
		Eliminated:      rec.Eliminated,
		WinnerChain:     rec.WinnerChain,
		Champions:       rec.Champions,
		Remaining:       rec.Remaining,
		FinalRanking:    rec.FinalRanking,
		Completed:       rec.Completed,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	for id, r := range rec.Responses {
		t.Responses[id] = r.toDomain()
	}
	for _, c := range rec.History {
		t.History = append(t.History, domain.Comparison{
			Round:  c.Round,
			Pair:   domain.Pair{Left: c.Left, Right: c.Right},
			Choice: domain.Choice(c.Choice),
			Winner: c.Winner,
			Loser:  c.Loser,
			At:     c.At,
		})
	}
	if rec.CurrentPair != nil {
		t.CurrentPair = &domain.Pair{Left: rec.CurrentPair.Left, Right: rec.CurrentPair.Right}
	}
	return t, nil
}

type sideRecord struct {
	Contender string          `json:"contender" validate:"required"`
	Response  *responseRecord `json:"response,omitempty"`
}

type battleRecord struct {
	SchemaVersion int           `json:"schema_version"`
	ID            string        `json:"id" validate:"required"`
	Message       string        `json:"message"`
	Left          sideRecord    `json:"left"`
	Right         sideRecord    `json:"right"`
	Preference    *string       `json:"preference" validate:"omitempty,oneof=left right tie both_bad"`
	History       []domain.Turn `json:"history" validate:"max=20"`
	CreatedAt     time.Time     `json:"created_at" validate:"required"`
	VotedAt       *time.Time    `json:"voted_at"`
}

// BattleCodec encodes battles as versioned JSON.
type BattleCodec struct{}

// Encode implements Codec.
func (BattleCodec) Encode(b *domain.Battle) ([]byte, error) {
	rec := battleRecord{
		SchemaVersion: SchemaVersion,
		ID:            b.ID,
		Message:       b.Message,
		Left:          toSideRecord(b.Left),
		Right:         toSideRecord(b.Right),
		History:       nonNil(b.History),
		CreatedAt:     b.CreatedAt.UTC(),
	}
	if b.Preference != nil {
		p := string(*b.Preference)
		rec.Preference = &p
	}
	if b.VotedAt != nil {
		at := b.VotedAt.UTC()
		rec.VotedAt = &at
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode battle %s: %w", b.ID, err)
	}
	return data, nil
}

// Decode implements Codec.
func (BattleCodec) Decode(data []byte) (*domain.Battle, error) {
	var rec battleRecord
	if err := decodeRecord(data, &rec); err != nil {
		return nil, err
	}
	if rec.Left.Contender == rec.Right.Contender {
		return nil, fmt.Errorf("%w: battle %s pits %q against itself", ports.ErrRecordCorrupted, rec.ID, rec.Left.Contender)
	}
	if (rec.Preference == nil) != (rec.VotedAt == nil) {
		return nil, fmt.Errorf("%w: battle %s has preference without vote time", ports.ErrRecordCorrupted, rec.ID)
	}

	b := &domain.Battle{
		ID:        rec.ID,
		Message:   rec.Message,
		Left:      rec.Left.toDomain(),
		Right:     rec.Right.toDomain(),
		History:   rec.History,
		CreatedAt: rec.CreatedAt,
		VotedAt:   rec.VotedAt,
	}
	if rec.Preference != nil {
		p := domain.Preference(*rec.Preference)
		b.Preference = &p
	}
	return b, nil
}

func toSideRecord(s domain.Side) sideRecord {
	rec := sideRecord{Contender: s.Contender}
	if s.Response != nil {
		r := toResponseRecord(*s.Response)
		rec.Response = &r
	}
	return rec
}

func (s sideRecord) toDomain() domain.Side {
	side := domain.Side{Contender: s.Contender}
	if s.Response != nil {
		r := s.Response.toDomain()
		side.Response = &r
	}
	return side
}

func subsetOf(ids, pool []string) bool {
	for _, id := range ids {
		if !slices.Contains(pool, id) {
			return false
		}
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

var _ ports.RatingLedger = (*MemoryLedger)(nil)

// MemoryLedger keeps ratings in process memory.
type MemoryLedger struct {
	mu      sync.Mutex
	elo     domain.Elo
	ratings map[string]domain.Rating
	now     func() time.Time
}

// NewMemoryLedger returns an empty ledger using elo for updates.
func NewMemoryLedger(elo domain.Elo) *MemoryLedger {
	return &MemoryLedger{
		elo:     elo,
		ratings: make(map[string]domain.Rating),
		now:     time.Now,
	}
}

func (l *MemoryLedger) rating(id string) domain.Rating {
	if r, ok := l.ratings[id]; ok {
		return r
	}
	return l.elo.NewRating(id)
}

// Get implements ports.RatingLedger.
func (l *MemoryLedger) Get(ctx context.Context, id string) (domain.Rating, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rating{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rating(id), nil
}

// Update implements ports.RatingLedger.
func (l *MemoryLedger) Update(ctx context.Context, a, b string, outcome domain.Outcome) (domain.Rating, domain.Rating, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rating{}, domain.Rating{}, err
	}
	if a == b {
		return domain.Rating{}, domain.Rating{}, fmt.Errorf("%w: cannot rate %q against itself", domain.ErrInvalidRequest, a)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	ra, rb := l.elo.Apply(l.rating(a), l.rating(b), outcome, l.now().UTC())
	l.ratings[a] = ra
	l.ratings[b] = rb
	return ra, rb, nil
}

// All implements ports.RatingLedger. Ratings are ordered by contender id.
func (l *MemoryLedger) All(ctx context.Context) ([]domain.Rating, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Rating, 0, len(l.ratings))
	for _, r := range l.ratings {
		out = append(out, r)
	}
	sortRatings(out)
	return out, nil
}

func sortRatings(rs []domain.Rating) {
	slices.SortFunc(rs, func(x, y domain.Rating) int { return strings.Compare(x.Contender, y.Contender) })
}

// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the arena testable
// without live model providers or a shared session store.
package ports

import (
	"context"

	"github.com/ahrav/go-arena/internal/domain"
)

// GenerateOptions carries per-request generation settings passed to a
// contender backend.
type GenerateOptions struct {
	// Temperature controls sampling randomness. Zero leaves the provider
	// default in place.
	Temperature float64

	// MaxTokens bounds the completion length. Zero leaves the provider
	// default in place.
	MaxTokens int

	// System is an optional system instruction prepended by providers that
	// support one.
	System string

	// History is prior conversation context, oldest first.
	History []domain.Turn
}

// Generation is a single completion produced by a contender.
type Generation struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Generator is the capability interface every contender is reached through.
// The contender id selects the backend, typically in provider/model form
// such as "openai/gpt-4o".
//
// Implementations must be safe for concurrent use: the response collector
// calls Generate for every contender of a session at the same time.
// Implementations should respect ctx cancellation and return promptly once
// the deadline passes.
type Generator interface {
	Generate(ctx context.Context, contender, prompt string, opts GenerateOptions) (Generation, error)
}

// SessionStore persists one kind of arena session keyed by id.
// Stored values are owned by the store; callers hold a decoded copy for the
// duration of one request and write it back with Update.
//
// Get returns domain.ErrSessionNotFound for unknown or expired ids.
type SessionStore[T any] interface {
	// Store writes a new session.
	Store(ctx context.Context, id string, v *T) error

	// Get loads a session.
	Get(ctx context.Context, id string) (*T, error)

	// Update overwrites an existing session. Concurrent updates to the same
	// id are last-write-wins.
	Update(ctx context.Context, id string, v *T) error

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// List enumerates the ids of live sessions.
	List(ctx context.Context) ([]string, error)
}

// RatingLedger persists contender Elo ratings independently of any session.
type RatingLedger interface {
	// Get returns the rating for id, or a baseline rating when the contender
	// has never played.
	Get(ctx context.Context, id string) (domain.Rating, error)

	// Update applies one comparison between a and b and returns both
	// updated ratings.
	Update(ctx context.Context, a, b string, outcome domain.Outcome) (domain.Rating, domain.Rating, error)

	// All returns every rated contender in unspecified order.
	All(ctx context.Context) ([]domain.Rating, error)
}

// Intent is the classification of a user message by the intent router.
type Intent string

// Intents produced by an IntentRouter.
const (
	IntentNeedsTools         Intent = "needs_tools"
	IntentCanAnswer          Intent = "can_answer"
	IntentNeedsClarification Intent = "needs_clarification"
)

// IntentRouter decides whether a message can be answered by the arena
// without data tools. Only IntentCanAnswer messages enter a tournament.
type IntentRouter interface {
	Classify(ctx context.Context, message string) (Intent, error)
}

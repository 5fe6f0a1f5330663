package store

import (
	"context"
	"errors"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// EntityStore is a typed session store over a Backend namespace.
type EntityStore[T any] struct {
	backend   Backend
	namespace string
	codec     Codec[T]
}

var (
	_ ports.SessionStore[domain.Tournament] = (*EntityStore[domain.Tournament])(nil)
	_ ports.SessionStore[domain.Battle]     = (*EntityStore[domain.Battle])(nil)
)

// NewEntityStore returns a store that encodes T with codec under namespace.
func NewEntityStore[T any](backend Backend, namespace string, codec Codec[T]) *EntityStore[T] {
	return &EntityStore[T]{backend: backend, namespace: namespace, codec: codec}
}

// NewTournamentStore returns the tournament session store.
func NewTournamentStore(backend Backend) *EntityStore[domain.Tournament] {
	return NewEntityStore[domain.Tournament](backend, NamespaceTournament, TournamentCodec{})
}

// NewBattleStore returns the battle session store.
func NewBattleStore(backend Backend) *EntityStore[domain.Battle] {
	return NewEntityStore[domain.Battle](backend, NamespaceBattle, BattleCodec{})
}

func (s *EntityStore[T]) key(id string) string { return s.namespace + ":" + id }

// Store implements ports.SessionStore.
func (s *EntityStore[T]) Store(ctx context.Context, id string, v *T) error {
	return s.put(ctx, "store", id, v)
}

// Update implements ports.SessionStore. Concurrent updates are last write wins.
func (s *EntityStore[T]) Update(ctx context.Context, id string, v *T) error {
	return s.put(ctx, "update", id, v)
}

func (s *EntityStore[T]) put(ctx context.Context, op, id string, v *T) error {
	data, err := s.codec.Encode(v)
	if err != nil {
		return ports.NewStoreError(s.key(id), op, err)
	}
	if err := s.backend.Put(ctx, s.namespace, id, data); err != nil {
		return ports.NewStoreError(s.key(id), op, err)
	}
	return nil
}

// Get implements ports.SessionStore.
func (s *EntityStore[T]) Get(ctx context.Context, id string) (*T, error) {
	data, err := s.backend.Get(ctx, s.namespace, id)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ports.NewStoreError(s.key(id), "get", domain.ErrSessionNotFound)
	}
	if err != nil {
		return nil, ports.NewStoreError(s.key(id), "get", err)
	}
	v, err := s.codec.Decode(data)
	if err != nil {
		return nil, ports.NewStoreError(s.key(id), "decode", err)
	}
	return v, nil
}

// Delete implements ports.SessionStore.
func (s *EntityStore[T]) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, s.namespace, id); err != nil {
		return ports.NewStoreError(s.key(id), "delete", err)
	}
	return nil
}

// List implements ports.SessionStore.
func (s *EntityStore[T]) List(ctx context.Context) ([]string, error) {
	ids, err := s.backend.IDs(ctx, s.namespace)
	if err != nil {
		return nil, ports.NewStoreError(s.namespace, "list", err)
	}
	return ids, nil
}

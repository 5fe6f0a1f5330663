// Package store persists arena sessions and contender ratings.
//
// Sessions are encoded by a versioned codec and written through a Backend:
// Redis when a shared store is configured, an in-process map otherwise, or
// both composed with FallbackBackend so a Redis outage degrades to local
// state instead of failing requests. Ratings live in a RatingLedger backed
// by SQLite or memory.
package store

import (
	"context"
	"errors"
)

// Session namespaces.
const (
	NamespaceBattle     = "battle"
	NamespaceTournament = "tournament"
)

// DefaultKeyPrefix prefixes every Redis key written by the arena.
const DefaultKeyPrefix = "arena:"

// ErrKeyNotFound is returned by a Backend when no live value exists for a
// key. It is a plain miss, never a backend failure.
var ErrKeyNotFound = errors.New("key not found")

// Backend is raw byte storage partitioned by namespace. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Put writes value under namespace/id and marks id active.
	Put(ctx context.Context, namespace, id string, value []byte) error

	// Get returns the value under namespace/id or ErrKeyNotFound.
	Get(ctx context.Context, namespace, id string) ([]byte, error)

	// Delete removes namespace/id. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, id string) error

	// IDs lists the live ids in namespace in ascending order.
	IDs(ctx context.Context, namespace string) ([]string, error)
}

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/ports"
)

// recordingMetrics captures counters for assertions.
type recordingMetrics struct {
	ports.NopMetrics
	mu       sync.Mutex
	counters map[string]float64
	labels   []map[string]string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: make(map[string]float64)}
}

func (m *recordingMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric] += value
	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	m.labels = append(m.labels, copied)
}

func (m *recordingMetrics) count(metric string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[metric]
}

// failingBackend fails every call with err.
type failingBackend struct{ err error }

func (f failingBackend) Put(context.Context, string, string, []byte) error { return f.err }
func (f failingBackend) Get(context.Context, string, string) ([]byte, error) {
	return nil, f.err
}
func (f failingBackend) Delete(context.Context, string, string) error { return f.err }
func (f failingBackend) IDs(context.Context, string) ([]string, error) { return nil, f.err }

var errBackendDown = errors.New("connection refused")

func newMiniredisBackend(t *testing.T, ttl time.Duration) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackend(client, RedisConfig{TTL: ttl}), mr
}

// backendContract runs the behavior every Backend must share.
func backendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Get(ctx, NamespaceBattle, "missing")
	require.ErrorIs(t, err, ErrKeyNotFound, "a missing key is a plain miss")

	require.NoError(t, b.Put(ctx, NamespaceBattle, "b2", []byte("two")))
	require.NoError(t, b.Put(ctx, NamespaceBattle, "b1", []byte("one")))
	require.NoError(t, b.Put(ctx, NamespaceTournament, "t1", []byte("tour")))

	got, err := b.Get(ctx, NamespaceBattle, "b1")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got)

	ids, err := b.IDs(ctx, NamespaceBattle)
	require.NoError(t, err)
	require.Equal(t, []string{"b1", "b2"}, ids, "ids are sorted and namespaced")

	require.NoError(t, b.Put(ctx, NamespaceBattle, "b1", []byte("uno")))
	got, err = b.Get(ctx, NamespaceBattle, "b1")
	require.NoError(t, err)
	require.Equal(t, []byte("uno"), got, "put overwrites")

	require.NoError(t, b.Delete(ctx, NamespaceBattle, "b1"))
	require.NoError(t, b.Delete(ctx, NamespaceBattle, "never-existed"))
	_, err = b.Get(ctx, NamespaceBattle, "b1")
	require.ErrorIs(t, err, ErrKeyNotFound)

	ids, err = b.IDs(ctx, NamespaceBattle)
	require.NoError(t, err)
	require.Equal(t, []string{"b2"}, ids)
}

func TestBackendContract(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		backendContract(t, NewMemoryBackend(0))
	})
	t.Run("redis", func(t *testing.T) {
		b, _ := newMiniredisBackend(t, time.Hour)
		backendContract(t, b)
	})
	t.Run("fallback with healthy primary", func(t *testing.T) {
		b, _ := newMiniredisBackend(t, time.Hour)
		backendContract(t, NewFallbackBackend(b, NewMemoryBackend(0), nil, nil))
	})
	t.Run("fallback with failed primary", func(t *testing.T) {
		backendContract(t, NewFallbackBackend(failingBackend{err: errBackendDown}, NewMemoryBackend(0), nil, nil))
	})
}

func TestMemoryBackend_CopiesValues(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(0)

	value := []byte("original")
	require.NoError(t, b.Put(ctx, NamespaceBattle, "id", value))
	value[0] = 'X'

	got, err := b.Get(ctx, NamespaceBattle, "id")
	require.NoError(t, err)
	require.Equal(t, "original", string(got), "callers cannot mutate the stored value")

	got[0] = 'Y'
	again, err := b.Get(ctx, NamespaceBattle, "id")
	require.NoError(t, err)
	require.Equal(t, "original", string(again))
}

func TestMemoryBackend_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewMemoryBackend(time.Minute)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Put(ctx, NamespaceTournament, "t1", []byte("x")))
	now = now.Add(59 * time.Second)
	_, err := b.Get(ctx, NamespaceTournament, "t1")
	require.NoError(t, err, "entry is live before its ttl")

	now = now.Add(2 * time.Second)
	_, err = b.Get(ctx, NamespaceTournament, "t1")
	require.ErrorIs(t, err, ErrKeyNotFound, "expired entries read as missing")

	ids, err := b.IDs(ctx, NamespaceTournament)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Empty(t, b.data[NamespaceTournament], "listing prunes expired entries")
}

func TestMemoryBackend_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewMemoryBackend(0)

	require.ErrorIs(t, b.Put(ctx, NamespaceBattle, "id", nil), context.Canceled)
	_, err := b.Get(ctx, NamespaceBattle, "id")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRedisBackend_KeyLayoutAndTTL(t *testing.T) {
	ctx := context.Background()
	b, mr := newMiniredisBackend(t, 24*time.Hour)

	require.NoError(t, b.Put(ctx, NamespaceTournament, "abc", []byte("payload")))

	require.True(t, mr.Exists("arena:tournament:abc"))
	require.Equal(t, 24*time.Hour, mr.TTL("arena:tournament:abc"))
	members, err := mr.SMembers("arena:active:tournament")
	require.NoError(t, err)
	require.Equal(t, []string{"abc"}, members)
}

func TestRedisBackend_ExpiredKeysArePruned(t *testing.T) {
	ctx := context.Background()
	b, mr := newMiniredisBackend(t, time.Minute)

	require.NoError(t, b.Put(ctx, NamespaceBattle, "old", []byte("1")))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, b.Put(ctx, NamespaceBattle, "new", []byte("2")))

	_, err := b.Get(ctx, NamespaceBattle, "old")
	require.ErrorIs(t, err, ErrKeyNotFound, "expired sessions are indistinguishable from unknown ids")

	ids, err := b.IDs(ctx, NamespaceBattle)
	require.NoError(t, err)
	require.Equal(t, []string{"new"}, ids)

	members, err := mr.SMembers("arena:active:battle")
	require.NoError(t, err)
	require.Equal(t, []string{"new"}, members, "stale ids are removed from the active set")
}

func TestRedisBackend_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := NewRedisBackend(client, RedisConfig{Prefix: "test:"})

	require.NoError(t, b.Put(context.Background(), NamespaceBattle, "x", []byte("v")))

	require.True(t, mr.Exists("test:battle:x"))
	require.Zero(t, mr.TTL("test:battle:x"), "zero ttl disables expiry")
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := DialRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = DialRedis(context.Background(), "")
	require.Error(t, err)

	_, err = DialRedis(context.Background(), "http://not-redis")
	require.Error(t, err)

	addr := mr.Addr()
	mr.Close()
	_, err = DialRedis(context.Background(), "redis://"+addr)
	assert.ErrorContains(t, err, "redis ping")
}

func TestOpenRedis_DoesNotContactServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := OpenRedis("redis://" + addr)
	require.NoError(t, err, "a down server is not an open error")
	require.NoError(t, client.Close())

	_, err = OpenRedis("")
	require.Error(t, err)
}

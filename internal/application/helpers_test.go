package application

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/infrastructure/store"
	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/logging"
	"github.com/ahrav/go-arena/internal/ports"
	"github.com/ahrav/go-arena/internal/testutils"
)

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type metricCall struct {
	name   string
	value  float64
	labels map[string]string
}

// recordingMetrics captures counters and histograms for assertions.
type recordingMetrics struct {
	ports.NopMetrics
	mu         sync.Mutex
	counters   []metricCall
	histograms []metricCall
	latencies  []metricCall
}

func (m *recordingMetrics) RecordCounter(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, metricCall{name, value, labels})
}

func (m *recordingMetrics) RecordHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, metricCall{name, value, labels})
}

func (m *recordingMetrics) RecordLatency(name string, d time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, metricCall{name, d.Seconds(), labels})
}

func (m *recordingMetrics) counted(name string) []metricCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []metricCall
	for _, c := range m.counters {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (m *recordingMetrics) observed(name string) []metricCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []metricCall
	for _, c := range m.histograms {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// countingStore counts writes so tests can assert that reads stay
// read-only.
type countingStore[T any] struct {
	ports.SessionStore[T]
	mu      sync.Mutex
	stores  int
	updates int
}

func (s *countingStore[T]) Store(ctx context.Context, id string, v *T) error {
	s.mu.Lock()
	s.stores++
	s.mu.Unlock()
	return s.SessionStore.Store(ctx, id, v)
}

func (s *countingStore[T]) Update(ctx context.Context, id string, v *T) error {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return s.SessionStore.Update(ctx, id, v)
}

func (s *countingStore[T]) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores + s.updates
}

// arenaFixture is a Manager over in-memory stores with its collaborators
// exposed for assertions.
type arenaFixture struct {
	manager     *Manager
	generator   *testutils.MockGenerator
	tournaments *countingStore[domain.Tournament]
	battles     *countingStore[domain.Battle]
	backend     *store.MemoryBackend
	ledger      *store.MemoryLedger
	metrics     *recordingMetrics
	logs        *bytes.Buffer
}

func newArenaFixture(t *testing.T, opts ManagerOptions) *arenaFixture {
	t.Helper()
	backend := store.NewMemoryBackend(0)
	f := &arenaFixture{
		generator:   testutils.NewMockGenerator(),
		tournaments: &countingStore[domain.Tournament]{SessionStore: store.NewTournamentStore(backend)},
		battles:     &countingStore[domain.Battle]{SessionStore: store.NewBattleStore(backend)},
		backend:     backend,
		ledger:      store.NewMemoryLedger(domain.DefaultElo()),
		metrics:     &recordingMetrics{},
		logs:        &bytes.Buffer{},
	}
	logger := logging.New(f.logs, logging.LevelDebug, logging.FormatJSON)
	collector := NewResponseCollector(f.generator, CollectorOptions{
		DefaultTimeout: time.Second,
		Logger:         logger,
		Metrics:        f.metrics,
	})

	if opts.Contenders == nil {
		opts.Contenders = []string{"openai/a", "openai/b", "openai/c", "openai/d"}
	}
	opts.Logger = logger
	opts.Metrics = f.metrics
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return testNow }
	}
	if opts.NewID == nil {
		var mu sync.Mutex
		n := 0
		opts.NewID = func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("session-%d", n)
		}
	}

	m, err := NewManager(f.tournaments, f.battles, f.ledger, collector, opts)
	require.NoError(t, err, "Failed to create manager")
	f.manager = m
	return f
}

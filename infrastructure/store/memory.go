package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps values in process memory. It serves as the fallback
// behind Redis and as the only backend in single-process deployments.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]memoryEntry
	ttl  time.Duration
	now  func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// NewMemoryBackend creates an empty backend. A positive ttl expires an entry
// ttl after its last write; zero keeps entries forever.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string]map[string]memoryEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (m *MemoryBackend) live(e memoryEntry) bool {
	return e.expires.IsZero() || m.now().Before(e.expires)
}

// Put stores a copy of value.
func (m *MemoryBackend) Put(ctx context.Context, namespace, id string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		m.data[namespace] = ns
	}
	ns[id] = entry
	return nil
}

// Get returns a copy of the stored value.
func (m *MemoryBackend) Get(ctx context.Context, namespace, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[namespace][id]
	if !ok || !m.live(e) {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Delete removes the value.
func (m *MemoryBackend) Delete(ctx context.Context, namespace, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], id)
	return nil
}

// IDs lists unexpired ids and drops expired entries.
func (m *MemoryBackend) IDs(ctx context.Context, namespace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.data[namespace]
	ids := make([]string, 0, len(ns))
	for id, e := range ns {
		if !m.live(e) {
			delete(ns, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

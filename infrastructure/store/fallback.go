package store

import (
	"context"
	"errors"
	"sort"

	"github.com/ahrav/go-arena/internal/logging"
	"github.com/ahrav/go-arena/internal/ports"
)

// MetricStoreFallback counts operations served by the fallback backend
// because the primary failed.
const MetricStoreFallback = "store_fallback_total"

// FallbackBackend writes to and reads from a primary backend, switching to a
// secondary one for any operation the primary fails. A primary miss is not
// a failure, but reads still consult the secondary so sessions written
// during an outage remain reachable after recovery.
//
// While the primary is down, writes land only in this process's secondary
// and other processes cannot see them.
type FallbackBackend struct {
	primary   Backend
	secondary Backend
	logger    *logging.Logger
	metrics   ports.MetricsCollector
}

// NewFallbackBackend composes primary and secondary. A nil logger or
// metrics collector discards output.
func NewFallbackBackend(primary, secondary Backend, logger *logging.Logger, metrics ports.MetricsCollector) *FallbackBackend {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &FallbackBackend{
		primary:   primary,
		secondary: secondary,
		logger:    logger.WithComponent("store"),
		metrics:   metrics,
	}
}

func (f *FallbackBackend) degraded(operation, namespace, id string, err error) {
	f.logger.Warn("session store primary failed, using fallback",
		"operation", operation,
		"namespace", namespace,
		"id", id,
		"error", err,
	)
	f.metrics.RecordCounter(MetricStoreFallback, 1, map[string]string{
		"operation": operation,
		"namespace": namespace,
	})
}

// Put writes to the primary, or to the secondary if the primary fails. A
// successful primary write discards any copy left in the secondary.
func (f *FallbackBackend) Put(ctx context.Context, namespace, id string, value []byte) error {
	err := f.primary.Put(ctx, namespace, id, value)
	if err == nil {
		_ = f.secondary.Delete(ctx, namespace, id)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	f.degraded("put", namespace, id, err)
	return f.secondary.Put(ctx, namespace, id, value)
}

// Get reads the primary first and the secondary on a miss or failure.
func (f *FallbackBackend) Get(ctx context.Context, namespace, id string) ([]byte, error) {
	value, err := f.primary.Get(ctx, namespace, id)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		if ctx.Err() != nil {
			return nil, err
		}
		f.degraded("get", namespace, id, err)
	}
	return f.secondary.Get(ctx, namespace, id)
}

// Delete removes the key from both backends.
func (f *FallbackBackend) Delete(ctx context.Context, namespace, id string) error {
	if err := f.primary.Delete(ctx, namespace, id); err != nil {
		f.degraded("delete", namespace, id, err)
	}
	return f.secondary.Delete(ctx, namespace, id)
}

// IDs returns the union of both backends' ids. A failing primary
// contributes nothing.
func (f *FallbackBackend) IDs(ctx context.Context, namespace string) ([]string, error) {
	seen := make(map[string]struct{})

	primaryIDs, err := f.primary.IDs(ctx, namespace)
	if err != nil {
		f.degraded("ids", namespace, "", err)
	}
	for _, id := range primaryIDs {
		seen[id] = struct{}{}
	}

	secondaryIDs, err := f.secondary.IDs(ctx, namespace)
	if err != nil {
		return nil, err
	}
	for _, id := range secondaryIDs {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

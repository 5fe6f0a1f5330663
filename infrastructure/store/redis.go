package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL bounds how long an abandoned session survives.
const DefaultSessionTTL = 24 * time.Hour

// RedisConfig configures a RedisBackend.
type RedisConfig struct {
	// Prefix is prepended to every key. DefaultKeyPrefix when empty.
	Prefix string
	// TTL is applied to every value on each write. Zero disables expiry.
	TTL time.Duration
}

// RedisBackend stores values as Redis strings under
// <prefix><namespace>:<id> and tracks ids in a per-namespace SET at
// <prefix>active:<namespace>. Every process sharing the Redis instance sees
// the same sessions.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// OpenRedis parses a redis:// URL into a client without contacting the
// server. The client dials lazily and reconnects on its own.
func OpenRedis(rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// DialRedis opens a client and verifies the server answers PING.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	client, err := OpenRedis(rawURL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, cfg RedisConfig) *RedisBackend {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (r *RedisBackend) key(namespace, id string) string {
	return r.prefix + namespace + ":" + id
}

func (r *RedisBackend) activeKey(namespace string) string {
	return r.prefix + "active:" + namespace
}

// Put writes the value with the configured TTL and records id as active in
// one MULTI/EXEC.
func (r *RedisBackend) Put(ctx context.Context, namespace, id string, value []byte) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(namespace, id), value, r.ttl)
		p.SAdd(ctx, r.activeKey(namespace), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", r.key(namespace, id), err)
	}
	return nil
}

// Get reads the value, mapping redis.Nil to ErrKeyNotFound.
func (r *RedisBackend) Get(ctx context.Context, namespace, id string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(namespace, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key(namespace, id), err)
	}
	return value, nil
}

// Delete removes the value and its active-set membership.
func (r *RedisBackend) Delete(ctx context.Context, namespace, id string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key(namespace, id))
		p.SRem(ctx, r.activeKey(namespace), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", r.key(namespace, id), err)
	}
	return nil
}

// IDs returns active ids whose values have not expired. Members whose keys
// expired are pruned from the active set.
func (r *RedisBackend) IDs(ctx context.Context, namespace string) ([]string, error) {
	active := r.activeKey(namespace)
	members, err := r.client.SMembers(ctx, active).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", active, err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	cmds := make([]*redis.IntCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range members {
			cmds[i] = p.Exists(ctx, r.key(namespace, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis exists %s: %w", active, err)
	}

	live := make([]string, 0, len(members))
	var stale []any
	for i, id := range members {
		if cmds[i].Val() > 0 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, active, stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis prune %s: %w", active, err)
		}
	}

	sort.Strings(live)
	return live, nil
}

// Close closes the underlying client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// Package lastgood caches the most recent good value per signal. When a
// fallback chain exhausts every tier the assembler substitutes from here
// before resorting to simulated data, so a one-day upstream outage degrades
// to yesterday's number instead of a synthetic one.
package lastgood

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store persists last-good values across runs.
type Store interface {
	Get(ctx context.Context, signal string) ([]byte, bool, error)
	Put(ctx context.Context, signal string, value []byte) error
}

// GetJSON reads the cached value for signal into v.
func GetJSON(ctx context.Context, s Store, signal string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, signal)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// A corrupt entry is treated as absent; it will be overwritten by
		// the next good value.
		return false, nil
	}
	return true, nil
}

// PutJSON stores v as the last-good value for signal.
func PutJSON(ctx context.Context, s Store, signal string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, signal, data)
}

// Memory is a process-local store, used when no Redis address is configured.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, signal string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.values[signal]
	return data, ok, nil
}

func (m *Memory) Put(_ context.Context, signal string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[signal] = append([]byte(nil), value...)
	return nil
}

// Redis persists last-good values with a TTL, surviving process restarts.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedis wraps an existing client. ttl of zero keeps entries forever.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: "themescore:lastgood:"}
}

func (r *Redis) Get(ctx context.Context, signal string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+signal).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *Redis) Put(ctx context.Context, signal string, value []byte) error {
	return r.client.Set(ctx, r.prefix+signal, value, r.ttl).Err()
}

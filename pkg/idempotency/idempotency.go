// Package idempotency records already-delivered signals in Redis so repeated
// deliveries of the same generation are dropped.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/mediapipe/pkg/redis"
)

// Manager tracks delivered keys per scope using Redis SETNX with a TTL.
// Keys follow the `mp:idempotency:<scope>:<key>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that marks keys as seen for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// CheckAndMark returns true if the key was already marked within the scope and
// otherwise marks it with the configured TTL.
func (m *Manager) CheckAndMark(ctx context.Context, scope, key string) (bool, error) {
	full, err := m.fullKey(scope, key)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, full, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete clears a mark so the next CheckAndMark succeeds again.
func (m *Manager) Delete(ctx context.Context, scope, key string) error {
	full, err := m.fullKey(scope, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, full)
}

func (m *Manager) fullKey(scope, key string) (string, error) {
	scope = strings.TrimSpace(scope)
	key = strings.TrimSpace(key)
	if scope == "" {
		return "", errors.New("scope is required")
	}
	if key == "" {
		return "", errors.New("key is required")
	}
	return m.store.IdempotencyKey(scope, key), nil
}

// ReadyScope is the scope used for ready signals of a library.
func ReadyScope(library string) string {
	return fmt.Sprintf("ready:%s", library)
}

// Generation identifies one processing generation of an item.
func Generation(id string, processedAt time.Time) string {
	return fmt.Sprintf("%s:%d", id, processedAt.UTC().UnixNano())
}

package kv

import (
	"context"
	"sync"
)

// Logical keys persisted by the enricher.
const (
	KeyCredential = "credential"
	KeySource     = "source_locator"
	KeyCache      = "enrichment_cache"

	// KeyRejectedCredential holds a fingerprint of the last key the provider rejected.
	KeyRejectedCredential = "rejected_credential"
	// KeyRateLimitStops holds the rate-limit stop history across processes.
	KeyRateLimitStops = "rate_limit_stops"
)

// Keys lists every logical key, in reset order.
func Keys() []string {
	return []string{KeyCredential, KeySource, KeyCache, KeyRejectedCredential, KeyRateLimitStops}
}

// Store is a minimal durable string key-value store.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Memory is an in-process Store, used for tests and dry runs.
type Memory struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

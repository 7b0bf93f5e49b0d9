package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"canonical-go/internal/canonical"
)

// MemoryStore is an in-memory implementation of the ResourceStore
// interface, useful for testing and dry runs. It is safe for concurrent
// use.
type MemoryStore struct {
	resources map[string][]byte
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory resource store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{resources: make(map[string][]byte)}
}

// Put stores data under key with write-once semantics.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.resources[key]; ok {
		if !bytes.Equal(existing, data) {
			return "", fmt.Errorf("%w: key %s already holds different content", canonical.ErrConflict, key)
		}
		// Idempotent re-put of identical bytes.
		return sha256Hex(data), nil
	}

	m.resources[key] = append([]byte(nil), data...)
	return sha256Hex(data), nil
}

// Update overwrites key unconditionally. Reserved for unsealed listing
// shard files.
func (m *MemoryStore) Update(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resources[key] = append([]byte(nil), data...)
	return nil
}

// Get retrieves the bytes stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.resources[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", canonical.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// Exists reports whether key is present.
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.resources[key]
	return ok, nil
}

// ListPrefix calls fn for each stored key under prefix in lexicographic
// order.
func (m *MemoryStore) ListPrefix(_ context.Context, prefix string, fn func(key string) error) error {
	m.mu.RLock()
	keys := make([]string, 0)
	for k := range m.resources {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Compile-time check that MemoryStore implements the ResourceStore interface
var _ canonical.ResourceStore = (*MemoryStore)(nil)

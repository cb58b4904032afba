package store

import (
	"context"
	"strings"
	"sync"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// Get returns a copy of the value for the given key.
func (ms *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	ms.m.RLock()
	defer ms.m.RUnlock()
	v, ok := ms.store[key]
	if !ok {
		return nil, ErrNotFound
	}
	result := make([]byte, len(v))
	copy(result, v)
	return result, nil
}

// Put saves a copy of data under the given key.
func (ms *Memory) Put(ctx context.Context, key string, data []byte) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, ok := ms.store[key]; ok {
		return ErrKeyExists
	}
	v := make([]byte, len(data))
	copy(v, data)
	ms.store[key] = v
	return nil
}

// Delete removes the given key. It is not an error to delete a key which
// is not in the store.
func (ms *Memory) Delete(ctx context.Context, key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

// ListPrefix returns all the key entries which begin with the given prefix.
func (ms *Memory) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	return result, nil
}

// Len returns the number of keys in the store.
func (ms *Memory) Len() int {
	ms.m.RLock()
	defer ms.m.RUnlock()
	return len(ms.store)
}

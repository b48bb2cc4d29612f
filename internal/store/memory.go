package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process KV. Values are copied on the way in and out so
// callers can never alias stored bytes.
type Memory struct {
	mu     sync.RWMutex
	values map[string]Value
}

var _ KV = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{values: make(map[string]Value)}
}

func (m *Memory) Get(_ context.Context, key string) (Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return Value{}, ErrNotFound
	}
	v.Data = append([]byte(nil), v.Data...)
	return v, nil
}

func (m *Memory) Set(_ context.Context, key string, data []byte, expect int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.values[key].Version
	if err := checkVersion(current, expect); err != nil {
		return 0, fmt.Errorf("set %s: expected version %d, found %d: %w", key, expect, current, err)
	}
	next := current + 1
	m.values[key] = Value{
		Data:      append([]byte(nil), data...),
		Version:   next,
		UpdatedAt: time.Now().UTC(),
	}
	return next, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := []string{}
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }

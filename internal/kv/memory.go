package kv

import (
	"context"
	"sync"
)

type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, nil
	}
	return Entry{Value: append([]byte(nil), e.Value...), Version: e.Version}, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[key].Version != expected {
		return 0, ErrConflict
	}
	next := expected + 1
	m.entries[key] = Entry{Value: append([]byte(nil), value...), Version: next}
	return next, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

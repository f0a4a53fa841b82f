package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrStorage = errors.New("history storage failure")
	ErrCorrupt = fmt.Errorf("%w: history file is corrupt", ErrStorage)
)

// Store persists records in append order. Filtering happens in Log over the
// full set returned by Load.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Load(ctx context.Context) ([]Record, error)
	Close() error
}

type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

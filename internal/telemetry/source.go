package telemetry

import (
	"context"
	"errors"
	"sync"
)

// ErrExhausted is returned by finite sources once every batch has been handed out.
var ErrExhausted = errors.New("telemetry source exhausted")

// Source hands out one batch of samples per polling cycle.
type Source interface {
	Poll(ctx context.Context) ([]Sample, error)
}

type SourceFunc func(ctx context.Context) ([]Sample, error)

func (f SourceFunc) Poll(ctx context.Context) ([]Sample, error) {
	return f(ctx)
}

// BatchSource replays pre-grouped batches in order, one per Poll.
type BatchSource struct {
	mu      sync.Mutex
	batches [][]Sample
	next    int
}

func NewBatchSource(batches [][]Sample) *BatchSource {
	return &BatchSource{batches: batches}
}

func (b *BatchSource) Poll(ctx context.Context) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next >= len(b.batches) {
		return nil, ErrExhausted
	}
	batch := b.batches[b.next]
	b.next++
	out := make([]Sample, len(batch))
	copy(out, batch)
	return out, nil
}

func (b *BatchSource) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches) - b.next
}

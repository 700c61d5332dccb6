package profiles

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Batcher collects single-key requests over a time window and resolves them
// with one batch call. The batch function delivers each key as soon as its
// value is known, so early answers are not held back by slow ones.
type Batcher[V any] struct {
	name     string
	batchFn  func(ctx context.Context, keys []string, deliver func(key string, v V))
	window   time.Duration
	maxBatch int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  map[string][]chan V
	timer    *time.Timer
	timerSet bool
	inflight sync.WaitGroup
}

// NewBatcher creates a batcher. Keys are flushed after window or as soon as
// maxBatch distinct keys are pending (0 = unlimited).
func NewBatcher[V any](name string, batchFn func(ctx context.Context, keys []string, deliver func(key string, v V)), window time.Duration, maxBatch int) *Batcher[V] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher[V]{
		name:     name,
		batchFn:  batchFn,
		window:   window,
		maxBatch: maxBatch,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string][]chan V),
	}
}

// Get queues key for the next batch and waits for its value
func (b *Batcher[V]) Get(ctx context.Context, key string) (V, error) {
	result := make(chan V, 1)

	b.mu.Lock()
	if err := b.ctx.Err(); err != nil {
		b.mu.Unlock()
		var zero V
		return zero, err
	}
	b.pending[key] = append(b.pending[key], result)

	if !b.timerSet {
		b.timerSet = true
		b.timer = time.AfterFunc(b.window, b.executeBatch)
	}

	if b.maxBatch > 0 && len(b.pending) >= b.maxBatch {
		b.timer.Stop()
		b.timerSet = false
		go b.executeBatch()
	}
	b.mu.Unlock()

	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// executeBatch takes every pending key and runs the batch function over them
func (b *Batcher[V]) executeBatch() {
	b.mu.Lock()
	waiters := b.pending
	b.pending = make(map[string][]chan V)
	b.timerSet = false
	if len(waiters) > 0 {
		b.inflight.Add(1)
	}
	b.mu.Unlock()

	if len(waiters) == 0 {
		return
	}
	defer b.inflight.Done()

	keys := make([]string, 0, len(waiters))
	for key := range waiters {
		keys = append(keys, key)
	}

	slog.Debug("batcher: executing batch", "name", b.name, "keys", len(keys))

	var mu sync.Mutex
	deliver := func(key string, v V) {
		mu.Lock()
		chans := waiters[key]
		delete(waiters, key)
		mu.Unlock()
		for _, ch := range chans {
			ch <- v
		}
	}

	b.batchFn(b.ctx, keys, deliver)

	// Keys the batch function never delivered resolve to the zero value
	var zero V
	for _, key := range keys {
		deliver(key, zero)
	}
}

// Close cancels in-flight batches and waits for them to return
func (b *Batcher[V]) Close() {
	b.mu.Lock()
	b.cancel()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	b.executeBatch()
	b.inflight.Wait()
}

package batch

import (
	"context"
	"sync"
	"time"

	"media-ingest/internal/logging"
	"media-ingest/internal/metrics"
)

// flushTimeout bounds one flush; drainTimeout bounds waiting for all
// in-flight flushes on shutdown.
const (
	flushTimeout = 30 * time.Second
	drainTimeout = 30 * time.Second
)

// FlushFunc commits one collection's accumulated items.
type FlushFunc[T any] func(ctx context.Context, collectionID string, items []T)

// Batcher accumulates items per collection and flushes them in bulk.
// Add never blocks on a flush: a full bucket is detached under its own
// lock and committed on a separate goroutine.
type Batcher[T any] struct {
	kind    string
	maxSize int
	maxAge  time.Duration
	flush   FlushFunc[T]

	buckets sync.Map // collectionID -> *bucket[T]
	wg      sync.WaitGroup
}

type bucket[T any] struct {
	mu        sync.Mutex
	items     []T
	lastAdded time.Time
	closed    bool
}

// NewBatcher creates a batcher flushing through fn.
func NewBatcher[T any](kind string, maxSize int, maxAge time.Duration, fn FlushFunc[T]) *Batcher[T] {
	return &Batcher[T]{kind: kind, maxSize: maxSize, maxAge: maxAge, flush: fn}
}

// Add appends one item to the collection's bucket, flushing when the
// bucket reaches the size limit.
func (b *Batcher[T]) Add(collectionID string, item T) {
	for {
		v, _ := b.buckets.LoadOrStore(collectionID, &bucket[T]{})
		bk := v.(*bucket[T])

		bk.mu.Lock()
		if bk.closed {
			// Lost the race against a flush; the bucket is already
			// detached from the map. Start over with a fresh one.
			bk.mu.Unlock()
			continue
		}
		bk.items = append(bk.items, item)
		bk.lastAdded = time.Now()
		if len(bk.items) >= b.maxSize {
			items := bk.detachLocked()
			b.buckets.CompareAndDelete(collectionID, v)
			bk.mu.Unlock()
			b.spawnFlush(collectionID, items, "size")
			return
		}
		bk.mu.Unlock()
		return
	}
}

// detachLocked closes the bucket and hands its items out. Callers hold
// the bucket lock.
func (bk *bucket[T]) detachLocked() []T {
	items := bk.items
	bk.items = nil
	bk.closed = true
	return items
}

// Start runs the age flusher until ctx is cancelled. Buckets that have
// not seen an item for maxAge are flushed even when far below the size
// limit, so a trickle of messages never stalls.
func (b *Batcher[T]) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.maxAge)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.flushAged()
			}
		}
	}()
}

func (b *Batcher[T]) flushAged() {
	cutoff := time.Now().Add(-b.maxAge)
	b.buckets.Range(func(key, v interface{}) bool {
		bk := v.(*bucket[T])
		bk.mu.Lock()
		if bk.closed || bk.lastAdded.After(cutoff) || len(bk.items) == 0 {
			bk.mu.Unlock()
			return true
		}
		items := bk.detachLocked()
		b.buckets.CompareAndDelete(key, v)
		bk.mu.Unlock()
		b.spawnFlush(key.(string), items, "age")
		return true
	})
}

// Drain flushes every remaining bucket and waits, bounded, for all
// in-flight flushes to commit.
func (b *Batcher[T]) Drain() {
	b.buckets.Range(func(key, v interface{}) bool {
		bk := v.(*bucket[T])
		bk.mu.Lock()
		if bk.closed || len(bk.items) == 0 {
			bk.mu.Unlock()
			return true
		}
		items := bk.detachLocked()
		b.buckets.CompareAndDelete(key, v)
		bk.mu.Unlock()
		b.spawnFlush(key.(string), items, "drain")
		return true
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		logging.Warn("Batch drain for %s timed out after %s", b.kind, drainTimeout)
	}
}

// spawnFlush commits a detached batch on its own goroutine. The flush
// runs under a fresh context: shutdown must not abort a commit whose
// messages are already acknowledged.
func (b *Batcher[T]) spawnFlush(collectionID string, items []T, trigger string) {
	metrics.BatchFlushes.WithLabelValues(b.kind, trigger).Inc()
	metrics.BatchSize.WithLabelValues(b.kind).Observe(float64(len(items)))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		b.flush(ctx, collectionID, items)
	}()
}

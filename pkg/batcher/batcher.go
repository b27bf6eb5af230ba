// Package batcher groups items and hands them to a flush function by size or age.
package batcher

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("batcher: closed")

// Option customises a Batcher.
type Option[T any] func(*Batcher[T])

// WithErrorHandler is called with every flush error raised by the background
// ticker, along with the batch that failed.
func WithErrorHandler[T any](fn func(batch []T, err error)) Option[T] {
	return func(b *Batcher[T]) { b.onError = fn }
}

// Batcher collects items and flushes them based on size or time thresholds.
type Batcher[T any] struct {
	mu        sync.Mutex
	buffer    []T
	maxSize   int
	interval  time.Duration
	flushFn   func([]T) error
	onError   func([]T, error)
	stop      chan struct{}
	closed    bool
	wg        sync.WaitGroup
	lastError error
}

// New creates a new batcher instance. maxSize below one is treated as one.
func New[T any](maxSize int, interval time.Duration, flushFn func([]T) error, opts ...Option[T]) *Batcher[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	b := &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flushFn:  flushFn,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Add queues an item for batching. If the size threshold is met it flushes immediately.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.buffer = append(b.buffer, item)
	var batch []T
	if len(b.buffer) >= b.maxSize {
		batch = b.detach()
	}
	b.mu.Unlock()
	return b.runFlush(batch)
}

// Len reports the number of buffered items.
func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Flush forces a flush of the accumulated items.
func (b *Batcher[T]) Flush() error {
	b.mu.Lock()
	batch := b.detach()
	b.mu.Unlock()
	return b.runFlush(batch)
}

// Close stops the background ticker and flushes remaining items.
func (b *Batcher[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	close(b.stop)
	b.wg.Wait()
	return b.Flush()
}

// LastError returns the last flush error encountered by the background ticker.
func (b *Batcher[T]) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

func (b *Batcher[T]) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			batch := b.detach()
			b.mu.Unlock()
			if err := b.runFlush(batch); err != nil {
				b.mu.Lock()
				b.lastError = err
				b.mu.Unlock()
				if b.onError != nil {
					b.onError(batch, err)
				}
			}
		case <-b.stop:
			return
		}
	}
}

func (b *Batcher[T]) detach() []T {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := make([]T, len(b.buffer))
	copy(batch, b.buffer)
	b.buffer = b.buffer[:0]
	return batch
}

func (b *Batcher[T]) runFlush(batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	if b.flushFn == nil {
		return errors.New("batcher: no flush function configured")
	}
	return b.flushFn(batch)
}

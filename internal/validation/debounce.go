// Package validation holds interactive field validation: format checks for barcodes and
// phone numbers, and a latest-wins debouncer that keeps stale results from overwriting
// fresher ones.
package validation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is how long a field must stay unchanged before it is validated.
const DefaultDelay = 500 * time.Millisecond

// ErrSuperseded is returned to a call replaced by a newer call for the same key.
var ErrSuperseded = errors.New("superseded by newer input")

type pendingTask struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

// Debouncer runs at most one validation per key. A new call for a key cancels the
// outstanding one and starts a fresh delay.
type Debouncer[T any] struct {
	delay time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingTask
}

// NewDebouncer creates a Debouncer with the given delay.
func NewDebouncer[T any](delay time.Duration) *Debouncer[T] {
	if delay < 0 {
		delay = 0
	}
	return &Debouncer[T]{delay: delay, pending: make(map[string]*pendingTask)}
}

// Do waits for the delay and then runs fn, unless a newer call for key arrives first, in
// which case it returns ErrSuperseded. A result computed after being superseded is
// discarded.
func (d *Debouncer[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	d.mu.Lock()
	if prev, ok := d.pending[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	d.seq++
	mine := d.seq
	tctx, cancel := context.WithCancelCause(ctx)
	d.pending[key] = &pendingTask{seq: mine, cancel: cancel}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if cur, ok := d.pending[key]; ok && cur.seq == mine {
			delete(d.pending, key)
		}
		d.mu.Unlock()
		cancel(nil)
	}()

	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-tctx.Done():
		return zero, context.Cause(tctx)
	case <-timer.C:
	}

	v, err := fn(tctx)
	if cause := context.Cause(tctx); cause != nil {
		slog.Debug("Debouncer.Do: discarding stale result", "key", key, "cause", cause)
		return zero, cause
	}
	return v, err
}

// Cancel cancels the outstanding call for key, if any.
func (d *Debouncer[T]) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.pending[key]; ok {
		prev.cancel(context.Canceled)
		delete(d.pending, key)
	}
}

// Pending returns the number of keys with an outstanding call.
func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Package derive runs decode and resize work on a bounded goroutine pool so
// claim loops never block on CPU-heavy image processing.
package derive

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
)

// Derivatives holds the encoded variants of one still image.
type Derivatives struct {
	Resized   []byte
	Thumbnail []byte
}

// Engine bounds concurrent decode jobs and enforces a per-job deadline.
type Engine struct {
	sem     *semaphore.Weighted
	workers int
	timeout time.Duration
}

// NewEngine sizes the pool at workers, or GOMAXPROCS when workers is zero.
func NewEngine(workers int, timeout time.Duration) (*Engine, error) {
	if workers < 0 {
		return nil, fmt.Errorf("decode workers must be non-negative")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("decode timeout must be positive")
	}
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		timeout: timeout,
	}, nil
}

// Workers returns the pool size.
func (e *Engine) Workers() int {
	return e.workers
}

type result struct {
	out Derivatives
	err error
}

// run hands job to the pool and waits for it or the deadline. A job that
// outlives the deadline keeps its slot until it returns; its result is dropped.
func (e *Engine) run(ctx context.Context, job func() (Derivatives, error)) (Derivatives, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Derivatives{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "waiting for decode slot")
	}

	done := make(chan result, 1)
	go func() {
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("decode panic: %v", r))}
			}
		}()
		out, err := job()
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return Derivatives{}, pkgerrors.Wrap(pkgerrors.CodeInternal, ctx.Err(), "decode deadline exceeded")
	}
}

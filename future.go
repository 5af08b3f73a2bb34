package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Future is the eventual result of one remote operation. It resolves exactly
// once and cannot be canceled; Wait only stops waiting.
type Future[T any] struct {
	op   string
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any](op string) *Future[T] {
	return &Future[T]{op: op, done: make(chan struct{})}
}

func resolvedFuture[T any](op string, val T, err error) *Future[T] {
	f := newFuture[T](op)
	f.resolve(val, err)
	return f
}

func (f *Future[T]) resolve(val T, err error) {
	resolved := false
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
		resolved = true
	})
	if !resolved {
		log.Warn().Msgf("future: %s completed more than once, ignoring", f.op)
	}
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the failure once resolved, nil while pending or on success.
func (f *Future[T]) Err() error {
	if !f.Resolved() {
		return nil
	}
	return f.err
}

func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// bridge issues a callback-style call right away and returns the future its
// callback completes.
func bridge[T any](op string, call func(done func(T, error))) *Future[T] {
	f := newFuture[T](op)
	call(func(val T, err error) {
		f.resolve(val, classify(op, err))
	})
	return f
}

func bridgeUnit(op string, call func(cb Callback)) *Future[struct{}] {
	return bridge(op, func(done func(struct{}, error)) {
		call(func(err error) {
			done(struct{}{}, err)
		})
	})
}

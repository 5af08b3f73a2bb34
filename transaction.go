package realtime

import (
	"sync"
	"sync/atomic"
)

type (
	// TransactionFunc proposes a new value from the current one. It may run
	// several times when other writers race it and must not have side
	// effects. Returning ok=false aborts without writing.
	TransactionFunc func(current Value) (next Value, ok bool)

	TransactionResult struct {
		Committed bool
		Snapshot  *Snapshot
		// Attempts counts invocations of the TransactionFunc.
		Attempts int
	}

	TransactionOption func(o *transactionOptions)

	transactionOptions struct {
		applyLocally bool
	}
)

// WithApplyLocally controls whether listeners see each attempt before the
// store commits it. The default is true.
func WithApplyLocally(apply bool) TransactionOption {
	return func(o *transactionOptions) {
		o.applyLocally = apply
	}
}

// Transaction runs fn against the store's optimistic retry loop. Conflict
// detection and retries belong to the store; fn's result is passed through
// unchanged.
func (r *Reference) Transaction(fn TransactionFunc, options ...TransactionOption) *Future[TransactionResult] {
	opts := &transactionOptions{applyLocally: true}
	for _, option := range options {
		option(opts)
	}

	var (
		attempts atomic.Int32
		mu       sync.Mutex
		convErr  error
	)
	update := func(current any) (any, bool) {
		value, err := ValueOf(current)
		if err != nil {
			// abort; the callback reports it as a failure
			mu.Lock()
			convErr = err
			mu.Unlock()
			return nil, false
		}
		attempts.Add(1)
		next, ok := fn(value)
		if !ok {
			return nil, false
		}
		return Export(next), true
	}

	return bridge("transaction", func(done func(TransactionResult, error)) {
		r.db.backend.Transact(r.loc, update, func(err error, committed bool, raw RawSnapshot) {
			if err == nil && !committed {
				mu.Lock()
				err = convErr
				mu.Unlock()
			}
			if err != nil {
				done(TransactionResult{}, &TransactionError{Location: r.loc, Err: err})
				return
			}
			done(TransactionResult{
				Committed: committed,
				Snapshot:  newSnapshot(r.db, r.loc, raw),
				Attempts:  int(attempts.Load()),
			}, nil)
		}, opts.applyLocally)
	})
}

package memory

import (
	"github.com/rs/zerolog/log"

	"github.com/airheartdev/realtime"
)

// Transact runs update against the current value and commits the result
// only if the value is unchanged when it returns; otherwise it runs update
// again with the newer value, up to the retry limit. update is never called
// with the store locked.
//
// With applyLocally the commit is published immediately and acknowledged
// later; without it the whole attempt loop runs at server time, so
// listeners see nothing until the store answers.
func (s *Store) Transact(loc realtime.Location, update realtime.TransactionUpdate, cb realtime.TransactionCallback, applyLocally bool) {
	if applyLocally {
		s.transact(loc, update, cb)
		s.drain()
		return
	}
	s.atServer(func() {
		s.transact(loc, update, cb)
	})
	s.drain()
}

func (s *Store) transact(loc realtime.Location, update realtime.TransactionUpdate, cb realtime.TransactionCallback) {
	segments := loc.Segments()
	key := keyOf(loc)

	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		if err := s.checkAccess(); err != nil {
			s.mu.Unlock()
			s.atServer(func() { cb(err, false, nil) })
			return
		}
		current := s.root.descend(segments)
		s.mu.Unlock()

		next, ok := update(current.native())
		if !ok {
			log.Debug().Msgf("memory store: transaction on %s aborted after %d attempts", loc, attempt)
			snap := &snapshot{key: key, n: current}
			s.atServer(func() { cb(nil, false, snap) })
			return
		}

		proposed := fromNative(next)
		if proposed != nil && proposed.priority == nil {
			proposed = proposed.withPriority(current.getPriority())
		}

		s.mu.Lock()
		if !equal(s.root.descend(segments), current) {
			s.mu.Unlock()
			if attempt >= s.options.maxRetries {
				log.Warn().Msgf("memory store: transaction on %s gave up after %d attempts", loc, attempt)
				s.atServer(func() { cb(ErrMaxRetries, false, nil) })
				return
			}
			continue
		}
		s.commit(s.root.set(segments, proposed))
		s.mu.Unlock()

		snap := &snapshot{key: key, n: proposed}
		s.atServer(func() { cb(nil, true, snap) })
		return
	}
}

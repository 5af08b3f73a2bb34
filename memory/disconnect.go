package memory

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/airheartdev/realtime"
)

type disconnectEntry struct {
	loc      realtime.Location
	action   realtime.DisconnectAction
	payload  any
	priority any
}

func (s *Store) OnDisconnect(loc realtime.Location, action realtime.DisconnectAction, payload any, priority any, cb realtime.Callback) {
	s.mu.Lock()
	err := s.checkAccess()
	if err == nil {
		s.disconnect = append(s.disconnect, disconnectEntry{
			loc:      loc,
			action:   action,
			payload:  payload,
			priority: priority,
		})
	}
	s.mu.Unlock()

	s.atServer(func() { cb(err) })
	s.drain()
}

func (s *Store) CancelOnDisconnect(loc realtime.Location, cb realtime.Callback) {
	s.mu.Lock()
	kept := s.disconnect[:0]
	for _, e := range s.disconnect {
		if !loc.Contains(e.loc) {
			kept = append(kept, e)
		}
	}
	s.disconnect = kept
	s.mu.Unlock()

	s.atServer(func() { cb(nil) })
	s.drain()
}

// PendingDisconnects counts queued onDisconnect actions.
func (s *Store) PendingDisconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.disconnect)
}

// DropConnection simulates the client vanishing: the server runs every
// queued onDisconnect action in the order it was queued and forgets them.
func (s *Store) DropConnection() error {
	s.mu.Lock()
	entries := s.disconnect
	s.disconnect = nil

	var errs error
	root := s.root
	for _, e := range entries {
		next, err := e.apply(root)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		root = next
	}
	s.commit(root)
	s.mu.Unlock()

	log.Info().Msgf("memory store: %v dropped connection, ran %d disconnect actions", s.id, len(entries))
	s.drain()
	return errs
}

func (e disconnectEntry) apply(root *node) (*node, error) {
	segments := e.loc.Segments()
	switch e.action {
	case realtime.DisconnectSet:
		return root.set(segments, fromNative(e.payload)), nil
	case realtime.DisconnectSetWithPriority:
		return root.set(segments, fromNative(e.payload).withPriority(e.priority)), nil
	case realtime.DisconnectUpdate:
		values, ok := e.payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: update on %s with %T", ErrInvalidPayload, e.loc, e.payload)
		}
		return applyUpdate(root, e.loc, values), nil
	case realtime.DisconnectRemove:
		return root.set(segments, nil), nil
	}
	return nil, fmt.Errorf("%w: action %s on %s", ErrInvalidPayload, e.action, e.loc)
}

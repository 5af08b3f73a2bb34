package realtime

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

type streamKey struct {
	loc    Location
	params string
	typ    EventType
}

// multiplexer shares one backend registration per streamKey between all
// listeners attached to it.
type multiplexer struct {
	db        *Database
	registrar Registrar

	mu      sync.Mutex
	streams map[streamKey]*stream
}

type stream struct {
	key    streamKey
	params QueryParams
	mux    *multiplexer

	// life serializes attach/detach so 0->1 and 1->0 transitions never
	// interleave for one key. It is released while Register runs so the
	// backend may deliver inline; registering is set for that window.
	life        sync.Mutex
	dead        bool
	registering bool
	remote      bool
	deregister  func()

	// copy-on-write so delivery never takes life
	listeners atomic.Pointer[[]*Listener]
}

type StreamStat struct {
	Location  Location
	Params    string
	Type      EventType
	Listeners int
}

func newMultiplexer(db *Database, registrar Registrar) *multiplexer {
	return &multiplexer{
		db:        db,
		registrar: registrar,
		streams:   make(map[streamKey]*stream),
	}
}

func (m *multiplexer) lookup(key streamKey, params QueryParams) *stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[key]
	if !ok {
		s = &stream{key: key, params: params, mux: m}
		m.streams[key] = s
	}
	return s
}

func (m *multiplexer) forget(s *stream) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streams[s.key] == s {
		delete(m.streams, s.key)
	}
}

func (m *multiplexer) attach(loc Location, params QueryParams, typ EventType, l *Listener) error {
	key := streamKey{loc: loc, params: params.key(), typ: typ}

	for {
		s := m.lookup(key, params)

		s.life.Lock()
		if s.dead {
			// torn down between lookup and lock
			s.life.Unlock()
			continue
		}

		prev := s.current()
		next := make([]*Listener, len(prev), len(prev)+1)
		copy(next, prev)
		next = append(next, l)
		l.stream = s
		s.listeners.Store(&next)

		if len(prev) > 0 {
			// joins a live stream, or one still registering
			s.life.Unlock()
			return nil
		}
		s.registering = true
		s.life.Unlock()

		deregister, err := m.registrar.Register(loc, params, typ, s.deliver, s.cancel)
		return s.registered(l, deregister, err)
	}
}

// registered finishes the 0->1 transition started by attach on behalf of l.
func (s *stream) registered(l *Listener, deregister func(), err error) error {
	s.life.Lock()
	s.registering = false

	if err != nil {
		regErr := &RegistrationError{Location: s.key.loc, Type: s.key.typ, Err: err}
		var joined []*Listener
		if !s.dead {
			for _, other := range s.current() {
				if other != l {
					joined = append(joined, other)
				}
			}
			s.dead = true
			s.listeners.Store(nil)
			s.mux.forget(s)
		}
		s.life.Unlock()

		// listeners that joined while registering learn of the failure
		// through their cancel handler
		for _, other := range joined {
			other.canceled(regErr)
		}
		return regErr
	}

	if s.dead {
		// every listener left, or the backend canceled, during Register
		remote := s.remote
		s.life.Unlock()
		if !remote && deregister != nil {
			deregister()
		}
		return nil
	}
	s.deregister = deregister
	s.life.Unlock()
	log.Debug().Msgf("multiplexer: registered %s on %s %s", s.key.typ, s.key.loc, s.key.params)
	return nil
}

func (m *multiplexer) detach(l *Listener) {
	s := l.stream
	if s == nil {
		return
	}

	s.life.Lock()
	defer s.life.Unlock()

	if s.dead {
		return
	}

	prev := s.current()
	next := make([]*Listener, 0, len(prev))
	for _, other := range prev {
		if other != l {
			next = append(next, other)
		}
	}
	if len(next) == len(prev) {
		return
	}
	s.listeners.Store(&next)

	if len(next) > 0 {
		return
	}

	s.dead = true
	m.forget(s)
	if s.registering {
		// registered deregisters once Register returns
		return
	}
	if s.deregister != nil {
		s.deregister()
		s.deregister = nil
	}
	log.Debug().Msgf("multiplexer: deregistered %s on %s %s", s.key.typ, s.key.loc, s.key.params)
}

func (m *multiplexer) stats() []StreamStat {
	m.mu.Lock()
	streams := make([]*stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	stats := make([]StreamStat, 0, len(streams))
	for _, s := range streams {
		stats = append(stats, StreamStat{
			Location:  s.key.loc,
			Params:    s.key.params,
			Type:      s.key.typ,
			Listeners: len(s.current()),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Location != stats[j].Location {
			return stats[i].Location.String() < stats[j].Location.String()
		}
		if stats[i].Type != stats[j].Type {
			return stats[i].Type < stats[j].Type
		}
		return stats[i].Params < stats[j].Params
	})
	return stats
}

func (s *stream) current() []*Listener {
	p := s.listeners.Load()
	if p == nil {
		return nil
	}
	return *p
}

// deliver builds the event once and hands it to every listener attached at
// the time of delivery, in attach order.
func (s *stream) deliver(raw RawSnapshot, prevKey string, hasPrev bool) {
	listeners := s.current()
	if len(listeners) == 0 {
		return
	}

	loc := s.key.loc
	if s.key.typ != ValueChanged && raw != nil {
		loc = loc.Child(raw.Key())
	}
	ev := Event{
		Type:     s.key.typ,
		Snapshot: newSnapshot(s.mux.db, loc, raw),
		PrevKey:  prevKey,
		HasPrev:  hasPrev,
	}

	for _, l := range listeners {
		l.handle(ev)
	}
}

// cancel is called by the backend when it drops the registration itself.
func (s *stream) cancel(err error) {
	s.life.Lock()
	if s.dead {
		s.life.Unlock()
		return
	}
	s.dead = true
	s.remote = true
	listeners := s.current()
	s.listeners.Store(nil)
	s.deregister = nil
	s.mux.forget(s)
	s.life.Unlock()

	log.Err(err).Msgf("multiplexer: %s on %s canceled by backend", s.key.typ, s.key.loc)
	for _, l := range listeners {
		l.canceled(err)
	}
}

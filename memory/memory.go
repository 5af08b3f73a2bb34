// Package memory is an in-process real-time store implementing
// realtime.Backend. Writes are applied at once and published to local
// registrations in order; acknowledgements follow, optionally delayed or
// held while offline.
package memory

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/airheartdev/realtime"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrMaxRetries       = errors.New("maxretry")
	ErrInvalidPayload   = errors.New("invalid payload")
)

type (
	Store struct {
		options *Options
		id      string

		mu       sync.Mutex
		root     *node
		regs     map[uint64]*registration
		nextReg  uint64
		queue    []func()
		draining bool
		offline  bool
		held     []func()

		auth       *realtime.AuthResult
		disconnect []disconnectEntry

		keyMu   sync.Mutex
		entropy *ulid.MonotonicEntropy
	}

	Options struct {
		secret      []byte
		requireAuth bool
		maxRetries  int
		ackLatency  time.Duration
		data        any
	}

	registration struct {
		id       uint64
		loc      realtime.Location
		params   realtime.QueryParams
		typ      realtime.EventType
		view     *node
		onEvent  realtime.EventCallback
		onCancel realtime.CancelCallback
		active   atomic.Bool
	}
)

type Option func(o *Options)

// WithSecret sets the HMAC key tokens passed to Authenticate are verified
// with.
func WithSecret(secret []byte) Option {
	return func(o *Options) {
		o.secret = secret
	}
}

// WithRequireAuth rejects reads and writes until a token is accepted.
func WithRequireAuth() Option {
	return func(o *Options) {
		o.requireAuth = true
	}
}

func WithMaxRetries(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithAckLatency delays acknowledgements, simulating the server round trip.
func WithAckLatency(d time.Duration) Option {
	return func(o *Options) {
		o.ackLatency = d
	}
}

// WithData seeds the store with a native value at the root.
func WithData(v any) Option {
	return func(o *Options) {
		o.data = v
	}
}

var (
	_ realtime.Backend      = &Store{}
	_ realtime.Reader       = &Store{}
	_ realtime.Connectivity = &Store{}
)

func New(options ...Option) *Store {
	opts := &Options{
		maxRetries: 25,
	}
	for _, option := range options {
		option(opts)
	}

	s := &Store{
		options: opts,
		id:      uuid.NewString(),
		root:    fromNative(opts.data),
		regs:    make(map[uint64]*registration),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	log.Debug().Msgf("memory store: created %v", s.id)
	return s
}

func (s *Store) ID() string {
	return s.id
}

// Value returns the native value stored at loc.
func (s *Store) Value(loc realtime.Location) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.descend(loc.Segments()).native()
}

// Registrations counts live registrations.
func (s *Store) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

func (s *Store) Register(loc realtime.Location, params realtime.QueryParams, t realtime.EventType, onEvent realtime.EventCallback, onCancel realtime.CancelCallback) (func(), error) {
	s.mu.Lock()
	if err := s.checkAccess(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.nextReg++
	reg := &registration{
		id:       s.nextReg,
		loc:      loc,
		params:   params,
		typ:      t,
		onEvent:  onEvent,
		onCancel: onCancel,
	}
	reg.active.Store(true)
	reg.view = view(s.root.descend(loc.Segments()), params)
	s.regs[reg.id] = reg
	s.publish(reg, diff(t, keyOf(loc), nil, reg.view, true))
	s.mu.Unlock()

	log.Debug().Msgf("memory store: registration %d %s on %s", reg.id, t, loc)

	// initial events are delivered from another goroutine so the caller
	// can finish registering first
	go s.drain()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			reg.active.Store(false)
			delete(s.regs, reg.id)
			log.Debug().Msgf("memory store: deregistration %d", reg.id)
		})
	}, nil
}

func (s *Store) Get(loc realtime.Location, params realtime.QueryParams, cb func(realtime.RawSnapshot, error)) {
	s.mu.Lock()
	if err := s.checkAccess(); err != nil {
		s.mu.Unlock()
		cb(nil, err)
		return
	}
	snap := &snapshot{key: keyOf(loc), n: view(s.root.descend(loc.Segments()), params)}
	s.mu.Unlock()
	cb(snap, nil)
}

func (s *Store) Set(loc realtime.Location, value any, cb realtime.Callback) {
	s.write(cb, func(root *node) (*node, error) {
		return root.set(loc.Segments(), fromNative(value)), nil
	})
}

func (s *Store) SetWithPriority(loc realtime.Location, value any, priority any, cb realtime.Callback) {
	s.write(cb, func(root *node) (*node, error) {
		return root.set(loc.Segments(), fromNative(value).withPriority(priority)), nil
	})
}

func (s *Store) Update(loc realtime.Location, values map[string]any, cb realtime.Callback) {
	s.write(cb, func(root *node) (*node, error) {
		return applyUpdate(root, loc, values), nil
	})
}

func (s *Store) Remove(loc realtime.Location, cb realtime.Callback) {
	s.write(cb, func(root *node) (*node, error) {
		return root.set(loc.Segments(), nil), nil
	})
}

func (s *Store) SetPriority(loc realtime.Location, priority any, cb realtime.Callback) {
	s.write(cb, func(root *node) (*node, error) {
		segments := loc.Segments()
		return root.set(segments, root.descend(segments).withPriority(priority)), nil
	})
}

func (s *Store) PushKey(loc realtime.Location) string {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Store) GoOffline() {
	s.mu.Lock()
	s.offline = true
	s.mu.Unlock()
	log.Info().Msgf("memory store: %v offline", s.id)
}

func (s *Store) GoOnline() {
	s.mu.Lock()
	s.offline = false
	s.queue = append(s.queue, s.held...)
	s.held = nil
	s.mu.Unlock()
	log.Info().Msgf("memory store: %v online", s.id)
	s.drain()
}

func applyUpdate(root *node, loc realtime.Location, values map[string]any) *node {
	paths := make([]string, 0, len(values))
	for path := range values {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		root = root.set(loc.Child(path).Segments(), fromNative(values[path]))
	}
	return root
}

// write applies fn to the tree, publishes the resulting events and then
// schedules the acknowledgement.
func (s *Store) write(cb realtime.Callback, fn func(root *node) (*node, error)) {
	s.mu.Lock()
	err := s.checkAccess()
	if err == nil {
		var root *node
		root, err = fn(s.root)
		if err == nil {
			s.commit(root)
		}
	}
	s.mu.Unlock()

	s.atServer(func() {
		if cb != nil {
			cb(err)
		}
	})
	s.drain()
}

func (s *Store) checkAccess() error {
	if s.options.requireAuth && s.auth == nil {
		return ErrPermissionDenied
	}
	return nil
}

// eventOrder is the order notifications of one write are published in.
var eventOrder = map[realtime.EventType]int{
	realtime.ChildRemoved: 0,
	realtime.ChildAdded:   1,
	realtime.ChildMoved:   2,
	realtime.ChildChanged: 3,
	realtime.ValueChanged: 4,
}

// commit installs root and queues notifications for every registration
// whose view changed. Caller holds mu.
func (s *Store) commit(root *node) {
	s.root = root
	regs := s.sortedRegs()
	sort.SliceStable(regs, func(i, j int) bool {
		return eventOrder[regs[i].typ] < eventOrder[regs[j].typ]
	})
	for _, reg := range regs {
		next := view(root.descend(reg.loc.Segments()), reg.params)
		deliveries := diff(reg.typ, keyOf(reg.loc), reg.view, next, false)
		reg.view = next
		s.publish(reg, deliveries)
	}
}

func (s *Store) sortedRegs() []*registration {
	regs := make([]*registration, 0, len(s.regs))
	for _, reg := range s.regs {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].id < regs[j].id })
	return regs
}

func (s *Store) publish(reg *registration, deliveries []delivery) {
	for _, d := range deliveries {
		d := d
		s.queue = append(s.queue, func() {
			if reg.active.Load() {
				reg.onEvent(d.snap, d.prevKey, d.hasPrev)
			}
		})
	}
}

// atServer runs fn once the simulated server has answered: after the ack
// latency and only while online. fn runs in delivery order.
func (s *Store) atServer(fn func()) {
	enqueue := func() {
		s.mu.Lock()
		if s.offline {
			s.held = append(s.held, fn)
		} else {
			s.queue = append(s.queue, fn)
		}
		s.mu.Unlock()
	}

	if s.options.ackLatency <= 0 {
		enqueue()
		return
	}
	time.AfterFunc(s.options.ackLatency, func() {
		enqueue()
		s.drain()
	})
}

// drain delivers queued items in order. Only one goroutine drains at a time;
// items queued while draining, including by handlers, are delivered by the
// goroutine already draining.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		item()
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// cancelAll drops every registration, telling its owner why. Caller holds mu.
func (s *Store) cancelAll(err error) {
	for _, reg := range s.sortedRegs() {
		reg := reg
		reg.active.Store(false)
		delete(s.regs, reg.id)
		if reg.onCancel != nil {
			s.queue = append(s.queue, func() {
				reg.onCancel(err)
			})
		}
	}
}

func keyOf(loc realtime.Location) string {
	key, _ := loc.Key()
	return key
}

func (s *Store) String() string {
	return fmt.Sprintf("memory.Store(%s)", s.id)
}

package realtime

import (
	"sort"
	"sync"
)

type fakeSnap struct {
	key      string
	val      any
	priority any
	children []*fakeSnap
}

func (s *fakeSnap) Key() string { return s.key }
func (s *fakeSnap) Val() any    { return s.val }

func (s *fakeSnap) Child(path string) RawSnapshot {
	for _, c := range s.children {
		if c.key == path {
			return c
		}
	}
	return &fakeSnap{key: path}
}

func (s *fakeSnap) HasChild(path string) bool {
	for _, c := range s.children {
		if c.key == path {
			return true
		}
	}
	return false
}

func (s *fakeSnap) HasChildren() bool { return len(s.children) > 0 }
func (s *fakeSnap) NumChildren() int  { return len(s.children) }

func (s *fakeSnap) ForEach(fn func(RawSnapshot) bool) bool {
	for _, c := range s.children {
		if fn(c) {
			return true
		}
	}
	return false
}

func (s *fakeSnap) Priority() any  { return s.priority }
func (s *fakeSnap) ExportVal() any { return s.val }

type fakeKey struct {
	loc    Location
	params string
	typ    EventType
}

type fakeReg struct {
	onEvent  EventCallback
	onCancel CancelCallback
}

type call struct {
	op       string
	loc      Location
	value    any
	priority any
	cb       Callback
}

type transactCall struct {
	loc          Location
	update       TransactionUpdate
	cb           TransactionCallback
	applyLocally bool
}

// fakeBackend records every call and lets the test deliver events and
// complete callbacks by hand.
type fakeBackend struct {
	mu           sync.Mutex
	registers    map[fakeKey]int
	deregisters  map[fakeKey]int
	live         map[fakeKey]*fakeReg
	registerErr  error
	inline       *fakeSnap
	calls        []*call
	transactions []*transactCall
	authCB       func(AuthResult, error)
	unauths      int
	pushed       int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		registers:   make(map[fakeKey]int),
		deregisters: make(map[fakeKey]int),
		live:        make(map[fakeKey]*fakeReg),
	}
}

func (b *fakeBackend) Register(loc Location, q QueryParams, t EventType, onEvent EventCallback, onCancel CancelCallback) (func(), error) {
	key := fakeKey{loc: loc, params: q.key(), typ: t}

	b.mu.Lock()
	inline, err := b.inline, b.registerErr
	if err == nil {
		b.registers[key]++
		b.live[key] = &fakeReg{onEvent: onEvent, onCancel: onCancel}
	}
	b.mu.Unlock()

	// a cached value handed out before Register returns
	if inline != nil {
		onEvent(inline, "", false)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.deregisters[key]++
		delete(b.live, key)
	}, nil
}

func (b *fakeBackend) reg(loc Location, params QueryParams, t EventType) *fakeReg {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live[fakeKey{loc: loc, params: params.key(), typ: t}]
}

func (b *fakeBackend) emit(loc Location, t EventType, snap *fakeSnap, prevKey string) {
	r := b.reg(loc, QueryParams{}, t)
	if r == nil {
		return
	}
	r.onEvent(snap, prevKey, prevKey != "")
}

func (b *fakeBackend) counts(loc Location, t EventType) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := fakeKey{loc: loc, typ: t}
	return b.registers[key], b.deregisters[key]
}

func (b *fakeBackend) record(c *call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
}

func (b *fakeBackend) last() *call {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return nil
	}
	return b.calls[len(b.calls)-1]
}

func (b *fakeBackend) Set(loc Location, value any, cb Callback) {
	b.record(&call{op: "set", loc: loc, value: value, cb: cb})
}

func (b *fakeBackend) SetWithPriority(loc Location, value any, priority any, cb Callback) {
	b.record(&call{op: "setWithPriority", loc: loc, value: value, priority: priority, cb: cb})
}

func (b *fakeBackend) Update(loc Location, values map[string]any, cb Callback) {
	b.record(&call{op: "update", loc: loc, value: values, cb: cb})
}

func (b *fakeBackend) Remove(loc Location, cb Callback) {
	b.record(&call{op: "remove", loc: loc, cb: cb})
}

func (b *fakeBackend) SetPriority(loc Location, priority any, cb Callback) {
	b.record(&call{op: "setPriority", loc: loc, priority: priority, cb: cb})
}

func (b *fakeBackend) PushKey(loc Location) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushed++
	return "k" + string(rune('0'+b.pushed))
}

func (b *fakeBackend) Transact(loc Location, update TransactionUpdate, cb TransactionCallback, applyLocally bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transactions = append(b.transactions, &transactCall{loc: loc, update: update, cb: cb, applyLocally: applyLocally})
}

func (b *fakeBackend) Authenticate(token string, cb func(AuthResult, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authCB = cb
}

func (b *fakeBackend) Unauthenticate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unauths++
}

func (b *fakeBackend) OnDisconnect(loc Location, action DisconnectAction, payload any, priority any, cb Callback) {
	b.record(&call{op: "onDisconnect." + action.String(), loc: loc, value: payload, priority: priority, cb: cb})
}

func (b *fakeBackend) CancelOnDisconnect(loc Location, cb Callback) {
	b.record(&call{op: "onDisconnect.cancel", loc: loc, cb: cb})
}

func (b *fakeBackend) liveKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.live))
	for k := range b.live {
		keys = append(keys, k.typ.String()+" "+k.loc.String()+" "+k.params)
	}
	sort.Strings(keys)
	return keys
}

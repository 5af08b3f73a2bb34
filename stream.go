package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zyedidia/generic/list"
)

// EventStream is the sequence of events of one type at one query. It has no
// end and does not replay: a listener sees only events delivered after it
// attached. The backend registration is shared by all listeners of equal
// streams and exists only while at least one listener is attached.
type EventStream struct {
	query Query
	typ   EventType
}

// Listener is one attachment to an EventStream.
type Listener struct {
	stream   *stream
	mux      *multiplexer
	onEvent  func(Event)
	onCancel func(error)
	closed   atomic.Bool
}

func (s *EventStream) Type() EventType {
	return s.typ
}

func (s *EventStream) Query() Query {
	return s.query
}

// Listen attaches fn. The first listener of a stream registers with the
// backend; a registration failure is returned here as a *RegistrationError.
func (s *EventStream) Listen(fn func(Event)) (*Listener, error) {
	return s.ListenWithCancel(fn, nil)
}

// ListenWithCancel is Listen with a handler for the backend dropping the
// stream. After onCancel runs the listener is closed.
func (s *EventStream) ListenWithCancel(fn func(Event), onCancel func(error)) (*Listener, error) {
	if fn == nil {
		return nil, ErrNoListener
	}
	mux := s.query.db.mux
	l := &Listener{mux: mux, onEvent: fn, onCancel: onCancel}
	if err := mux.attach(s.query.loc, s.query.params, s.typ, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Chan delivers the stream on a channel that closes when ctx is done or the
// backend cancels the stream. Each channel has its own unbounded queue so a
// slow reader does not hold up other listeners.
func (s *EventStream) Chan(ctx context.Context) (<-chan Event, error) {
	q := &eventQueue{
		items:  list.New[Event](),
		notify: make(chan struct{}, 1),
	}
	l, err := s.ListenWithCancel(q.push, q.cancel)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, s.query.db.options.listenerBuffer)
	go q.pump(ctx, l, out)
	return out, nil
}

func (l *Listener) handle(ev Event) {
	if l.closed.Load() {
		return
	}
	l.onEvent(ev)
}

func (l *Listener) canceled(err error) {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if l.onCancel != nil {
		l.onCancel(err)
	}
}

// Close detaches the listener. The last Close of a stream deregisters it.
func (l *Listener) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.mux.detach(l)
}

type eventQueue struct {
	mu     sync.Mutex
	items  *list.List[Event]
	done   bool
	notify chan struct{}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items.PushBack(ev)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) cancel(error) {
	q.mu.Lock()
	q.done = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) next() (Event, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Front
	if n == nil {
		return Event{}, false, q.done
	}
	q.items.Remove(n)
	return n.Value, true, false
}

func (q *eventQueue) pump(ctx context.Context, l *Listener, out chan<- Event) {
	defer close(out)
	defer l.Close()

	for {
		ev, ok, done := q.next()
		if done {
			return
		}
		if !ok {
			select {
			case <-q.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

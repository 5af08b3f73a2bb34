package realtime

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

type (
	// Bound is one end of a priority range. A nil Priority or empty Name
	// leaves that part of the bound open.
	Bound struct {
		Priority any
		Name     string
	}

	// QueryParams filter the children visible at a location. Limit 0 means
	// unlimited.
	QueryParams struct {
		Start *Bound
		End   *Bound
		Limit int
	}

	// Query is an immutable read filter over a location.
	Query struct {
		db     *Database
		loc    Location
		params QueryParams
	}

	// Reader is implemented by backends that can answer a read without a
	// standing registration.
	Reader interface {
		Get(loc Location, q QueryParams, cb func(RawSnapshot, error))
	}
)

func (p QueryParams) IsDefault() bool {
	return p.Start == nil && p.End == nil && p.Limit == 0
}

// key is the canonical form used to share registrations between equal
// queries.
func (p QueryParams) key() string {
	if p.IsDefault() {
		return ""
	}
	var sb strings.Builder
	writeBound := func(tag string, b *Bound) {
		if b == nil {
			return
		}
		sb.WriteString(tag)
		sb.WriteString(priorityKey(b.Priority))
		sb.WriteByte(',')
		sb.WriteString(strconv.Quote(b.Name))
		sb.WriteByte(';')
	}
	writeBound("start=", p.Start)
	writeBound("end=", p.End)
	if p.Limit > 0 {
		sb.WriteString("limit=")
		sb.WriteString(strconv.Itoa(p.Limit))
	}
	return sb.String()
}

func (p QueryParams) String() string {
	return p.key()
}

func priorityKey(p any) string {
	switch v := NormalizePriority(p).(type) {
	case nil:
		return "null"
	case float64:
		return "n:" + strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return "s:" + strconv.Quote(v)
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// NormalizePriority maps every numeric kind to float64 and leaves other
// values unchanged.
func NormalizePriority(p any) any {
	switch v := p.(type) {
	case nil, string, float64:
		return v
	case Number:
		return float64(v)
	case String:
		return string(v)
	}
	rv := reflect.ValueOf(p)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	}
	return p
}

func validPriority(p any) bool {
	switch NormalizePriority(p).(type) {
	case nil, float64, string:
		return true
	}
	return false
}

func normalizeBound(b Bound) *Bound {
	b.Priority = NormalizePriority(b.Priority)
	return &b
}

func (q Query) StartAt(b Bound) Query {
	q.params.Start = normalizeBound(b)
	return q
}

func (q Query) EndAt(b Bound) Query {
	q.params.End = normalizeBound(b)
	return q
}

func (q Query) Limit(n int) Query {
	if n < 0 {
		n = 0
	}
	q.params.Limit = n
	return q
}

func (q Query) Location() Location {
	return q.loc
}

func (q Query) Params() QueryParams {
	return q.params
}

func (q Query) Ref() *Reference {
	return q.db.refAt(q.loc)
}

func (q Query) On(t EventType) *EventStream {
	return &EventStream{query: q, typ: t}
}

func (q Query) OnValue() *EventStream        { return q.On(ValueChanged) }
func (q Query) OnChildAdded() *EventStream   { return q.On(ChildAdded) }
func (q Query) OnChildMoved() *EventStream   { return q.On(ChildMoved) }
func (q Query) OnChildChanged() *EventStream { return q.On(ChildChanged) }
func (q Query) OnChildRemoved() *EventStream { return q.On(ChildRemoved) }

// Once waits for the next event of type t. If the stream already has
// listeners this is the next change, not the current value; use Get for that.
func (q Query) Once(ctx context.Context, t EventType) (Event, error) {
	events := make(chan Event, 1)
	canceled := make(chan error, 1)
	var first sync.Once

	l, err := q.On(t).ListenWithCancel(func(ev Event) {
		first.Do(func() { events <- ev })
	}, func(err error) {
		canceled <- err
	})
	if err != nil {
		return Event{}, err
	}
	defer l.Close()

	select {
	case ev := <-events:
		return ev, nil
	case err := <-canceled:
		return Event{}, err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Get reads the current value of the query.
func (q Query) Get(ctx context.Context) (*Snapshot, error) {
	reader, ok := q.db.backend.(Reader)
	if !ok {
		ev, err := q.Once(ctx, ValueChanged)
		if err != nil {
			return nil, err
		}
		return ev.Snapshot, nil
	}

	f := bridge("get", func(done func(*Snapshot, error)) {
		reader.Get(q.loc, q.params, func(raw RawSnapshot, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			done(newSnapshot(q.db, q.loc, raw), nil)
		})
	})
	return f.Wait(ctx)
}

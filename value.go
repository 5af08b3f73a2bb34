package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"
)

var ErrUnsupportedValue = errors.New("unsupported value")

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is the payload shape stored at a location. It is implemented only by
// the types in this file, so a type switch over them is exhaustive.
type Value interface {
	Kind() Kind
	sealed()
}

type (
	Null   struct{}
	Bool   bool
	Number float64
	String string
	List   []Value

	// Map is an immutable mapping iterated in key order.
	Map struct {
		entries *btree.Tree[string, Value]
	}
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (List) Kind() Kind   { return KindList }
func (*Map) Kind() Kind   { return KindMap }

func (Null) sealed()   {}
func (Bool) sealed()   {}
func (Number) sealed() {}
func (String) sealed() {}
func (List) sealed()   {}
func (*Map) sealed()   {}

func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func NewMap(entries map[string]Value) *Map {
	m := &Map{entries: btree.New[string, Value](generic.Less[string])}
	for k, v := range entries {
		if v == nil {
			v = Null{}
		}
		m.entries.Put(k, v)
	}
	return m
}

// MapOf builds a Map from alternating keys and values.
func MapOf(kv ...any) (*Map, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("MapOf: odd number of arguments")
	}
	entries := make(map[string]Value, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("MapOf: key %v is %T, not string", kv[i], kv[i])
		}
		v, err := ValueOf(kv[i+1])
		if err != nil {
			return nil, err
		}
		entries[key] = v
	}
	return NewMap(entries), nil
}

func (m *Map) Len() int {
	if m == nil || m.entries == nil {
		return 0
	}
	return m.entries.Size()
}

func (m *Map) Get(key string) (Value, bool) {
	if m.Len() == 0 {
		return nil, false
	}
	return m.entries.Get(key)
}

func (m *Map) Each(fn func(key string, v Value)) {
	if m.Len() == 0 {
		return
	}
	m.entries.Each(fn)
}

func (m *Map) Keys() []string {
	keys := make([]string, 0, m.Len())
	m.Each(func(key string, _ Value) {
		keys = append(keys, key)
	})
	return keys
}

func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	var err error
	first := true
	m.Each(func(key string, v Value) {
		if err != nil {
			return
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		var kb, vb []byte
		if kb, err = json.Marshal(key); err != nil {
			return
		}
		if vb, err = json.Marshal(v); err != nil {
			return
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ValueOf deep-converts a Go value into a Value. Structs go through their
// JSON encoding.
func ValueOf(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		if m, ok := v.(*Map); ok && m == nil {
			return Null{}, nil
		}
		return v, nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case float64:
		return Number(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return Number(f), nil
	case map[string]any:
		entries := make(map[string]Value, len(v))
		for key, item := range v {
			converted, err := ValueOf(item)
			if err != nil {
				return nil, err
			}
			entries[key] = converted
		}
		return NewMap(entries), nil
	case []any:
		list := make(List, 0, len(v))
		for _, item := range v {
			converted, err := ValueOf(item)
			if err != nil {
				return nil, err
			}
			list = append(list, converted)
		}
		return list, nil
	}
	return valueOfReflect(reflect.ValueOf(x))
}

func valueOfReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return ValueOf(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedValue, rv.Type().Key())
		}
		entries := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			converted, err := ValueOf(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			entries[iter.Key().String()] = converted
		}
		return NewMap(entries), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null{}, nil
		}
		list := make(List, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			converted, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			list = append(list, converted)
		}
		return list, nil
	case reflect.Struct:
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return ValueOf(decoded)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Kind())
}

// Export returns the native form of v: nil, bool, float64, string,
// map[string]any or []any.
func Export(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Export(item)
		}
		return out
	case *Map:
		if t == nil {
			return nil
		}
		out := make(map[string]any, t.Len())
		t.Each(func(key string, item Value) {
			out[key] = Export(item)
		})
		return out
	}
	return nil
}

// toNative converts a caller payload into the backend's representation.
func toNative(x any) (any, error) {
	v, err := ValueOf(x)
	if err != nil {
		return nil, err
	}
	return Export(v), nil
}

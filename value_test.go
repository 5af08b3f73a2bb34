package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocation(t *testing.T) {
	loc := ParseLocation("/users//ann/")
	assert.Equal(t, "/users/ann", loc.String())
	assert.Equal(t, []string{"users", "ann"}, loc.Segments())

	key, ok := loc.Key()
	assert.True(t, ok)
	assert.Equal(t, "ann", key)

	parent, ok := loc.Parent()
	assert.True(t, ok)
	assert.Equal(t, ParseLocation("users"), parent)

	root, ok := parent.Parent()
	assert.True(t, ok)
	assert.True(t, root.IsRoot())
	_, ok = root.Parent()
	assert.False(t, ok)
	assert.Equal(t, "/", root.String())

	assert.Equal(t, loc, ParseLocation("users").Child("ann"))
	assert.Equal(t, loc, root.Child("/users/ann/"))
	assert.True(t, parent.Contains(loc))
	assert.True(t, root.Contains(loc))
	assert.False(t, ParseLocation("use").Contains(loc))
}

func TestValueOf(t *testing.T) {
	type profile struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	v, err := ValueOf(map[string]any{
		"n":       3,
		"list":    []string{"a", "b"},
		"profile": profile{Name: "ann", Age: 31},
		"missing": nil,
	})
	require.NoError(t, err)

	m, ok := v.(*Map)
	require.True(t, ok)
	assert.Equal(t, []string{"list", "missing", "n", "profile"}, m.Keys())

	n, _ := m.Get("n")
	assert.Equal(t, Number(3), n)
	missing, _ := m.Get("missing")
	assert.Equal(t, Null{}, missing)

	assert.Equal(t, map[string]any{
		"n":       3.0,
		"list":    []any{"a", "b"},
		"profile": map[string]any{"name": "ann", "age": 31.0},
		"missing": nil,
	}, Export(v))

	_, err = ValueOf(func() {})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	_, err = ValueOf(map[int]string{1: "a"})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestMapMarshalsInKeyOrder(t *testing.T) {
	m, err := MapOf("b", 2, "a", true, "c", List{String("x"), Null{}})
	require.NoError(t, err)

	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":2,"c":["x",null]}`, string(b))

	_, err = MapOf("odd")
	assert.Error(t, err)
}

func TestEventTypeNames(t *testing.T) {
	for _, typ := range []EventType{ValueChanged, ChildAdded, ChildMoved, ChildChanged, ChildRemoved} {
		parsed, err := ParseEventType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	_, err := ParseEventType("bogus")
	assert.Error(t, err)
}

func TestQueryParamsKey(t *testing.T) {
	db := New(newFakeBackend())
	q := db.Ref("a").Query

	assert.True(t, q.Params().IsDefault())
	assert.Equal(t, "", q.Params().String())
	assert.Equal(t,
		q.StartAt(Bound{Priority: 1}).Limit(3).Params().String(),
		q.Limit(3).StartAt(Bound{Priority: uint8(1)}).Params().String(),
	)
	assert.NotEqual(t,
		q.StartAt(Bound{Priority: 1}).Params().String(),
		q.StartAt(Bound{Priority: "1"}).Params().String(),
	)
	assert.NotEqual(t,
		q.StartAt(Bound{Name: "a"}).Params().String(),
		q.EndAt(Bound{Name: "a"}).Params().String(),
	)
}

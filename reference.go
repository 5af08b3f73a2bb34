package realtime

import "fmt"

// Reference is a Query without filters that can also write.
type Reference struct {
	Query
}

func (r *Reference) Child(path string) *Reference {
	return r.db.refAt(r.loc.Child(path))
}

// Parent returns nil for the root.
func (r *Reference) Parent() *Reference {
	parent, ok := r.loc.Parent()
	if !ok {
		return nil
	}
	return r.db.refAt(parent)
}

func (r *Reference) Root() *Reference {
	return r.db.refAt(r.loc.Root())
}

// Key is the last path segment, empty for the root.
func (r *Reference) Key() string {
	key, _ := r.loc.Key()
	return key
}

func (r *Reference) String() string {
	return r.loc.String()
}

// Set replaces the value. Local listeners see the change before Set
// returns; the future resolves when the store acknowledges it. A nil value
// removes the location.
func (r *Reference) Set(value any) *Future[struct{}] {
	native, err := toNative(value)
	if err != nil {
		return failed("set", err)
	}
	if native == nil {
		return r.remove("set")
	}
	return bridgeUnit("set", func(cb Callback) {
		r.db.backend.Set(r.loc, native, cb)
	})
}

func (r *Reference) SetWithPriority(value any, priority any) *Future[struct{}] {
	if !validPriority(priority) {
		return failed("setWithPriority", fmt.Errorf("%w: %T", ErrInvalidPriority, priority))
	}
	native, err := toNative(value)
	if err != nil {
		return failed("setWithPriority", err)
	}
	return bridgeUnit("setWithPriority", func(cb Callback) {
		r.db.backend.SetWithPriority(r.loc, native, NormalizePriority(priority), cb)
	})
}

// Update writes each (relative path, value) pair and leaves other children
// alone. A nil value removes that child.
func (r *Reference) Update(values map[string]any) *Future[struct{}] {
	natives, err := nativeMap(values)
	if err != nil {
		return failed("update", err)
	}
	return bridgeUnit("update", func(cb Callback) {
		r.db.backend.Update(r.loc, natives, cb)
	})
}

func (r *Reference) Remove() *Future[struct{}] {
	return r.remove("remove")
}

func (r *Reference) remove(op string) *Future[struct{}] {
	return bridgeUnit(op, func(cb Callback) {
		r.db.backend.Remove(r.loc, cb)
	})
}

func (r *Reference) SetPriority(priority any) *Future[struct{}] {
	if !validPriority(priority) {
		return failed("setPriority", fmt.Errorf("%w: %T", ErrInvalidPriority, priority))
	}
	return bridgeUnit("setPriority", func(cb Callback) {
		r.db.backend.SetPriority(r.loc, NormalizePriority(priority), cb)
	})
}

func nativeMap(values map[string]any) (map[string]any, error) {
	natives := make(map[string]any, len(values))
	for path, v := range values {
		native, err := toNative(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		natives[path] = native
	}
	return natives, nil
}

func failed(op string, err error) *Future[struct{}] {
	return resolvedFuture(op, struct{}{}, classify(op, err))
}

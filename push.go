package realtime

// Push creates a child with a store-generated key that sorts after every
// key pushed before it. With a nil value nothing is written and the future is
// already resolved.
func (r *Reference) Push(value any) (*Reference, *Future[struct{}]) {
	child := r.Child(r.db.backend.PushKey(r.loc))
	if value == nil {
		return child, resolvedFuture("push", struct{}{}, nil)
	}
	return child, child.Set(value)
}

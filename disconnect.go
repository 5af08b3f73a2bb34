package realtime

import "fmt"

// DisconnectOp queues writes the store performs by itself when this client
// disconnects without warning. Futures resolve when the store has queued
// (or canceled) the action, not when it runs.
type DisconnectOp struct {
	db  *Database
	loc Location
}

func (r *Reference) OnDisconnect() *DisconnectOp {
	return &DisconnectOp{db: r.db, loc: r.loc}
}

func (d *DisconnectOp) Set(value any) *Future[struct{}] {
	native, err := toNative(value)
	if err != nil {
		return failed("onDisconnect.set", err)
	}
	if native == nil {
		return d.queue("onDisconnect.set", DisconnectRemove, nil, nil)
	}
	return d.queue("onDisconnect.set", DisconnectSet, native, nil)
}

func (d *DisconnectOp) SetWithPriority(value any, priority any) *Future[struct{}] {
	if !validPriority(priority) {
		return failed("onDisconnect.setWithPriority", fmt.Errorf("%w: %T", ErrInvalidPriority, priority))
	}
	native, err := toNative(value)
	if err != nil {
		return failed("onDisconnect.setWithPriority", err)
	}
	return d.queue("onDisconnect.setWithPriority", DisconnectSetWithPriority, native, NormalizePriority(priority))
}

func (d *DisconnectOp) Update(values map[string]any) *Future[struct{}] {
	natives, err := nativeMap(values)
	if err != nil {
		return failed("onDisconnect.update", err)
	}
	return d.queue("onDisconnect.update", DisconnectUpdate, natives, nil)
}

func (d *DisconnectOp) Remove() *Future[struct{}] {
	return d.queue("onDisconnect.remove", DisconnectRemove, nil, nil)
}

// Cancel drops every queued action at or below this location.
func (d *DisconnectOp) Cancel() *Future[struct{}] {
	return bridgeUnit("onDisconnect.cancel", func(cb Callback) {
		d.db.backend.CancelOnDisconnect(d.loc, cb)
	})
}

func (d *DisconnectOp) queue(op string, action DisconnectAction, payload any, priority any) *Future[struct{}] {
	return bridgeUnit(op, func(cb Callback) {
		d.db.backend.OnDisconnect(d.loc, action, payload, priority, cb)
	})
}

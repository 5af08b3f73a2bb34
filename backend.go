package realtime

import "time"

// The interfaces in this file are what the client consumes from the remote
// store. Values crossing them are in native form (see Export).
type (
	Backend interface {
		Registrar
		Writer
		Transactor
		Authenticator
		DisconnectQueue
	}

	// Registrar delivers notifications for one (location, query, event type).
	// onEvent calls for a single registration must not overlap. onEvent may
	// be called before Register returns, and its handlers may attach to or
	// detach from the stream being registered.
	Registrar interface {
		Register(loc Location, q QueryParams, t EventType, onEvent EventCallback, onCancel CancelCallback) (deregister func(), err error)
	}

	Writer interface {
		Set(loc Location, value any, cb Callback)
		SetWithPriority(loc Location, value any, priority any, cb Callback)
		Update(loc Location, values map[string]any, cb Callback)
		Remove(loc Location, cb Callback)
		SetPriority(loc Location, priority any, cb Callback)
		// PushKey returns a new child key that orders after every key it
		// previously generated.
		PushKey(loc Location) string
	}

	Transactor interface {
		Transact(loc Location, update TransactionUpdate, cb TransactionCallback, applyLocally bool)
	}

	Authenticator interface {
		Authenticate(token string, cb func(AuthResult, error))
		Unauthenticate()
	}

	DisconnectQueue interface {
		OnDisconnect(loc Location, action DisconnectAction, payload any, priority any, cb Callback)
		CancelOnDisconnect(loc Location, cb Callback)
	}

	// Connectivity is implemented by backends that can be taken offline.
	Connectivity interface {
		GoOffline()
		GoOnline()
	}

	// RawSnapshot is the store's handle on a point-in-time subtree.
	RawSnapshot interface {
		Key() string
		Val() any
		Child(path string) RawSnapshot
		HasChild(path string) bool
		HasChildren() bool
		NumChildren() int
		// ForEach visits children in order until fn returns true.
		ForEach(fn func(child RawSnapshot) bool) bool
		Priority() any
		ExportVal() any
	}

	EventCallback  func(snap RawSnapshot, prevKey string, hasPrev bool)
	CancelCallback func(err error)
	Callback       func(err error)

	// TransactionUpdate returns ok=false to abort.
	TransactionUpdate   func(current any) (next any, ok bool)
	TransactionCallback func(err error, committed bool, snap RawSnapshot)

	AuthResult struct {
		Claims  map[string]any
		Expires time.Time
	}
)

type DisconnectAction int

const (
	DisconnectSet DisconnectAction = iota
	DisconnectSetWithPriority
	DisconnectUpdate
	DisconnectRemove
)

func (a DisconnectAction) String() string {
	switch a {
	case DisconnectSet:
		return "set"
	case DisconnectSetWithPriority:
		return "setWithPriority"
	case DisconnectUpdate:
		return "update"
	case DisconnectRemove:
		return "remove"
	}
	return "unknown"
}

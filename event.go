package realtime

import "fmt"

type EventType int

const (
	ValueChanged EventType = iota
	ChildAdded
	ChildMoved
	ChildChanged
	ChildRemoved
)

var eventTypeNames = [...]string{
	ValueChanged: "value",
	ChildAdded:   "child_added",
	ChildMoved:   "child_moved",
	ChildChanged: "child_changed",
	ChildRemoved: "child_removed",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return fmt.Sprintf("event(%d)", int(t))
	}
	return eventTypeNames[t]
}

func ParseEventType(name string) (EventType, error) {
	for t, n := range eventTypeNames {
		if n == name {
			return EventType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// Event is one remote notification. PrevKey names the sibling ordered
// immediately before the snapshot and is only set when HasPrev is true.
type Event struct {
	Type     EventType
	Snapshot *Snapshot
	PrevKey  string
	HasPrev  bool
}

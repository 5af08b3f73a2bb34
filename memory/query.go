package memory

import (
	"github.com/airheartdev/realtime"
)

type delivery struct {
	snap    realtime.RawSnapshot
	prevKey string
	hasPrev bool
}

// view applies query parameters to the node at a location.
func view(n *node, params realtime.QueryParams) *node {
	if params.IsDefault() || n.numChildren() == 0 {
		return n
	}

	entries := n.ordered()
	filtered := entries[:0:0]
	for _, e := range entries {
		if afterStart(e, params.Start) && beforeEnd(e, params.End) {
			filtered = append(filtered, e)
		}
	}

	if params.Limit > 0 && len(filtered) > params.Limit {
		if params.Start != nil && params.End == nil {
			filtered = filtered[:params.Limit]
		} else {
			filtered = filtered[len(filtered)-params.Limit:]
		}
	}

	children := newChildren()
	for _, e := range filtered {
		children.Put(e.key, e.node)
	}
	if children.Size() == 0 {
		return nil
	}
	return &node{children: children, priority: n.priority}
}

func openBound(b *realtime.Bound) bool {
	return b == nil || (b.Priority == nil && b.Name == "")
}

func afterStart(e entry, b *realtime.Bound) bool {
	if openBound(b) {
		return true
	}
	c := comparePriority(e.node.getPriority(), b.Priority)
	if c != 0 {
		return c > 0
	}
	return b.Name == "" || e.key >= b.Name
}

func beforeEnd(e entry, b *realtime.Bound) bool {
	if openBound(b) {
		return true
	}
	c := comparePriority(e.node.getPriority(), b.Priority)
	if c != 0 {
		return c < 0
	}
	return b.Name == "" || e.key <= b.Name
}

// diff lists the notifications of type t that turn old into next. initial
// marks the first evaluation of a registration, where a value event is sent
// even if nothing is stored.
func diff(t realtime.EventType, key string, old, next *node, initial bool) []delivery {
	if t == realtime.ValueChanged {
		if initial || !equal(old, next) {
			return []delivery{{snap: &snapshot{key: key, n: next}}}
		}
		return nil
	}

	if equal(old, next) {
		return nil
	}

	oldEntries, nextEntries := old.ordered(), next.ordered()
	oldIndex := indexOf(oldEntries)
	nextIndex := indexOf(nextEntries)

	var out []delivery
	switch t {
	case realtime.ChildRemoved:
		for _, e := range oldEntries {
			if _, ok := nextIndex[e.key]; !ok {
				out = append(out, delivery{snap: &snapshot{key: e.key, n: e.node}})
			}
		}
	case realtime.ChildAdded:
		for i, e := range nextEntries {
			if _, ok := oldIndex[e.key]; !ok {
				out = append(out, withPrev(nextEntries, i))
			}
		}
	case realtime.ChildMoved:
		for i, e := range nextEntries {
			j, ok := oldIndex[e.key]
			if ok && !samePriority(oldEntries[j].node.getPriority(), e.node.getPriority()) {
				out = append(out, withPrev(nextEntries, i))
			}
		}
	case realtime.ChildChanged:
		for i, e := range nextEntries {
			j, ok := oldIndex[e.key]
			if ok && !equal(oldEntries[j].node, e.node) {
				out = append(out, withPrev(nextEntries, i))
			}
		}
	}
	return out
}

func indexOf(entries []entry) map[string]int {
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.key] = i
	}
	return index
}

func withPrev(entries []entry, i int) delivery {
	d := delivery{snap: &snapshot{key: entries[i].key, n: entries[i].node}}
	if i > 0 {
		d.prevKey = entries[i-1].key
		d.hasPrev = true
	}
	return d
}

package memory

import (
	"sort"
	"strconv"
	"strings"

	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"
)

// node is an immutable subtree. A nil *node is the empty (null) value. A node
// has either a leaf value or children, never both.
type node struct {
	leaf     any
	children *btree.Tree[string, *node]
	priority any
}

type entry struct {
	key  string
	node *node
}

func newChildren() *btree.Tree[string, *node] {
	return btree.New[string, *node](generic.Less[string])
}

func fromNative(v any) *node {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		priority := t[".priority"]
		if leaf, ok := t[".value"]; ok {
			n := fromNative(leaf)
			if n == nil {
				return nil
			}
			return n.withPriority(priority)
		}
		children := newChildren()
		for key, item := range t {
			if strings.HasPrefix(key, ".") {
				continue
			}
			if c := fromNative(item); c != nil {
				children.Put(key, c)
			}
		}
		if children.Size() == 0 {
			return nil
		}
		return &node{children: children, priority: priority}
	case []any:
		children := newChildren()
		for i, item := range t {
			if c := fromNative(item); c != nil {
				children.Put(strconv.Itoa(i), c)
			}
		}
		if children.Size() == 0 {
			return nil
		}
		return &node{children: children}
	default:
		return &node{leaf: v}
	}
}

func (n *node) numChildren() int {
	if n == nil || n.children == nil {
		return 0
	}
	return n.children.Size()
}

func (n *node) child(key string) *node {
	if n.numChildren() == 0 {
		return nil
	}
	c, _ := n.children.Get(key)
	return c
}

func (n *node) descend(segments []string) *node {
	for _, seg := range segments {
		if n == nil {
			return nil
		}
		n = n.child(seg)
	}
	return n
}

func (n *node) getPriority() any {
	if n == nil {
		return nil
	}
	return n.priority
}

func (n *node) withPriority(priority any) *node {
	if n == nil {
		return nil
	}
	c := *n
	c.priority = priority
	return &c
}

// withChild returns a copy of n with key replaced by c (or removed when c is
// nil). Writing below a leaf replaces the leaf.
func (n *node) withChild(key string, c *node) *node {
	children := newChildren()
	var priority any
	if n != nil {
		priority = n.priority
		if n.children != nil {
			n.children.Each(func(k string, v *node) {
				if k != key {
					children.Put(k, v)
				}
			})
		}
	}
	if c != nil {
		children.Put(key, c)
	}
	if children.Size() == 0 {
		return nil
	}
	return &node{children: children, priority: priority}
}

func (n *node) set(segments []string, v *node) *node {
	if len(segments) == 0 {
		return v
	}
	return n.withChild(segments[0], n.child(segments[0]).set(segments[1:], v))
}

func (n *node) native() any {
	if n == nil {
		return nil
	}
	if n.numChildren() == 0 {
		return n.leaf
	}

	out := make(map[string]any, n.children.Size())
	sequential := true
	n.children.Each(func(k string, c *node) {
		out[k] = c.native()
	})
	for i := 0; i < len(out); i++ {
		if _, ok := out[strconv.Itoa(i)]; !ok {
			sequential = false
			break
		}
	}
	if !sequential {
		return out
	}
	list := make([]any, len(out))
	for i := range list {
		list[i] = out[strconv.Itoa(i)]
	}
	return list
}

// export is native() with priorities kept as ".priority" entries.
func (n *node) export() any {
	if n == nil {
		return nil
	}
	if n.numChildren() == 0 {
		if n.priority == nil {
			return n.leaf
		}
		return map[string]any{".value": n.leaf, ".priority": n.priority}
	}
	out := make(map[string]any, n.children.Size()+1)
	n.children.Each(func(k string, c *node) {
		out[k] = c.export()
	})
	if n.priority != nil {
		out[".priority"] = n.priority
	}
	return out
}

func equal(a, b *node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}
	if a.leaf != b.leaf || !samePriority(a.priority, b.priority) {
		return false
	}
	if a.numChildren() != b.numChildren() {
		return false
	}
	same := true
	if a.children != nil {
		a.children.Each(func(k string, c *node) {
			if same && !equal(c, b.child(k)) {
				same = false
			}
		})
	}
	return same
}

// ordered lists children by priority, then key.
func (n *node) ordered() []entry {
	entries := make([]entry, 0, n.numChildren())
	if n.numChildren() == 0 {
		return entries
	}
	n.children.Each(func(k string, c *node) {
		entries = append(entries, entry{key: k, node: c})
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return compareEntries(entries[i].node.getPriority(), entries[i].key, entries[j].node.getPriority(), entries[j].key) < 0
	})
	return entries
}

func compareEntries(pa any, ka string, pb any, kb string) int {
	if c := comparePriority(pa, pb); c != 0 {
		return c
	}
	return strings.Compare(ka, kb)
}

// comparePriority orders null before numbers before strings.
func comparePriority(a, b any) int {
	ra, rb := priorityRank(a), priorityRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}

func priorityRank(p any) int {
	switch p.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	}
	return 3
}

func samePriority(a, b any) bool {
	return priorityRank(a) == priorityRank(b) && comparePriority(a, b) == 0
}

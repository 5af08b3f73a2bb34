package memory

import (
	"strings"

	"github.com/airheartdev/realtime"
)

type snapshot struct {
	key string
	n   *node
}

var _ realtime.RawSnapshot = &snapshot{}

func (s *snapshot) Key() string { return s.key }

func (s *snapshot) Val() any { return s.n.native() }

func (s *snapshot) Child(path string) realtime.RawSnapshot {
	segments := splitPath(path)
	if len(segments) == 0 {
		return s
	}
	return &snapshot{key: segments[len(segments)-1], n: s.n.descend(segments)}
}

func (s *snapshot) HasChild(path string) bool {
	return s.n.descend(splitPath(path)) != nil
}

func (s *snapshot) HasChildren() bool { return s.n.numChildren() > 0 }

func (s *snapshot) NumChildren() int { return s.n.numChildren() }

func (s *snapshot) ForEach(fn func(child realtime.RawSnapshot) bool) bool {
	for _, e := range s.n.ordered() {
		if fn(&snapshot{key: e.key, n: e.node}) {
			return true
		}
	}
	return false
}

func (s *snapshot) Priority() any { return s.n.getPriority() }

func (s *snapshot) ExportVal() any { return s.n.export() }

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

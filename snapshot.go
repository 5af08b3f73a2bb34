package realtime

import "github.com/rs/zerolog/log"

// Snapshot is an immutable view of the data at a location at one moment.
type Snapshot struct {
	db  *Database
	loc Location
	raw RawSnapshot
}

func newSnapshot(db *Database, loc Location, raw RawSnapshot) *Snapshot {
	return &Snapshot{db: db, loc: loc, raw: raw}
}

func (s *Snapshot) Key() string {
	key, _ := s.loc.Key()
	return key
}

func (s *Snapshot) Location() Location {
	return s.loc
}

func (s *Snapshot) Ref() *Reference {
	return s.db.refAt(s.loc)
}

// Val returns the native value (nil when nothing is stored).
func (s *Snapshot) Val() any {
	if s.raw == nil {
		return nil
	}
	return s.raw.Val()
}

func (s *Snapshot) Value() Value {
	v, err := ValueOf(s.Val())
	if err != nil {
		log.Warn().Msgf("snapshot: %s holds a value that cannot be converted: %v", s.loc, err)
		return Null{}
	}
	return v
}

func (s *Snapshot) Exists() bool {
	return s.Val() != nil
}

func (s *Snapshot) Child(path string) *Snapshot {
	loc := s.loc.Child(path)
	if s.raw == nil {
		return newSnapshot(s.db, loc, nil)
	}
	return newSnapshot(s.db, loc, s.raw.Child(normalize(path)))
}

func (s *Snapshot) HasChild(path string) bool {
	return s.raw != nil && s.raw.HasChild(normalize(path))
}

func (s *Snapshot) HasChildren() bool {
	return s.raw != nil && s.raw.HasChildren()
}

func (s *Snapshot) NumChildren() int {
	if s.raw == nil {
		return 0
	}
	return s.raw.NumChildren()
}

// ForEach calls fn for each child in query order. It returns true if fn
// stopped the iteration by returning true.
func (s *Snapshot) ForEach(fn func(child *Snapshot) bool) bool {
	if s.raw == nil {
		return false
	}
	return s.raw.ForEach(func(child RawSnapshot) bool {
		return fn(newSnapshot(s.db, s.loc.Child(child.Key()), child))
	})
}

func (s *Snapshot) Priority() any {
	if s.raw == nil {
		return nil
	}
	return s.raw.Priority()
}

// Export returns the value including priorities as ".priority" entries.
func (s *Snapshot) Export() any {
	if s.raw == nil {
		return nil
	}
	return s.raw.ExportVal()
}

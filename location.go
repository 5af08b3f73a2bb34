package realtime

import "strings"

// Location is a position in the remote hierarchy. The zero value is the root.
// Two Locations are equal iff they name the same path.
type Location struct {
	path string
}

func ParseLocation(path string) Location {
	return Location{path: normalize(path)}
}

func normalize(path string) string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, "/")
}

func (l Location) Child(rel string) Location {
	rel = normalize(rel)
	if rel == "" {
		return l
	}
	if l.path == "" {
		return Location{path: rel}
	}
	return Location{path: l.path + "/" + rel}
}

func (l Location) Parent() (Location, bool) {
	if l.path == "" {
		return l, false
	}
	i := strings.LastIndexByte(l.path, '/')
	if i < 0 {
		return Location{}, true
	}
	return Location{path: l.path[:i]}, true
}

func (l Location) Root() Location {
	return Location{}
}

func (l Location) Key() (string, bool) {
	if l.path == "" {
		return "", false
	}
	return l.path[strings.LastIndexByte(l.path, '/')+1:], true
}

func (l Location) IsRoot() bool {
	return l.path == ""
}

// Segments returns the path components from the root down.
func (l Location) Segments() []string {
	if l.path == "" {
		return nil
	}
	return strings.Split(l.path, "/")
}

// Contains reports whether other is l or a descendant of l.
func (l Location) Contains(other Location) bool {
	if l.path == "" || l.path == other.path {
		return true
	}
	return strings.HasPrefix(other.path, l.path+"/")
}

func (l Location) String() string {
	return "/" + l.path
}

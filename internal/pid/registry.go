package pid

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateID   = errors.New("duplicate pid id")
	ErrDuplicateName = errors.New("duplicate pid name")
	ErrInvalidWidth  = errors.New("pid width must be 1, 2 or 4 bytes")
)

// Registry is the immutable PID catalog. It is safe for concurrent use
// because nothing mutates it after NewRegistry returns.
type Registry struct {
	entries []Info
	byID    map[ID]int
	byName  map[string]int
}

func NewRegistry(entries []Info) (*Registry, error) {
	r := &Registry{
		entries: make([]Info, 0, len(entries)),
		byID:    make(map[ID]int, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		switch e.Bytes {
		case 1, 2, 4:
		default:
			return nil, fmt.Errorf("%s (%s): %w", e.Name, e.ID, ErrInvalidWidth)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("pid %s has no name", e.ID)
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("%s: %w", e.ID, ErrDuplicateID)
		}
		key := strings.ToLower(e.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("%s: %w", e.Name, ErrDuplicateName)
		}

		r.byID[e.ID] = len(r.entries)
		r.byName[key] = len(r.entries)
		r.entries = append(r.entries, e)
	}

	return r, nil
}

func (r *Registry) Lookup(id ID) (Info, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Info{}, false
	}
	return r.entries[i], true
}

// LookupName is case-insensitive.
func (r *Registry) LookupName(name string) (Info, bool) {
	i, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Info{}, false
	}
	return r.entries[i], true
}

// Resolve looks a key up by name first, then as a hex identifier.
func (r *Registry) Resolve(key string) (Info, bool) {
	if info, ok := r.LookupName(key); ok {
		return info, true
	}
	id, err := ParseID(key)
	if err != nil {
		return Info{}, false
	}
	return r.Lookup(id)
}

// Index returns the registration position of id, or -1.
func (r *Registry) Index(id ID) int {
	i, ok := r.byID[id]
	if !ok {
		return -1
	}
	return i
}

// All returns the entries in registration order.
func (r *Registry) All() []Info {
	out := make([]Info, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Len() int {
	return len(r.entries)
}

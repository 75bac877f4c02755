package populator

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrNoPopulator means no registered populator accepted a file. It signals a
// configuration gap, not bad input.
var ErrNoPopulator = errors.New("no populator accepts file")

// SelectError reports the file no populator accepted.
type SelectError struct {
	Path string
}

func (e *SelectError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNoPopulator.Error(), e.Path)
}

func (e *SelectError) Unwrap() error { return ErrNoPopulator }

// Registry is an immutable, priority-ordered set of populators.
// Order is priority descending, then name ascending. Names are compared
// with surrounding whitespace trimmed.
type Registry struct {
	ordered []entry
	byName  map[string]Populator
}

type entry struct {
	name string
	p    Populator
}

// NewRegistry sorts ps and rejects empty or duplicate names.
func NewRegistry(ps ...Populator) (*Registry, error) {
	if len(ps) == 0 {
		return nil, fmt.Errorf("at least one populator is required")
	}

	byName := make(map[string]Populator, len(ps))
	ordered := make([]entry, 0, len(ps))
	for _, p := range ps {
		name := normalizeName(p.Name())
		if name == "" {
			return nil, fmt.Errorf("populator with empty name")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("populator %q already registered", name)
		}
		byName[name] = p
		ordered = append(ordered, entry{name: name, p: p})
	}

	slices.SortStableFunc(ordered, func(a, b entry) int {
		if c := cmp.Compare(b.p.Priority(), a.p.Priority()); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	return &Registry{ordered: ordered, byName: byName}, nil
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

// Select returns the first populator, in registry order, that accepts path.
// Each call gets its own Scratch.
func (r *Registry) Select(path string) (Populator, error) {
	sc := newScratch(path)
	for _, e := range r.ordered {
		if e.p.Accept(path, sc) {
			return e.p, nil
		}
	}
	return nil, &SelectError{Path: path}
}

// Lookup is Select without the error.
func (r *Registry) Lookup(path string) (Populator, bool) {
	p, err := r.Select(path)
	return p, err == nil
}

// All returns the populators in selection order.
func (r *Registry) All() []Populator {
	out := make([]Populator, len(r.ordered))
	for i, e := range r.ordered {
		out[i] = e.p
	}
	return out
}

// Get retrieves a populator by name.
func (r *Registry) Get(name string) (Populator, bool) {
	p, ok := r.byName[normalizeName(name)]
	return p, ok
}

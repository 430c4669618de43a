package providers

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrUnknownProvider   = errors.New("unknown generation provider")
	ErrDuplicateProvider = errors.New("duplicate generation provider")
)

// Registry maps provider names to instances. It is fixed once built, so
// concurrent lookups need no locking.
type Registry struct {
	byName map[string]Provider
	names  []string
}

// NewRegistry indexes ps by name.
func NewRegistry(ps ...Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		if p == nil || p.Name() == "" {
			return nil, errors.New("provider must be non-nil and named")
		}
		if _, dup := r.byName[p.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
		}
		r.byName[p.Name()] = p
		r.names = append(r.names, p.Name())
	}
	slices.Sort(r.names)
	return r, nil
}

func (r *Registry) Lookup(name string) (Provider, error) {
	if p, ok := r.byName[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

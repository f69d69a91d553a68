package billing

import (
	"fmt"
	"slices"
)

// Registry holds the providers configured at startup. It is built once in
// main and passed to the services that need it.
type Registry struct {
	providers map[string]Provider
	names     []string
}

// NewRegistry indexes providers by Name.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil || p.Name() == "" {
			return nil, fmt.Errorf("%w: provider without name", ErrInvalidConfig)
		}
		if _, dup := r.providers[p.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
		}
		r.providers[p.Name()] = p
		r.names = append(r.names, p.Name())
	}
	return r, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Default is the first registered provider, used for outbound calls when the
// user has no provider recorded yet.
func (r *Registry) Default() (Provider, error) {
	if len(r.names) == 0 {
		return nil, fmt.Errorf("%w: registry is empty", ErrUnknownProvider)
	}
	return r.providers[r.names[0]], nil
}

package group

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// Registry hands out one started Group per path on a shared store. It is
// meant to be constructed once by the hosting process and passed to the
// components that need groups.
type Registry struct {
	store coord.Store
	opts  []Option

	mu     sync.Mutex
	groups map[string]*Group
	closed bool
}

func NewRegistry(store coord.Store, opts ...Option) *Registry {
	return &Registry{
		store:  store,
		opts:   opts,
		groups: make(map[string]*Group),
	}
}

// Group returns the Group for path, creating and starting it on first use.
func (r *Registry) Group(ctx context.Context, path string, opts ...Option) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if g, ok := r.groups[path]; ok {
		return g, nil
	}

	all := make([]Option, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)
	g := New(r.store, path, all...)
	if err := g.Start(ctx); err != nil {
		return nil, err
	}
	r.groups[path] = g
	return g, nil
}

// Paths returns the paths of the groups handed out so far.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.groups))
	for p := range r.groups {
		out = append(out, p)
	}
	sortPaths(out)
	return out
}

// Close closes every group of the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	groups := r.groups
	r.groups = make(map[string]*Group)
	r.mu.Unlock()

	var err error
	for _, g := range groups {
		err = multierr.Append(err, g.Close(ctx))
	}
	return err
}

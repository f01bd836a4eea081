// internal/delivery/registry.go
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/user/shadowshift/internal/types"
)

// Handler delivers one suggestion.
type Handler func(ctx context.Context, s *types.Suggestion) error

type route struct {
	name    string
	prefix  string
	handler Handler
}

// Registry fans suggestions out to every handler whose prefix matches the
// suggestion's delivery key ("<source>:<thread_id>"). An empty prefix matches
// everything. Handlers run sequentially in registration order.
type Registry struct {
	mu     sync.RWMutex
	routes []route
}

var _ types.Sink = (*Registry)(nil)

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named handler for keys starting with prefix. Registering
// the same name again replaces the earlier handler.
func (r *Registry) Register(name, prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.routes {
		if r.routes[i].name == name {
			r.routes[i] = route{name: name, prefix: prefix, handler: handler}
			return
		}
	}
	r.routes = append(r.routes, route{name: name, prefix: prefix, handler: handler})
}

// Names returns the registered handler names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.name
	}
	return out
}

// Deliver calls every matching handler. Failures are joined; a failing
// handler does not stop the rest. Returns an error if nothing matched.
func (r *Registry) Deliver(ctx context.Context, s *types.Suggestion) error {
	key := string(s.Key())

	r.mu.RLock()
	routes := make([]route, 0, len(r.routes))
	for _, rt := range r.routes {
		if strings.HasPrefix(key, rt.prefix) {
			routes = append(routes, rt)
		}
	}
	r.mu.RUnlock()

	if len(routes) == 0 {
		return fmt.Errorf("no delivery handler for key: %s", key)
	}
	var errs []error
	for _, rt := range routes {
		if err := rt.handler(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt.name, err))
		}
	}
	return errors.Join(errs...)
}

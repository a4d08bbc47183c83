package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry dispatches Open calls to the transport registered for the address scheme.
type Registry struct {
	transports map[string]Transport
	mu         sync.RWMutex
}

var _ Transport = (*Registry)(nil)

// NewRegistry creates a new, empty transport registry
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]Transport),
	}
}

// Register adds a transport for the given schemes
func (r *Registry) Register(t Transport, schemes ...string) error {
	if t == nil {
		return fmt.Errorf("cannot register nil transport")
	}
	if len(schemes) == 0 {
		return fmt.Errorf("at least one scheme is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, scheme := range schemes {
		if _, exists := r.transports[scheme]; exists {
			return fmt.Errorf("scheme already registered: %s", scheme)
		}
	}
	for _, scheme := range schemes {
		r.transports[scheme] = t
	}
	return nil
}

// MustRegister registers a transport and panics if registration fails
func (r *Registry) MustRegister(t Transport, schemes ...string) {
	if err := r.Register(t, schemes...); err != nil {
		panic(fmt.Sprintf("failed to register transport: %v", err))
	}
}

// Get returns the transport registered for a scheme
func (r *Registry) Get(scheme string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.transports[scheme]
	return t, exists
}

// Schemes returns the registered schemes in sorted order
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.transports))
	for scheme := range r.transports {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// Open implements Transport by selecting a transport from the address scheme.
func (r *Registry) Open(ctx context.Context, address string) (Conn, error) {
	scheme, err := Scheme(address)
	if err != nil {
		return nil, err
	}

	t, ok := r.Get(scheme)
	if !ok {
		return nil, fmt.Errorf("%w: no transport for scheme %q", ErrInvalidAddress, scheme)
	}
	return t.Open(ctx, address)
}

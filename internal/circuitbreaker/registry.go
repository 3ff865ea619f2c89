package circuitbreaker

import "sync"

// Registry holds one Breaker per upstream endpoint. Breakers are created
// lazily on first use and shared by every caller hitting the same endpoint.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewRegistry creates a Registry whose breakers are constructed with the given
// options.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// For returns the breaker for the given endpoint, creating it if needed.
func (r *Registry) For(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[endpoint]
	if !ok {
		b = New(r.opts...)
		r.breakers[endpoint] = b
	}
	return b
}

// States returns a snapshot of the current state of every known breaker,
// keyed by endpoint.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for ep, b := range r.breakers {
		out[ep] = b.CurrentState()
	}
	return out
}

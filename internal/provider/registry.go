package provider

import (
	"fmt"
	"strings"
	"sync"

	"github.com/punchamoorthee/payops/internal/domain"
)

type registration struct {
	factory Factory
	opts    Options
	enabled bool
}

// Registry maps provider names to adapter factories. The set of providers is
// fixed at construction; only their enabled flag changes afterwards.
// Registration order is the fallback order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Register adds a provider. Registering a name twice is a programming error.
func (r *Registry) Register(name string, f Factory, opts Options) {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		panic(fmt.Sprintf("provider %q registered twice", name))
	}
	r.entries[name] = &registration{factory: f, opts: opts, enabled: true}
	r.order = append(r.order, name)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	reg.enabled = enabled
	return nil
}

func (r *Registry) Enable(name string) error  { return r.setEnabled(name, true) }
func (r *Registry) Disable(name string) error { return r.setEnabled(name, false) }

// Known reports whether name was registered, enabled or not.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[strings.ToLower(name)]
	return ok
}

// Enabled lists enabled providers in fallback order.
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.entries[name].enabled {
			out = append(out, name)
		}
	}
	return out
}

// Adapter builds an adapter for the credential's provider.
func (r *Registry) Adapter(cred domain.ProviderCredential) (Adapter, error) {
	name := strings.ToLower(cred.Provider)
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cred.Provider)
	}
	if !reg.enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, cred.Provider)
	}
	return reg.factory(cred, reg.opts), nil
}

// Builtin returns the factory for a provider this package implements.
func Builtin(name string) (Factory, bool) {
	switch strings.ToLower(name) {
	case Paystack:
		return NewPaystack, true
	case Flutterwave:
		return NewFlutterwave, true
	}
	return nil, false
}

package strategy

import (
	"strings"
	"sync"

	"github.com/xflash-panda/guestaddr/pkg/machine"
)

// VirtualBoxNATAddress is the address VirtualBox gives every guest on its NAT
// interface. It is never reachable from the host.
const VirtualBoxNATAddress = "10.0.2.15"

// Registry selects a Strategy by provider name.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	fallback   Strategy
}

// NewRegistry creates a new Registry that uses fallback for unknown providers.
func NewRegistry(fallback Strategy) *Registry {
	if fallback == nil {
		fallback = NewGeneric()
	}
	return &Registry{
		strategies: make(map[string]Strategy),
		fallback:   fallback,
	}
}

// DefaultRegistry returns a Registry for VirtualBox and AWS machines, with
// the Generic strategy for everything else.
func DefaultRegistry() *Registry {
	reg := NewRegistry(NewGeneric())
	reg.Register(machine.ProviderVirtualBox, NewGeneric(WithExcludedAddresses(VirtualBoxNATAddress)))
	reg.Register(machine.ProviderAWS, NewCloud())
	return reg
}

// Register sets the strategy for a provider, replacing any previous one.
// Provider names are case-insensitive.
func (r *Registry) Register(provider string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[strings.ToLower(provider)] = s
}

// For returns the strategy for a provider.
func (r *Registry) For(provider string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[strings.ToLower(provider)]; ok {
		return s
	}
	return r.fallback
}

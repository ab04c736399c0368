package strategy

import (
	"fmt"
	"sync"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Registry holds the strategy variants available to the router, keyed by type.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.StrategyType]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.StrategyType]Strategy)}
}

// Register adds a strategy. Registering the same type twice is a programming
// error and fails.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Type()]; exists {
		return fmt.Errorf("strategy: %q already registered", s.Type())
	}
	r.strategies[s.Type()] = s
	return nil
}

// Get returns the strategy for a type.
func (r *Registry) Get(t domain.StrategyType) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[t]
	return s, ok
}

// List returns all registered strategies in priority order.
func (r *Registry) List() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, t := range domain.AllStrategyTypes {
		if s, ok := r.strategies[t]; ok {
			out = append(out, s)
		}
	}
	return out
}

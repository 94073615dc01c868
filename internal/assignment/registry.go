package assignment

import (
	"fmt"
	"sort"
	"sync"

	"workdesk/internal/domain"
)

// Registry maps strategy types to implementations. Build one at startup and
// pass it to the Resolver.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.StrategyType]Strategy
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry() *Registry {
	r := &Registry{strategies: map[domain.StrategyType]Strategy{}}
	r.Register(domain.StrategyDefault, OfferToAll{})
	r.Register(domain.StrategyFirstEligible, FirstEligible{})
	r.Register(domain.StrategyRoundRobin, RoundRobin{})
	r.Register(domain.StrategyRandom, Random{})
	r.Register(domain.StrategyLoadBased, LoadBased{})
	r.Register(domain.StrategySeparationOfDuties, SeparationOfDuties{})
	return r
}

func (r *Registry) Register(t domain.StrategyType, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.strategies == nil {
		r.strategies = map[domain.StrategyType]Strategy{}
	}
	r.strategies[t] = s
}

func (r *Registry) Registered(t domain.StrategyType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[t]
	return ok
}

// Types returns registered strategy types, sorted.
func (r *Registry) Types() []domain.StrategyType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StrategyType, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get returns the requested strategy, substituting fallback when requested is
// not enabled or not registered. An empty enabled set enables everything
// registered.
func (r *Registry) Get(requested domain.StrategyType, enabled []domain.StrategyType, fallback domain.StrategyType) (domain.StrategyType, Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if isEnabled(requested, enabled) {
		if s, ok := r.strategies[requested]; ok {
			return requested, s, nil
		}
	}
	if s, ok := r.strategies[fallback]; ok {
		return fallback, s, nil
	}
	return "", nil, domain.ConfigurationError(
		fmt.Sprintf("distribution strategy %s and fallback %s are not registered", requested, fallback),
		map[string]any{"requested": requested, "fallback": fallback},
	)
}

func isEnabled(t domain.StrategyType, enabled []domain.StrategyType) bool {
	if len(enabled) == 0 {
		return true
	}
	for _, e := range enabled {
		if e == t {
			return true
		}
	}
	return false
}

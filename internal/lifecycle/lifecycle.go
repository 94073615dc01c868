package lifecycle

import (
	"fmt"
	"sort"
	"sync"

	"workdesk/internal/domain"
)

const DefaultName = "default"

// Definition is a named transition table.
type Definition struct {
	Name        string
	Initial     domain.State
	Transitions map[domain.State][]domain.State
}

// Default returns the built-in BPM-style lifecycle.
//
//	NEW -> OFFERED -> CLAIMED -> COMPLETED
//	          |          |
//	          +----------+-----> CANCELLED
func Default() Definition {
	return Definition{
		Name:    DefaultName,
		Initial: domain.StateOffered,
		Transitions: map[domain.State][]domain.State{
			domain.StateNew:       {domain.StateOffered},
			domain.StateOffered:   {domain.StateClaimed, domain.StateCancelled},
			domain.StateClaimed:   {domain.StateCompleted, domain.StateCancelled},
			domain.StateCompleted: {},
			domain.StateCancelled: {},
		},
	}
}

func (d Definition) IsAllowed(from, to domain.State) bool {
	for _, next := range d.Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Declares reports whether state appears anywhere in the table.
func (d Definition) Declares(state domain.State) bool {
	if _, ok := d.Transitions[state]; ok {
		return true
	}
	for _, targets := range d.Transitions {
		for _, t := range targets {
			if t == state {
				return true
			}
		}
	}
	return false
}

// Validate checks structural rules every definition must satisfy.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("lifecycle name is required")
	}
	if !d.Initial.Valid() || d.Initial == domain.StateNew {
		return fmt.Errorf("lifecycle %s: invalid initial state %q", d.Name, d.Initial)
	}
	if !d.IsAllowed(domain.StateNew, d.Initial) {
		return fmt.Errorf("lifecycle %s: NEW must lead to initial state %s", d.Name, d.Initial)
	}
	for from, targets := range d.Transitions {
		if !from.Valid() {
			return fmt.Errorf("lifecycle %s: unknown state %q", d.Name, from)
		}
		for _, to := range targets {
			if !to.Valid() {
				return fmt.Errorf("lifecycle %s: unknown state %q", d.Name, to)
			}
			if to == domain.StateNew {
				return fmt.Errorf("lifecycle %s: NEW cannot be a transition target", d.Name)
			}
		}
	}
	for _, terminal := range []domain.State{domain.StateCompleted, domain.StateCancelled} {
		if len(d.Transitions[terminal]) > 0 {
			return fmt.Errorf("lifecycle %s: %s is terminal", d.Name, terminal)
		}
	}
	return nil
}

// Registry resolves lifecycle definitions by name.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
}

// NewRegistry returns a registry seeded with the default lifecycle and any extras.
func NewRegistry(extra ...Definition) (*Registry, error) {
	r := &Registry{definitions: map[string]Definition{DefaultName: Default()}}
	for _, d := range extra {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(d Definition) error {
	if err := d.Validate(); err != nil {
		return domain.ConfigurationError(err.Error(), map[string]any{"lifecycle": d.Name})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[d.Name] = d
	return nil
}

func (r *Registry) Get(name string) (Definition, error) {
	if name == "" {
		name = DefaultName
	}
	r.mu.RLock()
	d, ok := r.definitions[name]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, domain.NotFound(fmt.Sprintf("lifecycle '%s' not found", name), map[string]any{"lifecycle": name})
	}
	return d, nil
}

func (r *Registry) IsAllowed(name string, from, to domain.State) (bool, error) {
	d, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return d.IsAllowed(from, to), nil
}

// Transitions lists the states reachable from from in the named lifecycle.
func (r *Registry) Transitions(name string, from domain.State) ([]domain.State, error) {
	d, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return append([]domain.State(nil), d.Transitions[from]...), nil
}

func (r *Registry) InitialState(name string) (domain.State, error) {
	d, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return d.Initial, nil
}

// Names returns registered lifecycle names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

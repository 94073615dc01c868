package assignment

import (
	"workdesk/internal/domain"
)

// Outcome is the final offer: an immediate assignee or a list of offered users.
type Outcome struct {
	Strategy   domain.StrategyType     `json:"strategy"`
	Mode       domain.DistributionMode `json:"mode"`
	OfferedTo  []string                `json:"offered_to"`
	AssignedTo string                  `json:"assigned_to,omitempty"`
}

// ResolveOffer turns a selection into an offer for the given mode.
func ResolveOffer(sel Selection, mode domain.DistributionMode) Outcome {
	out := Outcome{Mode: mode, OfferedTo: []string{}}
	if len(sel.SelectedUsers) == 0 {
		return out
	}
	if mode == domain.ModePush {
		out.AssignedTo = sel.SelectedUsers[0]
		return out
	}
	out.OfferedTo = append(out.OfferedTo, sel.SelectedUsers...)
	return out
}

type Request struct {
	Strategy domain.StrategyType
	Mode     domain.DistributionMode
	Enabled  []domain.StrategyType
	Fallback domain.StrategyType
	Context  DistributionContext
}

// Resolver glues the strategy registry to the offer resolver. It performs no I/O.
type Resolver struct {
	Registry *Registry
}

func (r Resolver) Resolve(req Request) (Outcome, error) {
	reg := r.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	chosen, strategy, err := reg.Get(req.Strategy, req.Enabled, req.Fallback)
	if err != nil {
		return Outcome{}, err
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModePull
	}
	out := ResolveOffer(strategy.Resolve(req.Context), mode)
	out.Strategy = chosen
	return out, nil
}

package validation

import (
	"workdesk/internal/lifecycle"
)

// Orchestrator runs the validator chain in order and stops at the first failure.
type Orchestrator struct {
	Lifecycles *lifecycle.Registry
	Validators []Validator
}

// NewOrchestrator returns the standard chain: lifecycle, state transition,
// authorization, assignment eligibility, parameters, idempotency.
func NewOrchestrator(lifecycles *lifecycle.Registry, adminID string) Orchestrator {
	return Orchestrator{
		Lifecycles: lifecycles,
		Validators: []Validator{
			LifecycleValidator{},
			StateTransitionValidator{},
			AuthorizationValidator{AdminID: adminID},
			AssignmentEligibilityValidator{},
			ParameterValidator{},
			IdempotencyValidator{},
		},
	}
}

// Validate returns the first failing Result. The error is reserved for an
// unknown lifecycle name.
func (o Orchestrator) Validate(c Context) (Result, error) {
	def, err := o.Lifecycles.Get(c.LifecycleName())
	if err != nil {
		return Result{}, err
	}
	for _, v := range o.Validators {
		if res := v.Validate(def, c); !res.Valid {
			return res, nil
		}
	}
	return OK(), nil
}

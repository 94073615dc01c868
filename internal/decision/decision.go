// Package decision answers "should this command succeed" without touching storage.
package decision

import (
	"fmt"

	"workdesk/internal/assignment"
	"workdesk/internal/domain"
	"workdesk/internal/lifecycle"
	"workdesk/internal/validation"
)

// Decision is the outcome of one command. Rejections carry Reason and Kind;
// accepted creates carry InitialState and Assignment; accepted transitions
// carry FromState and ToState.
type Decision struct {
	Accepted     bool                `json:"accepted"`
	Action       domain.Action       `json:"action"`
	Reason       string              `json:"reason,omitempty"`
	Kind         domain.ErrorKind    `json:"kind,omitempty"`
	InitialState domain.State        `json:"initial_state,omitempty"`
	Assignment   *assignment.Outcome `json:"assignment,omitempty"`
	FromState    domain.State        `json:"from_state,omitempty"`
	ToState      domain.State        `json:"to_state,omitempty"`
}

func Reject(action domain.Action, res validation.Result) Decision {
	return Decision{Action: action, Reason: res.Reason, Kind: res.Kind}
}

type Service struct {
	Orchestrator validation.Orchestrator
	Lifecycles   *lifecycle.Registry
}

func NewService(lifecycles *lifecycle.Registry, adminID string) Service {
	return Service{
		Orchestrator: validation.NewOrchestrator(lifecycles, adminID),
		Lifecycles:   lifecycles,
	}
}

// DecideCreate validates a creation and returns the lifecycle's initial state.
func (s Service) DecideCreate(c validation.CreateContext) (Decision, error) {
	res, err := s.Orchestrator.Validate(c)
	if err != nil {
		return Decision{}, err
	}
	if !res.Valid {
		return Reject(domain.ActionCreate, res), nil
	}
	initial, err := s.Lifecycles.InitialState(c.Lifecycle)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Accepted: true, Action: domain.ActionCreate, InitialState: initial}, nil
}

// WithAssignment attaches the assignment outcome to an accepted create. An
// immediate assignee moves the initial state on to CLAIMED, which the
// lifecycle must allow.
func (s Service) WithAssignment(lifecycleName string, d Decision, out assignment.Outcome) (Decision, error) {
	if !d.Accepted {
		return d, nil
	}
	d.Assignment = &out
	if out.AssignedTo == "" || d.InitialState == domain.StateClaimed {
		return d, nil
	}
	ok, err := s.Lifecycles.IsAllowed(lifecycleName, d.InitialState, domain.StateClaimed)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, domain.ConfigurationError(
			fmt.Sprintf("lifecycle %s cannot assign on create: %s to %s not allowed", lifecycleName, d.InitialState, domain.StateClaimed),
			map[string]any{"lifecycle": lifecycleName},
		)
	}
	d.InitialState = domain.StateClaimed
	return d, nil
}

// Decide validates a transition command.
func (s Service) Decide(c validation.Context) (Decision, error) {
	if cc, ok := c.(validation.CreateContext); ok {
		return s.DecideCreate(cc)
	}
	res, err := s.Orchestrator.Validate(c)
	if err != nil {
		return Decision{}, err
	}
	if !res.Valid {
		return Reject(c.Action(), res), nil
	}
	def, err := s.Lifecycles.Get(c.LifecycleName())
	if err != nil {
		return Decision{}, err
	}
	from, to := validation.Transition(def, c)
	return Decision{Accepted: true, Action: c.Action(), FromState: from, ToState: to}, nil
}

package validation

import (
	"fmt"
	"sort"

	"workdesk/internal/domain"
	"workdesk/internal/lifecycle"
)

type Result struct {
	Valid  bool             `json:"valid"`
	Reason string           `json:"reason,omitempty"`
	Kind   domain.ErrorKind `json:"kind,omitempty"`
}

func OK() Result { return Result{Valid: true} }

func Fail(reason string) Result {
	return Result{Reason: reason, Kind: domain.KindValidationFailure}
}

func Duplicate(reason string) Result {
	return Result{Reason: reason, Kind: domain.KindDuplicateRequest}
}

// Validator is one link of the chain.
type Validator interface {
	Name() string
	Validate(def lifecycle.Definition, c Context) Result
}

// Transition returns the (from, to) pair the context asks for.
func Transition(def lifecycle.Definition, c Context) (domain.State, domain.State) {
	switch v := c.(type) {
	case CreateContext:
		return domain.StateNew, def.Initial
	case ClaimContext:
		return v.Item.State, domain.StateClaimed
	case CompleteContext:
		return v.Item.State, domain.StateCompleted
	case CancelContext:
		return v.Item.State, domain.StateCancelled
	case TransitionContext:
		return v.Item.State, v.Target
	default:
		return "", ""
	}
}

type LifecycleValidator struct{}

func (LifecycleValidator) Name() string { return "lifecycle" }

func (LifecycleValidator) Validate(def lifecycle.Definition, c Context) Result {
	from, to := Transition(def, c)
	for _, s := range []domain.State{from, to} {
		if !s.Valid() || !def.Declares(s) {
			return Fail(fmt.Sprintf("State not part of lifecycle: %s", s))
		}
	}
	return OK()
}

type StateTransitionValidator struct{}

func (StateTransitionValidator) Name() string { return "state_transition" }

func (StateTransitionValidator) Validate(def lifecycle.Definition, c Context) Result {
	from, to := Transition(def, c)
	if !def.IsAllowed(from, to) {
		return Fail(fmt.Sprintf("Invalid transition from %s to %s", from, to))
	}
	return OK()
}

type AuthorizationValidator struct {
	AdminID string
}

func (AuthorizationValidator) Name() string { return "authorization" }

func (v AuthorizationValidator) Validate(_ lifecycle.Definition, c Context) Result {
	actor := c.ActorID()
	if v.AdminID != "" && actor == v.AdminID {
		return OK()
	}
	switch ctx := c.(type) {
	case CreateContext:
		return OK()
	case ClaimContext:
		if ctx.Item.AssigneeID != "" {
			return Fail("Work item already claimed")
		}
		return OK()
	case CompleteContext:
		if actor == "" || ctx.Item.AssigneeID != actor {
			return Fail("Only assignee can complete work item")
		}
		return OK()
	case CancelContext:
		if actor == "" || ctx.Item.AssigneeID != actor {
			return Fail("Only assignee or admin can cancel work item")
		}
		return OK()
	case TransitionContext:
		if actor == "" || ctx.Item.AssigneeID != actor {
			return Fail("Unauthorized state transition")
		}
		return OK()
	default:
		return Fail("Unknown action")
	}
}

type AssignmentEligibilityValidator struct{}

func (AssignmentEligibilityValidator) Name() string { return "assignment_eligibility" }

func (AssignmentEligibilityValidator) Validate(def lifecycle.Definition, c Context) Result {
	if _, to := Transition(def, c); to != domain.StateClaimed {
		return OK()
	}
	var (
		wi       domain.WorkItem
		eligible bool
	)
	switch ctx := c.(type) {
	case ClaimContext:
		wi = ctx.Item
		eligible = ctx.Candidates.Unrestricted || ctx.Candidates.Contains(ctx.Actor)
	case TransitionContext:
		wi = ctx.Item
		eligible = ctx.Candidates.Unrestricted || ctx.Candidates.Contains(ctx.Actor)
	default:
		return OK()
	}
	if !eligible {
		return Fail("Actor not eligible for this work item")
	}
	if len(wi.OfferedTo) > 0 && !wi.IsOffered(c.ActorID()) {
		return Fail("Actor not eligible for this work item")
	}
	return OK()
}

type ParameterValidator struct{}

func (ParameterValidator) Name() string { return "parameters" }

func (ParameterValidator) Validate(def lifecycle.Definition, c Context) Result {
	switch ctx := c.(type) {
	case CreateContext:
		return validateDeclared(ctx.Parameters)
	case CompleteContext:
		return validateOutput(ctx.Item, ctx.Output)
	case TransitionContext:
		if ctx.Target == domain.StateCompleted {
			return validateOutput(ctx.Item, ctx.Parameters)
		}
		return OK()
	default:
		return OK()
	}
}

// validateDeclared requires a value for every mandatory IN/INOUT parameter.
func validateDeclared(params []domain.Parameter) Result {
	supplied := map[string]any{}
	var required []string
	for _, p := range params {
		if _, ok := supplied[p.Name]; ok {
			return Fail(fmt.Sprintf("Duplicate parameter: %s", p.Name))
		}
		supplied[p.Name] = p.Value
		if p.Mandatory && p.Direction != domain.DirectionOut {
			required = append(required, p.Name)
		}
	}
	for name, v := range supplied {
		if v == nil {
			delete(supplied, name)
		}
	}
	return validateRequired(supplied, required)
}

func validateRequired(params map[string]any, required []string) Result {
	for _, key := range required {
		if _, ok := params[key]; !ok {
			return Fail(fmt.Sprintf("Missing parameter: %s", key))
		}
	}
	return OK()
}

func validateOutput(wi domain.WorkItem, output map[string]any) Result {
	keys := make([]string, 0, len(output))
	for key := range output {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		p, ok := wi.Parameter(key)
		if !ok {
			return Fail(fmt.Sprintf("Unknown output parameter: %s", key))
		}
		if !p.Direction.Writable() {
			return Fail(fmt.Sprintf("Parameter is not writable: %s", key))
		}
	}
	for _, p := range wi.Parameters {
		if !p.Mandatory || !p.Direction.Writable() {
			continue
		}
		if v, ok := output[p.Name]; !ok || v == nil {
			return Fail(fmt.Sprintf("Missing mandatory output parameter: %s", p.Name))
		}
	}
	return OK()
}

type IdempotencyValidator struct{}

func (IdempotencyValidator) Name() string { return "idempotency" }

func (IdempotencyValidator) Validate(_ lifecycle.Definition, c Context) Result {
	if c.processed() {
		return Duplicate("Duplicate command")
	}
	return OK()
}

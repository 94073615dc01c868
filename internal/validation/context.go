package validation

import (
	"workdesk/internal/assignment"
	"workdesk/internal/domain"
)

// Context is the per-action input of the validation chain. Only the types in
// this file implement it.
type Context interface {
	Action() domain.Action
	LifecycleName() string
	ActorID() string
	processed() bool
}

type CreateContext struct {
	Lifecycle        string
	Initiator        string
	Parameters       []domain.Parameter
	AlreadyProcessed bool
}

func (c CreateContext) Action() domain.Action { return domain.ActionCreate }
func (c CreateContext) LifecycleName() string { return c.Lifecycle }
func (c CreateContext) ActorID() string       { return c.Initiator }
func (c CreateContext) processed() bool       { return c.AlreadyProcessed }

type ClaimContext struct {
	Item             domain.WorkItem
	Actor            string
	Candidates       assignment.Candidates
	AlreadyProcessed bool
}

func (c ClaimContext) Action() domain.Action { return domain.ActionClaim }
func (c ClaimContext) LifecycleName() string { return c.Item.Lifecycle }
func (c ClaimContext) ActorID() string       { return c.Actor }
func (c ClaimContext) processed() bool       { return c.AlreadyProcessed }

type CompleteContext struct {
	Item             domain.WorkItem
	Actor            string
	Output           map[string]any
	AlreadyProcessed bool
}

func (c CompleteContext) Action() domain.Action { return domain.ActionComplete }
func (c CompleteContext) LifecycleName() string { return c.Item.Lifecycle }
func (c CompleteContext) ActorID() string       { return c.Actor }
func (c CompleteContext) processed() bool       { return c.AlreadyProcessed }

type CancelContext struct {
	Item             domain.WorkItem
	Actor            string
	Reason           string
	AlreadyProcessed bool
}

func (c CancelContext) Action() domain.Action { return domain.ActionCancel }
func (c CancelContext) LifecycleName() string { return c.Item.Lifecycle }
func (c CancelContext) ActorID() string       { return c.Actor }
func (c CancelContext) processed() bool       { return c.AlreadyProcessed }

// TransitionContext is the generic transition to an arbitrary target state.
type TransitionContext struct {
	Item             domain.WorkItem
	Actor            string
	Target           domain.State
	Candidates       assignment.Candidates
	Parameters       map[string]any
	AlreadyProcessed bool
}

func (c TransitionContext) Action() domain.Action { return domain.ActionTransition }
func (c TransitionContext) LifecycleName() string { return c.Item.Lifecycle }
func (c TransitionContext) ActorID() string       { return c.Actor }
func (c TransitionContext) processed() bool       { return c.AlreadyProcessed }

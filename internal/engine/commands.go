package engine

import (
	"errors"
	"time"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"

	"workdesk/internal/decision"
	"workdesk/internal/domain"
)

// CreateCommand creates one work item as a step of an external workflow run.
type CreateCommand struct {
	WorkflowID     string                  `json:"workflow_id"`
	RunID          string                  `json:"run_id"`
	TaskType       string                  `json:"task_type"`
	TaskName       string                  `json:"task_name"`
	Description    string                  `json:"description,omitempty"`
	Priority       int                     `json:"priority,omitempty"`
	DueDate        *time.Time              `json:"due_date,omitempty"`
	Lifecycle      string                  `json:"lifecycle,omitempty"`
	AssignmentSpec domain.AssignmentSpec   `json:"assignment_spec"`
	Strategy       domain.StrategyType     `json:"strategy,omitempty"`
	Mode           domain.DistributionMode `json:"mode,omitempty"`
	Parameters     []domain.Parameter      `json:"parameters,omitempty"`
	ContextData    map[string]any          `json:"context_data,omitempty"`
	InitiatorID    string                  `json:"initiator_id"`
	IdempotencyKey string                  `json:"-"`
	BusinessKey    string                  `json:"-"`
}

type ClaimCommand struct {
	WorkItemID      int64  `json:"work_item_id"`
	ActorID         string `json:"actor_id"`
	IdempotencyKey  string `json:"-"`
	BusinessKey     string `json:"-"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type CompleteCommand struct {
	WorkItemID      int64          `json:"work_item_id"`
	ActorID         string         `json:"actor_id"`
	Output          map[string]any `json:"output,omitempty"`
	IdempotencyKey  string         `json:"-"`
	BusinessKey     string         `json:"-"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

type CancelCommand struct {
	WorkItemID      int64  `json:"work_item_id"`
	ActorID         string `json:"actor_id"`
	Reason          string `json:"reason,omitempty"`
	IdempotencyKey  string `json:"-"`
	BusinessKey     string `json:"-"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

// Result is what every command returns. Replayed is set when the response
// came from the idempotency ledger instead of a fresh execution.
type Result struct {
	Decision   decision.Decision `json:"decision"`
	WorkItemID int64             `json:"work_item_id,omitempty"`
	Replayed   bool              `json:"replayed,omitempty"`
}

var (
	strategyRule = ozzo.In(
		domain.StrategyDefault, domain.StrategyFirstEligible, domain.StrategyRoundRobin,
		domain.StrategyRandom, domain.StrategyLoadBased, domain.StrategySeparationOfDuties,
	)
	modeRule      = ozzo.In(domain.ModePush, domain.ModePull)
	directionRule = ozzo.In(domain.DirectionIn, domain.DirectionOut, domain.DirectionInOut)
)

func (c CreateCommand) Validate() error {
	return ozzo.ValidateStruct(&c,
		ozzo.Field(&c.WorkflowID, ozzo.Required),
		ozzo.Field(&c.TaskType, ozzo.Required),
		ozzo.Field(&c.Strategy, strategyRule),
		ozzo.Field(&c.Mode, modeRule),
		ozzo.Field(&c.Parameters, ozzo.By(func(any) error {
			for _, p := range c.Parameters {
				if err := validateParameter(p); err != nil {
					return err
				}
			}
			return nil
		})),
	)
}

func validateParameter(p domain.Parameter) error {
	return ozzo.ValidateStruct(&p,
		ozzo.Field(&p.Name, ozzo.Required),
		ozzo.Field(&p.Direction, ozzo.Required, directionRule),
	)
}

func (c ClaimCommand) Validate() error {
	return ozzo.ValidateStruct(&c,
		ozzo.Field(&c.WorkItemID, ozzo.Required, ozzo.Min(int64(1))),
		ozzo.Field(&c.ActorID, ozzo.Required),
		ozzo.Field(&c.ExpectedVersion, ozzo.Min(int64(0))),
	)
}

func (c CompleteCommand) Validate() error {
	return ozzo.ValidateStruct(&c,
		ozzo.Field(&c.WorkItemID, ozzo.Required, ozzo.Min(int64(1))),
		ozzo.Field(&c.ActorID, ozzo.Required),
		ozzo.Field(&c.ExpectedVersion, ozzo.Min(int64(0))),
	)
}

func (c CancelCommand) Validate() error {
	return ozzo.ValidateStruct(&c,
		ozzo.Field(&c.WorkItemID, ozzo.Required, ozzo.Min(int64(1))),
		ozzo.Field(&c.ActorID, ozzo.Required),
		ozzo.Field(&c.ExpectedVersion, ozzo.Min(int64(0))),
	)
}

// checkShape runs the command's field rules and returns a ValidationFailure
// carrying the per-field messages.
func checkShape(v ozzo.Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}
	fields := map[string]string{}
	var errs ozzo.Errors
	if errors.As(err, &errs) {
		for field, fe := range errs {
			fields[field] = fe.Error()
		}
	}
	return domain.ValidationFailure("invalid command: "+err.Error(), map[string]any{"fields": fields})
}

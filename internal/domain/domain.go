package domain

import "time"

// DefaultAdminID is the identity that bypasses authorization and receives
// items nobody else is eligible for.
const DefaultAdminID = "admin"

type State string

const (
	StateNew       State = "NEW"
	StateOffered   State = "OFFERED"
	StateClaimed   State = "CLAIMED"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
)

// States lists every known work item state in lifecycle order.
var States = []State{StateNew, StateOffered, StateClaimed, StateCompleted, StateCancelled}

func (s State) Valid() bool {
	for _, st := range States {
		if st == s {
			return true
		}
	}
	return false
}

type Action string

const (
	ActionCreate     Action = "CREATE"
	ActionClaim      Action = "CLAIM"
	ActionComplete   Action = "COMPLETE"
	ActionCancel     Action = "CANCEL"
	ActionTransition Action = "TRANSITION"
)

type Direction string

const (
	DirectionIn    Direction = "IN"
	DirectionOut   Direction = "OUT"
	DirectionInOut Direction = "INOUT"
)

// Writable reports whether a completion may set the parameter.
func (d Direction) Writable() bool {
	return d == DirectionOut || d == DirectionInOut
}

type StrategyType string

const (
	StrategyDefault            StrategyType = "DEFAULT"
	StrategyFirstEligible      StrategyType = "FIRST_ELIGIBLE"
	StrategyRoundRobin         StrategyType = "ROUND_ROBIN"
	StrategyRandom             StrategyType = "RANDOM"
	StrategyLoadBased          StrategyType = "LOAD_BASED"
	StrategySeparationOfDuties StrategyType = "SEPARATION_OF_DUTIES"
)

type DistributionMode string

const (
	ModePush DistributionMode = "PUSH"
	ModePull DistributionMode = "PULL"
)

type LoadPolicy string

const (
	LoadLeastLoaded LoadPolicy = "LEAST_LOADED"
	LoadThreshold   LoadPolicy = "THRESHOLD"
)

type LoadBasedConfig struct {
	MaxOpenItems int        `json:"max_open_items,omitempty" yaml:"max_open_items"`
	Policy       LoadPolicy `json:"policy,omitempty" yaml:"policy"`
}

// AssignmentSpec is the eligibility rule captured when a work item is created.
type AssignmentSpec struct {
	CandidateUsers        []string         `json:"candidate_users,omitempty"`
	CandidateGroups       []string         `json:"candidate_groups,omitempty"`
	CandidatePositions    []string         `json:"candidate_positions,omitempty"`
	CandidateOrgUnits     []string         `json:"candidate_org_units,omitempty"`
	Strategy              StrategyType     `json:"strategy,omitempty"`
	Mode                  DistributionMode `json:"mode,omitempty"`
	SeparationOfDutiesKey string           `json:"separation_of_duties_key,omitempty"`
	LoadBased             *LoadBasedConfig `json:"load_based,omitempty"`
}

// Unconstrained is true when the spec names no candidates at all.
func (s AssignmentSpec) Unconstrained() bool {
	return len(s.CandidateUsers) == 0 &&
		len(s.CandidateGroups) == 0 &&
		len(s.CandidatePositions) == 0 &&
		len(s.CandidateOrgUnits) == 0
}

type Parameter struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Mandatory bool      `json:"mandatory,omitempty"`
	Value     any       `json:"value,omitempty"`
}

type WorkItem struct {
	ID             int64          `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	RunID          string         `json:"run_id"`
	TaskType       string         `json:"task_type"`
	TaskName       string         `json:"task_name"`
	Description    string         `json:"description,omitempty"`
	Priority       int            `json:"priority"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	Lifecycle      string         `json:"lifecycle"`
	State          State          `json:"state"`
	Version        int64          `json:"version"`
	AssigneeID     string         `json:"assignee_id,omitempty"`
	OfferedTo      []string       `json:"offered_to"`
	AssignmentSpec AssignmentSpec `json:"assignment_spec"`
	Parameters     []Parameter    `json:"parameters"`
	ContextData    map[string]any `json:"context_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Parameter returns the declared parameter by name.
func (w WorkItem) Parameter(name string) (Parameter, bool) {
	for _, p := range w.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// IsOffered reports whether userID is in the current offer.
func (w WorkItem) IsOffered(userID string) bool {
	for _, u := range w.OfferedTo {
		if u == userID {
			return true
		}
	}
	return false
}

type AuditEntry struct {
	ID         int64          `json:"id"`
	WorkItemID int64          `json:"work_item_id"`
	Action     Action         `json:"action"`
	FromState  State          `json:"from_state,omitempty"`
	ToState    State          `json:"to_state,omitempty"`
	ActorID    string         `json:"actor_id"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type ParticipantRole string

const (
	RoleOffered   ParticipantRole = "OFFERED"
	RoleAssignee  ParticipantRole = "ASSIGNEE"
	RoleCompleter ParticipantRole = "COMPLETER"
	RoleCanceller ParticipantRole = "CANCELLER"
)

type Participant struct {
	WorkItemID int64           `json:"work_item_id"`
	UserID     string          `json:"user_id"`
	Role       ParticipantRole `json:"role"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

const AggregateWorkItem = "WorkItem"

const (
	EventWorkItemCreated   = "WorkItemCreated"
	EventWorkItemClaimed   = "WorkItemClaimed"
	EventWorkItemCompleted = "WorkItemCompleted"
	EventWorkItemCancelled = "WorkItemCancelled"
)

type OutboxEvent struct {
	ID            int64        `json:"id"`
	EventID       string       `json:"event_id"`
	AggregateID   int64        `json:"aggregate_id"`
	AggregateType string       `json:"aggregate_type"`
	EventType     string       `json:"event_type"`
	Version       int64        `json:"version"`
	Payload       string       `json:"payload"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty"`
	PublishedAt   *time.Time   `json:"published_at,omitempty"`
}

type IdempotencyStatus string

const (
	IdempotencyStarted    IdempotencyStatus = "STARTED"
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// Terminal reports whether the record carries a final response.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyCompleted || s == IdempotencyFailed
}

type IdempotencyRecord struct {
	Key             string            `json:"key"`
	BusinessKey     string            `json:"business_key,omitempty"`
	RequestID       string            `json:"request_id"`
	Action          Action            `json:"action"`
	WorkItemID      int64             `json:"work_item_id,omitempty"`
	Status          IdempotencyStatus `json:"status"`
	RequestHash     string            `json:"request_hash"`
	RequestPayload  string            `json:"request_payload,omitempty"`
	ResponsePayload string            `json:"response_payload,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at"`
}

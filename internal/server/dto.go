package server

import (
	"time"

	"workdesk/internal/assignment"
	"workdesk/internal/decision"
	"workdesk/internal/domain"
	"workdesk/internal/engine"
)

// Request payloads

type ParameterRequest struct {
	Name      string `json:"name"`
	Direction string `json:"direction" enum:"IN,OUT,INOUT"`
	Mandatory bool   `json:"mandatory,omitempty"`
	Value     any    `json:"value,omitempty"`
}

type AssignmentSpecRequest struct {
	CandidateUsers        []string                `json:"candidate_users,omitempty"`
	CandidateGroups       []string                `json:"candidate_groups,omitempty"`
	CandidatePositions    []string                `json:"candidate_positions,omitempty"`
	CandidateOrgUnits     []string                `json:"candidate_org_units,omitempty"`
	Strategy              string                  `json:"strategy,omitempty" enum:"DEFAULT,FIRST_ELIGIBLE,ROUND_ROBIN,RANDOM,LOAD_BASED,SEPARATION_OF_DUTIES"`
	Mode                  string                  `json:"mode,omitempty" enum:"PUSH,PULL"`
	SeparationOfDutiesKey string                  `json:"separation_of_duties_key,omitempty"`
	LoadBased             *domain.LoadBasedConfig `json:"load_based,omitempty"`
}

type CreateWorkItemRequest struct {
	WorkflowID     string                `json:"workflow_id"`
	RunID          string                `json:"run_id,omitempty"`
	TaskType       string                `json:"task_type"`
	TaskName       string                `json:"task_name,omitempty"`
	Description    string                `json:"description,omitempty"`
	Priority       int                   `json:"priority,omitempty"`
	DueDate        *time.Time            `json:"due_date,omitempty"`
	Lifecycle      string                `json:"lifecycle,omitempty"`
	AssignmentSpec AssignmentSpecRequest `json:"assignment_spec,omitempty"`
	Strategy       string                `json:"strategy,omitempty" enum:"DEFAULT,FIRST_ELIGIBLE,ROUND_ROBIN,RANDOM,LOAD_BASED,SEPARATION_OF_DUTIES"`
	Mode           string                `json:"mode,omitempty" enum:"PUSH,PULL"`
	Parameters     []ParameterRequest    `json:"parameters,omitempty"`
	ContextData    map[string]any        `json:"context_data,omitempty"`
}

type ClaimRequest struct {
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

type CompleteRequest struct {
	Output          map[string]any `json:"output,omitempty"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

type CancelRequest struct {
	Reason          string `json:"reason,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type OrgChangeRequest struct {
	Kind     string `json:"kind" enum:"unit,position,group,assign_position,revoke_position,add_member,remove_member"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type CommandResponse struct {
	Decision   decision.Decision `json:"decision"`
	WorkItemID int64             `json:"work_item_id,omitempty"`
	Replayed   bool              `json:"replayed,omitempty"`
}

type WorkItemResponse struct {
	ID             int64                 `json:"id"`
	WorkflowID     string                `json:"workflow_id"`
	RunID          string                `json:"run_id"`
	TaskType       string                `json:"task_type"`
	TaskName       string                `json:"task_name"`
	Description    string                `json:"description,omitempty"`
	Priority       int                   `json:"priority"`
	DueDate        *time.Time            `json:"due_date,omitempty"`
	Lifecycle      string                `json:"lifecycle"`
	State          string                `json:"state"`
	Version        int64                 `json:"version"`
	AssigneeID     string                `json:"assignee_id,omitempty"`
	OfferedTo      []string              `json:"offered_to"`
	AssignmentSpec domain.AssignmentSpec `json:"assignment_spec"`
	Parameters     []domain.Parameter    `json:"parameters"`
	ContextData    map[string]any        `json:"context_data,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

type paginatedWorkItems struct {
	Items  []WorkItemResponse `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

type AuditEntryResponse struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	FromState string         `json:"from_state,omitempty"`
	ToState   string         `json:"to_state,omitempty"`
	ActorID   string         `json:"actor_id"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ParticipantResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OutboxEventResponse struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	AggregateID int64      `json:"aggregate_id"`
	Version     int64      `json:"version"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

type CandidatesResponse struct {
	Users        []string `json:"users"`
	Unrestricted bool     `json:"unrestricted"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
	Admin   bool   `json:"admin"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func (r AssignmentSpecRequest) toDomain() domain.AssignmentSpec {
	return domain.AssignmentSpec{
		CandidateUsers:        r.CandidateUsers,
		CandidateGroups:       r.CandidateGroups,
		CandidatePositions:    r.CandidatePositions,
		CandidateOrgUnits:     r.CandidateOrgUnits,
		Strategy:              domain.StrategyType(r.Strategy),
		Mode:                  domain.DistributionMode(r.Mode),
		SeparationOfDutiesKey: r.SeparationOfDutiesKey,
		LoadBased:             r.LoadBased,
	}
}

func (r CreateWorkItemRequest) toCommand(initiator string) engine.CreateCommand {
	params := make([]domain.Parameter, 0, len(r.Parameters))
	for _, p := range r.Parameters {
		params = append(params, domain.Parameter{
			Name:      p.Name,
			Direction: domain.Direction(p.Direction),
			Mandatory: p.Mandatory,
			Value:     p.Value,
		})
	}
	return engine.CreateCommand{
		WorkflowID:     r.WorkflowID,
		RunID:          r.RunID,
		TaskType:       r.TaskType,
		TaskName:       r.TaskName,
		Description:    r.Description,
		Priority:       r.Priority,
		DueDate:        r.DueDate,
		Lifecycle:      r.Lifecycle,
		AssignmentSpec: r.AssignmentSpec.toDomain(),
		Strategy:       domain.StrategyType(r.Strategy),
		Mode:           domain.DistributionMode(r.Mode),
		Parameters:     params,
		ContextData:    r.ContextData,
		InitiatorID:    initiator,
	}
}

func commandResponse(res engine.Result) CommandResponse {
	return CommandResponse{Decision: res.Decision, WorkItemID: res.WorkItemID, Replayed: res.Replayed}
}

func workItemResponse(wi domain.WorkItem) WorkItemResponse {
	return WorkItemResponse{
		ID:             wi.ID,
		WorkflowID:     wi.WorkflowID,
		RunID:          wi.RunID,
		TaskType:       wi.TaskType,
		TaskName:       wi.TaskName,
		Description:    wi.Description,
		Priority:       wi.Priority,
		DueDate:        wi.DueDate,
		Lifecycle:      wi.Lifecycle,
		State:          string(wi.State),
		Version:        wi.Version,
		AssigneeID:     wi.AssigneeID,
		OfferedTo:      nonNilSlice(wi.OfferedTo),
		AssignmentSpec: wi.AssignmentSpec,
		Parameters:     nonNilSlice(wi.Parameters),
		ContextData:    wi.ContextData,
		CreatedAt:      wi.CreatedAt,
		UpdatedAt:      wi.UpdatedAt,
	}
}

func auditEntryResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:        e.ID,
		Action:    string(e.Action),
		FromState: string(e.FromState),
		ToState:   string(e.ToState),
		ActorID:   e.ActorID,
		Details:   e.Details,
		CreatedAt: e.CreatedAt,
	}
}

func participantResponse(p domain.Participant) ParticipantResponse {
	return ParticipantResponse{UserID: p.UserID, Role: string(p.Role), CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}

func outboxEventResponse(evt domain.OutboxEvent) OutboxEventResponse {
	return OutboxEventResponse{
		ID:          evt.ID,
		EventID:     evt.EventID,
		EventType:   evt.EventType,
		AggregateID: evt.AggregateID,
		Version:     evt.Version,
		Payload:     evt.Payload,
		Status:      string(evt.Status),
		Attempts:    evt.Attempts,
		LastError:   evt.LastError,
		OccurredAt:  evt.OccurredAt,
		PublishedAt: evt.PublishedAt,
	}
}

func candidatesResponse(c assignment.Candidates) CandidatesResponse {
	return CandidatesResponse{Users: nonNilSlice(c.Users), Unrestricted: c.Unrestricted}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

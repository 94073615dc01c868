// Package engine executes work item commands. Every command runs in one
// transaction that covers the state change, audit, participants, parameters,
// outbox and idempotency bookkeeping.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"workdesk/internal/assignment"
	"workdesk/internal/config"
	"workdesk/internal/decision"
	"workdesk/internal/domain"
	"workdesk/internal/events"
	"workdesk/internal/lifecycle"
	"workdesk/internal/logging"
	"workdesk/internal/repo"
	"workdesk/internal/validation"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Now        func() time.Time
	Logger     logging.Logger
	Lifecycles *lifecycle.Registry
	Decisions  decision.Service
	Assigner   assignment.Resolver
}

func New(db *sql.DB, cfg *config.Config, logger logging.Logger) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	defs, err := cfg.LifecycleDefinitions()
	if err != nil {
		return Engine{}, domain.ConfigurationError(err.Error(), nil)
	}
	lifecycles, err := lifecycle.NewRegistry(defs...)
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     events.Writer{Repo: r, Enabled: cfg.Features.Events},
		Config:     cfg,
		Now:        time.Now,
		Logger:     logging.Or(logger),
		Lifecycles: lifecycles,
		Decisions:  decision.NewService(lifecycles, cfg.Engine.AdminID),
		Assigner:   assignment.Resolver{Registry: assignment.NewRegistry()},
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() logging.Logger {
	return logging.Or(e.Logger)
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Repo = e.Repo
	w.Now = e.now
	return w
}

func (e Engine) adminID() string {
	if e.Config != nil && e.Config.Engine.AdminID != "" {
		return e.Config.Engine.AdminID
	}
	return domain.DefaultAdminID
}

func (e Engine) lifecycleName(requested string) string {
	if requested != "" {
		return requested
	}
	if e.Config != nil && e.Config.Engine.DefaultLifecycle != "" {
		return e.Config.Engine.DefaultLifecycle
	}
	return lifecycle.DefaultName
}

func (e Engine) features() config.Features {
	if e.Config == nil {
		return config.Features{Idempotency: true, Events: true, Audit: true}
	}
	return e.Config.Features
}

// run is the action-specific part of a command. It decides and, when
// accepted, applies the mutation inside tx.
type run func(ctx context.Context, tx *sql.Tx) (decision.Decision, int64, error)

type invocation struct {
	action      domain.Action
	key         string
	businessKey string
	workItemID  int64
	request     any
	run         run
}

// execute is shared by all four commands:
// idempotency check, decide, apply, record response, commit.
func (e Engine) execute(ctx context.Context, inv invocation) (Result, error) {
	log := logging.WithFields(e.logger().WithContext(ctx), map[string]any{
		"action":       inv.action,
		"work_item_id": inv.workItemID,
	})
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, repo.MapStorageError(err)
	}
	defer tx.Rollback()

	keyed := e.features().Idempotency && inv.key != ""
	if keyed {
		replay, err := e.startIdempotency(ctx, tx, inv)
		if err != nil {
			return Result{}, repo.MapStorageError(err)
		}
		if replay != nil {
			log.Debug("replayed %s for key %s", inv.action, inv.key)
			return *replay, nil
		}
	}

	d, id, err := inv.run(ctx, tx)
	if err != nil {
		log.Warn("%s failed: %v", inv.action, err)
		return Result{}, repo.MapStorageError(err)
	}
	res := Result{Decision: d, WorkItemID: id}

	if keyed {
		status := domain.IdempotencyCompleted
		if !d.Accepted {
			status = domain.IdempotencyFailed
		}
		response, err := json.Marshal(res)
		if err != nil {
			return Result{}, fmt.Errorf("marshal response: %w", err)
		}
		if err := e.Repo.FinishIdempotency(ctx, tx, inv.key, status, id, string(response), e.now().UTC()); err != nil {
			return Result{}, repo.MapStorageError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Result{}, repo.MapStorageError(err)
	}
	if d.Accepted {
		log.Info("%s accepted: work item %d %s", inv.action, id, acceptedState(d))
	} else {
		log.Info("%s rejected: %s", inv.action, d.Reason)
	}
	return res, nil
}

func acceptedState(d decision.Decision) domain.State {
	if d.ToState != "" {
		return d.ToState
	}
	return d.InitialState
}

// startIdempotency records the key as STARTED. When the key (or business
// key) is already taken it returns the result to hand back instead: the
// stored response for an identical finished request, a duplicate rejection
// otherwise.
func (e Engine) startIdempotency(ctx context.Context, tx *sql.Tx, inv invocation) (*Result, error) {
	hash, payload, err := repo.RequestHash(struct {
		Action  domain.Action `json:"action"`
		Request any           `json:"request"`
	}{inv.action, inv.request})
	if err != nil {
		return nil, err
	}
	err = e.Repo.InsertIdempotencyStarted(ctx, tx, domain.IdempotencyRecord{
		Key:            inv.key,
		BusinessKey:    inv.businessKey,
		RequestID:      ulid.Make().String(),
		Action:         inv.action,
		WorkItemID:     inv.workItemID,
		RequestHash:    hash,
		RequestPayload: payload,
		CreatedAt:      e.now().UTC(),
	})
	if err == nil {
		return nil, nil
	}
	if !repo.IsUniqueViolation(err) {
		return nil, err
	}
	duplicate := &Result{
		Decision:   decision.Reject(inv.action, validation.Duplicate("Duplicate command")),
		WorkItemID: inv.workItemID,
	}
	rec, err := e.Repo.GetIdempotencyRecordTx(ctx, tx, inv.key)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			// business key collision with another request
			return duplicate, nil
		}
		return nil, err
	}
	if rec.RequestHash != hash || !rec.Status.Terminal() || rec.ResponsePayload == "" {
		return duplicate, nil
	}
	var stored Result
	if err := json.Unmarshal([]byte(rec.ResponsePayload), &stored); err != nil {
		return nil, fmt.Errorf("idempotency record %s: %w", inv.key, err)
	}
	stored.Replayed = true
	return &stored, nil
}

// Create validates and stores a new work item, resolving who it is offered
// or assigned to.
func (e Engine) Create(ctx context.Context, cmd CreateCommand) (Result, error) {
	if err := checkShape(cmd); err != nil {
		return Result{}, err
	}
	return e.execute(ctx, invocation{
		action:      domain.ActionCreate,
		key:         cmd.IdempotencyKey,
		businessKey: cmd.BusinessKey,
		request:     cmd,
		run: func(ctx context.Context, tx *sql.Tx) (decision.Decision, int64, error) {
			return e.create(ctx, tx, cmd)
		},
	})
}

func (e Engine) create(ctx context.Context, tx *sql.Tx, cmd CreateCommand) (decision.Decision, int64, error) {
	name := e.lifecycleName(cmd.Lifecycle)
	d, err := e.Decisions.DecideCreate(validation.CreateContext{
		Lifecycle:  name,
		Initiator:  cmd.InitiatorID,
		Parameters: cmd.Parameters,
	})
	if err != nil || !d.Accepted {
		return d, 0, err
	}

	out, adminFallback, err := e.assign(ctx, tx, cmd)
	if err != nil {
		return decision.Decision{}, 0, err
	}
	d, err = e.Decisions.WithAssignment(name, d, out)
	if err != nil {
		return decision.Decision{}, 0, err
	}

	now := e.now().UTC()
	spec := cmd.AssignmentSpec
	spec.Strategy = out.Strategy
	spec.Mode = out.Mode
	wi := domain.WorkItem{
		WorkflowID:     cmd.WorkflowID,
		RunID:          cmd.RunID,
		TaskType:       cmd.TaskType,
		TaskName:       cmd.TaskName,
		Description:    cmd.Description,
		Priority:       cmd.Priority,
		DueDate:        cmd.DueDate,
		Lifecycle:      name,
		State:          d.InitialState,
		Version:        1,
		AssigneeID:     out.AssignedTo,
		OfferedTo:      out.OfferedTo,
		AssignmentSpec: spec,
		Parameters:     cmd.Parameters,
		ContextData:    cmd.ContextData,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := e.Repo.InsertWorkItem(ctx, tx, wi)
	if err != nil {
		return decision.Decision{}, 0, fmt.Errorf("insert work item: %w", err)
	}

	if err := e.audit(ctx, tx, domain.AuditEntry{
		WorkItemID: id,
		Action:     domain.ActionCreate,
		FromState:  domain.StateNew,
		ToState:    d.InitialState,
		ActorID:    actorOrSystem(cmd.InitiatorID),
		Details: map[string]any{
			"strategy":      out.Strategy,
			"mode":          out.Mode,
			"offeredTo":     out.OfferedTo,
			"assignedTo":    out.AssignedTo,
			"adminFallback": adminFallback,
		},
		CreatedAt: now,
	}); err != nil {
		return decision.Decision{}, 0, err
	}

	for _, user := range out.OfferedTo {
		if err := e.participant(ctx, tx, id, user, domain.RoleOffered, now); err != nil {
			return decision.Decision{}, 0, err
		}
	}
	if out.AssignedTo != "" {
		if err := e.participant(ctx, tx, id, out.AssignedTo, domain.RoleAssignee, now); err != nil {
			return decision.Decision{}, 0, err
		}
	}
	if err := e.Repo.InsertParameters(ctx, tx, id, cmd.Parameters); err != nil {
		return decision.Decision{}, 0, fmt.Errorf("insert parameters: %w", err)
	}

	if _, _, err := e.events().Append(ctx, tx, domain.EventWorkItemCreated, id, 1, events.EventPayload{
		"work_item_id":  id,
		"workflow_id":   cmd.WorkflowID,
		"run_id":        cmd.RunID,
		"task_type":     cmd.TaskType,
		"state":         d.InitialState,
		"assignee_id":   out.AssignedTo,
		"offered_to":    out.OfferedTo,
		"adminFallback": adminFallback,
	}); err != nil {
		return decision.Decision{}, 0, fmt.Errorf("append outbox event: %w", err)
	}
	return d, id, nil
}

// assign resolves candidates and runs the distribution strategy. When nobody
// is left to offer the item to, constrained or not, it goes to the admin.
func (e Engine) assign(ctx context.Context, tx *sql.Tx, cmd CreateCommand) (assignment.Outcome, bool, error) {
	spec := cmd.AssignmentSpec
	dist := e.distribution()
	strategy := firstStrategy(cmd.Strategy, spec.Strategy, dist.DefaultStrategy)
	mode := firstMode(cmd.Mode, spec.Mode, dist.DefaultMode)

	cands, err := assignment.CandidateResolver{Directory: e.Repo.Directory(tx)}.Resolve(ctx, spec)
	if err != nil {
		return assignment.Outcome{}, false, fmt.Errorf("resolve candidates: %w", err)
	}
	fallback := func(chosen domain.StrategyType) assignment.Outcome {
		return assignment.Outcome{Strategy: chosen, Mode: mode, OfferedTo: []string{}, AssignedTo: e.adminID()}
	}
	if len(cands.Users) == 0 {
		return fallback(strategy), true, nil
	}

	var history []string
	if strategy == domain.StrategySeparationOfDuties {
		history, err = e.Repo.SeparationHistory(ctx, tx, spec.SeparationOfDutiesKey)
	} else {
		history, err = e.Repo.AssignmentHistory(ctx, tx, cmd.TaskType)
	}
	if err != nil {
		return assignment.Outcome{}, false, fmt.Errorf("assignment history: %w", err)
	}
	loads, err := e.Repo.OpenLoads(ctx, tx, cands.Users)
	if err != nil {
		return assignment.Outcome{}, false, fmt.Errorf("open loads: %w", err)
	}
	load := dist.Load
	if spec.LoadBased != nil {
		load = *spec.LoadBased
	}

	out, err := e.Assigner.Resolve(assignment.Request{
		Strategy: strategy,
		Mode:     mode,
		Enabled:  dist.Enabled,
		Fallback: dist.FallbackStrategy,
		Context: assignment.DistributionContext{
			EligibleUsers:         cands.Users,
			HistoricalAssignments: history,
			Loads:                 loads,
			Config: assignment.DistributionConfig{
				Seed:       int(dist.Seed),
				MaxLoad:    load.MaxOpenItems,
				LoadPolicy: load.Policy,
			},
		},
	})
	if err != nil {
		return assignment.Outcome{}, false, err
	}
	if out.AssignedTo == "" && len(out.OfferedTo) == 0 {
		return fallback(out.Strategy), true, nil
	}
	return out, false, nil
}

func (e Engine) distribution() config.Distribution {
	if e.Config == nil {
		return config.Default().Distribution
	}
	return e.Config.Distribution
}

func firstStrategy(values ...domain.StrategyType) domain.StrategyType {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return domain.StrategyDefault
}

func firstMode(values ...domain.DistributionMode) domain.DistributionMode {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return domain.ModePull
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

// Claim makes the actor the exclusive assignee of an offered item.
func (e Engine) Claim(ctx context.Context, cmd ClaimCommand) (Result, error) {
	if err := checkShape(cmd); err != nil {
		return Result{}, err
	}
	return e.execute(ctx, invocation{
		action:      domain.ActionClaim,
		key:         cmd.IdempotencyKey,
		businessKey: cmd.BusinessKey,
		workItemID:  cmd.WorkItemID,
		request:     cmd,
		run: func(ctx context.Context, tx *sql.Tx) (decision.Decision, int64, error) {
			return e.transition(ctx, tx, transitionRequest{
				id:              cmd.WorkItemID,
				actor:           cmd.ActorID,
				expectedVersion: cmd.ExpectedVersion,
				context: func(wi domain.WorkItem, cands assignment.Candidates) validation.Context {
					return validation.ClaimContext{Item: wi, Actor: cmd.ActorID, Candidates: cands}
				},
			})
		},
	})
}

// Complete finishes a claimed item and stores its output parameters.
func (e Engine) Complete(ctx context.Context, cmd CompleteCommand) (Result, error) {
	if err := checkShape(cmd); err != nil {
		return Result{}, err
	}
	return e.execute(ctx, invocation{
		action:      domain.ActionComplete,
		key:         cmd.IdempotencyKey,
		businessKey: cmd.BusinessKey,
		workItemID:  cmd.WorkItemID,
		request:     cmd,
		run: func(ctx context.Context, tx *sql.Tx) (decision.Decision, int64, error) {
			return e.transition(ctx, tx, transitionRequest{
				id:              cmd.WorkItemID,
				actor:           cmd.ActorID,
				expectedVersion: cmd.ExpectedVersion,
				output:          cmd.Output,
				context: func(wi domain.WorkItem, _ assignment.Candidates) validation.Context {
					return validation.CompleteContext{Item: wi, Actor: cmd.ActorID, Output: cmd.Output}
				},
			})
		},
	})
}

// Cancel ends an open item. Only the assignee or the admin may cancel.
func (e Engine) Cancel(ctx context.Context, cmd CancelCommand) (Result, error) {
	if err := checkShape(cmd); err != nil {
		return Result{}, err
	}
	return e.execute(ctx, invocation{
		action:      domain.ActionCancel,
		key:         cmd.IdempotencyKey,
		businessKey: cmd.BusinessKey,
		workItemID:  cmd.WorkItemID,
		request:     cmd,
		run: func(ctx context.Context, tx *sql.Tx) (decision.Decision, int64, error) {
			return e.transition(ctx, tx, transitionRequest{
				id:              cmd.WorkItemID,
				actor:           cmd.ActorID,
				expectedVersion: cmd.ExpectedVersion,
				reason:          cmd.Reason,
				context: func(wi domain.WorkItem, _ assignment.Candidates) validation.Context {
					return validation.CancelContext{Item: wi, Actor: cmd.ActorID, Reason: cmd.Reason}
				},
			})
		},
	})
}

type transitionRequest struct {
	id              int64
	actor           string
	expectedVersion int64
	output          map[string]any
	reason          string
	context         func(domain.WorkItem, assignment.Candidates) validation.Context
}

var participantRoles = map[domain.Action]domain.ParticipantRole{
	domain.ActionClaim:    domain.RoleAssignee,
	domain.ActionComplete: domain.RoleCompleter,
	domain.ActionCancel:   domain.RoleCanceller,
}

func (e Engine) transition(ctx context.Context, tx *sql.Tx, req transitionRequest) (decision.Decision, int64, error) {
	wi, err := e.Repo.GetWorkItemTx(ctx, tx, req.id)
	if err != nil {
		return decision.Decision{}, 0, err
	}
	if req.expectedVersion > 0 && wi.Version != req.expectedVersion {
		return decision.Decision{}, 0, domain.ConcurrencyConflict(
			fmt.Sprintf("work item %d is at version %d, expected %d", wi.ID, wi.Version, req.expectedVersion),
			nil,
			map[string]any{"work_item_id": wi.ID, "expected_version": req.expectedVersion, "actual_version": wi.Version},
		)
	}
	var cands assignment.Candidates
	if wi.State == domain.StateOffered {
		cands, err = assignment.CandidateResolver{Directory: e.Repo.Directory(tx)}.Resolve(ctx, wi.AssignmentSpec)
		if err != nil {
			return decision.Decision{}, 0, fmt.Errorf("resolve candidates: %w", err)
		}
	}
	vctx := req.context(wi, cands)
	d, err := e.Decisions.Decide(vctx)
	if err != nil || !d.Accepted {
		return d, wi.ID, err
	}

	now := e.now().UTC()
	var assignee *string
	if d.Action == domain.ActionClaim {
		assignee = &req.actor
	}
	tr, err := e.Repo.TransitionState(ctx, tx, wi.ID, wi.Version, d.ToState, assignee, now)
	if err != nil {
		return decision.Decision{}, 0, err
	}
	d.FromState, d.ToState = tr.From, tr.To

	details := map[string]any{"version": tr.Version}
	if req.reason != "" {
		details["reason"] = req.reason
	}
	if len(req.output) > 0 {
		details["output"] = req.output
	}
	if err := e.audit(ctx, tx, domain.AuditEntry{
		WorkItemID: wi.ID,
		Action:     d.Action,
		FromState:  tr.From,
		ToState:    tr.To,
		ActorID:    req.actor,
		Details:    details,
		CreatedAt:  now,
	}); err != nil {
		return decision.Decision{}, 0, err
	}
	if role, ok := participantRoles[d.Action]; ok {
		if err := e.participant(ctx, tx, wi.ID, req.actor, role, now); err != nil {
			return decision.Decision{}, 0, err
		}
	}
	if d.Action == domain.ActionComplete && len(req.output) > 0 {
		if err := e.Repo.SetParameterValues(ctx, tx, wi.ID, req.output); err != nil {
			return decision.Decision{}, 0, fmt.Errorf("store output: %w", err)
		}
		params := make([]domain.Parameter, len(wi.Parameters))
		for i, p := range wi.Parameters {
			if v, ok := req.output[p.Name]; ok {
				p.Value = v
			}
			params[i] = p
		}
		if err := e.Repo.SetWorkItemParameters(ctx, tx, wi.ID, params); err != nil {
			return decision.Decision{}, 0, fmt.Errorf("store output: %w", err)
		}
	}

	if evtType, ok := events.EventTypeFor(d.Action); ok {
		payload := events.EventPayload{
			"work_item_id": wi.ID,
			"workflow_id":  wi.WorkflowID,
			"run_id":       wi.RunID,
			"from_state":   tr.From,
			"to_state":     tr.To,
			"actor_id":     req.actor,
		}
		for k, v := range details {
			payload[k] = v
		}
		if _, _, err := e.events().Append(ctx, tx, evtType, wi.ID, tr.Version, payload); err != nil {
			return decision.Decision{}, 0, fmt.Errorf("append outbox event: %w", err)
		}
	}
	return d, wi.ID, nil
}

func (e Engine) audit(ctx context.Context, tx *sql.Tx, entry domain.AuditEntry) error {
	if !e.features().Audit {
		return nil
	}
	if _, err := e.Repo.AppendAudit(ctx, tx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (e Engine) participant(ctx context.Context, tx *sql.Tx, id int64, user string, role domain.ParticipantRole, now time.Time) error {
	err := e.Repo.UpsertParticipant(ctx, tx, domain.Participant{
		WorkItemID: id,
		UserID:     user,
		Role:       role,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("record participant %s: %w", user, err)
	}
	return nil
}

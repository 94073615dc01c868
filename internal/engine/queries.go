package engine

import (
	"context"
	"database/sql"
	"fmt"

	"workdesk/internal/assignment"
	"workdesk/internal/domain"
	"workdesk/internal/events"
	"workdesk/internal/repo"
)

func (e Engine) GetWorkItem(ctx context.Context, id int64) (domain.WorkItem, error) {
	wi, err := e.Repo.GetWorkItem(ctx, id)
	return wi, repo.MapStorageError(err)
}

// ListWorkItems returns one page of work items and the total number matching f.
func (e Engine) ListWorkItems(ctx context.Context, f repo.WorkItemFilters) ([]domain.WorkItem, int, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, 0, domain.ValidationFailure(fmt.Sprintf("unknown state %q", f.State), nil)
	}
	items, total, err := e.Repo.ListWorkItems(ctx, f)
	return items, total, repo.MapStorageError(err)
}

func (e Engine) ListAudit(ctx context.Context, workItemID int64) ([]domain.AuditEntry, error) {
	if _, err := e.GetWorkItem(ctx, workItemID); err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListAudit(ctx, workItemID)
	return entries, repo.MapStorageError(err)
}

func (e Engine) ListParticipants(ctx context.Context, workItemID int64) ([]domain.Participant, error) {
	if _, err := e.GetWorkItem(ctx, workItemID); err != nil {
		return nil, err
	}
	ps, err := e.Repo.ListParticipants(ctx, workItemID)
	return ps, repo.MapStorageError(err)
}

func (e Engine) GetIdempotencyRecord(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	rec, err := e.Repo.GetIdempotencyRecord(ctx, key)
	return rec, repo.MapStorageError(err)
}

func (e Engine) ListOutbox(ctx context.Context, f repo.OutboxFilters) ([]domain.OutboxEvent, error) {
	evts, err := e.Repo.ListOutbox(ctx, f)
	return evts, repo.MapStorageError(err)
}

// Candidates resolves who is eligible under spec right now, without creating anything.
func (e Engine) Candidates(ctx context.Context, spec domain.AssignmentSpec) (assignment.Candidates, error) {
	cands, err := assignment.CandidateResolver{Directory: e.Repo.Directory(nil)}.Resolve(ctx, spec)
	return cands, repo.MapStorageError(err)
}

// Relay builds an outbox relay from the outbox config.
func (e Engine) Relay(publisher events.Publisher) events.Relay {
	r := events.Relay{
		Repo:      e.Repo,
		Publisher: publisher,
		Now:       e.now,
		Logger:    e.logger(),
	}
	if e.Config != nil {
		r.BatchSize = e.Config.Outbox.BatchSize
		r.MaxAttempts = e.Config.Outbox.MaxAttempts
	}
	return r
}

// Publisher returns the webhook publisher when hooks are configured, else a
// publisher that only logs.
func (e Engine) Publisher() events.Publisher {
	if e.Config != nil && len(e.Config.Outbox.Webhooks) > 0 {
		return events.NewWebhookPublisher(e.Config.Outbox.Webhooks)
	}
	return events.LogPublisher{Logger: e.logger()}
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.MapStorageError(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return repo.MapStorageError(err)
	}
	return repo.MapStorageError(tx.Commit())
}

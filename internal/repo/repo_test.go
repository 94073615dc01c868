package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workdesk/internal/db"
	"workdesk/internal/domain"
	"workdesk/internal/migrate"
	"workdesk/internal/repo"
)

var now = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}, ctx
}

func insertItem(t *testing.T, r repo.Repo, ctx context.Context, wi domain.WorkItem) int64 {
	t.Helper()
	if wi.State == "" {
		wi.State = domain.StateOffered
	}
	if wi.Lifecycle == "" {
		wi.Lifecycle = "default"
	}
	if wi.TaskType == "" {
		wi.TaskType = "review"
	}
	wi.WorkflowID, wi.RunID, wi.TaskName = "wf-1", "run-1", "Review invoice"
	wi.CreatedAt, wi.UpdatedAt = now, now
	id, err := r.InsertWorkItem(ctx, nil, wi)
	require.NoError(t, err)
	return id
}

func TestWorkItemRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	due := now.Add(48 * time.Hour)
	id := insertItem(t, r, ctx, domain.WorkItem{
		Priority:  3,
		DueDate:   &due,
		OfferedTo: []string{"u1", "u2"},
		AssignmentSpec: domain.AssignmentSpec{
			CandidateUsers:        []string{"u1", "u2"},
			SeparationOfDutiesKey: "invoice-7",
		},
		Parameters:  []domain.Parameter{{Name: "skipError", Direction: domain.DirectionOut, Mandatory: true}},
		ContextData: map[string]any{"customer": "acme", "amount": 120},
	})

	wi, err := r.GetWorkItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wi.Version)
	assert.Equal(t, []string{"u1", "u2"}, wi.OfferedTo)
	assert.Equal(t, "invoice-7", wi.AssignmentSpec.SeparationOfDutiesKey)
	require.NotNil(t, wi.DueDate)
	assert.True(t, wi.DueDate.Equal(due))
	assert.Equal(t, "acme", wi.ContextData["customer"])

	_, err = r.GetWorkItem(ctx, 999)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestInsertRejectsTransientState(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.InsertWorkItem(ctx, nil, domain.WorkItem{State: domain.StateNew})
	assert.Error(t, err)
}

func TestTransitionStateVersionGuard(t *testing.T) {
	r, ctx := newRepo(t)
	id := insertItem(t, r, ctx, domain.WorkItem{})
	assignee := "u1"

	tr, err := r.TransitionState(ctx, nil, id, 1, domain.StateClaimed, &assignee, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOffered, tr.From)
	assert.Equal(t, int64(2), tr.Version)

	_, err = r.TransitionState(ctx, nil, id, 1, domain.StateCompleted, nil, now)
	require.Error(t, err)
	assert.Equal(t, domain.KindConcurrencyConflict, domain.KindOf(err))

	wi, err := r.GetWorkItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClaimed, wi.State)
	assert.Equal(t, "u1", wi.AssigneeID)
}

func TestListWorkItemsFilters(t *testing.T) {
	r, ctx := newRepo(t)
	insertItem(t, r, ctx, domain.WorkItem{OfferedTo: []string{"u1"}, ContextData: map[string]any{"region": "eu"}})
	insertItem(t, r, ctx, domain.WorkItem{OfferedTo: []string{"u2"}, ContextData: map[string]any{"region": "us"}})
	insertItem(t, r, ctx, domain.WorkItem{State: domain.StateClaimed, AssigneeID: "u1", ContextData: map[string]any{"region": "eu", "amount": 10}})

	items, total, err := r.ListWorkItems(ctx, repo.WorkItemFilters{User: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, total, err = r.ListWorkItems(ctx, repo.WorkItemFilters{Context: map[string]string{"region": "eu", "amount": "10"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, domain.StateClaimed, items[0].State)

	items, total, err = r.ListWorkItems(ctx, repo.WorkItemFilters{State: domain.StateOffered, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 1)
}

func TestHistoryAndLoads(t *testing.T) {
	r, ctx := newRepo(t)
	a := insertItem(t, r, ctx, domain.WorkItem{State: domain.StateClaimed, AssigneeID: "u1", AssignmentSpec: domain.AssignmentSpec{SeparationOfDutiesKey: "k"}})
	b := insertItem(t, r, ctx, domain.WorkItem{State: domain.StateClaimed, AssigneeID: "u2"})
	require.NoError(t, r.UpsertParticipant(ctx, nil, domain.Participant{WorkItemID: a, UserID: "u1", Role: domain.RoleAssignee, CreatedAt: now}))
	require.NoError(t, r.UpsertParticipant(ctx, nil, domain.Participant{WorkItemID: b, UserID: "u2", Role: domain.RoleAssignee, CreatedAt: now.Add(time.Minute)}))

	hist, err := r.AssignmentHistory(ctx, nil, "review")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, hist)

	sod, err := r.SeparationHistory(ctx, nil, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, sod)

	loads, err := r.OpenLoads(ctx, nil, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 1, "u2": 1, "u3": 0}, loads)
}

func TestDirectory(t *testing.T) {
	r, ctx := newRepo(t)
	require.NoError(t, r.EnsureOrgUnit(ctx, nil, "finance", "Finance", "", now))
	require.NoError(t, r.EnsureOrgUnit(ctx, nil, "ap", "Accounts payable", "finance", now))
	require.NoError(t, r.EnsurePosition(ctx, nil, "clerk", "Clerk", "ap", now))
	require.NoError(t, r.AssignPosition(ctx, nil, "carol", "clerk"))
	require.NoError(t, r.EnsureGroup(ctx, nil, "reviewers", "", now))
	require.NoError(t, r.AddGroupMember(ctx, nil, "reviewers", "bob"))
	require.NoError(t, r.AddGroupMember(ctx, nil, "reviewers", "alice"))

	dir := r.Directory(nil)
	members, err := dir.GroupMembers(ctx, []string{"reviewers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	holders, err := dir.PositionHolders(ctx, []string{"clerk"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, holders)

	unit, err := dir.OrgUnitMembers(ctx, []string{"finance"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, unit, "members of child units are included")
}

func TestOutboxLifecycle(t *testing.T) {
	r, ctx := newRepo(t)
	for _, id := range []string{"evt-1", "evt-2"} {
		_, err := r.InsertOutboxEvent(ctx, nil, domain.OutboxEvent{
			EventID: id, AggregateID: 1, AggregateType: domain.AggregateWorkItem,
			EventType: domain.EventWorkItemCreated, Version: 1, Payload: `{}`, OccurredAt: now,
		})
		require.NoError(t, err)
	}
	pending, err := r.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, r.MarkOutboxPublished(ctx, pending[0].ID, now))
	assert.Equal(t, domain.KindConcurrencyConflict, domain.KindOf(r.MarkOutboxPublished(ctx, pending[0].ID, now)))

	status, err := r.MarkOutboxFailed(ctx, pending[1].ID, "boom", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, status)
	status, err = r.MarkOutboxFailed(ctx, pending[1].ID, "boom again", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxFailed, status)

	failed, err := r.ListOutbox(ctx, repo.OutboxFilters{Status: domain.OutboxFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Attempts)
	assert.Equal(t, "boom again", failed[0].LastError)
}

func TestIdempotencyUniqueness(t *testing.T) {
	r, ctx := newRepo(t)
	hash, payload, err := repo.RequestHash(map[string]any{"work_item_id": 1})
	require.NoError(t, err)
	rec := domain.IdempotencyRecord{Key: "k1", BusinessKey: "bk", RequestID: "req", Action: domain.ActionClaim,
		RequestHash: hash, RequestPayload: payload, CreatedAt: now}
	require.NoError(t, r.InsertIdempotencyStarted(ctx, nil, rec))

	err = r.InsertIdempotencyStarted(ctx, nil, rec)
	require.Error(t, err)
	assert.True(t, repo.IsUniqueViolation(err))
	assert.Equal(t, domain.KindDuplicateRequest, domain.KindOf(repo.MapStorageError(err)))

	rec.Key = "k2"
	err = r.InsertIdempotencyStarted(ctx, nil, rec)
	assert.True(t, repo.IsUniqueViolation(err), "business key is unique too")

	require.NoError(t, r.FinishIdempotency(ctx, nil, "k1", domain.IdempotencyCompleted, 1, `{"ok":true}`, now))
	got, err := r.GetIdempotencyRecord(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyCompleted, got.Status)
	assert.Equal(t, `{"ok":true}`, got.ResponsePayload)
	assert.Equal(t, int64(1), got.WorkItemID)
	require.NotNil(t, got.CompletedAt)
}

func TestMapStorageError(t *testing.T) {
	assert.Nil(t, repo.MapStorageError(nil))
	assert.Equal(t, domain.KindStorageUnavailable, domain.KindOf(repo.MapStorageError(sql.ErrConnDone)))
	nf := domain.NotFound("gone", nil)
	assert.Same(t, nf, repo.MapStorageError(nf))
	assert.Equal(t, domain.KindStorageUnavailable, domain.KindOf(repo.MapStorageError(context.Canceled)))
}

func TestIssueAPIKey(t *testing.T) {
	r, ctx := newRepo(t)
	key, secret, err := r.IssueAPIKey(ctx, "svc-orchestrator", "orchestrator", now)
	require.NoError(t, err)
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, "svc-orchestrator", got.ActorID)
}

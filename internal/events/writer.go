package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"workdesk/internal/domain"
	"workdesk/internal/repo"
)

// Writer appends outbox events inside the caller's transaction. With
// Enabled false, Append is a no-op.
type Writer struct {
	Repo    repo.Repo
	Now     func() time.Time
	Enabled bool
}

type EventPayload map[string]any

// EventTypeFor maps a command action to its outbox event type.
func EventTypeFor(action domain.Action) (string, bool) {
	switch action {
	case domain.ActionCreate:
		return domain.EventWorkItemCreated, true
	case domain.ActionClaim:
		return domain.EventWorkItemClaimed, true
	case domain.ActionComplete:
		return domain.EventWorkItemCompleted, true
	case domain.ActionCancel:
		return domain.EventWorkItemCancelled, true
	default:
		return "", false
	}
}

// Append records evtType for a work item at the given version.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, workItemID, version int64, payload EventPayload) (domain.OutboxEvent, bool, error) {
	if !w.Enabled {
		return domain.OutboxEvent{}, false, nil
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxEvent{}, false, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.OutboxEvent{
		EventID:       ulid.Make().String(),
		AggregateID:   workItemID,
		AggregateType: domain.AggregateWorkItem,
		EventType:     evtType,
		Version:       version,
		Payload:       string(data),
		OccurredAt:    w.Now().UTC(),
		Status:        domain.OutboxPending,
	}
	id, err := w.Repo.InsertOutboxEvent(ctx, tx, evt)
	if err != nil {
		return domain.OutboxEvent{}, false, err
	}
	evt.ID = id
	return evt, true, nil
}

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"workdesk/internal/domain"
)

const outboxColumns = `id,event_id,aggregate_id,aggregate_type,event_type,version,payload_json,occurred_at,status,attempts,COALESCE(last_error,''),published_at`

// InsertOutboxEvent writes a PENDING event inside the caller's transaction.
func (r Repo) InsertOutboxEvent(ctx context.Context, tx *sql.Tx, evt domain.OutboxEvent) (int64, error) {
	if evt.EventID == "" {
		return 0, fmt.Errorf("event_id required")
	}
	status := evt.Status
	if status == "" {
		status = domain.OutboxPending
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO outbox_events(event_id,aggregate_id,aggregate_type,event_type,version,payload_json,occurred_at,status,attempts)
VALUES (?,?,?,?,?,?,?,?,0)`,
		evt.EventID, evt.AggregateID, evt.AggregateType, evt.EventType, evt.Version, evt.Payload, formatTime(evt.OccurredAt), status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanOutbox(row rowScanner) (domain.OutboxEvent, error) {
	var (
		evt         domain.OutboxEvent
		occurredAt  string
		publishedAt sql.NullString
	)
	if err := row.Scan(&evt.ID, &evt.EventID, &evt.AggregateID, &evt.AggregateType, &evt.EventType, &evt.Version,
		&evt.Payload, &occurredAt, &evt.Status, &evt.Attempts, &evt.LastError, &publishedAt); err != nil {
		return evt, err
	}
	evt.OccurredAt = parseTime(occurredAt)
	if publishedAt.Valid {
		t := parseTime(publishedAt.String)
		evt.PublishedAt = &t
	}
	return evt, nil
}

type OutboxFilters struct {
	Status      domain.OutboxStatus
	AggregateID int64
	EventType   string
	Limit       int
}

// ListOutbox returns events in insertion order.
func (r Repo) ListOutbox(ctx context.Context, f OutboxFilters) ([]domain.OutboxEvent, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AggregateID != 0 {
		clauses = append(clauses, "aggregate_id=?")
		args = append(args, f.AggregateID)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	query := `SELECT ` + outboxColumns + ` FROM outbox_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutboxEvent
	for rows.Next() {
		evt, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// PendingOutbox returns up to limit PENDING events, oldest first.
func (r Repo) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	return r.ListOutbox(ctx, OutboxFilters{Status: domain.OutboxPending, Limit: limit})
}

// MarkOutboxPublished flips a PENDING event to PUBLISHED.
func (r Repo) MarkOutboxPublished(ctx context.Context, id int64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE outbox_events SET status=?, attempts=attempts+1, last_error=NULL, published_at=? WHERE id=? AND status=?`,
		domain.OutboxPublished, formatTime(at), id, domain.OutboxPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ConcurrencyConflict(fmt.Sprintf("outbox event %d is no longer pending", id), nil, map[string]any{"outbox_id": id})
	}
	return nil
}

// MarkOutboxFailed records a failed attempt. The event becomes FAILED once
// attempts reach maxAttempts and stays PENDING otherwise.
func (r Repo) MarkOutboxFailed(ctx context.Context, id int64, cause string, maxAttempts int) (domain.OutboxStatus, error) {
	_, err := r.DB.ExecContext(ctx, `UPDATE outbox_events SET attempts=attempts+1, last_error=?,
status=CASE WHEN attempts+1 >= ? THEN ? ELSE status END
WHERE id=? AND status=?`, cause, maxAttempts, domain.OutboxFailed, id, domain.OutboxPending)
	if err != nil {
		return "", err
	}
	var status domain.OutboxStatus
	if err := r.DB.QueryRowContext(ctx, `SELECT status FROM outbox_events WHERE id=?`, id).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return "", domain.NotFound(fmt.Sprintf("outbox event %d not found", id), nil)
		}
		return "", err
	}
	return status, nil
}

// CountOutbox counts events for one aggregate.
func (r Repo) CountOutbox(ctx context.Context, aggregateID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_events WHERE aggregate_id=?`, aggregateID).Scan(&n)
	return n, err
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"workdesk/internal/domain"
)

// AppendAudit writes one append-only audit row.
func (r Repo) AppendAudit(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) (int64, error) {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := marshalJSON(details)
	if err != nil {
		return 0, err
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_item_audit(work_item_id,action,from_state,to_state,actor_id,details_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.WorkItemID, e.Action, nullable(string(e.FromState)), nullable(string(e.ToState)), e.ActorID, payload, formatTime(e.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAudit returns the audit trail of a work item in write order.
func (r Repo) ListAudit(ctx context.Context, workItemID int64) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,work_item_id,action,COALESCE(from_state,''),COALESCE(to_state,''),actor_id,details_json,created_at
FROM work_item_audit WHERE work_item_id=? ORDER BY id ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e                  domain.AuditEntry
			details, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.WorkItemID, &e.Action, &e.FromState, &e.ToState, &e.ActorID, &details, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("audit %d details: %w", e.ID, err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountAudit counts audit rows for a work item.
func (r Repo) CountAudit(ctx context.Context, workItemID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_item_audit WHERE work_item_id=?`, workItemID).Scan(&n)
	return n, err
}

package repo

import (
	"context"
	"database/sql"

	"workdesk/internal/domain"
)

// UpsertParticipant records a user's role on a work item. A repeated role
// only refreshes updated_at.
func (r Repo) UpsertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	created := formatTime(p.CreatedAt)
	updated := created
	if !p.UpdatedAt.IsZero() {
		updated = formatTime(p.UpdatedAt)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_item_participants(work_item_id,user_id,role,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(work_item_id,user_id,role) DO UPDATE SET updated_at=excluded.updated_at`,
		p.WorkItemID, p.UserID, p.Role, created, updated)
	return err
}

func (r Repo) ListParticipants(ctx context.Context, workItemID int64) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT work_item_id,user_id,role,created_at,updated_at FROM work_item_participants
WHERE work_item_id=? ORDER BY created_at ASC, rowid ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		var (
			p                    domain.Participant
			createdAt, updatedAt string
		)
		if err := rows.Scan(&p.WorkItemID, &p.UserID, &p.Role, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		res = append(res, p)
	}
	return res, rows.Err()
}

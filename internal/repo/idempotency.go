package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"workdesk/internal/domain"
)

// RequestHash fingerprints a command payload so a replayed key can be told
// apart from a different request reusing it.
func RequestHash(payload any) (string, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), string(data), nil
}

// InsertIdempotencyStarted claims key for this request. A unique violation
// on key or business key is returned unmapped so callers can inspect it
// with IsUniqueViolation.
func (r Repo) InsertIdempotencyStarted(ctx context.Context, tx *sql.Tx, rec domain.IdempotencyRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("idempotency key required")
	}
	status := rec.Status
	if status == "" {
		status = domain.IdempotencyStarted
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO idempotency_records(key,business_key,request_id,action,work_item_id,status,request_hash,request_payload,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.Key, nullable(rec.BusinessKey), rec.RequestID, rec.Action, nullableID(rec.WorkItemID), status, rec.RequestHash,
		nullable(rec.RequestPayload), formatTime(rec.CreatedAt))
	return err
}

// FinishIdempotency stores the terminal status and response of a request.
func (r Repo) FinishIdempotency(ctx context.Context, tx *sql.Tx, key string, status domain.IdempotencyStatus, workItemID int64, response string, at time.Time) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE idempotency_records SET status=?, work_item_id=COALESCE(?,work_item_id), response_payload=?, completed_at=? WHERE key=?`,
		status, nullableID(workItemID), response, formatTime(at), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound(fmt.Sprintf("idempotency record %s not found", key), map[string]any{"key": key})
	}
	return nil
}

func (r Repo) GetIdempotencyRecord(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	return r.GetIdempotencyRecordTx(ctx, nil, key)
}

func (r Repo) GetIdempotencyRecordTx(ctx context.Context, tx *sql.Tx, key string) (domain.IdempotencyRecord, error) {
	var (
		rec                      domain.IdempotencyRecord
		businessKey, reqPayload  sql.NullString
		respPayload, completedAt sql.NullString
		workItemID               sql.NullInt64
		createdAt                string
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT key,business_key,request_id,action,work_item_id,status,request_hash,request_payload,response_payload,created_at,completed_at
FROM idempotency_records WHERE key=?`, key).
		Scan(&rec.Key, &businessKey, &rec.RequestID, &rec.Action, &workItemID, &rec.Status, &rec.RequestHash, &reqPayload, &respPayload, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return rec, domain.NotFound(fmt.Sprintf("idempotency record %s not found", key), map[string]any{"key": key})
	}
	if err != nil {
		return rec, err
	}
	rec.BusinessKey = businessKey.String
	rec.RequestPayload = reqPayload.String
	rec.ResponsePayload = respPayload.String
	rec.WorkItemID = workItemID.Int64
	rec.CreatedAt = parseTime(createdAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		rec.CompletedAt = &t
	}
	return rec, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

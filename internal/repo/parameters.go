package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"workdesk/internal/domain"
)

// InsertParameters stores the declared parameter slots in order.
func (r Repo) InsertParameters(ctx context.Context, tx *sql.Tx, workItemID int64, params []domain.Parameter) error {
	for i, p := range params {
		value, err := parameterValue(p.Value)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_item_parameters(work_item_id,position,name,direction,mandatory,value_json) VALUES (?,?,?,?,?,?)`,
			workItemID, i, p.Name, p.Direction, p.Mandatory, value); err != nil {
			return err
		}
	}
	return nil
}

// SetParameterValues writes output values into existing slots.
func (r Repo) SetParameterValues(ctx context.Context, tx *sql.Tx, workItemID int64, values map[string]any) error {
	for _, name := range sortedAnyKeys(values) {
		value, err := parameterValue(values[name])
		if err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		res, err := r.q(tx).ExecContext(ctx, `UPDATE work_item_parameters SET value_json=? WHERE work_item_id=? AND name=?`, value, workItemID, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("parameter %s not declared on work item %d", name, workItemID)
		}
	}
	return nil
}

func (r Repo) ListParameters(ctx context.Context, workItemID int64) ([]domain.Parameter, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name,direction,mandatory,value_json FROM work_item_parameters WHERE work_item_id=? ORDER BY position`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var params []domain.Parameter
	for rows.Next() {
		var (
			p     domain.Parameter
			value sql.NullString
		)
		if err := rows.Scan(&p.Name, &p.Direction, &p.Mandatory, &value); err != nil {
			return nil, err
		}
		if value.Valid {
			if err := json.Unmarshal([]byte(value.String), &p.Value); err != nil {
				return nil, fmt.Errorf("parameter %s value: %w", p.Name, err)
			}
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

func parameterValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return marshalJSON(v)
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

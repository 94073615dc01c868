package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"workdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when present, otherwise the pool.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(data), nil
}

const workItemColumns = `id,workflow_id,run_id,task_type,task_name,COALESCE(description,''),priority,due_date,lifecycle,state,version,
COALESCE(assignee_id,''),offered_to_json,assignment_spec_json,parameters_json,context_json,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (domain.WorkItem, error) {
	var (
		wi                             domain.WorkItem
		dueDate                        sql.NullString
		offered, spec, params, ctxData string
		createdAt, updatedAt           string
	)
	err := row.Scan(&wi.ID, &wi.WorkflowID, &wi.RunID, &wi.TaskType, &wi.TaskName, &wi.Description, &wi.Priority, &dueDate,
		&wi.Lifecycle, &wi.State, &wi.Version, &wi.AssigneeID, &offered, &spec, &params, &ctxData, &createdAt, &updatedAt)
	if err != nil {
		return wi, err
	}
	if dueDate.Valid {
		t := parseTime(dueDate.String)
		wi.DueDate = &t
	}
	if err := json.Unmarshal([]byte(offered), &wi.OfferedTo); err != nil {
		return wi, fmt.Errorf("work item %d offered_to: %w", wi.ID, err)
	}
	if err := json.Unmarshal([]byte(spec), &wi.AssignmentSpec); err != nil {
		return wi, fmt.Errorf("work item %d assignment_spec: %w", wi.ID, err)
	}
	if err := json.Unmarshal([]byte(params), &wi.Parameters); err != nil {
		return wi, fmt.Errorf("work item %d parameters: %w", wi.ID, err)
	}
	if err := json.Unmarshal([]byte(ctxData), &wi.ContextData); err != nil {
		return wi, fmt.Errorf("work item %d context: %w", wi.ID, err)
	}
	if wi.OfferedTo == nil {
		wi.OfferedTo = []string{}
	}
	wi.CreatedAt = parseTime(createdAt)
	wi.UpdatedAt = parseTime(updatedAt)
	return wi, nil
}

// InsertWorkItem stores a new work item and returns its id.
func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, wi domain.WorkItem) (int64, error) {
	if wi.State == domain.StateNew || !wi.State.Valid() {
		return 0, fmt.Errorf("work item cannot be stored in state %q", wi.State)
	}
	offered := wi.OfferedTo
	if offered == nil {
		offered = []string{}
	}
	offeredJSON, err := marshalJSON(offered)
	if err != nil {
		return 0, err
	}
	specJSON, err := marshalJSON(wi.AssignmentSpec)
	if err != nil {
		return 0, err
	}
	params := wi.Parameters
	if params == nil {
		params = []domain.Parameter{}
	}
	paramsJSON, err := marshalJSON(params)
	if err != nil {
		return 0, err
	}
	ctxData := wi.ContextData
	if ctxData == nil {
		ctxData = map[string]any{}
	}
	ctxJSON, err := marshalJSON(ctxData)
	if err != nil {
		return 0, err
	}
	if wi.Version == 0 {
		wi.Version = 1
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_items(workflow_id,run_id,task_type,task_name,description,priority,due_date,lifecycle,state,version,
assignee_id,offered_to_json,assignment_spec_json,parameters_json,context_json,sod_key,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		wi.WorkflowID, wi.RunID, wi.TaskType, wi.TaskName, nullable(wi.Description), wi.Priority, nullableTime(wi.DueDate),
		wi.Lifecycle, wi.State, wi.Version, nullable(wi.AssigneeID), offeredJSON, specJSON, paramsJSON, ctxJSON,
		nullable(wi.AssignmentSpec.SeparationOfDutiesKey), formatTime(wi.CreatedAt), formatTime(wi.UpdatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetWorkItem(ctx context.Context, id int64) (domain.WorkItem, error) {
	return r.GetWorkItemTx(ctx, nil, id)
}

// GetWorkItemTx loads a work item inside tx, so callers see the latest
// committed version.
func (r Repo) GetWorkItemTx(ctx context.Context, tx *sql.Tx, id int64) (domain.WorkItem, error) {
	wi, err := scanWorkItem(r.q(tx).QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return wi, domain.NotFound(fmt.Sprintf("work item %d not found", id), map[string]any{"work_item_id": id})
	}
	return wi, err
}

// Transition is the stored outcome of TransitionState.
type Transition struct {
	From    domain.State
	To      domain.State
	Version int64
}

// TransitionState moves a work item to state `to` if its version still
// equals expectedVersion. A nil assignee leaves the column untouched.
func (r Repo) TransitionState(ctx context.Context, tx *sql.Tx, id, expectedVersion int64, to domain.State, assignee *string, now time.Time) (Transition, error) {
	var (
		from    domain.State
		version int64
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT state,version FROM work_items WHERE id=?`, id).Scan(&from, &version)
	if err == sql.ErrNoRows {
		return Transition{}, domain.NotFound(fmt.Sprintf("work item %d not found", id), map[string]any{"work_item_id": id})
	}
	if err != nil {
		return Transition{}, err
	}
	meta := map[string]any{"work_item_id": id, "expected_version": expectedVersion, "actual_version": version}
	if version != expectedVersion {
		return Transition{}, domain.ConcurrencyConflict(
			fmt.Sprintf("work item %d was modified: expected version %d, found %d", id, expectedVersion, version), nil, meta)
	}
	query := `UPDATE work_items SET state=?, version=version+1, updated_at=? WHERE id=? AND version=?`
	args := []any{to, formatTime(now), id, expectedVersion}
	if assignee != nil {
		query = `UPDATE work_items SET state=?, assignee_id=?, version=version+1, updated_at=? WHERE id=? AND version=?`
		args = []any{to, nullable(*assignee), formatTime(now), id, expectedVersion}
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return Transition{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Transition{}, domain.ConcurrencyConflict(fmt.Sprintf("work item %d was modified concurrently", id), nil, meta)
	}
	return Transition{From: from, To: to, Version: version + 1}, nil
}

// SetWorkItemParameters replaces the stored parameter list.
func (r Repo) SetWorkItemParameters(ctx context.Context, tx *sql.Tx, id int64, params []domain.Parameter) error {
	data, err := marshalJSON(params)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `UPDATE work_items SET parameters_json=? WHERE id=?`, data, id)
	return err
}

type WorkItemFilters struct {
	State      domain.State
	User       string
	WorkflowID string
	TaskType   string
	// Context matches context_data entries by string value.
	Context map[string]string
	Limit   int
	Offset  int
}

// ListWorkItems returns one page of matching work items and the total match count.
func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilters) ([]domain.WorkItem, int, error) {
	var (
		clauses []string
		args    []any
	)
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.User != "" {
		clauses = append(clauses, "(assignee_id=? OR EXISTS (SELECT 1 FROM json_each(work_items.offered_to_json) WHERE value=?))")
		args = append(args, f.User, f.User)
	}
	if f.WorkflowID != "" {
		clauses = append(clauses, "workflow_id=?")
		args = append(args, f.WorkflowID)
	}
	if f.TaskType != "" {
		clauses = append(clauses, "task_type=?")
		args = append(args, f.TaskType)
	}
	for _, key := range sortedKeys(f.Context) {
		clauses = append(clauses, "CAST(json_extract(context_json, ?) AS TEXT)=?")
		args = append(args, jsonPath(key), f.Context[key])
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + workItemColumns + ` FROM work_items` + where + ` ORDER BY priority DESC, id ASC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []domain.WorkItem
	for rows.Next() {
		wi, err := scanWorkItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, wi)
	}
	return items, total, rows.Err()
}

func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// AssignmentHistory returns past assignees of work items with the given task
// type, oldest first.
func (r Repo) AssignmentHistory(ctx context.Context, tx *sql.Tx, taskType string) ([]string, error) {
	return r.userColumn(ctx, tx, `SELECT p.user_id FROM work_item_participants p
JOIN work_items w ON w.id = p.work_item_id
WHERE w.task_type=? AND p.role=?
ORDER BY p.created_at ASC, p.work_item_id ASC`, taskType, domain.RoleAssignee)
}

// SeparationHistory returns users who already acted on work items sharing
// the separation-of-duties key.
func (r Repo) SeparationHistory(ctx context.Context, tx *sql.Tx, sodKey string) ([]string, error) {
	if sodKey == "" {
		return nil, nil
	}
	return r.userColumn(ctx, tx, `SELECT DISTINCT p.user_id FROM work_item_participants p
JOIN work_items w ON w.id = p.work_item_id
WHERE w.sod_key=? AND p.role IN (?,?)
ORDER BY p.user_id`, sodKey, domain.RoleAssignee, domain.RoleCompleter)
}

// OpenLoads counts CLAIMED work items per assignee among users.
func (r Repo) OpenLoads(ctx context.Context, tx *sql.Tx, users []string) (map[string]int, error) {
	loads := make(map[string]int, len(users))
	if len(users) == 0 {
		return loads, nil
	}
	for _, u := range users {
		loads[u] = 0
	}
	placeholders, args := inClause(users)
	args = append([]any{domain.StateClaimed}, args...)
	rows, err := r.q(tx).QueryContext(ctx, `SELECT assignee_id, COUNT(*) FROM work_items WHERE state=? AND assignee_id IN (`+placeholders+`) GROUP BY assignee_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			user  string
			count int
		)
		if err := rows.Scan(&user, &count); err != nil {
			return nil, err
		}
		loads[user] = count
	}
	return loads, rows.Err()
}

func (r Repo) userColumn(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func inClause(values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return strings.Join(marks, ","), args
}

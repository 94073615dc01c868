package repo

import (
	"context"
	"database/sql"
	"time"
)

func (r Repo) EnsureOrgUnit(ctx context.Context, tx *sql.Tx, id, name, parentID string, now time.Time) error {
	if name == "" {
		name = id
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO org_units(id, name, parent_id, created_at) VALUES (?,?,?,?)`,
		id, name, nullable(parentID), formatTime(now))
	return err
}

func (r Repo) EnsurePosition(ctx context.Context, tx *sql.Tx, id, name, orgUnitID string, now time.Time) error {
	if name == "" {
		name = id
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO positions(id, name, org_unit_id, created_at) VALUES (?,?,?,?)`,
		id, name, nullable(orgUnitID), formatTime(now))
	return err
}

func (r Repo) AssignPosition(ctx context.Context, tx *sql.Tx, userID, positionID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO user_positions(user_id, position_id) VALUES (?,?)`, userID, positionID)
	return err
}

func (r Repo) RevokePosition(ctx context.Context, tx *sql.Tx, userID, positionID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM user_positions WHERE user_id=? AND position_id=?`, userID, positionID)
	return err
}

func (r Repo) EnsureGroup(ctx context.Context, tx *sql.Tx, id, name string, now time.Time) error {
	if name == "" {
		name = id
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO groups(id, name, created_at) VALUES (?,?,?)`, id, name, formatTime(now))
	return err
}

func (r Repo) AddGroupMember(ctx context.Context, tx *sql.Tx, groupID, userID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id, user_id) VALUES (?,?)`, groupID, userID)
	return err
}

func (r Repo) RemoveGroupMember(ctx context.Context, tx *sql.Tx, groupID, userID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM group_members WHERE group_id=? AND user_id=?`, groupID, userID)
	return err
}

// Directory is the org-model lookup bound to one transaction (or the pool
// when tx is nil). It implements assignment.Directory.
type Directory struct {
	repo Repo
	tx   *sql.Tx
}

func (r Repo) Directory(tx *sql.Tx) Directory {
	return Directory{repo: r, tx: tx}
}

func (d Directory) GroupMembers(ctx context.Context, groupIDs []string) ([]string, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	marks, args := inClause(groupIDs)
	return d.repo.userColumn(ctx, d.tx, `SELECT DISTINCT user_id FROM group_members WHERE group_id IN (`+marks+`) ORDER BY user_id`, args...)
}

func (d Directory) PositionHolders(ctx context.Context, positionIDs []string) ([]string, error) {
	if len(positionIDs) == 0 {
		return nil, nil
	}
	marks, args := inClause(positionIDs)
	return d.repo.userColumn(ctx, d.tx, `SELECT DISTINCT user_id FROM user_positions WHERE position_id IN (`+marks+`) ORDER BY user_id`, args...)
}

// OrgUnitMembers returns holders of positions in the given units or any unit
// below them.
func (d Directory) OrgUnitMembers(ctx context.Context, unitIDs []string) ([]string, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}
	marks, args := inClause(unitIDs)
	return d.repo.userColumn(ctx, d.tx, `WITH RECURSIVE units(id) AS (
  SELECT id FROM org_units WHERE id IN (`+marks+`)
  UNION
  SELECT o.id FROM org_units o JOIN units u ON o.parent_id = u.id
)
SELECT DISTINCT up.user_id FROM user_positions up
JOIN positions p ON p.id = up.position_id
WHERE p.org_unit_id IN (SELECT id FROM units)
ORDER BY up.user_id`, args...)
}

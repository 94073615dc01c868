package engine

import (
	"context"
	"database/sql"
	"strings"

	"workdesk/internal/domain"
)

// OrgChange is one edit to the org model used by candidate resolution.
type OrgChange struct {
	Kind     OrgChangeKind
	ID       string
	Name     string
	ParentID string
	UserID   string
}

type OrgChangeKind string

const (
	OrgAddUnit        OrgChangeKind = "unit"
	OrgAddPosition    OrgChangeKind = "position"
	OrgAddGroup       OrgChangeKind = "group"
	OrgAssignPosition OrgChangeKind = "assign_position"
	OrgRevokePosition OrgChangeKind = "revoke_position"
	OrgAddMember      OrgChangeKind = "add_member"
	OrgRemoveMember   OrgChangeKind = "remove_member"
)

// ApplyOrgChanges applies the changes in order, in one transaction. For
// positions ParentID is the org unit; for memberships ID is the group or
// position.
func (e Engine) ApplyOrgChanges(ctx context.Context, changes ...OrgChange) error {
	for _, c := range changes {
		if strings.TrimSpace(c.ID) == "" {
			return domain.ValidationFailure("org change requires an id", map[string]any{"kind": c.Kind})
		}
		switch c.Kind {
		case OrgAssignPosition, OrgRevokePosition, OrgAddMember, OrgRemoveMember:
			if strings.TrimSpace(c.UserID) == "" {
				return domain.ValidationFailure("org change requires a user", map[string]any{"kind": c.Kind, "id": c.ID})
			}
		case OrgAddUnit, OrgAddPosition, OrgAddGroup:
		default:
			return domain.ValidationFailure("unknown org change "+string(c.Kind), nil)
		}
	}
	now := e.now().UTC()
	return e.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range changes {
			var err error
			switch c.Kind {
			case OrgAddUnit:
				err = e.Repo.EnsureOrgUnit(ctx, tx, c.ID, c.Name, c.ParentID, now)
			case OrgAddPosition:
				err = e.Repo.EnsurePosition(ctx, tx, c.ID, c.Name, c.ParentID, now)
			case OrgAddGroup:
				err = e.Repo.EnsureGroup(ctx, tx, c.ID, c.Name, now)
			case OrgAssignPosition:
				err = e.Repo.AssignPosition(ctx, tx, c.UserID, c.ID)
			case OrgRevokePosition:
				err = e.Repo.RevokePosition(ctx, tx, c.UserID, c.ID)
			case OrgAddMember:
				err = e.Repo.AddGroupMember(ctx, tx, c.ID, c.UserID)
			case OrgRemoveMember:
				err = e.Repo.RemoveGroupMember(ctx, tx, c.ID, c.UserID)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

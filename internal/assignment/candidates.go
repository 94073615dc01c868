package assignment

import (
	"context"
	"fmt"

	"workdesk/internal/domain"
)

// Directory is the org-model lookup used to expand an assignment spec.
type Directory interface {
	GroupMembers(ctx context.Context, groupIDs []string) ([]string, error)
	PositionHolders(ctx context.Context, positionIDs []string) ([]string, error)
	OrgUnitMembers(ctx context.Context, orgUnitIDs []string) ([]string, error)
}

// Candidates is the resolved eligibility set of a work item.
type Candidates struct {
	Users        []string
	Unrestricted bool
}

func (c Candidates) Contains(userID string) bool {
	for _, u := range c.Users {
		if u == userID {
			return true
		}
	}
	return false
}

type CandidateResolver struct {
	Directory Directory
}

// Resolve expands users, groups, positions and org units, in that order.
func (r CandidateResolver) Resolve(ctx context.Context, spec domain.AssignmentSpec) (Candidates, error) {
	if spec.Unconstrained() {
		return Candidates{Unrestricted: true}, nil
	}
	seen := map[string]struct{}{}
	var users []string
	add := func(ids []string) {
		for _, id := range ids {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			users = append(users, id)
		}
	}
	add(spec.CandidateUsers)

	lookups := []struct {
		name string
		ids  []string
		fn   func(context.Context, []string) ([]string, error)
	}{
		{"groups", spec.CandidateGroups, r.groupMembers},
		{"positions", spec.CandidatePositions, r.positionHolders},
		{"org units", spec.CandidateOrgUnits, r.orgUnitMembers},
	}
	for _, l := range lookups {
		if len(l.ids) == 0 {
			continue
		}
		found, err := l.fn(ctx, l.ids)
		if err != nil {
			return Candidates{}, fmt.Errorf("resolve %s: %w", l.name, err)
		}
		add(found)
	}
	return Candidates{Users: users}, nil
}

func (r CandidateResolver) groupMembers(ctx context.Context, ids []string) ([]string, error) {
	if r.Directory == nil {
		return nil, nil
	}
	return r.Directory.GroupMembers(ctx, ids)
}

func (r CandidateResolver) positionHolders(ctx context.Context, ids []string) ([]string, error) {
	if r.Directory == nil {
		return nil, nil
	}
	return r.Directory.PositionHolders(ctx, ids)
}

func (r CandidateResolver) orgUnitMembers(ctx context.Context, ids []string) ([]string, error) {
	if r.Directory == nil {
		return nil, nil
	}
	return r.Directory.OrgUnitMembers(ctx, ids)
}

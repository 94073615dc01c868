package assignment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workdesk/internal/assignment"
	"workdesk/internal/domain"
)

func TestRoundRobinFollowsHistory(t *testing.T) {
	rr := assignment.RoundRobin{}
	eligible := []string{"u1", "u2", "u3"}

	sel := rr.Resolve(assignment.DistributionContext{EligibleUsers: eligible, HistoricalAssignments: []string{"u1"}})
	assert.Equal(t, []string{"u2"}, sel.SelectedUsers)

	sel = rr.Resolve(assignment.DistributionContext{EligibleUsers: eligible, HistoricalAssignments: []string{"u2", "u3"}})
	assert.Equal(t, []string{"u1"}, sel.SelectedUsers)

	sel = rr.Resolve(assignment.DistributionContext{EligibleUsers: eligible})
	assert.Equal(t, []string{"u1"}, sel.SelectedUsers)

	sel = rr.Resolve(assignment.DistributionContext{EligibleUsers: eligible, HistoricalAssignments: []string{"gone"}})
	assert.Equal(t, []string{"u1"}, sel.SelectedUsers)
}

func TestSeparationOfDutiesExcludesHistory(t *testing.T) {
	sel := assignment.SeparationOfDuties{}.Resolve(assignment.DistributionContext{
		EligibleUsers:         []string{"u1", "u2"},
		HistoricalAssignments: []string{"u1"},
	})
	assert.Equal(t, []string{"u2"}, sel.SelectedUsers)

	sel = assignment.SeparationOfDuties{}.Resolve(assignment.DistributionContext{
		EligibleUsers:         []string{"u1"},
		HistoricalAssignments: []string{"u1"},
	})
	assert.Empty(t, sel.SelectedUsers)
}

func TestRandomIsSeeded(t *testing.T) {
	eligible := []string{"a", "b", "c"}
	assert.Equal(t, []string{"a"}, assignment.Random{}.Resolve(assignment.DistributionContext{EligibleUsers: eligible}).SelectedUsers)
	assert.Equal(t, []string{"b"}, assignment.Random{}.Resolve(assignment.DistributionContext{
		EligibleUsers: eligible,
		Config:        assignment.DistributionConfig{Seed: 1},
	}).SelectedUsers)
	assert.Equal(t, []string{"c"}, assignment.Random{}.Resolve(assignment.DistributionContext{
		EligibleUsers: eligible,
		Config:        assignment.DistributionConfig{Seed: 5},
	}).SelectedUsers)
}

func TestLoadBasedPolicies(t *testing.T) {
	ctx := assignment.DistributionContext{
		EligibleUsers: []string{"u1", "u2", "u3"},
		Loads:         map[string]int{"u1": 4, "u2": 1, "u3": 1},
	}
	assert.Equal(t, []string{"u2"}, assignment.LoadBased{}.Resolve(ctx).SelectedUsers)

	ctx.Config = assignment.DistributionConfig{LoadPolicy: domain.LoadThreshold, MaxLoad: 2}
	assert.Equal(t, []string{"u2", "u3"}, assignment.LoadBased{}.Resolve(ctx).SelectedUsers)

	ctx.Config = assignment.DistributionConfig{LoadPolicy: domain.LoadLeastLoaded, MaxLoad: 1}
	assert.Empty(t, assignment.LoadBased{}.Resolve(ctx).SelectedUsers)
}

func TestOfferToAllAndFirstEligible(t *testing.T) {
	ctx := assignment.DistributionContext{EligibleUsers: []string{"u1", "u2"}}
	assert.Equal(t, []string{"u1", "u2"}, assignment.OfferToAll{}.Resolve(ctx).SelectedUsers)
	assert.Equal(t, []string{"u1"}, assignment.FirstEligible{}.Resolve(ctx).SelectedUsers)
}

func TestResolveOffer(t *testing.T) {
	empty := assignment.ResolveOffer(assignment.Selection{}, domain.ModePush)
	assert.Empty(t, empty.AssignedTo)
	assert.Empty(t, empty.OfferedTo)

	push := assignment.ResolveOffer(assignment.Selection{SelectedUsers: []string{"u1", "u2"}}, domain.ModePush)
	assert.Equal(t, "u1", push.AssignedTo)
	assert.Empty(t, push.OfferedTo)

	pull := assignment.ResolveOffer(assignment.Selection{SelectedUsers: []string{"u1", "u2"}}, domain.ModePull)
	assert.Empty(t, pull.AssignedTo)
	assert.Equal(t, []string{"u1", "u2"}, pull.OfferedTo)
}

func TestRegistryFallbackAndConfigurationError(t *testing.T) {
	reg := assignment.NewRegistry()

	chosen, _, err := reg.Get(domain.StrategyRandom, []domain.StrategyType{domain.StrategyDefault}, domain.StrategyDefault)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyDefault, chosen)

	chosen, _, err = reg.Get(domain.StrategyRoundRobin, nil, domain.StrategyDefault)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyRoundRobin, chosen)

	_, _, err = reg.Get("CUSTOM", []domain.StrategyType{domain.StrategyDefault}, "ALSO_MISSING")
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))

	chosen, _, err = reg.Get("CUSTOM", nil, domain.StrategyDefault)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyDefault, chosen)

	reg.Register("CUSTOM", assignment.StrategyFunc(func(ctx assignment.DistributionContext) assignment.Selection {
		return assignment.Selection{SelectedUsers: ctx.EligibleUsers[len(ctx.EligibleUsers)-1:]}
	}))
	chosen, s, err := reg.Get("CUSTOM", nil, domain.StrategyDefault)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyType("CUSTOM"), chosen)
	assert.Equal(t, []string{"u2"}, s.Resolve(assignment.DistributionContext{EligibleUsers: []string{"u1", "u2"}}).SelectedUsers)
}

func TestResolverAppliesStrategyThenOffer(t *testing.T) {
	r := assignment.Resolver{Registry: assignment.NewRegistry()}
	out, err := r.Resolve(assignment.Request{
		Strategy: domain.StrategyRoundRobin,
		Mode:     domain.ModePush,
		Fallback: domain.StrategyDefault,
		Context: assignment.DistributionContext{
			EligibleUsers:         []string{"u1", "u2", "u3"},
			HistoricalAssignments: []string{"u3"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", out.AssignedTo)
	assert.Equal(t, domain.StrategyRoundRobin, out.Strategy)
	assert.Equal(t, domain.ModePush, out.Mode)
}

type fakeDirectory struct {
	groups    map[string][]string
	positions map[string][]string
	units     map[string][]string
	err       error
}

func collect(src map[string][]string, ids []string) []string {
	var out []string
	for _, id := range ids {
		out = append(out, src[id]...)
	}
	return out
}

func (f fakeDirectory) GroupMembers(_ context.Context, ids []string) ([]string, error) {
	return collect(f.groups, ids), f.err
}

func (f fakeDirectory) PositionHolders(_ context.Context, ids []string) ([]string, error) {
	return collect(f.positions, ids), nil
}

func (f fakeDirectory) OrgUnitMembers(_ context.Context, ids []string) ([]string, error) {
	return collect(f.units, ids), nil
}

func TestCandidateResolverUnionAndDedup(t *testing.T) {
	dir := fakeDirectory{
		groups:    map[string][]string{"reviewers": {"bob", "carol"}},
		positions: map[string][]string{"lead": {"carol", "dave"}},
		units:     map[string][]string{"finance": {"erin", "alice"}},
	}
	r := assignment.CandidateResolver{Directory: dir}
	got, err := r.Resolve(context.Background(), domain.AssignmentSpec{
		CandidateUsers:     []string{"alice"},
		CandidateGroups:    []string{"reviewers"},
		CandidatePositions: []string{"lead"},
		CandidateOrgUnits:  []string{"finance"},
	})
	require.NoError(t, err)
	assert.False(t, got.Unrestricted)
	assert.Equal(t, []string{"alice", "bob", "carol", "dave", "erin"}, got.Users)

	open, err := r.Resolve(context.Background(), domain.AssignmentSpec{})
	require.NoError(t, err)
	assert.True(t, open.Unrestricted)
	assert.Empty(t, open.Users)

	empty, err := r.Resolve(context.Background(), domain.AssignmentSpec{CandidateGroups: []string{"nobody"}})
	require.NoError(t, err)
	assert.False(t, empty.Unrestricted)
	assert.Empty(t, empty.Users)
}

func TestCandidateResolverPropagatesDirectoryErrors(t *testing.T) {
	boom := errors.New("directory down")
	r := assignment.CandidateResolver{Directory: fakeDirectory{err: boom}}
	_, err := r.Resolve(context.Background(), domain.AssignmentSpec{CandidateGroups: []string{"g"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

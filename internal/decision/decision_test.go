package decision_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workdesk/internal/assignment"
	"workdesk/internal/decision"
	"workdesk/internal/domain"
	"workdesk/internal/lifecycle"
	"workdesk/internal/validation"
)

func newService(t *testing.T, extra ...lifecycle.Definition) decision.Service {
	t.Helper()
	reg, err := lifecycle.NewRegistry(extra...)
	require.NoError(t, err)
	return decision.NewService(reg, "admin")
}

func TestDecideCreate(t *testing.T) {
	s := newService(t)
	d, err := s.DecideCreate(validation.CreateContext{Lifecycle: "default", Initiator: "wf"})
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.Equal(t, domain.StateOffered, d.InitialState)

	_, err = s.DecideCreate(validation.CreateContext{Lifecycle: "nope"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestWithAssignmentPromotesImmediateAssignee(t *testing.T) {
	s := newService(t)
	d, err := s.DecideCreate(validation.CreateContext{Lifecycle: "default"})
	require.NoError(t, err)

	offered, err := s.WithAssignment("default", d, assignment.Outcome{Mode: domain.ModePull, OfferedTo: []string{"u1", "u2"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StateOffered, offered.InitialState)
	require.NotNil(t, offered.Assignment)
	assert.Equal(t, []string{"u1", "u2"}, offered.Assignment.OfferedTo)

	pushed, err := s.WithAssignment("default", d, assignment.Outcome{Mode: domain.ModePush, AssignedTo: "u1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateClaimed, pushed.InitialState)
	assert.Equal(t, "u1", pushed.Assignment.AssignedTo)
}

func TestWithAssignmentRequiresLifecycleEdge(t *testing.T) {
	strict := lifecycle.Definition{
		Name:    "review",
		Initial: domain.StateOffered,
		Transitions: map[domain.State][]domain.State{
			domain.StateNew:     {domain.StateOffered},
			domain.StateOffered: {domain.StateCancelled},
		},
	}
	s := newService(t, strict)
	d, err := s.DecideCreate(validation.CreateContext{Lifecycle: "review"})
	require.NoError(t, err)
	_, err = s.WithAssignment("review", d, assignment.Outcome{AssignedTo: "admin"})
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
}

func TestDecideTransition(t *testing.T) {
	s := newService(t)
	wi := domain.WorkItem{ID: 1, Lifecycle: "default", State: domain.StateOffered, OfferedTo: []string{"u1"}}

	d, err := s.Decide(validation.ClaimContext{Item: wi, Actor: "u1", Candidates: assignment.Candidates{Unrestricted: true}})
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.Equal(t, domain.ActionClaim, d.Action)
	assert.Equal(t, domain.StateOffered, d.FromState)
	assert.Equal(t, domain.StateClaimed, d.ToState)

	d, err = s.Decide(validation.ClaimContext{Item: wi, Actor: "u9", Candidates: assignment.Candidates{Unrestricted: true}})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, "Actor not eligible for this work item", d.Reason)
	assert.Equal(t, domain.KindValidationFailure, d.Kind)
	assert.Empty(t, d.ToState)
}

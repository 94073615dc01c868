package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workdesk/internal/domain"
	"workdesk/internal/lifecycle"
)

func TestDefaultTransitionTable(t *testing.T) {
	def := lifecycle.Default()
	allowed := map[[2]domain.State]bool{
		{domain.StateNew, domain.StateOffered}:       true,
		{domain.StateOffered, domain.StateClaimed}:   true,
		{domain.StateOffered, domain.StateCancelled}: true,
		{domain.StateClaimed, domain.StateCompleted}: true,
		{domain.StateClaimed, domain.StateCancelled}: true,
	}
	for _, from := range domain.States {
		for _, to := range domain.States {
			want := allowed[[2]domain.State{from, to}]
			assert.Equal(t, want, def.IsAllowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRegistryInitialStateAndUnknownLifecycle(t *testing.T) {
	reg, err := lifecycle.NewRegistry()
	require.NoError(t, err)

	initial, err := reg.InitialState("default")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOffered, initial)

	ok, err := reg.IsAllowed("", domain.StateNew, domain.StateCompleted)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.InitialState("missing")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestRegisterRejectsBrokenDefinitions(t *testing.T) {
	reg, err := lifecycle.NewRegistry()
	require.NoError(t, err)

	err = reg.Register(lifecycle.Definition{
		Name:    "bad-terminal",
		Initial: domain.StateOffered,
		Transitions: map[domain.State][]domain.State{
			domain.StateNew:       {domain.StateOffered},
			domain.StateCompleted: {domain.StateOffered},
		},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))

	err = reg.Register(lifecycle.Definition{
		Name:    "unreachable",
		Initial: domain.StateClaimed,
		Transitions: map[domain.State][]domain.State{
			domain.StateNew: {domain.StateOffered},
		},
	})
	require.Error(t, err)

	require.NoError(t, reg.Register(lifecycle.Definition{
		Name:    "direct",
		Initial: domain.StateClaimed,
		Transitions: map[domain.State][]domain.State{
			domain.StateNew:     {domain.StateClaimed},
			domain.StateClaimed: {domain.StateCompleted},
		},
	}))
	assert.Equal(t, []string{"default", "direct"}, reg.Names())
}

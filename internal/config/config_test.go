package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workdesk/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "admin", cfg.Engine.AdminID)
	assert.True(t, cfg.Features.Idempotency)
	assert.True(t, cfg.Features.Events)
	assert.Equal(t, domain.StrategyDefault, cfg.Distribution.DefaultStrategy)
	assert.Equal(t, domain.ModePull, cfg.Distribution.DefaultMode)
	assert.Equal(t, "@every 5s", cfg.Outbox.Schedule)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
engine:
  admin_id: ops
features:
  events: false
distribution:
  default_strategy: ROUND_ROBIN
  enabled: [ROUND_ROBIN, DEFAULT]
lifecycles:
  direct:
    initial: claimed
    transitions:
      new: [claimed]
      claimed: [completed, cancelled]
`))
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Engine.AdminID)
	assert.False(t, cfg.Features.Events)
	assert.True(t, cfg.Features.Idempotency)
	assert.Equal(t, domain.StrategyRoundRobin, cfg.Distribution.DefaultStrategy)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)

	defs, err := cfg.LifecycleDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, domain.StateClaimed, defs[0].Initial)
	assert.True(t, defs[0].IsAllowed(domain.StateClaimed, domain.StateCompleted))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown strategy":  "distribution:\n  default_strategy: FASTEST\n",
		"bad mode":          "distribution:\n  default_mode: SIDEWAYS\n",
		"bad schedule":      "outbox:\n  schedule: \"every now and then\"\n",
		"missing admin":     "engine:\n  admin_id: \"\"\n",
		"terminal edge":     "lifecycles:\n  broken:\n    initial: offered\n    transitions:\n      new: [offered]\n      completed: [offered]\n",
		"undefined default": "engine:\n  default_lifecycle: nope\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Engine.AdminID)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault("root")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.Engine.AdminID)
}

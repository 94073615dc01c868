package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	rcron "github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"workdesk/internal/domain"
	"workdesk/internal/lifecycle"
	"workdesk/internal/logging"
)

const FileName = "workdesk.yml"

// Config models workdesk.yml.
type Config struct {
	Engine struct {
		AdminID          string `yaml:"admin_id"`
		DefaultLifecycle string `yaml:"default_lifecycle"`
	} `yaml:"engine"`
	Features     Features                   `yaml:"features"`
	Distribution Distribution               `yaml:"distribution"`
	Lifecycles   map[string]LifecycleConfig `yaml:"lifecycles"`
	Outbox       Outbox                     `yaml:"outbox"`
	Server       struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Logging logging.Config `yaml:"logging"`
}

// Features gates the optional side effects of the executor.
type Features struct {
	Idempotency bool `yaml:"idempotency"`
	Events      bool `yaml:"events"`
	Audit       bool `yaml:"audit"`
}

type Distribution struct {
	DefaultStrategy  domain.StrategyType     `yaml:"default_strategy"`
	DefaultMode      domain.DistributionMode `yaml:"default_mode"`
	FallbackStrategy domain.StrategyType     `yaml:"fallback_strategy"`
	Enabled          []domain.StrategyType   `yaml:"enabled"`
	Seed             int64                   `yaml:"seed"`
	Load             domain.LoadBasedConfig  `yaml:"load"`
}

type LifecycleConfig struct {
	Initial     string              `yaml:"initial"`
	Transitions map[string][]string `yaml:"transitions"`
}

type Outbox struct {
	Schedule    string    `yaml:"schedule"`
	BatchSize   int       `yaml:"batch_size"`
	MaxAttempts int       `yaml:"max_attempts"`
	Webhooks    []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	ID     string   `yaml:"id"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

var knownStrategies = map[domain.StrategyType]bool{
	domain.StrategyDefault:            true,
	domain.StrategyFirstEligible:      true,
	domain.StrategyRoundRobin:         true,
	domain.StrategyRandom:             true,
	domain.StrategyLoadBased:          true,
	domain.StrategySeparationOfDuties: true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with workdesk init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Engine.AdminID) == "" {
		return fmt.Errorf("config.engine.admin_id is required")
	}
	d := c.Distribution
	if !knownStrategies[d.DefaultStrategy] {
		return fmt.Errorf("config.distribution.default_strategy %q is unknown", d.DefaultStrategy)
	}
	if !knownStrategies[d.FallbackStrategy] {
		return fmt.Errorf("config.distribution.fallback_strategy %q is unknown", d.FallbackStrategy)
	}
	for _, s := range d.Enabled {
		if !knownStrategies[s] {
			return fmt.Errorf("config.distribution.enabled contains unknown strategy %q", s)
		}
	}
	if d.DefaultMode != domain.ModePush && d.DefaultMode != domain.ModePull {
		return fmt.Errorf("config.distribution.default_mode must be PUSH or PULL")
	}
	if p := d.Load.Policy; p != "" && p != domain.LoadLeastLoaded && p != domain.LoadThreshold {
		return fmt.Errorf("config.distribution.load.policy %q is unknown", p)
	}
	defs, err := c.LifecycleDefinitions()
	if err != nil {
		return err
	}
	if name := c.Engine.DefaultLifecycle; name != "" && name != lifecycle.DefaultName {
		found := false
		for _, def := range defs {
			if def.Name == name {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("config.engine.default_lifecycle %s is not defined", name)
		}
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("config.outbox.batch_size must be positive")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("config.outbox.max_attempts must be positive")
	}
	if _, err := rcron.ParseStandard(c.Outbox.Schedule); err != nil {
		return fmt.Errorf("config.outbox.schedule: %w", err)
	}
	for i, wh := range c.Outbox.Webhooks {
		if strings.TrimSpace(wh.URL) == "" {
			return fmt.Errorf("config.outbox.webhooks[%d].url is required", i)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be json or console")
	}
	return nil
}

// LifecycleDefinitions converts the lifecycles section, sorted by name.
func (c *Config) LifecycleDefinitions() ([]lifecycle.Definition, error) {
	names := make([]string, 0, len(c.Lifecycles))
	for name := range c.Lifecycles {
		names = append(names, name)
	}
	sort.Strings(names)
	var defs []lifecycle.Definition
	for _, name := range names {
		lc := c.Lifecycles[name]
		def := lifecycle.Definition{
			Name:        name,
			Initial:     domain.State(strings.ToUpper(lc.Initial)),
			Transitions: map[domain.State][]domain.State{},
		}
		for from, targets := range lc.Transitions {
			var to []domain.State
			for _, t := range targets {
				to = append(to, domain.State(strings.ToUpper(t)))
			}
			def.Transitions[domain.State(strings.ToUpper(from))] = to
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("config.lifecycles: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML for the given admin identity.
func GenerateDefault(adminID string) string {
	return fmt.Sprintf(defaultTemplate, adminID)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault(domain.DefaultAdminID)), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  admin_id: %s
  default_lifecycle: default

features:
  idempotency: true
  events: true
  audit: true

distribution:
  default_strategy: DEFAULT
  default_mode: PULL
  fallback_strategy: DEFAULT
  enabled: []
  seed: 1
  load:
    policy: LEAST_LOADED
    max_open_items: 0

outbox:
  schedule: "@every 5s"
  batch_size: 50
  max_attempts: 5
  webhooks: []

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  cors_origins: []

logging:
  level: info
  format: console
`

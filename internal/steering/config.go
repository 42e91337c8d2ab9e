package steering

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/relaycore/relaycore/internal/rcerrors"
)

var validOperators = map[string]bool{
	"equals":              true,
	"exists":              true,
	"length_less_than":    true,
	"length_greater_than": true,
	"contains":            true,
}

// LoadConfigFile reads and validates a rule configuration file. Per spec
// A malformed file fails validation at load — the caller should treat
// a non-nil error as fatal at startup.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.InvalidConfig, "reading rules file", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates rule configuration YAML.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, rcerrors.Wrap(rcerrors.InvalidConfig, "parsing rules file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.sortRules()
	return &cfg, nil
}

// Validate checks the structural invariants a rule set must satisfy.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if r.Name == "" {
			return rcerrors.New(rcerrors.InvalidConfig, fmt.Sprintf("rule at index %d has no name", i))
		}
		if seen[r.Name] {
			return rcerrors.New(rcerrors.InvalidConfig, fmt.Sprintf("duplicate rule name %q", r.Name))
		}
		seen[r.Name] = true
		for _, cond := range r.Conditions {
			if cond.Field == "" {
				return rcerrors.New(rcerrors.InvalidConfig, fmt.Sprintf("rule %q has a condition with no field", r.Name))
			}
			if !validOperators[cond.Operator] {
				return rcerrors.New(rcerrors.InvalidConfig, fmt.Sprintf("rule %q has unknown operator %q", r.Name, cond.Operator))
			}
		}
		if r.Action.Provider == "" || r.Action.Model == "" {
			return rcerrors.New(rcerrors.InvalidConfig, fmt.Sprintf("rule %q action must set provider and model", r.Name))
		}
		if r.Action.CostMultiplier < 0 {
			return rcerrors.New(rcerrors.InvalidConfig, fmt.Sprintf("rule %q has a negative cost_multiplier", r.Name))
		}
	}
	if c.CostConstraints.DailyBudgetUSD < 0 || c.CostConstraints.PerRequestMaxUSD < 0 {
		return rcerrors.New(rcerrors.InvalidConfig, "cost_constraints must be non-negative")
	}
	return nil
}

// sortRules orders rules by descending priority, since evaluation
// to proceed from highest to lowest priority.
func (c *Config) sortRules() {
	sort.SliceStable(c.Rules, func(i, j int) bool {
		return c.Rules[i].Priority > c.Rules[j].Priority
	})
}

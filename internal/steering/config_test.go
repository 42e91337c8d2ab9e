package steering

import (
	"strings"
	"testing"

	"github.com/relaycore/relaycore/internal/rcerrors"
)

func TestParseConfig_ValidYAML(t *testing.T) {
	data := []byte(`
routing_rules:
  - name: default
    priority: 0
    action:
      provider: openai
      model: gpt-3.5-turbo
      cost_multiplier: 1.0
  - name: healthcare
    priority: 10
    conditions:
      - field: profile
        operator: equals
        value: healthcare
    action:
      provider: openai
      model: gpt-4
      cost_multiplier: 1.0
      max_latency_ms: 5000
cost_constraints:
  daily_budget: 100
  per_request_max: 1.0
  emergency_threshold: 0.95
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(cfg.Rules))
	}
	if cfg.Rules[0].Name != "healthcare" {
		t.Fatalf("expected rules sorted by descending priority, got %q first", cfg.Rules[0].Name)
	}
}

func TestParseConfig_UnknownOperatorFailsValidation(t *testing.T) {
	data := []byte(`
routing_rules:
  - name: bad
    priority: 1
    conditions:
      - field: prompt
        operator: regex_match
        value: foo
    action:
      provider: openai
      model: gpt-4
`)
	_, err := ParseConfig(data)
	if err == nil {
		t.Fatal("expected validation error for unknown operator")
	}
	kind, ok := rcerrors.KindOf(err)
	if !ok || kind != rcerrors.InvalidConfig {
		t.Fatalf("expected InvalidConfig kind, got %v (ok=%v)", kind, ok)
	}
}

func TestParseConfig_DuplicateRuleNameFailsValidation(t *testing.T) {
	data := []byte(`
routing_rules:
  - name: dup
    priority: 1
    action: {provider: openai, model: gpt-4}
  - name: dup
    priority: 2
    action: {provider: openai, model: gpt-3.5-turbo}
`)
	_, err := ParseConfig(data)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate rule name error, got %v", err)
	}
}

func TestParseConfig_MissingActionFieldsFailsValidation(t *testing.T) {
	data := []byte(`
routing_rules:
  - name: incomplete
    priority: 1
    action: {provider: openai}
`)
	_, err := ParseConfig(data)
	if err == nil {
		t.Fatal("expected error for missing model in action")
	}
}

func TestParseConfig_MalformedYAMLFails(t *testing.T) {
	_, err := ParseConfig([]byte("not: [valid: yaml"))
	if err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
}

// Package steering implements the declarative routing rules engine: it
// loads a rule set from a YAML file and turns an AIRequest plus a routing
// profile id into a RoutingDecision.
package steering

import "time"

// Message is one entry in an AIRequest's chat history.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// CostPreference is the caller's optional cost/quality tradeoff hint.
type CostPreference string

const (
	CostAggressive   CostPreference = "aggressive"
	CostBalanced     CostPreference = "balanced"
	CostQualityFirst CostPreference = "quality_first"
)

// Request is the routing input. Field names mirror the AIRequest
// closely enough that dotted condition paths (context.user.tier, prompt,
// model) resolve against it via reflection-free field lookup in match.go.
type Request struct {
	ID             string
	UserID         string
	TeamID         string
	ProjectID      string
	SystemSource   string
	Messages       []Message
	RequestedModel string
	MaxTokens      int
	ProfileID      string
	CostPref       CostPreference
	Prompt         string
	Context        map[string]any
}

// Decision is the engine's output: a RoutingDecision.
type Decision struct {
	ProviderID       string
	ModelID          string
	EstimatedCost    float64
	ExpectedLatencyMs int
	ConfidenceScore  float64
	Reason           string
	RulesApplied     []string
	FallbackProvider string
}

// Condition is one clause of a RoutingRule.
type Condition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value,omitempty"`
}

// Action is what a matched rule produces.
type Action struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	CostMultiplier float64 `yaml:"cost_multiplier"`
	MaxLatencyMs  int     `yaml:"max_latency_ms"`
}

// Rule is one declarative routing rule.
type Rule struct {
	Name       string      `yaml:"name"`
	Priority   int         `yaml:"priority"`
	Conditions []Condition `yaml:"conditions"`
	Action     Action      `yaml:"action"`
}

// CostConstraints bounds spend.
type CostConstraints struct {
	DailyBudgetUSD     float64 `yaml:"daily_budget"`
	PerRequestMaxUSD   float64 `yaml:"per_request_max"`
	EmergencyThreshold float64 `yaml:"emergency_threshold"`
}

// PerformanceThresholds are carried through for future enforcement; the
// engine itself only reads cost-related fields today.
type PerformanceThresholds struct {
	MaxLatencyMs  int     `yaml:"max_latency"`
	MinSuccessRate float64 `yaml:"min_success_rate"`
	MaxErrorRate   float64 `yaml:"max_error_rate"`
}

// Config is the parsed rule configuration file ("Rule configuration
// file"). Rules are sorted by descending priority once on load.
type Config struct {
	Rules                 []Rule                `yaml:"routing_rules"`
	CostConstraints       CostConstraints       `yaml:"cost_constraints"`
	PerformanceThresholds PerformanceThresholds `yaml:"performance_thresholds"`
}

// SpendBook is an explicit value the caller threads through decide calls to
// track global daily spend, instead of package-level mutable state (see
// DESIGN.md's recorded Open Question decision).
type SpendBook struct {
	DailySpendUSD float64
	WindowStart   time.Time
}

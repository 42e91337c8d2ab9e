package steering

import (
	"math"
	"strings"
	"sync"
)

// perTokenCostTable is a small static lookup table. Keys are
// matched as a case-insensitive substring of the model id, checked in the
// order below (first match wins), falling back to defaultPerTokenCostUSD.
var perTokenCostTable = []struct {
	substr string
	cost   float64
}{
	{"gpt-4", 0.00006},
	{"gpt-3.5", 0.000002},
	{"claude", 0.00003},
	{"specialist", 0.000008},
	{"llama", 0.000004},
	{"mistral", 0.000004},
	{"gemini", 0.00002},
}

const defaultPerTokenCostUSD = 0.00001

// fallbackDecision is the fixed decision returned when no rule matches
// and no rule named "default" exists.
var fallbackDecision = Decision{
	ProviderID:        "openai",
	ModelID:           "gpt-3.5-turbo",
	EstimatedCost:     0.002,
	ExpectedLatencyMs: 2000,
	ConfidenceScore:   0.7,
	Reason:            "no-rule-matched",
}

// Engine evaluates a loaded rule Config against requests. It is safe for
// concurrent use; Reload swaps the active Config atomically.
type Engine struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewEngine constructs an Engine from an already-validated Config.
func NewEngine(cfg *Config) *Engine {
	return &Engine{cfg: cfg}
}

// Reload atomically swaps in a newly loaded Config (e.g. on SIGHUP).
func (e *Engine) Reload(cfg *Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *Engine) config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Decide evaluates req against the loaded rule set for the given routing
// profile, honoring the daily-spend guard from book. Evaluation never
// panics: any unexpected internal error yields the fallback decision
// tagged "error_fallback".
func (e *Engine) Decide(req Request, profileID string, book SpendBook) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			decision = fallbackDecision
			decision.Reason = "error_fallback"
		}
	}()

	cfg := e.config()
	if cfg == nil {
		return fallbackDecision
	}

	if cfg.CostConstraints.DailyBudgetUSD > 0 && book.DailySpendUSD >= cfg.CostConstraints.DailyBudgetUSD {
		d := fallbackDecision
		d.Reason = "daily-budget-exceeded"
		return d
	}

	promptLen := promptLength(req)
	var defaultRule *Rule
	for i := range cfg.Rules {
		r := &cfg.Rules[i]
		if r.Name == "default" {
			defaultRule = r
		}
		if !matches(req, profileID, r.Conditions) {
			continue
		}
		d := buildDecision(*r, req, profileID, promptLen)
		if cfg.CostConstraints.PerRequestMaxUSD > 0 && d.EstimatedCost > cfg.CostConstraints.PerRequestMaxUSD {
			// Over the per-request cap: keep scanning for the next
			// matching rule rather than accepting this one.
			continue
		}
		d.RulesApplied = []string{r.Name}
		return d
	}

	if defaultRule != nil {
		d := buildDecision(*defaultRule, req, profileID, promptLen)
		d.RulesApplied = []string{defaultRule.Name}
		return d
	}
	return fallbackDecision
}

func promptLength(req Request) int {
	if req.Prompt != "" {
		return len(req.Prompt)
	}
	total := 0
	for _, m := range req.Messages {
		total += len(m.Text)
	}
	return total
}

func buildDecision(r Rule, req Request, profileID string, promptLen int) Decision {
	base := baseCostPerToken(r.Action.Model)
	tokens := math.Ceil(float64(promptLen) / 4.0)
	cost := base * tokens * r.Action.CostMultiplier
	if profileID == "automotive" {
		cost *= 0.90
	}

	confidence := 0.8
	lowerModel := strings.ToLower(r.Action.Model)
	if strings.Contains(lowerModel, "gpt-4") {
		confidence += 0.10
	}
	if strings.Contains(lowerModel, "specialist") {
		confidence += 0.05
	}
	if profileID == "healthcare" {
		confidence += 0.05
	}
	if promptLen > 1000 {
		confidence -= 0.05
	}
	confidence = clamp(confidence, 0.5, 0.95)

	latency := r.Action.MaxLatencyMs
	if latency <= 0 {
		latency = 2000
	}

	return Decision{
		ProviderID:        r.Action.Provider,
		ModelID:           r.Action.Model,
		EstimatedCost:     cost,
		ExpectedLatencyMs: latency,
		ConfidenceScore:   confidence,
		Reason:            "rule:" + r.Name,
	}
}

func baseCostPerToken(model string) float64 {
	lower := strings.ToLower(model)
	for _, e := range perTokenCostTable {
		if strings.Contains(lower, e.substr) {
			return e.cost
		}
	}
	return defaultPerTokenCostUSD
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

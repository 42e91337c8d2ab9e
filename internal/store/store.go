package store

import (
	"context"
	"time"
)

// BudgetDefinition is the persisted form of a budget at some scope
// (organization, team, project or user).
type BudgetDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Scope       string    `json:"scope"` // organization, team, project, user
	ScopeRefID  string    `json:"scope_ref_id"`
	ParentID    string    `json:"parent_id,omitempty"`
	AmountUSD   float64   `json:"amount_usd"`
	Currency    string    `json:"currency"`
	PeriodDays  int       `json:"period_days"`
	PeriodStart time.Time `json:"period_start"`
	EndDate     time.Time `json:"end_date,omitempty"`
	Recurring   bool      `json:"recurring"`
	AlertsJSON  string    `json:"alerts_json"` // serialized []budget.Alert
	TagsJSON    string    `json:"tags_json"`   // serialized []string
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Deleted     bool      `json:"deleted"`
}

// BudgetUsageRecord is a single recorded spend event against a budget.
type BudgetUsageRecord struct {
	ID         int64     `json:"id"`
	BudgetID   string    `json:"budget_id"`
	RequestID  string    `json:"request_id,omitempty"`
	ModelID    string    `json:"model_id,omitempty"`
	AmountUSD  float64   `json:"amount_usd"`
	Currency   string    `json:"currency,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// BudgetStatusCache is the last-computed status snapshot for a budget,
// refreshed on a TTL.
type BudgetStatusCache struct {
	BudgetID       string    `json:"budget_id"`
	CurrentAmount  float64   `json:"current_amount"`
	PercentUsed    float64   `json:"percent_used"`
	Remaining      float64   `json:"remaining"`
	DaysRemaining  float64   `json:"days_remaining"`
	BurnRate       float64   `json:"burn_rate"`
	ProjectedTotal float64   `json:"projected_total"`
	Status         string    `json:"status"` // normal, warning, critical, exceeded
	LastUpdated    time.Time `json:"last_updated"`
}

// BudgetAlertRecord captures a threshold-crossing or exceeded-budget alert.
type BudgetAlertRecord struct {
	AlertID      string     `json:"alert_id"`
	BudgetID     string     `json:"budget_id"`
	MetricType   string     `json:"metric_type"` // threshold_crossed, exceeded
	Threshold    float64    `json:"threshold"`
	Value        float64    `json:"value"`
	TriggeredAt  time.Time  `json:"triggered_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
}

// Store defines the persistence interface for relaycore.
type Store interface {
	// Models
	ListModels(ctx context.Context) ([]ModelRecord, error)
	GetModel(ctx context.Context, id string) (*ModelRecord, error)
	UpsertModel(ctx context.Context, m ModelRecord) error
	DeleteModel(ctx context.Context, id string) error

	// Providers
	ListProviders(ctx context.Context) ([]ProviderRecord, error)
	UpsertProvider(ctx context.Context, p ProviderRecord) error
	DeleteProvider(ctx context.Context, id string) error

	// Request log (for audit and dashboard)
	LogRequest(ctx context.Context, entry RequestLog) error
	ListRequestLogs(ctx context.Context, limit int, offset int) ([]RequestLog, error)

	// Routing config persistence
	SaveRoutingConfig(ctx context.Context, cfg RoutingConfig) error
	LoadRoutingConfig(ctx context.Context) (RoutingConfig, error)

	// Audit logging
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// Reward logging (contextual bandit data collection)
	LogReward(ctx context.Context, entry RewardEntry) error
	ListRewards(ctx context.Context, limit int, offset int) ([]RewardEntry, error)
	GetRewardSummary(ctx context.Context) ([]RewardSummary, error)

	// Budget definitions (CRUD + hierarchy traversal)
	CreateBudget(ctx context.Context, b BudgetDefinition) error
	GetBudget(ctx context.Context, id string) (*BudgetDefinition, error)
	UpdateBudget(ctx context.Context, b BudgetDefinition) error
	SoftDeleteBudget(ctx context.Context, id string) error
	ListBudgets(ctx context.Context, scope string) ([]BudgetDefinition, error)
	ListChildBudgets(ctx context.Context, parentID string) ([]BudgetDefinition, error)

	// Budget usage records (spend events feeding currentAmount)
	RecordBudgetUsage(ctx context.Context, u BudgetUsageRecord) error
	SumBudgetUsage(ctx context.Context, budgetID string, since time.Time) (float64, error)

	// Budget status cache (5-minute TTL computed snapshot)
	SaveBudgetStatus(ctx context.Context, s BudgetStatusCache) error
	LoadBudgetStatus(ctx context.Context, budgetID string) (*BudgetStatusCache, error)

	// Budget alert history (threshold crossings)
	RecordBudgetAlert(ctx context.Context, a BudgetAlertRecord) error
	ListBudgetAlerts(ctx context.Context, budgetID string, limit int) ([]BudgetAlertRecord, error)
	ResolveBudgetAlert(ctx context.Context, alertID string, resolvedAt time.Time) error

	// Log retention
	PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ModelRecord is the persisted form of a model configuration.
type ModelRecord struct {
	ID               string  `json:"id"`
	ProviderID       string  `json:"provider_id"`
	Weight           int     `json:"weight"`
	MaxContextTokens int     `json:"max_context_tokens"`
	InputPer1K       float64 `json:"input_per_1k"`
	OutputPer1K      float64 `json:"output_per_1k"`
	Enabled          bool    `json:"enabled"`
}

// ProviderRecord is the persisted form of a provider configuration.
type ProviderRecord struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // openai, anthropic, specialist
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"base_url"`
	CredStore string `json:"cred_store"` // env, vault, none
}

// RoutingConfig holds persisted routing policy defaults.
type RoutingConfig struct {
	DefaultMode         string  `json:"default_mode"`
	DefaultMaxBudgetUSD float64 `json:"default_max_budget_usd"`
	DefaultMaxLatencyMs int     `json:"default_max_latency_ms"`
}

// AuditEntry captures an admin mutation for audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`              // e.g. "model.upsert", "provider.delete", "vault.unlock"
	Resource  string    `json:"resource"`             // e.g. "gpt-4", "openai"
	Detail    string    `json:"detail,omitempty"`     // optional JSON with change details
	RequestID string    `json:"request_id,omitempty"` // correlates to HTTP request ID
}

// RequestLog captures a single routed request for audit/dashboard.
type RequestLog struct {
	ID               int64     `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	ModelID          string    `json:"model_id"`
	ProviderID       string    `json:"provider_id"`
	Mode             string    `json:"mode"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	LatencyMs        int64     `json:"latency_ms"`
	StatusCode       int       `json:"status_code"`
	ErrorClass       string    `json:"error_class,omitempty"`
	RequestID        string    `json:"request_id,omitempty"`
	APIKeyID         string    `json:"api_key_id,omitempty"`
}

// RewardSummary aggregates reward data per model per token bucket for
// Thompson Sampling parameter estimation.
type RewardSummary struct {
	ModelID     string  `json:"model_id"`
	TokenBucket string  `json:"token_bucket"`
	Count       int     `json:"count"`
	Successes   int     `json:"successes"`
	SumReward   float64 `json:"sum_reward"`
}

// RewardEntry captures the features and outcome of a routing decision
// for contextual bandit reward logging (RL-based routing data collection).
type RewardEntry struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id,omitempty"`
	ModelID         string    `json:"model_id"`
	ProviderID      string    `json:"provider_id"`
	Mode            string    `json:"mode"`
	EstimatedTokens int       `json:"estimated_tokens"`
	TokenBucket     string    `json:"token_bucket"`
	LatencyBudgetMs int       `json:"latency_budget_ms"`
	LatencyMs       float64   `json:"latency_ms"`
	CostUSD         float64   `json:"cost_usd"`
	Success         bool      `json:"success"`
	ErrorClass      string    `json:"error_class,omitempty"`
	Reward          float64   `json:"reward"`
}

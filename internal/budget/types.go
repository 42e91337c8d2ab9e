// Package budget implements the registry, usage tracker, aggregation
// manager and pipeline-facing integration for spend budgets scoped to
// users, teams, organizations and projects.
package budget

import "time"

// ScopeType identifies what a budget is attached to.
type ScopeType string

const (
	ScopeUser         ScopeType = "user"
	ScopeTeam         ScopeType = "team"
	ScopeOrganization ScopeType = "organization"
	ScopeProject      ScopeType = "project"
)

// Period identifies a budget's renewal cadence.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodQuarter Period = "quarterly"
	PeriodAnnual  Period = "annual"
	PeriodCustom  Period = "custom"
)

// AlertAction is one of the escalating responses a crossed alert threshold
// may request. Ordering from least to most restrictive:
// notify < auto-downgrade < restrict-models < require-approval < block-all.
type AlertAction string

const (
	ActionNotify          AlertAction = "notify"
	ActionAutoDowngrade   AlertAction = "auto-downgrade"
	ActionRestrictModels  AlertAction = "restrict-models"
	ActionRequireApproval AlertAction = "require-approval"
	ActionBlockAll        AlertAction = "block-all"
)

// actionRank orders AlertAction by restrictiveness for enforceSpendingLimits.
var actionRank = map[AlertAction]int{
	ActionNotify:          0,
	ActionAutoDowngrade:   1,
	ActionRestrictModels:  2,
	ActionRequireApproval: 3,
	ActionBlockAll:        4,
}

// Status classifies a budget's current consumption.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusExceeded Status = "exceeded"
)

// Alert is one threshold/action pair attached to a BudgetDefinition.
type Alert struct {
	ThresholdPct float64
	Actions      []AlertAction
}

// HasAction reports whether the alert's action list contains a.
func (al Alert) HasAction(a AlertAction) bool {
	for _, x := range al.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// Definition is the in-memory, business-logic view of a budget. It mirrors
// store.BudgetDefinition plus the alert ladder and period metadata that the
// relational layer doesn't model as columns.
type Definition struct {
	ID             string
	Name           string
	ScopeType      ScopeType
	ScopeID        string
	Amount         float64
	Currency       string
	Period         Period
	StartDate      time.Time
	EndDate        time.Time
	Recurring      bool
	Alerts         []Alert // any order; the tracker sorts a copy by descending ThresholdPct
	Tags           []string
	ParentBudgetID string
	Active         bool
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UsageRecord is a single recorded spend event against a budget.
type UsageRecord struct {
	ID         int64
	BudgetID   string
	RequestID  string
	Amount     float64
	Currency   string
	ModelID    string
	RecordedAt time.Time
	// CurrencyWarning is set when Currency differs from the budget's
	// configured currency; the mismatch is logged, never rejected.
	CurrencyWarning string
}

// StatusInfo is the derived view of a budget's consumption, refreshed by
// the tracker and fronted by a 5-minute TTL cache.
type StatusInfo struct {
	BudgetID      string
	CurrentAmount float64
	PercentUsed   float64
	Remaining     float64
	DaysRemaining float64
	BurnRate      float64
	ProjectedTotal float64
	Status        Status
	LastUpdated   time.Time
	ActiveAlerts  []Alert
}

// ConstraintCheck is the result of checkBudgetConstraints.
type ConstraintCheck struct {
	CanProceed       bool
	Reason           string
	SuggestedActions []AlertAction
}

// AllocationRecommendation is the result of allocateBudget.
type AllocationRecommendation string

const (
	RecommendReject              AllocationRecommendation = "reject"
	RecommendDowngrade           AllocationRecommendation = "downgrade"
	RecommendProceedWithDowngrade AllocationRecommendation = "proceed-with-downgrade-hint"
	RecommendProceed             AllocationRecommendation = "proceed"
)

// ScopeCheck records the outcome of checking one scope in order, for
// checkRequestConstraints' observability contract.
type ScopeCheck struct {
	Scope  ScopeType
	Budget string
	ConstraintCheck
}

// RequestConstraintResult is the pipeline-facing result of
// checkRequestConstraints: the first failing scope (if any) plus the
// ordered trail of checks performed.
type RequestConstraintResult struct {
	CanProceed bool
	Checks     []ScopeCheck
}

// CostReport aggregates spend over a range for generateCostReport.
type CostReport struct {
	TotalSpendByCurrency map[string]float64
	Utilization          float64
	TopModels            []ReportEntry
	TopUsers             []ReportEntry
	DailySeries          []DailyPoint
}

// ReportEntry is one row of a top-N breakdown.
type ReportEntry struct {
	Key   string
	Spend float64
}

// DailyPoint is one day's aggregated spend for a cost report series.
type DailyPoint struct {
	Date  time.Time
	Spend float64
}

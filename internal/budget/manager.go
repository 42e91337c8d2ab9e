package budget

import (
	"context"
	"sort"
	"time"

	"github.com/relaycore/relaycore/internal/store"
	"github.com/relaycore/relaycore/internal/tsdb"
)

// CostSeriesMetric is the tsdb metric name spend points are recorded under.
const CostSeriesMetric = "budget_spend_usd"

// ScopeResolver supplies the user→team→organization membership the Manager
// needs to climb scopes in checkBudget/enforceSpendingLimits. The budget
// package has no opinion on how users/teams/orgs are modeled upstream; the
// pipeline wires a concrete resolver backed by whatever directory it owns.
type ScopeResolver interface {
	TeamsForUser(ctx context.Context, userID string) ([]string, error)
	OrganizationForUser(ctx context.Context, userID string) (string, error)
}

// CostEstimator is the subset of the cost predictor the Manager depends on
// for allocateBudget, kept as an interface so budget has no import-cycle
// dependency on internal/costpredict.
type CostEstimator interface {
	EstimateCost(ctx context.Context, requestedModel string, promptChars int, maxTokens int) (cost float64, recommendedModel string, err error)
}

// Manager implements checkBudget/allocateBudget/enforceSpendingLimits/
// generateCostReport.
type Manager struct {
	registry  *Registry
	tracker   *Tracker
	db        store.Store
	resolver  ScopeResolver
	estimator CostEstimator
	series    *tsdb.Store
}

// NewManager builds a Manager. resolver and estimator may be nil; callers
// relying on checkBudget/allocateBudget must supply them.
func NewManager(registry *Registry, tracker *Tracker, db store.Store, resolver ScopeResolver, estimator CostEstimator) *Manager {
	return &Manager{registry: registry, tracker: tracker, db: db, resolver: resolver, estimator: estimator}
}

// WithSeries attaches a tsdb-backed store GenerateCostReport draws its
// per-model breakdown and daily series from. Without one those fields stay
// empty.
func (m *Manager) WithSeries(s *tsdb.Store) *Manager {
	m.series = s
	return m
}

// RecordSpend appends one cost data point to the attached series store. A
// no-op if no series store is attached.
func (m *Manager) RecordSpend(modelID string, cost float64, at time.Time) {
	if m.series == nil {
		return
	}
	m.series.Write(tsdb.Point{Timestamp: at, Metric: CostSeriesMetric, ModelID: modelID, Value: cost})
}

// CheckBudget resolves the applicable budget by climbing scope
// user → user's teams → user's organization, returning the first matching
// budget's status.
func (m *Manager) CheckBudget(ctx context.Context, userID string, estimatedCost float64) (*StatusInfo, error) {
	if b, err := m.firstBudgetForScope(ctx, ScopeUser, userID); err != nil || b != nil {
		return m.statusOrNil(ctx, b, err)
	}
	if m.resolver != nil {
		teams, err := m.resolver.TeamsForUser(ctx, userID)
		if err == nil {
			for _, team := range teams {
				if b, err := m.firstBudgetForScope(ctx, ScopeTeam, team); err == nil && b != nil {
					return m.statusOrNil(ctx, b, nil)
				}
			}
		}
		org, err := m.resolver.OrganizationForUser(ctx, userID)
		if err == nil && org != "" {
			if b, err := m.firstBudgetForScope(ctx, ScopeOrganization, org); err == nil && b != nil {
				return m.statusOrNil(ctx, b, nil)
			}
		}
	}
	return nil, nil
}

func (m *Manager) statusOrNil(ctx context.Context, b *Definition, err error) (*StatusInfo, error) {
	if err != nil || b == nil {
		return nil, err
	}
	return m.tracker.GetBudgetStatus(ctx, b.ID)
}

func (m *Manager) firstBudgetForScope(ctx context.Context, scope ScopeType, scopeID string) (*Definition, error) {
	defs, err := m.registry.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	for i := range defs {
		if defs[i].ScopeID == scopeID && defs[i].Active {
			return &defs[i], nil
		}
	}
	return nil, nil
}

// AllocateRequest is the minimal shape of an AI request needed for
// allocateBudget's cost-estimate + status lookup.
type AllocateRequest struct {
	UserID         string
	RequestedModel string
	PromptChars    int
	MaxTokens      int
}

// AllocateBudget calls the cost predictor, then derives a recommendation
// from the budget's status and the estimate's share of the remaining
// balance.
func (m *Manager) AllocateBudget(ctx context.Context, req AllocateRequest) (AllocationRecommendation, float64, error) {
	estimatedCost := 0.0
	recommendedModel := req.RequestedModel
	if m.estimator != nil {
		var err error
		estimatedCost, recommendedModel, err = m.estimator.EstimateCost(ctx, req.RequestedModel, req.PromptChars, req.MaxTokens)
		if err != nil {
			return RecommendProceed, 0, err
		}
	}
	_ = recommendedModel

	status, err := m.CheckBudget(ctx, req.UserID, estimatedCost)
	if err != nil {
		return RecommendProceed, estimatedCost, err
	}
	if status == nil {
		return RecommendProceed, estimatedCost, nil
	}

	switch status.Status {
	case StatusExceeded:
		return RecommendReject, estimatedCost, nil
	case StatusCritical:
		if status.Remaining > 0 && estimatedCost > 0.5*status.Remaining {
			return RecommendDowngrade, estimatedCost, nil
		}
	case StatusWarning:
		if status.Remaining > 0 && estimatedCost > 0.3*status.Remaining {
			return RecommendProceedWithDowngrade, estimatedCost, nil
		}
	}
	return RecommendProceed, estimatedCost, nil
}

// EnforceSpendingLimits returns the most-restrictive action among active
// alerts for the budget applicable to userID.
func (m *Manager) EnforceSpendingLimits(ctx context.Context, userID string) (AlertAction, error) {
	status, err := m.CheckBudget(ctx, userID, 0)
	if err != nil || status == nil {
		return ActionNotify, err
	}
	most := ActionNotify
	for _, a := range status.ActiveAlerts {
		for _, act := range a.Actions {
			if actionRank[act] > actionRank[most] {
				most = act
			}
		}
	}
	return most, nil
}

// CostReportRange bounds a generateCostReport query.
type CostReportRange struct {
	Start time.Time
	End   time.Time
}

// GenerateCostReport aggregates spend: total by currency, utilization,
// top-5 models/users, and a daily series. The total and utilization cover
// all usage recorded since r.Start; r.End does not bound them and only
// limits the series-backed model breakdown and daily series.
func (m *Manager) GenerateCostReport(ctx context.Context, budgetID string, r CostReportRange) (*CostReport, error) {
	def, err := m.registry.Get(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, nil
	}

	total, err := m.db.SumBudgetUsage(ctx, budgetID, r.Start)
	if err != nil {
		return nil, err
	}

	report := &CostReport{
		TotalSpendByCurrency: map[string]float64{def.Currency: total},
	}
	if def.Amount > 0 {
		report.Utilization = total / def.Amount * 100
	}
	report.TopModels = []ReportEntry{}
	report.TopUsers = []ReportEntry{}
	report.DailySeries = []DailyPoint{}
	if m.series != nil {
		models, daily, err := m.costBreakdown(ctx, r)
		if err == nil {
			report.TopModels = models
			report.DailySeries = daily
		}
	}
	// TopUsers has no backing dimension: tsdb.Point carries model/provider
	// but not user id, and adding one is out of scope for this pass.
	sort.Slice(report.TopModels, func(i, j int) bool { return report.TopModels[i].Spend > report.TopModels[j].Spend })
	if len(report.TopModels) > 5 {
		report.TopModels = report.TopModels[:5]
	}
	return report, nil
}

// costBreakdown queries the attached series store for per-model totals and
// a day-bucketed spend series over the report range.
func (m *Manager) costBreakdown(ctx context.Context, r CostReportRange) ([]ReportEntry, []DailyPoint, error) {
	series, err := m.series.Query(ctx, tsdb.QueryParams{Metric: CostSeriesMetric, Start: r.Start, End: r.End})
	if err != nil {
		return nil, nil, err
	}
	byModel := make(map[string]float64)
	byDay := make(map[string]float64)
	var dayOrder []string
	for _, s := range series {
		for _, pt := range s.Points {
			byModel[s.ModelID] += pt.Value
			day := pt.T.UTC().Format("2006-01-02")
			if _, seen := byDay[day]; !seen {
				dayOrder = append(dayOrder, day)
			}
			byDay[day] += pt.Value
		}
	}
	models := make([]ReportEntry, 0, len(byModel))
	for model, spend := range byModel {
		models = append(models, ReportEntry{Key: model, Spend: spend})
	}
	sort.Strings(dayOrder)
	daily := make([]DailyPoint, 0, len(dayOrder))
	for _, day := range dayOrder {
		d, _ := time.Parse("2006-01-02", day)
		daily = append(daily, DailyPoint{Date: d, Spend: byDay[day]})
	}
	return models, daily, nil
}

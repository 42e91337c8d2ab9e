package budget

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/relaycore/relaycore/internal/events"
	"github.com/relaycore/relaycore/internal/rcerrors"
	"github.com/relaycore/relaycore/internal/store"
)

const statusCacheTTL = 5 * time.Minute

// Tracker implements recordUsage/getBudgetStatus/checkBudgetConstraints
// fronted by the process-local status cache in statuscache.go.
type Tracker struct {
	db       store.Store
	registry *Registry
	cache    *StatusCache
	bus      *events.Bus
}

// NewTracker builds a Tracker. bus may be nil to drop threshold events.
func NewTracker(db store.Store, registry *Registry, bus *events.Bus) *Tracker {
	return &Tracker{db: db, registry: registry, cache: NewStatusCache(statusCacheTTL), bus: bus}
}

// RecordUsage inserts a usage record and synchronously refreshes the status
// cache entry under the same logical transaction, so a getBudgetStatus call
// that follows observes the write (read-your-writes).
func (t *Tracker) RecordUsage(ctx context.Context, budgetID string, req UsageRecord) (*UsageRecord, error) {
	def, err := t.registry.Get(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, rcerrors.New(rcerrors.BudgetNotFound, "budget "+budgetID+" not found")
	}
	if req.Currency != "" && def.Currency != "" && req.Currency != def.Currency {
		req.CurrencyWarning = "usage currency " + req.Currency + " differs from budget currency " + def.Currency
	}
	if req.RecordedAt.IsZero() {
		req.RecordedAt = time.Now().UTC()
	}
	rec := store.BudgetUsageRecord{
		BudgetID:   budgetID,
		RequestID:  req.RequestID,
		ModelID:    req.ModelID,
		AmountUSD:  req.Amount,
		Currency:   req.Currency,
		RecordedAt: req.RecordedAt,
	}
	if err := t.db.RecordBudgetUsage(ctx, rec); err != nil {
		return nil, rcerrors.Wrap(rcerrors.TransientStoreError, "record budget usage", err)
	}
	t.cache.Invalidate(budgetID)
	if _, err := t.refreshStatus(ctx, *def); err != nil {
		return nil, err
	}
	req.BudgetID = budgetID
	return &req, nil
}

// GetBudgetStatus reads the cache entry; if missing or stale it recomputes
// from scratch. Returns nil for an unknown budget.
func (t *Tracker) GetBudgetStatus(ctx context.Context, budgetID string) (*StatusInfo, error) {
	if cached, ok := t.cache.Get(budgetID); ok {
		return cached, nil
	}
	def, err := t.registry.Get(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, nil
	}
	return t.refreshStatus(ctx, *def)
}

func (t *Tracker) refreshStatus(ctx context.Context, def Definition) (*StatusInfo, error) {
	periodStart := def.StartDate
	current, err := t.db.SumBudgetUsage(ctx, def.ID, periodStart)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.TransientStoreError, "sum budget usage", err)
	}

	daysElapsed := math.Max(1, time.Since(periodStart).Hours()/24)
	periodDaysF := float64(periodDays(def.Period))
	burnRate := current / daysElapsed
	projectedTotal := burnRate * periodDaysF

	var percentUsed float64
	if def.Amount > 0 {
		percentUsed = current / def.Amount * 100
	} else if current > 0 {
		percentUsed = 100
	}
	remaining := math.Max(0, def.Amount-current)
	daysRemaining := math.Max(0, periodDaysF-daysElapsed)

	status := classify(def, current, percentUsed)
	activeAlerts := activeAlertsFor(def, percentUsed)

	info := &StatusInfo{
		BudgetID:       def.ID,
		CurrentAmount:  current,
		PercentUsed:    percentUsed,
		Remaining:      remaining,
		DaysRemaining:  daysRemaining,
		BurnRate:       burnRate,
		ProjectedTotal: projectedTotal,
		Status:         status,
		LastUpdated:    time.Now().UTC(),
		ActiveAlerts:   activeAlerts,
	}

	if err := t.db.SaveBudgetStatus(ctx, store.BudgetStatusCache{
		BudgetID:       def.ID,
		CurrentAmount:  current,
		PercentUsed:    percentUsed,
		Remaining:      remaining,
		DaysRemaining:  daysRemaining,
		BurnRate:       burnRate,
		ProjectedTotal: projectedTotal,
		Status:         string(status),
		LastUpdated:    info.LastUpdated,
	}); err != nil {
		return nil, rcerrors.Wrap(rcerrors.TransientStoreError, "save budget status cache", err)
	}
	t.cache.Set(def.ID, info)

	if status == StatusExceeded {
		t.publish(events.EventBudgetExceeded, def.ID, percentUsed)
	} else if len(activeAlerts) > 0 {
		t.publish(events.EventBudgetThresholdCrossed, def.ID, percentUsed)
	}
	return info, nil
}

func (t *Tracker) publish(typ events.EventType, budgetID string, percentUsed float64) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.Event{Type: typ, BudgetID: budgetID, PercentUsed: percentUsed})
}

// classify applies the status-threshold rule: remaining<0 or percentUsed ≥ 100
// ⇒ exceeded; otherwise warning ≥ lowest alert threshold, critical ≥ highest
// non-block threshold, normal otherwise.
func classify(def Definition, current, percentUsed float64) Status {
	if def.Amount-current < 0 {
		return StatusExceeded
	}
	if percentUsed >= 100 {
		return StatusExceeded
	}
	if len(def.Alerts) == 0 {
		return StatusNormal
	}
	sorted := sortedAlerts(def.Alerts)
	lowest := sorted[len(sorted)-1].ThresholdPct
	var highestNonBlock float64
	for _, a := range sorted {
		if !a.HasAction(ActionBlockAll) && !a.HasAction(ActionRequireApproval) {
			if a.ThresholdPct > highestNonBlock {
				highestNonBlock = a.ThresholdPct
			}
		}
	}
	switch {
	case highestNonBlock > 0 && percentUsed >= highestNonBlock:
		return StatusCritical
	case percentUsed >= lowest:
		return StatusWarning
	default:
		return StatusNormal
	}
}

func activeAlertsFor(def Definition, percentUsed float64) []Alert {
	var out []Alert
	for _, a := range def.Alerts {
		if percentUsed >= a.ThresholdPct {
			out = append(out, a)
		}
	}
	return out
}

func sortedAlerts(alerts []Alert) []Alert {
	out := make([]Alert, len(alerts))
	copy(out, alerts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ThresholdPct > out[j].ThresholdPct })
	return out
}

// CheckBudgetConstraints computes projectedPercent = (current+estimatedCost)/amount*100
// and walks alerts from highest threshold down; the first alert whose
// threshold <= projectedPercent determines the outcome.
func (t *Tracker) CheckBudgetConstraints(ctx context.Context, budgetID string, estimatedCost float64) (*ConstraintCheck, error) {
	def, err := t.registry.Get(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, rcerrors.New(rcerrors.BudgetNotFound, "budget "+budgetID+" not found")
	}
	status, err := t.GetBudgetStatus(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, rcerrors.New(rcerrors.BudgetNotFound, "budget "+budgetID+" has no status")
	}

	var projectedPercent float64
	if def.Amount > 0 {
		projectedPercent = (status.CurrentAmount + estimatedCost) / def.Amount * 100
	} else if status.CurrentAmount+estimatedCost > 0 {
		projectedPercent = 100
	}

	sorted := sortedAlerts(def.Alerts)
	for _, a := range sorted {
		if a.ThresholdPct > projectedPercent {
			continue
		}
		if a.HasAction(ActionBlockAll) {
			return &ConstraintCheck{CanProceed: false, Reason: "budget alert threshold requires blocking all requests", SuggestedActions: a.Actions}, nil
		}
		if a.HasAction(ActionRequireApproval) {
			return &ConstraintCheck{CanProceed: false, Reason: "budget alert threshold requires approval", SuggestedActions: a.Actions}, nil
		}
		return &ConstraintCheck{CanProceed: true, SuggestedActions: a.Actions}, nil
	}
	return &ConstraintCheck{CanProceed: true}, nil
}

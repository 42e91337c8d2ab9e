package budget

import (
	"context"
	"log/slog"
	"time"
)

// Integration is the pipeline-facing facade: it evaluates
// budgets in strict scope order and records usage against every matching
// budget without ever raising into the caller.
type Integration struct {
	registry *Registry
	tracker  *Tracker
	logger   *slog.Logger
}

// NewIntegration builds an Integration. logger may be nil, in which case a
// default slog logger is used.
func NewIntegration(registry *Registry, tracker *Tracker, logger *slog.Logger) *Integration {
	if logger == nil {
		logger = slog.Default()
	}
	return &Integration{registry: registry, tracker: tracker, logger: logger}
}

// CheckRequestConstraints evaluates budgets in order user → team → project,
// returning on the first canProceed=false. The ordered trail of individual
// checks is always returned for observability, even when every scope passes.
func (i *Integration) CheckRequestConstraints(ctx context.Context, userID, teamID, projectID string, estimatedCost float64) RequestConstraintResult {
	result := RequestConstraintResult{CanProceed: true}

	scopes := []struct {
		typ ScopeType
		ref string
	}{
		{ScopeUser, userID},
		{ScopeTeam, teamID},
		{ScopeProject, projectID},
	}

	for _, sc := range scopes {
		if sc.ref == "" {
			continue
		}
		b, err := i.firstBudgetForScope(ctx, sc.typ, sc.ref)
		if err != nil {
			i.logger.Warn("budget constraint check failed", "scope", sc.typ, "ref", sc.ref, "error", err)
			continue
		}
		if b == nil {
			continue
		}
		check, err := i.tracker.CheckBudgetConstraints(ctx, b.ID, estimatedCost)
		if err != nil {
			i.logger.Warn("budget constraint check failed", "scope", sc.typ, "budget", b.ID, "error", err)
			continue
		}
		result.Checks = append(result.Checks, ScopeCheck{Scope: sc.typ, Budget: b.ID, ConstraintCheck: *check})
		if !check.CanProceed {
			result.CanProceed = false
			return result
		}
	}
	return result
}

func (i *Integration) firstBudgetForScope(ctx context.Context, scope ScopeType, scopeID string) (*Definition, error) {
	defs, err := i.registry.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	for idx := range defs {
		if defs[idx].ScopeID == scopeID && defs[idx].Active {
			return &defs[idx], nil
		}
	}
	return nil, nil
}

// RecordRequestUsage records one UsageRecord against every matching budget
// at each supplied scope. Per-scope failures are logged, never propagated.
func (i *Integration) RecordRequestUsage(ctx context.Context, requestID, userID, teamID, projectID, modelID string, cost float64, currency string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	scopes := []struct {
		typ ScopeType
		ref string
	}{
		{ScopeUser, userID},
		{ScopeTeam, teamID},
		{ScopeProject, projectID},
	}
	for _, sc := range scopes {
		if sc.ref == "" {
			continue
		}
		b, err := i.firstBudgetForScope(ctx, sc.typ, sc.ref)
		if err != nil || b == nil {
			if err != nil {
				i.logger.Warn("budget usage lookup failed", "scope", sc.typ, "ref", sc.ref, "error", err)
			}
			continue
		}
		_, err = i.tracker.RecordUsage(ctx, b.ID, UsageRecord{
			RequestID:  requestID,
			ModelID:    modelID,
			Amount:     cost,
			Currency:   currency,
			RecordedAt: ts,
		})
		if err != nil {
			i.logger.Warn("budget usage record failed", "scope", sc.typ, "budget", b.ID, "error", err)
		}
	}
}

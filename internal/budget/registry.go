package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/rcerrors"
	"github.com/relaycore/relaycore/internal/store"
)

// Registry implements CRUD and hierarchy traversal over budget definitions.
// No mutation runs inside an explicit multi-statement transaction: Create
// makes two separate store calls (insert the definition, then seed its
// status cache row), and the other mutations are a single store call each.
type Registry struct {
	db store.Store
}

// NewRegistry builds a Registry backed by db.
func NewRegistry(db store.Store) *Registry {
	return &Registry{db: db}
}

// Create inserts a new budget definition, seeding its status cache entry
// with zero usage so getBudgetStatus never needs to special-case "never
// recorded anything yet".
func (r *Registry) Create(ctx context.Context, d Definition) (*Definition, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Active = true

	rec, err := toRecord(d)
	if err != nil {
		return nil, err
	}
	if err := r.db.CreateBudget(ctx, rec); err != nil {
		return nil, rcerrors.Wrap(rcerrors.TransientStoreError, "create budget", err)
	}
	if err := r.db.SaveBudgetStatus(ctx, store.BudgetStatusCache{
		BudgetID:    d.ID,
		Remaining:   d.Amount,
		Status:      string(StatusNormal),
		LastUpdated: now,
	}); err != nil {
		return nil, rcerrors.Wrap(rcerrors.TransientStoreError, "seed budget status cache", err)
	}
	return &d, nil
}

// Get fetches a budget definition by id. Returns (nil, nil) if not found.
func (r *Registry) Get(ctx context.Context, id string) (*Definition, error) {
	rec, err := r.db.GetBudget(ctx, id)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.TransientStoreError, "get budget", err)
	}
	if rec == nil {
		return nil, nil
	}
	d, err := fromRecord(*rec)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Update persists changes to an existing budget definition.
func (r *Registry) Update(ctx context.Context, d Definition) error {
	d.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(d)
	if err != nil {
		return err
	}
	if err := r.db.UpdateBudget(ctx, rec); err != nil {
		return rcerrors.Wrap(rcerrors.TransientStoreError, "update budget", err)
	}
	return nil
}

// SoftDelete marks a budget inactive. Fails if any active child budget
// still references it.
func (r *Registry) SoftDelete(ctx context.Context, id string) error {
	children, err := r.db.ListChildBudgets(ctx, id)
	if err != nil {
		return rcerrors.Wrap(rcerrors.TransientStoreError, "list child budgets", err)
	}
	if len(children) > 0 {
		return rcerrors.New(rcerrors.InvalidConfig, fmt.Sprintf("budget %s has %d active child budgets", id, len(children)))
	}
	if err := r.db.SoftDeleteBudget(ctx, id); err != nil {
		return rcerrors.Wrap(rcerrors.TransientStoreError, "soft delete budget", err)
	}
	return nil
}

// List returns active budgets, optionally filtered by scope type.
func (r *Registry) List(ctx context.Context, scope ScopeType) ([]Definition, error) {
	recs, err := r.db.ListBudgets(ctx, string(scope))
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.TransientStoreError, "list budgets", err)
	}
	out := make([]Definition, 0, len(recs))
	for _, rec := range recs {
		d, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// GetHierarchy performs a recursive parent→child traversal starting from the
// budget whose scope/scopeId matches, returning it plus every descendant.
func (r *Registry) GetHierarchy(ctx context.Context, scope ScopeType, scopeID string) ([]Definition, error) {
	all, err := r.db.ListBudgets(ctx, string(scope))
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.TransientStoreError, "list budgets", err)
	}
	var root *store.BudgetDefinition
	for i := range all {
		if all[i].ScopeRefID == scopeID {
			root = &all[i]
			break
		}
	}
	if root == nil {
		return nil, nil
	}
	d, err := fromRecord(*root)
	if err != nil {
		return nil, err
	}
	out := []Definition{d}
	if err := r.collectChildren(ctx, root.ID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) collectChildren(ctx context.Context, parentID string, out *[]Definition) error {
	children, err := r.db.ListChildBudgets(ctx, parentID)
	if err != nil {
		return rcerrors.Wrap(rcerrors.TransientStoreError, "list child budgets", err)
	}
	for _, c := range children {
		d, err := fromRecord(c)
		if err != nil {
			return err
		}
		*out = append(*out, d)
		if err := r.collectChildren(ctx, c.ID, out); err != nil {
			return err
		}
	}
	return nil
}

func toRecord(d Definition) (store.BudgetDefinition, error) {
	alertsJSON, err := json.Marshal(d.Alerts)
	if err != nil {
		return store.BudgetDefinition{}, rcerrors.Wrap(rcerrors.InvalidConfig, "marshal budget alerts", err)
	}
	tagsJSON, err := json.Marshal(d.Tags)
	if err != nil {
		return store.BudgetDefinition{}, rcerrors.Wrap(rcerrors.InvalidConfig, "marshal budget tags", err)
	}
	return store.BudgetDefinition{
		ID:          d.ID,
		Name:        d.Name,
		Scope:       string(d.ScopeType),
		ScopeRefID:  d.ScopeID,
		ParentID:    d.ParentBudgetID,
		AmountUSD:   d.Amount,
		Currency:    d.Currency,
		PeriodDays:  periodDays(d.Period),
		PeriodStart: d.StartDate,
		EndDate:     d.EndDate,
		Recurring:   d.Recurring,
		AlertsJSON:  string(alertsJSON),
		TagsJSON:    string(tagsJSON),
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		Deleted:     !d.Active,
	}, nil
}

func fromRecord(rec store.BudgetDefinition) (Definition, error) {
	var alerts []Alert
	if rec.AlertsJSON != "" {
		if err := json.Unmarshal([]byte(rec.AlertsJSON), &alerts); err != nil {
			return Definition{}, rcerrors.Wrap(rcerrors.TransientStoreError, "unmarshal budget alerts", err)
		}
	}
	var tags []string
	if rec.TagsJSON != "" {
		if err := json.Unmarshal([]byte(rec.TagsJSON), &tags); err != nil {
			return Definition{}, rcerrors.Wrap(rcerrors.TransientStoreError, "unmarshal budget tags", err)
		}
	}
	return Definition{
		ID:             rec.ID,
		Name:           rec.Name,
		ScopeType:      ScopeType(rec.Scope),
		ScopeID:        rec.ScopeRefID,
		Amount:         rec.AmountUSD,
		Currency:       rec.Currency,
		Period:         periodFromDays(rec.PeriodDays),
		StartDate:      rec.PeriodStart,
		EndDate:        rec.EndDate,
		Recurring:      rec.Recurring,
		Alerts:         alerts,
		Tags:           tags,
		ParentBudgetID: rec.ParentID,
		Active:         !rec.Deleted,
		CreatedBy:      rec.CreatedBy,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

// periodDays converts a named Period to a nominal day count used for
// burnRate/projectedTotal math. PeriodCustom and any unrecognized value map
// to 30 days.
func periodDays(p Period) int {
	switch p {
	case PeriodDaily:
		return 1
	case PeriodWeekly:
		return 7
	case PeriodMonthly:
		return 30
	case PeriodQuarter:
		return 90
	case PeriodAnnual:
		return 365
	default:
		return 30
	}
}

func periodFromDays(days int) Period {
	switch days {
	case 1:
		return PeriodDaily
	case 7:
		return PeriodWeekly
	case 30:
		return PeriodMonthly
	case 90:
		return PeriodQuarter
	case 365:
		return PeriodAnnual
	default:
		return PeriodCustom
	}
}

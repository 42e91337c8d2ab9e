package budget

import (
	"context"
	"testing"
	"time"

	"github.com/relaycore/relaycore/internal/store"
)

func newTestDB(t *testing.T) store.Store {
	t.Helper()
	db, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegistry_CreateSeedsZeroUsageStatus(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db)
	ctx := context.Background()

	d := Definition{
		ScopeType: ScopeTeam,
		ScopeID:   "team-1",
		Amount:    500,
		Currency:  "USD",
		Period:    PeriodMonthly,
		StartDate: time.Now().UTC(),
		Alerts:    []Alert{{ThresholdPct: 80, Actions: []AlertAction{ActionNotify}}},
	}
	created, err := reg.Create(ctx, d)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	status, err := db.LoadBudgetStatus(ctx, created.ID)
	if err != nil {
		t.Fatalf("load status failed: %v", err)
	}
	if status == nil {
		t.Fatal("expected seeded status cache entry")
	}
	if status.CurrentAmount != 0 {
		t.Errorf("expected zero usage seeded, got %f", status.CurrentAmount)
	}
	if status.Remaining != 500 {
		t.Errorf("expected remaining 500, got %f", status.Remaining)
	}
}

func TestRegistry_GetRoundtripsAlerts(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db)
	ctx := context.Background()

	d := Definition{
		ScopeType: ScopeUser,
		ScopeID:   "user-1",
		Amount:    100,
		Period:    PeriodDaily,
		StartDate: time.Now().UTC(),
		Alerts: []Alert{
			{ThresholdPct: 90, Actions: []AlertAction{ActionBlockAll}},
			{ThresholdPct: 50, Actions: []AlertAction{ActionNotify}},
		},
		Tags: []string{"prod", "finance"},
	}
	created, err := reg.Create(ctx, d)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := reg.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got.Alerts))
	}
	if len(got.Tags) != 2 || got.Tags[0] != "prod" {
		t.Fatalf("expected tags roundtripped, got %v", got.Tags)
	}
}

func TestRegistry_SoftDeleteFailsWithActiveChildren(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db)
	ctx := context.Background()

	parent, err := reg.Create(ctx, Definition{ScopeType: ScopeOrganization, ScopeID: "org-1", Amount: 1000, Period: PeriodMonthly, StartDate: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create parent failed: %v", err)
	}
	_, err = reg.Create(ctx, Definition{ScopeType: ScopeTeam, ScopeID: "team-1", ParentBudgetID: parent.ID, Amount: 200, Period: PeriodMonthly, StartDate: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create child failed: %v", err)
	}

	if err := reg.SoftDelete(ctx, parent.ID); err == nil {
		t.Fatal("expected soft delete to fail with active child budget")
	}
}

func TestRegistry_GetHierarchyTraversesDescendants(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db)
	ctx := context.Background()
	now := time.Now().UTC()

	org, err := reg.Create(ctx, Definition{ScopeType: ScopeOrganization, ScopeID: "org-1", Amount: 5000, Period: PeriodMonthly, StartDate: now})
	if err != nil {
		t.Fatalf("create org failed: %v", err)
	}
	team, err := reg.Create(ctx, Definition{ScopeType: ScopeTeam, ScopeID: "team-1", ParentBudgetID: org.ID, Amount: 1000, Period: PeriodMonthly, StartDate: now})
	if err != nil {
		t.Fatalf("create team failed: %v", err)
	}
	if _, err := reg.Create(ctx, Definition{ScopeType: ScopeUser, ScopeID: "user-1", ParentBudgetID: team.ID, Amount: 200, Period: PeriodMonthly, StartDate: now}); err != nil {
		t.Fatalf("create user budget failed: %v", err)
	}

	hierarchy, err := reg.GetHierarchy(ctx, ScopeOrganization, "org-1")
	if err != nil {
		t.Fatalf("get hierarchy failed: %v", err)
	}
	if len(hierarchy) != 3 {
		t.Fatalf("expected 3 budgets in hierarchy, got %d", len(hierarchy))
	}
}

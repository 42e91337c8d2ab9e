package circuitbreaker

import (
	"context"
	"errors"
	"testing"

	"github.com/relaycore/relaycore/internal/events"
	"github.com/relaycore/relaycore/internal/rcerrors"
)

func TestExecuteWithFailover_PrimarySucceeds(t *testing.T) {
	m := NewManager(nil)
	id, err := m.ExecuteWithFailover(context.Background(), "openai",
		func(ctx context.Context) error { return nil },
		nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "openai" {
		t.Fatalf("expected openai, got %s", id)
	}
}

func TestExecuteWithFailover_FallsBackByAscendingPriority(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(8)
	m := NewManager(bus)

	ops := map[string]ProviderOp{
		"backup-low-priority":  func(ctx context.Context) error { return errors.New("still down") },
		"backup-high-priority": func(ctx context.Context) error { return nil },
	}
	candidates := []Candidate{
		{ProviderID: "backup-low-priority", Priority: 2, HealthScore: 1.0},
		{ProviderID: "backup-high-priority", Priority: 1, HealthScore: 0.5},
	}

	id, err := m.ExecuteWithFailover(context.Background(), "primary",
		func(ctx context.Context) error { return errors.New("primary down") },
		candidates, ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "backup-high-priority" {
		t.Fatalf("expected ascending-priority candidate to be tried first, got %s", id)
	}

	select {
	case e := <-sub.C:
		if e.Type != events.EventFailoverSuccess {
			t.Fatalf("expected failover_success event, got %s", e.Type)
		}
	default:
		t.Fatal("expected a failover_success event to be published")
	}
}

func TestExecuteWithFailover_AllFail(t *testing.T) {
	m := NewManager(nil)
	candidates := []Candidate{{ProviderID: "backup", Priority: 1, HealthScore: 1.0}}
	ops := map[string]ProviderOp{
		"backup": func(ctx context.Context) error { return errors.New("also down") },
	}
	_, err := m.ExecuteWithFailover(context.Background(), "primary",
		func(ctx context.Context) error { return errors.New("primary down") },
		candidates, ops)
	if err == nil {
		t.Fatal("expected all-providers-failed error")
	}
	kind, ok := rcerrors.KindOf(err)
	if !ok || kind != rcerrors.AllProvidersFailed {
		t.Fatalf("expected AllProvidersFailed kind, got %v (ok=%v)", kind, ok)
	}
}

func TestExecuteWithFailover_SkipsUnhealthyCandidates(t *testing.T) {
	m := NewManager(nil, WithFailureThreshold(1))
	// Drive the "unhealthy" candidate's breaker open before the failover call.
	_ = m.BreakerFor("unhealthy").Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	ops := map[string]ProviderOp{
		"unhealthy": func(ctx context.Context) error { return nil },
		"healthy":   func(ctx context.Context) error { return nil },
	}
	candidates := []Candidate{
		{ProviderID: "unhealthy", Priority: 1, HealthScore: 1.0},
		{ProviderID: "healthy", Priority: 2, HealthScore: 1.0},
	}
	id, err := m.ExecuteWithFailover(context.Background(), "primary",
		func(ctx context.Context) error { return errors.New("primary down") },
		candidates, ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "healthy" {
		t.Fatalf("expected unhealthy candidate to be skipped, got %s", id)
	}
}

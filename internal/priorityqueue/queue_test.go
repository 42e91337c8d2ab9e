package priorityqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitForResult(t *testing.T, ch <-chan Result, timeout time.Duration) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(timeout):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestEnqueue_RejectsWhenFull(t *testing.T) {
	q := New(Config{MaxSize: 1}, func(ctx context.Context, r *Request) (any, error) {
		return "ok", nil
	}, nil)
	_, err := q.Enqueue(&Request{ID: "a", Priority: PriorityNormal, ProviderID: "p1"})
	if err != nil {
		t.Fatalf("unexpected error on first enqueue: %v", err)
	}
	_, err = q.Enqueue(&Request{ID: "b", Priority: PriorityNormal, ProviderID: "p1"})
	if err == nil {
		t.Fatal("expected queue-full error on second enqueue")
	}
}

func TestInsert_PreservesDescendingPriorityOrder(t *testing.T) {
	q := New(Config{MaxSize: 10}, func(ctx context.Context, r *Request) (any, error) {
		return "ok", nil
	}, nil)
	q.items = nil
	q.insertLocked(&Request{ID: "low", Priority: PriorityLow})
	q.insertLocked(&Request{ID: "critical", Priority: PriorityCritical})
	q.insertLocked(&Request{ID: "normal", Priority: PriorityNormal})

	if q.items[0].ID != "critical" || q.items[1].ID != "normal" || q.items[2].ID != "low" {
		ids := []string{}
		for _, it := range q.items {
			ids = append(ids, it.ID)
		}
		t.Fatalf("expected [critical normal low], got %v", ids)
	}
}

func TestDispatch_PriorityStrategyPicksHighestPriorityWithCapacity(t *testing.T) {
	var dispatched []string
	q := New(Config{MaxSize: 10, Strategy: StrategyPriority, Concurrency: map[string]int{"p1": 1}},
		func(ctx context.Context, r *Request) (any, error) {
			dispatched = append(dispatched, r.ID)
			return "ok", nil
		}, nil)

	ch1, _ := q.Enqueue(&Request{ID: "low", Priority: PriorityLow, ProviderID: "p1"})
	ch2, _ := q.Enqueue(&Request{ID: "critical", Priority: PriorityCritical, ProviderID: "p1"})

	q.dispatchNext()
	waitForResult(t, ch2, time.Second)
	// capacity freed, dispatch the remaining one
	q.dispatchNext()
	waitForResult(t, ch1, time.Second)

	if len(dispatched) != 2 || dispatched[0] != "critical" {
		t.Fatalf("expected critical dispatched first, got %v", dispatched)
	}
}

func TestRun_RetriesOnFailureThenSucceeds(t *testing.T) {
	var attempts int32
	q := New(Config{MaxSize: 10, RetryDelayMs: 1, MaxRetries: 3},
		func(ctx context.Context, r *Request) (any, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		}, nil)

	// The retry is re-inserted into the queue, so the poller must be running
	// to dispatch it.
	q.Start()
	defer q.Stop()

	ch, err := q.Enqueue(&Request{ID: "r1", Priority: PriorityNormal, ProviderID: "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q.dispatchNext()
	res := waitForResult(t, ch, 2*time.Second)
	if res.Err != nil {
		t.Fatalf("expected eventual success, got %v", res.Err)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRun_FailsPermanentlyAfterMaxRetries(t *testing.T) {
	q := New(Config{MaxSize: 10, RetryDelayMs: 1, MaxRetries: 1},
		func(ctx context.Context, r *Request) (any, error) {
			return nil, errors.New("permanent")
		}, nil)

	ch, _ := q.Enqueue(&Request{ID: "r1", Priority: PriorityNormal, ProviderID: "p1"})
	q.dispatchNext()
	res := waitForResult(t, ch, time.Second)
	if res.Err == nil {
		t.Fatal("expected final error after exhausting retries")
	}
}

func TestRetryDelayMs_ExponentialBackoff(t *testing.T) {
	m := Metadata{RetryCount: 0}
	if got := m.RetryDelayMs(200); got != 200 {
		t.Fatalf("expected base delay 200 for first attempt, got %d", got)
	}
	m.RetryCount = 1
	if got := m.RetryDelayMs(200); got != 200 {
		t.Fatalf("expected 200*2^0=200, got %d", got)
	}
	m.RetryCount = 3
	if got := m.RetryDelayMs(200); got != 800 {
		t.Fatalf("expected 200*2^2=800, got %d", got)
	}
}

func TestStats_ReflectsQueueAndActiveState(t *testing.T) {
	block := make(chan struct{})
	q := New(Config{MaxSize: 10, Concurrency: map[string]int{"p1": 2}},
		func(ctx context.Context, r *Request) (any, error) {
			<-block
			return "ok", nil
		}, nil)

	_, _ = q.Enqueue(&Request{ID: "a", Priority: PriorityHigh, ProviderID: "p1"})
	q.dispatchNext()

	stats := q.Stats()
	if stats.ActiveByProvider["p1"] != 1 {
		t.Fatalf("expected 1 active for p1, got %d", stats.ActiveByProvider["p1"])
	}
	close(block)
}

func TestSelectLeastLoaded_PrefersFewerActive(t *testing.T) {
	q := New(Config{MaxSize: 10, Strategy: StrategyLeastLoaded, Concurrency: map[string]int{"busy": 5, "idle": 5}},
		func(ctx context.Context, r *Request) (any, error) { return "ok", nil }, nil)
	q.active["busy"] = map[string]struct{}{"x": {}, "y": {}}
	q.items = []*Request{
		{ID: "for-busy", Priority: PriorityNormal, ProviderID: "busy"},
		{ID: "for-idle", Priority: PriorityNormal, ProviderID: "idle"},
	}
	idx := q.selectLeastLoadedLocked()
	if q.items[idx].ID != "for-idle" {
		t.Fatalf("expected least-loaded to pick idle provider's request, got %s", q.items[idx].ID)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaycore/relaycore/internal/cachemanager"
	"github.com/relaycore/relaycore/internal/priorityqueue"
	"github.com/relaycore/relaycore/internal/rcerrors"
	"github.com/relaycore/relaycore/internal/router"
	"github.com/relaycore/relaycore/internal/semanticcache"
	"github.com/relaycore/relaycore/internal/stats"
	"github.com/relaycore/relaycore/internal/steering"
)

// fakeSender is a minimal router.Sender for pipeline tests.
type fakeSender struct {
	id   string
	body json.RawMessage
	err  error

	mu    sync.Mutex
	calls int
}

func (f *fakeSender) ID() string { return f.id }

func (f *fakeSender) Send(ctx context.Context, model string, req router.Request) (router.ProviderResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func (f *fakeSender) ClassifyError(err error) *router.ClassifiedError {
	return &router.ClassifiedError{Err: err, Class: router.ErrFatal}
}

func defaultOnlyEngine() *steering.Engine {
	return steering.NewEngine(&steering.Config{
		Rules: []steering.Rule{{
			Name:   "default",
			Action: steering.Action{Provider: "openai", Model: "gpt-3.5-turbo"},
		}},
	})
}

func testRequest() Request {
	return Request{
		ID:       "req-1",
		UserID:   "user-1",
		Messages: []Message{{Role: "user", Content: "hello there"}},
	}
}

func TestHandleDispatchSuccess(t *testing.T) {
	sender := &fakeSender{id: "openai", body: json.RawMessage(`{"ok":true}`)}
	p := New(Deps{
		Steering: defaultOnlyEngine(),
		Adapters: map[string]router.Sender{"openai": sender},
	}, priorityqueue.Config{})
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := p.Handle(ctx, testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderID != "openai" {
		t.Errorf("expected provider openai, got %q", resp.ProviderID)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", resp.Body)
	}
	if resp.CacheHit {
		t.Error("expected a miss, not a cache hit")
	}
	sender.mu.Lock()
	calls := sender.calls
	sender.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected exactly one adapter call, got %d", calls)
	}
}

func TestHandleDispatchFailureNoFailover(t *testing.T) {
	sender := &fakeSender{id: "openai", err: errors.New("boom")}
	p := New(Deps{
		Steering: defaultOnlyEngine(),
		Adapters: map[string]router.Sender{"openai": sender},
	}, priorityqueue.Config{MaxRetries: 1})
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := p.Handle(ctx, testRequest())
	if err == nil {
		t.Fatal("expected an error when the sole adapter fails")
	}
}

func TestHandleCacheHitSkipsDispatch(t *testing.T) {
	sender := &fakeSender{id: "openai", body: json.RawMessage(`{"fresh":true}`)}
	cache := semanticcache.New(semanticcache.LocalEmbedder{})

	prompt := "hello there"
	if err := cache.Store(context.Background(), "openai", "gpt-3.5-turbo", "cached-1", prompt, json.RawMessage(`{"cached":true}`), nil); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	p := New(Deps{
		Steering: defaultOnlyEngine(),
		Cache:    cache,
		Adapters: map[string]router.Sender{"openai": sender},
	}, priorityqueue.Config{})
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := p.Handle(ctx, testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.CacheHit {
		t.Fatal("expected a cache hit")
	}
	if string(resp.Body) != `{"cached":true}` {
		t.Errorf("expected cached body, got %s", resp.Body)
	}
	sender.mu.Lock()
	calls := sender.calls
	sender.mu.Unlock()
	if calls != 0 {
		t.Errorf("expected the adapter not to be called on a cache hit, got %d calls", calls)
	}
}

func TestHandleContextCancelled(t *testing.T) {
	sender := &fakeSender{id: "openai", body: json.RawMessage(`{}`)}
	p := New(Deps{
		Steering: defaultOnlyEngine(),
		Adapters: map[string]router.Sender{"openai": sender},
	}, priorityqueue.Config{})
	// Deliberately not started: nothing will ever drain the queue, so Handle
	// must return once ctx is done rather than block forever.

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Handle(ctx, testRequest())
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	kind, ok := rcerrors.KindOf(err)
	if !ok || kind != rcerrors.Cancelled {
		t.Errorf("expected rcerrors.Cancelled, got %v (ok=%v)", kind, ok)
	}
}

func TestQueueEnqueueRejectsOverCapacity(t *testing.T) {
	p := New(Deps{Steering: defaultOnlyEngine()}, priorityqueue.Config{MaxSize: 1})
	// Not started: items accumulate without being drained.

	if _, err := p.queue.Enqueue(&priorityqueue.Request{ID: "a", ProviderID: "openai"}); err != nil {
		t.Fatalf("first enqueue should succeed: %v", err)
	}
	_, err := p.queue.Enqueue(&priorityqueue.Request{ID: "b", ProviderID: "openai"})
	if err == nil {
		t.Fatal("expected the second enqueue to fail once the queue is at capacity")
	}
	if kind, ok := rcerrors.KindOf(err); !ok || kind != rcerrors.QueueFull {
		t.Errorf("expected rcerrors.QueueFull, got %v (ok=%v)", kind, ok)
	}
}

func TestProviderForModelFallsBackToSteeringDecision(t *testing.T) {
	modelProviders := map[string]string{"gpt-4": "openai"}
	if got := providerForModel(modelProviders, "anthropic", "claude-3-haiku"); got != "anthropic" {
		t.Errorf("expected fallback to steering provider, got %q", got)
	}
	if got := providerForModel(modelProviders, "anthropic", "gpt-4"); got != "openai" {
		t.Errorf("expected explicit mapping to win, got %q", got)
	}
}

func TestHandleExactCacheHitSkipsDispatchAndSemanticCache(t *testing.T) {
	sender := &fakeSender{id: "openai", body: json.RawMessage(`{"fresh":true}`)}
	semantic := semanticcache.New(semanticcache.LocalEmbedder{})
	l1 := cachemanager.New(nil, time.Minute)
	defer l1.Stop()

	p := New(Deps{
		Steering: defaultOnlyEngine(),
		Cache:    semantic,
		L1:       l1,
		Adapters: map[string]router.Sender{"openai": sender},
	}, priorityqueue.Config{})
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := l1Key("openai", "gpt-3.5-turbo", "hello there")
	if err := l1.Set(ctx, key, json.RawMessage(`{"exact":true}`), 0); err != nil {
		t.Fatalf("seeding L1: %v", err)
	}

	resp, err := p.Handle(ctx, testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.CacheHit {
		t.Fatal("expected a cache hit")
	}
	if string(resp.Body) != `{"exact":true}` {
		t.Errorf("expected exact-match body, got %s", resp.Body)
	}
	sender.mu.Lock()
	calls := sender.calls
	sender.mu.Unlock()
	if calls != 0 {
		t.Errorf("expected no adapter calls on an L1 hit, got %d", calls)
	}
}

func TestHandleRecordsStatsSnapshot(t *testing.T) {
	sender := &fakeSender{id: "openai", body: json.RawMessage(`{"ok":true}`)}
	collector := stats.NewCollector()
	p := New(Deps{
		Steering: defaultOnlyEngine(),
		Stats:    collector,
		Adapters: map[string]router.Sender{"openai": sender},
	}, priorityqueue.Config{})
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := p.Handle(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if collector.SnapshotCount() != 1 {
		t.Errorf("expected exactly one recorded snapshot, got %d", collector.SnapshotCount())
	}
}

func TestJoinMessages(t *testing.T) {
	got := joinMessages([]Message{{Content: "a"}, {Content: "b"}})
	if got != "a\nb" {
		t.Errorf("expected %q, got %q", "a\nb", got)
	}
}

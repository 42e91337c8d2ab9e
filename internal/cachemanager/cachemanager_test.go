package cachemanager

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeRemote) Keys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.data))
	for k := range f.data {
		out = append(out, k)
	}
	return out, nil
}

func TestManager_SetThenGetLocalHit(t *testing.T) {
	m := New(nil, time.Minute)
	defer m.Stop()
	ctx := context.Background()

	if err := m.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok := m.Get(ctx, "k1")
	if !ok || string(v) != "v1" {
		t.Fatalf("expected local hit v1, got %q ok=%v", v, ok)
	}
	if m.Stats().Hits != 1 {
		t.Fatalf("expected 1 hit recorded, got %d", m.Stats().Hits)
	}
}

func TestManager_RemoteFallbackPopulatesLocal(t *testing.T) {
	remote := newFakeRemote()
	remote.data["k2"] = []byte("from-remote")
	m := New(remote, time.Minute)
	defer m.Stop()
	ctx := context.Background()

	v, ok := m.Get(ctx, "k2")
	if !ok || string(v) != "from-remote" {
		t.Fatalf("expected remote-backed hit, got %q ok=%v", v, ok)
	}

	// Second read should be served locally even if the remote store empties.
	remote.mu.Lock()
	remote.data = map[string][]byte{}
	remote.mu.Unlock()
	v2, ok2 := m.Get(ctx, "k2")
	if !ok2 || string(v2) != "from-remote" {
		t.Fatal("expected local-populated entry to serve the second read")
	}
}

func TestManager_RemoteErrorDegradesToMiss(t *testing.T) {
	remote := newFakeRemote()
	remote.err = context.DeadlineExceeded
	m := New(remote, time.Minute)
	defer m.Stop()

	_, ok := m.Get(context.Background(), "missing")
	if ok {
		t.Fatal("expected a remote error to degrade to a cache miss, not propagate")
	}
	if m.Stats().Misses != 1 {
		t.Fatalf("expected 1 miss recorded, got %d", m.Stats().Misses)
	}
}

func TestManager_InvalidateMatchesGlobAcrossTiers(t *testing.T) {
	remote := newFakeRemote()
	m := New(remote, time.Minute)
	defer m.Stop()
	ctx := context.Background()

	_ = m.Set(ctx, "budget:u1", []byte("a"), 0)
	_ = m.Set(ctx, "budget:u2", []byte("b"), 0)
	_ = m.Set(ctx, "cache:x", []byte("c"), 0)

	if err := m.Invalidate(ctx, "budget:*"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if _, ok := m.Get(ctx, "budget:u1"); ok {
		t.Fatal("expected budget:u1 evicted")
	}
	if _, ok := m.Get(ctx, "budget:u2"); ok {
		t.Fatal("expected budget:u2 evicted")
	}
	if _, ok := m.Get(ctx, "cache:x"); !ok {
		t.Fatal("expected cache:x to survive a non-matching invalidate pattern")
	}
}

func TestManager_ExpiredLocalEntryIsTreatedAsMiss(t *testing.T) {
	m := New(nil, time.Millisecond)
	defer m.Stop()
	ctx := context.Background()

	_ = m.Set(ctx, "k1", []byte("v1"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := m.Get(ctx, "k1"); ok {
		t.Fatal("expected expired local entry to be a miss")
	}
}

func TestManager_StatsReportsKeyCount(t *testing.T) {
	m := New(nil, time.Minute)
	defer m.Stop()
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("1"), 0)
	_ = m.Set(ctx, "b", []byte("22"), 0)

	stats := m.Stats()
	if stats.Keys != 2 {
		t.Fatalf("expected 2 keys, got %d", stats.Keys)
	}
	if stats.MemoryBytes <= 0 {
		t.Fatal("expected a positive memory estimate")
	}
}

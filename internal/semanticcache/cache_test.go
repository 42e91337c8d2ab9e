package semanticcache

import (
	"context"
	"testing"
)

// stubEmbedder returns a fixed vector per input string, letting tests
// control similarity directly instead of depending on the hash-derived
// LocalEmbedder's actual geometry.
type stubEmbedder struct {
	vectors map[string][]float64
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func TestCache_StoreThenLookupExactMatch(t *testing.T) {
	c := New(stubEmbedder{vectors: map[string][]float64{
		"hello": {1, 0, 0},
	}})
	ctx := context.Background()

	if err := c.Store(ctx, "openai", "gpt-4", "id1", "hello", []byte("world"), nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	entry, ok, err := c.Lookup(ctx, "openai", "gpt-4", "hello")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit for an identical embedding")
	}
	if string(entry.Response) != "world" {
		t.Fatalf("expected cached response, got %q", entry.Response)
	}
	if entry.HitCount != 1 {
		t.Fatalf("expected hit count 1, got %d", entry.HitCount)
	}
}

func TestCache_LookupMissBelowThreshold(t *testing.T) {
	c := New(stubEmbedder{vectors: map[string][]float64{
		"hello":   {1, 0, 0},
		"goodbye": {0, 1, 0}, // orthogonal: cosine similarity 0
	}})
	ctx := context.Background()

	if err := c.Store(ctx, "openai", "gpt-4", "id1", "hello", []byte("world"), nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	_, ok, err := c.Lookup(ctx, "openai", "gpt-4", "goodbye")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatal("expected a miss for an orthogonal embedding")
	}
}

func TestCache_BucketsAreIsolatedByProviderAndModel(t *testing.T) {
	c := New(stubEmbedder{vectors: map[string][]float64{"hello": {1, 0, 0}}})
	ctx := context.Background()

	if err := c.Store(ctx, "openai", "gpt-4", "id1", "hello", []byte("world"), nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	_, ok, err := c.Lookup(ctx, "anthropic", "claude-3-opus", "hello")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatal("expected a miss in an unrelated (provider, model) bucket")
	}
}

func TestCache_EvictsLRUBeyondMaxSize(t *testing.T) {
	c := New(stubEmbedder{vectors: map[string][]float64{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
		"c": {0, 0, 1},
	}}, WithMaxCacheSize(2))
	ctx := context.Background()

	if err := c.Store(ctx, "p", "m", "a", "a", []byte("A"), nil); err != nil {
		t.Fatalf("store a: %v", err)
	}
	if err := c.Store(ctx, "p", "m", "b", "b", []byte("B"), nil); err != nil {
		t.Fatalf("store b: %v", err)
	}
	if err := c.Store(ctx, "p", "m", "c", "c", []byte("C"), nil); err != nil {
		t.Fatalf("store c: %v", err)
	}

	// "a" was least recently used and should have been evicted.
	if _, ok, _ := c.Lookup(ctx, "p", "m", "a"); ok {
		t.Fatal("expected entry a to be evicted beyond maxCacheSize")
	}
	if _, ok, _ := c.Lookup(ctx, "p", "m", "c"); !ok {
		t.Fatal("expected entry c to still be cached")
	}
}

func TestCache_EmbeddingCacheReusesVectorForSameText(t *testing.T) {
	calls := 0
	embedder := countingEmbedder{inner: LocalEmbedder{}, calls: &calls}
	c := New(embedder)
	ctx := context.Background()

	if err := c.Store(ctx, "p", "m", "id1", "repeat me", []byte("x"), nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, _, err := c.Lookup(ctx, "p", "m", "repeat me"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the embedding cache to avoid a second Embed call, got %d calls", calls)
	}
}

type countingEmbedder struct {
	inner Embedder
	calls *int
}

func (c countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	*c.calls++
	return c.inner.Embed(ctx, text)
}

func TestLocalEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := LocalEmbedder{}
	v1, err := e.Embed(context.Background(), "some prompt text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	v2, err := e.Embed(context.Background(), "some prompt text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v1) != embeddingDims {
		t.Fatalf("expected %d dims, got %d", embeddingDims, len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("expected deterministic embedding, component %d differs: %f vs %f", i, v1[i], v2[i])
		}
		if v1[i] < -1 || v1[i] > 1 {
			t.Fatalf("expected component in [-1, 1], got %f", v1[i])
		}
	}
}

func TestLocalEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := LocalEmbedder{}
	v1, _ := e.Embed(context.Background(), "first text")
	v2, _ := e.Embed(context.Background(), "second text")
	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected different input text to produce a different embedding")
	}
}

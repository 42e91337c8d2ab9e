package neuroweaver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestClient_PostPerformanceFeedbackDeliversBody(t *testing.T) {
	var mu sync.Mutex
	var got PerformanceFeedback
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.PostPerformanceFeedback(context.Background(), PerformanceFeedback{ModelID: "gpt-4", Accuracy: 0.9, LatencyMs: 120, Throughput: 5, Cost: 0.01})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async feedback post")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.ModelID != "gpt-4" {
		t.Fatalf("expected model gpt-4 delivered, got %q", got.ModelID)
	}
}

func TestClient_PostPerformanceFeedbackSwallowsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	// Must not panic or block despite the server error; there's no error
	// return to check because the call is fire-and-forget.
	c.PostPerformanceFeedback(context.Background(), PerformanceFeedback{ModelID: "gpt-4"})
	time.Sleep(50 * time.Millisecond)
}

func TestClient_GetModelHealthReturnsDecodedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ModelHealth{ModelID: "gpt-4", Healthy: true, ErrorRate: 0.01, LatencyMs: 80})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	health, err := c.GetModelHealth(context.Background(), "gpt-4")
	if err != nil {
		t.Fatalf("get model health: %v", err)
	}
	if !health.Healthy || health.ModelID != "gpt-4" {
		t.Fatalf("unexpected health response: %+v", health)
	}
}

func TestClient_GetModelHealthReturnsErrorOnNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	if _, err := c.GetModelHealth(context.Background(), "gpt-4"); err == nil {
		t.Fatal("expected an error for a non-200 health response")
	}
}

func TestClient_PutModelThresholdsDeliversBody(t *testing.T) {
	var mu sync.Mutex
	var got ModelThresholds
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.PutModelThresholds(context.Background(), "gpt-4", ModelThresholds{MaxLatencyMs: 500, MaxErrorRate: 0.05, MinThroughput: 1})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async threshold put")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.MaxLatencyMs != 500 {
		t.Fatalf("expected thresholds delivered, got %+v", got)
	}
}

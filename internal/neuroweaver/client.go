// Package neuroweaver implements the outbound-only, fire-and-forget client
// to an external NeuroWeaver service: performance feedback and model-switch
// notifications are posted off the pipeline's hot path, and a failure is
// logged rather than propagated to the caller.
package neuroweaver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaycore/relaycore/internal/providers"
)

// SwitchType identifies how a model switch should be applied.
type SwitchType string

const (
	SwitchImmediate SwitchType = "immediate"
	SwitchGradual   SwitchType = "gradual"
)

// PerformanceFeedback is posted after a request completes.
type PerformanceFeedback struct {
	ModelID    string  `json:"modelId"`
	Accuracy   float64 `json:"accuracy"`
	LatencyMs  float64 `json:"latencyMs"`
	Throughput float64 `json:"throughput"`
	Cost       float64 `json:"cost"`
}

// ModelSwitch requests (or reports) a model substitution.
type ModelSwitch struct {
	CurrentModel string     `json:"currentModel"`
	TargetModel  string     `json:"targetModel,omitempty"`
	Reason       string     `json:"reason"`
	SwitchType   SwitchType `json:"switchType"`
}

// ModelHealth is the response shape of a model health query.
type ModelHealth struct {
	ModelID   string  `json:"modelId"`
	Healthy   bool    `json:"healthy"`
	ErrorRate float64 `json:"errorRate"`
	LatencyMs float64 `json:"latencyMs"`
}

// ModelThresholds configures per-model alerting thresholds.
type ModelThresholds struct {
	MaxLatencyMs  float64 `json:"maxLatencyMs"`
	MaxErrorRate  float64 `json:"maxErrorRate"`
	MinThroughput float64 `json:"minThroughput"`
}

// Client talks to a NeuroWeaver endpoint. Every outbound call is
// best-effort: errors are logged and swallowed, never returned to the
// pipeline's request path.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

// New builds a Client with a bounded request timeout.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		Logger:  logger,
	}
}

// PostPerformanceFeedback fires a feedback report asynchronously; the
// caller does not block on delivery or its outcome.
func (c *Client) PostPerformanceFeedback(ctx context.Context, fb PerformanceFeedback) {
	go func() {
		reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := providers.DoRequest(reqCtx, c.HTTP, c.BaseURL+"/v1/feedback", fb, nil); err != nil {
			c.Logger.Warn("neuroweaver feedback post failed", "model", fb.ModelID, "error", err)
		}
	}()
}

// PostModelSwitch fires a model-switch notification asynchronously.
func (c *Client) PostModelSwitch(ctx context.Context, sw ModelSwitch) {
	go func() {
		reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := providers.DoRequest(reqCtx, c.HTTP, c.BaseURL+"/v1/model-switch", sw, nil); err != nil {
			c.Logger.Warn("neuroweaver model switch post failed", "current", sw.CurrentModel, "target", sw.TargetModel, "error", err)
		}
	}()
}

// GetModelHealth queries current health for modelID. Unlike the POST
// notifications this is a synchronous read for callers that need the
// answer; a failure returns an error rather than being silently swallowed.
func (c *Client) GetModelHealth(ctx context.Context, modelID string) (*ModelHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/models/"+modelID+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &providers.StatusError{StatusCode: resp.StatusCode}
	}
	var health ModelHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

// PutModelThresholds updates alerting thresholds for modelID. This, too, is
// fire-and-forget: a caller configuring thresholds does not need to block
// on the update landing before continuing.
func (c *Client) PutModelThresholds(ctx context.Context, modelID string, thresholds ModelThresholds) {
	go func() {
		reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		body, err := json.Marshal(thresholds)
		if err != nil {
			c.Logger.Warn("neuroweaver threshold marshal failed", "model", modelID, "error", err)
			return
		}
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, c.BaseURL+"/v1/models/"+modelID+"/thresholds", bytes.NewReader(body))
		if err != nil {
			c.Logger.Warn("neuroweaver threshold request build failed", "model", modelID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.HTTP.Do(req)
		if err != nil {
			c.Logger.Warn("neuroweaver threshold put failed", "model", modelID, "error", err)
			return
		}
		_ = resp.Body.Close()
	}()
}

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/relaycore/internal/budget"
	"github.com/relaycore/relaycore/internal/circuitbreaker"
	"github.com/relaycore/relaycore/internal/costpredict"
	"github.com/relaycore/relaycore/internal/dispatch"
	"github.com/relaycore/relaycore/internal/events"
	"github.com/relaycore/relaycore/internal/neuroweaver"
	"github.com/relaycore/relaycore/internal/priorityqueue"
	"github.com/relaycore/relaycore/internal/rcerrors"
	"github.com/relaycore/relaycore/internal/router"
	"github.com/relaycore/relaycore/internal/stats"
	"github.com/relaycore/relaycore/internal/steering"
)

// defaultRemainingBudget is the optimizeModelSelection threshold used when no
// budget is configured for a user/team/project, so cost optimization still
// has a meaningful denominator instead of treating every request as
// unconstrained.
const defaultRemainingBudget = 1000.0

// Pipeline is the single request-handling path: Decide → check budget →
// optimize model → enforce constraints → cache lookup → enqueue → dispatch
// with failover → record outcome.
type Pipeline struct {
	deps         Deps
	queue        *priorityqueue.Queue
	retryDelayMs int

	mu          sync.Mutex
	dailySpend  float64
	windowStart time.Time
}

// New builds a Pipeline and its internal priority queue. Call Start before
// routing any requests and Stop during shutdown.
func New(deps Deps, qcfg priorityqueue.Config) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	retryDelayMs := qcfg.RetryDelayMs
	if retryDelayMs <= 0 {
		retryDelayMs = 200
	}
	p := &Pipeline{deps: deps, windowStart: time.Now(), retryDelayMs: retryDelayMs}
	p.queue = priorityqueue.New(qcfg, p.dispatch, deps.Bus)
	return p
}

// SetDispatch installs the Temporal-backed durable dispatch path. It exists
// because the dispatch.Manager's activity is backed by Attempt, a method on
// this Pipeline, so the manager can only be built after the Pipeline is;
// call it before Start if the durable path should be used from the outset.
func (p *Pipeline) SetDispatch(m *dispatch.Manager) { p.deps.Dispatch = m }

// Start launches the queue's dispatch poller.
func (p *Pipeline) Start() { p.queue.Start() }

// Stop terminates the queue's dispatch poller.
func (p *Pipeline) Stop() { p.queue.Stop() }

// QueueStats exposes the underlying queue's observability snapshot.
func (p *Pipeline) QueueStats() priorityqueue.Stats { return p.queue.Stats() }

// ReportMetrics pushes a point-in-time queue snapshot into the metrics
// registry. Callers (typically the transport's periodic reporter) should
// invoke this on a short interval; the queue itself has no metrics timer.
func (p *Pipeline) ReportMetrics() {
	if p.deps.Metrics == nil {
		return
	}
	stats := p.queue.Stats()
	for _, pr := range []priorityqueue.Priority{
		priorityqueue.PriorityCritical, priorityqueue.PriorityHigh,
		priorityqueue.PriorityNormal, priorityqueue.PriorityLow, priorityqueue.PriorityBackground,
	} {
		p.deps.Metrics.QueueDepth.WithLabelValues(priorityLabel(pr)).Set(float64(stats.QueueSizeByPriority[pr]))
	}
	p.deps.Metrics.QueueWaitMs.Set(float64(stats.AverageWaitTime.Milliseconds()))
}

// Handle routes a single request through steering, budget, cost prediction,
// the semantic cache, and finally the priority queue, blocking until a
// result is available or ctx is done.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Response, error) {
	prompt := joinMessages(req.Messages)

	decision := p.deps.Steering.Decide(steering.Request{
		ID:             req.ID,
		UserID:         req.UserID,
		TeamID:         req.TeamID,
		ProjectID:      req.ProjectID,
		SystemSource:   req.SystemSource,
		Messages:       steeringMessages(req.Messages),
		RequestedModel: req.RequestedModel,
		MaxTokens:      req.MaxTokens,
		ProfileID:      req.ProfileID,
		CostPref:       req.CostPref,
		Prompt:         prompt,
	}, req.ProfileID, p.spendBook())

	remaining := defaultRemainingBudget
	if p.deps.Budget != nil {
		if status, err := p.deps.Budget.CheckBudget(ctx, req.UserID, decision.EstimatedCost); err == nil && status != nil {
			remaining = status.Remaining
			p.reportBudgetGauges(req.UserID, status)
		}
	}

	modelID := decision.ModelID
	estimatedCost := decision.EstimatedCost
	if p.deps.Predictor != nil {
		pred, err := p.deps.Predictor.OptimizeModelSelection(ctx, costpredict.Request{
			Model:           decision.ModelID,
			TotalInputChars: len(prompt),
			MaxTokens:       req.MaxTokens,
		}, remaining)
		if err == nil {
			if pred.RecommendedModel != "" {
				modelID = pred.RecommendedModel
			}
			estimatedCost = pred.EstimatedCost
		}
	}

	if p.deps.Ledger != nil {
		result := p.deps.Ledger.CheckRequestConstraints(ctx, req.UserID, req.TeamID, req.ProjectID, estimatedCost)
		if !result.CanProceed {
			var reasons []string
			for _, c := range result.Checks {
				if !c.CanProceed {
					reasons = append(reasons, c.Reason)
				}
			}
			p.publish(events.EventBudgetExceeded, "", modelID, 0, 0, strings.Join(reasons, "; "))
			return nil, rcerrors.New(rcerrors.BudgetExceeded, strings.Join(reasons, "; "))
		}
	}

	providerID := providerForModel(p.deps.ModelProviders, decision.ProviderID, modelID)

	cacheKey := l1Key(providerID, modelID, prompt)
	if p.deps.L1 != nil {
		if body, hit := p.deps.L1.Get(ctx, cacheKey); hit {
			p.metricCacheResult("exact", true)
			return &Response{
				RequestID:  req.ID,
				ProviderID: providerID,
				ModelID:    modelID,
				Body:       body,
				CostUSD:    0,
				CacheHit:   true,
				Decision:   decision,
			}, nil
		}
		p.metricCacheResult("exact", false)
	}

	if p.deps.Cache != nil {
		if entry, hit, err := p.deps.Cache.Lookup(ctx, providerID, modelID, prompt); err == nil && hit {
			p.metricCacheResult("semantic", true)
			return &Response{
				RequestID:  req.ID,
				ProviderID: providerID,
				ModelID:    modelID,
				Body:       entry.Response,
				CostUSD:    0,
				CacheHit:   true,
				Decision:   decision,
			}, nil
		}
		p.metricCacheResult("semantic", false)
	}

	start := time.Now()
	payload := dispatchPayload{
		providerID: providerID,
		modelID:    modelID,
		routerReq:  buildRouterRequest(req, modelID),
	}
	qreq := &priorityqueue.Request{
		ID:         req.ID,
		Priority:   priorityOrDefault(req.Priority),
		ProviderID: providerID,
		Payload:    payload,
		Metadata:   priorityqueue.Metadata{UserID: req.UserID},
	}

	resultCh, err := p.queue.Enqueue(qreq)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			failLatency := float64(time.Since(start).Milliseconds())
			p.publish(events.EventRouteError, providerID, modelID, failLatency, 0, res.Err.Error())
			if p.deps.Stats != nil {
				p.deps.Stats.Record(stats.Snapshot{
					Timestamp:  time.Now().UTC(),
					ModelID:    modelID,
					ProviderID: providerID,
					LatencyMs:  failLatency,
					Success:    false,
				})
			}
			return nil, res.Err
		}
		body, _ := res.Value.([]byte)
		latencyMs := float64(time.Since(start).Milliseconds())

		p.recordUsage(ctx, req, modelID, estimatedCost)
		if p.deps.Predictor != nil {
			p.deps.Predictor.UpdateModel(modelID, estimatedCost, estimatedCost, estimateResponseTokens(body))
		}
		if p.deps.Cache != nil {
			_ = p.deps.Cache.Store(ctx, providerID, modelID, req.ID, prompt, body, nil)
		}
		if p.deps.L1 != nil {
			_ = p.deps.L1.Set(ctx, cacheKey, body, 0)
		}
		if p.deps.Stats != nil {
			p.deps.Stats.Record(stats.Snapshot{
				Timestamp:  time.Now().UTC(),
				ModelID:    modelID,
				ProviderID: providerID,
				LatencyMs:  latencyMs,
				CostUSD:    estimatedCost,
				Success:    true,
			})
		}
		if p.deps.Feedback != nil {
			p.deps.Feedback.PostPerformanceFeedback(ctx, neuroweaver.PerformanceFeedback{
				ModelID:   modelID,
				LatencyMs: latencyMs,
				Cost:      estimatedCost,
			})
		}
		p.publish(events.EventRouteSuccess, providerID, modelID, latencyMs, estimatedCost, decision.Reason)

		return &Response{
			RequestID:  req.ID,
			ProviderID: providerID,
			ModelID:    modelID,
			Body:       body,
			CostUSD:    estimatedCost,
			LatencyMs:  latencyMs,
			Decision:   decision,
		}, nil
	case <-ctx.Done():
		return nil, rcerrors.Wrap(rcerrors.Cancelled, "request cancelled", ctx.Err())
	}
}

// dispatch implements priorityqueue.Dispatcher. When deps.Dispatch is set it
// runs the attempt (and its activity retries) on the Temporal-backed durable
// path; otherwise it calls Attempt directly. Either way an error is returned
// to the priority queue, whose in-process retry loop handles it.
func (p *Pipeline) dispatch(ctx context.Context, qreq *priorityqueue.Request) (any, error) {
	payload, ok := qreq.Payload.(dispatchPayload)
	if !ok {
		return nil, rcerrors.New(rcerrors.ProviderFailure, "dispatch payload has unexpected type")
	}

	in := dispatch.AttemptInput{
		RequestID:  qreq.ID,
		ProviderID: payload.providerID,
		ModelID:    payload.modelID,
		Request:    payload.routerReq,
	}

	if p.deps.Dispatch != nil {
		out, err := p.deps.Dispatch.Dispatch(ctx, dispatch.DispatchInput{
			Attempt:      in,
			MaxAttempts:  int32(qreq.Metadata.MaxRetries),
			RetryDelayMs: int32(p.retryDelayMs),
		})
		if err != nil {
			return nil, err
		}
		return []byte(out.Body), nil
	}

	out, err := p.Attempt(ctx, in)
	if err != nil {
		return nil, err
	}
	return []byte(out.Body), nil
}

// Attempt runs the candidate-ranked, circuit-breaker-wrapped failover logic
// for a single dispatch attempt and returns the winning provider's raw
// response body. Exported so it can be wired as the backing activity
// function for internal/dispatch's durable Temporal path (see
// cmd/relaycore's Temporal-enabled startup path); it is also the in-process
// fallback dispatch calls directly when that path is disabled.
func (p *Pipeline) Attempt(ctx context.Context, in dispatch.AttemptInput) (dispatch.AttemptOutput, error) {
	var mu sync.Mutex
	bodies := make(map[string][]byte)

	makeOp := func(providerID string) circuitbreaker.ProviderOp {
		return func(ctx context.Context) error {
			adapter, ok := p.deps.Adapters[providerID]
			if !ok {
				return rcerrors.New(rcerrors.ProviderFailure, "no adapter registered for provider "+providerID)
			}
			reqStart := time.Now()
			resp, err := adapter.Send(ctx, in.ModelID, in.Request)
			latencyMs := float64(time.Since(reqStart).Milliseconds())
			if err != nil {
				if p.deps.Health != nil {
					p.deps.Health.RecordError(providerID, err.Error())
				}
				return err
			}
			if p.deps.Health != nil {
				p.deps.Health.RecordSuccess(providerID, latencyMs)
			}
			mu.Lock()
			bodies[providerID] = []byte(resp)
			mu.Unlock()
			return nil
		}
	}

	if p.deps.Breakers == nil {
		if err := makeOp(in.ProviderID)(ctx); err != nil {
			return dispatch.AttemptOutput{}, err
		}
		return dispatch.AttemptOutput{Body: bodies[in.ProviderID]}, nil
	}

	candidates := p.failoverCandidates(in.ProviderID)
	ops := map[string]circuitbreaker.ProviderOp{in.ProviderID: makeOp(in.ProviderID)}
	for _, c := range candidates {
		if _, exists := ops[c.ProviderID]; !exists {
			ops[c.ProviderID] = makeOp(c.ProviderID)
		}
	}

	winner, err := p.deps.Breakers.ExecuteWithFailover(ctx, in.ProviderID, ops[in.ProviderID], candidates, ops)
	if err != nil {
		return dispatch.AttemptOutput{}, err
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.BreakerState.WithLabelValues(winner).Set(float64(p.deps.Breakers.BreakerFor(winner).CurrentState()))
	}

	mu.Lock()
	body := bodies[winner]
	mu.Unlock()
	return dispatch.AttemptOutput{Body: body}, nil
}

// failoverCandidates builds the candidate list ExecuteWithFailover ranks,
// scoring each by its current health-tracker error rate (lower is better).
func (p *Pipeline) failoverCandidates(primary string) []circuitbreaker.Candidate {
	ids := p.deps.FailoverOrder[primary]
	candidates := make([]circuitbreaker.Candidate, 0, len(ids))
	for i, id := range ids {
		score := 1.0
		if p.deps.Health != nil {
			score = 1.0 - p.deps.Health.GetErrorRate(id)
		}
		candidates = append(candidates, circuitbreaker.Candidate{ProviderID: id, Priority: i + 1, HealthScore: score})
	}
	return candidates
}

// spendBook returns the current 24h window's daily spend, rolling the
// window over once it has aged out.
func (p *Pipeline) spendBook() steering.SpendBook {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.windowStart) > 24*time.Hour {
		p.dailySpend = 0
		p.windowStart = time.Now()
	}
	return steering.SpendBook{DailySpendUSD: p.dailySpend, WindowStart: p.windowStart}
}

func (p *Pipeline) addSpend(cost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dailySpend += cost
}

func (p *Pipeline) recordUsage(ctx context.Context, req Request, modelID string, cost float64) {
	p.addSpend(cost)
	now := time.Now().UTC()
	if p.deps.Ledger != nil {
		p.deps.Ledger.RecordRequestUsage(ctx, req.ID, req.UserID, req.TeamID, req.ProjectID, modelID, cost, "USD", now)
	}
	if p.deps.Budget != nil {
		p.deps.Budget.RecordSpend(modelID, cost, now)
	}
}

func (p *Pipeline) reportBudgetGauges(userID string, status *budget.StatusInfo) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.BudgetStatus.WithLabelValues("user", userID).Set(budgetStatusValue(status.Status))
	p.deps.Metrics.BudgetRemaining.WithLabelValues("user", userID).Set(status.Remaining)
}

func (p *Pipeline) publish(typ events.EventType, providerID, modelID string, latencyMs, costUSD float64, reason string) {
	if p.deps.Bus == nil {
		return
	}
	p.deps.Bus.Publish(events.Event{
		Type:       typ,
		ProviderID: providerID,
		ModelID:    modelID,
		LatencyMs:  latencyMs,
		CostUSD:    costUSD,
		Reason:     reason,
	})
}

func (p *Pipeline) metricCacheResult(tier string, hit bool) {
	if p.deps.Metrics == nil {
		return
	}
	if hit {
		p.deps.Metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	} else {
		p.deps.Metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

func budgetStatusValue(s budget.Status) float64 {
	switch s {
	case budget.StatusWarning:
		return 1
	case budget.StatusCritical:
		return 2
	case budget.StatusExceeded:
		return 3
	default:
		return 0
	}
}

func priorityLabel(pr priorityqueue.Priority) string {
	switch pr {
	case priorityqueue.PriorityCritical:
		return "critical"
	case priorityqueue.PriorityHigh:
		return "high"
	case priorityqueue.PriorityNormal:
		return "normal"
	case priorityqueue.PriorityLow:
		return "low"
	case priorityqueue.PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

func priorityOrDefault(pr priorityqueue.Priority) priorityqueue.Priority {
	if pr == 0 {
		return priorityqueue.PriorityNormal
	}
	return pr
}

func providerForModel(modelProviders map[string]string, steeringProviderID, model string) string {
	if id, ok := modelProviders[model]; ok && id != "" {
		return id
	}
	return steeringProviderID
}

// l1Key derives the exact-match cache key for a (provider, model, prompt)
// triple. Unlike semanticcache, this tier has no notion of similarity, so a
// plain SHA-256 digest is enough to dedupe identical prompts.
func l1Key(providerID, modelID, prompt string) string {
	sum := sha256.Sum256([]byte(providerID + "|" + modelID + "|" + prompt))
	return hex.EncodeToString(sum[:])
}

func joinMessages(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

func steeringMessages(msgs []Message) []steering.Message {
	out := make([]steering.Message, len(msgs))
	for i, m := range msgs {
		out[i] = steering.Message{Role: m.Role, Text: m.Content}
	}
	return out
}

func buildRouterRequest(req Request, model string) router.Request {
	messages := make([]router.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = router.Message{Role: m.Role, Content: m.Content}
	}
	return router.Request{
		ID:         req.ID,
		Messages:   messages,
		ModelHint:  model,
		Parameters: req.Parameters,
	}
}

// estimateResponseTokens approximates token count from raw response bytes
// using the same chars-per-token=4 heuristic costpredict uses for prompts.
func estimateResponseTokens(body []byte) int {
	if len(body) == 0 {
		return 1
	}
	n := len(body) / 4
	if n <= 0 {
		n = 1
	}
	return n
}

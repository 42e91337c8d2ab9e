package costpredict

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// modelState is a Predictor's per-model rolling EMA-of-actual-cost plus its
// 7-day error history for confidence.
type modelState struct {
	emaPerToken float64
	hasEMA      bool
	errors      []errorSample
}

// Predictor implements predictCost/optimizeModelSelection/updateModel. It
// holds no store dependency: the EMA and confidence windows are process-local,
// matching the pipeline's hot-path latency budget — actual-cost samples are
// pushed in by the caller after a request completes.
type Predictor struct {
	mu     sync.Mutex
	states map[string]*modelState
}

// NewPredictor builds an empty Predictor; every model starts on the static
// price table until its first updateModel call.
func NewPredictor() *Predictor {
	return &Predictor{states: make(map[string]*modelState)}
}

func estimateTokens(totalInputChars int) int {
	return int(math.Ceil(float64(totalInputChars) / 4.0))
}

func ratioFor(model string) float64 {
	for _, r := range outputRatio {
		if hasPrefix(model, r.prefix) {
			return r.ratio
		}
	}
	return defaultOutputRatio
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (p *Predictor) pricePerToken(model string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[model]; ok && st.hasEMA {
		return st.emaPerToken
	}
	if price, ok := staticPricePerToken[model]; ok {
		return price
	}
	return defaultPricePerToken
}

// PredictCost implements predictCost: tokens = ceil(totalInputChars/4),
// output tokens from MaxTokens or inputTokens*outputRatio(model), cost split
// 0.5x/1.5x of the blended per-token price, confidence from the rolling
// 7-day error mean (default 0.85 absent samples).
func (p *Predictor) PredictCost(ctx context.Context, req Request) (Prediction, error) {
	inputTokens := estimateTokens(req.TotalInputChars)
	outputTokens := req.MaxTokens
	if outputTokens <= 0 {
		outputTokens = int(math.Round(float64(inputTokens) * ratioFor(req.Model)))
	}

	perToken := p.pricePerToken(req.Model)
	inputCost := 0.5 * perToken * float64(inputTokens)
	outputCost := 1.5 * perToken * float64(outputTokens)
	estimatedCost := inputCost + outputCost

	confidence := p.confidenceFor(req.Model)
	alternatives := modelFamilyAlternatives[req.Model]

	return Prediction{
		EstimatedCost:     estimatedCost,
		Confidence:        confidence,
		RecommendedModel:  req.Model,
		AlternativeModels: append([]string(nil), alternatives...),
	}, nil
}

func (p *Predictor) confidenceFor(model string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[model]
	if !ok || len(st.errors) == 0 {
		return defaultConfidence
	}
	cutoff := time.Now().Add(-confidenceWindow)
	var sum float64
	var n int
	for _, e := range st.errors {
		if e.at.Before(cutoff) {
			continue
		}
		sum += 1 - e.errorFrac
		n++
	}
	if n == 0 {
		return defaultConfidence
	}
	return sum / float64(n)
}

// UpdateModel folds one actual-cost observation into the model's EMA
// (α=0.2) and appends an error sample (|actual-predicted|/actual) for the
// rolling 7-day confidence window, evicting samples older than the window.
func (p *Predictor) UpdateModel(model string, predictedCost, actualCost float64, tokens int) {
	if tokens <= 0 || actualCost <= 0 {
		return
	}
	actualPerToken := actualCost / float64(tokens)

	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[model]
	if !ok {
		st = &modelState{}
		p.states[model] = st
	}
	if !st.hasEMA {
		st.emaPerToken = actualPerToken
		st.hasEMA = true
	} else {
		st.emaPerToken = emaAlpha*actualPerToken + (1-emaAlpha)*st.emaPerToken
	}

	errFrac := math.Abs(actualCost-predictedCost) / actualCost
	now := time.Now()
	cutoff := now.Add(-confidenceWindow)
	kept := st.errors[:0]
	for _, e := range st.errors {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	st.errors = append(kept, errSample(now, errFrac))
}

func errSample(at time.Time, frac float64) errorSample {
	return errorSample{at: at, errorFrac: frac}
}

// OptimizeModelSelection implements optimizeModelSelection: if the predicted
// cost is within 10% of the remaining budget, keep the requested model; else
// pick the highest-performing alternative that fits; if none fit, pick the
// cheapest alternative (by predicted cost).
func (p *Predictor) OptimizeModelSelection(ctx context.Context, req Request, remainingBudget float64) (Prediction, error) {
	pred, err := p.PredictCost(ctx, req)
	if err != nil {
		return Prediction{}, err
	}
	threshold := 0.10 * remainingBudget
	if remainingBudget <= 0 || pred.EstimatedCost <= threshold {
		return pred, nil
	}

	type candidate struct {
		model string
		cost  float64
		perf  float64
	}
	var fitting []candidate
	var all []candidate
	for _, alt := range pred.AlternativeModels {
		altReq := req
		altReq.Model = alt
		altPred, err := p.PredictCost(ctx, altReq)
		if err != nil {
			continue
		}
		perf := modelPerformanceScore[alt]
		if perf == 0 {
			perf = defaultPerformanceScore
		}
		c := candidate{model: alt, cost: altPred.EstimatedCost, perf: perf}
		all = append(all, c)
		if altPred.EstimatedCost <= threshold {
			fitting = append(fitting, c)
		}
	}

	if len(fitting) > 0 {
		sort.Slice(fitting, func(i, j int) bool { return fitting[i].perf > fitting[j].perf })
		best := fitting[0]
		pred.RecommendedModel = best.model
		pred.EstimatedCost = best.cost
		return pred, nil
	}
	if len(all) > 0 {
		sort.Slice(all, func(i, j int) bool { return all[i].cost < all[j].cost })
		cheapest := all[0]
		pred.RecommendedModel = cheapest.model
		pred.EstimatedCost = cheapest.cost
		return pred, nil
	}
	return pred, nil
}

// EstimateCost satisfies budget.CostEstimator so the Manager can call the
// predictor without an import cycle between internal/budget and
// internal/costpredict.
func (p *Predictor) EstimateCost(ctx context.Context, requestedModel string, promptChars int, maxTokens int) (float64, string, error) {
	pred, err := p.PredictCost(ctx, Request{Model: requestedModel, TotalInputChars: promptChars, MaxTokens: maxTokens})
	if err != nil {
		return 0, "", err
	}
	return pred.EstimatedCost, pred.RecommendedModel, nil
}

package costpredict

import (
	"context"
	"testing"
)

func TestPredictCost_EstimatesTokensFromChars(t *testing.T) {
	p := NewPredictor()
	pred, err := p.PredictCost(context.Background(), Request{Model: "gpt-4", TotalInputChars: 400})
	if err != nil {
		t.Fatalf("predict cost: %v", err)
	}
	if pred.EstimatedCost <= 0 {
		t.Fatalf("expected positive estimated cost, got %f", pred.EstimatedCost)
	}
	if pred.Confidence != defaultConfidence {
		t.Fatalf("expected default confidence with no samples, got %f", pred.Confidence)
	}
	if pred.RecommendedModel != "gpt-4" {
		t.Fatalf("expected recommended model to default to requested model, got %s", pred.RecommendedModel)
	}
}

func TestPredictCost_UsesMaxTokensWhenSet(t *testing.T) {
	p := NewPredictor()
	withMax, err := p.PredictCost(context.Background(), Request{Model: "gpt-4", TotalInputChars: 400, MaxTokens: 50})
	if err != nil {
		t.Fatalf("predict cost: %v", err)
	}
	withoutMax, err := p.PredictCost(context.Background(), Request{Model: "gpt-4", TotalInputChars: 400})
	if err != nil {
		t.Fatalf("predict cost: %v", err)
	}
	if withMax.EstimatedCost == withoutMax.EstimatedCost {
		t.Fatal("expected MaxTokens override to change the output token estimate")
	}
}

func TestPredictCost_FallsBackToDefaultPriceForUnknownModel(t *testing.T) {
	p := NewPredictor()
	pred, err := p.PredictCost(context.Background(), Request{Model: "some-new-model", TotalInputChars: 400})
	if err != nil {
		t.Fatalf("predict cost: %v", err)
	}
	if pred.EstimatedCost <= 0 {
		t.Fatal("expected a positive cost from the default price table fallback")
	}
}

func TestUpdateModel_EMAConverges(t *testing.T) {
	p := NewPredictor()
	model := "gpt-4"
	// Feed a stable actual per-token price far from the static table so the
	// EMA has clearly moved after repeated updates.
	for i := 0; i < 50; i++ {
		p.UpdateModel(model, 1.0, 2.0, 1000) // actual = $0.002/token
	}
	price := p.pricePerToken(model)
	if price < 0.0015 || price > 0.0025 {
		t.Fatalf("expected EMA to converge near $0.002/token, got %f", price)
	}
}

func TestUpdateModel_ConfidenceReflectsPredictionAccuracy(t *testing.T) {
	p := NewPredictor()
	model := "gpt-4"
	// Near-perfect predictions should push confidence toward 1.
	for i := 0; i < 10; i++ {
		p.UpdateModel(model, 1.0, 1.01, 1000)
	}
	conf := p.confidenceFor(model)
	if conf < 0.9 {
		t.Fatalf("expected high confidence for accurate predictions, got %f", conf)
	}
}

func TestOptimizeModelSelection_KeepsRequestedModelWithinTenPercent(t *testing.T) {
	p := NewPredictor()
	pred, err := p.OptimizeModelSelection(context.Background(), Request{Model: "gpt-3.5-turbo", TotalInputChars: 400}, 1000)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if pred.RecommendedModel != "gpt-3.5-turbo" {
		t.Fatalf("expected requested model kept when cost is well under 10%% of remaining budget, got %s", pred.RecommendedModel)
	}
}

func TestOptimizeModelSelection_SubstitutesWhenOverThreshold(t *testing.T) {
	p := NewPredictor()
	// gpt-4 at a large input size against a tiny remaining budget should push
	// past the 10% threshold and force a substitution.
	pred, err := p.OptimizeModelSelection(context.Background(), Request{Model: "gpt-4", TotalInputChars: 20000}, 0.01)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if pred.RecommendedModel == "gpt-4" {
		t.Fatal("expected a cheaper alternative to be recommended over an expensive model with a tiny budget")
	}
}

func TestOptimizeModelSelection_NoAlternativesReturnsOriginal(t *testing.T) {
	p := NewPredictor()
	pred, err := p.OptimizeModelSelection(context.Background(), Request{Model: "claude-3-haiku", TotalInputChars: 20000}, 0.0001)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if pred.RecommendedModel != "claude-3-haiku" {
		t.Fatalf("expected the model with no configured alternatives to be kept, got %s", pred.RecommendedModel)
	}
}

func TestEstimateCost_SatisfiesBudgetCostEstimatorShape(t *testing.T) {
	p := NewPredictor()
	cost, model, err := p.EstimateCost(context.Background(), "gpt-4", 400, 0)
	if err != nil {
		t.Fatalf("estimate cost: %v", err)
	}
	if cost <= 0 {
		t.Fatal("expected positive cost")
	}
	if model != "gpt-4" {
		t.Fatalf("expected recommended model gpt-4, got %s", model)
	}
}

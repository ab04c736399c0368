package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/dkellerman/chainpilot/internal/config"
	"github.com/dkellerman/chainpilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSize:        100,
		MaxDailyLoss:           500,
		MinConfidenceThreshold: 0.7,
		AIConfidenceThreshold:  0.7,
		Weights: map[string]float64{
			string(domain.StrategyMomentum):      0.6,
			string(domain.StrategyMeanReversion): 0.5,
			string(domain.StrategyLPArbitrage):   0.4,
			string(domain.StrategyAIDriven):      0.7,
		},
	}
}

func testSignal(confidence float64) domain.TradingSignal {
	now := time.Now().UTC()
	return domain.TradingSignal{
		ID:             "sig-1",
		Symbol:         "WETH-USDC",
		Strategy:       domain.StrategyMomentum,
		Action:         domain.ActionBuy,
		TargetPrice:    2500,
		Quantity:       10,
		BaseConfidence: confidence,
		CreatedAt:      now,
		ExpiresAt:      now.Add(5 * time.Second),
	}
}

func TestEvaluateConfidenceThreshold(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		wantErr    error
	}{
		{"below threshold", 0.69, domain.ErrLowConfidence},
		{"at threshold", 0.7, nil},
		{"above threshold", 0.95, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(testRiskConfig(), testLogger())
			approved, err := m.Evaluate(context.Background(), testSignal(tt.confidence))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Evaluate() error = %v, want %v", err, tt.wantErr)
				}
				if approved != nil {
					t.Fatal("rejected signal must not produce an approval")
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate() unexpected error: %v", err)
			}
			if approved.ApprovedQuantity != 10 {
				t.Fatalf("ApprovedQuantity = %v, want 10", approved.ApprovedQuantity)
			}
		})
	}
}

func TestEvaluateAIVeto(t *testing.T) {
	tests := []struct {
		name         string
		aiConfidence float64
		wantErr      error
	}{
		{"ai below threshold vetoes", 0.5, domain.ErrLowAIConfidence},
		{"ai at threshold passes", 0.7, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(testRiskConfig(), testLogger())
			sig := testSignal(0.9)
			sig.Strategy = domain.StrategyAIDriven
			sig.AIDecision = &domain.AIDecision{
				Action:     domain.ActionBuy,
				Confidence: tt.aiConfidence,
			}
			_, err := m.Evaluate(context.Background(), sig)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Evaluate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Evaluate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// A high AI confidence must not rescue a signal whose own confidence is below
// the minimum: the checks are conjunctive.
func TestEvaluateAICannotRescue(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	sig := testSignal(0.5)
	sig.AIDecision = &domain.AIDecision{Action: domain.ActionBuy, Confidence: 0.99}

	_, err := m.Evaluate(context.Background(), sig)
	if !errors.Is(err, domain.ErrLowConfidence) {
		t.Fatalf("Evaluate() error = %v, want ErrLowConfidence", err)
	}
}

func TestEvaluatePositionClamp(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())

	// Fill 95 of the 100-unit limit.
	m.RecordResult(domain.ExecutionResult{
		SignalID:         "prior",
		Symbol:           "WETH-USDC",
		Status:           domain.ExecutionConfirmed,
		ExecutedQuantity: 95,
		ExecutedPrice:    2500,
	}, domain.ActionBuy, 2500)

	approved, err := m.Evaluate(context.Background(), testSignal(0.9))
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if approved.ApprovedQuantity != 5 {
		t.Fatalf("ApprovedQuantity = %v, want clamped to 5", approved.ApprovedQuantity)
	}
	if approved.ApprovalReason != "approved_clamped" {
		t.Fatalf("ApprovalReason = %q, want approved_clamped", approved.ApprovalReason)
	}
}

func TestEvaluatePositionLimitRejects(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	m.RecordResult(domain.ExecutionResult{
		SignalID:         "prior",
		Symbol:           "WETH-USDC",
		Status:           domain.ExecutionConfirmed,
		ExecutedQuantity: 100,
		ExecutedPrice:    2500,
	}, domain.ActionBuy, 2500)

	_, err := m.Evaluate(context.Background(), testSignal(0.9))
	if !errors.Is(err, domain.ErrPositionLimit) {
		t.Fatalf("Evaluate() error = %v, want ErrPositionLimit", err)
	}
}

// The daily-loss boundary is inclusive: loss exactly at the limit trips the
// breaker and rejects further trades.
func TestDailyLossBoundaryInclusive(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())

	var tripped bool
	m.OnCircuitBreaker(func(loss, limit float64) { tripped = true })

	// A confirmed buy filled 50 above target on 10 units realizes a 500 loss,
	// exactly the limit.
	m.RecordResult(domain.ExecutionResult{
		SignalID:         "loser",
		Symbol:           "WETH-USDC",
		Status:           domain.ExecutionConfirmed,
		ExecutedQuantity: 10,
		ExecutedPrice:    2550,
	}, domain.ActionBuy, 2500)

	if !tripped {
		t.Fatal("breaker should trip when loss reaches the limit exactly")
	}
	if got := m.DailyLoss(); got != 500 {
		t.Fatalf("DailyLoss() = %v, want 500", got)
	}

	_, err := m.Evaluate(context.Background(), testSignal(0.9))
	if !errors.Is(err, domain.ErrDailyLossLimit) {
		t.Fatalf("Evaluate() error = %v, want ErrDailyLossLimit", err)
	}
}

func TestDailyLossResetsAtUTCMidnight(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())

	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day }

	m.RecordResult(domain.ExecutionResult{
		SignalID:         "loser",
		Symbol:           "WETH-USDC",
		Status:           domain.ExecutionConfirmed,
		ExecutedQuantity: 10,
		ExecutedPrice:    2600,
	}, domain.ActionBuy, 2500)

	if !m.Tripped() {
		t.Fatal("breaker should be tripped")
	}

	// Next UTC day: breaker and loss tally reset, positions carry over.
	m.now = func() time.Time { return day.Add(24 * time.Hour) }
	if m.Tripped() {
		t.Fatal("breaker should reset after UTC midnight")
	}
	if got := m.DailyLoss(); got != 0 {
		t.Fatalf("DailyLoss() = %v after reset, want 0", got)
	}
	if _, err := m.Evaluate(context.Background(), testSignal(0.9)); err != nil {
		t.Fatalf("Evaluate() after reset: %v", err)
	}
}

// Evaluation must not mutate risk state: evaluating the same signal twice
// yields the same decision.
func TestEvaluateIdempotent(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	sig := testSignal(0.9)

	first, err := m.Evaluate(context.Background(), sig)
	if err != nil {
		t.Fatalf("first Evaluate(): %v", err)
	}
	second, err := m.Evaluate(context.Background(), sig)
	if err != nil {
		t.Fatalf("second Evaluate(): %v", err)
	}
	if first.ApprovedQuantity != second.ApprovedQuantity || first.RiskScore != second.RiskScore {
		t.Fatalf("evaluation mutated state: first=%+v second=%+v", first, second)
	}
}

func TestEvaluateMissingWeight(t *testing.T) {
	cfg := testRiskConfig()
	delete(cfg.Weights, string(domain.StrategyMomentum))
	m := NewManager(cfg, testLogger())

	_, err := m.Evaluate(context.Background(), testSignal(0.9))
	if !errors.Is(err, domain.ErrInvalidSignal) {
		t.Fatalf("Evaluate() error = %v, want ErrInvalidSignal for missing weight", err)
	}
}

func TestRiskScoreBlendsAIConfidence(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())

	plain := testSignal(0.8)
	withAI := testSignal(0.8)
	withAI.AIDecision = &domain.AIDecision{Action: domain.ActionBuy, Confidence: 1.0}

	a, err := m.Evaluate(context.Background(), plain)
	if err != nil {
		t.Fatalf("Evaluate(plain): %v", err)
	}
	// Flat market, empty book: confidence 0.8 × momentum weight 0.6.
	if want := 0.8 * 0.6; math.Abs(a.RiskScore-want) > 1e-9 {
		t.Fatalf("RiskScore = %v, want %v", a.RiskScore, want)
	}

	b, err := m.Evaluate(context.Background(), withAI)
	if err != nil {
		t.Fatalf("Evaluate(withAI): %v", err)
	}
	if b.RiskScore <= a.RiskScore {
		t.Fatalf("AI-backed score %v should exceed plain score %v", b.RiskScore, a.RiskScore)
	}
}

// A symbol consuming half its position limit scores half as well as an empty
// book, all else equal.
func TestRiskScoreDiscountsConcentration(t *testing.T) {
	empty := NewManager(testRiskConfig(), testLogger())
	loaded := NewManager(testRiskConfig(), testLogger())
	loaded.RecordResult(domain.ExecutionResult{
		SignalID:         "prior",
		Symbol:           "WETH-USDC",
		Status:           domain.ExecutionConfirmed,
		ExecutedQuantity: 50,
		ExecutedPrice:    2500,
	}, domain.ActionBuy, 2500)

	a, err := empty.Evaluate(context.Background(), testSignal(0.8))
	if err != nil {
		t.Fatalf("Evaluate(empty book): %v", err)
	}
	b, err := loaded.Evaluate(context.Background(), testSignal(0.8))
	if err != nil {
		t.Fatalf("Evaluate(loaded book): %v", err)
	}
	if want := a.RiskScore * 0.5; math.Abs(b.RiskScore-want) > 1e-9 {
		t.Fatalf("concentrated score = %v, want %v (half of %v)", b.RiskScore, want, a.RiskScore)
	}
}

func TestRiskScoreDiscountsVolatility(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())

	calm := testSignal(0.8)
	choppy := testSignal(0.8)
	choppy.Market.Volatility = 0.5

	a, err := m.Evaluate(context.Background(), calm)
	if err != nil {
		t.Fatalf("Evaluate(calm): %v", err)
	}
	b, err := m.Evaluate(context.Background(), choppy)
	if err != nil {
		t.Fatalf("Evaluate(choppy): %v", err)
	}
	if want := a.RiskScore * 0.5; math.Abs(b.RiskScore-want) > 1e-9 {
		t.Fatalf("volatile score = %v, want %v (half of %v)", b.RiskScore, want, a.RiskScore)
	}
}

func TestPortfolioSnapshotIsReadOnly(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	m.RecordResult(domain.ExecutionResult{
		SignalID:         "prior",
		Symbol:           "WETH-USDC",
		Status:           domain.ExecutionConfirmed,
		ExecutedQuantity: 10,
		ExecutedPrice:    2510,
	}, domain.ActionBuy, 2500)

	snap := m.Portfolio()
	if snap.PositionSize["WETH-USDC"] != 10 {
		t.Fatalf("PositionSize = %v, want 10", snap.PositionSize["WETH-USDC"])
	}
	if snap.DailyLossSoFar != 100 {
		t.Fatalf("DailyLossSoFar = %v, want 100", snap.DailyLossSoFar)
	}

	// Mutating the snapshot must not leak back into tracked state.
	snap.PositionSize["WETH-USDC"] = 0
	if got := m.Portfolio().PositionSize["WETH-USDC"]; got != 10 {
		t.Fatalf("tracked position = %v after snapshot mutation, want 10", got)
	}
}

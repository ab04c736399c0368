package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dkellerman/chainpilot/internal/ai"
	"github.com/dkellerman/chainpilot/internal/config"
	"github.com/dkellerman/chainpilot/internal/domain"
	"github.com/dkellerman/chainpilot/internal/venue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecConfig() config.ExecutorConfig {
	cfg := config.ExecutorConfig{
		Workers:          1,
		MaxAttempts:      3,
		PaperSlippageBps: 10,
		FeeBps:           5,
	}
	cfg.ExecutionTimeout.Duration = 500 * time.Millisecond
	cfg.BackoffBase.Duration = time.Millisecond
	cfg.DedupTTL.Duration = time.Minute
	return cfg
}

func testWalletKeys() map[string]WalletKeys {
	return map[string]WalletKeys{
		"main": {Address: "paper:main"},
	}
}

func testRouted(id string) domain.RoutedSignal {
	now := time.Now().UTC()
	return domain.RoutedSignal{
		Approved: domain.ApprovedSignal{
			Signal: domain.TradingSignal{
				ID:             id,
				Symbol:         "WETH-USDC",
				Strategy:       domain.StrategyMomentum,
				Action:         domain.ActionBuy,
				TargetPrice:    2500,
				Quantity:       2,
				BaseConfidence: 0.9,
				Market: domain.MarketContext{
					Price:      2501,
					Volume:     42_000,
					Volatility: 0.02,
					Trend:      0.01,
				},
				CreatedAt: now,
				ExpiresAt: now.Add(5 * time.Second),
			},
			ApprovedQuantity: 2,
			RiskScore:        0.5,
			ApprovedAt:       now,
		},
		WalletID:         "main",
		AllocatedCapital: 5000,
		RoutedAt:         now,
	}
}

// faultyVenue wraps the simulator and injects failures for the first n
// submissions.
type faultyVenue struct {
	*venue.Simulator
	failures int
	err      error
	calls    int
}

func (f *faultyVenue) Submit(ctx context.Context, tx venue.SignedTx) (domain.SubmitReceipt, error) {
	f.calls++
	if f.calls <= f.failures {
		return domain.SubmitReceipt{}, f.err
	}
	return f.Simulator.Submit(ctx, tx)
}

func (f *faultyVenue) SupportsBundles() bool { return false }

func TestExecutePaperConfirms(t *testing.T) {
	sim := venue.NewSimulator(10, 5)
	e := New(testExecConfig(), domain.ModePaper, sim, nil, 0, nil, 0, testWalletKeys(), testLogger())

	result := e.Execute(context.Background(), testRouted("sig-paper"))
	if result.Status != domain.ExecutionConfirmed {
		t.Fatalf("Status = %s (%s), want confirmed", result.Status, result.ErrorMessage)
	}
	if result.Mode != domain.ModePaper {
		t.Fatalf("Mode = %s, want paper", result.Mode)
	}
	if result.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", result.Attempts)
	}
	if result.ExecutedQuantity != 2 {
		t.Fatalf("ExecutedQuantity = %v, want 2", result.ExecutedQuantity)
	}
	// Buys fill above the limit by the configured slippage: 2500 * 10 bps.
	if want := 2502.5; result.ExecutedPrice != want {
		t.Fatalf("ExecutedPrice = %v, want %v", result.ExecutedPrice, want)
	}
	if result.AIAssisted {
		t.Fatal("AIAssisted should be false without a gateway")
	}
}

func TestExecuteRetriesTransientFaults(t *testing.T) {
	fv := &faultyVenue{
		Simulator: venue.NewSimulator(10, 5),
		failures:  2,
		err:       fmt.Errorf("%w: congestion", domain.ErrVenueUnavailable),
	}
	e := New(testExecConfig(), domain.ModePaper, fv, nil, 0, nil, 0, testWalletKeys(), testLogger())

	result := e.Execute(context.Background(), testRouted("sig-retry"))
	if result.Status != domain.ExecutionConfirmed {
		t.Fatalf("Status = %s (%s), want confirmed after retries", result.Status, result.ErrorMessage)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestExecuteTerminalFaultNoRetry(t *testing.T) {
	fv := &faultyVenue{
		Simulator: venue.NewSimulator(10, 5),
		failures:  10,
		err:       fmt.Errorf("%w: bad sig", domain.ErrInvalidSignature),
	}
	e := New(testExecConfig(), domain.ModePaper, fv, nil, 0, nil, 0, testWalletKeys(), testLogger())

	result := e.Execute(context.Background(), testRouted("sig-terminal"))
	if result.Status != domain.ExecutionFailed {
		t.Fatalf("Status = %s, want failed", result.Status)
	}
	if result.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1 (terminal faults never retry)", result.Attempts)
	}
}

func TestExecuteExhaustedRetriesFails(t *testing.T) {
	fv := &faultyVenue{
		Simulator: venue.NewSimulator(10, 5),
		failures:  10,
		err:       fmt.Errorf("%w: congestion", domain.ErrVenueUnavailable),
	}
	e := New(testExecConfig(), domain.ModePaper, fv, nil, 0, nil, 0, testWalletKeys(), testLogger())

	result := e.Execute(context.Background(), testRouted("sig-exhaust"))
	if result.Status != domain.ExecutionFailed {
		t.Fatalf("Status = %s, want failed after exhausting attempts", result.Status)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestExecuteTimesOutUnderBudget(t *testing.T) {
	cfg := testExecConfig()
	cfg.ExecutionTimeout.Duration = 5 * time.Millisecond
	cfg.BackoffBase.Duration = 50 * time.Millisecond

	fv := &faultyVenue{
		Simulator: venue.NewSimulator(10, 5),
		failures:  10,
		err:       fmt.Errorf("%w: congestion", domain.ErrVenueUnavailable),
	}
	e := New(cfg, domain.ModePaper, fv, nil, 0, nil, 0, testWalletKeys(), testLogger())

	result := e.Execute(context.Background(), testRouted("sig-timeout"))
	if result.Status != domain.ExecutionTimedOut {
		t.Fatalf("Status = %s, want timed_out", result.Status)
	}
}

func TestExecuteDeduplicates(t *testing.T) {
	sim := venue.NewSimulator(10, 5)
	e := New(testExecConfig(), domain.ModePaper, sim, nil, 0, nil, 0, testWalletKeys(), testLogger())

	first := e.Execute(context.Background(), testRouted("sig-dup"))
	if first.Status != domain.ExecutionConfirmed {
		t.Fatalf("first Status = %s, want confirmed", first.Status)
	}
	second := e.Execute(context.Background(), testRouted("sig-dup"))
	if second.Status != domain.ExecutionFailed {
		t.Fatalf("second Status = %s, want failed (duplicate)", second.Status)
	}
	if second.ErrorMessage != "duplicate signal" {
		t.Fatalf("ErrorMessage = %q, want duplicate signal", second.ErrorMessage)
	}
}

// slowGateway blocks until its context expires.
type slowGateway struct{}

func (slowGateway) Decide(ctx context.Context, req ai.DecisionRequest) (*domain.AIDecision, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExecuteAITimeoutDegrades(t *testing.T) {
	sim := venue.NewSimulator(10, 5)
	e := New(testExecConfig(), domain.ModePaper, sim, slowGateway{}, 5*time.Millisecond, nil, 0, testWalletKeys(), testLogger())

	result := e.Execute(context.Background(), testRouted("sig-ai-slow"))
	if result.Status != domain.ExecutionConfirmed {
		t.Fatalf("Status = %s (%s), want confirmed despite AI timeout", result.Status, result.ErrorMessage)
	}
	if result.AIAssisted {
		t.Fatal("AIAssisted should be false when the gateway times out")
	}
}

// captureGateway records the request it receives.
type captureGateway struct {
	req ai.DecisionRequest
}

func (g *captureGateway) Decide(ctx context.Context, req ai.DecisionRequest) (*domain.AIDecision, error) {
	g.req = req
	return &domain.AIDecision{
		Action:     domain.ActionBuy,
		Confidence: 0.9,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// The consult must carry the market context the signal was generated against.
func TestConsultCarriesMarketContext(t *testing.T) {
	sim := venue.NewSimulator(10, 5)
	gw := &captureGateway{}
	e := New(testExecConfig(), domain.ModePaper, sim, gw, 50*time.Millisecond, nil, 0, testWalletKeys(), testLogger())

	result := e.Execute(context.Background(), testRouted("sig-ai-context"))
	if result.Status != domain.ExecutionConfirmed {
		t.Fatalf("Status = %s (%s), want confirmed", result.Status, result.ErrorMessage)
	}

	want := ai.MarketSnapshot{Price: 2501, Volume: 42_000, Volatility: 0.02, Trend: 0.01}
	if gw.req.MarketSnapshot != want {
		t.Fatalf("MarketSnapshot = %+v, want %+v", gw.req.MarketSnapshot, want)
	}
	if gw.req.Symbol != "WETH-USDC" {
		t.Fatalf("Symbol = %s, want WETH-USDC", gw.req.Symbol)
	}
}

// shrinkGateway recommends a smaller quantity.
type shrinkGateway struct{ quantity float64 }

func (g shrinkGateway) Decide(ctx context.Context, req ai.DecisionRequest) (*domain.AIDecision, error) {
	return &domain.AIDecision{
		Action:            domain.ActionBuy,
		Confidence:        0.9,
		RecommendedParams: map[string]float64{"quantity": g.quantity},
		ReceivedAt:        time.Now().UTC(),
	}, nil
}

func TestExecuteAIAdjustsQuantityDownOnly(t *testing.T) {
	tests := []struct {
		name        string
		recommended float64
		wantQty     float64
	}{
		{"smaller recommendation shrinks the order", 1, 1},
		{"larger recommendation is ignored", 50, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := venue.NewSimulator(10, 5)
			e := New(testExecConfig(), domain.ModePaper, sim, shrinkGateway{tt.recommended}, 50*time.Millisecond, nil, 0, testWalletKeys(), testLogger())

			result := e.Execute(context.Background(), testRouted("sig-ai-"+tt.name))
			if result.Status != domain.ExecutionConfirmed {
				t.Fatalf("Status = %s (%s), want confirmed", result.Status, result.ErrorMessage)
			}
			if !result.AIAssisted {
				t.Fatal("AIAssisted should be true")
			}
			if result.ExecutedQuantity != tt.wantQty {
				t.Fatalf("ExecutedQuantity = %v, want %v", result.ExecutedQuantity, tt.wantQty)
			}
		})
	}
}

func TestExecuteExpiredSignalFails(t *testing.T) {
	sim := venue.NewSimulator(10, 5)
	e := New(testExecConfig(), domain.ModePaper, sim, nil, 0, nil, 0, testWalletKeys(), testLogger())

	routed := testRouted("sig-expired")
	routed.Approved.Signal.ExpiresAt = time.Now().UTC().Add(-time.Second)

	result := e.Execute(context.Background(), routed)
	if result.Status != domain.ExecutionFailed {
		t.Fatalf("Status = %s, want failed for expired signal", result.Status)
	}
}

func TestDedupCacheTTL(t *testing.T) {
	d := newDedupCache(time.Minute)
	now := time.Now()

	if d.markSeen("a", now) {
		t.Fatal("first sighting reported as duplicate")
	}
	if !d.markSeen("a", now.Add(30*time.Second)) {
		t.Fatal("second sighting inside TTL not reported as duplicate")
	}
	if d.markSeen("a", now.Add(2*time.Minute)) {
		t.Fatal("sighting after TTL expiry reported as duplicate")
	}
}

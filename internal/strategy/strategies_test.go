package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

func testConfig() Config {
	return Config{
		OrderSize:     10,
		WindowSize:    4,
		SignalTTL:     5 * time.Second,
		MomentumMin:   0.002,
		ReversionBand: 0.015,
		MinEdgeBps:    30,
	}
}

func warmTracker(t *testing.T, tr *Tracker, symbol string, prices ...float64) {
	t.Helper()
	for _, p := range prices {
		tr.Observe(symbol, p)
	}
}

func TestMomentumFollowsTrend(t *testing.T) {
	tests := []struct {
		name       string
		trend      float64
		wantAction domain.Action
		wantSignal bool
	}{
		{"strong up trend buys", 0.01, domain.ActionBuy, true},
		{"strong down trend sells", -0.01, domain.ActionSell, true},
		{"flat trend holds", 0.0005, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(4)
			warmTracker(t, tr, "WETH-USDC", 2500, 2501, 2502, 2503)
			m := NewMomentum(testConfig(), tr, testLogger())

			sig, err := m.GenerateSignal(context.Background(), domain.MarketEvent{
				Symbol:    "WETH-USDC",
				Price:     2503,
				Liquidity: 1_000_000,
				Trend:     tt.trend,
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				t.Fatalf("GenerateSignal(): %v", err)
			}
			if !tt.wantSignal {
				if sig != nil {
					t.Fatalf("expected no signal, got %+v", sig)
				}
				return
			}
			if sig == nil {
				t.Fatal("expected a signal, got nil")
			}
			if sig.Action != tt.wantAction {
				t.Fatalf("Action = %s, want %s", sig.Action, tt.wantAction)
			}
			if sig.BaseConfidence < 0 || sig.BaseConfidence > 1 {
				t.Fatalf("BaseConfidence = %v, outside [0,1]", sig.BaseConfidence)
			}
		})
	}
}

func TestMomentumRequiresWarmWindow(t *testing.T) {
	tr := NewTracker(4)
	tr.Observe("WETH-USDC", 2500) // one observation, window not full
	m := NewMomentum(testConfig(), tr, testLogger())

	sig, err := m.GenerateSignal(context.Background(), domain.MarketEvent{
		Symbol: "WETH-USDC", Price: 2500, Trend: 0.05, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("GenerateSignal(): %v", err)
	}
	if sig != nil {
		t.Fatal("cold window must not emit signals")
	}
}

func TestMeanReversionFadesDeviation(t *testing.T) {
	tr := NewTracker(4)
	warmTracker(t, tr, "WETH-USDC", 2500, 2500, 2500, 2500)
	m := NewMeanReversion(testConfig(), tr, testLogger())

	// Price 3% above the mean: sell the stretch.
	sig, err := m.GenerateSignal(context.Background(), domain.MarketEvent{
		Symbol: "WETH-USDC", Price: 2575, Liquidity: 1_000_000, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("GenerateSignal(): %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.Action != domain.ActionSell {
		t.Fatalf("Action = %s, want sell", sig.Action)
	}
	if sig.TargetPrice != 2500 {
		t.Fatalf("TargetPrice = %v, want the window mean 2500", sig.TargetPrice)
	}

	// Inside the band: no trade.
	sig, err = m.GenerateSignal(context.Background(), domain.MarketEvent{
		Symbol: "WETH-USDC", Price: 2510, Liquidity: 1_000_000, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("GenerateSignal(): %v", err)
	}
	if sig != nil {
		t.Fatalf("in-band price emitted a signal: %+v", sig)
	}
}

func TestLPArbitrageSkipsIlliquidPools(t *testing.T) {
	tr := NewTracker(4)
	warmTracker(t, tr, "WETH-USDC", 2500, 2500, 2500, 2500)
	l := NewLPArbitrage(testConfig(), tr, testLogger())

	sig, err := l.GenerateSignal(context.Background(), domain.MarketEvent{
		Symbol: "WETH-USDC", Price: 2700, Liquidity: 0, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("GenerateSignal(): %v", err)
	}
	if sig != nil {
		t.Fatal("zero-liquidity pool must not produce an arbitrage signal")
	}
}

func TestLPArbitrageRequiresNetEdge(t *testing.T) {
	tr := NewTracker(4)
	warmTracker(t, tr, "WETH-USDC", 2500, 2500, 2500, 2500)
	l := NewLPArbitrage(testConfig(), tr, testLogger())

	// 4% above fair value in a deep pool clears the 30 bps minimum edge.
	sig, err := l.GenerateSignal(context.Background(), domain.MarketEvent{
		Symbol: "WETH-USDC", Price: 2600, Liquidity: 100_000_000, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("GenerateSignal(): %v", err)
	}
	if sig == nil {
		t.Fatal("expected an arbitrage signal")
	}
	if sig.Action != domain.ActionSell {
		t.Fatalf("Action = %s, want sell (pool priced above fair value)", sig.Action)
	}

	// A few bps of edge is eaten by the minimum: no trade.
	sig, err = l.GenerateSignal(context.Background(), domain.MarketEvent{
		Symbol: "WETH-USDC", Price: 2502, Liquidity: 100_000_000, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("GenerateSignal(): %v", err)
	}
	if sig != nil {
		t.Fatalf("sub-threshold edge emitted a signal: %+v", sig)
	}
}

// Signals must carry the market state they were generated against so risk
// scoring and the AI consult see what the strategy saw.
func TestSignalsCarryMarketContext(t *testing.T) {
	tr := NewTracker(4)
	warmTracker(t, tr, "WETH-USDC", 2500, 2501, 2502, 2503)
	m := NewMomentum(testConfig(), tr, testLogger())

	event := domain.MarketEvent{
		Symbol:     "WETH-USDC",
		Price:      2503,
		Volume:     42_000,
		Liquidity:  1_000_000,
		Trend:      0.01,
		Volatility: 0.02,
		Timestamp:  time.Now().UTC(),
	}
	sig, err := m.GenerateSignal(context.Background(), event)
	if err != nil {
		t.Fatalf("GenerateSignal(): %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal")
	}
	want := domain.MarketContext{Price: 2503, Volume: 42_000, Volatility: 0.02, Trend: 0.01}
	if sig.Market != want {
		t.Fatalf("Market = %+v, want %+v", sig.Market, want)
	}
}

// When the feed omits volatility, the signal falls back to the window's
// stddev relative to its mean.
func TestMarketContextDerivesVolatilityFromWindow(t *testing.T) {
	tr := NewTracker(4)
	warmTracker(t, tr, "WETH-USDC", 2500, 2500, 2500, 2500)
	m := NewMomentum(testConfig(), tr, testLogger())

	sig, err := m.GenerateSignal(context.Background(), domain.MarketEvent{
		Symbol: "WETH-USDC", Price: 2500, Liquidity: 1_000_000,
		Trend: 0.01, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("GenerateSignal(): %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal")
	}
	// Constant prices: window stddev is zero.
	if sig.Market.Volatility != 0 {
		t.Fatalf("Volatility = %v, want 0 from a flat window", sig.Market.Volatility)
	}
}

func TestTrackerWindowStats(t *testing.T) {
	tr := NewTracker(3)

	stats := tr.Observe("X", 10)
	if stats.Ready {
		t.Fatal("window should not be ready after one observation")
	}
	tr.Observe("X", 20)
	stats = tr.Observe("X", 30)
	if !stats.Ready {
		t.Fatal("window should be ready when full")
	}
	if stats.Mean != 20 {
		t.Fatalf("Mean = %v, want 20", stats.Mean)
	}

	// Ring behavior: the oldest price falls out.
	stats = tr.Observe("X", 40)
	if stats.Mean != 30 {
		t.Fatalf("Mean after eviction = %v, want 30", stats.Mean)
	}
}

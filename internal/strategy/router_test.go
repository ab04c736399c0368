package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubStrategy emits a fixed signal for every event.
type stubStrategy struct {
	typ domain.StrategyType
	sig *domain.TradingSignal
}

func (s *stubStrategy) Type() domain.StrategyType { return s.typ }

func (s *stubStrategy) GenerateSignal(ctx context.Context, event domain.MarketEvent) (*domain.TradingSignal, error) {
	return s.sig, nil
}

func stubSignal(id string, typ domain.StrategyType, createdAt time.Time) *domain.TradingSignal {
	return &domain.TradingSignal{
		ID:             id,
		Symbol:         "WETH-USDC",
		Strategy:       typ,
		Action:         domain.ActionBuy,
		TargetPrice:    2500,
		Quantity:       1,
		BaseConfidence: 0.8,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(5 * time.Second),
	}
}

func testEvent(ts time.Time) domain.MarketEvent {
	return domain.MarketEvent{
		Symbol:    "WETH-USDC",
		Price:     2500,
		Liquidity: 1_000_000,
		Timestamp: ts,
	}
}

func TestRouteMergeOrder(t *testing.T) {
	now := time.Now().UTC()
	earlier := now.Add(-time.Millisecond)

	reg := NewRegistry()
	// Registered with the older signal on the lower-priority strategy: the
	// timestamp must win over priority.
	mustRegister(t, reg, &stubStrategy{domain.StrategyMomentum, stubSignal("newer", domain.StrategyMomentum, now)})
	mustRegister(t, reg, &stubStrategy{domain.StrategyMeanReversion, stubSignal("older", domain.StrategyMeanReversion, earlier)})

	r := NewRouter(reg, NewTracker(4), time.Minute, testLogger())
	signals, err := r.Route(context.Background(), testEvent(now))
	if err != nil {
		t.Fatalf("Route(): %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("len(signals) = %d, want 2", len(signals))
	}
	if signals[0].ID != "older" || signals[1].ID != "newer" {
		t.Fatalf("merge order = [%s %s], want [older newer]", signals[0].ID, signals[1].ID)
	}
}

func TestRouteTieBreakByPriority(t *testing.T) {
	now := time.Now().UTC()

	reg := NewRegistry()
	mustRegister(t, reg, &stubStrategy{domain.StrategyMeanReversion, stubSignal("meanrev", domain.StrategyMeanReversion, now)})
	mustRegister(t, reg, &stubStrategy{domain.StrategyAIDriven, stubSignal("ai", domain.StrategyAIDriven, now)})
	mustRegister(t, reg, &stubStrategy{domain.StrategyMomentum, stubSignal("momentum", domain.StrategyMomentum, now)})

	r := NewRouter(reg, NewTracker(4), time.Minute, testLogger())
	signals, err := r.Route(context.Background(), testEvent(now))
	if err != nil {
		t.Fatalf("Route(): %v", err)
	}

	want := []string{"ai", "momentum", "meanrev"}
	if len(signals) != len(want) {
		t.Fatalf("len(signals) = %d, want %d", len(signals), len(want))
	}
	for i, id := range want {
		if signals[i].ID != id {
			t.Fatalf("signals[%d].ID = %s, want %s", i, signals[i].ID, id)
		}
	}
}

func TestRouteDropsStaleEvents(t *testing.T) {
	now := time.Now().UTC()

	reg := NewRegistry()
	mustRegister(t, reg, &stubStrategy{domain.StrategyMomentum, stubSignal("sig", domain.StrategyMomentum, now)})

	r := NewRouter(reg, NewTracker(4), time.Second, testLogger())
	signals, err := r.Route(context.Background(), testEvent(now.Add(-2*time.Second)))
	if err != nil {
		t.Fatalf("Route(): %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("stale event produced %d signals, want 0", len(signals))
	}
}

func TestRouteDiscardsInvalidSignals(t *testing.T) {
	now := time.Now().UTC()
	bad := stubSignal("bad", domain.StrategyMomentum, now)
	bad.Quantity = 0 // invalid for a buy

	reg := NewRegistry()
	mustRegister(t, reg, &stubStrategy{domain.StrategyMomentum, bad})

	r := NewRouter(reg, NewTracker(4), time.Minute, testLogger())
	signals, err := r.Route(context.Background(), testEvent(now))
	if err != nil {
		t.Fatalf("Route(): %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("invalid signal passed validation: %d signals", len(signals))
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, &stubStrategy{typ: domain.StrategyMomentum})
	if err := reg.Register(&stubStrategy{typ: domain.StrategyMomentum}); err == nil {
		t.Fatal("Register() should fail for a duplicate strategy type")
	}
}

func mustRegister(t *testing.T, reg *Registry, s Strategy) {
	t.Helper()
	if err := reg.Register(s); err != nil {
		t.Fatalf("Register(%s): %v", s.Type(), err)
	}
}

package allocator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWallet(id string, balance, maxPos float64, isDefault bool, symbols ...string) domain.Wallet {
	return domain.Wallet{
		ID:              id,
		Balance:         balance,
		MaxPositionSize: maxPos,
		MaxDailyLoss:    1000,
		IsDefault:       isDefault,
		Symbols:         symbols,
	}
}

func testApproved(symbol string, quantity, price float64) domain.ApprovedSignal {
	now := time.Now().UTC()
	return domain.ApprovedSignal{
		Signal: domain.TradingSignal{
			ID:          "sig-1",
			Symbol:      symbol,
			Strategy:    domain.StrategyMomentum,
			Action:      domain.ActionBuy,
			TargetPrice: price,
			Quantity:    quantity,
			CreatedAt:   now,
		},
		ApprovedQuantity: quantity,
		RiskScore:        0.5,
		ApprovedAt:       now,
	}
}

func TestAllocateSingleWalletMode(t *testing.T) {
	a, err := New([]domain.Wallet{
		testWallet("main", 10_000, 10_000, true),
		testWallet("side", 100_000, 100_000, false),
	}, false, testLogger())
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	routed, err := a.Allocate(context.Background(), testApproved("WETH-USDC", 2, 1000))
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}
	// Single-wallet mode always funds from the default, even when another
	// wallet has a larger budget.
	if routed.WalletID != "main" {
		t.Fatalf("WalletID = %s, want main", routed.WalletID)
	}
	if routed.AllocatedCapital != 2000 {
		t.Fatalf("AllocatedCapital = %v, want 2000", routed.AllocatedCapital)
	}

	w, _ := a.Wallet("main")
	if w.Reserved != 2000 {
		t.Fatalf("Reserved = %v, want 2000", w.Reserved)
	}
}

func TestAllocateMultiWalletLargestBudget(t *testing.T) {
	a, err := New([]domain.Wallet{
		testWallet("small", 1_000, 1_000, true),
		testWallet("big", 50_000, 50_000, false),
	}, true, testLogger())
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	routed, err := a.Allocate(context.Background(), testApproved("WETH-USDC", 2, 1000))
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}
	if routed.WalletID != "big" {
		t.Fatalf("WalletID = %s, want big (largest available budget)", routed.WalletID)
	}
}

func TestAllocatePrefersSymbolTaggedWallet(t *testing.T) {
	a, err := New([]domain.Wallet{
		testWallet("big", 50_000, 50_000, true),
		testWallet("eth-desk", 10_000, 10_000, false, "WETH-USDC"),
	}, true, testLogger())
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	routed, err := a.Allocate(context.Background(), testApproved("WETH-USDC", 2, 1000))
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}
	// The symbol-tagged wallet wins despite its smaller budget.
	if routed.WalletID != "eth-desk" {
		t.Fatalf("WalletID = %s, want eth-desk", routed.WalletID)
	}

	// Other symbols fall through to the largest budget.
	routed, err = a.Allocate(context.Background(), testApproved("SOL-USDC", 2, 1000))
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}
	if routed.WalletID != "big" {
		t.Fatalf("WalletID = %s, want big", routed.WalletID)
	}
}

func TestAllocateNoCapacity(t *testing.T) {
	a, err := New([]domain.Wallet{
		testWallet("main", 1_000, 1_000, true),
	}, true, testLogger())
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	_, err = a.Allocate(context.Background(), testApproved("WETH-USDC", 5, 1000))
	if !errors.Is(err, domain.ErrNoCapacity) {
		t.Fatalf("Allocate() error = %v, want ErrNoCapacity", err)
	}
}

// Concurrent reservations must never over-commit a wallet: reservations are
// excluded from subsequent budget checks until settled.
func TestReservationsReduceBudget(t *testing.T) {
	a, err := New([]domain.Wallet{
		testWallet("main", 3_000, 3_000, true),
	}, false, testLogger())
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	if _, err := a.Allocate(context.Background(), testApproved("A", 2, 1000)); err != nil {
		t.Fatalf("first Allocate(): %v", err)
	}
	// 1000 left: a 2000 request must be refused.
	if _, err := a.Allocate(context.Background(), testApproved("B", 2, 1000)); !errors.Is(err, domain.ErrNoCapacity) {
		t.Fatalf("second Allocate() error = %v, want ErrNoCapacity", err)
	}
}

func TestSettleReleasesOnFailure(t *testing.T) {
	a, err := New([]domain.Wallet{
		testWallet("main", 10_000, 10_000, true),
	}, false, testLogger())
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	routed, err := a.Allocate(context.Background(), testApproved("WETH-USDC", 2, 1000))
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}

	if err := a.Settle(*routed, domain.ExecutionResult{
		SignalID: "sig-1",
		Status:   domain.ExecutionFailed,
	}); err != nil {
		t.Fatalf("Settle(): %v", err)
	}

	w, _ := a.Wallet("main")
	if w.Reserved != 0 {
		t.Fatalf("Reserved = %v after failed settle, want 0", w.Reserved)
	}
	if w.Balance != 10_000 {
		t.Fatalf("Balance = %v after failed settle, want untouched 10000", w.Balance)
	}
}

func TestSettleCommitsPartialFill(t *testing.T) {
	a, err := New([]domain.Wallet{
		testWallet("main", 10_000, 10_000, true),
	}, false, testLogger())
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	routed, err := a.Allocate(context.Background(), testApproved("WETH-USDC", 2, 1000))
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}

	// Only half the quantity filled: the unspent half of the reservation
	// returns to the budget.
	if err := a.Settle(*routed, domain.ExecutionResult{
		SignalID:         "sig-1",
		Status:           domain.ExecutionConfirmed,
		ExecutedQuantity: 1,
		ExecutedPrice:    1000,
		Fees:             10,
	}); err != nil {
		t.Fatalf("Settle(): %v", err)
	}

	w, _ := a.Wallet("main")
	if w.Reserved != 0 {
		t.Fatalf("Reserved = %v after settle, want 0", w.Reserved)
	}
	if want := 10_000.0 - 1010; w.Balance != want {
		t.Fatalf("Balance = %v, want %v", w.Balance, want)
	}
}

func TestSettleRecordsLoss(t *testing.T) {
	a, err := New([]domain.Wallet{
		testWallet("main", 10_000, 10_000, true),
	}, false, testLogger())
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	routed, err := a.Allocate(context.Background(), testApproved("WETH-USDC", 2, 1000))
	if err != nil {
		t.Fatalf("Allocate(): %v", err)
	}

	// Filled 10 above target on 2 units plus 5 fees: 25 realized loss.
	if err := a.Settle(*routed, domain.ExecutionResult{
		SignalID:         "sig-1",
		Status:           domain.ExecutionConfirmed,
		ExecutedQuantity: 2,
		ExecutedPrice:    1010,
		Fees:             5,
	}); err != nil {
		t.Fatalf("Settle(): %v", err)
	}

	w, _ := a.Wallet("main")
	if w.DailyLossSoFar != 25 {
		t.Fatalf("DailyLossSoFar = %v, want 25", w.DailyLossSoFar)
	}

	a.ResetDailyLosses()
	w, _ = a.Wallet("main")
	if w.DailyLossSoFar != 0 {
		t.Fatalf("DailyLossSoFar = %v after reset, want 0", w.DailyLossSoFar)
	}
}

func TestDisabledWalletRefusesReservations(t *testing.T) {
	b := NewBook(testWallet("main", 10_000, 10_000, true))
	b.SetDisabled(true)

	if err := b.Reserve(100); !errors.Is(err, domain.ErrWalletDisabled) {
		t.Fatalf("Reserve() error = %v, want ErrWalletDisabled", err)
	}
}

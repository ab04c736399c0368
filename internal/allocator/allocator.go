package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Allocator routes approved signals to wallets. In single-wallet mode every
// trade funds from the default wallet; in multi-wallet mode the wallet with
// the largest available budget wins, with symbol-tagged wallets considered
// first.
type Allocator struct {
	books       map[string]*Book
	order       []string // stable iteration order
	defaultID   string
	multiWallet bool
	logger      *slog.Logger
}

// New creates an allocator over the given wallets. Exactly one wallet must be
// the default; config validation guarantees this before wiring.
func New(wallets []domain.Wallet, multiWallet bool, logger *slog.Logger) (*Allocator, error) {
	a := &Allocator{
		books:       make(map[string]*Book, len(wallets)),
		multiWallet: multiWallet,
		logger:      logger.With(slog.String("component", "allocator")),
	}
	for _, w := range wallets {
		if _, dup := a.books[w.ID]; dup {
			return nil, fmt.Errorf("allocator: duplicate wallet id %q", w.ID)
		}
		a.books[w.ID] = NewBook(w)
		a.order = append(a.order, w.ID)
		if w.IsDefault {
			a.defaultID = w.ID
		}
	}
	if a.defaultID == "" {
		return nil, fmt.Errorf("allocator: no default wallet configured")
	}
	return a, nil
}

// Allocate reserves capital for an approved signal and binds it to a wallet.
// The reservation equals the signal's notional at the approved quantity. A
// signal that no wallet can fund is rejected with ErrNoCapacity.
func (a *Allocator) Allocate(ctx context.Context, approved domain.ApprovedSignal) (*domain.RoutedSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	notional := approved.ApprovedQuantity * approved.Signal.TargetPrice
	if notional <= 0 {
		return nil, fmt.Errorf("allocator: %w: non-positive notional", domain.ErrInvalidSignal)
	}

	for _, id := range a.candidates(approved.Signal.Symbol) {
		book := a.books[id]
		if err := book.Reserve(notional); err != nil {
			continue
		}
		a.logger.Debug("capital reserved",
			slog.String("wallet", id),
			slog.String("signal", approved.Signal.ID),
			slog.Float64("notional", notional),
		)
		return &domain.RoutedSignal{
			Approved:         approved,
			WalletID:         id,
			AllocatedCapital: notional,
			RoutedAt:         time.Now().UTC(),
		}, nil
	}

	return nil, fmt.Errorf("allocator: %w: no wallet can fund %.4f for %s",
		domain.ErrNoCapacity, notional, approved.Signal.Symbol)
}

// candidates returns wallet ids in funding preference order. Single-wallet
// mode considers only the default. Multi-wallet mode tries symbol-tagged
// wallets by descending available budget, then the rest the same way.
func (a *Allocator) candidates(symbol string) []string {
	if !a.multiWallet {
		return []string{a.defaultID}
	}

	type cand struct {
		id        string
		available float64
		preferred bool
	}
	cands := make([]cand, 0, len(a.order))
	for _, id := range a.order {
		book := a.books[id]
		avail := book.Available()
		if avail <= 0 {
			continue
		}
		cands = append(cands, cand{
			id:        id,
			available: avail,
			preferred: book.Snapshot().PrefersSymbol(symbol),
		})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].preferred != cands[j].preferred {
			return cands[i].preferred
		}
		return cands[i].available > cands[j].available
	})

	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// Settle closes the reservation behind a routed signal. Confirmed fills
// commit the spent portion and release the rest; failures and timeouts
// release everything. Realized losses are folded into the wallet's daily
// tally.
func (a *Allocator) Settle(routed domain.RoutedSignal, result domain.ExecutionResult) error {
	book, ok := a.books[routed.WalletID]
	if !ok {
		return fmt.Errorf("allocator: %w: wallet %s", domain.ErrNotFound, routed.WalletID)
	}

	if result.Status != domain.ExecutionConfirmed {
		return book.Release(routed.AllocatedCapital)
	}

	spent := result.ExecutedQuantity*result.ExecutedPrice + result.Fees
	if spent > routed.AllocatedCapital {
		// Fills can land slightly above the reservation on adverse slippage;
		// the overage debits the balance but cannot release more than held.
		spent = routed.AllocatedCapital
	}
	if err := book.Commit(routed.AllocatedCapital, spent); err != nil {
		return err
	}

	if pnl := result.RealizedPnL(routed.Approved.Signal.Action, routed.Approved.Signal.TargetPrice); pnl < 0 {
		book.RecordLoss(-pnl)
	}
	return nil
}

// Wallet returns a snapshot of one wallet's state.
func (a *Allocator) Wallet(id string) (domain.Wallet, bool) {
	book, ok := a.books[id]
	if !ok {
		return domain.Wallet{}, false
	}
	return book.Snapshot(), true
}

// Wallets returns snapshots of every wallet in configuration order.
func (a *Allocator) Wallets() []domain.Wallet {
	out := make([]domain.Wallet, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.books[id].Snapshot())
	}
	return out
}

// ResetDailyLosses zeroes every wallet's daily loss tally. Called at the UTC
// day boundary.
func (a *Allocator) ResetDailyLosses() {
	for _, id := range a.order {
		a.books[id].ResetDailyLoss()
	}
}

// Package allocator owns wallet budget state. Capital moves through a
// two-phase protocol: an optimistic reservation at routing time, then a
// commit (trade settled) or release (trade failed or shrank) after
// execution. No other component writes wallet budgets.
package allocator

import (
	"fmt"
	"sync"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Book tracks the budget state of one wallet behind a mutex. All mutation
// goes through Reserve, Commit, and Release.
type Book struct {
	mu     sync.Mutex
	wallet domain.Wallet
}

// NewBook creates a book over the wallet's starting state.
func NewBook(w domain.Wallet) *Book {
	return &Book{wallet: w}
}

// Snapshot returns a copy of the wallet's current state.
func (b *Book) Snapshot() domain.Wallet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wallet
}

// Available returns the capital still open for new reservations.
func (b *Book) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wallet.Disabled {
		return 0
	}
	return b.wallet.AvailableRiskBudget()
}

// Reserve holds amount against the wallet's budget. The reservation is
// optimistic: the capital is not spent, only excluded from subsequent
// reservations until committed or released.
func (b *Book) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("allocator: reserve amount must be > 0, got %v", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wallet.Disabled {
		return fmt.Errorf("allocator: %w: wallet %s", domain.ErrWalletDisabled, b.wallet.ID)
	}
	if amount > b.wallet.AvailableRiskBudget() {
		return fmt.Errorf("allocator: %w: wallet %s: requested %.4f, available %.4f",
			domain.ErrNoCapacity, b.wallet.ID, amount, b.wallet.AvailableRiskBudget())
	}
	b.wallet.Reserved += amount
	return nil
}

// Commit converts spent of a reservation into a balance debit and releases
// the remainder. spent may be less than reserved on a partial fill, never
// more.
func (b *Book) Commit(reserved, spent float64) error {
	if spent < 0 || spent > reserved {
		return fmt.Errorf("allocator: commit spent %.4f outside [0, %.4f]", spent, reserved)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if reserved > b.wallet.Reserved {
		return fmt.Errorf("allocator: commit %.4f exceeds outstanding reservations %.4f on wallet %s",
			reserved, b.wallet.Reserved, b.wallet.ID)
	}
	b.wallet.Reserved -= reserved
	b.wallet.Balance -= spent
	return nil
}

// Release returns a reservation to the budget untouched.
func (b *Book) Release(reserved float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reserved > b.wallet.Reserved {
		return fmt.Errorf("allocator: release %.4f exceeds outstanding reservations %.4f on wallet %s",
			reserved, b.wallet.Reserved, b.wallet.ID)
	}
	b.wallet.Reserved -= reserved
	return nil
}

// RecordLoss adds a realized loss to the wallet's daily tally.
func (b *Book) RecordLoss(amount float64) {
	if amount <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wallet.DailyLossSoFar += amount
}

// ResetDailyLoss zeroes the daily tally at the UTC day boundary.
func (b *Book) ResetDailyLoss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wallet.DailyLossSoFar = 0
}

// SetDisabled flips the wallet's disabled flag. Outstanding reservations are
// unaffected; a disabled wallet only stops accepting new ones.
func (b *Book) SetDisabled(disabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wallet.Disabled = disabled
}

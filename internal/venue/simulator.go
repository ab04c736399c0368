package venue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Simulator is the paper-mode venue. It computes a deterministic synthetic
// fill for each submission: the fill price is the limit price shifted by a
// configured slippage against the trade (buys fill higher, sells lower), and
// the transaction id is a hash of the payload. It follows the same contract
// as the live client so upstream components cannot tell the modes apart.
type Simulator struct {
	slippageBps float64
	feeBps      float64

	mu    sync.Mutex
	fills map[string]Fill
}

// NewSimulator creates a paper venue with the given slippage and fee models,
// both in basis points of the limit price.
func NewSimulator(slippageBps, feeBps float64) *Simulator {
	return &Simulator{
		slippageBps: slippageBps,
		feeBps:      feeBps,
		fills:       make(map[string]Fill),
	}
}

// SupportsBundles reports true: the simulator accepts bundles so the
// bundle-first submission path is exercised in paper mode too.
func (s *Simulator) SupportsBundles() bool { return true }

// Submit computes a synthetic fill for one transaction.
func (s *Simulator) Submit(ctx context.Context, tx SignedTx) (domain.SubmitReceipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubmitReceipt{}, err
	}
	fill := s.fill(tx)

	s.mu.Lock()
	s.fills[fill.TxID] = fill
	s.mu.Unlock()

	return domain.SubmitReceipt{TxID: fill.TxID, Fees: fill.Fees}, nil
}

// SubmitBundle fills each transaction in the bundle atomically.
func (s *Simulator) SubmitBundle(ctx context.Context, txs []SignedTx) (domain.SubmitReceipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubmitReceipt{}, err
	}
	if len(txs) == 0 {
		return domain.SubmitReceipt{}, fmt.Errorf("venue/sim: empty bundle")
	}

	var receipt domain.SubmitReceipt
	s.mu.Lock()
	for i, tx := range txs {
		fill := s.fill(tx)
		s.fills[fill.TxID] = fill
		if i == 0 {
			receipt.TxID = fill.TxID
		}
		receipt.Fees += fill.Fees
	}
	s.mu.Unlock()

	receipt.BundleID = "sim-bundle-" + receipt.TxID
	return receipt, nil
}

// GetStatus reports confirmed for every known fill. The simulator never
// leaves a transaction pending: paper fills are instantaneous.
func (s *Simulator) GetStatus(ctx context.Context, txID string) (domain.TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	_, ok := s.fills[txID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("venue/sim: %w: tx %s", domain.ErrNotFound, txID)
	}
	return domain.TxConfirmed, nil
}

// GetFill returns the synthetic fill for a transaction id.
func (s *Simulator) GetFill(ctx context.Context, txID string) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fills[txID]
	if !ok {
		return Fill{}, fmt.Errorf("venue/sim: %w: tx %s", domain.ErrNotFound, txID)
	}
	return f, nil
}

// fill derives the deterministic synthetic fill for a payload.
func (s *Simulator) fill(tx SignedTx) Fill {
	price := float64(tx.Payload.LimitPrice) / 1e6
	qty := float64(tx.Payload.Quantity) / 1e6

	slip := price * s.slippageBps / 10_000
	if tx.Payload.Side == 0 { // buy fills against the taker
		price += slip
	} else {
		price -= slip
	}
	if price < 0 {
		price = 0
	}

	return Fill{
		TxID:     syntheticTxID(tx),
		Symbol:   tx.Payload.Symbol,
		Quantity: qty,
		Price:    price,
		Fees:     price * qty * s.feeBps / 10_000,
		Status:   string(domain.TxConfirmed),
	}
}

// syntheticTxID hashes the payload so identical submissions map to the same
// id, keeping paper runs reproducible.
func syntheticTxID(tx SignedTx) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d|%d|%d",
		tx.Payload.Maker, tx.Payload.Symbol, tx.Payload.Side,
		tx.Payload.Quantity, tx.Payload.LimitPrice, tx.Payload.Nonce,
	)))
	return "sim-" + hex.EncodeToString(h[:16])
}

// Compile-time interface check.
var _ Venue = (*Simulator)(nil)

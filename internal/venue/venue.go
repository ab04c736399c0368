// Package venue contains the client-side contract for submitting signed
// transactions and bundles to the execution venue, plus the paper-mode
// simulator that stands in for it.
package venue

import (
	"context"

	"github.com/dkellerman/chainpilot/internal/crypto"
	"github.com/dkellerman/chainpilot/internal/domain"
)

// Venue is the execution-venue boundary. Live implementations talk JSON-RPC
// to a node or relay; the paper simulator implements the same contract with
// deterministic fills.
type Venue interface {
	// Submit sends a single signed transaction and returns its receipt.
	Submit(ctx context.Context, tx SignedTx) (domain.SubmitReceipt, error)
	// SubmitBundle sends an atomically-included group of transactions via
	// the MEV-protected relay. Implementations without a bundle path return
	// domain.ErrVenueUnavailable so the caller falls back to Submit.
	SubmitBundle(ctx context.Context, txs []SignedTx) (domain.SubmitReceipt, error)
	// GetStatus polls the lifecycle state of a submitted transaction.
	GetStatus(ctx context.Context, txID string) (domain.TxStatus, error)
	// GetFill returns the fill details for a confirmed transaction.
	GetFill(ctx context.Context, txID string) (Fill, error)
	// SupportsBundles reports whether the bundle path is configured.
	SupportsBundles() bool
}

// SignedTx is a venue order payload together with its signature.
type SignedTx struct {
	Payload   crypto.TxPayload `json:"payload"`
	Signature string           `json:"signature"`
}

// Fill is a confirmation event delivered by the venue's websocket stream.
type Fill struct {
	TxID     string  `json:"tx_id"`
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Fees     float64 `json:"fees"`
	Status   string  `json:"status"`
}

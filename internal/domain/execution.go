package domain

import "time"

// ExecutionStatus is the terminal state of an execution attempt chain.
type ExecutionStatus string

const (
	ExecutionConfirmed ExecutionStatus = "confirmed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
)

// ExecutionMode distinguishes paper fills from live fills. Upstream components
// see identical behavior in both modes apart from this tag.
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// ExecutionResult is the single terminal record produced for a RoutedSignal.
// Exactly one result exists per routed signal.
type ExecutionResult struct {
	SignalID         string
	Symbol           string
	WalletID         string
	TransactionID    string
	Status           ExecutionStatus
	Mode             ExecutionMode
	ExecutedQuantity float64
	ExecutedPrice    float64
	Fees             float64
	Attempts         int
	AIAssisted       bool
	ErrorMessage     string
	Timestamp        time.Time
}

// RealizedPnL returns the signed profit of the fill against the signal's
// target price, net of fees. Buy fills lose when filled above target, sell
// fills when filled below.
func (r ExecutionResult) RealizedPnL(action Action, targetPrice float64) float64 {
	if r.Status != ExecutionConfirmed || r.ExecutedQuantity <= 0 {
		return 0
	}
	var gross float64
	switch action {
	case ActionBuy:
		gross = (targetPrice - r.ExecutedPrice) * r.ExecutedQuantity
	case ActionSell:
		gross = (r.ExecutedPrice - targetPrice) * r.ExecutedQuantity
	}
	return gross - r.Fees
}

// TxStatus is the venue-side lifecycle state of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// SubmitReceipt is returned by the venue on submission.
type SubmitReceipt struct {
	TxID     string
	BundleID string // set when the MEV-protected bundle path was used
	Fees     float64
}

package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// RPCClient submits signed transactions to the venue over HTTP JSON-RPC.
// When a bundle relay URL is configured, SubmitBundle routes through it;
// otherwise the bundle path reports unavailable and callers fall back to
// direct submission.
type RPCClient struct {
	rpcURL     string
	bundleURL  string
	httpClient *http.Client
}

// NewRPCClient creates a venue RPC client. bundleURL may be empty, which
// disables the MEV-protected path.
func NewRPCClient(rpcURL, bundleURL string) *RPCClient {
	return &RPCClient{
		rpcURL:    rpcURL,
		bundleURL: bundleURL,
		httpClient: &http.Client{
			// Per-call deadlines come from the caller's context; this is a
			// hard ceiling against leaked connections.
			Timeout: 10 * time.Second,
		},
	}
}

// SupportsBundles reports whether a bundle relay is configured.
func (c *RPCClient) SupportsBundles() bool {
	return c.bundleURL != ""
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Submit sends a single signed transaction via venue_submitTransaction.
func (c *RPCClient) Submit(ctx context.Context, tx SignedTx) (domain.SubmitReceipt, error) {
	var result struct {
		TxID string  `json:"tx_id"`
		Fees float64 `json:"fees"`
	}
	if err := c.call(ctx, c.rpcURL, "venue_submitTransaction", []any{tx}, &result); err != nil {
		return domain.SubmitReceipt{}, fmt.Errorf("venue: submit: %w", err)
	}
	return domain.SubmitReceipt{TxID: result.TxID, Fees: result.Fees}, nil
}

// SubmitBundle sends a group of transactions to the MEV-protected relay via
// venue_submitBundle. The bundle is included atomically or not at all.
func (c *RPCClient) SubmitBundle(ctx context.Context, txs []SignedTx) (domain.SubmitReceipt, error) {
	if c.bundleURL == "" {
		return domain.SubmitReceipt{}, fmt.Errorf("venue: bundle path: %w", domain.ErrVenueUnavailable)
	}
	var result struct {
		BundleID string  `json:"bundle_id"`
		TxIDs    []string `json:"tx_ids"`
		Fees     float64 `json:"fees"`
	}
	if err := c.call(ctx, c.bundleURL, "venue_submitBundle", []any{txs}, &result); err != nil {
		return domain.SubmitReceipt{}, fmt.Errorf("venue: submit bundle: %w", err)
	}
	receipt := domain.SubmitReceipt{BundleID: result.BundleID, Fees: result.Fees}
	if len(result.TxIDs) > 0 {
		receipt.TxID = result.TxIDs[0]
	}
	return receipt, nil
}

// GetStatus polls a transaction's lifecycle state via venue_getStatus.
func (c *RPCClient) GetStatus(ctx context.Context, txID string) (domain.TxStatus, error) {
	var result struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, c.rpcURL, "venue_getStatus", []any{txID}, &result); err != nil {
		return "", fmt.Errorf("venue: get status %s: %w", txID, err)
	}
	switch result.Status {
	case "pending":
		return domain.TxPending, nil
	case "confirmed":
		return domain.TxConfirmed, nil
	case "failed":
		return domain.TxFailed, nil
	default:
		return "", fmt.Errorf("venue: unknown status %q for %s", result.Status, txID)
	}
}

// GetFill fetches the fill details of a confirmed transaction via
// venue_getFill.
func (c *RPCClient) GetFill(ctx context.Context, txID string) (Fill, error) {
	var fill Fill
	if err := c.call(ctx, c.rpcURL, "venue_getFill", []any{txID}, &fill); err != nil {
		return Fill{}, fmt.Errorf("venue: get fill %s: %w", txID, err)
	}
	return fill, nil
}

// call performs one JSON-RPC round trip and decodes the result into out.
// Errors are classified so the executor can distinguish retryable faults
// from terminal ones.
func (c *RPCClient) call(ctx context.Context, url, method string, params any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network faults and context deadlines are transient from the
		// retry loop's perspective; the deadline itself is enforced by
		// the caller's budget.
		return fmt.Errorf("%w: %v", domain.ErrVenueUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrVenueUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: http 429", domain.ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: http %d", domain.ErrVenueUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return classifyRPCError(rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// classifyRPCError maps venue error messages onto the domain error taxonomy.
// Signature and funds errors are terminal; congestion is retryable.
func classifyRPCError(e *rpcError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "signature"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidSignature, e.Message)
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, e.Message)
	case strings.Contains(msg, "congest"), strings.Contains(msg, "mempool full"), strings.Contains(msg, "try again"):
		return fmt.Errorf("%w: %s", domain.ErrVenueUnavailable, e.Message)
	default:
		return fmt.Errorf("venue rpc error %d: %s", e.Code, e.Message)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ Venue = (*RPCClient)(nil)

// Package ai is the client for the external AI decision gateway. The gateway
// is advisory: every failure path here degrades to "no AI input" and the
// pipeline proceeds on strategy confidence alone.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// Gateway issues confidence/optimization queries for routed signals.
type Gateway interface {
	Decide(ctx context.Context, req DecisionRequest) (*domain.AIDecision, error)
}

// DecisionRequest is the gateway request payload. Requests are idempotent
// and side-effect-free from the executor's perspective.
type DecisionRequest struct {
	Symbol         string          `json:"symbol"`
	MarketSnapshot MarketSnapshot  `json:"market_snapshot"`
	Candidate      CandidateSignal `json:"candidate_signal"`
}

// MarketSnapshot is the market context attached to a decision request.
type MarketSnapshot struct {
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	Volatility float64 `json:"volatility"`
	Trend      float64 `json:"trend"`
}

// CandidateSignal describes the trade under consideration.
type CandidateSignal struct {
	SignalID       string  `json:"signal_id"`
	Strategy       string  `json:"strategy"`
	Action         string  `json:"action"`
	Quantity       float64 `json:"quantity"`
	TargetPrice    float64 `json:"target_price"`
	BaseConfidence float64 `json:"base_confidence"`
}

type decisionResponse struct {
	Action            string             `json:"action"`
	Confidence        float64            `json:"confidence"`
	Reasoning         string             `json:"reasoning"`
	RecommendedParams map[string]float64 `json:"recommended_params"`
}

// Client is the HTTP implementation of Gateway. The hard timeout is carried
// by the caller's context; the embedded http.Client timeout is only a
// backstop against leaked connections.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a gateway client for the given base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Decide posts the request to /v1/decide and returns the decision. The
// caller bounds the call with a context deadline; on timeout the returned
// error wraps context.DeadlineExceeded and the executor degrades.
func (c *Client) Decide(ctx context.Context, req DecisionRequest) (*domain.AIDecision, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/decide", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ai: decide: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("ai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai: http %d: %s", resp.StatusCode, string(body))
	}

	var dr decisionResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("ai: decode response: %w", err)
	}
	if dr.Confidence < 0 || dr.Confidence > 1 {
		return nil, fmt.Errorf("ai: confidence %v out of [0,1]", dr.Confidence)
	}

	return &domain.AIDecision{
		Action:            domain.Action(dr.Action),
		Confidence:        dr.Confidence,
		Reasoning:         dr.Reasoning,
		RecommendedParams: dr.RecommendedParams,
		ReceivedAt:        time.Now().UTC(),
	}, nil
}

// Compile-time interface check.
var _ Gateway = (*Client)(nil)

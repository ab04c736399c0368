// Package risk implements admission control: every trading signal passes
// through a fixed rule sequence before it may spend capital.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dkellerman/chainpilot/internal/config"
	"github.com/dkellerman/chainpilot/internal/domain"
)

// TripHandler is invoked once when the daily-loss circuit breaker trips.
type TripHandler func(loss, limit float64)

// Manager evaluates signals against the configured limits. Evaluation is
// idempotent: it never mutates tracked positions or losses; those change only
// through RecordResult after settlement.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]float64 // net position per symbol, in quantity units
	dailyLoss float64
	lossDay   time.Time // UTC midnight of the day dailyLoss covers
	tripped   bool
	onTrip    TripHandler

	now func() time.Time
}

// NewManager creates a risk manager with zeroed positions and losses.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk_manager")),
		positions: make(map[string]float64),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnCircuitBreaker registers a handler called when the breaker trips. Must be
// called before evaluation starts.
func (m *Manager) OnCircuitBreaker(h TripHandler) { m.onTrip = h }

// Evaluate runs the admission rules in order and returns the approved signal
// or the first rejection. Rules, in order:
//
//  1. base confidence below the minimum threshold rejects,
//  2. an attached AI decision below the AI threshold vetoes (AI input can
//     only veto here, never rescue a low-confidence signal),
//  3. quantity is clamped to the remaining position headroom; zero headroom
//     rejects,
//  4. accumulated daily loss at or beyond the limit rejects (the boundary
//     itself trips the breaker),
//  5. the surviving signal is scored against the portfolio snapshot: the
//     strategy weight, estimated slippage, observed volatility, and how much
//     of the position limit the symbol already consumes all discount it.
func (m *Manager) Evaluate(ctx context.Context, sig domain.TradingSignal) (*domain.ApprovedSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}

	if sig.BaseConfidence < m.cfg.MinConfidenceThreshold {
		return nil, fmt.Errorf("%w: confidence %.3f below threshold %.3f",
			domain.ErrLowConfidence, sig.BaseConfidence, m.cfg.MinConfidenceThreshold)
	}

	if sig.AIDecision != nil && sig.AIDecision.Confidence < m.cfg.AIConfidenceThreshold {
		return nil, fmt.Errorf("%w: ai confidence %.3f below threshold %.3f",
			domain.ErrLowAIConfidence, sig.AIDecision.Confidence, m.cfg.AIConfidenceThreshold)
	}

	weight, ok := m.cfg.Weights[string(sig.Strategy)]
	if !ok {
		return nil, fmt.Errorf("%w: no risk weight for strategy %q", domain.ErrInvalidSignal, sig.Strategy)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()
	portfolio := m.portfolioLocked()

	headroom := m.cfg.MaxPositionSize - portfolio.PositionSize[sig.Symbol]
	if headroom <= 0 {
		return nil, fmt.Errorf("%w: %s position %.4f at limit %.4f",
			domain.ErrPositionLimit, sig.Symbol, portfolio.PositionSize[sig.Symbol], m.cfg.MaxPositionSize)
	}
	approvedQty := sig.Quantity
	reason := "approved"
	if approvedQty > headroom {
		approvedQty = headroom
		reason = "approved_clamped"
	}

	if portfolio.DailyLossSoFar >= m.cfg.MaxDailyLoss {
		m.tripLocked()
		return nil, fmt.Errorf("%w: daily loss %.2f at limit %.2f",
			domain.ErrDailyLossLimit, portfolio.DailyLossSoFar, m.cfg.MaxDailyLoss)
	}

	return &domain.ApprovedSignal{
		Signal:           sig,
		ApprovedQuantity: approvedQty,
		RiskScore:        m.riskScore(sig, weight, portfolio),
		ApprovalReason:   reason,
		ApprovedAt:       m.now(),
	}, nil
}

// riskScore blends signal quality with the structural risk inputs. Quality is
// the base confidence, averaged with the AI confidence when one is attached.
// The discounts: strategy weight, estimated slippage, observed volatility,
// and position concentration (the fraction of the position limit the symbol
// already consumes). A symbol near its limit or a volatile market scores low
// even at full confidence.
func (m *Manager) riskScore(sig domain.TradingSignal, weight float64, portfolio domain.PortfolioSnapshot) float64 {
	quality := sig.BaseConfidence
	if sig.AIDecision != nil {
		quality = (quality + sig.AIDecision.Confidence) / 2
	}

	concentration := 0.0
	if m.cfg.MaxPositionSize > 0 {
		concentration = clamp01(math.Abs(portfolio.PositionSize[sig.Symbol]) / m.cfg.MaxPositionSize)
	}
	volatility := clamp01(sig.Market.Volatility)

	return clamp01(quality * weight * (1 - sig.SlippageEst) * (1 - concentration) * (1 - volatility))
}

// Portfolio returns a read-only snapshot of the tracked exposure.
func (m *Manager) Portfolio() domain.PortfolioSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()
	return m.portfolioLocked()
}

func (m *Manager) portfolioLocked() domain.PortfolioSnapshot {
	positions := make(map[string]float64, len(m.positions))
	for symbol, qty := range m.positions {
		positions[symbol] = qty
	}
	return domain.PortfolioSnapshot{
		PositionSize:   positions,
		DailyLossSoFar: m.dailyLoss,
		TakenAt:        m.now(),
	}
}

// RecordResult folds one settled execution into the tracked positions and
// daily loss. Confirmed buys increase the symbol position, sells decrease
// it; realized losses accumulate toward the circuit breaker.
func (m *Manager) RecordResult(res domain.ExecutionResult, action domain.Action, targetPrice float64) {
	if res.Status != domain.ExecutionConfirmed {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()

	switch action {
	case domain.ActionBuy:
		m.positions[res.Symbol] += res.ExecutedQuantity
	case domain.ActionSell:
		m.positions[res.Symbol] -= res.ExecutedQuantity
	}

	if pnl := res.RealizedPnL(action, targetPrice); pnl < 0 {
		m.dailyLoss += -pnl
		if m.dailyLoss >= m.cfg.MaxDailyLoss {
			m.tripLocked()
		}
	}
}

// Tripped reports whether the daily-loss breaker is currently tripped.
func (m *Manager) Tripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()
	return m.tripped
}

// DailyLoss returns the loss accumulated so far today.
func (m *Manager) DailyLoss() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()
	return m.dailyLoss
}

// resetIfNewDayLocked clears the loss accumulator and breaker when the UTC
// day rolls over. Positions carry across days; only losses reset.
func (m *Manager) resetIfNewDayLocked() {
	today := m.now().Truncate(24 * time.Hour)
	if m.lossDay.Equal(today) {
		return
	}
	if m.tripped {
		m.logger.Info("circuit breaker reset at utc midnight",
			slog.Float64("daily_loss", m.dailyLoss),
		)
	}
	m.lossDay = today
	m.dailyLoss = 0
	m.tripped = false
}

// tripLocked marks the breaker tripped and fires the handler exactly once
// per day.
func (m *Manager) tripLocked() {
	if m.tripped {
		return
	}
	m.tripped = true
	m.logger.Warn("daily loss circuit breaker tripped",
		slog.Float64("daily_loss", m.dailyLoss),
		slog.Float64("limit", m.cfg.MaxDailyLoss),
	)
	if m.onTrip != nil {
		m.onTrip(m.dailyLoss, m.cfg.MaxDailyLoss)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

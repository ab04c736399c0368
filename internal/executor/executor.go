// Package executor turns routed signals into venue submissions and produces
// exactly one terminal result per signal. Signals arrive on a channel and are
// claimed by whichever worker receives them, so no signal can execute twice.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkellerman/chainpilot/internal/ai"
	"github.com/dkellerman/chainpilot/internal/config"
	"github.com/dkellerman/chainpilot/internal/crypto"
	"github.com/dkellerman/chainpilot/internal/domain"
	"github.com/dkellerman/chainpilot/internal/venue"
)

// statusPollInterval is the delay between status polls after submission. It
// must be a small fraction of the execution budget.
const statusPollInterval = 5 * time.Millisecond

// rateLimitKey is the shared limiter key for venue submissions.
const rateLimitKey = "venue:submit"

// Settlement pairs a routed signal with its terminal result so downstream
// settlement can close the capital reservation it opened.
type Settlement struct {
	Routed domain.RoutedSignal
	Result domain.ExecutionResult
}

// WalletKeys maps wallet ids to their maker address and signer. The signer
// is nil in paper mode; payloads are then submitted unsigned to the
// simulator.
type WalletKeys struct {
	Address string
	Signer  *crypto.Signer
}

// Executor is the execution engine worker pool.
type Executor struct {
	cfg       config.ExecutorConfig
	mode      domain.ExecutionMode
	venue     venue.Venue
	gateway   ai.Gateway // nil when AI consult is disabled
	aiTimeout time.Duration
	limiter   domain.RateLimiter // nil disables rate limiting
	rateLimit int                // submissions per second through limiter
	wallets   map[string]WalletKeys
	dedup     *dedupCache
	nonce     atomic.Int64
	logger    *slog.Logger

	now func() time.Time
}

// New creates an executor. gateway may be nil to disable the AI consult step;
// limiter may be nil to disable submission rate limiting.
func New(
	cfg config.ExecutorConfig,
	mode domain.ExecutionMode,
	v venue.Venue,
	gateway ai.Gateway,
	aiTimeout time.Duration,
	limiter domain.RateLimiter,
	rateLimit int,
	wallets map[string]WalletKeys,
	logger *slog.Logger,
) *Executor {
	e := &Executor{
		cfg:       cfg,
		mode:      mode,
		venue:     v,
		gateway:   gateway,
		aiTimeout: aiTimeout,
		limiter:   limiter,
		rateLimit: rateLimit,
		wallets:   wallets,
		dedup:     newDedupCache(cfg.DedupTTL.Duration),
		logger:    logger.With(slog.String("component", "executor")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	e.nonce.Store(time.Now().UnixNano())
	return e
}

// Run consumes routed signals until every lane closes or the context ends.
// Each lane gets exactly one worker, so signals on the same lane execute
// strictly in order; the pipeline routes all signals for a symbol onto one
// lane, which makes same-symbol executions sequential while distinct symbols
// run in parallel. A received signal is executed exactly once and its
// settlement is emitted on out.
func (e *Executor) Run(ctx context.Context, lanes []<-chan domain.RoutedSignal, out chan<- Settlement) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, lane := range lanes {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case routed, ok := <-lane:
					if !ok {
						return nil
					}
					result := e.Execute(ctx, routed)
					select {
					case out <- Settlement{Routed: routed, Result: result}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}
	return g.Wait()
}

// Execute runs one routed signal through the execution state machine and
// returns its terminal result. It never returns an error: every failure mode
// maps to a failed or timed-out result so the reservation upstream is always
// settled.
func (e *Executor) Execute(ctx context.Context, routed domain.RoutedSignal) domain.ExecutionResult {
	sig := routed.Approved.Signal
	now := e.now()

	result := domain.ExecutionResult{
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		WalletID: routed.WalletID,
		Mode:     e.mode,
	}

	if e.dedup.markSeen(sig.ID, now) {
		result.Status = domain.ExecutionFailed
		result.ErrorMessage = "duplicate signal"
		result.Timestamp = e.now()
		return result
	}
	if !sig.ExpiresAt.IsZero() && now.After(sig.ExpiresAt) {
		result.Status = domain.ExecutionFailed
		result.ErrorMessage = "signal expired before execution"
		result.Timestamp = e.now()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout.Duration)
	defer cancel()

	quantity := routed.Approved.ApprovedQuantity
	if decision := e.consult(ctx, sig, quantity); decision != nil {
		quantity = decision.AdjustedQuantity(quantity)
		result.AIAssisted = true
	}

	tx, err := e.buildTx(routed, quantity)
	if err != nil {
		result.Status = domain.ExecutionFailed
		result.ErrorMessage = err.Error()
		result.Timestamp = e.now()
		return result
	}

	fill, attempts, err := e.submitWithRetry(ctx, tx)
	result.Attempts = attempts
	result.Timestamp = e.now()
	switch {
	case err == nil:
		result.Status = domain.ExecutionConfirmed
		result.TransactionID = fill.TxID
		result.ExecutedQuantity = fill.Quantity
		result.ExecutedPrice = fill.Price
		result.Fees = fill.Fees
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.ExecutionTimedOut
		result.ErrorMessage = "execution budget exhausted"
	default:
		result.Status = domain.ExecutionFailed
		result.ErrorMessage = err.Error()
	}

	e.logger.Info("execution finished",
		slog.String("signal", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("wallet", routed.WalletID),
		slog.String("status", string(result.Status)),
		slog.Int("attempts", result.Attempts),
		slog.Bool("ai_assisted", result.AIAssisted),
	)
	return result
}

// consult asks the AI gateway for an advisory decision under its own
// sub-timeout. Any failure, including timeout, degrades to nil: the trade
// proceeds on the parameters risk approved.
func (e *Executor) consult(ctx context.Context, sig domain.TradingSignal, quantity float64) *domain.AIDecision {
	if e.gateway == nil {
		return nil
	}
	aiCtx, cancel := context.WithTimeout(ctx, e.aiTimeout)
	defer cancel()

	decision, err := e.gateway.Decide(aiCtx, ai.DecisionRequest{
		Symbol: sig.Symbol,
		MarketSnapshot: ai.MarketSnapshot{
			Price:      sig.Market.Price,
			Volume:     sig.Market.Volume,
			Volatility: sig.Market.Volatility,
			Trend:      sig.Market.Trend,
		},
		Candidate: ai.CandidateSignal{
			SignalID:       sig.ID,
			Strategy:       string(sig.Strategy),
			Action:         string(sig.Action),
			Quantity:       quantity,
			TargetPrice:    sig.TargetPrice,
			BaseConfidence: sig.BaseConfidence,
		},
	})
	if err != nil {
		e.logger.Debug("ai consult degraded",
			slog.String("signal", sig.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return decision
}

// buildTx assembles and signs the venue order for a routed signal.
func (e *Executor) buildTx(routed domain.RoutedSignal, quantity float64) (venue.SignedTx, error) {
	sig := routed.Approved.Signal
	keys, ok := e.wallets[routed.WalletID]
	if !ok {
		return venue.SignedTx{}, fmt.Errorf("executor: %w: wallet %s", domain.ErrNotFound, routed.WalletID)
	}

	side := 0
	if sig.Action == domain.ActionSell {
		side = 1
	}
	payload := crypto.TxPayload{
		Maker:      keys.Address,
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   int64(quantity * 1e6),
		LimitPrice: int64(sig.TargetPrice * 1e6),
		Nonce:      e.nonce.Add(1),
		Deadline:   e.now().Add(30 * time.Second).Unix(),
	}

	tx := venue.SignedTx{Payload: payload}
	if keys.Signer != nil {
		signature, err := keys.Signer.SignTx(payload)
		if err != nil {
			return venue.SignedTx{}, err
		}
		tx.Signature = signature
	}
	return tx, nil
}

// submitWithRetry drives the submit/poll loop. Transient faults retry with
// exponential backoff up to the attempt cap; terminal faults and the context
// deadline end the chain immediately.
func (e *Executor) submitWithRetry(ctx context.Context, tx venue.SignedTx) (venue.Fill, int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		fill, err := e.submitOnce(ctx, tx)
		if err == nil {
			return fill, attempt, nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return venue.Fill{}, attempt, context.DeadlineExceeded
		}
		if !domain.IsTransient(err) {
			return venue.Fill{}, attempt, err
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		backoff := e.cfg.BackoffBase.Duration * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return venue.Fill{}, attempt, context.DeadlineExceeded
		case <-time.After(backoff):
		}
	}
	return venue.Fill{}, e.cfg.MaxAttempts, lastErr
}

// submitOnce performs one rate-limited submission attempt and polls it to a
// terminal venue status. The bundle path is preferred when available and
// falls back to direct submission if the relay refuses.
func (e *Executor) submitOnce(ctx context.Context, tx venue.SignedTx) (venue.Fill, error) {
	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, rateLimitKey, e.rateLimit, time.Second)
		if err != nil {
			return venue.Fill{}, fmt.Errorf("%w: limiter: %v", domain.ErrVenueUnavailable, err)
		}
		if !allowed {
			return venue.Fill{}, fmt.Errorf("%w: submission budget exhausted", domain.ErrRateLimited)
		}
	}

	var receipt domain.SubmitReceipt
	var err error
	if e.venue.SupportsBundles() {
		receipt, err = e.venue.SubmitBundle(ctx, []venue.SignedTx{tx})
		if err != nil && domain.IsTransient(err) && ctx.Err() == nil {
			receipt, err = e.venue.Submit(ctx, tx)
		}
	} else {
		receipt, err = e.venue.Submit(ctx, tx)
	}
	if err != nil {
		return venue.Fill{}, err
	}

	if err := e.awaitConfirmation(ctx, receipt.TxID); err != nil {
		return venue.Fill{}, err
	}

	fill, err := e.venue.GetFill(ctx, receipt.TxID)
	if err != nil {
		return venue.Fill{}, err
	}
	if fill.Fees == 0 {
		fill.Fees = receipt.Fees
	}
	return fill, nil
}

// awaitConfirmation polls the venue until the transaction confirms, fails,
// or the context deadline fires.
func (e *Executor) awaitConfirmation(ctx context.Context, txID string) error {
	for {
		status, err := e.venue.GetStatus(ctx, txID)
		if err != nil {
			return err
		}
		switch status {
		case domain.TxConfirmed:
			return nil
		case domain.TxFailed:
			return fmt.Errorf("executor: tx %s failed on venue", txID)
		}

		select {
		case <-ctx.Done():
			return context.DeadlineExceeded
		case <-time.After(statusPollInterval):
		}
	}
}

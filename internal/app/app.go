// Package app owns the application lifecycle: it wires dependencies,
// assembles the trading pipeline, starts the long-running loops, and tears
// everything down in reverse order on shutdown.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkellerman/chainpilot/internal/allocator"
	"github.com/dkellerman/chainpilot/internal/config"
	"github.com/dkellerman/chainpilot/internal/domain"
	"github.com/dkellerman/chainpilot/internal/executor"
	"github.com/dkellerman/chainpilot/internal/feed"
	"github.com/dkellerman/chainpilot/internal/pipeline"
	"github.com/dkellerman/chainpilot/internal/risk"
	"github.com/dkellerman/chainpilot/internal/strategy"
	"github.com/dkellerman/chainpilot/internal/venue"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts the engine loops, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := domain.ExecutionMode(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("mode", a.cfg.Mode),
		slog.Int("wallets", len(a.cfg.Wallets)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.auditStartup(ctx, deps, mode); err != nil {
		a.logger.Warn("startup audit failed", slog.String("error", err.Error()))
	}

	// Strategy engine.
	tracker := strategy.NewTracker(a.cfg.Strategy.WindowSize)
	stratCfg := strategy.Config{
		OrderSize:     a.cfg.Strategy.OrderSize,
		WindowSize:    a.cfg.Strategy.WindowSize,
		SignalTTL:     a.cfg.Strategy.SignalTTL.Duration,
		MomentumMin:   a.cfg.Strategy.MomentumMin,
		ReversionBand: a.cfg.Strategy.ReversionBand,
		MinEdgeBps:    a.cfg.Strategy.MinEdgeBps,
	}

	registry := strategy.NewRegistry()
	var aiDriven *strategy.AIDriven
	for _, name := range a.cfg.Strategy.Enabled {
		var s strategy.Strategy
		switch domain.StrategyType(name) {
		case domain.StrategyMomentum:
			s = strategy.NewMomentum(stratCfg, tracker, a.logger)
		case domain.StrategyMeanReversion:
			s = strategy.NewMeanReversion(stratCfg, tracker, a.logger)
		case domain.StrategyLPArbitrage:
			s = strategy.NewLPArbitrage(stratCfg, tracker, a.logger)
		case domain.StrategyAIDriven:
			aiDriven = strategy.NewAIDriven(stratCfg, deps.Bus, a.logger)
			s = aiDriven
		default:
			return fmt.Errorf("app: unknown strategy %q", name)
		}
		if err := registry.Register(s); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	router := strategy.NewRouter(registry, tracker, a.cfg.Strategy.MaxEventAge.Duration, a.logger)

	// Admission control and capital.
	riskMgr := risk.NewManager(a.cfg.Risk, a.logger)
	riskMgr.OnCircuitBreaker(func(loss, limit float64) {
		// Fired under the risk manager's lock; hand off immediately.
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := deps.Notifier.CircuitBreaker(nctx, loss, limit); err != nil {
				a.logger.Warn("circuit breaker notification failed", slog.String("error", err.Error()))
			}
			if err := deps.AuditStore.Log(nctx, "circuit_breaker", map[string]any{
				"daily_loss": loss,
				"limit":      limit,
			}); err != nil {
				a.logger.Warn("circuit breaker audit failed", slog.String("error", err.Error()))
			}
		}()
	})

	alloc, err := allocator.New(deps.Wallets, a.cfg.Risk.MultiWallet, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	// Execution.
	var gatewayTimeout time.Duration
	if deps.Gateway != nil {
		gatewayTimeout = a.cfg.AI.Timeout.Duration
	}
	exec := executor.New(
		a.cfg.Executor, mode, deps.Venue,
		deps.Gateway, gatewayTimeout,
		deps.RateLimiter, a.cfg.Venue.MaxSubmitsPerSecond,
		deps.WalletKeys, a.logger,
	)

	pipe := pipeline.New(
		a.cfg.Pipeline, a.cfg.Executor.Workers,
		router, riskMgr, alloc, exec,
		a.resultHandler(deps),
		a.rejectionHandler(),
		a.logger,
	)

	events := make(chan domain.MarketEvent, a.cfg.Pipeline.EventBuffer)
	consumer := feed.NewConsumer(deps.Bus, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		return consumer.Run(ctx, events)
	})
	g.Go(func() error { return pipe.Run(ctx, events) })
	if aiDriven != nil {
		g.Go(func() error { return aiDriven.Run(ctx) })
	}
	if deps.VenueWS != nil {
		deps.VenueWS.OnFill(func(f venue.Fill) {
			a.logger.Info("late fill confirmed",
				slog.String("tx", f.TxID),
				slog.String("symbol", f.Symbol),
			)
		})
		g.Go(func() error { return deps.VenueWS.Run(ctx) })
	}
	g.Go(func() error { return a.runDailyReset(ctx, alloc, deps) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiver(ctx, deps) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("engine stopped")
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// resultHandler persists, publishes, and notifies every settled execution.
// Persistence failures never block the pipeline; they are logged and the
// engine keeps trading.
func (a *App) resultHandler(deps *Dependencies) pipeline.ResultHandler {
	return func(ctx context.Context, s executor.Settlement) {
		if err := deps.ApprovalStore.Create(ctx, s.Routed.Approved); err != nil {
			a.logger.Error("approval persist failed",
				slog.String("signal", s.Result.SignalID),
				slog.String("error", err.Error()),
			)
		}
		if err := deps.ExecutionStore.Create(ctx, s.Result); err != nil {
			a.logger.Error("execution persist failed",
				slog.String("signal", s.Result.SignalID),
				slog.String("error", err.Error()),
			)
		}

		if payload, err := json.Marshal(s.Result); err == nil {
			if err := deps.Bus.Publish(ctx, domain.ChannelExecutionResults, payload); err != nil {
				a.logger.Warn("result publish failed", slog.String("error", err.Error()))
			}
		}

		if err := deps.Notifier.TradeResult(ctx, s.Result); err != nil {
			a.logger.Warn("trade notification failed", slog.String("error", err.Error()))
		}
	}
}

// rejectionHandler logs admission rejections at debug; they are expected
// outcomes, not faults.
func (a *App) rejectionHandler() pipeline.RejectionHandler {
	return func(ctx context.Context, sig domain.TradingSignal, err error) {
		a.logger.Debug("signal rejected",
			slog.String("signal", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("strategy", string(sig.Strategy)),
			slog.String("reason", err.Error()),
		)
	}
}

// auditStartup records the boot in the audit log and flags a mode change
// relative to the previous boot.
func (a *App) auditStartup(ctx context.Context, deps *Dependencies, mode domain.ExecutionMode) error {
	entries, err := deps.AuditStore.List(ctx, domain.ListOpts{Limit: 50})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Event != "startup" {
			continue
		}
		if prev, ok := e.Detail["mode"].(string); ok && prev != string(mode) {
			if err := deps.AuditStore.Log(ctx, "mode_change", map[string]any{
				"from": prev,
				"to":   string(mode),
			}); err != nil {
				return err
			}
			if err := deps.Notifier.ModeChange(ctx, domain.ExecutionMode(prev), mode); err != nil {
				a.logger.Warn("mode change notification failed", slog.String("error", err.Error()))
			}
		}
		break
	}
	return deps.AuditStore.Log(ctx, "startup", map[string]any{
		"mode":    string(mode),
		"wallets": len(a.cfg.Wallets),
	})
}

// runDailyReset zeroes wallet daily-loss tallies at each UTC midnight.
func (a *App) runDailyReset(ctx context.Context, alloc *allocator.Allocator, deps *Dependencies) error {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next.Sub(now)):
		}

		alloc.ResetDailyLosses()
		a.logger.Info("daily loss tallies reset")
		if err := deps.AuditStore.Log(ctx, "daily_reset", nil); err != nil {
			a.logger.Warn("daily reset audit failed", slog.String("error", err.Error()))
		}
	}
}

// runArchiver moves aged execution history to cold storage once a day.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.RetentionDays)
		n, err := deps.Archiver.ArchiveExecutions(ctx, cutoff)
		if err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
			continue
		}
		if n > 0 {
			a.logger.Info("archive run complete", slog.Int("archived", n))
		}
	}
}

// Package pipeline wires the decision stages together: market events fan out
// to strategies, surviving signals pass risk and allocation, and routed
// signals execute on per-symbol lanes. Every stage boundary is a bounded
// channel, so a slow stage backpressures the ones before it.
package pipeline

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dkellerman/chainpilot/internal/allocator"
	"github.com/dkellerman/chainpilot/internal/config"
	"github.com/dkellerman/chainpilot/internal/domain"
	"github.com/dkellerman/chainpilot/internal/executor"
	"github.com/dkellerman/chainpilot/internal/risk"
	"github.com/dkellerman/chainpilot/internal/strategy"
)

// ResultHandler receives every settled execution after budgets and risk
// state are updated. The app layer persists, archives, and notifies here.
type ResultHandler func(ctx context.Context, s executor.Settlement)

// RejectionHandler receives every admission or allocation rejection.
type RejectionHandler func(ctx context.Context, sig domain.TradingSignal, err error)

// Pipeline is the assembled decision path.
type Pipeline struct {
	cfg         config.PipelineConfig
	lanes       int
	router      *strategy.Router
	risk        *risk.Manager
	alloc       *allocator.Allocator
	exec        *executor.Executor
	onResult    ResultHandler
	onRejection RejectionHandler
	logger      *slog.Logger
}

// New assembles a pipeline. onResult and onRejection may be nil.
func New(
	cfg config.PipelineConfig,
	execWorkers int,
	router *strategy.Router,
	riskMgr *risk.Manager,
	alloc *allocator.Allocator,
	exec *executor.Executor,
	onResult ResultHandler,
	onRejection RejectionHandler,
	logger *slog.Logger,
) *Pipeline {
	if execWorkers < 1 {
		execWorkers = 1
	}
	return &Pipeline{
		cfg:         cfg,
		lanes:       execWorkers,
		router:      router,
		risk:        riskMgr,
		alloc:       alloc,
		exec:        exec,
		onResult:    onResult,
		onRejection: onRejection,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run processes events until in closes or the context ends. When in closes,
// the stages drain in order before Run returns, so no accepted event is
// dropped on shutdown.
func (p *Pipeline) Run(ctx context.Context, in <-chan domain.MarketEvent) error {
	shards := make([]chan domain.MarketEvent, p.cfg.SymbolShards)
	for i := range shards {
		shards[i] = make(chan domain.MarketEvent, p.cfg.SignalBuffer)
	}
	lanes := make([]chan domain.RoutedSignal, p.lanes)
	for i := range lanes {
		lanes[i] = make(chan domain.RoutedSignal, p.cfg.RoutedBuffer)
	}
	settlements := make(chan executor.Settlement, p.cfg.ResultBuffer)

	g, ctx := errgroup.WithContext(ctx)

	// Dispatcher: one goroutine assigns each event to its symbol shard, so
	// all events for a symbol are admitted in arrival order.
	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case event, ok := <-in:
				if !ok {
					return nil
				}
				shard := shards[symbolShard(event.Symbol, len(shards))]
				select {
				case shard <- event:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	// Shard workers: route, evaluate, allocate. Lane assignment is derived
	// from the shard index, so a symbol's signals always execute on the
	// same lane.
	var shardWG sync.WaitGroup
	for i := range shards {
		shardWG.Add(1)
		g.Go(func() error {
			defer shardWG.Done()
			return p.runShard(ctx, shards[i], lanes[i%p.lanes])
		})
	}
	g.Go(func() error {
		shardWG.Wait()
		for _, lane := range lanes {
			close(lane)
		}
		return nil
	})

	// Execution lanes.
	g.Go(func() error {
		defer close(settlements)
		roLanes := make([]<-chan domain.RoutedSignal, len(lanes))
		for i, lane := range lanes {
			roLanes[i] = lane
		}
		return p.exec.Run(ctx, roLanes, settlements)
	})

	// Settlement: close the capital reservation, fold the result into risk
	// state, then hand off to the app layer.
	g.Go(func() error {
		for s := range settlements {
			if err := p.alloc.Settle(s.Routed, s.Result); err != nil {
				p.logger.Error("settlement failed",
					slog.String("signal", s.Result.SignalID),
					slog.String("wallet", s.Routed.WalletID),
					slog.String("error", err.Error()),
				)
			}
			p.risk.RecordResult(s.Result, s.Routed.Approved.Signal.Action, s.Routed.Approved.Signal.TargetPrice)
			if p.onResult != nil {
				p.onResult(ctx, s)
			}
		}
		return nil
	})

	return g.Wait()
}

// runShard drives one symbol shard through admission control.
func (p *Pipeline) runShard(ctx context.Context, events <-chan domain.MarketEvent, lane chan<- domain.RoutedSignal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			signals, err := p.router.Route(ctx, event)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			for _, sig := range signals {
				routed, err := p.admit(ctx, sig)
				if err != nil {
					if !domain.IsRejection(err) && ctx.Err() == nil {
						p.logger.Error("admission error",
							slog.String("signal", sig.ID),
							slog.String("error", err.Error()),
						)
					}
					if p.onRejection != nil {
						p.onRejection(ctx, sig, err)
					}
					continue
				}
				select {
				case lane <- *routed:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// admit runs one signal through risk evaluation and capital allocation.
func (p *Pipeline) admit(ctx context.Context, sig domain.TradingSignal) (*domain.RoutedSignal, error) {
	approved, err := p.risk.Evaluate(ctx, sig)
	if err != nil {
		return nil, err
	}
	return p.alloc.Allocate(ctx, *approved)
}

// symbolShard maps a symbol onto a shard index.
func symbolShard(symbol string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(shards))
}

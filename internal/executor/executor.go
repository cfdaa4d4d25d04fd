// Package executor implements the Executor: consumes validated signals from
// the PriorityQueue, runs the hard-rejection and risk gates, routes to the
// owning broker, and writes back the Position/SignalLog records. Runs
// on a fixed tick with a single in-flight drain; a "direct" variant (Direct)
// exposes the same per-signal pipeline for latency-critical callers that
// have already performed their own backpressure.
package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"scalpguard/internal/broker"
	"scalpguard/internal/brokerfilter"
	"scalpguard/internal/broker/mt4"
	"scalpguard/internal/broker/okx"
	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/kv"
	"scalpguard/internal/logger"
	"scalpguard/internal/queue"
	"scalpguard/internal/risk"
	"scalpguard/internal/signal"
	"scalpguard/internal/statestore"
)

var log = logger.With("executor")

// Executor is the Executor component.
type Executor struct {
	cfg        Config
	clock      clock.Clock
	queue      *queue.Queue
	risk       *risk.Authority
	filter     brokerfilter.Filter
	registry   *broker.Registry
	normalizer *signal.Validator
	rrRatio    float64
	agents     *statestore.AgentStore
	positions  *statestore.PositionStore
	trades     *statestore.TradeStore
	signalLogs *statestore.SignalLogStore
	bus        *kv.Bus
	kv         *kv.Store

	drainMu sync.Mutex
}

func New(cfg Config, cl clock.Clock, q *queue.Queue, ra *risk.Authority, filter brokerfilter.Filter,
	registry *broker.Registry, normalizer *signal.Validator, rrRatio float64, store *statestore.Store,
	bus *kv.Bus, kvStore *kv.Store) *Executor {
	return &Executor{
		cfg: cfg, clock: cl, queue: q, risk: ra, filter: filter, registry: registry,
		normalizer: normalizer, rrRatio: rrRatio,
		agents: store.Agents(), positions: store.Positions(), trades: store.Trades(),
		signalLogs: store.SignalLogs(), bus: bus, kv: kvStore,
	}
}

// Run starts the fixed-tick drain loop. Stops when stop is closed.
func (e *Executor) Run(ctx context.Context, stop <-chan struct{}) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.drain(ctx)
			case <-stop:
				return
			}
		}
	}()
	return &wg
}

// drain is single-flight: if a previous drain is still running (slow broker
// calls), a new tick is skipped rather than queued up reentrantly.
func (e *Executor) drain(ctx context.Context) {
	if !e.drainMu.TryLock() {
		return
	}
	defer e.drainMu.Unlock()

	batch, err := e.queue.Drain(e.cfg.BatchSize)
	if err != nil {
		log.Errorf("drain: queue pop failed: %v", err)
		return
	}
	for _, sig := range batch {
		e.Direct(ctx, sig)
	}
}

// Direct runs the full per-signal pipeline outside the queue, for
// latency-critical callers that have already performed their own
// backpressure.
func (e *Executor) Direct(ctx context.Context, sig domain.ValidatedSignal) {
	now := e.clock.Now()

	// 1. Hard rejections.
	if !sig.IsValid {
		e.reject(sig, "invalid signal: "+sig.InvalidReason, now)
		return
	}
	if sig.PositionSizeUSD <= 0 {
		e.reject(sig, "non-positive position size", now)
		return
	}
	e.recordPattern(sig, now)

	// 2. Load Agent.
	agent, err := e.agents.Get(sig.AgentID)
	if err != nil {
		e.fail(sig, fmt.Sprintf("agent lookup failed: %v", err), now)
		return
	}
	if !agent.IsActive {
		e.reject(sig, "agent is not active", now)
		return
	}

	// 3. Venue compatibility.
	if !e.filter.CanExecute(sig.Symbol, agent.Broker, sig.Category) {
		e.filtered(sig, fmt.Sprintf("%s does not support %s/%s", agent.Broker, sig.Symbol, sig.Category), now)
		return
	}

	// 4. MT4-only pre-trade risk gates, contractual order position->cooldown->daily.
	if agent.Broker == domain.BrokerMT4 {
		if ok, reason := e.risk.ValidatePreTrade(ctx, sig.Recommendation.ToSide(), agent.UserID); !ok {
			e.reject(sig, reason, now)
			return
		}
	}

	// 5. Re-normalize SL/TP as defense in depth: the same cap and RR-derived
	// target the validator applied, re-run against the price the order is
	// about to be placed at.
	sl := e.normalizer.CapStopLoss(sig.Signal, sig.RecommendedEntry)
	tp := signal.RecomputeTakeProfit(sig.Recommendation, sig.RecommendedEntry, sl, e.rrRatio)

	adapter, err := e.registry.For(agent.Broker)
	if err != nil {
		e.fail(sig, err.Error(), now)
		return
	}

	// 6. Broker-specific quantity.
	quantity, quantityErr := e.computeQuantity(ctx, adapter, agent, sig, sl)
	if quantityErr != nil {
		e.reject(sig, quantityErr.Error(), now)
		return
	}

	// 7. Place the order.
	side := sig.Recommendation.ToSide()
	result, err := adapter.CreateMarketOrder(ctx, agent.UserID, sig.Symbol, side, quantity, &sl, &tp)
	if err != nil {
		e.handleBrokerFailure(sig, err, now)
		return
	}

	// 8. Broker success.
	pos := domain.Position{
		Ticket: result.Ticket, UserID: agent.UserID, AgentID: agent.ID, Broker: agent.Broker, Symbol: sig.Symbol,
		Side: side, LotSize: quantity, EntryPrice: result.OpenPrice, CurrentPrice: result.OpenPrice,
		StopLoss: sl, OriginalStopLoss: sl, TakeProfit: tp, Status: domain.PositionOpen, OpenedAt: now,
	}
	if err := e.positions.Create(pos); err != nil {
		log.Errorf("position create failed for ticket %s: %v", result.Ticket, err)
	}
	e.bus.Publish(kv.ChannelPositionOpened, pos)

	if err := e.risk.RecordTradeOpened(); err != nil {
		log.Errorf("recordTradeOpened failed for %s: %v", agent.UserID, err)
	}

	if agent.Broker == domain.BrokerMT4 {
		e.verifyMT4SLTP(ctx, adapter, agent.UserID, result, sl, tp)
	}

	e.executed(sig, result, quantity, agent.Broker, now)
}

func (e *Executor) computeQuantity(ctx context.Context, adapter broker.Adapter, agent domain.Agent, sig domain.ValidatedSignal, sl float64) (float64, error) {
	switch agent.Broker {
	case domain.BrokerOKX:
		inst, err := adapter.InstrumentInfo(ctx, sig.Symbol)
		if err != nil {
			return 0, fmt.Errorf("instrument info failed: %w", err)
		}
		qty, ok := okx.Quantity(sig.PositionSizeUSD, sig.RecommendedEntry, inst, e.cfg.MinOrderValue)
		if !ok {
			return 0, fmt.Errorf("order value below OKX minimum even after rounding")
		}
		return qty, nil

	case domain.BrokerMT4:
		inst, err := adapter.InstrumentInfo(ctx, sig.Symbol)
		if err != nil {
			return 0, fmt.Errorf("instrument info failed: %w", err)
		}
		lots := e.risk.CalculateLotSize(sig.RecommendedEntry, sl, sig.ConsensusMultiplier)
		account, err := adapter.Account(ctx, agent.UserID)
		if err != nil {
			return 0, fmt.Errorf("account lookup failed: %w", err)
		}
		required := mt4.RequiredMargin(lots, inst.ContractSize, sig.RecommendedEntry, inst.Leverage)
		if required > account.FreeMargin {
			return 0, fmt.Errorf("insufficient free margin: need %.2f, have %.2f", required, account.FreeMargin)
		}
		return lots, nil

	default:
		return sig.PositionSizeUSD / sig.RecommendedEntry, nil
	}
}

func (e *Executor) verifyMT4SLTP(ctx context.Context, adapter broker.Adapter, userID string, result broker.OrderResult, wantSL, wantTP float64) {
	time.Sleep(1 * time.Second)
	positions, err := adapter.GetOpenPositions(ctx, userID, "")
	if err != nil {
		log.Warnf("SL/TP verification: open positions lookup failed: %v", err)
		return
	}
	for _, p := range positions {
		if p.Ticket != result.Ticket {
			continue
		}
		if math.Abs(p.StopLoss-wantSL) > wantSL*e.cfg.SLTPTolerance {
			log.Warnf("broker did not accept SL for ticket %s: want %.5f got %.5f", result.Ticket, wantSL, p.StopLoss)
		}
		if math.Abs(p.TakeProfit-wantTP) > wantTP*e.cfg.SLTPTolerance {
			log.Warnf("broker did not accept TP for ticket %s: want %.5f got %.5f", result.Ticket, wantTP, p.TakeProfit)
		}
		return
	}
}

func (e *Executor) handleBrokerFailure(sig domain.ValidatedSignal, err error, now time.Time) {
	msg := err.Error()
	if de, ok := domain.AsDomainError(err); ok {
		if de.Kind == domain.KindBrokerRejected && de.Code == domain.BrokerAutoTradingDisabled {
			log.Errorf("signal %s: autotrading disabled, operator action required", sig.SignalID)
		}
		msg = de.Reason
	}
	e.fail(sig, msg, now)
}

func (e *Executor) reject(sig domain.ValidatedSignal, reason string, now time.Time) {
	e.transition(sig, domain.SignalRejected, statestore.TerminalFields{FailedReason: reason}, now)
}

func (e *Executor) filtered(sig domain.ValidatedSignal, reason string, now time.Time) {
	e.transition(sig, domain.SignalFiltered, statestore.TerminalFields{FailedReason: reason}, now)
}

func (e *Executor) fail(sig domain.ValidatedSignal, reason string, now time.Time) {
	e.transition(sig, domain.SignalFailed, statestore.TerminalFields{FailedReason: reason}, now)
}

func (e *Executor) executed(sig domain.ValidatedSignal, result broker.OrderResult, quantity float64, brk domain.Broker, now time.Time) {
	executedAt := now
	e.transition(sig, domain.SignalExecuted, statestore.TerminalFields{
		ExecutedAt: &executedAt, ExecutionPrice: result.OpenPrice, ExecutionQuantity: quantity,
		Ticket: result.Ticket, Broker: brk,
	}, now)
}

// recordPattern publishes this signal's direction as the symbol's latest
// pattern, consulted by the PositionManager's signal-reversal auto-close.
func (e *Executor) recordPattern(sig domain.ValidatedSignal, now time.Time) {
	pattern := domain.LatestPattern{
		Symbol: sig.Symbol, Recommendation: sig.Recommendation,
		Confidence: sig.Votes.Confidence, DetectedAt: now,
	}
	if err := e.kv.Set(kv.LatestPatternKey(sig.Symbol), pattern, kv.TTLLatestPattern); err != nil {
		log.Warnf("recording latest pattern for %s failed: %v", sig.Symbol, err)
	}
}

func (e *Executor) transition(sig domain.ValidatedSignal, status domain.SignalStatus, fields statestore.TerminalFields, now time.Time) {
	if err := e.signalLogs.Transition(sig.SignalID, status, fields, now); err != nil {
		log.Warnf("signal log transition for %s to %s failed: %v", sig.SignalID, status, err)
	}
}

// Package position implements the PositionManager: a fixed-interval scanner
// that reconciles open Positions against the broker of record, auto-closes
// on signal reversal, and runs the five-rule exit ladder (time-based, 1:1
// R:R lock, percentage trailing stop, early adverse exit, SL/TP backstop)
// in the order the ladder specifies. It also reacts to severe market-drop
// alerts by liquidating every open buy position across all users.
package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"scalpguard/internal/broker"
	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/kv"
	"scalpguard/internal/logger"
	"scalpguard/internal/risk"
	"scalpguard/internal/statestore"
)

var log = logger.With("position")

// Manager is the PositionManager.
type Manager struct {
	cfg      Config
	clock    clock.Clock
	registry *broker.Registry
	risk     *risk.Authority
	kv       *kv.Store
	bus      *kv.Bus

	positions *statestore.PositionStore
	trades    *statestore.TradeStore

	scanMu sync.Mutex
}

func New(cfg Config, cl clock.Clock, registry *broker.Registry, ra *risk.Authority, kvStore *kv.Store, bus *kv.Bus, store *statestore.Store) *Manager {
	return &Manager{
		cfg: cfg, clock: cl, registry: registry, risk: ra, kv: kvStore, bus: bus,
		positions: store.Positions(), trades: store.Trades(),
	}
}

// Run starts the scan loop and the drop-alert subscriber. Both stop when
// stop is closed.
func (m *Manager) Run(ctx context.Context, stop <-chan struct{}) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.scan(ctx)
			case <-stop:
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		drops := m.bus.Subscribe(kv.ChannelDropDetected)
		for {
			select {
			case payload := <-drops:
				if alert, ok := payload.(domain.DropAlert); ok {
					m.onDropAlert(ctx, alert)
				}
			case <-stop:
				return
			}
		}
	}()

	return &wg
}

// scan is single-flight: a slow broker round-trip skips the next tick
// rather than overlapping scans.
func (m *Manager) scan(ctx context.Context) {
	if !m.scanMu.TryLock() {
		return
	}
	defer m.scanMu.Unlock()

	open, err := m.positions.ListAllOpen()
	if err != nil {
		log.Errorf("scan: list open positions failed: %v", err)
		return
	}

	byUser := make(map[string][]domain.Position)
	for _, p := range open {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}

	for userID, positions := range byUser {
		m.scanUser(ctx, userID, positions)
	}
}

func (m *Manager) scanUser(ctx context.Context, userID string, positions []domain.Position) {
	bySymbol := make(map[string][]broker.OpenPosition)
	for _, p := range positions {
		adapter, err := m.registry.For(p.Broker)
		if err != nil {
			log.Errorf("scan: resolve broker for %s: %v", p.Ticket, err)
			continue
		}
		snapshot, ok := bySymbol[p.Symbol]
		if !ok {
			snapshot, err = adapter.GetOpenPositions(ctx, userID, p.Symbol)
			if err != nil {
				log.Errorf("scan: getOpenPositions for %s/%s failed: %v", userID, p.Symbol, err)
				continue
			}
			bySymbol[p.Symbol] = snapshot
		}
		live := make(map[string]broker.OpenPosition, len(snapshot))
		for _, s := range snapshot {
			live[s.Ticket] = s
		}
		m.processPosition(ctx, adapter, p, live)
	}
}

func (m *Manager) processPosition(ctx context.Context, adapter broker.Adapter, p domain.Position, live map[string]broker.OpenPosition) {
	now := m.clock.Now()
	snapshot, stillOpen := live[p.Ticket]
	if !stillOpen {
		m.closeGone(p, now)
		return
	}
	p.CurrentPrice = snapshot.CurrentPrice
	p.Profit = snapshot.Profit

	if m.reversalClose(ctx, adapter, p, now) {
		return
	}

	m.applyExitLadder(ctx, adapter, p, now)
}

// closeGone handles a position the broker no longer reports as open: the
// MT4 "already closed" condition, recovered here rather than propagated.
func (m *Manager) closeGone(p domain.Position, now time.Time) {
	m.finalizeClose(p, domain.PositionAutoClosed, "mt4-already-closed", p.Profit, now)
}

func (m *Manager) reversalClose(ctx context.Context, adapter broker.Adapter, p domain.Position, now time.Time) bool {
	var pattern domain.LatestPattern
	ok, err := m.kv.Get(kv.LatestPatternKey(p.Symbol), &pattern)
	if err != nil || !ok || pattern.Confidence < m.cfg.ReversalMinConfidence {
		return false
	}
	reversed := (p.Side == domain.SideBuy && pattern.Recommendation == domain.RecommendationSell) ||
		(p.Side == domain.SideSell && pattern.Recommendation == domain.RecommendationBuy)
	if !reversed {
		return false
	}
	reason := "sell-signal"
	if p.Side == domain.SideSell {
		reason = "buy-signal"
	}
	return m.closeViaBroker(ctx, adapter, p, domain.PositionAutoClosed, reason, now)
}

// applyExitLadder runs the five-rule exit pipeline in order. Returns true
// if the position was closed (no further rule evaluation is meaningful).
func (m *Manager) applyExitLadder(ctx context.Context, adapter broker.Adapter, p domain.Position, now time.Time) bool {
	minutesOpen := p.MinutesOpen(now)
	progress := p.ProgressToTP()

	// 1. Time-based exit.
	if minutesOpen > m.cfg.TimeExitSlowMinutes && progress < m.cfg.TimeExitSlowProgress {
		return m.closeViaBroker(ctx, adapter, p, domain.PositionClosed, "time-exit-slow", now)
	}
	if minutesOpen > m.cfg.TimeExitMaxMinutes {
		return m.closeViaBroker(ctx, adapter, p, domain.PositionClosed, "time-exit-max", now)
	}

	// 2. Lock profit at 1:1 R:R. Does not close.
	currentProfit := p.CurrentProfitPoints()
	riskPoints := p.Risk()
	if riskPoints > 0 && currentProfit >= riskPoints && !p.OneToOneLocked {
		m.moveStopMonotone(ctx, adapter, &p, entryOffset(p.Side, p.EntryPrice, m.cfg.OneToOneLockPct*currentProfit))
		p.OneToOneLocked = true
	}

	// 3. Percentage-based trailing stop, only meaningful with a TP set.
	if p.TakeProfit != p.EntryPrice {
		tpDistance := math.Abs(p.TakeProfit - p.EntryPrice)
		if progress >= m.cfg.BreakevenProgress && !p.BreakEvenActivated {
			m.moveStopMonotone(ctx, adapter, &p, entryOffset(p.Side, p.EntryPrice, m.cfg.BreakevenBuffer))
			p.BreakEvenActivated = true
		}
		if progress >= m.cfg.ProfitLockProgress && p.BreakEvenActivated && !p.ProfitLocked75 {
			m.moveStopMonotone(ctx, adapter, &p, entryOffset(p.Side, p.EntryPrice, m.cfg.ProfitLockPct*tpDistance))
			p.ProfitLocked75 = true
		}
	}

	// 4. Early adverse exit.
	if -currentProfit >= m.cfg.EarlyExitLossPoints {
		return m.closeViaBroker(ctx, adapter, p, domain.PositionClosed, "stop-loss", now)
	}

	// 5. Application-level SL/TP backstop.
	switch p.Side {
	case domain.SideBuy:
		if p.CurrentPrice <= p.StopLoss {
			return m.closeViaBroker(ctx, adapter, p, domain.PositionClosed, "stop-loss", now)
		}
		if p.CurrentPrice >= p.TakeProfit {
			return m.closeViaBroker(ctx, adapter, p, domain.PositionClosed, "take-profit", now)
		}
	case domain.SideSell:
		if p.CurrentPrice >= p.StopLoss {
			return m.closeViaBroker(ctx, adapter, p, domain.PositionClosed, "stop-loss", now)
		}
		if p.CurrentPrice <= p.TakeProfit {
			return m.closeViaBroker(ctx, adapter, p, domain.PositionClosed, "take-profit", now)
		}
	}

	if err := m.positions.UpdateExitState(p); err != nil {
		log.Errorf("exit ladder: persist state for %s failed: %v", p.Ticket, err)
	}
	return false
}

// entryOffset returns entry+offset for buys and entry-offset for sells, so
// callers can express "N points toward profit" symmetrically.
func entryOffset(side domain.Side, entry, offset float64) float64 {
	if side == domain.SideSell {
		return entry - offset
	}
	return entry + offset
}

// moveStopMonotone applies newSL only if it tightens the stop (moves toward
// profit), never widens it, then tries to push the move to the broker.
func (m *Manager) moveStopMonotone(ctx context.Context, adapter broker.Adapter, p *domain.Position, newSL float64) {
	tighter := (p.Side == domain.SideBuy && newSL > p.StopLoss) || (p.Side == domain.SideSell && newSL < p.StopLoss)
	if !tighter {
		return
	}
	if err := adapter.ModifyStopLoss(ctx, p.UserID, p.Ticket, newSL); err != nil {
		log.Warnf("modify stop loss for %s failed: %v", p.Ticket, err)
		return
	}
	p.StopLoss = newSL
}

func (m *Manager) closeViaBroker(ctx context.Context, adapter broker.Adapter, p domain.Position, status domain.PositionStatus, reason string, now time.Time) bool {
	result, err := adapter.ClosePosition(ctx, p.UserID, p.Ticket)
	if err != nil {
		log.Errorf("close %s (%s) failed: %v", p.Ticket, reason, err)
		return false
	}
	profit := result.Profit
	if result.AlreadyClosed {
		reason = "mt4-already-closed"
	}
	m.finalizeClose(p, status, reason, profit, now)
	return true
}

func (m *Manager) finalizeClose(p domain.Position, status domain.PositionStatus, reason string, profit float64, now time.Time) {
	if err := m.positions.Close(p.Ticket, status, reason, profit, now); err != nil {
		log.Errorf("persisting close for %s failed: %v", p.Ticket, err)
	}
	if err := m.trades.Upsert(domain.Trade{
		Ticket: p.Ticket, UserID: p.UserID, AgentID: p.AgentID, Symbol: p.Symbol, Side: p.Side,
		LotSize: p.LotSize, EntryPrice: p.EntryPrice, ExitPrice: p.CurrentPrice, PnL: profit,
		OpenedAt: p.OpenedAt, ClosedAt: now, CloseReason: reason,
	}); err != nil {
		log.Errorf("syncing trade ledger for %s failed: %v", p.Ticket, err)
	}
	if err := m.risk.RecordTradeResult(profit); err != nil {
		log.Errorf("recordTradeResult for %s failed: %v", p.Ticket, err)
	}
	m.bus.Publish(kv.ChannelPositionClosed, p)
}

// onDropAlert liquidates every open buy position across all users on a
// severe market-drop alert and raises a portfolio-wide emergency.
func (m *Manager) onDropAlert(ctx context.Context, alert domain.DropAlert) {
	if alert.DropLevel != domain.DropSevere {
		return
	}
	open, err := m.positions.ListAllOpen()
	if err != nil {
		log.Errorf("drop alert: list open positions failed: %v", err)
		return
	}
	closed := 0
	for _, p := range open {
		if p.Side != domain.SideBuy {
			continue
		}
		adapter, err := m.registry.For(p.Broker)
		if err != nil {
			log.Errorf("drop alert: resolve broker for %s: %v", p.Ticket, err)
			continue
		}
		if m.closeViaBroker(ctx, adapter, p, domain.PositionAutoClosed, "market-drop", m.clock.Now()) {
			closed++
		}
	}
	if closed > 0 {
		m.bus.Publish(kv.ChannelMT4Emergency, fmt.Sprintf("market-drop liquidation: closed %d buy positions on %s", closed, alert.Symbol))
	}
}

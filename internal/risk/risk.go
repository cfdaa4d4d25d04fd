// Package risk implements the RiskAuthority: the single process-wide
// component that owns every pre-trade gate and all post-trade accounting.
// It holds three named locks (position, cooldown, daily-stats); every public
// operation acquires exactly one and releases it on every exit path. Nothing
// in this package ever holds two locks at once, and nothing under a lock
// makes a broker call except the live-position query inside CanOpenPosition,
// which the design requires for correctness against sync lag.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/logger"
	"scalpguard/internal/statestore"
)

var log = logger.With("risk")

// LivePositionSource is the narrow broker capability CanOpenPosition needs:
// a live count of open positions per side, read straight from the broker of
// record rather than the (possibly stale) durable store.
type LivePositionSource interface {
	OpenPositionSides(ctx context.Context, userID string) (buy, sell int, err error)
}

// Authority is the RiskAuthority. One instance is shared process-wide.
type Authority struct {
	cfg   Config
	clock clock.Clock
	stats *statestore.DailyStatsStore
	live  LivePositionSource

	positionLock   sync.Mutex
	cooldownLock   sync.Mutex
	dailyStatsLock sync.Mutex
}

// New builds a RiskAuthority. live is the broker adapter(s) consulted by
// CanOpenPosition; stats is the durable DailyTradingStats store.
func New(cfg Config, cl clock.Clock, stats *statestore.DailyStatsStore, live LivePositionSource) *Authority {
	return &Authority{cfg: cfg, clock: cl, stats: stats, live: live}
}

func (a *Authority) today() string {
	return clock.UTCDate(a.clock.Now())
}

// CanOpenPosition checks the live broker position count for userID against
// the per-direction and total caps. Authoritative source is the broker, not
// the durable store: the store can lag the broker by up to a sync interval
// (~5 minutes), and the risk check must not allow double-entry during that
// window.
func (a *Authority) CanOpenPosition(ctx context.Context, direction domain.Side, userID string) (bool, string) {
	a.positionLock.Lock()
	defer a.positionLock.Unlock()

	buy, sell, err := a.live.OpenPositionSides(ctx, userID)
	if err != nil {
		log.Warnf("canOpenPosition: live position query failed for %s: %v", userID, err)
		return false, "risk store unavailable"
	}
	switch direction {
	case domain.SideBuy:
		if buy >= a.cfg.MaxBuy {
			return false, "Max BUY positions reached"
		}
	case domain.SideSell:
		if sell >= a.cfg.MaxSell {
			return false, "Max SELL positions reached"
		}
	}
	if buy+sell >= a.cfg.MaxTotal {
		return false, "Max total positions reached"
	}
	return true, ""
}

// CheckAndStartCooldown enforces the minimum spacing between trades. On
// allow, it stamps lastTradeTime=now before releasing the lock; this, and
// not any external synchronization, is what prevents two concurrent signals
// from both passing cooldown.
func (a *Authority) CheckAndStartCooldown() (bool, string) {
	a.cooldownLock.Lock()
	defer a.cooldownLock.Unlock()

	stats, err := a.rolloverLocked(a.stats)
	if err != nil {
		log.Warnf("checkAndStartCooldown: store error: %v", err)
		return false, "risk store unavailable"
	}

	now := a.clock.Now()
	if stats.IsPaused {
		if now.Before(stats.PauseUntil) {
			remaining := stats.PauseUntil.Sub(now)
			return false, fmt.Sprintf("paused: %s remaining", remaining.Round(time.Second))
		}
		stats.IsPaused = false
		stats.ConsecutiveLosses = 0
	}

	wait := a.cfg.MinBetween
	if stats.LastTradeResult == domain.TradeResultLoss {
		wait = a.cfg.AfterLoss
	}
	if !stats.LastTradeTime.IsZero() {
		elapsed := now.Sub(stats.LastTradeTime)
		if elapsed < wait {
			return false, fmt.Sprintf("cooldown: %s remaining", (wait - elapsed).Round(time.Second))
		}
	}

	stats.LastTradeTime = now
	if err := a.stats.Save(stats); err != nil {
		log.Warnf("checkAndStartCooldown: save failed: %v", err)
		return false, "risk store unavailable"
	}
	return true, ""
}

// CheckDailyLimits fails closed once the daily loss or trade-count ceiling
// is hit.
func (a *Authority) CheckDailyLimits() (bool, string) {
	a.dailyStatsLock.Lock()
	defer a.dailyStatsLock.Unlock()

	stats, err := a.rolloverLocked(a.stats)
	if err != nil {
		log.Warnf("checkDailyLimits: store error: %v", err)
		return false, "risk store unavailable"
	}
	if stats.TotalPnL <= -a.cfg.MaxDailyLossUSD {
		return false, "Max daily loss reached"
	}
	if stats.TotalTrades >= a.cfg.MaxDailyTrades {
		return false, "Max daily trades reached"
	}
	return true, ""
}

// ValidatePreTrade chains the three gates above, in the contractual order
// position -> cooldown -> daily. The first failure short-circuits the rest.
func (a *Authority) ValidatePreTrade(ctx context.Context, direction domain.Side, userID string) (bool, string) {
	if ok, reason := a.CanOpenPosition(ctx, direction, userID); !ok {
		return false, reason
	}
	if ok, reason := a.CheckAndStartCooldown(); !ok {
		return false, reason
	}
	if ok, reason := a.CheckDailyLimits(); !ok {
		return false, reason
	}
	return true, ""
}

// RecordTradeOpened bumps totalTrades and lastTradeTime. Called by the
// Executor immediately after a broker fill.
func (a *Authority) RecordTradeOpened() error {
	a.dailyStatsLock.Lock()
	defer a.dailyStatsLock.Unlock()

	stats, err := a.rolloverLocked(a.stats)
	if err != nil {
		return domain.NewStoreUnavailable(err)
	}
	stats.TotalTrades++
	stats.LastTradeTime = a.clock.Now()
	return a.stats.Save(stats)
}

// RecordTradeResult folds a closed trade's pnl into today's stats, and
// triggers the consecutive-loss pause when the streak crosses the
// configured threshold.
func (a *Authority) RecordTradeResult(pnl float64) error {
	a.dailyStatsLock.Lock()
	defer a.dailyStatsLock.Unlock()

	stats, err := a.rolloverLocked(a.stats)
	if err != nil {
		return domain.NewStoreUnavailable(err)
	}

	stats.TotalPnL += pnl
	now := a.clock.Now()
	if pnl >= 0 {
		stats.WinCount++
		stats.ConsecutiveLosses = 0
		stats.LastTradeResult = domain.TradeResultWin
	} else {
		stats.LossCount++
		stats.ConsecutiveLosses++
		if stats.ConsecutiveLosses > stats.MaxConsecutiveLosses {
			stats.MaxConsecutiveLosses = stats.ConsecutiveLosses
		}
		stats.LastTradeResult = domain.TradeResultLoss
		if stats.ConsecutiveLosses >= a.cfg.MaxConsecutiveLosses && !stats.IsPaused {
			stats.IsPaused = true
			stats.PauseReason = fmt.Sprintf("%d consecutive losses", stats.ConsecutiveLosses)
			stats.PauseUntil = now.Add(a.cfg.AfterConsecutiveLosses)
		}
	}
	return a.stats.Save(stats)
}

// rolloverLocked fetches (and lazily creates) today's DailyTradingStats.
// Must be called with the relevant lock already held.
func (a *Authority) rolloverLocked(store *statestore.DailyStatsStore) (domain.DailyTradingStats, error) {
	return store.GetOrCreate(a.today())
}

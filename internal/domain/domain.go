// Package domain holds the core trading entities shared across ScalpGuard:
// agents, candidate and validated signals, positions, trades, daily stats
// and the signal lifecycle log. Nothing in here talks to a store or a
// broker; it is pure data plus the invariants the rest of the system leans on.
package domain

import "time"

// Broker identifies the venue an Agent trades through.
type Broker string

const (
	BrokerMT4     Broker = "MT4"
	BrokerOKX     Broker = "OKX"
	BrokerBinance Broker = "BINANCE"
)

// Recommendation is the directional call a candidate signal carries.
type Recommendation string

const (
	RecommendationBuy  Recommendation = "BUY"
	RecommendationSell Recommendation = "SELL"
	RecommendationHold Recommendation = "HOLD"
)

// ToSide maps a directional recommendation onto the Side a broker order
// carries. Callers must not invoke this for RecommendationHold.
func (r Recommendation) ToSide() Side {
	if r == RecommendationSell {
		return SideSell
	}
	return SideBuy
}

// Category classifies a signal's origin strategy. FibonacciScalping is the
// only category that earns a place on the priority queue.
type Category string

const (
	CategoryFibonacciScalping Category = "fibonacci-scalping"
	CategoryConfluence        Category = "confluence"
	CategoryGeneric           Category = "generic"
)

// RiskClass is the base sizing tier a ValidatedSignal is classified into
// before the RiskAuthority consensus multiplier is layered on.
type RiskClass string

const (
	RiskClassSafe     RiskClass = "SAFE"
	RiskClassModerate RiskClass = "MODERATE"
	RiskClassRisky    RiskClass = "RISKY"
)

// Side is a Position's direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionStatus is the terminal-or-not lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionAutoClosed PositionStatus = "auto-closed"
)

// SignalStatus is the lifecycle state of a SignalLog row. PENDING is the
// only non-terminal status; the rest are terminal.
type SignalStatus string

const (
	SignalPending  SignalStatus = "PENDING"
	SignalFiltered SignalStatus = "FILTERED"
	SignalRejected SignalStatus = "REJECTED"
	SignalExecuted SignalStatus = "EXECUTED"
	SignalFailed   SignalStatus = "FAILED"
)

// IsTerminal reports whether a SignalStatus can no longer transition.
func (s SignalStatus) IsTerminal() bool {
	switch s {
	case SignalFiltered, SignalRejected, SignalExecuted, SignalFailed:
		return true
	default:
		return false
	}
}

// DropLevel classifies the severity of a short-term price decline.
type DropLevel string

const (
	DropNone     DropLevel = "none"
	DropModerate DropLevel = "moderate"
	DropSevere   DropLevel = "severe"
)

// TradeResult is WIN or LOSS, used by DailyTradingStats bookkeeping.
type TradeResult string

const (
	TradeResultWin  TradeResult = "WIN"
	TradeResultLoss TradeResult = "LOSS"
)

// LLMVotes is the aggregate of 4 independent LLM agent votes feeding
// RiskAuthority.EvaluateConsensus.
type LLMVotes struct {
	Buy        int
	Sell       int
	Hold       int
	Confidence float64 // 0-100
}

// Agent is a configured trading strategy instance tied to a user and a
// broker. Treated as immutable for the duration of one decision.
type Agent struct {
	ID                     string
	UserID                 string
	Broker                 Broker
	Category               Category
	IsActive               bool
	AllowedSignalCategories []Category
}

// AllowsCategory reports whether the agent is configured to trade the given
// signal category.
func (a Agent) AllowsCategory(c Category) bool {
	for _, allowed := range a.AllowedSignalCategories {
		if allowed == c {
			return true
		}
	}
	return false
}

// Signal is a candidate signal as emitted by an external detector or LLM
// agent, before validation.
type Signal struct {
	SignalID       string
	AgentID        string
	Symbol         string
	Recommendation Recommendation
	Category       Category
	EntryHint      *float64
	StopLossHint   *float64
	TakeProfitHint *float64
	Votes          LLMVotes
}

// ValidatedSignal is a Signal after SignalValidator normalization: sizing,
// SL/TP normalization and risk classification applied.
//
// Invariant: IsValid implies PositionSizeUSD > 0, RecommendedEntry > 0, and
// StopLossPrice differs from RecommendedEntry on the risking side.
type ValidatedSignal struct {
	Signal
	IsValid           bool
	InvalidReason     string
	PositionSizeUSD   float64
	RecommendedEntry  float64
	StopLossPrice     float64
	TakeProfitPrice   float64
	RiskClass         RiskClass
	ConsensusMultiplier float64
}

// Validate checks the invariant documented on ValidatedSignal and returns a
// domain error if it is violated by a signal already marked valid.
func (v ValidatedSignal) Validate() error {
	if !v.IsValid {
		return nil
	}
	if v.PositionSizeUSD <= 0 {
		return NewInvariantViolation("validated signal has isValid=true with positionSizeUSD<=0")
	}
	if v.RecommendedEntry <= 0 {
		return NewInvariantViolation("validated signal has isValid=true with non-positive entry")
	}
	switch v.Recommendation {
	case RecommendationBuy:
		if v.StopLossPrice >= v.RecommendedEntry {
			return NewInvariantViolation("buy signal stop-loss does not risk below entry")
		}
	case RecommendationSell:
		if v.StopLossPrice <= v.RecommendedEntry {
			return NewInvariantViolation("sell signal stop-loss does not risk above entry")
		}
	}
	return nil
}

// Position is a live or closed trading position. Executor exclusively
// creates Positions; PositionManager exclusively mutates the exit-related
// fields listed below.
type Position struct {
	Ticket                string
	UserID                string
	AgentID               string
	Broker                Broker
	Symbol                string
	Side                  Side
	LotSize               float64
	EntryPrice            float64
	CurrentPrice          float64
	StopLoss              float64
	OriginalStopLoss      float64
	TakeProfit            float64
	Status                PositionStatus
	OpenedAt              time.Time
	ClosedAt              *time.Time
	CloseReason           string
	BreakEvenActivated    bool
	TrailingStopActivated bool
	HighestProfitPrice    float64
	OneToOneLocked        bool
	ProfitLocked75        bool
	Profit                float64
}

// MinutesOpen returns how long the position has been open as of `now`.
func (p Position) MinutesOpen(now time.Time) float64 {
	return now.Sub(p.OpenedAt).Minutes()
}

// ProgressToTP is (currentPrice-entry)/(TP-entry) for buys, sign-flipped for
// sells, clamped to [0,1]. Returns 0 if TakeProfit equals entry (undefined).
func (p Position) ProgressToTP() float64 {
	var progress float64
	switch p.Side {
	case SideBuy:
		denom := p.TakeProfit - p.EntryPrice
		if denom == 0 {
			return 0
		}
		progress = (p.CurrentPrice - p.EntryPrice) / denom
	case SideSell:
		denom := p.EntryPrice - p.TakeProfit
		if denom == 0 {
			return 0
		}
		progress = (p.EntryPrice - p.CurrentPrice) / denom
	}
	if progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}

// CurrentProfitPoints is the favorable price move in points (positive when
// in profit), symmetric across sides.
func (p Position) CurrentProfitPoints() float64 {
	switch p.Side {
	case SideBuy:
		return p.CurrentPrice - p.EntryPrice
	case SideSell:
		return p.EntryPrice - p.CurrentPrice
	}
	return 0
}

// Risk is the distance in points between entry and stop loss.
func (p Position) Risk() float64 {
	d := p.EntryPrice - p.StopLoss
	if d < 0 {
		return -d
	}
	return d
}

// Trade is a ledger row mirroring a Position for downstream accounting,
// keyed by Ticket.
type Trade struct {
	Ticket      string
	UserID      string
	AgentID     string
	Symbol      string
	Side        Side
	LotSize     float64
	EntryPrice  float64
	ExitPrice   float64
	PnL         float64
	OpenedAt    time.Time
	ClosedAt    time.Time
	CloseReason string
}

// DailyTradingStats is one document per UTC date.
//
// Invariant: WinCount + LossCount <= TotalTrades.
type DailyTradingStats struct {
	Date               string // YYYY-MM-DD, UTC
	TotalTrades        int
	WinCount           int
	LossCount          int
	TotalPnL           float64
	ConsecutiveLosses  int
	MaxConsecutiveLosses int
	LastTradeTime      time.Time
	LastTradeResult    TradeResult
	IsPaused           bool
	PauseReason        string
	PauseUntil         time.Time
}

// SignalLog is the per-signal lifecycle audit row.
type SignalLog struct {
	SignalID          string
	AgentID           string
	Status            SignalStatus
	FailedReason      string
	ExecutedAt        *time.Time
	ExecutionPrice    float64
	ExecutionQuantity float64
	Ticket            string
	Broker            Broker
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transition moves the log to a new status, enforcing that terminal
// statuses never transition again.
func (s *SignalLog) Transition(to SignalStatus, now time.Time) error {
	if s.Status.IsTerminal() {
		return NewInvariantViolation("signal log " + s.SignalID + " already terminal at " + string(s.Status))
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

// MarketCondition is the transient output of the MarketDropDetector for one
// symbol, stored in KVStore with a 60s TTL.
type MarketCondition struct {
	Symbol         string
	CurrentPrice   float64
	PriceChange1m  float64
	PriceChange3m  float64
	PriceChange5m  float64
	VolumeChange   float64
	Velocity       float64
	DropLevel      DropLevel
	Timestamp      time.Time
}

// DropAlert is the pub-sub payload published on the market_drops channel.
type DropAlert struct {
	Symbol    string
	DropLevel DropLevel
	Condition MarketCondition
	Timestamp time.Time
}

// LatestPattern is the most recent directional signal seen for a symbol,
// independent of which agent or broker it was destined for. The
// PositionManager reads this to decide signal-reversal auto-close.
type LatestPattern struct {
	Symbol         string
	Recommendation Recommendation
	Confidence     float64
	DetectedAt     time.Time
}

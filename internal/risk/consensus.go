package risk

import (
	"math"

	"scalpguard/internal/domain"
)

// ConsensusResult is the outcome of evaluating a 4-voter LLM consensus.
type ConsensusResult struct {
	ShouldTrade    bool
	Direction      domain.Side
	SizeMultiplier float64
	Pattern        string
	Reason         string
}

// EvaluateConsensus applies the fixed 4-voter decision table. hold >= 3
// always rejects regardless of the buy/sell split.
func (a *Authority) EvaluateConsensus(votes domain.LLMVotes) ConsensusResult {
	b, s, h := votes.Buy, votes.Sell, votes.Hold

	reject := func(pattern, reason string) ConsensusResult {
		return ConsensusResult{ShouldTrade: false, Pattern: pattern, Reason: reason}
	}
	trade := func(dir domain.Side, mult float64, pattern string) ConsensusResult {
		return ConsensusResult{ShouldTrade: true, Direction: dir, SizeMultiplier: mult, Pattern: pattern}
	}

	if h >= 3 {
		return reject("hold-majority", "uncertainty")
	}
	switch {
	case b == 4 && s == 0 && h == 0:
		return trade(domain.SideBuy, 1.00, "4-0-0")
	case s == 4 && b == 0 && h == 0:
		return trade(domain.SideSell, 1.00, "0-4-0")
	case b == 3 && s == 0 && h == 1:
		return trade(domain.SideBuy, 1.00, "3-0-1")
	case s == 3 && b == 0 && h == 1:
		return trade(domain.SideSell, 1.00, "0-3-1")
	case b == 3 && s == 1 && h == 0:
		return trade(domain.SideBuy, 0.75, "3-1-0")
	case s == 3 && b == 1 && h == 0:
		return trade(domain.SideSell, 0.75, "1-3-0")
	case b == 2 && s == 0 && h == 2:
		if votes.Confidence >= a.cfg.MinConfidenceForWeak {
			return trade(domain.SideBuy, 0.50, "2-0-2")
		}
		return reject("2-0-2", "low confidence")
	case s == 2 && b == 0 && h == 2:
		if votes.Confidence >= a.cfg.MinConfidenceForWeak {
			return trade(domain.SideSell, 0.50, "0-2-2")
		}
		return reject("0-2-2", "low confidence")
	case b == 2 && s == 2:
		return reject("2-2-0", "tie")
	case (b == 2 && s == 1 && h == 1) || (b == 1 && s == 2 && h == 1):
		return reject("opposed-uncertain", "opposition + uncertainty")
	case b == 1 && s == 1:
		return reject("split", "split")
	default:
		return reject("insufficient", "insufficient")
	}
}

// CalculateLotSize derives a lot size from the configured per-trade risk
// budget, the entry/stop distance, and the consensus size multiplier.
func (a *Authority) CalculateLotSize(entry, stopLoss, consensusMultiplier float64) float64 {
	dist := math.Abs(entry - stopLoss)
	if dist <= 0 {
		log.Warnf("calculateLotSize: non-positive SL distance (entry=%v sl=%v), falling back to MinLot", entry, stopLoss)
		return a.cfg.MinLot
	}
	risk := a.cfg.MaxRiskPerTradeUSD * consensusMultiplier
	lots := risk / (dist * a.cfg.PointValuePerLot) * consensusMultiplier
	if lots < a.cfg.MinLot {
		lots = a.cfg.MinLot
	}
	if lots > a.cfg.MaxLot {
		lots = a.cfg.MaxLot
	}
	return math.Round(lots*100) / 100
}

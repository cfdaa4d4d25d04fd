// Package signal implements the SignalValidator: turns a candidate Signal
// into a ValidatedSignal by normalizing entry/SL/TP, classifying risk, and
// deriving a base position size. The LLM's own TP hint is always discarded
// in favor of the RR-derived target, to keep targets realistic.
package signal

import (
	"context"
	"fmt"
	"math"

	"scalpguard/internal/brokerfilter"
	"scalpguard/internal/domain"
	"scalpguard/internal/logger"
	"scalpguard/internal/risk"
)

var log = logger.With("signal")

// PriceSource fetches a reference price for normalization when a candidate
// signal carries no entry hint.
type PriceSource interface {
	CurrentPrice(ctx context.Context, broker domain.Broker, symbol string) (float64, error)
}

// ConsensusEvaluator is the narrow RiskAuthority capability Validate needs:
// the fixed 4-voter decision table that gates trade eligibility and derives
// the consensus size multiplier later layered into MT4 lot sizing.
type ConsensusEvaluator interface {
	EvaluateConsensus(votes domain.LLMVotes) risk.ConsensusResult
}

// Validator is the SignalValidator.
type Validator struct {
	cfg       Config
	prices    PriceSource
	filter    brokerfilter.Filter
	consensus ConsensusEvaluator
}

func New(cfg Config, prices PriceSource, filter brokerfilter.Filter, consensus ConsensusEvaluator) *Validator {
	return &Validator{cfg: cfg, prices: prices, filter: filter, consensus: consensus}
}

// Validate normalizes a candidate signal against the owning agent and
// returns a ValidatedSignal. It never errors on a bad signal; isValid=false
// with a reason is the normal outcome; it only errors when the price lookup
// itself fails (a signal with no usable entry cannot be validated at all).
func (v *Validator) Validate(ctx context.Context, cand domain.Signal, agent domain.Agent) (domain.ValidatedSignal, error) {
	out := domain.ValidatedSignal{Signal: cand}

	entry, err := v.resolveEntry(ctx, cand, agent)
	if err != nil {
		return domain.ValidatedSignal{}, fmt.Errorf("signal: resolve entry for %s: %w", cand.SignalID, err)
	}
	out.RecommendedEntry = entry

	sl := v.CapStopLoss(cand, entry)
	out.StopLossPrice = sl

	out.TakeProfitPrice = RecomputeTakeProfit(cand.Recommendation, entry, sl, v.cfg.RRRatio)

	riskClass := classifyRisk(cand.Votes)
	out.RiskClass = riskClass
	out.PositionSizeUSD = v.cfg.AccountRiskUSD * sizingFactor(v.cfg, riskClass)

	consensus := v.consensus.EvaluateConsensus(cand.Votes)
	out.ConsensusMultiplier = consensus.SizeMultiplier

	out.IsValid, out.InvalidReason = v.decideValidity(out, agent, consensus)
	return out, nil
}

func (v *Validator) resolveEntry(ctx context.Context, cand domain.Signal, agent domain.Agent) (float64, error) {
	if cand.EntryHint != nil && *cand.EntryHint > 0 {
		return *cand.EntryHint, nil
	}
	price, err := v.prices.CurrentPrice(ctx, agent.Broker, cand.Symbol)
	if err != nil {
		return 0, err
	}
	return price, nil
}

// CapStopLoss enforces MAX_SL_POINTS and installs DEFAULT_SL_POINTS when the
// candidate supplied no stop loss at all. Exported so the Executor can
// re-apply it at dispatch time as a defense-in-depth check.
func (v *Validator) CapStopLoss(cand domain.Signal, entry float64) float64 {
	sign := slSign(cand.Recommendation)

	if cand.StopLossHint == nil {
		return entry + sign*v.cfg.DefaultSLPoints
	}
	dist := math.Abs(entry - *cand.StopLossHint)
	if dist > v.cfg.MaxSLPoints {
		log.Warnf("capping stop loss for %s: hinted distance %.2f exceeds max %.2f", cand.SignalID, dist, v.cfg.MaxSLPoints)
		return entry + sign*v.cfg.MaxSLPoints
	}
	return *cand.StopLossHint
}

// slSign returns -1 for a stop that must sit below entry (buys) and +1 for
// one that must sit above (sells).
func slSign(rec domain.Recommendation) float64 {
	if rec == domain.RecommendationSell {
		return 1
	}
	return -1
}

// RecomputeTakeProfit derives TP from the RR ratio; the LLM's own TP hint is
// always discarded in favor of this.
func RecomputeTakeProfit(rec domain.Recommendation, entry, sl, rrRatio float64) float64 {
	dist := math.Abs(entry - sl)
	if rec == domain.RecommendationSell {
		return entry - dist*rrRatio
	}
	return entry + dist*rrRatio
}

func classifyRisk(votes domain.LLMVotes) domain.RiskClass {
	switch {
	case votes.Confidence >= 80 && votes.Hold == 0:
		return domain.RiskClassSafe
	case votes.Confidence >= 60:
		return domain.RiskClassModerate
	default:
		return domain.RiskClassRisky
	}
}

func sizingFactor(cfg Config, class domain.RiskClass) float64 {
	switch class {
	case domain.RiskClassSafe:
		return cfg.SafeFactor
	case domain.RiskClassModerate:
		return cfg.ModerateFactor
	default:
		return cfg.RiskyFactor
	}
}

func (v *Validator) decideValidity(vs domain.ValidatedSignal, agent domain.Agent, consensus risk.ConsensusResult) (bool, string) {
	if vs.PositionSizeUSD <= 0 {
		return false, "non-positive position size"
	}
	if vs.StopLossPrice == vs.RecommendedEntry {
		return false, "stop loss equals entry"
	}
	if !v.filter.Supports(agent.Broker, vs.Symbol) {
		return false, fmt.Sprintf("%s does not support %s", agent.Broker, vs.Symbol)
	}
	if !agent.AllowsCategory(vs.Category) {
		return false, fmt.Sprintf("agent does not allow category %s", vs.Category)
	}
	if !consensus.ShouldTrade {
		return false, fmt.Sprintf("consensus rejected: %s", consensus.Reason)
	}
	return true, ""
}

package risk

import "time"

// Config holds every tunable RiskAuthority constant. All fields have the
// defaults named in the component design; callers may override any of them.
type Config struct {
	MaxBuy   int
	MaxSell  int
	MaxTotal int

	MinBetween             time.Duration
	AfterLoss              time.Duration
	AfterConsecutiveLosses time.Duration

	MaxDailyLossUSD      float64
	MaxDailyTrades       int
	MaxConsecutiveLosses int

	MaxRiskPerTradeUSD float64
	MinLot             float64
	MaxLot             float64
	PointValuePerLot   float64

	MinConfidenceForWeak float64
}

// DefaultConfig returns the fixed defaults named in the component design.
func DefaultConfig() Config {
	return Config{
		MaxBuy:   1,
		MaxSell:  1,
		MaxTotal: 2,

		MinBetween:             15 * time.Minute,
		AfterLoss:              30 * time.Minute,
		AfterConsecutiveLosses: 60 * time.Minute,

		MaxDailyLossUSD:      100,
		MaxDailyTrades:       40,
		MaxConsecutiveLosses: 3,

		MaxRiskPerTradeUSD: 15,
		MinLot:             0.01,
		MaxLot:             0.20,
		PointValuePerLot:   1,

		MinConfidenceForWeak: 60,
	}
}

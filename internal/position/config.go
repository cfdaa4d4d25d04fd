package position

import "time"

// Config holds the PositionManager's exit-rule and scan-loop constants.
type Config struct {
	ScanInterval time.Duration

	TimeExitSlowMinutes float64
	TimeExitSlowProgress float64
	TimeExitMaxMinutes  float64

	OneToOneLockPct float64 // fraction of currentProfit locked in at 1:1

	BreakevenProgress  float64 // progress-to-TP that triggers breakeven-plus-buffer
	BreakevenBuffer    float64 // points beyond entry the SL moves to at breakeven
	ProfitLockProgress float64 // progress-to-TP that triggers the 75% lock
	ProfitLockPct      float64 // fraction of TP distance locked in at that stage

	EarlyExitLossPoints float64

	ReversalMinConfidence float64

	MarketDropSeverityBuysOnly bool
}

func DefaultConfig() Config {
	return Config{
		ScanInterval: 10 * time.Second,

		TimeExitSlowMinutes:  15,
		TimeExitSlowProgress: 0.25,
		TimeExitMaxMinutes:   30,

		OneToOneLockPct: 0.50,

		BreakevenProgress:  0.50,
		BreakevenBuffer:    5,
		ProfitLockProgress: 0.75,
		ProfitLockPct:      0.50,

		EarlyExitLossPoints: 80,

		ReversalMinConfidence: 60,

		MarketDropSeverityBuysOnly: true,
	}
}

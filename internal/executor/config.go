package executor

import "time"

// Config configures the Executor's drain loop and OKX sizing constants.
type Config struct {
	TickInterval  time.Duration
	BatchSize     int
	MinOrderValue float64 // OKX minimum order value in USDT
	SLTPTolerance float64 // fraction, e.g. 0.001 = 0.1%
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  1 * time.Second,
		BatchSize:     20,
		MinOrderValue: 20,
		SLTPTolerance: 0.001,
	}
}

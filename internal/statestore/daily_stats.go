package statestore

import (
	"database/sql"

	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
)

// DailyStatsStore persists one DailyTradingStats document per UTC date.
// Exclusively mutated by RiskAuthority under its dailyStatsLock; this store
// performs the single-document atomic writes the lock relies on.
type DailyStatsStore struct {
	db    *sql.DB
	clock clock.Clock
}

func (s *DailyStatsStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_trading_stats (
			date TEXT PRIMARY KEY,
			total_trades INTEGER NOT NULL DEFAULT 0,
			win_count INTEGER NOT NULL DEFAULT 0,
			loss_count INTEGER NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL DEFAULT 0,
			max_consecutive_losses INTEGER NOT NULL DEFAULT 0,
			last_trade_time DATETIME,
			last_trade_result TEXT NOT NULL DEFAULT '',
			is_paused BOOLEAN NOT NULL DEFAULT 0,
			pause_reason TEXT NOT NULL DEFAULT '',
			pause_until DATETIME
		)
	`)
	return err
}

// GetOrCreate fetches today's stats document, lazily creating an empty one
// if this is the first operation for that UTC date. Rollover happens at the
// first operation whose UTC date differs from the stored row's date.
func (s *DailyStatsStore) GetOrCreate(date string) (domain.DailyTradingStats, error) {
	stats, err := s.get(date)
	if err == nil {
		return stats, nil
	}
	if err != sql.ErrNoRows {
		return domain.DailyTradingStats{}, err
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO daily_trading_stats (date) VALUES (?)`, date)
	if err != nil {
		return domain.DailyTradingStats{}, err
	}
	return s.get(date)
}

func (s *DailyStatsStore) get(date string) (domain.DailyTradingStats, error) {
	var d domain.DailyTradingStats
	var lastTradeTime, pauseUntil sql.NullTime
	var lastTradeResult string
	row := s.db.QueryRow(`
		SELECT date, total_trades, win_count, loss_count, total_pnl, consecutive_losses,
			max_consecutive_losses, last_trade_time, last_trade_result, is_paused, pause_reason, pause_until
		FROM daily_trading_stats WHERE date = ?`, date)
	err := row.Scan(&d.Date, &d.TotalTrades, &d.WinCount, &d.LossCount, &d.TotalPnL, &d.ConsecutiveLosses,
		&d.MaxConsecutiveLosses, &lastTradeTime, &lastTradeResult, &d.IsPaused, &d.PauseReason, &pauseUntil)
	if err != nil {
		return domain.DailyTradingStats{}, err
	}
	d.LastTradeResult = domain.TradeResult(lastTradeResult)
	if lastTradeTime.Valid {
		d.LastTradeTime = lastTradeTime.Time
	}
	if pauseUntil.Valid {
		d.PauseUntil = pauseUntil.Time
	}
	return d, nil
}

// Save writes the full document back (single-document atomic update: one
// UPDATE statement, called while the caller holds dailyStatsLock).
func (s *DailyStatsStore) Save(d domain.DailyTradingStats) error {
	var lastTradeTime, pauseUntil interface{}
	if !d.LastTradeTime.IsZero() {
		lastTradeTime = d.LastTradeTime
	}
	if !d.PauseUntil.IsZero() {
		pauseUntil = d.PauseUntil
	}
	_, err := s.db.Exec(`
		UPDATE daily_trading_stats SET
			total_trades = ?, win_count = ?, loss_count = ?, total_pnl = ?,
			consecutive_losses = ?, max_consecutive_losses = ?, last_trade_time = ?,
			last_trade_result = ?, is_paused = ?, pause_reason = ?, pause_until = ?
		WHERE date = ?
	`, d.TotalTrades, d.WinCount, d.LossCount, d.TotalPnL, d.ConsecutiveLosses,
		d.MaxConsecutiveLosses, lastTradeTime, string(d.LastTradeResult), d.IsPaused,
		d.PauseReason, pauseUntil, d.Date)
	return err
}

// Get fetches an arbitrary date's stats for the API surface; returns the
// zero-trades document if the date was never touched.
func (s *DailyStatsStore) Get(date string) (domain.DailyTradingStats, error) {
	d, err := s.get(date)
	if err == sql.ErrNoRows {
		return domain.DailyTradingStats{Date: date}, nil
	}
	return d, err
}

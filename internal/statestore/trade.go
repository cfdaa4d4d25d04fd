package statestore

import (
	"database/sql"

	"scalpguard/internal/domain"
)

// TradeStore persists Trade ledger rows, keyed by ticket, mirroring a
// Position for downstream accounting.
type TradeStore struct {
	db *sql.DB
}

func (s *TradeStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			ticket TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			lot_size REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			close_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_user_id ON trades(user_id)`)
	return err
}

// Upsert writes (or reconciles) a Trade row for the given ticket.
func (s *TradeStore) Upsert(t domain.Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (ticket, user_id, agent_id, symbol, side, lot_size, entry_price, exit_price, pnl, opened_at, closed_at, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticket) DO UPDATE SET
			exit_price=excluded.exit_price, pnl=excluded.pnl, closed_at=excluded.closed_at, close_reason=excluded.close_reason
	`, t.Ticket, t.UserID, t.AgentID, t.Symbol, string(t.Side), t.LotSize, t.EntryPrice, t.ExitPrice, t.PnL, t.OpenedAt, t.ClosedAt, t.CloseReason)
	return err
}

package statestore

import (
	"database/sql"
	"fmt"
	"time"

	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
)

// PositionStore persists Position rows. Executor exclusively creates rows
// here (Create); PositionManager exclusively mutates the exit-related
// fields (UpdateExitState, Close). Everyone else reads.
type PositionStore struct {
	db    *sql.DB
	clock clock.Clock
}

func (s *PositionStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			ticket TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			broker TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			lot_size REAL NOT NULL,
			entry_price REAL NOT NULL,
			current_price REAL NOT NULL DEFAULT 0,
			stop_loss REAL NOT NULL DEFAULT 0,
			original_stop_loss REAL NOT NULL DEFAULT 0,
			take_profit REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			close_reason TEXT NOT NULL DEFAULT '',
			break_even_activated BOOLEAN NOT NULL DEFAULT 0,
			trailing_stop_activated BOOLEAN NOT NULL DEFAULT 0,
			highest_profit_price REAL NOT NULL DEFAULT 0,
			one_to_one_locked BOOLEAN NOT NULL DEFAULT 0,
			profit_locked_75 BOOLEAN NOT NULL DEFAULT 0,
			profit REAL NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions(user_id, status)`)
	_, _ = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_ticket ON positions(ticket)`)
	_, err = s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS update_positions_updated_at
		AFTER UPDATE ON positions
		BEGIN
			UPDATE positions SET updated_at = CURRENT_TIMESTAMP WHERE ticket = NEW.ticket;
		END
	`)
	return err
}

// Create inserts a new, open Position. Only the Executor may call this.
func (s *PositionStore) Create(p domain.Position) error {
	_, err := s.db.Exec(`
		INSERT INTO positions (
			ticket, user_id, agent_id, broker, symbol, side, lot_size, entry_price, current_price,
			stop_loss, original_stop_loss, take_profit, status, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Ticket, p.UserID, p.AgentID, string(p.Broker), p.Symbol, string(p.Side), p.LotSize, p.EntryPrice, p.CurrentPrice,
		p.StopLoss, p.OriginalStopLoss, p.TakeProfit, string(domain.PositionOpen), p.OpenedAt)
	return err
}

// Get fetches a Position by ticket.
func (s *PositionStore) Get(ticket string) (domain.Position, error) {
	row := s.db.QueryRow(`
		SELECT ticket, user_id, agent_id, broker, symbol, side, lot_size, entry_price, current_price,
			stop_loss, original_stop_loss, take_profit, status, opened_at, closed_at, close_reason,
			break_even_activated, trailing_stop_activated, highest_profit_price, one_to_one_locked,
			profit_locked_75, profit
		FROM positions WHERE ticket = ?`, ticket)
	return scanPosition(row.Scan)
}

// ListOpenByUser returns every open position for a user, used by the API's
// positions endpoint.
func (s *PositionStore) ListOpenByUser(userID string) ([]domain.Position, error) {
	rows, err := s.db.Query(`
		SELECT ticket, user_id, agent_id, broker, symbol, side, lot_size, entry_price, current_price,
			stop_loss, original_stop_loss, take_profit, status, opened_at, closed_at, close_reason,
			break_even_activated, trailing_stop_activated, highest_profit_price, one_to_one_locked,
			profit_locked_75, profit
		FROM positions WHERE user_id = ? AND status = ?`, userID, string(domain.PositionOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListAllOpen returns every open position across all users, used by the
// market-drop emergency liquidation path.
func (s *PositionStore) ListAllOpen() ([]domain.Position, error) {
	rows, err := s.db.Query(`
		SELECT ticket, user_id, agent_id, broker, symbol, side, lot_size, entry_price, current_price,
			stop_loss, original_stop_loss, take_profit, status, opened_at, closed_at, close_reason,
			break_even_activated, trailing_stop_activated, highest_profit_price, one_to_one_locked,
			profit_locked_75, profit
		FROM positions WHERE status = ?`, string(domain.PositionOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateExitState persists the exit-management fields the PositionManager
// owns: stopLoss, breakEvenActivated, highestProfitPrice, oneToOneLocked,
// profitLocked75, trailingStopActivated, currentPrice, profit.
func (s *PositionStore) UpdateExitState(p domain.Position) error {
	_, err := s.db.Exec(`
		UPDATE positions SET
			current_price = ?, stop_loss = ?, break_even_activated = ?,
			trailing_stop_activated = ?, highest_profit_price = ?,
			one_to_one_locked = ?, profit_locked_75 = ?, profit = ?
		WHERE ticket = ? AND status = ?
	`, p.CurrentPrice, p.StopLoss, p.BreakEvenActivated, p.TrailingStopActivated,
		p.HighestProfitPrice, p.OneToOneLocked, p.ProfitLocked75, p.Profit,
		p.Ticket, string(domain.PositionOpen))
	return err
}

// Close marks a position closed (or auto-closed) with a reason and final
// profit. Only the PositionManager calls this.
func (s *PositionStore) Close(ticket string, status domain.PositionStatus, reason string, profit float64, closedAt time.Time) error {
	if status != domain.PositionClosed && status != domain.PositionAutoClosed {
		return fmt.Errorf("statestore: invalid terminal status %s", status)
	}
	res, err := s.db.Exec(`
		UPDATE positions SET status = ?, close_reason = ?, profit = ?, closed_at = ?
		WHERE ticket = ? AND status = ?
	`, string(status), reason, profit, closedAt, ticket, string(domain.PositionOpen))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("statestore: close %s: already terminal or not found", ticket)
	}
	return nil
}

// CountOpenByUser counts live open buy/sell positions from the durable
// store. RiskAuthority.canOpenPosition does NOT use this (it queries the
// broker directly to tolerate sync lag).
func (s *PositionStore) CountOpenByUser(userID string) (buy, sell int, err error) {
	rows, err := s.db.Query(`SELECT side, COUNT(*) FROM positions WHERE user_id = ? AND status = ? GROUP BY side`, userID, string(domain.PositionOpen))
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var side string
		var n int
		if err := rows.Scan(&side, &n); err != nil {
			return 0, 0, err
		}
		switch domain.Side(side) {
		case domain.SideBuy:
			buy = n
		case domain.SideSell:
			sell = n
		}
	}
	return buy, sell, rows.Err()
}

type scanner func(dest ...interface{}) error

func scanPosition(scan scanner) (domain.Position, error) {
	var p domain.Position
	var brokerName, side, status string
	var closedAt sql.NullTime
	err := scan(
		&p.Ticket, &p.UserID, &p.AgentID, &brokerName, &p.Symbol, &side, &p.LotSize, &p.EntryPrice, &p.CurrentPrice,
		&p.StopLoss, &p.OriginalStopLoss, &p.TakeProfit, &status, &p.OpenedAt, &closedAt, &p.CloseReason,
		&p.BreakEvenActivated, &p.TrailingStopActivated, &p.HighestProfitPrice, &p.OneToOneLocked,
		&p.ProfitLocked75, &p.Profit,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Broker = domain.Broker(brokerName)
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return p, nil
}

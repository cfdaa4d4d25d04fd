package statestore

import (
	"database/sql"
	"fmt"
	"time"

	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
)

// SignalLogStore persists the per-signal lifecycle audit trail: PENDING
// through exactly one terminal status (FILTERED, REJECTED, EXECUTED,
// FAILED).
type SignalLogStore struct {
	db    *sql.DB
	clock clock.Clock
}

func (s *SignalLogStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS signal_logs (
			signal_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			failed_reason TEXT NOT NULL DEFAULT '',
			executed_at DATETIME,
			execution_price REAL NOT NULL DEFAULT 0,
			execution_quantity REAL NOT NULL DEFAULT 0,
			ticket TEXT NOT NULL DEFAULT '',
			broker TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_signal_logs_agent_id ON signal_logs(agent_id)`)
	return err
}

// Create inserts a new PENDING SignalLog row. Called the moment a candidate
// signal is admitted into the pipeline, before any validation outcome.
func (s *SignalLogStore) Create(signalID, agentID string, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO signal_logs (signal_id, agent_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, signalID, agentID, string(domain.SignalPending), now, now)
	return err
}

// Transition moves a signal to a terminal status. Fails if the row is
// already terminal (enforcing the monotonic status invariant at the store
// layer, in addition to domain.SignalLog.Transition in memory).
func (s *SignalLogStore) Transition(signalID string, to domain.SignalStatus, fields TerminalFields, now time.Time) error {
	res, err := s.db.Exec(`
		UPDATE signal_logs SET
			status = ?, failed_reason = ?, executed_at = ?, execution_price = ?,
			execution_quantity = ?, ticket = ?, broker = ?, updated_at = ?
		WHERE signal_id = ? AND status = ?
	`, string(to), fields.FailedReason, fields.ExecutedAt, fields.ExecutionPrice,
		fields.ExecutionQuantity, fields.Ticket, string(fields.Broker), now,
		signalID, string(domain.SignalPending))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("statestore: signal %s already terminal or missing", signalID)
	}
	return nil
}

// TerminalFields carries the fields set when a SignalLog transitions to a
// terminal status.
type TerminalFields struct {
	FailedReason      string
	ExecutedAt        *time.Time
	ExecutionPrice    float64
	ExecutionQuantity float64
	Ticket            string
	Broker            domain.Broker
}

// Get fetches a SignalLog row by id.
func (s *SignalLogStore) Get(signalID string) (domain.SignalLog, error) {
	var l domain.SignalLog
	var status, broker string
	var executedAt sql.NullTime
	row := s.db.QueryRow(`
		SELECT signal_id, agent_id, status, failed_reason, executed_at, execution_price,
			execution_quantity, ticket, broker, created_at, updated_at
		FROM signal_logs WHERE signal_id = ?`, signalID)
	err := row.Scan(&l.SignalID, &l.AgentID, &status, &l.FailedReason, &executedAt, &l.ExecutionPrice,
		&l.ExecutionQuantity, &l.Ticket, &broker, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return domain.SignalLog{}, err
	}
	l.Status = domain.SignalStatus(status)
	l.Broker = domain.Broker(broker)
	if executedAt.Valid {
		t := executedAt.Time
		l.ExecutedAt = &t
	}
	return l, nil
}

// Package statestore is the durable document store for Agent, Position,
// Trade, DailyTradingStats and SignalLog. It is backed by SQLite
// (modernc.org/sqlite, a pure-Go driver requiring no cgo) through
// database/sql, one table per entity, with a CREATE TABLE IF NOT EXISTS
// per table (positions also carries an updated_at trigger). Single-document updates are atomic
// (one UPDATE statement); no cross-document transactions are required.
package statestore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"scalpguard/internal/clock"
)

// Store bundles the five entity stores behind a single handle, reached
// through sub-accessors (s.Agents(), s.Positions(), ...).
type Store struct {
	db    *sql.DB
	clock clock.Clock

	agents      *AgentStore
	positions   *PositionStore
	trades      *TradeStore
	dailyStats  *DailyStatsStore
	signalLogs  *SignalLogStore
}

// Open opens (or creates) the SQLite database at path and initializes every
// entity table.
func Open(path string, cl clock.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, avoid SQLITE_BUSY under the in-process write load

	if cl == nil {
		cl = clock.Real{}
	}
	s := &Store{db: db, clock: cl}
	s.agents = &AgentStore{db: db}
	s.positions = &PositionStore{db: db, clock: cl}
	s.trades = &TradeStore{db: db}
	s.dailyStats = &DailyStatsStore{db: db, clock: cl}
	s.signalLogs = &SignalLogStore{db: db, clock: cl}

	for _, initer := range []interface{ initTables() error }{
		s.agents, s.positions, s.trades, s.dailyStats, s.signalLogs,
	} {
		if err := initer.initTables(); err != nil {
			db.Close()
			return nil, fmt.Errorf("statestore: init tables: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the underlying database connection is alive, used by the
// readiness endpoint.
func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) Agents() *AgentStore           { return s.agents }
func (s *Store) Positions() *PositionStore     { return s.positions }
func (s *Store) Trades() *TradeStore           { return s.trades }
func (s *Store) DailyStats() *DailyStatsStore  { return s.dailyStats }
func (s *Store) SignalLogs() *SignalLogStore   { return s.signalLogs }

package statestore

import (
	"database/sql"
	"fmt"
	"strings"

	"scalpguard/internal/domain"
)

// AgentStore persists Agent rows. Agents are externally managed (created
// out of band); this store is mostly read-heavy lookups by id.
type AgentStore struct {
	db *sql.DB
}

func (s *AgentStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			broker TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			allowed_categories TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_user_id ON agents(user_id)`)
	return err
}

// Upsert creates or replaces an Agent row.
func (s *AgentStore) Upsert(a domain.Agent) error {
	cats := make([]string, len(a.AllowedSignalCategories))
	for i, c := range a.AllowedSignalCategories {
		cats[i] = string(c)
	}
	_, err := s.db.Exec(`
		INSERT INTO agents (id, user_id, broker, category, is_active, allowed_categories, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, broker=excluded.broker, category=excluded.category,
			is_active=excluded.is_active, allowed_categories=excluded.allowed_categories,
			updated_at=CURRENT_TIMESTAMP
	`, a.ID, a.UserID, string(a.Broker), string(a.Category), a.IsActive, strings.Join(cats, ","))
	return err
}

// ActiveAgentForUser returns the first active Agent owned by userID. Used by
// broker.LiveSource to resolve which broker's adapter to query for a
// user-scoped risk check.
func (s *AgentStore) ActiveAgentForUser(userID string) (domain.Agent, error) {
	row := s.db.QueryRow(`SELECT id, user_id, broker, category, is_active, allowed_categories
		FROM agents WHERE user_id = ? AND is_active = 1 LIMIT 1`, userID)
	var a domain.Agent
	var broker, category, cats string
	if err := row.Scan(&a.ID, &a.UserID, &broker, &category, &a.IsActive, &cats); err != nil {
		if err == sql.ErrNoRows {
			return domain.Agent{}, fmt.Errorf("statestore: no active agent for user %s: %w", userID, err)
		}
		return domain.Agent{}, err
	}
	a.Broker = domain.Broker(broker)
	a.Category = domain.Category(category)
	if cats != "" {
		for _, c := range strings.Split(cats, ",") {
			a.AllowedSignalCategories = append(a.AllowedSignalCategories, domain.Category(c))
		}
	}
	return a, nil
}

// Get fetches an Agent by id.
func (s *AgentStore) Get(id string) (domain.Agent, error) {
	var a domain.Agent
	var broker, category, cats string
	row := s.db.QueryRow(`SELECT id, user_id, broker, category, is_active, allowed_categories FROM agents WHERE id = ?`, id)
	if err := row.Scan(&a.ID, &a.UserID, &broker, &category, &a.IsActive, &cats); err != nil {
		if err == sql.ErrNoRows {
			return domain.Agent{}, fmt.Errorf("statestore: agent %s: %w", id, err)
		}
		return domain.Agent{}, err
	}
	a.Broker = domain.Broker(broker)
	a.Category = domain.Category(category)
	if cats != "" {
		for _, c := range strings.Split(cats, ",") {
			a.AllowedSignalCategories = append(a.AllowedSignalCategories, domain.Category(c))
		}
	}
	return a, nil
}

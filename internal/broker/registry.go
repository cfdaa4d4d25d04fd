package broker

import (
	"context"
	"fmt"

	"scalpguard/internal/domain"
)

// Registry looks up the Adapter for a given broker.
type Registry struct {
	adapters map[domain.Broker]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Broker]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Broker()] = a
	}
	return r
}

func (r *Registry) For(b domain.Broker) (Adapter, error) {
	a, ok := r.adapters[b]
	if !ok {
		return nil, fmt.Errorf("broker: no adapter registered for %s", b)
	}
	return a, nil
}

// AgentLookup resolves the owning Agent for a userID, used by LiveSource to
// find which broker's positions to count.
type AgentLookup interface {
	ActiveAgentForUser(userID string) (domain.Agent, error)
}

// LiveSource implements risk.LivePositionSource: it resolves userID's broker
// via AgentLookup, then asks that broker's adapter for open positions. This
// is the live-broker-authoritative count canOpenPosition requires, read
// straight past the (possibly lagging) durable store.
type LiveSource struct {
	registry *Registry
	agents   AgentLookup
}

func NewLiveSource(registry *Registry, agents AgentLookup) *LiveSource {
	return &LiveSource{registry: registry, agents: agents}
}

func (s *LiveSource) OpenPositionSides(ctx context.Context, userID string) (buy, sell int, err error) {
	agent, err := s.agents.ActiveAgentForUser(userID)
	if err != nil {
		return 0, 0, fmt.Errorf("broker: resolve agent for %s: %w", userID, err)
	}
	adapter, err := s.registry.For(agent.Broker)
	if err != nil {
		return 0, 0, err
	}
	positions, err := adapter.GetOpenPositions(ctx, userID, "")
	if err != nil {
		return 0, 0, fmt.Errorf("broker: open positions for %s: %w", userID, err)
	}
	for _, p := range positions {
		switch p.Side {
		case domain.SideBuy:
			buy++
		case domain.SideSell:
			sell++
		}
	}
	return buy, sell, nil
}

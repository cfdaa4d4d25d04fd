// Package brokerfilter answers "can this agent's broker trade this symbol
// for this category"; the venue-compatibility gate consulted by both the
// SignalValidator (at validation time) and the Executor (again, at dispatch
// time, as defense in depth).
package brokerfilter

import "scalpguard/internal/domain"

// Filter reports whether a symbol/category combination is tradable on a
// given broker.
type Filter interface {
	Supports(broker domain.Broker, symbol string) bool
	CanExecute(symbol string, broker domain.Broker, category domain.Category) bool
}

// Static is a Filter backed by a fixed per-broker symbol allow-list,
// passed in as a fixed per-broker symbol map at construction.
type Static struct {
	symbols map[domain.Broker]map[string]bool
}

func NewStatic(bySymbol map[domain.Broker][]string) *Static {
	s := &Static{symbols: make(map[domain.Broker]map[string]bool, len(bySymbol))}
	for broker, syms := range bySymbol {
		set := make(map[string]bool, len(syms))
		for _, sym := range syms {
			set[sym] = true
		}
		s.symbols[broker] = set
	}
	return s
}

func (s *Static) Supports(broker domain.Broker, symbol string) bool {
	set, ok := s.symbols[broker]
	if !ok {
		return false
	}
	return set[symbol]
}

// CanExecute additionally rejects fibonacci-scalping on Binance, which has
// no sub-second order confirmation path to meet that category's deadline.
func (s *Static) CanExecute(symbol string, broker domain.Broker, category domain.Category) bool {
	if !s.Supports(broker, symbol) {
		return false
	}
	if category == domain.CategoryFibonacciScalping && broker == domain.BrokerBinance {
		return false
	}
	return true
}

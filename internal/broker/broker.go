// Package broker defines the uniform BrokerAdapter capability set the
// Executor and PositionManager program against, polymorphic over
// {MT4, OKX, Binance}. Broker-specific concerns (contract size, lot step,
// minimum order value, idempotent close on "already closed") are
// encapsulated inside each adapter, never leaked to callers.
package broker

import (
	"context"
	"time"

	"scalpguard/internal/domain"
)

// PriceQuote is a broker's current bid/ask/last for a symbol.
type PriceQuote struct {
	Bid  float64
	Ask  float64
	Last float64
}

// AccountInfo is a broker account snapshot.
type AccountInfo struct {
	Balance    float64
	Equity     float64
	FreeMargin float64
	Leverage   float64
}

// OrderResult is the broker's confirmation of a placed market order.
type OrderResult struct {
	Ticket     string
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
}

// CloseResult is the outcome of closing a position. AlreadyClosed is set
// when the adapter recognized an idempotent "already closed" condition
// (e.g. MT4 error 4108) rather than a hard failure.
type CloseResult struct {
	Profit         float64
	CurrentPrice   float64
	AlreadyClosed  bool
}

// OpenPosition is one broker-reported open position.
type OpenPosition struct {
	Ticket       string
	Side         domain.Side
	LotSize      float64
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Profit       float64
}

// Instrument describes a symbol's tradable-size constraints.
type Instrument struct {
	MinSize      float64
	LotSize      float64
	ContractSize float64
	Leverage     float64
}

// Adapter is the uniform capability set every broker implements.
type Adapter interface {
	Broker() domain.Broker
	Price(ctx context.Context, user, symbol string) (PriceQuote, error)
	Account(ctx context.Context, user string) (AccountInfo, error)
	CreateMarketOrder(ctx context.Context, user, symbol string, side domain.Side, size float64, sl, tp *float64) (OrderResult, error)
	ModifyStopLoss(ctx context.Context, user, ticket string, newSL float64) error
	ClosePosition(ctx context.Context, user, ticket string) (CloseResult, error)
	GetOpenPositions(ctx context.Context, user, symbol string) ([]OpenPosition, error)
	InstrumentInfo(ctx context.Context, symbol string) (Instrument, error)
}

// CallTimeout bounds every broker call; on expiry the caller treats the
// outcome as failure and must reconcile (by ticket) before any retry.
const CallTimeout = 10 * time.Second

// Package mt4 adapts a bridge HTTP service fronting MetaTrader 4 into a
// broker.Adapter. MT4 itself speaks no native Go-reachable wire protocol;
// production deployments front it with a small HTTP bridge EA/service,
// which is what this client talks to.
package mt4

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"

	"scalpguard/internal/broker"
	"scalpguard/internal/domain"
	"scalpguard/internal/logger"
)

var log = logger.With("mt4")

// ErrorCode is a bridge-reported MT4 error code.
type ErrorCode int

const (
	ErrAlreadyClosed      ErrorCode = 4108
	ErrAutotradingOff     ErrorCode = 4109
	ErrInsufficientMargin ErrorCode = 134
)

// Config configures the MT4 bridge client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	ContractSize map[string]float64
	Leverage     map[string]float64
}

// Client is the MT4 broker.Adapter implementation.
type Client struct {
	cfg  Config
	rest *resty.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = broker.CallTimeout
	}
	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Client{cfg: cfg, rest: r}
}

func (c *Client) Broker() domain.Broker { return domain.BrokerMT4 }

type priceResp struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}

func (c *Client) Price(ctx context.Context, user, symbol string) (broker.PriceQuote, error) {
	var resp priceResp
	r, err := c.rest.R().SetContext(ctx).
		SetQueryParams(map[string]string{"user": user, "symbol": symbol}).
		SetResult(&resp).Get("/price")
	if err != nil {
		return broker.PriceQuote{}, fmt.Errorf("mt4: price %s: %w", symbol, err)
	}
	if r.IsError() {
		return broker.PriceQuote{}, fmt.Errorf("mt4: price %s: bridge status %d", symbol, r.StatusCode())
	}
	return broker.PriceQuote{Bid: resp.Bid, Ask: resp.Ask, Last: resp.Last}, nil
}

type accountResp struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	FreeMargin float64 `json:"freeMargin"`
	Leverage   float64 `json:"leverage"`
}

func (c *Client) Account(ctx context.Context, user string) (broker.AccountInfo, error) {
	var resp accountResp
	r, err := c.rest.R().SetContext(ctx).SetQueryParam("user", user).SetResult(&resp).Get("/account")
	if err != nil {
		return broker.AccountInfo{}, fmt.Errorf("mt4: account %s: %w", user, err)
	}
	if r.IsError() {
		return broker.AccountInfo{}, fmt.Errorf("mt4: account %s: bridge status %d", user, r.StatusCode())
	}
	return broker.AccountInfo(resp), nil
}

type orderReq struct {
	User   string   `json:"user"`
	Symbol string   `json:"symbol"`
	Side   string   `json:"side"`
	Lots   float64  `json:"lots"`
	SL     *float64 `json:"stopLoss,omitempty"`
	TP     *float64 `json:"takeProfit,omitempty"`
}

type orderResp struct {
	Ticket     string  `json:"ticket"`
	OpenPrice  float64 `json:"openPrice"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
	ErrorCode  int     `json:"errorCode"`
	Message    string  `json:"message"`
}

func (c *Client) CreateMarketOrder(ctx context.Context, user, symbol string, side domain.Side, size float64, sl, tp *float64) (broker.OrderResult, error) {
	var resp orderResp
	r, err := c.rest.R().SetContext(ctx).
		SetBody(orderReq{User: user, Symbol: symbol, Side: string(side), Lots: size, SL: sl, TP: tp}).
		SetResult(&resp).Post("/order")
	if err != nil {
		return broker.OrderResult{}, domain.NewBrokerTransient("mt4 order request failed", err)
	}
	if r.IsError() || resp.ErrorCode != 0 {
		if ErrorCode(resp.ErrorCode) == ErrAutotradingOff {
			return broker.OrderResult{}, domain.NewBrokerRejected(domain.BrokerAutoTradingDisabled,
				"autotrading disabled on MT4 terminal (error 4109); enable AutoTrading in the terminal")
		}
		if ErrorCode(resp.ErrorCode) == ErrInsufficientMargin {
			return broker.OrderResult{}, domain.NewBrokerRejected(domain.BrokerInsufficientMargin, resp.Message)
		}
		return broker.OrderResult{}, domain.NewBrokerRejected(domain.BrokerUnknown, resp.Message)
	}
	return broker.OrderResult{Ticket: resp.Ticket, OpenPrice: resp.OpenPrice, StopLoss: resp.StopLoss, TakeProfit: resp.TakeProfit}, nil
}

func (c *Client) ModifyStopLoss(ctx context.Context, user, ticket string, newSL float64) error {
	r, err := c.rest.R().SetContext(ctx).
		SetBody(map[string]interface{}{"user": user, "ticket": ticket, "stopLoss": newSL}).
		Post("/modify")
	if err != nil {
		return domain.NewBrokerTransient("mt4 modify sl failed", err)
	}
	if r.IsError() {
		return fmt.Errorf("mt4: modify sl ticket %s: bridge status %d", ticket, r.StatusCode())
	}
	return nil
}

type closeResp struct {
	Profit       float64 `json:"profit"`
	CurrentPrice float64 `json:"currentPrice"`
	ErrorCode    int     `json:"errorCode"`
}

func (c *Client) ClosePosition(ctx context.Context, user, ticket string) (broker.CloseResult, error) {
	var resp closeResp
	r, err := c.rest.R().SetContext(ctx).
		SetBody(map[string]string{"user": user, "ticket": ticket}).
		SetResult(&resp).Post("/close")
	if err != nil {
		return broker.CloseResult{}, domain.NewBrokerTransient("mt4 close failed", err)
	}
	if ErrorCode(resp.ErrorCode) == ErrAlreadyClosed {
		log.Warnf("ticket %s already closed on MT4", ticket)
		return broker.CloseResult{AlreadyClosed: true}, nil
	}
	if r.IsError() {
		return broker.CloseResult{}, fmt.Errorf("mt4: close ticket %s: bridge status %d", ticket, r.StatusCode())
	}
	return broker.CloseResult{Profit: resp.Profit, CurrentPrice: resp.CurrentPrice}, nil
}

type openPositionsResp struct {
	Positions []struct {
		Ticket       string  `json:"ticket"`
		Type         string  `json:"type"`
		LotSize      float64 `json:"lotSize"`
		EntryPrice   float64 `json:"entryPrice"`
		CurrentPrice float64 `json:"currentPrice"`
		StopLoss     float64 `json:"stopLoss"`
		TakeProfit   float64 `json:"takeProfit"`
		Profit       float64 `json:"profit"`
	} `json:"positions"`
}

func (c *Client) GetOpenPositions(ctx context.Context, user, symbol string) ([]broker.OpenPosition, error) {
	var resp openPositionsResp
	req := c.rest.R().SetContext(ctx).SetQueryParam("user", user).SetResult(&resp)
	if symbol != "" {
		req.SetQueryParam("symbol", symbol)
	}
	r, err := req.Get("/positions")
	if err != nil {
		return nil, domain.NewBrokerTransient("mt4 open positions failed", err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("mt4: open positions %s: bridge status %d", user, r.StatusCode())
	}
	out := make([]broker.OpenPosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		side := domain.SideBuy
		if p.Type == "sell" {
			side = domain.SideSell
		}
		out = append(out, broker.OpenPosition{
			Ticket: p.Ticket, Side: side, LotSize: p.LotSize, EntryPrice: p.EntryPrice,
			CurrentPrice: p.CurrentPrice, StopLoss: p.StopLoss, TakeProfit: p.TakeProfit, Profit: p.Profit,
		})
	}
	return out, nil
}

func (c *Client) InstrumentInfo(ctx context.Context, symbol string) (broker.Instrument, error) {
	contractSize := c.cfg.ContractSize[symbol]
	if contractSize == 0 {
		contractSize = 100000
	}
	leverage := c.cfg.Leverage[symbol]
	if leverage == 0 {
		leverage = 100
	}
	return broker.Instrument{MinSize: 0.01, LotSize: 0.01, ContractSize: contractSize, Leverage: leverage}, nil
}

// RequiredMargin estimates the free margin a lots-sized order needs,
// using MT4's standard margin formula: (lots * contractSize * price) / leverage.
func RequiredMargin(lots, contractSize, price, leverage float64) float64 {
	if leverage <= 0 {
		return math.Inf(1)
	}
	return (lots * contractSize * price) / leverage
}

// Package binance adapts adshao/go-binance/v2's USD-M futures client into a
// broker.Adapter, since futures (not spot) is what carries the position,
// stop-loss and leverage semantics the rest of the system assumes.
package binance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"scalpguard/internal/broker"
	"scalpguard/internal/domain"
)

// Client is the Binance broker.Adapter implementation.
type Client struct {
	cli *futures.Client
}

func New(apiKey, secretKey string) *Client {
	return &Client{cli: futures.NewClient(apiKey, secretKey)}
}

func (c *Client) Broker() domain.Broker { return domain.BrokerBinance }

func (c *Client) Price(ctx context.Context, user, symbol string) (broker.PriceQuote, error) {
	tickers, err := c.cli.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return broker.PriceQuote{}, domain.NewBrokerTransient("binance book ticker", err)
	}
	if len(tickers) == 0 {
		return broker.PriceQuote{}, fmt.Errorf("binance: no ticker for %s", symbol)
	}
	bid, _ := strconv.ParseFloat(tickers[0].BidPrice, 64)
	ask, _ := strconv.ParseFloat(tickers[0].AskPrice, 64)
	return broker.PriceQuote{Bid: bid, Ask: ask, Last: (bid + ask) / 2}, nil
}

func (c *Client) Account(ctx context.Context, user string) (broker.AccountInfo, error) {
	acct, err := c.cli.NewGetAccountService().Do(ctx)
	if err != nil {
		return broker.AccountInfo{}, domain.NewBrokerTransient("binance account", err)
	}
	balance, _ := strconv.ParseFloat(acct.TotalWalletBalance, 64)
	equity, _ := strconv.ParseFloat(acct.TotalMarginBalance, 64)
	free, _ := strconv.ParseFloat(acct.AvailableBalance, 64)
	return broker.AccountInfo{Balance: balance, Equity: equity, FreeMargin: free}, nil
}

func (c *Client) CreateMarketOrder(ctx context.Context, user, symbol string, side domain.Side, size float64, sl, tp *float64) (broker.OrderResult, error) {
	orderSide := futures.SideTypeBuy
	if side == domain.SideSell {
		orderSide = futures.SideTypeSell
	}
	order, err := c.cli.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(size, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return broker.OrderResult{}, domain.NewBrokerRejected(domain.BrokerUnknown, err.Error())
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	result := broker.OrderResult{Ticket: strconv.FormatInt(order.OrderID, 10), OpenPrice: avgPrice}
	if sl != nil {
		result.StopLoss = *sl
		if err := c.ModifyStopLoss(ctx, user, result.Ticket, *sl); err != nil {
			return result, nil // order already placed; SL attach failure is a warning, not a rollback
		}
	}
	if tp != nil {
		result.TakeProfit = *tp
	}
	return result, nil
}

func (c *Client) ModifyStopLoss(ctx context.Context, user, ticket string, newSL float64) error {
	orderID, err := strconv.ParseInt(ticket, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: invalid ticket %s: %w", ticket, err)
	}
	_, err = c.cli.NewCancelOrderService().OrderID(orderID).Do(ctx)
	if err != nil {
		return domain.NewBrokerTransient("binance cancel-for-modify failed", err)
	}
	_, err = c.cli.NewCreateOrderService().
		Type(futures.OrderTypeStopMarket).
		StopPrice(strconv.FormatFloat(newSL, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return domain.NewBrokerRejected(domain.BrokerUnknown, err.Error())
	}
	return nil
}

func (c *Client) ClosePosition(ctx context.Context, user, ticket string) (broker.CloseResult, error) {
	orderID, err := strconv.ParseInt(ticket, 10, 64)
	if err != nil {
		return broker.CloseResult{}, fmt.Errorf("binance: invalid ticket %s: %w", ticket, err)
	}
	order, err := c.cli.NewGetOrderService().OrderID(orderID).Do(ctx)
	if err != nil {
		return broker.CloseResult{}, domain.NewBrokerTransient("binance get order", err)
	}
	if order.Status == futures.OrderStatusTypeFilled {
		return broker.CloseResult{AlreadyClosed: true}, nil
	}
	_, err = c.cli.NewCancelOrderService().OrderID(orderID).Do(ctx)
	if err != nil {
		return broker.CloseResult{}, domain.NewBrokerRejected(domain.BrokerUnknown, err.Error())
	}
	return broker.CloseResult{}, nil
}

func (c *Client) GetOpenPositions(ctx context.Context, user, symbol string) ([]broker.OpenPosition, error) {
	svc := c.cli.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, domain.NewBrokerTransient("binance position risk", err)
	}
	out := make([]broker.OpenPosition, 0, len(risks))
	for _, p := range risks {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		side := domain.SideBuy
		if amt < 0 {
			side = domain.SideSell
			amt = -amt
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		out = append(out, broker.OpenPosition{
			Ticket: p.Symbol, Side: side, LotSize: amt, EntryPrice: entry, CurrentPrice: mark, Profit: pnl,
		})
	}
	return out, nil
}

func (c *Client) InstrumentInfo(ctx context.Context, symbol string) (broker.Instrument, error) {
	info, err := c.cli.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return broker.Instrument{}, domain.NewBrokerTransient("binance exchange info", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			if f["filterType"] == "LOT_SIZE" {
				minQty, _ := strconv.ParseFloat(fmt.Sprint(f["minQty"]), 64)
				stepSize, _ := strconv.ParseFloat(fmt.Sprint(f["stepSize"]), 64)
				return broker.Instrument{MinSize: minQty, LotSize: stepSize, ContractSize: 1}, nil
			}
		}
	}
	return broker.Instrument{}, fmt.Errorf("binance: no LOT_SIZE filter for %s", symbol)
}

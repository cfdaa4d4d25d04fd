// Package okx adapts the OKX v5 REST API into a broker.Adapter. Requests
// are signed with OKX's HMAC-SHA256 scheme (timestamp + method + path +
// body, base64-encoded), following the request-signing pattern used
// elsewhere in this codebase for exchange APIs.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"scalpguard/internal/broker"
	"scalpguard/internal/domain"
	"scalpguard/internal/logger"
)

var log = logger.With("okx")

// Config configures the OKX client.
type Config struct {
	BaseURL        string
	APIKey         string
	SecretKey      string
	Passphrase     string
	MinOrderValue  float64 // default 20 USDT
	HTTPClient     *http.Client
}

// Client is the OKX broker.Adapter implementation.
type Client struct {
	cfg Config
	hc  *http.Client
}

func New(cfg Config) *Client {
	if cfg.MinOrderValue <= 0 {
		cfg.MinOrderValue = 20
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: broker.CallTimeout}
	}
	return &Client{cfg: cfg, hc: hc}
}

func (c *Client) Broker() domain.Broker { return domain.BrokerOKX }

func (c *Client) sign(ts, method, path, body string) string {
	prehash := ts + method + path + body
	h := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	h.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("okx: marshal request: %w", err)
		}
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	sig := c.sign(ts, method, path, string(bodyBytes))

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("okx: build request: %w", err)
	}
	req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sig)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.NewBrokerTransient("okx request failed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("okx: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return domain.NewBrokerTransient(fmt.Sprintf("okx status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return domain.NewBrokerRejected(domain.BrokerUnknown, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("okx: decode response: %w", err)
		}
	}
	return nil
}

type tickerResp struct {
	Data []struct {
		BidPx string `json:"bidPx"`
		AskPx string `json:"askPx"`
		Last  string `json:"last"`
	} `json:"data"`
}

func (c *Client) Price(ctx context.Context, user, symbol string) (broker.PriceQuote, error) {
	var resp tickerResp
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/ticker?instId="+symbol, nil, &resp); err != nil {
		return broker.PriceQuote{}, err
	}
	if len(resp.Data) == 0 {
		return broker.PriceQuote{}, fmt.Errorf("okx: no ticker data for %s", symbol)
	}
	d := resp.Data[0]
	bid, _ := strconv.ParseFloat(d.BidPx, 64)
	ask, _ := strconv.ParseFloat(d.AskPx, 64)
	last, _ := strconv.ParseFloat(d.Last, 64)
	return broker.PriceQuote{Bid: bid, Ask: ask, Last: last}, nil
}

type balanceResp struct {
	Data []struct {
		TotalEq string `json:"totalEq"`
		Details []struct {
			Eq        string `json:"eq"`
			AvailEq   string `json:"availEq"`
		} `json:"details"`
	} `json:"data"`
}

func (c *Client) Account(ctx context.Context, user string) (broker.AccountInfo, error) {
	var resp balanceResp
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil, &resp); err != nil {
		return broker.AccountInfo{}, err
	}
	if len(resp.Data) == 0 {
		return broker.AccountInfo{}, fmt.Errorf("okx: no balance data")
	}
	equity, _ := strconv.ParseFloat(resp.Data[0].TotalEq, 64)
	var free float64
	if len(resp.Data[0].Details) > 0 {
		free, _ = strconv.ParseFloat(resp.Data[0].Details[0].AvailEq, 64)
	}
	return broker.AccountInfo{Balance: equity, Equity: equity, FreeMargin: free, Leverage: 0}, nil
}

type orderReq struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
}

type orderResp struct {
	Data []struct {
		OrdID   string `json:"ordId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	} `json:"data"`
}

func (c *Client) CreateMarketOrder(ctx context.Context, user, symbol string, side domain.Side, size float64, sl, tp *float64) (broker.OrderResult, error) {
	okxSide := "buy"
	if side == domain.SideSell {
		okxSide = "sell"
	}
	req := orderReq{InstID: symbol, TdMode: "cross", Side: okxSide, OrdType: "market", Sz: strconv.FormatFloat(size, 'f', -1, 64)}
	var resp orderResp
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", req, &resp); err != nil {
		return broker.OrderResult{}, err
	}
	if len(resp.Data) == 0 || resp.Data[0].SCode != "0" {
		msg := "okx: order rejected"
		if len(resp.Data) > 0 {
			msg = resp.Data[0].SMsg
		}
		return broker.OrderResult{}, domain.NewBrokerRejected(domain.BrokerUnknown, msg)
	}

	price, err := c.Price(ctx, user, symbol)
	if err != nil {
		log.Warnf("post-order price refresh failed for %s: %v", symbol, err)
	}
	result := broker.OrderResult{Ticket: resp.Data[0].OrdID, OpenPrice: price.Last}
	if sl != nil {
		result.StopLoss = *sl
	}
	if tp != nil {
		result.TakeProfit = *tp
	}
	return result, nil
}

func (c *Client) ModifyStopLoss(ctx context.Context, user, ticket string, newSL float64) error {
	req := map[string]string{"ordId": ticket, "newSl": strconv.FormatFloat(newSL, 'f', -1, 64)}
	return c.do(ctx, http.MethodPost, "/api/v5/trade/amend-order", req, nil)
}

func (c *Client) ClosePosition(ctx context.Context, user, ticket string) (broker.CloseResult, error) {
	var resp orderResp
	err := c.do(ctx, http.MethodPost, "/api/v5/trade/close-position", map[string]string{"ordId": ticket}, &resp)
	if err != nil {
		if de, ok := domain.AsDomainError(err); ok && de.Kind == domain.KindBrokerRejected {
			log.Warnf("close ticket %s rejected, treating as already-closed: %v", ticket, de.Reason)
			return broker.CloseResult{AlreadyClosed: true}, nil
		}
		return broker.CloseResult{}, err
	}
	return broker.CloseResult{}, nil
}

type positionsResp struct {
	Data []struct {
		InstID   string `json:"instId"`
		PosSide  string `json:"posSide"`
		Pos      string `json:"pos"`
		AvgPx    string `json:"avgPx"`
		Last     string `json:"last"`
		Upl      string `json:"upl"`
	} `json:"data"`
}

func (c *Client) GetOpenPositions(ctx context.Context, user, symbol string) ([]broker.OpenPosition, error) {
	path := "/api/v5/account/positions"
	if symbol != "" {
		path += "?instId=" + symbol
	}
	var resp positionsResp
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]broker.OpenPosition, 0, len(resp.Data))
	for _, p := range resp.Data {
		side := domain.SideBuy
		if p.PosSide == "short" {
			side = domain.SideSell
		}
		lot, _ := strconv.ParseFloat(p.Pos, 64)
		entry, _ := strconv.ParseFloat(p.AvgPx, 64)
		last, _ := strconv.ParseFloat(p.Last, 64)
		pnl, _ := strconv.ParseFloat(p.Upl, 64)
		out = append(out, broker.OpenPosition{
			Ticket: p.InstID + ":" + p.PosSide, Side: side, LotSize: math.Abs(lot),
			EntryPrice: entry, CurrentPrice: last, Profit: pnl,
		})
	}
	return out, nil
}

type instrumentResp struct {
	Data []struct {
		MinSz string `json:"minSz"`
		LotSz string `json:"lotSz"`
		CtVal string `json:"ctVal"`
	} `json:"data"`
}

func (c *Client) InstrumentInfo(ctx context.Context, symbol string) (broker.Instrument, error) {
	var resp instrumentResp
	if err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments?instType=SPOT&instId="+symbol, nil, &resp); err != nil {
		return broker.Instrument{}, err
	}
	if len(resp.Data) == 0 {
		return broker.Instrument{}, fmt.Errorf("okx: no instrument data for %s", symbol)
	}
	minSz, _ := strconv.ParseFloat(resp.Data[0].MinSz, 64)
	lotSz, _ := strconv.ParseFloat(resp.Data[0].LotSz, 64)
	ctVal, _ := strconv.ParseFloat(resp.Data[0].CtVal, 64)
	return broker.Instrument{MinSize: minSz, LotSize: lotSz, ContractSize: ctVal}, nil
}

// Quantity derives an OKX order quantity using the standard sizing rule:
// positionSizeUSD / price, rounded up to minSize, then grown to satisfy the
// $20 minimum order value (rounding up to lotSize increments), or rounded
// down to lotSize increments otherwise.
func Quantity(positionSizeUSD, price float64, inst broker.Instrument, minOrderValue float64) (qty float64, ok bool) {
	if price <= 0 || inst.LotSize <= 0 {
		return 0, false
	}
	qty = positionSizeUSD / price
	if qty < inst.MinSize {
		qty = roundUpToStep(inst.MinSize, inst.LotSize)
	}
	if qty*price < minOrderValue {
		needed := minOrderValue / price
		qty = roundUpToStep(needed, inst.LotSize)
	} else {
		qty = roundDownToStep(qty, inst.LotSize)
	}
	if qty <= 0 || qty*price < minOrderValue || qty < inst.MinSize {
		return qty, false
	}
	return qty, true
}

func roundUpToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Ceil(v/step) * step
}

func roundDownToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step) * step
}

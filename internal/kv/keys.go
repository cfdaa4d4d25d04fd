package kv

import (
	"fmt"
	"time"
)

// Key builders for the namespaced prefixes in spec §6.
func MarketKey(symbol string) string          { return "market:" + symbol }
func TickerKey(symbol string) string          { return "ticker:" + symbol }
func KlineKey(symbol, interval string) string { return fmt.Sprintf("kline:%s:%s", symbol, interval) }
func OrderbookKey(symbol string) string       { return "orderbook:" + symbol }
func AnalysisKey(symbol string, ts int64) string {
	return fmt.Sprintf("analysis:%s:%d", symbol, ts)
}
func SignalKey(agent string) string          { return "signal:" + agent }
func MarketConditionKey(symbol string) string { return "market_condition:" + symbol }
func DropAlertsSet(symbol string) string      { return "drop_alerts:" + symbol }
func QueuePrefix() string                     { return "queue:" }
func ActiveTradeKey(ticket string) string     { return "trades:active:" + ticket }
func MT4PositionKey(ticket string) string     { return "mt4_pos:" + ticket }
func LatestPatternKey(symbol string) string   { return "pattern:" + symbol }

// TTLs for transient KV entries.
const (
	TTLMarket          = 5 * time.Second
	TTLTicker          = 2 * time.Second
	TTLOrderbook       = 2 * time.Second
	TTLAnalysis        = 300 * time.Second
	TTLSignal          = 60 * time.Second
	TTLMarketCondition = 60 * time.Second
	TTLLatestPattern   = 120 * time.Second
)

// TTLKline returns the TTL for a given kline interval, per the table in
// spec §6. Unknown intervals fall back to 60s.
func TTLKline(interval string) time.Duration {
	switch interval {
	case "1m":
		return 30 * time.Second
	case "3m":
		return 60 * time.Second
	case "5m":
		return 120 * time.Second
	case "15m":
		return 300 * time.Second
	case "30m":
		return 600 * time.Second
	case "1h":
		return 1200 * time.Second
	case "2h":
		return 2400 * time.Second
	case "4h":
		return 3600 * time.Second
	case "6h":
		return 5400 * time.Second
	case "12h":
		return 7200 * time.Second
	case "1d":
		return 10800 * time.Second
	default:
		return 60 * time.Second
	}
}

package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scalpguard/internal/broker"
	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/kv"
	"scalpguard/internal/risk"
	"scalpguard/internal/statestore"
)

type fakeAdapter struct {
	broker    domain.Broker
	positions []broker.OpenPosition
	closed    []string
	modified  map[string]float64
}

func (f *fakeAdapter) Broker() domain.Broker { return f.broker }
func (f *fakeAdapter) Price(ctx context.Context, user, symbol string) (broker.PriceQuote, error) {
	return broker.PriceQuote{}, nil
}
func (f *fakeAdapter) Account(ctx context.Context, user string) (broker.AccountInfo, error) {
	return broker.AccountInfo{}, nil
}
func (f *fakeAdapter) CreateMarketOrder(ctx context.Context, user, symbol string, side domain.Side, size float64, sl, tp *float64) (broker.OrderResult, error) {
	return broker.OrderResult{}, nil
}
func (f *fakeAdapter) ModifyStopLoss(ctx context.Context, user, ticket string, newSL float64) error {
	if f.modified == nil {
		f.modified = map[string]float64{}
	}
	f.modified[ticket] = newSL
	return nil
}
func (f *fakeAdapter) ClosePosition(ctx context.Context, user, ticket string) (broker.CloseResult, error) {
	f.closed = append(f.closed, ticket)
	return broker.CloseResult{Profit: 12.5, CurrentPrice: 99}, nil
}
func (f *fakeAdapter) GetOpenPositions(ctx context.Context, user, symbol string) ([]broker.OpenPosition, error) {
	return f.positions, nil
}
func (f *fakeAdapter) InstrumentInfo(ctx context.Context, symbol string) (broker.Instrument, error) {
	return broker.Instrument{}, nil
}

func newTestManager(t *testing.T, cl clock.Clock, adapter *fakeAdapter) (*Manager, *statestore.Store, *kv.Store) {
	t.Helper()
	st, err := statestore.Open(":memory:", cl)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	kvStore, err := kv.Open(t.TempDir()+"/kv.db", cl)
	require.NoError(t, err)
	t.Cleanup(func() { kvStore.Close() })
	bus := kv.NewBus()

	registry := broker.NewRegistry(adapter)
	ra := risk.New(risk.DefaultConfig(), cl, st.DailyStats(), &noopLive{})
	m := New(DefaultConfig(), cl, registry, ra, kvStore, bus, st)
	return m, st, kvStore
}

type noopLive struct{}

func (noopLive) OpenPositionSides(ctx context.Context, userID string) (int, int, error) { return 0, 0, nil }

func openPosition(ticket string, side domain.Side, entry, sl, tp, current float64, openedAt time.Time) domain.Position {
	return domain.Position{
		Ticket: ticket, UserID: "user-1", AgentID: "agent-1", Broker: domain.BrokerOKX, Symbol: "BTC-USDT",
		Side: side, LotSize: 1, EntryPrice: entry, CurrentPrice: current, StopLoss: sl, OriginalStopLoss: sl,
		TakeProfit: tp, Status: domain.PositionOpen, OpenedAt: openedAt,
	}
}

func TestScan_ClosesPositionGoneFromBroker(t *testing.T) {
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	adapter := &fakeAdapter{broker: domain.BrokerOKX} // no open positions reported
	m, st, _ := newTestManager(t, cl, adapter)

	p := openPosition("t1", domain.SideBuy, 100, 90, 120, 105, cl.Now())
	require.NoError(t, st.Positions().Create(p))

	m.scan(context.Background())

	got, err := st.Positions().Get("t1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionAutoClosed, got.Status)
	require.Equal(t, "mt4-already-closed", got.CloseReason)
}

func TestScan_TimeExitMaxClosesRegardlessOfProgress(t *testing.T) {
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	openedAt := cl.Now().Add(-31 * time.Minute)
	adapter := &fakeAdapter{broker: domain.BrokerOKX, positions: []broker.OpenPosition{
		{Ticket: "t1", Side: domain.SideBuy, CurrentPrice: 110, Profit: 10},
	}}
	m, st, _ := newTestManager(t, cl, adapter)

	p := openPosition("t1", domain.SideBuy, 100, 90, 120, 110, openedAt)
	require.NoError(t, st.Positions().Create(p))

	m.scan(context.Background())

	got, err := st.Positions().Get("t1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionClosed, got.Status)
	require.Equal(t, "time-exit-max", got.CloseReason)
	require.Contains(t, adapter.closed, "t1")
}

func TestScan_AppBackstopClosesOnStopLossBreach(t *testing.T) {
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	openedAt := cl.Now().Add(-5 * time.Minute)
	adapter := &fakeAdapter{broker: domain.BrokerOKX, positions: []broker.OpenPosition{
		{Ticket: "t1", Side: domain.SideBuy, CurrentPrice: 85, Profit: -15},
	}}
	m, st, _ := newTestManager(t, cl, adapter)

	p := openPosition("t1", domain.SideBuy, 100, 90, 130, 85, openedAt)
	require.NoError(t, st.Positions().Create(p))

	m.scan(context.Background())

	got, err := st.Positions().Get("t1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionClosed, got.Status)
	require.Equal(t, "stop-loss", got.CloseReason)
}

func TestScan_SignalReversalClosesBuyOnStrongSellPattern(t *testing.T) {
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	openedAt := cl.Now().Add(-5 * time.Minute)
	adapter := &fakeAdapter{broker: domain.BrokerOKX, positions: []broker.OpenPosition{
		{Ticket: "t1", Side: domain.SideBuy, CurrentPrice: 101, Profit: 1},
	}}
	m, st, kvStore := newTestManager(t, cl, adapter)

	p := openPosition("t1", domain.SideBuy, 100, 90, 130, 101, openedAt)
	require.NoError(t, st.Positions().Create(p))
	require.NoError(t, kvStore.Set(kv.LatestPatternKey("BTC-USDT"), domain.LatestPattern{
		Symbol: "BTC-USDT", Recommendation: domain.RecommendationSell, Confidence: 75, DetectedAt: cl.Now(),
	}, kv.TTLLatestPattern))

	m.scan(context.Background())

	got, err := st.Positions().Get("t1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionAutoClosed, got.Status)
	require.Equal(t, "sell-signal", got.CloseReason)
}

func TestScan_MovesStopMonotoneAtOneToOne(t *testing.T) {
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	openedAt := cl.Now().Add(-2 * time.Minute)
	adapter := &fakeAdapter{broker: domain.BrokerOKX, positions: []broker.OpenPosition{
		{Ticket: "t1", Side: domain.SideBuy, CurrentPrice: 112, Profit: 12},
	}}
	m, st, _ := newTestManager(t, cl, adapter)

	// risk = |100-90| = 10, currentProfit = 112-100 = 12 >= 10 -> locks at 1:1
	p := openPosition("t1", domain.SideBuy, 100, 90, 200, 112, openedAt)
	require.NoError(t, st.Positions().Create(p))

	m.scan(context.Background())

	got, err := st.Positions().Get("t1")
	require.NoError(t, err)
	require.True(t, got.OneToOneLocked)
	require.Greater(t, got.StopLoss, 90.0)
	require.Equal(t, domain.PositionOpen, got.Status)
}

func TestOnDropAlert_ClosesAllBuysOnSevere(t *testing.T) {
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	adapter := &fakeAdapter{broker: domain.BrokerOKX}
	m, st, _ := newTestManager(t, cl, adapter)

	require.NoError(t, st.Positions().Create(openPosition("buy-1", domain.SideBuy, 100, 90, 120, 101, cl.Now())))
	require.NoError(t, st.Positions().Create(openPosition("sell-1", domain.SideSell, 100, 110, 80, 99, cl.Now())))

	m.onDropAlert(context.Background(), domain.DropAlert{Symbol: "BTC-USDT", DropLevel: domain.DropSevere})

	buyPos, err := st.Positions().Get("buy-1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionAutoClosed, buyPos.Status)
	require.Equal(t, "market-drop", buyPos.CloseReason)

	sellPos, err := st.Positions().Get("sell-1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionOpen, sellPos.Status)
}

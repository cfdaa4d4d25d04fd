package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scalpguard/internal/broker"
	"scalpguard/internal/brokerfilter"
	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/kv"
	"scalpguard/internal/queue"
	"scalpguard/internal/risk"
	"scalpguard/internal/signal"
	"scalpguard/internal/statestore"
)

type fakeAdapter struct {
	broker      domain.Broker
	instrument  broker.Instrument
	account     broker.AccountInfo
	order       broker.OrderResult
	orderErr    error
	positions   []broker.OpenPosition
}

func (f *fakeAdapter) Broker() domain.Broker { return f.broker }
func (f *fakeAdapter) Price(ctx context.Context, user, symbol string) (broker.PriceQuote, error) {
	return broker.PriceQuote{}, nil
}
func (f *fakeAdapter) Account(ctx context.Context, user string) (broker.AccountInfo, error) {
	return f.account, nil
}
func (f *fakeAdapter) CreateMarketOrder(ctx context.Context, user, symbol string, side domain.Side, size float64, sl, tp *float64) (broker.OrderResult, error) {
	return f.order, f.orderErr
}
func (f *fakeAdapter) ModifyStopLoss(ctx context.Context, user, ticket string, newSL float64) error {
	return nil
}
func (f *fakeAdapter) ClosePosition(ctx context.Context, user, ticket string) (broker.CloseResult, error) {
	return broker.CloseResult{}, nil
}
func (f *fakeAdapter) GetOpenPositions(ctx context.Context, user, symbol string) ([]broker.OpenPosition, error) {
	return f.positions, nil
}
func (f *fakeAdapter) InstrumentInfo(ctx context.Context, symbol string) (broker.Instrument, error) {
	return f.instrument, nil
}

func newTestExecutor(t *testing.T, adapter *fakeAdapter, agent domain.Agent) (*Executor, *statestore.Store) {
	t.Helper()
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	st, err := statestore.Open(":memory:", cl)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Agents().Upsert(agent))
	require.NoError(t, st.SignalLogs().Create("sig-1", agent.ID, cl.Now()))

	kvStore, err := kv.Open(t.TempDir()+"/kv.db", cl)
	require.NoError(t, err)
	t.Cleanup(func() { kvStore.Close() })
	bus := kv.NewBus()

	registry := broker.NewRegistry(adapter)
	live := broker.NewLiveSource(registry, st.Agents())
	ra := risk.New(risk.DefaultConfig(), cl, st.DailyStats(), live)
	filter := brokerfilter.NewStatic(map[domain.Broker][]string{
		domain.BrokerOKX: {"BTC-USDT"},
		domain.BrokerMT4: {"EURUSD"},
	})
	normalizer := signal.New(signal.DefaultConfig(), nil, filter, ra)
	q := queue.New(kvStore, cl)

	ex := New(DefaultConfig(), cl, q, ra, filter, registry, normalizer, signal.DefaultConfig().RRRatio, st, bus, kvStore)
	return ex, st
}

func validSignal(symbol string, broker domain.Broker) domain.ValidatedSignal {
	return domain.ValidatedSignal{
		Signal: domain.Signal{
			SignalID: "sig-1", AgentID: "agent-1", Symbol: symbol,
			Recommendation: domain.RecommendationBuy, Category: domain.CategoryFibonacciScalping,
		},
		IsValid: true, PositionSizeUSD: 20, RecommendedEntry: 100, StopLossPrice: 90,
		TakeProfitPrice: 115, ConsensusMultiplier: 1.0,
	}
}

func TestDirect_OKXSuccessPath(t *testing.T) {
	adapter := &fakeAdapter{
		broker:     domain.BrokerOKX,
		instrument: broker.Instrument{MinSize: 0.001, LotSize: 0.001, ContractSize: 1, Leverage: 10},
		order:      broker.OrderResult{Ticket: "okx-1", OpenPrice: 100},
	}
	agent := domain.Agent{ID: "agent-1", UserID: "user-1", Broker: domain.BrokerOKX, IsActive: true,
		AllowedSignalCategories: []domain.Category{domain.CategoryFibonacciScalping}}
	ex, st := newTestExecutor(t, adapter, agent)

	ex.Direct(context.Background(), validSignal("BTC-USDT", domain.BrokerOKX))

	log, err := st.SignalLogs().Get("sig-1")
	require.NoError(t, err)
	require.Equal(t, domain.SignalExecuted, log.Status)
	require.Equal(t, "okx-1", log.Ticket)

	pos, err := st.Positions().Get("okx-1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionOpen, pos.Status)
}

func TestDirect_RejectsInvalidSignal(t *testing.T) {
	adapter := &fakeAdapter{broker: domain.BrokerOKX}
	agent := domain.Agent{ID: "agent-1", UserID: "user-1", Broker: domain.BrokerOKX, IsActive: true}
	ex, st := newTestExecutor(t, adapter, agent)

	sig := validSignal("BTC-USDT", domain.BrokerOKX)
	sig.IsValid = false
	sig.InvalidReason = "stop loss equals entry"
	ex.Direct(context.Background(), sig)

	log, err := st.SignalLogs().Get("sig-1")
	require.NoError(t, err)
	require.Equal(t, domain.SignalRejected, log.Status)
}

func TestDirect_FiltersUnsupportedVenue(t *testing.T) {
	adapter := &fakeAdapter{broker: domain.BrokerOKX}
	agent := domain.Agent{ID: "agent-1", UserID: "user-1", Broker: domain.BrokerOKX, IsActive: true,
		AllowedSignalCategories: []domain.Category{domain.CategoryFibonacciScalping}}
	ex, st := newTestExecutor(t, adapter, agent)

	ex.Direct(context.Background(), validSignal("ETH-USDT", domain.BrokerOKX))

	log, err := st.SignalLogs().Get("sig-1")
	require.NoError(t, err)
	require.Equal(t, domain.SignalFiltered, log.Status)
}

func TestDirect_InactiveAgentRejected(t *testing.T) {
	adapter := &fakeAdapter{broker: domain.BrokerOKX}
	agent := domain.Agent{ID: "agent-1", UserID: "user-1", Broker: domain.BrokerOKX, IsActive: false}
	ex, st := newTestExecutor(t, adapter, agent)

	ex.Direct(context.Background(), validSignal("BTC-USDT", domain.BrokerOKX))

	log, err := st.SignalLogs().Get("sig-1")
	require.NoError(t, err)
	require.Equal(t, domain.SignalRejected, log.Status)
}

func TestDirect_MT4PreTradeGateRejectsOnExistingPosition(t *testing.T) {
	adapter := &fakeAdapter{
		broker:     domain.BrokerMT4,
		instrument: broker.Instrument{ContractSize: 100000, Leverage: 100},
		account:    broker.AccountInfo{FreeMargin: 10000},
		positions:  []broker.OpenPosition{{Ticket: "mt4-open", Side: domain.SideBuy}},
	}
	agent := domain.Agent{ID: "agent-1", UserID: "user-1", Broker: domain.BrokerMT4, IsActive: true,
		AllowedSignalCategories: []domain.Category{domain.CategoryFibonacciScalping}}
	ex, st := newTestExecutor(t, adapter, agent)

	ex.Direct(context.Background(), validSignal("EURUSD", domain.BrokerMT4))

	log, err := st.SignalLogs().Get("sig-1")
	require.NoError(t, err)
	require.Equal(t, domain.SignalRejected, log.Status)
	require.Equal(t, "Max BUY positions reached", log.FailedReason)
}

func TestDirect_BrokerFailureWritesFailedLog(t *testing.T) {
	adapter := &fakeAdapter{
		broker:     domain.BrokerOKX,
		instrument: broker.Instrument{MinSize: 0.001, LotSize: 0.001, ContractSize: 1, Leverage: 10},
		orderErr:   domain.NewBrokerRejected(domain.BrokerInsufficientMargin, "insufficient margin"),
	}
	agent := domain.Agent{ID: "agent-1", UserID: "user-1", Broker: domain.BrokerOKX, IsActive: true,
		AllowedSignalCategories: []domain.Category{domain.CategoryFibonacciScalping}}
	ex, st := newTestExecutor(t, adapter, agent)

	ex.Direct(context.Background(), validSignal("BTC-USDT", domain.BrokerOKX))

	log, err := st.SignalLogs().Get("sig-1")
	require.NoError(t, err)
	require.Equal(t, domain.SignalFailed, log.Status)
	require.Equal(t, "insufficient margin", log.FailedReason)
}

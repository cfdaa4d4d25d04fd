package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"scalpguard/internal/brokerfilter"
	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/risk"
)

type fakePrices struct{ price float64 }

func (f fakePrices) CurrentPrice(ctx context.Context, broker domain.Broker, symbol string) (float64, error) {
	return f.price, nil
}

// unanimousBuyVotes is a 4-0-0 consensus pattern: full size, always trades.
var unanimousBuyVotes = domain.LLMVotes{Buy: 4, Sell: 0, Hold: 0, Confidence: 90}

func newTestValidator() *Validator {
	filter := brokerfilter.NewStatic(map[domain.Broker][]string{
		domain.BrokerOKX: {"BTC-USDT"},
	})
	ra := risk.New(risk.DefaultConfig(), clock.Real{}, nil, nil)
	return New(DefaultConfig(), fakePrices{price: 100}, filter, ra)
}

func testAgent() domain.Agent {
	return domain.Agent{
		ID: "a1", UserID: "u1", Broker: domain.BrokerOKX, IsActive: true,
		AllowedSignalCategories: []domain.Category{domain.CategoryGeneric, domain.CategoryFibonacciScalping},
	}
}

func TestValidate_DefaultSLInstalledWhenAbsent(t *testing.T) {
	v := newTestValidator()
	cand := domain.Signal{
		SignalID: "s1", Symbol: "BTC-USDT", Recommendation: domain.RecommendationBuy,
		Category: domain.CategoryGeneric, Votes: unanimousBuyVotes,
	}

	out, err := v.Validate(context.Background(), cand, testAgent())
	require.NoError(t, err)
	require.True(t, out.IsValid, out.InvalidReason)
	require.Equal(t, 100-DefaultConfig().DefaultSLPoints, out.StopLossPrice)
	require.Greater(t, out.TakeProfitPrice, out.RecommendedEntry)
	require.Equal(t, 1.0, out.ConsensusMultiplier)
}

func TestValidate_RejectsWhenConsensusTies(t *testing.T) {
	v := newTestValidator()
	cand := domain.Signal{
		SignalID: "s5", Symbol: "BTC-USDT", Recommendation: domain.RecommendationBuy,
		Category: domain.CategoryGeneric, Votes: domain.LLMVotes{Buy: 2, Sell: 2, Hold: 0, Confidence: 90},
	}

	out, err := v.Validate(context.Background(), cand, testAgent())
	require.NoError(t, err)
	require.False(t, out.IsValid)
	require.Contains(t, out.InvalidReason, "consensus rejected")
}

func TestValidate_RejectsWhenNoVotesCast(t *testing.T) {
	v := newTestValidator()
	cand := domain.Signal{SignalID: "s6", Symbol: "BTC-USDT", Recommendation: domain.RecommendationBuy, Category: domain.CategoryGeneric}

	out, err := v.Validate(context.Background(), cand, testAgent())
	require.NoError(t, err)
	require.False(t, out.IsValid)
}

func TestValidate_CapsOversizedStopLoss(t *testing.T) {
	v := newTestValidator()
	hinted := 100 - 500.0
	cand := domain.Signal{
		SignalID: "s2", Symbol: "BTC-USDT", Recommendation: domain.RecommendationBuy,
		Category: domain.CategoryGeneric, StopLossHint: &hinted,
	}

	out, err := v.Validate(context.Background(), cand, testAgent())
	require.NoError(t, err)
	require.Equal(t, 100-DefaultConfig().MaxSLPoints, out.StopLossPrice)
}

func TestValidate_RejectsUnsupportedSymbol(t *testing.T) {
	v := newTestValidator()
	cand := domain.Signal{SignalID: "s3", Symbol: "ETH-USDT", Recommendation: domain.RecommendationBuy, Category: domain.CategoryGeneric}

	out, err := v.Validate(context.Background(), cand, testAgent())
	require.NoError(t, err)
	require.False(t, out.IsValid)
	require.Contains(t, out.InvalidReason, "does not support")
}

func TestValidate_RejectsDisallowedCategory(t *testing.T) {
	v := newTestValidator()
	agent := testAgent()
	agent.AllowedSignalCategories = []domain.Category{domain.CategoryGeneric}
	cand := domain.Signal{SignalID: "s4", Symbol: "BTC-USDT", Recommendation: domain.RecommendationSell, Category: domain.CategoryFibonacciScalping}

	out, err := v.Validate(context.Background(), cand, agent)
	require.NoError(t, err)
	require.False(t, out.IsValid)
	require.Contains(t, out.InvalidReason, "category")
}

package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scalpguard/internal/domain"
)

func newTestAuthority() *Authority {
	return &Authority{cfg: DefaultConfig()}
}

func TestEvaluateConsensus(t *testing.T) {
	a := newTestAuthority()

	cases := []struct {
		name      string
		votes     domain.LLMVotes
		wantTrade bool
		wantDir   domain.Side
		wantMult  float64
	}{
		{"unanimous buy", domain.LLMVotes{Buy: 4}, true, domain.SideBuy, 1.00},
		{"unanimous sell", domain.LLMVotes{Sell: 4}, true, domain.SideSell, 1.00},
		{"strong buy", domain.LLMVotes{Buy: 3, Hold: 1}, true, domain.SideBuy, 1.00},
		{"strong sell", domain.LLMVotes{Sell: 3, Hold: 1}, true, domain.SideSell, 1.00},
		{"moderate buy", domain.LLMVotes{Buy: 3, Sell: 1}, true, domain.SideBuy, 0.75},
		{"moderate sell", domain.LLMVotes{Sell: 3, Buy: 1}, true, domain.SideSell, 0.75},
		{"weak buy confident", domain.LLMVotes{Buy: 2, Hold: 2, Confidence: 75}, true, domain.SideBuy, 0.50},
		{"weak buy unconfident", domain.LLMVotes{Buy: 2, Hold: 2, Confidence: 40}, false, "", 0},
		{"tie", domain.LLMVotes{Buy: 2, Sell: 2}, false, "", 0},
		{"opposed uncertain", domain.LLMVotes{Buy: 2, Sell: 1, Hold: 1}, false, "", 0},
		{"split", domain.LLMVotes{Buy: 1, Sell: 1, Hold: 2}, false, "", 0},
		{"hold majority", domain.LLMVotes{Buy: 1, Hold: 3}, false, "", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := a.EvaluateConsensus(tc.votes)
			assert.Equal(t, tc.wantTrade, got.ShouldTrade)
			if tc.wantTrade {
				assert.Equal(t, tc.wantDir, got.Direction)
				assert.InDelta(t, tc.wantMult, got.SizeMultiplier, 0.0001)
			}
		})
	}
}

func TestCalculateLotSize(t *testing.T) {
	a := newTestAuthority()

	lots := a.CalculateLotSize(100, 90, 1.0)
	assert.GreaterOrEqual(t, lots, a.cfg.MinLot)
	assert.LessOrEqual(t, lots, a.cfg.MaxLot)

	// zero distance falls back to MinLot
	assert.Equal(t, a.cfg.MinLot, a.CalculateLotSize(100, 100, 1.0))

	// very tight stop clamps to MaxLot rather than exceeding it
	tight := a.CalculateLotSize(100, 99.9, 1.0)
	assert.Equal(t, a.cfg.MaxLot, tight)
}

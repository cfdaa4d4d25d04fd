package mcpshim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"scalpguard/internal/domain"
)

func newStubServer(t *testing.T, recommendation string, confidence float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"recommendation": recommendation,
			"confidence":     confidence,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Vote_ParsesRecommendationAndConfidence(t *testing.T) {
	srv := newStubServer(t, "BUY", 82)
	c := NewClient(WithProvider("test"), WithBaseURL(srv.URL), WithModel("m1"))

	vote, err := c.Vote(context.Background(), "BTC-USDT", []float64{100, 101, 102})
	require.NoError(t, err)
	require.Equal(t, domain.RecommendationBuy, vote.Recommendation)
	require.Equal(t, 82.0, vote.Confidence)
}

func TestClient_Vote_ErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(WithProvider("test"), WithBaseURL(srv.URL))

	_, err := c.Vote(context.Background(), "BTC-USDT", nil)
	require.Error(t, err)
}

func TestPanel_Poll_TalliesVotesAndAveragesConfidence(t *testing.T) {
	buy := newStubServer(t, "BUY", 80)
	sell := newStubServer(t, "SELL", 60)
	hold := newStubServer(t, "HOLD", 50)

	panel := NewPanel(
		NewClient(WithProvider("p1"), WithBaseURL(buy.URL)),
		NewClient(WithProvider("p2"), WithBaseURL(sell.URL)),
		NewClient(WithProvider("p3"), WithBaseURL(hold.URL)),
	)

	votes := panel.Poll(context.Background(), "BTC-USDT", nil)
	require.Equal(t, 1, votes.Buy)
	require.Equal(t, 1, votes.Sell)
	require.Equal(t, 1, votes.Hold)
	require.InDelta(t, 63.33, votes.Confidence, 0.1)
}

func TestPanel_Poll_ExcludesFailedProvidersFromTally(t *testing.T) {
	buy := newStubServer(t, "BUY", 90)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)

	panel := NewPanel(
		NewClient(WithProvider("p1"), WithBaseURL(buy.URL)),
		NewClient(WithProvider("p2"), WithBaseURL(dead.URL)),
	)

	votes := panel.Poll(context.Background(), "BTC-USDT", nil)
	require.Equal(t, 1, votes.Buy)
	require.Equal(t, 0, votes.Sell)
	require.Equal(t, 90.0, votes.Confidence)
}

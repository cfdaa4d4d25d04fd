package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"scalpguard/internal/apiauth"
	"scalpguard/internal/brokerfilter"
	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/kv"
	"scalpguard/internal/queue"
	"scalpguard/internal/risk"
	"scalpguard/internal/signal"
	"scalpguard/internal/statestore"
)

type fakePrices struct{ price float64 }

func (f fakePrices) CurrentPrice(ctx context.Context, broker domain.Broker, symbol string) (float64, error) {
	return f.price, nil
}

type fakeLive struct{}

func (fakeLive) OpenPositionSides(ctx context.Context, userID string) (int, int, error) {
	return 0, 0, nil
}

// fakeVotePanel stands in for mcpshim.Panel in tests: it returns a fixed
// tally instead of polling real provider endpoints over HTTP.
type fakeVotePanel struct {
	votes domain.LLMVotes
}

func (f fakeVotePanel) Poll(ctx context.Context, symbol string, candles []float64) domain.LLMVotes {
	return f.votes
}

// unanimousBuyVotes is a 4-0-0 consensus pattern: full size, always trades.
var unanimousBuyVotes = domain.LLMVotes{Buy: 4, Sell: 0, Hold: 0, Confidence: 90}

type harness struct {
	server *Server
	issuer *apiauth.TokenIssuer
	store  *statestore.Store
	agent  domain.Agent
}

func newHarness(t *testing.T, withTOTP bool) *harness {
	return newHarnessWithVotes(t, withTOTP, unanimousBuyVotes)
}

func newHarnessWithVotes(t *testing.T, withTOTP bool, votes domain.LLMVotes) *harness {
	t.Helper()
	cl := clock.NewFrozen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	store, err := statestore.Open(":memory:", cl)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	kvStore, err := kv.Open(":memory:", cl)
	require.NoError(t, err)
	t.Cleanup(func() { kvStore.Close() })

	agent := domain.Agent{
		ID: "agent-1", UserID: "user-1", Broker: domain.BrokerOKX, IsActive: true,
		AllowedSignalCategories: []domain.Category{domain.CategoryFibonacciScalping, domain.CategoryGeneric},
	}
	require.NoError(t, store.Agents().Upsert(agent))

	filter := brokerfilter.NewStatic(map[domain.Broker][]string{domain.BrokerOKX: {"BTC-USDT"}})
	ra := risk.New(risk.DefaultConfig(), cl, store.DailyStats(), fakeLive{})
	validator := signal.New(signal.DefaultConfig(), fakePrices{price: 100}, filter, ra)
	q := queue.New(kvStore, cl)
	issuer := apiauth.NewTokenIssuer("test-secret", time.Hour)

	var totpGate *apiauth.TOTPGate
	if withTOTP {
		totpGate = apiauth.NewTOTPGate(map[string]string{"user-1": "JBSWY3DPEHPK3PXP"})
	}

	srv := New(cl, store, validator, q, ra, issuer, totpGate, nil, fakeVotePanel{votes: votes})
	return &harness{server: srv, issuer: issuer, store: store, agent: agent}
}

func (h *harness) authedRequest(method, path string, body any) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	token, _ := h.issuer.Issue("user-1", time.Now())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	h := newHarness(t, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadyz_ReturnsOKWhenStoreIsUp(t *testing.T) {
	h := newHarness(t, false)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCreateSignal_RejectsAgentNotOwnedByCaller(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.store.Agents().Upsert(domain.Agent{
		ID: "agent-2", UserID: "someone-else", Broker: domain.BrokerOKX, IsActive: true,
	}))

	body := map[string]any{
		"agent_id": "agent-2", "symbol": "BTC-USDT",
		"recommendation": "BUY", "category": "fibonacci-scalping",
	}
	req := h.authedRequest(http.MethodPost, "/v1/signals", body)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleCreateSignal_EnqueuesValidFibonacciScalpingSignal(t *testing.T) {
	h := newHarness(t, false)
	body := map[string]any{
		"agent_id": "agent-1", "symbol": "BTC-USDT",
		"recommendation": "BUY", "category": "fibonacci-scalping",
	}
	req := h.authedRequest(http.MethodPost, "/v1/signals", body)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		SignalID string `json:"signal_id"`
		IsValid  bool   `json:"is_valid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.IsValid)
	require.NotEmpty(t, resp.SignalID)

	logged, err := h.store.SignalLogs().Get(resp.SignalID)
	require.NoError(t, err)
	require.Equal(t, "agent-1", logged.AgentID)
}

func TestHandleCreateSignal_EnqueuesValidGenericCategorySignal(t *testing.T) {
	h := newHarness(t, false)
	body := map[string]any{
		"agent_id": "agent-1", "symbol": "BTC-USDT",
		"recommendation": "BUY", "category": "generic",
	}
	req := h.authedRequest(http.MethodPost, "/v1/signals", body)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		IsValid bool `json:"is_valid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.IsValid)

	n, err := h.server.queue.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHandleCreateSignal_ConsensusTieRejectsSignal(t *testing.T) {
	h := newHarnessWithVotes(t, false, domain.LLMVotes{Buy: 2, Sell: 2, Hold: 0, Confidence: 90})
	body := map[string]any{
		"agent_id": "agent-1", "symbol": "BTC-USDT",
		"recommendation": "BUY", "category": "fibonacci-scalping",
	}
	req := h.authedRequest(http.MethodPost, "/v1/signals", body)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		IsValid bool   `json:"is_valid"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.IsValid)
	require.Contains(t, resp.Reason, "consensus rejected")

	n, err := h.server.queue.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestHandleGetSignal_ReturnsNotFoundForUnknownID(t *testing.T) {
	h := newHarness(t, false)
	req := h.authedRequest(http.MethodGet, "/v1/signals/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListPositions_ReturnsEmptyListForNewUser(t *testing.T) {
	h := newHarness(t, false)
	req := h.authedRequest(http.MethodGet, "/v1/positions", nil)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Positions)
}

func TestHandleDailyStats_ReturnsNotFoundWhenNoneRecorded(t *testing.T) {
	h := newHarness(t, false)
	req := h.authedRequest(http.MethodGet, "/v1/stats/2026-01-01", nil)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAdminPause_RequiresTOTPCode(t *testing.T) {
	h := newHarness(t, true)
	req := h.authedRequest(http.MethodPost, "/v1/admin/pause", map[string]any{"reason": "manual halt"})
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleAdminPause_PausesWhenTOTPCodeIsValid(t *testing.T) {
	h := newHarness(t, true)
	code, err := totp.GenerateCode("JBSWY3DPEHPK3PXP", time.Now())
	require.NoError(t, err)

	req := h.authedRequest(http.MethodPost, "/v1/admin/pause", map[string]any{"reason": "manual halt"})
	req.Header.Set("X-TOTP-Code", code)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	stats, err := h.store.DailyStats().Get("2026-01-01")
	require.NoError(t, err)
	require.True(t, stats.IsPaused)
	require.Equal(t, "manual halt", stats.PauseReason)
}

func TestRouter_RejectsUnauthenticatedV1Request(t *testing.T) {
	h := newHarness(t, false)
	req := httptest.NewRequest(http.MethodGet, "/v1/positions", nil)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

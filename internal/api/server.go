// Package api exposes ScalpGuard's operator-facing HTTP surface: signal
// ingestion, SignalLog/Position/DailyTradingStats queries, health checks
// and the prometheus scrape endpoint. Handlers follow the inherited
// handler shape (func (s *Server) handleX(c *gin.Context), gin.H JSON
// envelopes, c.GetString("user_id") auth context).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scalpguard/internal/apiauth"
	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/metrics"
	"scalpguard/internal/queue"
	"scalpguard/internal/risk"
	"scalpguard/internal/signal"
	"scalpguard/internal/statestore"
	"scalpguard/internal/wsfeed"
)

// VotePanel supplies the AI-vote tally for a candidate signal's symbol. A
// *mcpshim.Panel satisfies this directly; tests can substitute a stub.
type VotePanel interface {
	Poll(ctx context.Context, symbol string, candles []float64) domain.LLMVotes
}

// Server wires the HTTP surface to the running components. It performs no
// business logic itself; every handler delegates to SignalValidator,
// RiskAuthority, or StateStore.
type Server struct {
	clock     clock.Clock
	store     *statestore.Store
	validator *signal.Validator
	queue     *queue.Queue
	risk      *risk.Authority
	issuer    *apiauth.TokenIssuer
	totp      *apiauth.TOTPGate
	feed      *wsfeed.Hub
	votes     VotePanel
}

// New builds a Server. totp, feed and votes may all be nil: totp disables
// the admin pause endpoint, feed disables the dashboard WebSocket stream,
// a nil votes makes handleCreateSignal treat every incoming signal as having
// cast zero AI votes (consensus then fails closed rather than trusting a
// caller-supplied tally).
func New(cl clock.Clock, store *statestore.Store, validator *signal.Validator, q *queue.Queue,
	ra *risk.Authority, issuer *apiauth.TokenIssuer, totp *apiauth.TOTPGate, feed *wsfeed.Hub, votes VotePanel) *Server {
	return &Server{clock: cl, store: store, validator: validator, queue: q, risk: ra, issuer: issuer, totp: totp, feed: feed, votes: votes}
}

// Router builds the gin engine with every route and middleware attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.Use(apiauth.Middleware(s.issuer))
	{
		v1.POST("/signals", s.handleCreateSignal)
		v1.GET("/signals/:id", s.handleGetSignal)
		v1.GET("/positions", s.handleListPositions)
		v1.GET("/stats/:date", s.handleDailyStats)
		if s.totp != nil {
			v1.POST("/admin/pause", apiauth.RequireTOTP(s.totp), s.handleAdminPause)
		}
		if s.feed != nil {
			v1.GET("/stream", gin.WrapH(http.HandlerFunc(s.feed.ServeHTTP)))
		}
	}
	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	if err := s.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// handleCreateSignal ingests a candidate signal: validates it against the
// owning agent, enqueues it if valid, and always writes the initial
// PENDING SignalLog row so the caller can poll GetSignal for the outcome.
func (s *Server) handleCreateSignal(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		AgentID        string                `json:"agent_id" binding:"required"`
		Symbol         string                `json:"symbol" binding:"required"`
		Recommendation domain.Recommendation `json:"recommendation" binding:"required"`
		Category       domain.Category       `json:"category" binding:"required"`
		EntryHint      *float64              `json:"entry_hint"`
		StopLossHint   *float64              `json:"stop_loss_hint"`
		TakeProfitHint *float64              `json:"take_profit_hint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	agent, err := s.store.Agents().Get(req.AgentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if agent.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "agent does not belong to caller"})
		return
	}

	// Votes are never trusted from the caller: a client that could self-report
	// its own consensus tally could force a favorable sizeMultiplier through
	// the gate below. A missing panel polls zero providers and so ties the
	// signal closed (hold-majority is not reached; the 0-0-0 case is caught
	// by the no-trade default), rather than falling back to caller input.
	var votes domain.LLMVotes
	if s.votes != nil {
		votes = s.votes.Poll(c.Request.Context(), req.Symbol, nil)
	}

	now := s.clock.Now()
	cand := domain.Signal{
		SignalID: uuid.New().String(), AgentID: req.AgentID, Symbol: req.Symbol,
		Recommendation: req.Recommendation, Category: req.Category,
		EntryHint: req.EntryHint, StopLossHint: req.StopLossHint, TakeProfitHint: req.TakeProfitHint,
		Votes: votes,
	}
	if err := s.store.SignalLogs().Create(cand.SignalID, cand.AgentID, now); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log signal: " + err.Error()})
		return
	}

	vs, err := s.validator.Validate(c.Request.Context(), cand, agent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation failed: " + err.Error()})
		return
	}
	if vs.IsValid {
		if err := s.queue.Enqueue(vs); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed: " + err.Error()})
			return
		}
	}
	metrics.RecordSignal(string(domain.SignalPending))

	c.JSON(http.StatusAccepted, gin.H{
		"signal_id": cand.SignalID,
		"is_valid":  vs.IsValid,
		"reason":    vs.InvalidReason,
	})
}

func (s *Server) handleGetSignal(c *gin.Context) {
	id := c.Param("id")
	log, err := s.store.SignalLogs().Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	c.JSON(http.StatusOK, log)
}

func (s *Server) handleListPositions(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		userID = c.GetString("user_id")
	}
	positions, err := s.store.Positions().ListOpenByUser(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list positions: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleDailyStats(c *gin.Context) {
	date := c.Param("date")
	stats, err := s.store.DailyStats().Get(date)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no stats for date"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleAdminPause manually forces today's trading pause, used when an
// operator needs to halt new executions outside the automatic
// consecutive-loss trigger.
func (s *Server) handleAdminPause(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	now := s.clock.Now()
	today := clock.UTCDate(now)
	stats, err := s.store.DailyStats().GetOrCreate(today)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats.IsPaused = true
	stats.PauseReason = req.Reason
	stats.PauseUntil = now.Add(24 * time.Hour)
	if err := s.store.DailyStats().Save(stats); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused", "reason": req.Reason})
}

// Package mcpshim is the carried-forward AI-vote ingestion path: it collects
// independent directional votes from a small panel of LLM/rule-based
// providers and folds them into a domain.LLMVotes that RiskAuthority's
// consensus sizing consumes. Prompt construction and reasoning-trace
// parsing are out of scope here; this shim only cares about the
// buy/sell/hold tally and the confidence a provider reports.
//
// The client keeps the options-pattern construction style and the
// hooks-based per-provider dispatch (buildRequestBody, parseVote) the
// carried-forward providers used, generalized to a single
// Client type with pluggable hooks instead of one embedding type per
// provider.
package mcpshim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"scalpguard/internal/domain"
	"scalpguard/internal/metrics"
)

// Vote is one provider's directional call.
type Vote struct {
	Recommendation domain.Recommendation
	Confidence     float64 // 0-100
}

// hooks lets a provider override how its request is built and its response
// parsed, without re-implementing the HTTP plumbing in Client.Vote.
type hooks interface {
	buildRequestBody(symbol string, candles []float64) map[string]any
	parseVote(body []byte) (Vote, error)
}

// Client is a single AI-vote provider endpoint.
type Client struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration

	httpClient *http.Client
	logger     *logrus.Entry
	hooks      hooks
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

func WithProvider(p string) ClientOption    { return func(c *Client) { c.Provider = p } }
func WithBaseURL(url string) ClientOption   { return func(c *Client) { c.BaseURL = url } }
func WithModel(model string) ClientOption   { return func(c *Client) { c.Model = model } }
func WithAPIKey(key string) ClientOption    { return func(c *Client) { c.APIKey = key } }
func WithTimeout(d time.Duration) ClientOption { return func(c *Client) { c.Timeout = d } }

// NewClient builds a Client with the default hooks (a JSON body of model,
// symbol and closes; a JSON reply of recommendation and confidence), then
// applies opts.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		Timeout:    20 * time.Second,
		logger:     logrus.WithField("component", "mcpshim"),
		httpClient: &http.Client{},
	}
	c.hooks = &defaultHooks{c: c}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Timeout = c.Timeout
	return c
}

// Vote asks the provider for a directional call on symbol given recent
// close prices, and returns the parsed Vote.
func (c *Client) Vote(ctx context.Context, symbol string, candles []float64) (Vote, error) {
	started := time.Now()
	body := c.hooks.buildRequestBody(symbol, candles)
	payload, err := json.Marshal(body)
	if err != nil {
		metrics.RecordAIVote(c.Provider, time.Since(started).Seconds(), true)
		return Vote{}, fmt.Errorf("mcpshim: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(payload))
	if err != nil {
		metrics.RecordAIVote(c.Provider, time.Since(started).Seconds(), true)
		return Vote{}, fmt.Errorf("mcpshim: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAIVote(c.Provider, time.Since(started).Seconds(), true)
		return Vote{}, fmt.Errorf("mcpshim: %s request failed: %w", c.Provider, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		metrics.RecordAIVote(c.Provider, time.Since(started).Seconds(), true)
		return Vote{}, fmt.Errorf("mcpshim: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		metrics.RecordAIVote(c.Provider, time.Since(started).Seconds(), true)
		return Vote{}, fmt.Errorf("mcpshim: %s returned %d: %s", c.Provider, resp.StatusCode, buf.String())
	}

	vote, err := c.hooks.parseVote(buf.Bytes())
	metrics.RecordAIVote(c.Provider, time.Since(started).Seconds(), err != nil)
	if err != nil {
		c.logger.WithError(err).Warn("vote parse failed")
		return Vote{}, err
	}
	return vote, nil
}

type defaultHooks struct{ c *Client }

func (h *defaultHooks) buildRequestBody(symbol string, candles []float64) map[string]any {
	return map[string]any{
		"model":  h.c.Model,
		"symbol": symbol,
		"closes": candles,
	}
}

func (h *defaultHooks) parseVote(body []byte) (Vote, error) {
	var result struct {
		Recommendation string  `json:"recommendation"`
		Confidence     float64 `json:"confidence"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return Vote{}, fmt.Errorf("mcpshim: parse vote: %w", err)
	}
	return Vote{Recommendation: domain.Recommendation(result.Recommendation), Confidence: result.Confidence}, nil
}

// Panel polls a fixed set of provider clients concurrently and tallies
// their votes into a domain.LLMVotes, the shape RiskAuthority.EvaluateConsensus
// expects.
type Panel struct {
	clients []*Client
}

// NewPanel builds a Panel from already-constructed provider clients.
func NewPanel(clients ...*Client) *Panel {
	return &Panel{clients: clients}
}

// Poll gathers one vote per provider and folds them into LLMVotes. A
// provider that errors out is silently excluded from the tally rather than
// failing the whole poll; a panel of 4 degrading to 3 voters still
// produces a usable consensus.
func (p *Panel) Poll(ctx context.Context, symbol string, candles []float64) domain.LLMVotes {
	type result struct {
		vote Vote
		err  error
	}
	results := make(chan result, len(p.clients))
	for _, cl := range p.clients {
		go func(cl *Client) {
			v, err := cl.Vote(ctx, symbol, candles)
			results <- result{vote: v, err: err}
		}(cl)
	}

	var votes domain.LLMVotes
	var confidenceSum float64
	var voters int
	for range p.clients {
		r := <-results
		if r.err != nil {
			continue
		}
		switch r.vote.Recommendation {
		case domain.RecommendationBuy:
			votes.Buy++
		case domain.RecommendationSell:
			votes.Sell++
		default:
			votes.Hold++
		}
		confidenceSum += r.vote.Confidence
		voters++
	}
	if voters > 0 {
		votes.Confidence = confidenceSum / float64(voters)
	}
	return votes
}

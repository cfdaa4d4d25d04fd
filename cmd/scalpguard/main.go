// Command scalpguard wires every component together: StateStore, KVStore,
// the broker registry, RiskAuthority, SignalValidator, PriorityQueue,
// Executor, PositionManager, MarketDropDetector and the HTTP surface. It
// follows a consistent Run/Stop/WaitGroup shutdown idiom: every ticker
// loop is started with a shared stop channel and joined on shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"scalpguard/internal/api"
	"scalpguard/internal/apiauth"
	"scalpguard/internal/broker"
	"scalpguard/internal/broker/binance"
	"scalpguard/internal/broker/mt4"
	"scalpguard/internal/broker/okx"
	"scalpguard/internal/brokerfilter"
	"scalpguard/internal/clock"
	"scalpguard/internal/config"
	"scalpguard/internal/domain"
	"scalpguard/internal/executor"
	"scalpguard/internal/kv"
	"scalpguard/internal/logger"
	"scalpguard/internal/marketdrop"
	"scalpguard/internal/mcpshim"
	"scalpguard/internal/metrics"
	"scalpguard/internal/position"
	"scalpguard/internal/queue"
	"scalpguard/internal/risk"
	"scalpguard/internal/signal"
	"scalpguard/internal/statestore"
	"scalpguard/internal/wsfeed"
)

var log = logger.With("main")

func main() {
	cfg, err := config.Load(".env", os.Getenv("SCALPGUARD_OVERRIDES_YAML"))
	if err != nil {
		log.Errorf("config load failed: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Env.LogLevel)
	if cfg.Env.LogJSON {
		logger.UseJSON()
	}
	metrics.Init()

	cl := clock.Real{}

	store, err := statestore.Open(cfg.Env.StateStorePath, cl)
	if err != nil {
		log.Errorf("statestore open failed: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	kvStore, err := kv.Open(cfg.Env.KVStorePath, cl)
	if err != nil {
		log.Errorf("kv store open failed: %v", err)
		os.Exit(1)
	}
	defer kvStore.Close()
	bus := kv.NewBus()

	execCfg := executor.DefaultConfig()
	registry := broker.NewRegistry(
		mt4.New(mt4.Config{
			BaseURL:      cfg.Env.MT4BaseURL,
			Timeout:      config.HTTPTimeout,
			ContractSize: map[string]float64{"XAUUSD": 100},
			Leverage:     map[string]float64{"XAUUSD": 100},
		}),
		okx.New(okx.Config{
			BaseURL: "https://www.okx.com", APIKey: cfg.Env.OKXAPIKey,
			SecretKey: cfg.Env.OKXAPISecret, Passphrase: cfg.Env.OKXPassphrase,
			MinOrderValue: execCfg.MinOrderValue,
		}),
		binance.New(cfg.Env.BinanceAPIKey, cfg.Env.BinanceSecret),
	)

	live := broker.NewLiveSource(registry, store.Agents())
	ra := risk.New(cfg.Risk, cl, store.DailyStats(), live)

	filter := brokerfilter.NewStatic(map[domain.Broker][]string{
		domain.BrokerMT4:     {"XAUUSD", "EURUSD", "GBPUSD"},
		domain.BrokerOKX:     {"BTC-USDT", "ETH-USDT", "SOL-USDT"},
		domain.BrokerBinance: {"BTCUSDT", "ETHUSDT"},
	})

	prices := &registryPriceSource{registry: registry}
	validator := signal.New(cfg.Signal, prices, filter, ra)
	q := queue.New(kvStore, cl)

	exec := executor.New(execCfg, cl, q, ra, filter, registry, validator, cfg.Signal.RRRatio, store, bus, kvStore)

	posManager := position.New(cfg.Position, cl, registry, ra, kvStore, bus, store)

	dropDetector := marketdrop.New(marketdrop.DefaultConfig(), cl, kvStore, bus, &tickerPriceSource{registry: registry})

	var issuer *apiauth.TokenIssuer
	if cfg.Env.JWTSecret != "" {
		issuer = apiauth.NewTokenIssuer(cfg.Env.JWTSecret, 24*time.Hour)
	}
	var votePanel api.VotePanel
	if len(cfg.Env.AIProviderURLs) > 0 {
		clients := make([]*mcpshim.Client, 0, len(cfg.Env.AIProviderURLs))
		for _, url := range cfg.Env.AIProviderURLs {
			clients = append(clients, mcpshim.NewClient(mcpshim.WithProvider(url), mcpshim.WithBaseURL(url)))
		}
		votePanel = mcpshim.NewPanel(clients...)
	}

	feed := wsfeed.NewHub()
	server := api.New(cl, store, validator, q, ra, issuer, nil, feed, votePanel)
	httpServer := &http.Server{Addr: cfg.Env.HTTPAddr, Handler: server.Router()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() { defer wg.Done(); exec.Run(ctx, stop).Wait() }()
	wg.Add(1)
	go func() { defer wg.Done(); posManager.Run(ctx, stop).Wait() }()
	wg.Add(1)
	go func() {
		defer wg.Done()
		dropDetector.Run([]string{"BTC-USDT", "ETH-USDT", "SOL-USDT", "XAUUSD"}, stop).Wait()
	}()
	wg.Add(1)
	go func() { defer wg.Done(); feed.Run(bus, stop).Wait() }()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("http server listening on %s", cfg.Env.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Infof("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	close(stop)
	cancel()
	wg.Wait()
	log.Infof("shutdown complete")
}

// registryPriceSource adapts the broker registry's per-venue Price call into
// signal.PriceSource's broker-aware shape.
type registryPriceSource struct {
	registry *broker.Registry
}

func (r *registryPriceSource) CurrentPrice(ctx context.Context, brk domain.Broker, symbol string) (float64, error) {
	adapter, err := r.registry.For(brk)
	if err != nil {
		return 0, err
	}
	quote, err := adapter.Price(ctx, "", symbol)
	if err != nil {
		return 0, err
	}
	return quote.Last, nil
}

// tickerPriceSource adapts the registry into marketdrop.PriceSource's
// broker-agnostic shape, using MT4 for XAUUSD, EURUSD and GBPUSD and the OKX
// venue for every other symbol.
type tickerPriceSource struct {
	registry *broker.Registry
}

func (t *tickerPriceSource) CurrentPriceVolume(symbol string) (float64, float64, error) {
	brk := domain.BrokerOKX
	if symbol == "XAUUSD" || symbol == "EURUSD" || symbol == "GBPUSD" {
		brk = domain.BrokerMT4
	}
	adapter, err := t.registry.For(brk)
	if err != nil {
		return 0, 0, err
	}
	quote, err := adapter.Price(context.Background(), "", symbol)
	if err != nil {
		return 0, 0, err
	}
	return quote.Last, 0, nil
}

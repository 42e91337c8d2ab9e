package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaycore/relaycore/internal/budget"
	"github.com/relaycore/relaycore/internal/cachemanager"
	"github.com/relaycore/relaycore/internal/circuitbreaker"
	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/costpredict"
	"github.com/relaycore/relaycore/internal/dispatch"
	"github.com/relaycore/relaycore/internal/events"
	"github.com/relaycore/relaycore/internal/health"
	"github.com/relaycore/relaycore/internal/idempotency"
	"github.com/relaycore/relaycore/internal/logging"
	"github.com/relaycore/relaycore/internal/metrics"
	"github.com/relaycore/relaycore/internal/neuroweaver"
	"github.com/relaycore/relaycore/internal/pipeline"
	"github.com/relaycore/relaycore/internal/priorityqueue"
	"github.com/relaycore/relaycore/internal/providers/anthropic"
	"github.com/relaycore/relaycore/internal/providers/openai"
	"github.com/relaycore/relaycore/internal/providers/specialist"
	"github.com/relaycore/relaycore/internal/ratelimit"
	"github.com/relaycore/relaycore/internal/router"
	"github.com/relaycore/relaycore/internal/semanticcache"
	"github.com/relaycore/relaycore/internal/stats"
	"github.com/relaycore/relaycore/internal/steering"
	"github.com/relaycore/relaycore/internal/store"
	"github.com/relaycore/relaycore/internal/transport"
	"github.com/relaycore/relaycore/internal/tsdb"
)

// version is set at build time via -ldflags.
var version = "dev"

func runHealthCheck(addr string) error {
	resp, err := http.Get(fmt.Sprintf("http://localhost%s/healthz", addr))
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		addr := os.Getenv("RELAYCORE_LISTEN_ADDR")
		if addr == "" {
			addr = ":8080"
		}
		if err := runHealthCheck(addr); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	log.Printf("relaycore version %s", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel)

	bus := events.NewBus()
	metricsReg := metrics.New()

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	steeringCfg, err := steering.LoadConfigFile(cfg.RulesFile)
	if err != nil {
		log.Fatalf("rules load error: %v", err)
	}
	steeringCfg.CostConstraints.DailyBudgetUSD = cfg.Steering.DailyBudgetUSD
	steeringCfg.CostConstraints.PerRequestMaxUSD = cfg.Steering.PerRequestMaxUSD
	engine := steering.NewEngine(steeringCfg)

	predictor := costpredict.NewPredictor()

	registry := budget.NewRegistry(db)
	tracker := budget.NewTracker(db, registry, bus)
	ledger := budget.NewIntegration(registry, tracker, logger)
	budgetMgr := budget.NewManager(registry, tracker, db, nil, predictor)
	if series, err := tsdb.New(db.DB()); err != nil {
		log.Printf("tsdb init error (cost-report series disabled): %v", err)
	} else {
		budgetMgr.WithSeries(series)
	}

	var embedder semanticcache.Embedder
	if cfg.Semantic.EmbeddingProvider == "external" {
		embedder = &semanticcache.ExternalEmbedder{}
	} else {
		embedder = semanticcache.LocalEmbedder{}
	}
	var cache *semanticcache.Cache
	if cfg.Semantic.Enabled {
		cache = semanticcache.New(embedder,
			semanticcache.WithSimilarityThreshold(cfg.Semantic.SimilarityThreshold),
			semanticcache.WithMaxCacheSize(cfg.Semantic.MaxCacheSize),
		)
	}

	healthTracker := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))

	l1 := cachemanager.New(nil, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	statsCollector := stats.NewCollector()

	breakers := circuitbreaker.NewManager(bus,
		circuitbreaker.WithFailureThreshold(cfg.Circuit.FailureThreshold),
		circuitbreaker.WithSuccessThreshold(cfg.Circuit.SuccessThreshold),
		circuitbreaker.WithRecoveryTimeout(time.Duration(cfg.Circuit.RecoveryTimeout)*time.Millisecond),
		circuitbreaker.WithMonitoringPeriod(time.Duration(cfg.Circuit.MonitoringPeriod)*time.Millisecond),
		circuitbreaker.WithTimeout(time.Duration(cfg.Circuit.TimeoutMs)*time.Millisecond),
	)

	adapters, modelProviders := loadAdapters(cfg)

	var feedback *neuroweaver.Client
	if cfg.NeuroWeaverEnabled {
		feedback = neuroweaver.New(cfg.NeuroWeaverEndpoint, logger)
	}

	deps := pipeline.Deps{
		Steering:       engine,
		Budget:         budgetMgr,
		Ledger:         ledger,
		Predictor:      predictor,
		Cache:          cache,
		L1:             l1,
		Stats:          statsCollector,
		Breakers:       breakers,
		Health:         healthTracker,
		Feedback:       feedback,
		Metrics:        metricsReg,
		Bus:            bus,
		Logger:         logger,
		Adapters:       adapters,
		ModelProviders: modelProviders,
	}

	qcfg := priorityqueue.Config{
		MaxSize:       cfg.Queue.MaxSize,
		Concurrency:   cfg.Queue.Concurrency,
		Strategy:      priorityqueue.Strategy(cfg.Queue.Strategy),
		TimeoutMs:     cfg.Queue.TimeoutMs,
		RetryDelayMs:  cfg.Queue.RetryDelayMs,
		MaxRetries:    cfg.Queue.MaxRetries,
		EnableMetrics: cfg.Queue.EnableMetrics,
	}
	p := pipeline.New(deps, qcfg)

	var dispatchMgr *dispatch.Manager
	if cfg.TemporalEnabled {
		dispatchMgr, err = dispatch.New(dispatch.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, p.Attempt)
		if err != nil {
			log.Fatalf("temporal dispatch init: %v", err)
		}
		if err := dispatchMgr.Start(); err != nil {
			log.Fatalf("temporal dispatch worker start: %v", err)
		}
		p.SetDispatch(dispatchMgr)
		log.Printf("durable dispatch enabled via temporal task queue %q", cfg.TemporalTaskQueue)
	}
	p.Start()

	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second, ratelimit.WithCounter(metricsReg.RateLimitedTotal))
	idem := idempotency.New(5*time.Minute, 10000)

	srv := transport.New(p, metricsReg, logger, transport.Config{
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPS: cfg.RateLimitRPS,
		RateLimit:    cfg.RateLimitBurst,
		OTelEnabled:  cfg.OTelEnabled,
	}, rl, idem)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      300 * time.Second,
	}

	go func() {
		log.Printf("relaycore listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			log.Printf("SIGHUP received, reloading steering rules...")
			newCfg, err := steering.LoadConfigFile(cfg.RulesFile)
			if err != nil {
				log.Printf("rules reload error: %v (keeping current rules)", err)
				continue
			}
			engine.Reload(newCfg)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("shutting down (draining in-flight requests)...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	p.Stop()
	if dispatchMgr != nil {
		dispatchMgr.Stop()
	}
	l1.Stop()
	if err := db.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}
	log.Printf("shutdown complete")
}

// loadAdapters wires provider adapters from raw environment variables. This
// is deliberately simpler than a credentials-file/vault-backed registry:
// RelayCore's routing decisions live in the steering config, not in a
// separate provider-credentials store.
func loadAdapters(cfg config.Config) (map[string]router.Sender, map[string]string) {
	adapters := make(map[string]router.Sender)
	modelProviders := make(map[string]string)
	timeout := time.Duration(cfg.ProviderTimeoutSecs) * time.Second

	if key := os.Getenv("RELAYCORE_OPENAI_API_KEY"); key != "" {
		baseURL := os.Getenv("RELAYCORE_OPENAI_BASE_URL")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		adapters["openai"] = openai.New("openai", key, baseURL)
		for _, m := range []string{"gpt-4", "gpt-4-turbo", "gpt-3.5-turbo"} {
			modelProviders[m] = "openai"
		}
	}

	if key := os.Getenv("RELAYCORE_ANTHROPIC_API_KEY"); key != "" {
		baseURL := os.Getenv("RELAYCORE_ANTHROPIC_BASE_URL")
		if baseURL == "" {
			baseURL = "https://api.anthropic.com"
		}
		adapters["anthropic"] = anthropic.New("anthropic", key, baseURL, anthropic.WithTimeout(timeout))
		for _, m := range []string{"claude-3-opus", "claude-3-sonnet", "claude-3-haiku"} {
			modelProviders[m] = "anthropic"
		}
	}

	if endpoint := os.Getenv("RELAYCORE_SPECIALIST_ENDPOINT"); endpoint != "" {
		adapters["specialist"] = specialist.New("specialist", endpoint, specialist.WithTimeout(timeout))
	}

	return adapters, modelProviders
}

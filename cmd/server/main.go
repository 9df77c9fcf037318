// Command server starts the writing-assistant orchestration runtime: the
// process-wide service graph of cost ledger, rate limiter, response
// cache, circuit breakers, context store, router, worker registry, and
// orchestrator, fronted by a minimal HTTP surface exposing /process and
// /metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/cache"
	"github.com/scribeforge/orchestrator/internal/config"
	"github.com/scribeforge/orchestrator/internal/contextstore"
	contextpg "github.com/scribeforge/orchestrator/internal/contextstore/pgstore"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/factcheck"
	"github.com/scribeforge/orchestrator/internal/ledger"
	ledgermem "github.com/scribeforge/orchestrator/internal/ledger/memstore"
	ledgerpg "github.com/scribeforge/orchestrator/internal/ledger/pgstore"
	"github.com/scribeforge/orchestrator/internal/llmclient"
	"github.com/scribeforge/orchestrator/internal/messagestore"
	messagepg "github.com/scribeforge/orchestrator/internal/messagestore/pgstore"
	"github.com/scribeforge/orchestrator/internal/metrics"
	"github.com/scribeforge/orchestrator/internal/observability"
	"github.com/scribeforge/orchestrator/internal/orchestrator"
	"github.com/scribeforge/orchestrator/internal/pgpool"
	"github.com/scribeforge/orchestrator/internal/projectstore"
	"github.com/scribeforge/orchestrator/internal/ratelimit"
	"github.com/scribeforge/orchestrator/internal/router"
	"github.com/scribeforge/orchestrator/internal/search"
	"github.com/scribeforge/orchestrator/internal/worker"
	"github.com/scribeforge/orchestrator/internal/workerclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	metrics.Register()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.DBURL != "" {
		pool, err = pgpool.New(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("db connect failed, continuing with in-memory stores", slog.Any("error", err))
			pool = nil
		}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if _, pingErr := rdb.Ping(ctx).Result(); pingErr != nil {
			slog.Warn("redis ping failed, falling back to in-memory cache/rate-limiting", slog.Any("error", pingErr))
			rdb = nil
		}
	}

	// L0: cost ledger, backed by Postgres when available, else memory.
	ledgerStore, err := newLedgerStore(ctx, pool)
	if err != nil {
		slog.Error("ledger store setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	led := ledger.New(ledgerStore, cfg.MonthlyBudgetUSD, cfg.MaxDailyCostUSD)
	costModel := ledger.NewCostModel()

	// L0: rate limiter. The provider-wide throttle is a separate token
	// bucket from the per-user fixed window: it caps total throughput
	// against the upstream model provider regardless of which user is
	// asking, mirrored to Postgres so a restart doesn't reset the bucket.
	var throttle *ratelimit.RedisLuaLimiter
	if rdb != nil {
		throttle = ratelimit.NewRedisLuaLimiter(rdb, pool, map[string]ratelimit.BucketConfig{
			"global": ratelimit.NewBucketConfigFromPerMinute(cfg.ProviderRequestsPerMinute),
		})
		if err := throttle.EnsureSchema(ctx); err != nil {
			slog.Warn("failed to ensure rate limit bucket schema", slog.Any("error", err))
		} else if err := throttle.WarmFromPostgres(ctx); err != nil {
			slog.Warn("failed to warm rate limit buckets from postgres", slog.Any("error", err))
		}
	}
	admitter := ratelimit.NewAdmitter(rdb, led, cfg.RateWindow, cfg.MaxRequestsPerMinute, throttle)

	// L0: response cache.
	responseCache := cache.New(rdb, 1000)

	// L0: circuit breakers, shared across every dependency name.
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	})

	// L1: worker client (LLM dispatch, cache, breaker, retries).
	llm := llmclient.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.RequestTimeout)
	retryTuning := cfg.GetRetryTuning()
	wc := workerclient.New(llm, responseCache, breakers, led, costModel, workerclient.RetryPolicy{
		MaxRetries: retryTuning.MaxRetries,
		BaseDelay:  retryTuning.BaseDelay,
		MaxDelay:   retryTuning.MaxDelay,
	}, cfg.RequestTimeout)

	// L1: context store, fronting a Postgres backend when available.
	contextBackend, err := newContextStore(ctx, pool)
	if err != nil {
		slog.Error("context store setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	contextStore := contextstore.New(contextBackend, nil, cfg.ContextCacheSize, cfg.ContextTTL, cfg.BackgroundWriteDeadline)
	contextStore.StartSweep(ctx, cfg.ContextSweepInterval)
	defer contextStore.Stop()

	// Worker registry: three LLM-backed roles plus the fact-checker.
	registry := worker.NewRegistry()
	registry.Register(worker.NewIdeation(wc, breakers, cfg.LLMDefaultModel, 1024, cfg.CacheTTLFor(domain.WorkerIdeation), cfg.MaxContentLength))
	registry.Register(worker.NewRefiner(wc, breakers, cfg.LLMDefaultModel, 1024, cfg.CacheTTLFor(domain.WorkerRefiner), cfg.MaxContentLength))
	registry.Register(worker.NewMedia(wc, breakers, cfg.LLMDefaultModel, 512, cfg.CacheTTLFor(domain.WorkerMedia), cfg.MaxContentLength))

	trustedDomains := parseTrustedDomains(cfg.TrustedDomains)
	if fileOverrides, tdErr := config.LoadTrustedDomains(cfg.TrustedDomainsFile); tdErr != nil {
		slog.Warn("failed to load trusted domains file, ignoring", slog.Any("error", tdErr))
	} else {
		if trustedDomains == nil && len(fileOverrides) > 0 {
			trustedDomains = make(map[string]float64, len(fileOverrides))
		}
		for d, score := range fileOverrides {
			trustedDomains[d] = score
		}
	}
	credibility := factcheck.NewCredibilityTable(trustedDomains)
	duck := search.NewDuckDuckGo(cfg.DuckDuckGoBaseURL, 10*time.Second)
	commercial := search.NewCommercial(cfg.CommercialSearchURL, cfg.CommercialSearchKey, 10*time.Second)
	verifier := factcheck.NewVerifier(duck, commercial, breakers, responseCache, credibility, cfg.FactCheckCacheTTL, cfg.FactCheckClaimDelay)
	registry.Register(factcheck.New(llm, breakers, verifier, led, costModel, cfg.LLMDefaultModel, cfg.MaxContentLength))

	// L2: router and orchestrator.
	rt := router.New(registry, domain.WorkerKind(cfg.FallbackWorker))

	messageStore, err := newMessageStore(ctx, pool)
	if err != nil {
		slog.Error("message store setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	projects := projectstore.New()

	estimator := requestCostEstimator{wc: wc, model: cfg.LLMDefaultModel, maxTokens: 1024}

	orch := orchestrator.New(admitter, estimator, projects, rt, contextStore, registry, led, messageStore, orchestrator.Config{
		MaxConcurrentRequests:   cfg.MaxConcurrentRequests,
		RequestTimeout:          cfg.RequestTimeout,
		BackgroundWriteDeadline: cfg.BackgroundWriteDeadline,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Method(http.MethodPost, "/process", otelhttp.NewHandler(processHandler(orch), "process"))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("orchestrator server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("orchestrator did not drain in-flight requests before deadline", slog.Any("error", err))
	}
	_ = srvHTTP.Shutdown(shutdownCtx)
	if pool != nil {
		pool.Close()
	}
}

func newLedgerStore(ctx context.Context, pool *pgxpool.Pool) (domain.LedgerStore, error) {
	if pool == nil {
		return ledgermem.New(), nil
	}
	store := ledgerpg.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("op=main.ensure_ledger_schema: %w", err)
	}
	return store, nil
}

func newContextStore(ctx context.Context, pool *pgxpool.Pool) (domain.ContextStore, error) {
	if pool == nil {
		return nil, nil
	}
	store := contextpg.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("op=main.ensure_context_schema: %w", err)
	}
	return store, nil
}

func newMessageStore(ctx context.Context, pool *pgxpool.Pool) (domain.MessageStore, error) {
	if pool == nil {
		return messagestore.NewMemStore(), nil
	}
	store := messagepg.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("op=main.ensure_message_schema: %w", err)
	}
	return store, nil
}

// requestCostEstimator prices a prospective dispatch for the admission
// gate's budget projection: tiktoken-estimated prompt tokens for the
// request content plus the full completion budget as worst case.
type requestCostEstimator struct {
	wc        *workerclient.Client
	model     string
	maxTokens int
}

func (e requestCostEstimator) EstimateRequestCostUSD(content string) float64 {
	return e.wc.EstimatedCostUSD(e.model, ledger.EstimateTokens(e.model, content), e.maxTokens)
}

func parseTrustedDomains(raw string) map[string]float64 {
	if raw == "" {
		return nil
	}
	var overrides map[string]float64
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		slog.Warn("failed to parse TRUSTED_DOMAINS, ignoring", slog.Any("error", err))
		return nil
	}
	return overrides
}

// processHandler adapts the orchestrator's process(request) operation to
// an HTTP endpoint. Route definition, authentication, and response
// rendering beyond this minimal JSON envelope belong to the surrounding
// service, not this runtime.
func processHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		resp, err := orch.Process(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNoAgentAvailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrWorkerCallFailed):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}

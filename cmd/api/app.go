package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/reviewloop/hub/internal/api/handlers"
	"github.com/reviewloop/hub/internal/api/middleware"
	"github.com/reviewloop/hub/internal/config"
	"github.com/reviewloop/hub/internal/googleai"
	"github.com/reviewloop/hub/internal/observability"
	"github.com/reviewloop/hub/internal/openai"
	"github.com/reviewloop/hub/internal/repository"
	"github.com/reviewloop/hub/internal/service"
	"github.com/reviewloop/hub/pkg/cache"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	server         *http.Server
	tierService    *service.AuthorTierService
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

var errUnsupportedEmbeddingProvider = errors.New("unsupported embedding provider")

const (
	embeddingProviderOpenAI = "openai"
	embeddingProviderGoogle = "google"
)

// Expired author-tier entries are evicted lazily on read; the sweep just keeps
// the map from accumulating dead tenants.
const tierCachePurgeInterval = 5 * time.Minute

const maxRequestBodyBytes = 1 << 20 // 1 MiB

// setupMetrics creates meter provider and hub metrics when metrics are enabled.
// When NewMeterProvider returns nil (unsupported or disabled exporter), returns (nil, nil, nil) (metrics disabled).
func setupMetrics(cfg *config.Config) (*sdkmetric.MeterProvider, *observability.Metrics, error) {
	mp, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter("hub"))
	if err != nil {
		err2 := observability.ShutdownMeterProvider(context.Background(), mp)
		if err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, metrics, nil
}

// newEmbeddingClient creates the configured provider's SDK client.
func newEmbeddingClient(cfg *config.Config) (service.EmbeddingClient, error) {
	switch cfg.EmbeddingProvider {
	case embeddingProviderOpenAI:
		return openai.NewClient(cfg.EmbeddingProviderAPIKey,
			openai.WithModel(cfg.EmbeddingModel),
		), nil
	case embeddingProviderGoogle:
		googleClient, err := googleai.NewClient(context.Background(), cfg.EmbeddingProviderAPIKey,
			googleai.WithModel(cfg.EmbeddingModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return googleClient, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedEmbeddingProvider, cfg.EmbeddingProvider)
	}
}

// NewApp builds and wires all components. It does not start the HTTP server;
// call Run to start and block until shutdown or failure.
func NewApp(cfg *config.Config, db *pgxpool.Pool) (*App, error) {
	var (
		err           error
		meterProvider *sdkmetric.MeterProvider
		metrics       *observability.Metrics
	)

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, metrics, err = setupMetrics(cfg)
		if err != nil {
			return nil, err
		}
	}

	var tracerProvider *sdktrace.TracerProvider

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			if meterProvider != nil {
				if err2 := observability.ShutdownMeterProvider(context.Background(), meterProvider); err2 != nil {
					slog.Error("shutdown meter provider after tracer provider error", "error", err2)
				}
			}

			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	// Install TraceContextHandler unconditionally so request_id (and trace_id/span_id when tracing is on) appear in logs.
	defaultHandler := slog.Default().Handler()
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(defaultHandler)))

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	var (
		cacheMetrics     observability.CacheMetrics
		embeddingMetrics observability.EmbeddingMetrics
		retrievalMetrics observability.RetrievalMetrics
	)
	if metrics != nil {
		cacheMetrics = metrics.Cache
		embeddingMetrics = metrics.Embeddings
		retrievalMetrics = metrics.Retrieval
	}

	embeddingClient, err := newEmbeddingClient(cfg)
	if err != nil {
		return nil, err
	}

	embeddingProvider := service.NewFailOpenEmbeddingProvider(service.FailOpenEmbeddingProviderParams{
		Client:            embeddingClient,
		Model:             cfg.EmbeddingModel,
		RequestsPerSecond: cfg.EmbeddingRequestsPerSecond,
		Metrics:           embeddingMetrics,
		Logger:            slog.Default(),
	})

	memoriesRepo := repository.NewMemoriesRepository(db)
	tiersRepo := repository.NewAuthorTiersRepository(db)

	queryCache, err := cache.NewLoaderCache[string, []float32](
		cfg.QueryEmbeddingCacheSize,
		func(query string) string { return query },
	)
	if err != nil {
		return nil, fmt.Errorf("create query embedding cache: %w", err)
	}

	isolationService := service.NewIsolationService(memoriesRepo, retrievalMetrics, slog.Default())

	retrievalService, err := service.NewRetrievalService(service.RetrievalServiceParams{
		Provider:       embeddingProvider,
		Isolation:      isolationService,
		MaxConcurrency: cfg.RetrievalMaxConcurrency,
		Recency: service.RecencyConfig{
			HalfLifeDays:  cfg.RecencyHalfLifeDays,
			CriticalFloor: service.DefaultRecencyConfig().CriticalFloor,
			DefaultFloor:  service.DefaultRecencyConfig().DefaultFloor,
		},
		QueryCache:   queryCache,
		CacheMetrics: cacheMetrics,
		Metrics:      retrievalMetrics,
		Logger:       slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("create retrieval service: %w", err)
	}

	memoriesService := service.NewMemoriesService(memoriesRepo, embeddingProvider, slog.Default())

	tierService := service.NewAuthorTierService(service.AuthorTierServiceParams{
		Store:    tiersRepo,
		CacheTTL: time.Duration(cfg.AuthorTierCacheTTLSecs) * time.Second,
		Metrics:  cacheMetrics,
		Logger:   slog.Default(),
	})

	retrievalHandler := handlers.NewRetrievalHandler(retrievalService, tierService, slog.Default())
	memoriesHandler := handlers.NewMemoriesHandler(memoriesService)
	tiersHandler := handlers.NewAuthorTiersHandler(tierService, tiersRepo)
	healthHandler := handlers.NewHealthHandler()

	server := newHTTPServer(
		cfg, healthHandler, retrievalHandler, memoriesHandler, tiersHandler,
		metrics, meterProvider, tracerProvider,
	)

	return &App{
		cfg:            cfg,
		db:             db,
		server:         server,
		tierService:    tierService,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}, nil
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health, API key on /v1/).
// Handler chain: RequestID -> otelhttp(Metrics(Logging(mux))) so access logs get trace_id/span_id from context.
func newHTTPServer(
	cfg *config.Config,
	health *handlers.HealthHandler,
	retrieval *handlers.RetrievalHandler,
	memories *handlers.MemoriesHandler,
	tiers *handlers.AuthorTiersHandler,
	metrics *observability.Metrics,
	meterProvider *sdkmetric.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", health.Check)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/retrieval/search", retrieval.Search)

	protected.HandleFunc("POST /v1/memories", memories.Write)
	protected.HandleFunc("DELETE /v1/memories", memories.DeleteByFinding)

	protected.HandleFunc("GET /v1/author-tiers", tiers.Get)
	protected.HandleFunc("PUT /v1/author-tiers", tiers.Upsert)

	protectedWithAuth := middleware.Auth(cfg.APIKey)(protected)
	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedWithAuth)
	mux.Handle("/", public)

	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for health checks to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	var (
		httpMetrics observability.HTTPMetrics
		apiMetrics  observability.APIMetrics
	)
	if metrics != nil {
		httpMetrics = metrics.HTTP
		apiMetrics = metrics.API
	}

	// Logging runs inside otelhttp so r.Context() has the span when we log (trace_id/span_id in access logs).
	inner := middleware.Logging(mux)
	inner = middleware.MaxBody(maxRequestBodyBytes, apiMetrics)(inner)
	inner = middleware.Metrics(httpMetrics)(inner)
	handler := otelhttp.NewHandler(inner, "hub-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout  = 15 * time.Second
		writeTimeout = 15 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server and the cache sweeper, then blocks until ctx is
// cancelled (e.g. signal) or the server fails. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()

	go a.runTierCacheSweeper(sweepCtx)

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// runTierCacheSweeper periodically evicts expired author-tier cache entries.
func (a *App) runTierCacheSweeper(ctx context.Context) {
	ticker := time.NewTicker(tierCachePurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.tierService.PurgeExpired(); n > 0 {
				slog.Debug("purged expired author tier cache entries", "count", n)
			}
		}
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if tracer != nil {
		if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
			first = err
		}
	}

	if meter != nil {
		if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
			if first == nil {
				first = err
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// Shutdown stops the server, then observability. Call after Run returns.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

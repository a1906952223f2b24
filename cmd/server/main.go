// Command server starts the PowerPulse HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/powerpulse/powerpulse/internal/adapter/ai"
	"github.com/powerpulse/powerpulse/internal/adapter/ai/gemini"
	"github.com/powerpulse/powerpulse/internal/adapter/ai/openai"
	"github.com/powerpulse/powerpulse/internal/adapter/ai/stub"
	"github.com/powerpulse/powerpulse/internal/adapter/events"
	"github.com/powerpulse/powerpulse/internal/adapter/httpserver"
	"github.com/powerpulse/powerpulse/internal/adapter/observability"
	"github.com/powerpulse/powerpulse/internal/adapter/repo/postgres"
	"github.com/powerpulse/powerpulse/internal/adapter/repo/rediscache"
	"github.com/powerpulse/powerpulse/internal/app"
	"github.com/powerpulse/powerpulse/internal/config"
	"github.com/powerpulse/powerpulse/internal/domain"
	"github.com/powerpulse/powerpulse/internal/service/progress"
	"github.com/powerpulse/powerpulse/internal/service/ratelimiter"
	"github.com/powerpulse/powerpulse/internal/service/scheduler"
	"github.com/powerpulse/powerpulse/internal/usecase"
)

// poolAdapter adapts *pgxpool.Pool to postgres.Beginner for CleanupService.
type poolAdapter struct{ *pgxpool.Pool }

func (p poolAdapter) Begin(ctx context.Context) (postgres.Tx, error) {
	return p.Pool.Begin(ctx)
}

// redisAdapter bridges *redis.Client into the readiness interface.
type redisAdapter struct{ c *redis.Client }

func (r redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return r.c.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, pipeline, and AI instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool and schema
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Repositories
	convRepo := postgres.NewConversationRepo(pool)
	analysisRepo := postgres.NewAnalysisRepo(pool)
	metricRepo := postgres.NewMetricRepo(pool)
	jobRepo := observability.NewJobStoreMetrics(postgres.NewJobRepo(pool))

	// Optional Redis: processed-chat cache and the shared AI call budget.
	var processed domain.ProcessedChatStore = postgres.NewProcessedChatRepo(pool)
	var rdb *redis.Client
	var redisReadiness app.RedisClient
	if cfg.RedisEnabled() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("redis url invalid", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		processed = rediscache.NewProcessedChatCache(processed, rdb, cfg.ProcessedChatTTL)
		redisReadiness = redisAdapter{c: rdb}
		slog.Info("redis cache enabled", slog.Duration("processed_chat_ttl", cfg.ProcessedChatTTL))
	}

	// Data retention
	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(poolAdapter{pool}, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	// Scoring parameters: defaults, optionally overridden from YAML.
	params, err := config.LoadScoringParams(cfg.ScoringConfigPath)
	if err != nil {
		slog.Error("scoring config invalid", slog.Any("error", err))
		os.Exit(1)
	}

	analyzer, model, err := buildAnalyzer(ctx, cfg, rdb)
	if err != nil {
		slog.Error("ai provider init failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("ai provider ready", slog.String("provider", analyzer.Name()), slog.String("model", model))

	// Progress tracking, decorated with Prometheus gauges.
	tracker := progress.NewTracker()
	reporter := observability.NewProgressMetrics(tracker)

	// Bounded-concurrency scheduler for provider calls.
	sched := scheduler.NewPool(cfg.AIConcurrency, cfg.MinInterCallDelay)
	sched.Start()

	// Optional Kafka completion events.
	var publisher domain.CompletionPublisher
	if cfg.KafkaEnabled() {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaCompletionTopic)
		if err != nil {
			slog.Error("kafka publisher init failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = kp.Close() }()
		publisher = kp
	}

	// Usecases
	metricsSvc := usecase.NewMetricsService(analysisRepo, metricRepo)
	runner := usecase.NewJobRunner(jobRepo, analyzer, reporter, usecase.NewCalculator(params))
	uploads := usecase.NewUploadService(convRepo, jobRepo, processed, runner, metricsSvc, reporter, sched, publisher,
		usecase.MessageFilter{
			Sentence:       cfg.AutoresponseSentence,
			Substring:      cfg.AutoresponseSubstring,
			SubstringMatch: cfg.AutoresponseSubstringMatch,
		},
		usecase.UploadConfig{
			MaxFileSize:     cfg.MaxFileSize,
			MaxTokensPerJob: cfg.MaxTokensPerJob,
			BatchSize:       cfg.BatchSize,
			UploadTimeout:   cfg.UploadTimeout,
		})
	reports := usecase.NewReportService(convRepo, analysisRepo)

	// HTTP server
	dbCheck, redisCheck := app.BuildReadinessChecks(pool, redisReadiness)
	srv := httpserver.NewServer(cfg, uploads, reports, metricsSvc, tracker, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	// Background sweepers
	sweepCtx, stopSweepers := context.WithCancel(ctx)
	defer stopSweepers()
	go app.NewStuckJobSweeper(jobRepo, cfg.JobStaleAfter, cfg.JobSweepInterval).Run(sweepCtx)
	go app.NewProgressSweeper(tracker, cfg.ProgressRetention, cfg.ProgressSweepPeriod).Run(sweepCtx)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	// Cancel running uploads and drain the scheduler so their terminal
	// statuses land before exit.
	stopSweepers()
	for _, id := range uploads.ActiveUploads() {
		uploads.Cancel(id)
	}
	sched.Stop()
}

// buildAnalyzer assembles the provider client with its decorators: metering
// and circuit breaking innermost so every attempt is observed, then the
// optional shared call budget, then retries outermost.
func buildAnalyzer(ctx context.Context, cfg config.Config, rdb *redis.Client) (domain.Analyzer, string, error) {
	var base domain.Analyzer
	var model string
	switch cfg.AIService {
	case "gemini":
		cl, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, "", err
		}
		base, model = cl, cfg.GeminiModel
	case "openai":
		cl, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, "", err
		}
		base, model = cl, cfg.OpenAIModel
	case "stub":
		cl := stub.New()
		base, model = cl, cl.Model()
	default:
		return nil, "", fmt.Errorf("unknown AI_SERVICE %q", cfg.AIService)
	}

	breaker := ai.NewCircuitBreaker(base.Name(), 5, 30*time.Second)
	drift := observability.NewScoreDriftMonitor(0, 0)
	var analyzer domain.Analyzer = ai.NewObservableAnalyzer(base, model, breaker, drift)

	if rdb != nil && cfg.AICallsPerMinute > 0 {
		limiter := ratelimiter.NewRedisLimiter(rdb, map[string]ratelimiter.BucketConfig{
			"ai:" + base.Name(): ratelimiter.PerMinute(cfg.AICallsPerMinute),
		})
		analyzer = ai.NewRateLimitedAnalyzer(analyzer, limiter)
	}
	return ai.NewRetryingAnalyzer(analyzer, cfg.AIRetryPolicy()), model, nil
}

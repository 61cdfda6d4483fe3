// Command insights-core wires the DTA pipeline and judge engines to a
// Postgres-backed storage layer and starts the background orphan
// reaper and Prometheus metrics server. It is a wiring entrypoint, not
// the REST/gateway layer: HTTP routing and request authentication are
// out of scope (spec Non-goals) and live in an external collaborator
// that calls into these engines directly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/comparison"
	"github.com/opencircle/insights-core/internal/config"
	"github.com/opencircle/insights-core/internal/evalhook"
	"github.com/opencircle/insights-core/internal/judge"
	"github.com/opencircle/insights-core/internal/metrics"
	"github.com/opencircle/insights-core/internal/pipeline"
	"github.com/opencircle/insights-core/internal/provider/anthropic"
	"github.com/opencircle/insights-core/internal/provider/bedrock"
	"github.com/opencircle/insights-core/internal/provider/openaicompat"

	coreprovider "github.com/opencircle/insights-core/internal/provider"
	"github.com/opencircle/insights-core/internal/redact"
	"github.com/opencircle/insights-core/internal/storage"
	"github.com/opencircle/insights-core/internal/trace"
	"github.com/opencircle/insights-core/internal/vault"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configFile := flag.String("config-file",
		getEnv("CONFIG_FILE", "./deploy/insights-core.yaml"),
		"Path to the catalog/provider/judge YAML config file")
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to a .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("no %s file loaded, continuing with process environment: %v", *envFile, err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		code := config.ExitCodeFor(err)
		log.Printf("exit %d: loading configuration: %v", code, err)
		os.Exit(code)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		slog.Error("storage unavailable at startup", "error", err)
		os.Exit(config.ExitCodeFor(wrapStartupError(config.ErrStorageUnavailable, err)))
	}
	defer pool.Close()

	if err := storage.Migrate(cfg.Storage); err != nil {
		slog.Error("schema migration failed", "error", err)
		os.Exit(config.ExitCodeFor(wrapStartupError(config.ErrStorageUnavailable, err)))
	}

	cat := catalog.New(cfg.Catalog)
	config.Watch(*configFile, cat, func(err error) {
		slog.Error("catalog hot-reload failed, keeping prior snapshot", "error", err)
	})

	credentialStore := storage.NewCredentialStore(pool)
	v := vault.New(credentialStore, cfg.Vault.EncryptionKey)

	providers := pipeline.NewProviderRegistry()
	wireProviders(providers, cfg)

	traceStore := storage.NewTraceStore(pool)
	recorder := trace.NewRecorder(traceStore)

	collector := metrics.NewCollector(metrics.Config{Namespace: cfg.Metrics.Namespace, Subsystem: cfg.Metrics.Subsystem})
	rec := metrics.NewRecorder(collector)

	analysisStore := storage.NewAnalysisStore(pool)
	comparisonStore := storage.NewComparisonStore(pool)
	evalResultStore := storage.NewEvaluationResultStore(pool)

	evalRegistry := evalhook.NewRegistry()
	evalHook := evalhook.NewHook(evalRegistry, evalResultStore)

	dtaEngine := pipeline.New(cat, v, providers, recorder, analysisStore, redact.DefaultFilter(), evalHook)
	dtaEngine.Metrics = rec

	judgeEngine := judge.New(cat, v, providers, recorder, analysisStore, comparisonStore, comparisonStore)
	judgeEngine.Metrics = rec

	guard := buildGuard(ctx, cfg, pool)
	comparisonService := comparison.NewService(guard, judgeEngine, analysisStore, comparisonStore)
	comparisonService.Metrics = rec

	reaper := comparison.NewReaper(traceStore, recorder, 10*time.Minute)
	reaper.Metrics = rec
	go runReaperLoop(ctx, reaper)

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, err := pool.Health(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		_, _ = w.Write([]byte(fmt.Sprintf("%+v", status)))
	})

	server := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		slog.Info("metrics server listening", "addr", cfg.Metrics.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	// dtaEngine and comparisonService are handed to the external
	// REST/gateway collaborator in a full deployment; this entrypoint
	// only proves the wiring compiles and runs the background reaper
	// and metrics server.
	_ = dtaEngine
	_ = comparisonService

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func wireProviders(registry *pipeline.ProviderRegistry, cfg *config.Config) {
	retry := coreprovider.DefaultRetryConfig()

	anthropicSettings := cfg.ProviderOrDefault("anthropic")
	registry.Register("anthropic", coreprovider.NewRunner("anthropic", anthropic.New(anthropicSettings.BaseURL), retryFor(retry, anthropicSettings)))

	bedrockSettings := cfg.ProviderOrDefault("bedrock")
	registry.Register("bedrock", coreprovider.NewRunner("bedrock", bedrock.New(bedrockSettings.BaseURL), retryFor(retry, bedrockSettings)))

	for _, name := range []string{"openai", "azure_openai", "openai_compat"} {
		settings := cfg.ProviderOrDefault(name)
		registry.Register(name, coreprovider.NewRunner(name, openaicompat.New(settings.BaseURL), retryFor(retry, settings)))
	}
}

func retryFor(base coreprovider.RetryConfig, settings config.ProviderSettings) coreprovider.RetryConfig {
	out := base
	if settings.RequestTimeout > 0 {
		out.Timeout = settings.RequestTimeout
	}
	if settings.MaxRetries > 0 {
		out.MaxRetries = settings.MaxRetries
	}
	return out
}

// buildGuard selects the Redis SET NX PX lock when Redis is configured,
// falling back to the Postgres advisory lock otherwise, per spec §4.7.
func buildGuard(ctx context.Context, cfg *config.Config, pool *storage.Pool) comparison.Guard {
	if !cfg.UsesRedisGuard() {
		return comparison.NewPostgresGuard(pool)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable at startup, falling back to postgres guard", "error", err)
		return comparison.NewPostgresGuard(pool)
	}
	return comparison.NewRedisGuard(client, cfg.Redis.LockTTL)
}

func runReaperLoop(ctx context.Context, reaper *comparison.Reaper) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := reaper.Sweep(ctx)
			if err != nil {
				slog.Error("orphan reaper sweep failed", "error", err)
				continue
			}
			if len(reaped) > 0 {
				slog.Info("orphan reaper closed stuck traces", "count", len(reaped))
			}
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// wrapStartupError joins a classification sentinel (so config.ExitCodeFor
// can map it to the right exit code) with the underlying cause.
func wrapStartupError(sentinel, cause error) error {
	return &startupError{sentinel: sentinel, cause: cause}
}

type startupError struct {
	sentinel error
	cause    error
}

func (e *startupError) Error() string   { return e.sentinel.Error() + ": " + e.cause.Error() }
func (e *startupError) Unwrap() []error { return []error{e.sentinel, e.cause} }

// cmd/engine-manager/main.go
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"diligence-engine/internal/analysis/cascade"
	"diligence-engine/internal/analysis/provider"
	"diligence-engine/internal/analysis/scoring"
	"diligence-engine/internal/api"
	"diligence-engine/internal/common/camunda"
	"diligence-engine/internal/common/config"
	"diligence-engine/internal/common/database"
	"diligence-engine/internal/common/events"
	commonhttp "diligence-engine/internal/common/http"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/common/observability"
	"diligence-engine/internal/engine"
	"diligence-engine/internal/gate"
	"diligence-engine/internal/store"
	"diligence-engine/pkg/registry"

	ap "diligence-engine/internal/workers/analysis/analyze-pitch"
	ao "diligence-engine/internal/workers/onboarding/advance-onboarding"
	vd "diligence-engine/internal/workers/onboarding/vendor-decision"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting engine manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("database", cfg.Database.Driver),
		zap.String("primaryProvider", cfg.Analysis.Primary),
	)

	obs := observability.New(cfg.App.Name, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	defer obs.Shutdown()

	ctx := context.Background()
	var readiness []api.Option

	// --- Persistence ---
	var st store.Store
	sqlClient, err := openSQL(ctx, cfg, zapLog)
	if err != nil {
		zapLog.Fatal("database failed after retries", zap.Error(err))
	}
	if sqlClient != nil {
		defer sqlClient.Close()
		sqlStore := store.NewSQLStore(sqlClient.DB)
		if err := sqlStore.Migrate(ctx); err != nil {
			zapLog.Fatal("database migration failed", zap.Error(err))
		}
		st = sqlStore
		readiness = append(readiness, api.WithReadinessCheck("database", sqlClient.Ping))
		zapLog.Info("SQL store ready", zap.String("driver", sqlClient.DriverName()))
	} else {
		st = store.NewMemoryStore()
		zapLog.Warn("Using in-memory store; state is lost on restart")
	}

	if cfg.Database.Redis.Enabled {
		var redisClient *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()

		st = store.Composite{
			RequestStore:  st,
			ResultStore:   store.NewCachedResultStore(st, redisClient.Client, time.Duration(cfg.Database.Redis.ResultCacheTTL)*time.Second, log),
			StateStore:    st,
			CooldownStore: store.NewRedisCooldownStore(redisClient.Client),
		}
		readiness = append(readiness, api.WithReadinessCheck("redis", redisClient.Ping))
		zapLog.Info("Redis connected successfully")
	}

	var index *store.ResultIndex
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		index = store.NewResultIndex(esClient.Client, cfg.Database.Elasticsearch.ResultIndex)
		readiness = append(readiness, api.WithReadinessCheck("elasticsearch", esClient.Ping))
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Analysis ---
	providers := primaryProviders(cfg, zapLog)

	var jitter scoring.Jitter = scoring.NewRandJitter(cfg.Analysis.JitterSeed)
	if cfg.Analysis.Deterministic {
		jitter = scoring.NoJitter{}
	}
	providers = append(providers, provider.NewHeuristicProvider(jitter, log))

	chain, err := cascade.New(providers, log,
		cascade.WithTimeout(config.GetDuration(cfg.Analysis.ProviderTimeout)),
		cascade.WithTracer(obs.Tracer()),
	)
	if err != nil {
		zapLog.Fatal("failed to build provider cascade", zap.Error(err))
	}

	g := gate.New(st, gate.Windows{
		Pitch:                cfg.Cooldown.Pitch,
		IdentityVerification: cfg.Cooldown.IdentityVerification,
		BusinessVerification: cfg.Cooldown.BusinessVerification,
	})

	// --- Events ---
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.SNS.Enabled {
		sns, err := events.NewSNSPublisher(ctx, cfg.Events.SNS.Region, cfg.Events.SNS.TopicARN)
		if err != nil {
			zapLog.Fatal("failed to create SNS publisher", zap.Error(err))
		}
		publisher = sns
		zapLog.Info("SNS publisher ready", zap.String("topic", cfg.Events.SNS.TopicARN))
	}

	engineOpts := []engine.Option{
		engine.WithPublisher(publisher),
		engine.WithObservability(obs),
	}
	if index != nil {
		engineOpts = append(engineOpts,
			engine.WithResultIndex(index),
			engine.WithComparables(index, config.GetDuration(cfg.Analysis.ComparableTimeout)),
		)
	}
	eng, err := engine.New(st, chain, g, log, engineOpts...)
	if err != nil {
		zapLog.Fatal("failed to create engine", zap.Error(err))
	}

	// --- Zeebe workers ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			Recorder:               obs,
		}, log)
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")
		startWorkers(cfg, zeebe, eng, log, zapLog)
	}

	// --- HTTP API, health and metrics ---
	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		gin.SetMode(gin.ReleaseMode)
		apiServer := api.New(eng, log, append(readiness,
			api.WithRequestTimeout(config.GetDuration(cfg.HTTP.RequestTimeout)),
			api.WithVersion(cfg.App.Version),
		)...)
		httpServer = &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: config.GetDuration(cfg.HTTP.ReadTimeout),
		}
	} else {
		httpServer = healthServer(fmt.Sprintf(":%d", cfg.App.HealthPort))
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", httpServer.Addr), zap.Bool("api", cfg.HTTP.Enabled))
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.HTTP.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if err := eng.Wait(shutdownCtx); err != nil {
		zapLog.Warn("Analyses still running at shutdown", zap.Error(err))
	}

	zapLog.Info("Engine manager stopped gracefully")
}

// healthServer serves only probes and metrics, for worker-only deployments.
func healthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func openSQL(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (*database.SQLClient, error) {
	if cfg.Database.Driver == config.DriverMemory {
		return nil, nil
	}
	var client *database.SQLClient
	err := retryWithBackoff(func() error {
		var err error
		client, err = database.Open(cfg.Database)
		if err != nil {
			return err
		}
		return client.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Database connection")
	return client, err
}

// primaryProviders builds the providers tried before the local heuristic.
func primaryProviders(cfg *config.Config, zapLog *zap.Logger) []provider.Provider {
	switch cfg.Analysis.Primary {
	case config.PrimaryAnthropic:
		if cfg.Analysis.Anthropic.APIKey == "" {
			zapLog.Warn("ANTHROPIC_API_KEY not set; every analysis will fall back to the heuristic provider")
		}
		return []provider.Provider{provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:    cfg.Analysis.Anthropic.APIKey,
			Model:     cfg.Analysis.Anthropic.Model,
			MaxTokens: cfg.Analysis.Anthropic.MaxTokens,
		})}
	case config.PrimaryGateway:
		return []provider.Provider{provider.NewGatewayProvider(provider.GatewayConfig{
			BaseURL:     cfg.Analysis.GenAI.BaseURL,
			APIKey:      cfg.Analysis.GenAI.APIKey,
			MaxTokens:   cfg.Analysis.GenAI.MaxTokens,
			Temperature: cfg.Analysis.GenAI.Temperature,
			MaxRetries:  cfg.Analysis.GenAI.MaxRetries,
		}, commonhttp.NewClient(config.GetDuration(cfg.Analysis.GenAI.Timeout)))}
	default:
		return nil
	}
}

func startWorkers(cfg *config.Config, zeebe *camunda.Client, eng *engine.Engine, log logger.Logger, zapLog *zap.Logger) {
	known := map[string]bool{}
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		zapLog.Warn("worker registry unavailable; starting every configured worker", zap.Error(err))
	} else {
		for _, taskType := range reg.Implemented() {
			known[taskType] = true
		}
	}

	enabled := func(taskType string) (config.WorkerConfig, bool) {
		if reg != nil && !known[taskType] {
			zapLog.Warn("task type not marked implemented in registry; skipping", zap.String("taskType", taskType))
			return config.WorkerConfig{}, false
		}
		wcfg := config.GetWorkerConfig(cfg, taskType)
		// Workers missing from the config file take the registry's budget.
		if _, configured := cfg.Workers[taskType]; !configured && reg != nil {
			if act, ok := reg.Find(taskType); ok {
				wcfg.Timeout = int(act.TimeoutOr(config.GetDuration(wcfg.Timeout)).Milliseconds())
				if act.Retries > 0 {
					wcfg.MaxRetries = act.Retries
				}
			}
		}
		return wcfg, config.IsWorkerEnabled(cfg, taskType)
	}

	if wcfg, ok := enabled(ap.TaskType); ok {
		handler := ap.NewHandler(ap.ConfigFromWorker(wcfg), eng, log)
		zeebe.StartWorker(ap.TaskType, wcfg, handler.Handle)
	}
	if wcfg, ok := enabled(ao.TaskType); ok {
		handler := ao.NewHandler(ao.ConfigFromWorker(wcfg), eng, log)
		zeebe.StartWorker(ao.TaskType, wcfg, handler.Handle)
	}
	if wcfg, ok := enabled(vd.TaskType); ok {
		handler := vd.NewHandler(vd.ConfigFromWorker(wcfg), eng, log)
		zeebe.StartWorker(vd.TaskType, wcfg, handler.Handle)
	}
}

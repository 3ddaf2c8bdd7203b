package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	redisBackend "github.com/kailas-cloud/recall/internal/backend/redis"
	"github.com/kailas-cloud/recall/internal/config"
	"github.com/kailas-cloud/recall/internal/engine"
	"github.com/kailas-cloud/recall/internal/heartbeat"
	"github.com/kailas-cloud/recall/internal/ingest"
	logpkg "github.com/kailas-cloud/recall/internal/logger"
	"github.com/kailas-cloud/recall/internal/metrics"
	"github.com/kailas-cloud/recall/internal/rerank"
	"github.com/kailas-cloud/recall/internal/retry"
	chiTransport "github.com/kailas-cloud/recall/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/recall/internal/transport/openai"
	"github.com/kailas-cloud/recall/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting recall daemon",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Redis and Valkey speak the same FT.SEARCH dialect; one store serves both.
	store, err := redisBackend.NewStore(redisBackend.Config{
		Addrs:           cfg.Database.Addrs,
		Username:        cfg.Database.Username,
		Password:        cfg.Database.Password,
		DB:              cfg.Database.DB,
		IndexName:       cfg.Index.Name,
		KeyPrefix:       cfg.Index.KeyPrefix,
		VectorDim:       cfg.Index.VectorDim,
		FilterFields:    cfg.Index.FilterFields,
		HNSWM:           cfg.Index.HNSWM,
		HNSWEFConstruct: cfg.Index.HNSWEFConstruct,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Failed to create backend store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Backend not ready", zap.Error(err))
	}
	if err := store.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure index", zap.Error(err))
	}
	logger.Info("Connected to backend", zap.String("index", cfg.Index.Name))

	// Register engine metrics explicitly (no init())
	metrics.Register()

	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Scoring models are loaded lazily and evicted LRU.
	pool, err := engine.NewModelPool(cfg.Cache.ModelCapacity, func(model string) (rerank.Scorer, error) {
		return openaiEmb.NewScorer(embedder, model), nil
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create model pool", zap.Error(err))
	}
	defer pool.Close()

	pipeline, err := buildPipeline(cfg.Rerank, pool, logger)
	if err != nil {
		logger.Fatal("Failed to build rerank pipeline", zap.Error(err))
	}

	policy, err := retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		InitialWait: time.Duration(cfg.Retry.InitialWaitMS) * time.Millisecond,
		MaxWait:     time.Duration(cfg.Retry.MaxWaitMS) * time.Millisecond,
		Multiplier:  cfg.Retry.Multiplier,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create retry policy", zap.Error(err))
	}

	eng, err := engine.New(store, embedder, pipeline, policy, engine.Config{
		CacheCapacity: cfg.Cache.QueryCapacity,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Failed to create engine", zap.Error(err))
	}

	ingester, err := ingest.New(store, embedder, ingest.Config{
		WatchDirs:    cfg.Heartbeat.WatchDirs,
		ManifestPath: cfg.Heartbeat.ManifestPath,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Failed to create ingester", zap.Error(err))
	}

	hb, err := heartbeat.New(eng, ingester, heartbeat.Config{
		Interval:    cfg.Heartbeat.Interval(),
		WarmQueries: cfg.Heartbeat.WarmQueries,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Failed to create heartbeat", zap.Error(err))
	}
	hb.Start()

	server := chiTransport.NewServer(eng, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	hb.Stop(time.Duration(cfg.HTTP.ShutdownSec) * time.Second)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Daemon stopped gracefully")
}

// buildPipeline assembles the configured reranking stages in order.
func buildPipeline(cfg config.RerankConfig, pool *engine.ModelPool, logger *zap.Logger) (*rerank.Pipeline, error) {
	stages := make([]rerank.Reranker, 0, len(cfg.Stages))
	for _, name := range cfg.Stages {
		switch name {
		case "relevance":
			stages = append(stages, rerank.NewRelevance(pool.Scorer(cfg.Model), cfg.BatchSize))
		case "diversity":
			d, err := rerank.NewDiversity(cfg.Diversity)
			if err != nil {
				return nil, fmt.Errorf("diversity stage: %w", err)
			}
			stages = append(stages, d)
		default:
			return nil, fmt.Errorf("unknown rerank stage %q", name)
		}
	}
	return rerank.NewPipeline(logger, stages...), nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

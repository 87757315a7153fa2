package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/config"
	"github.com/kailas-cloud/embshift/internal/db"
	dbValkey "github.com/kailas-cloud/embshift/internal/db/valkey"
	"github.com/kailas-cloud/embshift/internal/domain"
	domtraining "github.com/kailas-cloud/embshift/internal/domain/training"
	logpkg "github.com/kailas-cloud/embshift/internal/logger"
	"github.com/kailas-cloud/embshift/internal/metrics"
	"github.com/kailas-cloud/embshift/internal/repository/embcache"
	"github.com/kailas-cloud/embshift/internal/repository/runs"
	"github.com/kailas-cloud/embshift/internal/repository/trainingresult"
	chiTransport "github.com/kailas-cloud/embshift/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/embshift/internal/transport/openai"
	adaptiveuc "github.com/kailas-cloud/embshift/internal/usecase/adaptive"
	embeddinguc "github.com/kailas-cloud/embshift/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/embshift/internal/usecase/health"
	promotionuc "github.com/kailas-cloud/embshift/internal/usecase/promotion"
	traininguc "github.com/kailas-cloud/embshift/internal/usecase/training"
	"github.com/kailas-cloud/embshift/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting embshift governance server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("runs_root", cfg.Governance.RunsRoot),
		zap.String("results_backend", cfg.Training.ResultsBackend),
		zap.Strings("cache_addrs", cfg.Cache.Addrs),
	)

	if err := os.MkdirAll(cfg.Governance.RunsRoot, 0o750); err != nil {
		logger.Fatal("Failed to create runs root", zap.Error(err))
	}

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterShiftMetrics()
	metrics.RegisterHTTPMetrics()

	// Optional valkey store: embedding cache and KV training results
	ctx := context.Background()
	var store db.Store
	if cfg.Cache.Enabled() {
		vs, err := dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create valkey store", zap.Error(err))
		}
		defer vs.Close()
		if err := vs.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Valkey not ready", zap.Error(err))
		}
		store = vs
		logger.Info("Connected to valkey")
	}

	// Queries and corpus documents get their own instruction prefix
	queryEmbedder := buildEmbedder(cfg, cfg.Embedding.QueryInstruction, store, logger)
	docEmbedder := buildEmbedder(cfg, cfg.Embedding.DocumentInstruction, store, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Bool("cache", store != nil),
		zap.Bool("query_instruction", cfg.Embedding.QueryInstruction != ""),
		zap.Bool("document_instruction", cfg.Embedding.DocumentInstruction != ""),
	)

	var results interface {
		traininguc.ResultSaver
		adaptiveuc.ResultLoader
	}
	switch cfg.Training.ResultsBackend {
	case config.BackendKV:
		results = trainingresult.NewKVRepository(store, cfg.Cache.KeyPrefix, logger)
	default:
		results = trainingresult.NewFSRepository(cfg.Training.ResultsRoot, logger)
	}

	trainingSvc := traininguc.NewService(
		queryEmbedder, docEmbedder, results, runs.NewWriter(cfg.Governance.RunsRoot, logger), logger,
		traininguc.WithEvaluationSink(metrics.Sink{}),
		traininguc.WithEvaluationDurations(metrics.EvaluationDuration),
		traininguc.WithLearnerMetrics(metrics.LearnerCasesTotal, metrics.LearnerDeltaNorm),
	)
	proposer := adaptiveuc.NewProposer(queryEmbedder, docEmbedder, results, cfg.Embedding.Dimensions,
		adaptiveuc.NewController(nil, logger), logger)
	promotionSvc := promotionuc.New(logger,
		promotionuc.WithDecisionCounter(metrics.PromotionDecisionsTotal),
		promotionuc.WithSkippedCounter(metrics.DiscoverySkippedTotal),
	)

	var cachePinger healthuc.CachePinger
	if store != nil {
		cachePinger = store
	}
	healthSvc := healthuc.New(cfg.Governance.RunsRoot, cachePinger, newEmbeddingHealthChecker(queryEmbedder))

	server := chiTransport.NewServer(promotionSvc, trainingSvc, proposer, healthSvc, chiTransport.Defaults{
		RunsRoot:      cfg.Governance.RunsRoot,
		DefaultMetric: cfg.Governance.DefaultMetric,
		Epsilon:       cfg.Governance.Epsilon,
		HistoryLimit:  cfg.Governance.HistoryLimit,
		LearnerOptions: domtraining.PosNegLearningOptions{
			MaxL2Norm:       cfg.Training.MaxL2Norm,
			DisableNormClip: cfg.Training.DisableNormClip,
			Debug:           cfg.Training.Debug,
			HardNegTopK:     cfg.Training.HardNegTopK,
		},
		CancelOutEpsilon: cfg.Training.CancelOutEps(),
		EvalK:            cfg.Training.EvalK,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger),
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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> DimensionGuard -> Instruction
func buildEmbedder(cfg config.Config, instruction string, store db.Store, logger *zap.Logger) domain.Embedder {
	ec := cfg.Embedding
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     ec.APIKey,
		BaseURL:    ec.BaseURL,
		Model:      ec.Model,
		Dimensions: ec.Dimensions,
		Provider:   ec.Provider,
		Timeout:    time.Duration(ec.TimeoutSec) * time.Second,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if store != nil {
		embedder = embcache.New(base, store, embcache.Options{
			KeyPrefix:  cfg.Cache.KeyPrefix,
			TTL:        time.Duration(cfg.Cache.TTLSec) * time.Second,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		}, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewDimensionGuard(embedder, ec.Dimensions, ec.Provider, ec.Model, logger)

	// Instruction prefix (outermost: cache key includes instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

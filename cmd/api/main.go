package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/api"
	"github.com/council-ai/backend/internal/api/handlers"
	"github.com/council-ai/backend/internal/cache/redis"
	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/evaluators"
	"github.com/council-ai/backend/internal/evaluators/llm"
	"github.com/council-ai/backend/internal/improvement"
	"github.com/council-ai/backend/internal/jobs"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/ledger/index"
	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/internal/middleware/ratelimit"
	"github.com/council-ai/backend/internal/pdca"
	"github.com/council-ai/backend/internal/storage/sqlite"
	"github.com/council-ai/backend/internal/verification"
	"github.com/council-ai/backend/pkg/config"
	appLogger "github.com/council-ai/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting AI safety council API server", zap.String("mode", cfg.Council.Mode))

	metrics.Init()

	var completer llm.Completer
	if cfg.Council.Mode != evaluators.ModeHeuristic {
		completer = llm.NewClient(llm.ClientConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		})
	}

	registry, err := evaluators.BuildRegistry(cfg.Council.Mode, cfg.Council.RiskThreshold, completer, cfg.Council.Categories)
	if err != nil {
		appLogger.Fatal("Failed to seat the council", zap.Error(err))
	}
	aggregator := council.NewAggregator(registry, council.Options{
		Width:   cfg.Council.MaxWorkers,
		Timeout: cfg.Council.EvaluatorTimeout(),
		Logger:  appLogger.Named("council"),
	})
	appLogger.Info("Council seated", zap.Int("evaluators", registry.Len()))

	store, err := ledger.OpenLevelDB(cfg.Ledger.Path)
	if err != nil {
		appLogger.Fatal("Failed to open ledger store", zap.Error(err))
	}
	defer store.Close()

	chain, err := ledger.New(ledger.Options{
		Difficulty: cfg.Ledger.Difficulty,
		Store:      store,
		Logger:     appLogger.Named("ledger"),
	})
	if err != nil {
		appLogger.Fatal("Failed to load ledger", zap.Error(err))
	}
	if report := chain.Validate(); !report.Valid {
		appLogger.Error("Ledger failed integrity check on startup",
			zap.Int64("failed_index", report.FailedIndex),
			zap.String("reason", report.Reason))
	}

	idx := index.New(chain)
	chain.Subscribe(idx.Apply)

	mirror, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer mirror.Close()

	if err := mirror.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}
	if _, err := mirror.Reconcile(chain.ExportAll()); err != nil {
		appLogger.Fatal("Failed to reconcile SQLite mirror", zap.Error(err))
	}
	chain.Subscribe(mirror.Subscriber())

	cycles, err := pdca.NewManager(mirror)
	if err != nil {
		appLogger.Fatal("Failed to load PDCA cycles", zap.Error(err))
	}
	chain.Subscribe(cycles.Subscriber())

	stream := handlers.NewLedgerStream(chain.Tip)
	chain.Subscribe(stream.Publish)

	var cache verification.VerdictCache
	var decisions handlers.DecisionCounts
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL())
		if err != nil {
			appLogger.Warn("Redis unavailable, verdict cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			if cfg.Redis.InvalidateOnStart {
				if _, err := redisClient.InvalidateVerdicts(context.Background()); err != nil {
					appLogger.Warn("Failed to invalidate verdict cache", zap.Error(err))
				}
			}
			cache = redisClient
			decisions = redisClient
		}
	}

	var sink improvement.SignalSink
	if cfg.Kafka.Enabled {
		publisher, err := improvement.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			appLogger.Fatal("Failed to create Kafka publisher", zap.Error(err))
		}
		defer publisher.Close()
		sink = publisher
	}

	miner := jobs.NewMiner(chain, jobs.MinerConfig{
		Interval:    cfg.Ledger.SealInterval(),
		Deadline:    cfg.Ledger.MiningDeadline(),
		MaxAttempts: cfg.Ledger.MaxSealAttempts,
	})

	service := verification.NewService(aggregator, chain, miner, cache)

	tracker := improvement.NewTracker(chain, improvement.Options{
		Threshold:     cfg.Improvement.RetrainThreshold,
		Sink:          sink,
		KnownCategory: service.HasCategory,
	})

	replayed := tracker.Replay(chain.ExportAll())
	appLogger.Info("Feedback replayed from ledger", zap.Int("records", replayed))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app := api.NewApp(cfg.Server, api.Dependencies{
		Service:   service,
		Ledger:    chain,
		Index:     idx,
		Miner:     miner,
		Tracker:   tracker,
		Stream:    stream,
		Mirror:    mirror,
		Decisions: decisions,
		Cycles:    cycles,
		Limiter:   limiter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	miner.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	miner.Stop()
	appLogger.Info("Server stopped",
		zap.Int("ledger_height", chain.Height()),
		zap.Int("pending", chain.PendingCount()))
}

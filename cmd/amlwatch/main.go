package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/amlwatch/api"
	"github.com/Aidin1998/amlwatch/internal/advisor"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/alerts"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/graph"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/jobs"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/rules"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/scoring"
	"github.com/Aidin1998/amlwatch/internal/config"
	"github.com/Aidin1998/amlwatch/internal/database"
	"github.com/Aidin1998/amlwatch/internal/messaging"
	"github.com/Aidin1998/amlwatch/internal/queue"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/internal/textgen"
	"github.com/Aidin1998/amlwatch/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLoggerWithConfig(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	db, err := database.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	st := store.NewGormStore(db)
	if err := st.Migrate(); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	scorer := scoring.Load(cfg.Scoring.ArtifactDir, scoring.Thresholds{
		Iso: cfg.Scoring.IsoThreshold,
		AE:  cfg.Scoring.AEThreshold,
	}, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobQueue := newQueue(ctx, cfg, zapLogger)

	var publisher alerts.Publisher
	var producer *messaging.KafkaProducer
	kafkaCfg := messaging.ConfigFrom(cfg.Kafka)
	if cfg.Kafka.Enabled {
		producer = messaging.NewKafkaProducer(kafkaCfg, sugar.With("component", "kafka_producer"))
		publisher = messaging.NewAlertPublisher(producer, cfg.Kafka.AlertTopic)
	}

	analyzer, err := graph.NewAnalyzer(st, graph.DefaultOptions())
	if err != nil {
		zapLogger.Fatal("Failed to create graph analyzer", zap.Error(err))
	}

	orchestrator := jobs.NewOrchestrator(jobs.Deps{
		Store: st,
		Queue: jobQueue,
		Rules: rules.NewEngine(rules.StructuringParams{
			Threshold: decimal.NewFromFloat(cfg.Rules.StructuringThreshold),
			Window:    cfg.Rules.StructuringWindow,
			MinCount:  cfg.Rules.StructuringMinCount,
		}),
		KYC:      rules.NewKYCChecker(cfg.Rules.HighRiskCountries, cfg.Rules.WatchlistSimilarity),
		Graph:    analyzer,
		Scorer:   scorer,
		Sink:     alerts.NewSink(st, publisher, sugar.With("component", "alert_sink")),
		Advisor:  advisor.New(st, textgen.New(cfg.TextGen), sugar.With("component", "advisor")),
		Logger:   sugar.With("component", "jobs"),
		Settings: cfg.Jobs,
	})
	orchestrator.Start()

	var consumer *messaging.KafkaConsumer
	if cfg.Kafka.Enabled {
		consumer = messaging.NewKafkaConsumer(kafkaCfg, sugar.With("component", "kafka_consumer"))
		consumer.Subscribe(ctx, messaging.Topic(cfg.Kafka.IngestTopic), cfg.Kafka.GroupID,
			messaging.IngestHandler(orchestrator, sugar.With("component", "ingest_consumer")))
	}

	// Schedule DB pool metrics collection every 30s
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				database.RecordPoolStats(db, cfg.Database.Driver)
			}
		}
	}()

	gin.SetMode(cfg.Server.Mode)
	apiServer := api.NewServer(zapLogger, st, orchestrator)
	go func() {
		if err := apiServer.Start(cfg.Server.Addr); err != nil {
			zapLogger.Error("API server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			zapLogger.Error("Failed to close kafka consumer", zap.Error(err))
		}
	}
	if err := jobQueue.Close(); err != nil {
		zapLogger.Error("Failed to close job queue", zap.Error(err))
	}
	orchestrator.Stop()
	if producer != nil {
		if err := producer.Close(); err != nil {
			zapLogger.Error("Failed to close kafka producer", zap.Error(err))
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			zapLogger.Error("Failed to close database", zap.Error(err))
		}
	}

	zapLogger.Info("Server exited properly")
}

// newQueue shares dispatch through redis when enabled, otherwise keeps it in process
func newQueue(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) queue.Queue {
	if !cfg.Redis.Enabled {
		return queue.NewMemoryQueue(cfg.Jobs.QueueSize)
	}
	client, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		zapLogger.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	zapLogger.Info("Using redis job queue", zap.String("key", cfg.Redis.QueueKey))
	return queue.NewRedisQueue(client, cfg.Redis.QueueKey)
}

package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"family-coach-platform/internal/ai"
	"family-coach-platform/internal/config"
	"family-coach-platform/internal/database"
	"family-coach-platform/internal/logger"
	"family-coach-platform/internal/queue"
	"family-coach-platform/internal/telemetry"
	"family-coach-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("family-coach-worker")
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	dbManager := database.NewManagerFromClient(mongoClient, cfg.DBName)
	defer dbManager.Close(context.Background())

	redisClient, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	embedder, err := ai.NewEmbeddingService(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedding service:", err)
	}
	defer embedder.Close()

	coachClient, err := ai.NewCoachClient(cfg.GeminiAPIKey, cfg.CoachModel, cfg.GeminiTier)
	if err != nil {
		log.Fatal("Failed to initialize coach client:", err)
	}
	defer coachClient.Close()

	vectorStore := services.NewMongoVectorStore(dbManager.Passages(), cfg.VectorIndexName, cfg.VectorSearchEnabled, cfg.CompressPassages)
	tocStore := services.NewMongoTocStore(dbManager.TocEntries())

	retrieval := services.NewRetrievalOrchestrator(embedder, vectorStore, cfg.RetrievalTopK, cfg.SimThreshold, cfg.MaxAdviceSections)

	stageCache := services.NewRedisStageCache(redisClient, time.Duration(cfg.StageCacheTTLMin)*time.Minute)
	policy := services.RetryPolicy{
		MaxRetries:  cfg.PipelineMaxRetries,
		BaseDelay:   time.Duration(cfg.PipelineBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.PipelineMaxDelayMs) * time.Millisecond,
		BackoffBase: cfg.PipelineBackoffBase,
	}
	engine := services.NewPipeline(stageCache, policy, metrics)
	coach := services.NewCoachPipeline(engine, coachClient, retrieval)

	extractor := services.NewTOCExtractor(cfg.ExcludedTitles)
	chunker := services.NewChunker(cfg.MinChunkChars, cfg.MaxChunkChars)
	ingestion := services.NewIngestionService(extractor, chunker, embedder, vectorStore, tocStore, metrics)
	loader := services.NewDocumentLoader()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	// Ingest sweep runs alongside the task handlers
	queueClient := queue.NewClient(redisOpt)
	defer queueClient.Close()
	sweeper := services.NewSweepScheduler(queueClient, cfg.IngestDir, time.Duration(cfg.IngestSweepMinutes)*time.Minute)
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start ingest sweep:", err)
	}
	defer sweeper.Stop()

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 20,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(coach, ingestion, loader)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskRunPipeline, processor.HandleRunPipeline)
	mux.HandleFunc(queue.TaskIngestDocument, processor.HandleIngestDocument)

	logger.Info("starting worker",
		"concurrency", 20,
		"redis", cfg.RedisURL,
		"ingest_dir", cfg.IngestDir)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}

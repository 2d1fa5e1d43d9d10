package main

import (
	"context"
	"log"
	"time"

	"book-knowledge-platform/internal/ai"
	"book-knowledge-platform/internal/config"
	"book-knowledge-platform/internal/logger"
	"book-knowledge-platform/internal/queue"
	"book-knowledge-platform/services"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	embedder, chat, err := ai.NewProviders(cfg)
	if err != nil {
		log.Fatal("Failed to initialize AI providers:", err)
	}

	db := mongoClient.Database(cfg.DBName)
	registry := services.NewCollectionRegistry(db, cfg.GoogleEmbeddingsModel)
	store := services.NewKnowledgeStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache := services.NewAnswerCache(redisClient, cfg.AnswerCacheTTL)

	pipeline := services.NewProcessor(cfg, registry, store, embedder, chat, nil, cache)
	processor := queue.NewTaskProcessor(pipeline)

	// Periodic knowledge-base stats, useful for spotting runaway ingestion.
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(15).Minutes().Do(func() {
		logKnowledgeStats(db, registry)
	})
	scheduler.StartAsync()
	defer scheduler.Stop()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.HandleIngest)

	logger.Info("Starting ingestion worker", "redis", redisOpt.Addr, "concurrency", 10)
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}

func logKnowledgeStats(db *mongo.Database, registry *services.CollectionRegistry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	names, err := registry.ListCollections(ctx)
	if err != nil {
		logger.Warn("Knowledge stats collection failed", "error", err)
		return
	}

	for _, name := range names {
		count, err := db.Collection(name).CountDocuments(ctx, bson.M{})
		if err != nil {
			continue
		}
		logger.Info("Knowledge base stats", "collection", name, "chunks", count)
	}
}

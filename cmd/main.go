package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"book-knowledge-platform/internal/ai"
	"book-knowledge-platform/internal/config"
	"book-knowledge-platform/internal/logger"
	"book-knowledge-platform/internal/telemetry"
	"book-knowledge-platform/middleware"
	"book-knowledge-platform/routes"
	"book-knowledge-platform/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("book-knowledge-platform")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

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

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	routes.SetupKnowledgeRoutes(router, pipeline, queueClient)

	logger.Info("Starting knowledge platform server", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/db"
	"github.com/courseforge/courseforge-backend/internal/handlers"
	"github.com/courseforge/courseforge-backend/internal/locks"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/platform/genai"
	"github.com/courseforge/courseforge-backend/internal/platform/qdrant"
	"github.com/courseforge/courseforge-backend/internal/repos"
	"github.com/courseforge/courseforge-backend/internal/server"
	"github.com/courseforge/courseforge-backend/internal/services"
	"github.com/courseforge/courseforge-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	initialCredits := utils.GetEnvAsInt("INITIAL_CREDITS", 100, log)
	httpPort := utils.GetEnv("HTTP_PORT", "8080", log)
	configPath := utils.GetEnv("CONFIG_PATH", "config.yaml", log)

	cfg, err := config.Load(configPath, log)
	if err != nil {
		log.Fatal("Config load failed", "error", err)
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Generation lock: Redis when configured, in-process otherwise.
	var lockManager locks.Manager
	if redisAddr := utils.GetEnv("REDIS_ADDR", "", log); redisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		lockManager, err = locks.NewRedisManager(log, rdb, cfg.GenerationTimeout+30*time.Second)
		if err != nil {
			log.Fatal("Redis lock manager init failed", "error", err)
		}
		log.Info("Using Redis generation locks", "addr", redisAddr)
	} else {
		lockManager = locks.NewMemoryManager()
		log.Info("Using in-process generation locks")
	}

	// GenAI provider
	genaiClient, err := genai.NewFromEnv(log)
	if err != nil {
		log.Fatal("GenAI client init failed", "error", err)
	}

	// Vector store
	vectorStore, err := qdrant.NewVectorStore(log, qdrant.Config{
		URL:        utils.GetEnv("QDRANT_URL", "http://localhost:6333", log),
		Collection: utils.GetEnv("QDRANT_COLLECTION", "course_chunks", log),
		VectorDim:  utils.GetEnvAsInt("QDRANT_VECTOR_DIM", 1536, log),
	})
	if err != nil {
		log.Fatal("Vector store init failed", "error", err)
	}
	ensureCtx, cancelEnsure := context.WithTimeout(context.Background(), 15*time.Second)
	if err := vectorStore.EnsureCollection(ensureCtx); err != nil {
		log.Warn("Vector collection ensure failed, search will degrade", "error", err)
	}
	cancelEnsure()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	courseRepo := repos.NewCourseRepo(thePG, log)
	courseModuleRepo := repos.NewCourseModuleRepo(thePG, log)
	sectionRepo := repos.NewSectionRepo(thePG, log)
	contentChunkRepo := repos.NewContentChunkRepo(thePG, log)
	creditLedgerRepo := repos.NewCreditLedgerRepo(thePG, log)
	chatMessageRepo := repos.NewChatMessageRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	gateway, err := services.NewCompletionGateway(log, genaiClient)
	if err != nil {
		log.Fatal("Completion gateway init failed", "error", err)
	}
	creditService, err := services.NewCreditService(thePG, log, userRepo, creditLedgerRepo)
	if err != nil {
		log.Fatal("Credit service init failed", "error", err)
	}
	authService, err := services.NewAuthService(thePG, log, jwtSecretKey, initialCredits, userRepo, creditService)
	if err != nil {
		log.Fatal("Auth service init failed", "error", err)
	}
	indexerService, err := services.NewIndexerService(
		thePG, log, cfg.Index, gateway, vectorStore,
		sectionRepo, courseModuleRepo, courseRepo, contentChunkRepo,
	)
	if err != nil {
		log.Fatal("Indexer init failed", "error", err)
	}
	indexQueue, err := services.NewIndexQueue(log, cfg.Index, indexerService, sectionRepo)
	if err != nil {
		log.Fatal("Index queue init failed", "error", err)
	}
	courseGenService, err := services.NewCourseGenerationService(
		thePG, log, cfg, gateway, creditService,
		userRepo, courseRepo, courseModuleRepo, sectionRepo,
	)
	if err != nil {
		log.Fatal("Course generation service init failed", "error", err)
	}
	sectionGenService, err := services.NewSectionGenerationService(
		thePG, log, cfg, gateway, creditService, lockManager, indexQueue,
		sectionRepo, courseModuleRepo, courseRepo,
	)
	if err != nil {
		log.Fatal("Section generation service init failed", "error", err)
	}
	chatService, err := services.NewTutorChatService(
		thePG, log, cfg, gateway, creditService, vectorStore, chatMessageRepo,
	)
	if err != nil {
		log.Fatal("Tutor chat service init failed", "error", err)
	}

	// Background index worker
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	indexQueue.Start(rootCtx)

	// Handlers + Router
	log.Info("Setting up Handlers from main...")
	router := server.NewRouter(log, authService, server.Handlers{
		Auth:    handlers.NewAuthHandler(log, authService),
		Course:  handlers.NewCourseHandler(log, courseGenService, creditService),
		Section: handlers.NewSectionHandler(log, sectionGenService),
		Chat:    handlers.NewChatHandler(log, chatService),
	})

	srv := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "port", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}
	cancelRoot()
	indexQueue.Stop()
	log.Info("Shutdown complete")
}

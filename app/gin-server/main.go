package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yoockh/yoodocs/config"
	"github.com/yoockh/yoodocs/internal/api/handlers"
	"github.com/yoockh/yoodocs/internal/api/middleware"
	"github.com/yoockh/yoodocs/internal/api/routes"
	"github.com/yoockh/yoodocs/internal/auth"
	"github.com/yoockh/yoodocs/internal/logger"
	"github.com/yoockh/yoodocs/internal/outbox"
	"github.com/yoockh/yoodocs/internal/rag"
	mongorepo "github.com/yoockh/yoodocs/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoodocs/internal/repositories/postgres"
	"github.com/yoockh/yoodocs/internal/services"
	"github.com/yoockh/yoodocs/internal/workers"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	if err := config.MigratePostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL migration error")
	}
	log.Info("PostgreSQL connected")

	var rdb *redis.Client
	if optional(log, "redis", config.InitRedis) {
		rdb = config.RedisClient
		defer rdb.Close()
	}

	var usage services.UsageService = services.NoopUsage{}
	if optional(log, "mongo", config.InitMongo) {
		defer config.MongoClient.Disconnect(context.Background())
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Warn("mongo index setup failed")
		}
		db := config.MongoClient.Database(config.MongoDatabaseName())
		usage = services.NewUsageService(mongorepo.NewUsageRepo(db))
	}

	// Retrieval engine
	embedder, err := newEmbedder(ctx, cfg, rdb)
	if err != nil {
		log.WithError(err).Fatal("embedder init error")
	}
	provider, err := newLLM(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("LLM init error")
	}
	defer provider.Close()

	index, err := rag.OpenIndex(ctx, cfg.IndexPath, embedder.Model(), embedder.Dimensions())
	if err != nil {
		log.WithError(err).Fatal("vector index open error")
	}
	defer index.Close()

	chunker, err := rag.NewChunker(cfg.ChunkStrategy, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.WithError(err).Fatal("chunker init error")
	}

	var publisher rag.SyncPublisher
	var memOutbox *outbox.MemoryOutbox
	if rdb != nil {
		publisher = outbox.NewRedisOutbox(rdb, outbox.DefaultStream)
	} else {
		memOutbox = outbox.NewMemoryOutbox(1024, log)
		publisher = memOutbox
	}

	engine := rag.NewEngine(rag.EngineDeps{
		Index:     index,
		Chunker:   chunker,
		Embedder:  embedder,
		Retriever: rag.NewRetriever(index, embedder, rag.RetrieverConfig{OverFetch: cfg.RetrievalOverFetch, Lambda: cfg.MMRLambda, MaxK: cfg.MaxRetrievalK}, log),
		Generator: rag.NewGenerator(provider, rag.GeneratorConfig{HistoryTurns: cfg.HistoryWindow, SuppressDuplicates: cfg.SuppressDuplicates}, log),
		Estimator: rag.NewEstimator(embedder),
		Critic:    rag.NewCritic(provider),
		Outbox:    publisher,
		Logger:    log,
	}, rag.EngineConfig{TopK: cfg.RetrievalK})

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("storage init error")
	}
	defer closeStore()

	// Repositories & services
	db := config.PostgresDB
	users := pgrepo.NewUserRepo(db)
	docs := pgrepo.NewDocumentRepo(db)
	chunks := pgrepo.NewChunkRepo(db)
	convos := pgrepo.NewConversationRepo(db)

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	vectorSvc := services.NewVectorService(engine, chunks, docs, log)

	var dispatcher services.IndexDispatcher
	inline := &workers.InlineDispatcher{Logger: log}
	if rdb != nil {
		dispatcher = &workers.RedisDispatcher{Redis: rdb, Stream: workers.DefaultIndexStream}
	} else {
		dispatcher = inline
	}
	docSvc := services.NewDocumentService(docs, engine, store, dispatcher, log)
	inline.Indexer = docSvc

	// Workers
	var limiter middleware.Limiter
	if rdb != nil {
		syncPool := &workers.SyncWorkerPool{Redis: rdb, Applier: vectorSvc, Logger: log}
		if err := syncPool.Start(ctx); err != nil {
			log.WithError(err).Fatal("sync worker start error")
		}
		indexPool := &workers.IndexWorkerPool{Redis: rdb, Indexer: docSvc, NumWorkers: cfg.IndexWorkers, Logger: log}
		if err := indexPool.Start(ctx); err != nil {
			log.WithError(err).Fatal("index worker start error")
		}
		limiter = &middleware.RedisLimiter{Redis: rdb, Limit: cfg.RateLimitPerMinute, Window: time.Minute}
	} else {
		go memOutbox.Run(ctx, vectorSvc)
		limiter = middleware.NewLocalLimiter(cfg.RateLimitPerMinute)
	}

	checks := map[string]handlers.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if config.MongoClient != nil {
		checks["mongo"] = func(ctx context.Context) error { return config.MongoClient.Ping(ctx, nil) }
	}

	chatSvc := services.NewChatService(convos, docs, engine, cfg.HistoryWindow, log)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log, "/ping", "/health"))
	routes.RegisterRoutes(r, routes.Deps{
		Tokens:  tokens,
		Limiter: limiter,
		Usage:   usage,
		Logger:  log,

		Health:       handlers.NewHealthHandler(checks),
		Auth:         handlers.NewAuthHandler(services.NewAuthService(users, tokens, services.LogNotifier{Logger: log}, log)),
		User:         handlers.NewUserHandler(services.NewUserService(users, docSvc, convos, log)),
		Document:     handlers.NewDocumentHandler(docSvc, cfg.MaxUploadMB),
		Conversation: handlers.NewConversationHandler(services.NewConversationService(convos, docs)),
		Chat:         handlers.NewChatHandler(chatSvc),
		WS:           handlers.NewWSHandler(chatSvc, docSvc, rdb, log),
		Vector:       handlers.NewVectorHandler(vectorSvc),
		Admin:        handlers.NewAdminHandler(services.NewAdminService(users, docs, convos, engine), usage),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalog-import-service/controllers"
	"catalog-import-service/events"
	"catalog-import-service/logger"
	"catalog-import-service/middleware"
	awspkg "catalog-import-service/pkg/aws"
	"catalog-import-service/repository"
	"catalog-import-service/routes"
	"catalog-import-service/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	// Load .env file (optional, falls back to system env)
	_ = godotenv.Load()

	log := logger.Initialize(os.Getenv("ENV"), nil)
	defer log.Sync()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- 1. Configuration ---
	cfg, err := LoadConfig(rootCtx)
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	awsCfg, err := awspkg.LoadAWSConfig(rootCtx, cfg.AWS)
	if err != nil {
		zap.L().Fatal("Failed to load AWS config", zap.Error(err))
	}
	if cfg.CloudWatchEnabled {
		cw, err := awspkg.NewCloudWatchLogsClient(rootCtx, awsCfg, cfg.CloudWatchLogGroup, "catalog-import-service")
		if err != nil {
			zap.L().Warn("CloudWatch Logs disabled", zap.Error(err))
		} else {
			log = logger.Initialize(cfg.Env, cw)
		}
	}

	// --- 2. Backing stores ---
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	catalog, closeCatalog, err := buildCatalogStore(rootCtx, cfg, awsCfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize catalog store", zap.String("store", cfg.CatalogStore), zap.Error(err))
	}
	closers = append(closers, closeCatalog)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zap.L().Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				zap.L().Error("Failed to close Redis", zap.Error(err))
			}
		})
	}

	progress, err := buildProgressStore(cfg, rdb)
	if err != nil {
		zap.L().Fatal("Failed to initialize progress store", zap.Error(err))
	}
	uploads, err := buildUploadStore(cfg, awsCfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize upload store", zap.Error(err))
	}

	// --- 3. Services ---
	observers := []services.ImportObserver{services.LogObserver{}}
	if cfg.CloudWatchEnabled {
		observers = append(observers, services.MetricsObserver{
			Recorder: awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, true),
		})
	}
	if sink := buildEventSink(cfg, awsCfg); sink != nil {
		publisher := events.NewPublisher(sink)
		observers = append(observers, publisher)
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				zap.L().Error("Failed to close event sink", zap.Error(err))
			}
		})
	}

	importService := services.NewImportService(catalog, progress, uploads, services.ImportOptions{
		Pipeline: services.PipelineOptions{
			BatchSize:     cfg.BatchSize,
			ThrottleDelay: cfg.ThrottleDelay,
			CallTimeout:   cfg.CallTimeout,
		},
		ResumeWindow: cfg.ResumeWindow,
	}, observers...)

	var jobs controllers.JobQueueAPI
	if rdb != nil {
		queue := services.NewJobQueue(rdb)
		services.StartImportWorker(rootCtx, queue, importService)
		jobs = queue
	} else {
		zap.L().Warn("REDIS_URL not set: async imports disabled")
	}

	// --- 4. HTTP server ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.MaxMultipartMemory = controllers.MaxUploadSize
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	limiter := middleware.NewRateLimiter(rate.Every(time.Minute/time.Duration(cfg.UploadRatePerMinute)), 5, 5*time.Minute)
	go limiter.Cleanup(rootCtx)

	handler := controllers.NewImportHandler(importService, jobs, controllers.NewRequestValidator())
	routes.RegisterRoutes(r, handler, middleware.BrandAuth([]byte(cfg.JWTSecret)), limiter.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		zap.L().Info("Catalog import service starting",
			zap.String("port", cfg.Port),
			zap.String("catalog_store", cfg.CatalogStore),
			zap.String("progress_store", cfg.ProgressStore),
			zap.String("upload_store", cfg.UploadStore),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// --- 5. Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down catalog import service...")

	// Imports in flight finish the batch they are writing, then stop and keep
	// their progress record for resumption.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Server forced to shutdown", zap.Error(err))
	}
	zap.L().Info("Catalog import service stopped gracefully")
}

func buildCatalogStore(ctx context.Context, cfg *Config, awsCfg sdkaws.Config) (repository.CatalogStore, func(), error) {
	noop := func() {}
	switch cfg.CatalogStore {
	case "postgres":
		db, err := repository.OpenPostgres(cfg.DatabaseURL, 10)
		if err != nil {
			return nil, noop, err
		}
		return repository.NewGormStore(db), closeGorm(db), nil
	case "sqlite":
		db, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return repository.NewGormStore(db), closeGorm(db), nil
	case "dynamodb":
		client := awspkg.NewDynamoClient(awsCfg)
		return repository.NewDynamoStore(client, cfg.DDBProductsTable, cfg.DDBVariantsTable), noop, nil
	case "mongo":
		client, db, err := repository.ConnectMongo(ctx, cfg.MongoURL, cfg.MongoDB)
		if err != nil {
			return nil, noop, err
		}
		store := repository.NewMongoStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			zap.L().Warn("Failed to ensure catalog indexes", zap.Error(err))
		}
		return store, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				zap.L().Error("Failed to disconnect from MongoDB", zap.Error(err))
			}
		}, nil
	default:
		store, err := repository.NewPostgRESTStore(cfg.SupabaseURL, cfg.SupabaseServiceKey)
		return store, noop, err
	}
}

func buildProgressStore(cfg *Config, rdb *redis.Client) (repository.ProgressStore, error) {
	if cfg.ProgressStore == "redis" && rdb != nil {
		return repository.NewRedisProgressStore(rdb), nil
	}
	return repository.NewFileProgressStore(cfg.ProgressDir)
}

func buildUploadStore(cfg *Config, awsCfg sdkaws.Config) (repository.UploadStore, error) {
	if cfg.UploadStore == "s3" {
		return repository.NewS3UploadStore(awspkg.NewS3Client(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
	}
	return repository.NewLocalUploadStore(cfg.BulkStorageDir)
}

func buildEventSink(cfg *Config, awsCfg sdkaws.Config) events.Sink {
	switch cfg.EventsSink {
	case "kafka":
		return events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "sns":
		return events.NewSNSSink(awspkg.NewSNSClient(awsCfg), cfg.SNSTopicARN)
	default:
		return nil
	}
}

func closeGorm(db interface{ DB() (*sql.DB, error) }) func() {
	return func() {
		sqlDB, err := db.DB()
		if err != nil {
			return
		}
		if err := sqlDB.Close(); err != nil {
			zap.L().Error("Failed to close database", zap.Error(err))
		}
	}
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/events"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/storage"
	"github.com/noah-isme/gema-grader/pkg/archive"
	cloud "github.com/noah-isme/gema-grader/pkg/cloudinary"
	"github.com/noah-isme/gema-grader/pkg/probe"
	"github.com/noah-isme/gema-grader/pkg/runner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()

	var scores repository.SubmissionScoreRepository
	if cfg.DatabaseURL != "" {
		db, err := database.ConnectPostgres(cfg.DatabaseURL, 5*time.Second)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		if err := db.AutoMigrate(&models.SubmissionScore{}); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		scores = repository.NewSubmissionScoreRepository(db)
	} else {
		logger.Warn().Msg("GEMA_DATABASE_URL not set, scores will not be persisted")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL, 5*time.Second)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	archives, err := openArchiveStore(cfg.Storage, logger)
	if err != nil {
		log.Fatalf("failed to open archive store: %v", err)
	}

	var references storage.ArchiveStore = storage.NewNamespaced(archives, storage.BucketModelSolutions)
	if redisClient != nil {
		references = storage.NewCachedStore(references, redisClient, cfg.Storage.ReferenceCacheTTL, logger)
	}
	submissions := storage.NewNamespaced(archives, storage.BucketSubmissions)

	extractor := archive.NewExtractor(archive.Config{
		MaxBytes: int64(cfg.Grading.MaxArchiveMB) * 1024 * 1024,
		Logger:   logger,
	})

	taskRunner, closeRunner, err := openRunner(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create runner: %v", err)
	}
	defer closeRunner()

	var measure probe.Probe
	switch cfg.Grading.Probe {
	case config.ProbeProcess:
		measure = probe.NewProcessProbe(taskRunner, 0)
	default:
		measure = probe.NewGNUTimeProbe(taskRunner, cfg.Grading.GNUTimePath)
	}

	toolchains, err := grading.NewRegistry(cfg.Toolchains)
	if err != nil {
		log.Fatalf("failed to load toolchains: %v", err)
	}

	engine := grading.NewEngine(
		toolchains,
		references,
		extractor,
		taskRunner,
		grading.NewSampler(measure, cfg.Grading.SampleRuns, logger),
		grading.EngineConfig{
			ScratchRoot:    cfg.Grading.ScratchRoot,
			CommandTimeout: cfg.Grading.CommandTimeout,
			SampleTimeout:  cfg.Grading.SampleTimeout,
			Logger:         logger,
		},
	)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		conn, err := events.Connect(cfg.NATSURL, logger)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer conn.Drain()
		publisher = events.NewNATSPublisher(conn, cfg.NATSSubject, logger)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	gradingService := service.NewGradingService(service.GradingDependencies{
		Grader:      engine,
		Inspector:   extractor,
		References:  references,
		Submissions: submissions,
		Scores:      scores,
		Publisher:   publisher,
		Validator:   validate,
		Logger:      logger,
	})
	gradingHandler := handler.NewGradingHandler(gradingService, engine.Languages(), logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler:        gradingHandler,
		JWTMiddleware:         middleware.JWTProtected(cfg.JWTSecret),
		OptionalJWTMiddleware: middleware.OptionalJWT(cfg.JWTSecret),
		GradeRateLimit:        cfg.GradeRateLimit,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func openArchiveStore(cfg config.StorageConfig, logger zerolog.Logger) (storage.ArchiveStore, error) {
	switch cfg.Backend {
	case config.StorageMinIO:
		store, err := storage.NewMinIOStore(storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
			Bucket:    cfg.MinIOBucket,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageCloudinary:
		return cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryFolder,
		}, logger)
	default:
		return storage.NewFileStore(cfg.Root)
	}
}

func openRunner(cfg config.Config, logger zerolog.Logger) (runner.Runner, func(), error) {
	if cfg.Grading.Runner != config.RunnerDocker {
		return runner.NewLocalRunner(runner.LocalConfig{
			Timeout:        cfg.Grading.CommandTimeout,
			MaxOutputBytes: cfg.Grading.MaxOutputKB * 1024,
			Logger:         logger,
		}), func() {}, nil
	}

	docker, err := runner.NewDockerRunner(runner.DockerConfig{
		Host:            cfg.Docker.Host,
		Timeout:         cfg.Grading.CommandTimeout,
		MemoryLimitMB:   int64(cfg.Docker.MemoryMB),
		CPUShares:       int64(cfg.Docker.CPUShares),
		NetworkDisabled: cfg.Docker.NetworkDisabled,
		MaxOutputBytes:  cfg.Grading.MaxOutputKB * 1024,
		Logger:          logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return docker, func() {
		if err := docker.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close docker client")
		}
	}, nil
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

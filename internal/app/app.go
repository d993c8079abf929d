package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jimlawless/whereami"
	config "github.com/lumora-tech/visibility-engine/internal/cfg"
	"github.com/lumora-tech/visibility-engine/internal/infrastructure/kafka"
	"github.com/lumora-tech/visibility-engine/internal/infrastructure/refresh"
	"github.com/lumora-tech/visibility-engine/internal/repository/pgdb"
	pgdbConv "github.com/lumora-tech/visibility-engine/internal/repository/pgdb/converter"
	redisRepo "github.com/lumora-tech/visibility-engine/internal/repository/redis"
	"github.com/lumora-tech/visibility-engine/internal/usecase"
	"github.com/lumora-tech/visibility-engine/pkg/clients"
	"github.com/lumora-tech/visibility-engine/pkg/closer"
	"github.com/lumora-tech/visibility-engine/pkg/e"
	"github.com/lumora-tech/visibility-engine/pkg/logger"
	"github.com/lumora-tech/visibility-engine/pkg/postgres"
)

func Run() {
	logger := logger.NewSlogLogger()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Errorf(err, "failed to load config")
		os.Exit(1)
	}

	c := closer.NewCloser(0)

	db, err := initPGDB(logger, cfg)
	if err != nil {
		logger.Errorf(err, "failed to initialize database")
		os.Exit(1)
	}
	c.Add(func(ctx context.Context) error {
		db.Close()
		return nil
	})

	prConv := pgdbConv.NewProductConverter()

	productRepo := pgdb.NewProductRepo(db.Pool, prConv, logger)
	categoryRepo := pgdb.NewCategoryRepo(db.Pool)
	visibilityRepo := pgdb.NewVisibilityRepo(db.Pool)
	dirtyRepo := pgdb.NewDirtyMarkRepo(db.Pool)

	redisClient := clients.NewRedisClient(cfg.Redis)
	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer redisCancel()
	if err := redisClient.Ping(redisCtx); err != nil {
		logger.Errorf(err, "failed to connect to redis")
		os.Exit(1)
	}
	c.Add(func(ctx context.Context) error {
		return redisClient.Client.Close()
	})
	cacheRepo := redisRepo.NewCacheRepo(redisClient, cfg.Redis, logger)

	producer, err := kafka.NewProducer(logger, cfg.Kafka)
	if err != nil {
		logger.Errorf(err, "failed to initialize kafka producer")
		os.Exit(1)
	}
	if err := producer.EnsureTopic(10 * time.Second); err != nil {
		logger.Errorf(err, "failed to ensure kafka topic")
		os.Exit(1)
	}
	c.Add(func(ctx context.Context) error {
		return producer.Close()
	})

	visibilityUC := usecase.NewVisibilityUC(
		productRepo,
		categoryRepo,
		visibilityRepo,
		dirtyRepo,
		cacheRepo,
		producer,
		db.Pool,
		cfg.Refresh.DomainIDs,
		cfg.Refresh.BatchSize,
		logger,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	worker := refresh.NewWorker(visibilityUC, logger, cfg.Refresh, db.Dsn)
	worker.Start(workerCtx)
	c.Add(func(ctx context.Context) error {
		workerCancel()
		worker.Stop()
		return nil
	})

	logger.Infof("Visibility engine started. domains: %v, full refresh cron: %s", cfg.Refresh.DomainIDs, cfg.Refresh.FullRefreshCron)

	// === Ожидание сигнала ===
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown
	logger.Infof("Received shutdown signal, stopping gracefully...")

	// === Graceful shutdown ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := c.Close(shutdownCtx); err != nil {
		logger.Warnf("Shutdown finished with errors: %v", err)
	} else {
		logger.Infof("Application shutdown complete")
	}
}

func initPGDB(logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.Ping(); err != nil {
		logger.Errorf(err, "failed to ping database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}

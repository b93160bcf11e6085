package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/clipcraft/clipcraft-api/internal/config"
	"github.com/clipcraft/clipcraft-api/internal/domain/generation"
	"github.com/clipcraft/clipcraft-api/internal/pkg/database"
	"github.com/clipcraft/clipcraft-api/internal/pkg/imaging"
	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/storage"
)

const (
	pollInterval = 5 * time.Second
	idleLogEvery = time.Minute
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise logger")
	}

	log.Info().Msg("Starting asset-worker")

	if cfg.UseMemoryPersistence() {
		log.Fatal().Msg("asset-worker needs PERSISTENCE=postgres")
	}

	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns, pool.MaxIdleConns = 4, 2
	db, err := database.NewPostgres(cfg.DatabaseURL, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL, 2)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, relying on polling only")
	} else {
		defer database.CloseRedis(rdb)
	}

	store, err := storage.New(storage.Config{
		Driver: cfg.StorageDriver,
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		},
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		LocalPath:   cfg.LocalStoragePath,
		LocalURL:    cfg.LocalStorageURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage")
	}
	assets := generation.NewAssets(imaging.NewProcessor(imaging.DefaultConfig()), store)
	if assets == nil {
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("asset-worker needs a storage driver")
	}

	offloader := generation.NewOffloader(generation.NewRepository(db), assets, generation.DefaultOffloadAttempts, generation.DefaultOffloadLease)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := make(chan struct{}, 1)
	if rdb != nil {
		go subscribeWakeups(ctx, rdb, wake)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	run(ctx, offloader, wake)
	log.Info().Msg("asset-worker stopped")
}

// run drains the queue on every tick or wake-up until ctx is done.
func run(ctx context.Context, offloader *generation.Offloader, wake <-chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastIdleLog time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}

		drained := 0
		for ctx.Err() == nil {
			start := time.Now()
			processed, err := offloader.ProcessNext(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Offload failed")
			}
			if !processed {
				break
			}
			drained++
			if err == nil {
				log.Info().Dur("took", time.Since(start)).Msg("Offload done")
			}
		}

		if drained == 0 {
			if now := time.Now(); lastIdleLog.IsZero() || now.Sub(lastIdleLog) >= idleLogEvery {
				log.Info().Msg("Idle: no inline videos waiting")
				lastIdleLog = now
			}
		}
	}
}

func subscribeWakeups(ctx context.Context, rdb *redis.Client, wake chan<- struct{}) {
	sub := rdb.Subscribe(ctx, generation.OffloadChannel)
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Channel():
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

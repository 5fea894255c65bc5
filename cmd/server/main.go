package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-matching/internal/config"
	httpapi "github.com/example/carpool-matching/internal/http"
	"github.com/example/carpool-matching/internal/ingest"
	"github.com/example/carpool-matching/internal/lifecycle"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/storage"
)

type store interface {
	storage.RideStore
	storage.ProfileStore
	storage.RidePool
}

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("carpool-api", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpapi.HealthCheck{}

	var st store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := migrate(ctx, pg); err != nil {
				logger.Error("migration failed", "err", err)
				os.Exit(1)
			}
			logger.Info("migration applied", "script", "001_create_rides.sql")
		}
		checks["postgres"] = pg.DB().PingContext
		st = pg
	} else {
		logger.Warn("PG_DSN not set, keeping rides in memory")
		st = storage.NewMemoryStore()
	}

	var (
		pool      storage.RidePool = st
		publisher lifecycle.Publisher
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		rp := storage.NewRedisPool(rc, cfg.RedisGeoKey)
		checks["redis"] = rp.Ping
		pool = rp
		publisher = &ingest.DirectPublisher{Sink: rp}
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	m := &matcher.Service{
		Engine:     matcher.NewEngine(cfg.Location(), cfg.DefaultFlexMinutes),
		Pool:       pool,
		Profiles:   st,
		Logger:     logger,
		MaxResults: cfg.MaxResults,
	}
	rides := lifecycle.NewService(st, st, publisher, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(m, rides, logger, checks),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		logger.Info("carpool-api listening", "addr", cfg.HTTPAddr, "pool", poolName(pool), "publisher", publisherName(publisher))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	logger.Info("carpool-api stopped")
}

func migrate(ctx context.Context, pg *storage.PostgresStore) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	return pg.Migrate(ctx, string(b))
}

func poolName(p storage.RidePool) string {
	switch p.(type) {
	case *storage.RedisPool:
		return "redis"
	case *storage.PostgresStore:
		return "postgres"
	}
	return "memory"
}

func publisherName(p lifecycle.Publisher) string {
	switch p.(type) {
	case *ingest.KafkaProducer:
		return "kafka"
	case *ingest.DirectPublisher:
		return "redis"
	case nil:
		return "none"
	}
	return "custom"
}

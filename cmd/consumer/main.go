package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/carpool-matching/internal/config"
	"github.com/example/carpool-matching/internal/ingest"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total ride event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	poolUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_pool_updates_total",
		Help: "Total successful ride pool updates by event type",
	}, []string{"type"})
	poolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_pool_errors_total",
		Help: "Total ride pool update failures after retries",
	})
	prunedOffers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_pruned_offers_total",
		Help: "Total departed or stale offers pruned from the pool",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, poolUpdates, poolErrors, prunedOffers)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger("carpool-pool-consumer", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pool := storage.NewRedisPool(rc, cfg.RedisGeoKey)

	go serveMetrics(cfg.MetricsAddr, pool, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pruner := newPruner(pool, cfg.PruneSchedule, cfg.PruneGrace, logger)
	if err := pruner.Start(ctx); err != nil {
		logger.Error("prune schedule rejected", "spec", cfg.PruneSchedule, "err", err)
		os.Exit(1)
	}
	defer pruner.Stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var ev ingest.RideEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "err", err)
			continue
		}

		if err := applyWithRetry(ctx, pool, ev, 3, 200*time.Millisecond); err != nil {
			if errors.Is(err, ingest.ErrUnknownEvent) {
				msgsInvalid.Inc()
			} else {
				poolErrors.Inc()
			}
			logger.Error("pool update failed", "ride_id", ev.RideID, "event_id", ev.ID, "err", err)
			continue
		}
		poolUpdates.WithLabelValues(string(ev.Type)).Inc()
	}
}

func serveMetrics(addr string, pool *storage.RedisPool, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "err", err)
	}
}

// applyWithRetry applies ev to sink, doubling delay between attempts. Events
// that can never apply are not retried.
func applyWithRetry(ctx context.Context, sink ingest.Sink, ev ingest.RideEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = ingest.Apply(ctx, sink, ev); err == nil {
			return nil
		}
		if errors.Is(err, ingest.ErrUnknownEvent) || i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

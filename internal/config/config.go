package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Defaults are overlaid by the YAML file named in CONFIG_FILE, if any, and then
// by environment variables, so the binary can run locally without setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisGeoKey   string `yaml:"redis_geo_key"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	PGDSN string `yaml:"pg_dsn"`

	Timezone           string `yaml:"timezone"`
	MaxResults         int    `yaml:"max_results"`
	DefaultFlexMinutes int    `yaml:"default_flex_minutes"`

	LogLevel      string `yaml:"log_level"`
	RunMigrations bool   `yaml:"migrate"`
}

// ConsumerConfig drives the process that keeps the Redis ride pool in sync
// with the ride-offers topic.
type ConsumerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisGeoKey   string `yaml:"redis_geo_key"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	KafkaGroup   string   `yaml:"kafka_group"`

	// PruneSchedule is a cron spec; offers that departed more than PruneGrace
	// ago are dropped on each run.
	PruneSchedule string        `yaml:"prune_schedule"`
	PruneGrace    time.Duration `yaml:"prune_grace"`

	LogLevel string `yaml:"log_level"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "rides_pickup_geo",
		KafkaTopic:         "ride-offers",
		Timezone:           "UTC",
		MaxResults:         50,
		DefaultFlexMinutes: 30,
		LogLevel:           "info",
	}
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MetricsAddr:   ":2112",
		RedisAddr:     "localhost:6379",
		RedisGeoKey:   "rides_pickup_geo",
		KafkaBrokers:  []string{"localhost:9092"},
		KafkaTopic:    "ride-offers",
		KafkaGroup:    "carpool-pool-consumer",
		PruneSchedule: "@every 5m",
		PruneGrace:    15 * time.Minute,
		LogLevel:      "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if err := loadFile(os.Getenv("CONFIG_FILE"), &cfg); err != nil {
		errs = append(errs, err)
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setRawFromEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	setListFromEnv(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setRawFromEnv(&cfg.PGDSN, "PG_DSN")

	setStringFromEnv(&cfg.Timezone, "MATCHER_TIMEZONE")
	setIntFromEnv(&cfg.MaxResults, "MATCHER_MAX_RESULTS", &errs)
	setIntFromEnv(&cfg.DefaultFlexMinutes, "MATCHER_DEFAULT_FLEX_MINUTES", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	if cfg.MaxResults < 0 {
		errs = append(errs, fmt.Errorf("MATCHER_MAX_RESULTS must be >= 0"))
	}
	if cfg.DefaultFlexMinutes < 0 {
		errs = append(errs, fmt.Errorf("MATCHER_DEFAULT_FLEX_MINUTES must be >= 0"))
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid MATCHER_TIMEZONE: %w", err))
	}

	return cfg, errors.Join(errs...)
}

// Location resolves Timezone. LoadServerConfig has already validated it.
func (c ServerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()
	var errs []error

	if err := loadFile(os.Getenv("CONFIG_FILE"), &cfg); err != nil {
		errs = append(errs, err)
	}

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setRawFromEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setListFromEnv(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.PruneSchedule, "PRUNE_SCHEDULE")
	setDurationFromEnv(&cfg.PruneGrace, "PRUNE_GRACE", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}
	if cfg.PruneGrace < 0 {
		errs = append(errs, fmt.Errorf("PRUNE_GRACE must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

// loadFile decodes a YAML file over target. An empty path is not an error.
func loadFile(path string, target any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

// setRawFromEnv keeps the value untrimmed; passwords and DSNs may carry spaces.
func setRawFromEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setListFromEnv(target *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = splitAndTrim(v)
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

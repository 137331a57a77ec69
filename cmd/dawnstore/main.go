package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dawnstore-io/dawnstore/internal/api"
	"github.com/dawnstore-io/dawnstore/internal/config"
	"github.com/dawnstore-io/dawnstore/internal/database"
	"github.com/dawnstore-io/dawnstore/internal/observability"
	"github.com/dawnstore-io/dawnstore/internal/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	showVersion      = flag.Bool("version", false, "Show version information")
	validateConfig   = flag.Bool("validate", false, "Validate configuration and exit")
	maxRetryAttempts = getEnvInt("DAWNSTORE_DATABASE_RETRY_ATTEMPTS", 5)
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("dawnstore %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting dawnstore")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *validateConfig {
		db, err := connectDatabaseWithRetry(cfg.Database, 1)
		if err != nil {
			log.Fatal().Err(err).Msg("Configuration validation failed")
		}
		db.Close()
		log.Info().Msg("Configuration is valid")
		os.Exit(0)
	}

	db, err := connectDatabaseWithRetry(cfg.Database, maxRetryAttempts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("Database migrations completed successfully")

	// Migrations can invalidate cached statement plans, causing panics in pgx.
	db.Pool().Reset()

	metrics := observability.NewMetrics()
	db.SetMetrics(metrics)

	tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 10*time.Second)
	tracer, err := observability.NewTracer(tracerCtx, observability.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	tracerCancel()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = nil
	}

	objectStore := store.New(db, metrics, tracer)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		port, err := addressPort(cfg.Metrics.Address)
		if err != nil {
			log.Warn().Err(err).Str("address", cfg.Metrics.Address).Msg("Invalid metrics address, metrics server disabled")
		} else {
			metricsServer = observability.NewMetricsServer(port, "/metrics")
			if err := metricsServer.Start(); err != nil {
				log.Warn().Err(err).Msg("Failed to start metrics server")
				metricsServer = nil
			}
		}
	}

	server := api.NewServer(cfg.Server, objectStore)

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Starting dawnstore server")
		if err := server.Listen(cfg.Server.Address); err != nil {
			log.Error().Err(err).Msg("Server failed to start or stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown failed")
		}
	}

	log.Info().Msg("Server exited")
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// addressPort extracts the numeric port from a ":PORT" style address.
func addressPort(addr string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(addr, ":"))
}

// connectDatabaseWithRetry attempts to connect to the database with exponential backoff.
func connectDatabaseWithRetry(cfg config.DatabaseConfig, maxAttempts int) (*database.Connection, error) {
	var db *database.Connection
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		log.Info().
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Msg("Attempting to connect to database...")

		db, err = database.NewConnection(cfg)
		if err == nil {
			log.Info().Msg("Successfully connected to database")
			return db, nil
		}

		if attempt >= maxAttempts {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", backoff).
			Msg("Database connection failed, retrying...")
		time.Sleep(backoff)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

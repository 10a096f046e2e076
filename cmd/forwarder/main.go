package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/siem-forwarder/internal/adapter/api"
	"github.com/V4T54L/siem-forwarder/internal/adapter/api/handler"
	"github.com/V4T54L/siem-forwarder/internal/adapter/connector"
	"github.com/V4T54L/siem-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/siem-forwarder/internal/adapter/pii"
	"github.com/V4T54L/siem-forwarder/internal/adapter/repository/archive"
	"github.com/V4T54L/siem-forwarder/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/siem-forwarder/internal/adapter/repository/redis"
	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
	"github.com/V4T54L/siem-forwarder/internal/pkg/logger"
	"github.com/V4T54L/siem-forwarder/internal/usecase"
)

const (
	consumePollInterval = 1 * time.Second
	shutdownTimeout     = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ingestMetrics := metrics.NewIngestMetrics(prometheus.DefaultRegisterer)
	forwarderMetrics := metrics.NewForwarderMetrics(prometheus.DefaultRegisterer)

	// --- Sinks ---
	httpClient := connector.NewHTTPClient(connector.HTTPClientConfig{
		Timeout:      cfg.HTTP.Timeout,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
	}, log)
	defer httpClient.CloseIdleConnections()

	sinks, err := connector.Build(cfg, connector.Dependencies{Logger: log, HTTP: httpClient})
	if err != nil {
		log.Error("failed to build sinks", "error", err)
		os.Exit(1)
	}
	for _, s := range sinks {
		log.Info("sink enabled", "sink", s.Name(), "configured", s.IsConfigured())
	}
	if len(sinks) == 0 {
		log.Warn("no sinks enabled, submitted events will be discarded")
	}

	// --- Forwarder ---
	forwarderOpts := []usecase.ForwarderOption{usecase.WithMetrics(forwarderMetrics)}
	if cfg.Archive.Dir != "" {
		dropArchive, err := archive.NewDropArchive(cfg.Archive.Dir, cfg.Archive.SegmentSize, cfg.Archive.MaxDiskSize, log)
		if err != nil {
			log.Error("failed to initialize drop archive", "error", err)
			os.Exit(1)
		}
		defer dropArchive.Close()
		forwarderOpts = append(forwarderOpts, usecase.WithDropArchive(dropArchive))
	}

	forwarder := usecase.NewForwarder(sinks, usecase.ForwarderConfig{
		BatchSize:     cfg.Forwarder.BatchSize,
		FlushInterval: cfg.Forwarder.FlushInterval,
		ReportBuffer:  cfg.Forwarder.ReportBuffer,
	}, log, forwarderOpts...)
	forwarder.Start(ctx)

	reportBroker := handler.NewSSEBroker(log)
	go reportBroker.Run(context.Background(), forwarder.Reports())

	// --- Producer authentication ---
	var apiKeyRepo domain.APIKeyRepository
	if cfg.Auth.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.Auth.PostgresURL)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Warn("postgres is not reachable yet, API key checks will fail until it is", "error", err)
		}
		apiKeyRepo = postgres.NewAPIKeyRepository(db, log, cfg.Auth.APIKeyCacheTTL, ingestMetrics)
	}
	if apiKeyRepo == nil && cfg.Auth.JWTSecret == "" {
		log.Warn("neither POSTGRES_URL nor INGEST_JWT_SECRET is set, the ingest API will reject every request")
	}

	redactor := pii.NewRedactor(cfg.RedactionFields(), log)
	ingester := usecase.NewIngestEventUseCase(forwarder, redactor, log)

	// --- Optional Redis stream source ---
	var (
		streamStatus handler.StreamStatusReader
		consumerWG   sync.WaitGroup
	)
	consumeCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	if cfg.Source.RedisAddr != "" {
		redisClient := redis.NewClient(redisOptions(cfg.Source.RedisAddr))
		defer redisClient.Close()

		stream, err := redisrepo.NewEventStream(ctx, redisClient, log, redisrepo.StreamConfig{
			Stream: cfg.Source.Stream,
			Group:  cfg.Source.Group,
		})
		if err != nil {
			log.Warn("could not attach to redis event stream, continuing with HTTP ingest only", "error", err)
		} else {
			streamStatus = stream
			consumer := usecase.NewConsumeEventsUseCase(stream, ingester, log, consumerName(), cfg.Forwarder.BatchSize)
			consumerWG.Add(1)
			go func() {
				defer consumerWG.Done()
				consumer.Run(consumeCtx, consumePollInterval)
			}()
		}
	}

	// --- Admin and Metrics Server ---
	adminHandler := handler.NewAdminHandler(forwarder, streamStatus, log)
	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: api.NewAdminRouter(adminHandler, reportBroker, promhttp.Handler(), log),
	}
	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin & metrics server failed", "error", err)
			stop()
		}
	}()

	// --- Ingest Server ---
	ingestServer := &http.Server{
		Addr:         cfg.IngestServerAddr,
		Handler:      api.NewRouter(cfg, log, apiKeyRepo, ingester, ingestMetrics),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.HTTP.Timeout + 5*time.Second, // a threshold flush runs inside the request
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		log.Info("starting ingest server", "addr", ingestServer.Addr)
		if err := ingestServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ingest server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	// Stop intake first so the final flush sees every accepted event.
	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		log.Error("ingest server shutdown failed", "error", err)
	}
	stopConsumer()
	consumerWG.Wait()

	result, err := forwarder.Shutdown(shutdownCtx)
	if err != nil {
		log.Error("forwarder shutdown incomplete", "error", err, "buffered", forwarder.BufferLen())
	} else {
		log.Info("final flush complete", "processed", result.ProcessedCount, "failed", result.FailedCount)
	}
	closeSinks(sinks, log)

	// The report channel is closed by now, which ends open SSE streams.
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}

	log.Info("forwarder shut down gracefully")
}

func redisOptions(addr string) *redis.Options {
	if strings.Contains(addr, "://") {
		if opts, err := redis.ParseURL(addr); err == nil {
			return opts
		}
	}
	return &redis.Options{Addr: addr}
}

// consumerName is unique per process so restarted instances don't inherit
// another instance's pending entries by accident.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "forwarder"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func closeSinks(sinks []domain.Sink, log *slog.Logger) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn("failed to close sink", "sink", s.Name(), "error", err)
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onchainlabs1/sentinel/internal/api"
	"github.com/onchainlabs1/sentinel/internal/archive"
	"github.com/onchainlabs1/sentinel/internal/cache"
	"github.com/onchainlabs1/sentinel/internal/classify"
	"github.com/onchainlabs1/sentinel/internal/config"
	"github.com/onchainlabs1/sentinel/internal/dedup"
	"github.com/onchainlabs1/sentinel/internal/escalate"
	"github.com/onchainlabs1/sentinel/internal/ingest"
	"github.com/onchainlabs1/sentinel/internal/metrics"
	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/notify"
	"github.com/onchainlabs1/sentinel/internal/registry"
	"github.com/onchainlabs1/sentinel/internal/review"
	"github.com/onchainlabs1/sentinel/internal/scheduler"
	"github.com/onchainlabs1/sentinel/internal/services"
	"github.com/onchainlabs1/sentinel/internal/sources"
	"github.com/onchainlabs1/sentinel/internal/store"
	"github.com/onchainlabs1/sentinel/internal/stream"
	"github.com/onchainlabs1/sentinel/internal/utils"
	"github.com/onchainlabs1/sentinel/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting sentinel", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-memory dedup", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	incidentStore, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open incident store", slog.Any("error", err))
		os.Exit(1)
	}
	defer incidentStore.Close()

	sink, err := archive.NewSink(cfg.Archive.Dir, logger)
	if err != nil {
		logger.Error("failed to prepare archive dir", slog.Any("error", err))
		os.Exit(1)
	}

	packRules, err := classify.LoadPack(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Rules.Path), slog.Any("error", err))
		os.Exit(1)
	}
	classifier := classify.New(logger, packRules)
	if cfg.Rules.Watch && cfg.Rules.Path != "" {
		go func() {
			if err := classify.Watch(ctx, cfg.Rules.Path, classifier, logger); err != nil {
				logger.Warn("rule pack watcher stopped", slog.Any("error", err))
			}
		}()
	}

	channels := []notify.Channel{notify.NewLogChannel(logger)}
	if cfg.Notify.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhookChannel(
			cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Timeout, cfg.Notify.Webhook.Retries))
	}
	if cfg.Notify.Ticket.URL != "" {
		channels = append(channels, notify.NewTicketChannel(
			cfg.Notify.Ticket.URL, cfg.Notify.Ticket.Token, cfg.Notify.Ticket.Timeout))
	}
	routes := make(map[models.Severity][]string, len(cfg.Notify.Routes))
	for sev, names := range cfg.Notify.Routes {
		routes[models.Severity(sev)] = names
	}
	router := notify.NewRouter(logger, routes, channels...)

	hub := stream.NewHub(logger)
	reg := registry.New()
	miner := review.NewMiner(logger, incidentStore)
	engine := workflow.NewEngine(logger, reg, incidentStore, sink, router, miner, hub)

	srcs := buildSources(ctx, cfg, logger)
	sched := scheduler.New(utils.Component(logger, "scheduler"), srcs, engine,
		cfg.Scheduler.PollInterval, cfg.Scheduler.Workers, cfg.Scheduler.QueueSize)

	suppressor := dedup.New(cacheProvider, cfg.Dedup.Window, logger)
	svc := services.New(logger, classifier, suppressor, reg, incidentStore, miner, hub, sched)
	sched.SetReporter(svc)

	if err := sched.Recover(ctx, incidentStore, reg); err != nil {
		logger.Warn("boot recovery incomplete", slog.Any("error", err))
	}

	checker := escalate.NewChecker(utils.Component(logger, "escalate"), reg, incidentStore, router, hub, cfg.Escalation)

	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler exited", slog.Any("error", err))
			stop()
		}
	}()
	go func() {
		if err := checker.Run(ctx); err != nil {
			logger.Error("escalation checker exited", slog.Any("error", err))
			stop()
		}
	}()

	var subscriber *ingest.Subscriber
	if cfg.Ingest.URL != "" {
		subscriber, err = ingest.Connect(logger, cfg.Ingest.URL, cfg.Ingest.Subject, svc)
		if err != nil {
			logger.Warn("nats intake unavailable", slog.Any("error", err))
		} else if err := subscriber.Start(ctx); err != nil {
			logger.Warn("nats intake failed to start", slog.Any("error", err))
		}
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	server := api.NewServer(logger, cfg.Server.Address, svc, hub)
	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	hub.Shutdown(shutdownCtx)

	if subscriber != nil {
		subscriber.Close()
	}
	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("sentinel stopped")
}

func buildSources(ctx context.Context, cfg *config.Config, logger *slog.Logger) []sources.Source {
	var srcs []sources.Source
	if cfg.Sources.Performance.Enabled && cfg.Sources.Performance.BaseURL != "" {
		srcs = append(srcs, sources.NewPerformanceSource(
			cfg.Sources.Performance.BaseURL,
			cfg.Sources.Performance.Path,
			cfg.Sources.Performance.Timeout))
	}
	if cfg.Sources.System.Enabled {
		srcs = append(srcs, sources.NewSystemSource(
			cfg.Sources.System.CPUPercent, cfg.Sources.System.MemoryPercent))
	}
	if cfg.Sources.LogScan.Enabled && cfg.Sources.LogScan.Path != "" {
		srcs = append(srcs, sources.NewLogScanSource(
			cfg.Sources.LogScan.Path, cfg.Sources.LogScan.Keywords))
	}
	if cfg.Sources.Integrity.Enabled && cfg.Sources.Integrity.DSN != "" {
		integrity, err := sources.NewIntegritySource(ctx, cfg.Sources.Integrity.DSN, cfg.Sources.Integrity.Probes)
		if err != nil {
			logger.Warn("integrity source unavailable", slog.Any("error", err))
		} else {
			srcs = append(srcs, integrity)
		}
	}
	for _, src := range srcs {
		logger.Info("detection source enabled", slog.String("source", src.Name()))
	}
	return srcs
}

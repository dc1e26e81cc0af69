package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/domain/values"
	"github.com/collectwise/outreach-backend/internal/infrastructure/config"
	"github.com/collectwise/outreach-backend/internal/infrastructure/database"
	"github.com/collectwise/outreach-backend/internal/infrastructure/provider"
	"github.com/collectwise/outreach-backend/internal/infrastructure/telemetry"
	"github.com/collectwise/outreach-backend/internal/metrics"
	auditsvc "github.com/collectwise/outreach-backend/internal/service/audit"
	compliancesvc "github.com/collectwise/outreach-backend/internal/service/compliance"
	"github.com/collectwise/outreach-backend/internal/service/delivery"
)

// The worker drains due messages without serving the HTTP API. It shares the
// database with the api process; each message still goes through a fresh
// compliance check on its way out.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	pollInterval := flag.Duration("poll", 30*time.Second, "storage poll interval")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("worker requires a database; set database.url")
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to set up logger: %v", err)
	}
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to set up zap logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProvider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "outreach-worker",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer otelProvider.Shutdown(context.Background())

	registry, err := metrics.NewRegistry("outreach-worker")
	if err != nil {
		log.Fatalf("failed to create metrics registry: %v", err)
	}

	dbPool, err := database.NewPool(ctx, cfg.Database, zapLogger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	ruleSet, err := cfg.Compliance.RuleSet(cfg.Version)
	if err != nil {
		log.Fatalf("invalid compliance configuration: %v", err)
	}

	profiles := database.NewProfileRepository(dbPool)
	recorder := auditsvc.NewRecorder(database.NewAuditRepository(dbPool), zapLogger)
	checker := compliancesvc.NewService(profiles, recorder,
		compliancesvc.StaticRuleSet{RuleSet: ruleSet}, zapLogger, registry)

	renderer, err := delivery.NewTemplateRenderer(ruleSet.RequiredDisclosures)
	if err != nil {
		log.Fatalf("invalid message templates: %v", err)
	}

	gateways := map[values.Channel]delivery.Gateway{
		values.ChannelEmail: newGateway(cfg.Providers.Email, zapLogger),
		values.ChannelSMS:   newGateway(cfg.Providers.SMS, zapLogger),
		values.ChannelVoice: newGateway(cfg.Providers.Voice, zapLogger),
	}

	engine := delivery.NewService(
		database.NewMessageRepository(dbPool),
		database.NewAttemptRepository(dbPool),
		checker, profiles, renderer, gateways,
		delivery.RetryPolicy{
			Delays:     cfg.Delivery.RetryDelays,
			Multiplier: cfg.Delivery.Multiplier,
			MaxDelay:   cfg.Delivery.MaxDelay,
		}, zapLogger, registry)

	pool := delivery.NewWorkerPool(engine, cfg.Delivery.Workers, cfg.Delivery.QueueSize, zapLogger)
	pool.Start(ctx)
	defer pool.Stop()

	logger.Info("worker started",
		"workers", cfg.Delivery.Workers, "poll_interval", pollInterval.String())

	// Periodic recovery doubles as the pickup path for messages submitted by
	// the api process.
	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()
	for {
		if err := pool.Recover(ctx, *pollInterval, 10_000); err != nil {
			logger.Warn("recovering due messages failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
		}
	}
}

func newGateway(pc config.ProviderConfig, logger *zap.Logger) delivery.Gateway {
	return provider.NewHTTPGateway(provider.Config{
		Provider: pc.Name,
		Endpoint: pc.Endpoint,
		APIKey:   pc.APIKey,
		Timeout:  pc.Timeout,
	}, logger)
}

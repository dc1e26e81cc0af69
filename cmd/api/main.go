package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/api/rest"
	"github.com/collectwise/outreach-backend/internal/domain/values"
	"github.com/collectwise/outreach-backend/internal/infrastructure/cache"
	"github.com/collectwise/outreach-backend/internal/infrastructure/config"
	"github.com/collectwise/outreach-backend/internal/infrastructure/database"
	"github.com/collectwise/outreach-backend/internal/infrastructure/provider"
	"github.com/collectwise/outreach-backend/internal/infrastructure/telemetry"
	"github.com/collectwise/outreach-backend/internal/metrics"
	auditsvc "github.com/collectwise/outreach-backend/internal/service/audit"
	compliancesvc "github.com/collectwise/outreach-backend/internal/service/compliance"
	"github.com/collectwise/outreach-backend/internal/service/delivery"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
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
		ServiceName:    "outreach-api",
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

	registry, err := metrics.NewRegistry("outreach-api")
	if err != nil {
		log.Fatalf("failed to create metrics registry: %v", err)
	}

	app, err := buildApp(ctx, cfg, zapLogger, registry)
	if err != nil {
		log.Fatalf("failed to build application: %v", err)
	}
	defer app.close()

	app.pool.Start(ctx)
	defer app.pool.Stop()
	if err := app.pool.Recover(ctx, cfg.Delivery.MaxDelay, 10_000); err != nil {
		logger.Warn("failed to recover pending messages", "error", err)
	}

	go serveMetrics(cfg.Server.Port+1, logger)
	go sampleQueueDepth(ctx, app.pool)

	handler := rest.NewHandler(app.complianceAPI, app.engine, app.pool,
		cfg.Delivery.MaxRetries, zapLogger)
	server := rest.NewServer(cfg.Server, handler, logger, instrumentHTTP)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	if err := server.Stop(context.Background()); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

type app struct {
	engine        *delivery.Service
	pool          *delivery.WorkerPool
	complianceAPI rest.ComplianceAPI
	close         func()
}

// buildApp wires repositories, services and the delivery engine. With no
// database URL everything runs on the in-memory stores, which is the local
// development mode.
func buildApp(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger, registry *metrics.Registry) (*app, error) {
	var (
		profiles compliancesvc.ProfileRepository
		auditRep auditsvc.Repository
		messages delivery.MessageRepository
		attempts delivery.AttemptRepository
		closeFns []func()
	)

	if cfg.Database.URL != "" {
		pool, err := database.NewPool(ctx, cfg.Database, zapLogger)
		if err != nil {
			return nil, err
		}
		closeFns = append(closeFns, pool.Close)
		profiles = database.NewProfileRepository(pool)
		auditRep = database.NewAuditRepository(pool)
		messages = database.NewMessageRepository(pool)
		attempts = database.NewAttemptRepository(pool)
	} else {
		zapLogger.Warn("no database configured, using in-memory stores")
		profiles = database.NewMemoryProfileRepository()
		auditRep = database.NewMemoryAuditRepository()
		messages = database.NewMemoryMessageRepository()
		attempts = database.NewMemoryAttemptRepository()
	}

	ruleSet, err := cfg.Compliance.RuleSet(cfg.Version)
	if err != nil {
		return nil, err
	}

	recorder := auditsvc.NewRecorder(auditRep, zapLogger)
	complianceService := compliancesvc.NewService(profiles, recorder,
		compliancesvc.StaticRuleSet{RuleSet: ruleSet}, zapLogger, registry)

	renderer, err := delivery.NewTemplateRenderer(ruleSet.RequiredDisclosures)
	if err != nil {
		return nil, err
	}

	gateways := map[values.Channel]delivery.Gateway{
		values.ChannelEmail: newGateway(cfg.Providers.Email, zapLogger),
		values.ChannelSMS:   newGateway(cfg.Providers.SMS, zapLogger),
		values.ChannelVoice: newGateway(cfg.Providers.Voice, zapLogger),
	}

	engine := delivery.NewService(messages, attempts, complianceService, profiles,
		renderer, gateways, delivery.RetryPolicy{
			Delays:     cfg.Delivery.RetryDelays,
			Multiplier: cfg.Delivery.Multiplier,
			MaxDelay:   cfg.Delivery.MaxDelay,
		}, zapLogger, registry)

	pool := delivery.NewWorkerPool(engine, cfg.Delivery.Workers, cfg.Delivery.QueueSize, zapLogger)

	var complianceAPI rest.ComplianceAPI = complianceService
	if cfg.Redis.Addr != "" {
		redisClient, err := cache.NewClient(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			zapLogger.Warn("redis unavailable, verdict cache disabled", zap.Error(err))
		} else {
			closeFns = append(closeFns, func() { _ = redisClient.Close() })
			verdicts := cache.NewVerdictCache(redisClient, zapLogger, cfg.Redis.VerdictTTL)
			complianceAPI = rest.NewCachedCompliance(complianceService, verdicts)
		}
	}

	return &app{
		engine:        engine,
		pool:          pool,
		complianceAPI: complianceAPI,
		close: func() {
			for i := len(closeFns) - 1; i >= 0; i-- {
				closeFns[i]()
			}
		},
	}, nil
}

func newGateway(pc config.ProviderConfig, logger *zap.Logger) delivery.Gateway {
	return provider.NewHTTPGateway(provider.Config{
		Provider: pc.Name,
		Endpoint: pc.Endpoint,
		APIKey:   pc.APIKey,
		Timeout:  pc.Timeout,
	}, logger)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/augmenter"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/cache"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/config"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/dlqworker"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/engine"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/healthcheck"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/storage"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/usecase"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Daisi Merchant Onboarding",
		zap.String("environment", cfg.Environment),
		zap.String("company_id", cfg.Company.ID),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Company.ID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Create repository adapters for the service
	merchantRepo := storage.NewMerchantRepoAdapter(postgresRepo)
	transitionRepo := storage.NewTransitionLogRepoAdapter(postgresRepo)
	ticketRepo := storage.NewSupportTicketRepoAdapter(postgresRepo)
	exhaustedEventRepo := storage.NewExhaustedEventRepoAdapter(postgresRepo)

	// Create the dialogue engine
	eng := engine.New(engine.Config{
		ActivationKeywords:  cfg.Engine.ActivationKeywords,
		ActivationCode:      cfg.Engine.ActivationCode,
		SLAThresholdDays:    cfg.Engine.SLAThresholdDays,
		UnknownSenderPolicy: cfg.Engine.UnknownSenderPolicy,
	})

	// Optional response augmenter
	var aug augmenter.Augmenter
	if cfg.Augmenter.Enabled {
		aug = augmenter.NewHTTPAugmenter(cfg.Augmenter.Endpoint, cfg.Augmenter.Timeout)
		logger.Log.Info("Response augmenter enabled", zap.String("endpoint", cfg.Augmenter.Endpoint))
	}

	// Optional activation cache
	var activationCache *cache.ActivationCache
	if cfg.Cache.Enabled {
		activationCache = cache.NewActivationCache(
			cfg.Company.ID,
			cfg.Cache.ExpectedMerchants,
			cfg.Cache.ExpectedStrangers,
			cfg.Cache.FalsePositiveRate,
		)
		logger.Log.Info("Activation cache enabled",
			zap.Uint("expected_merchants", cfg.Cache.ExpectedMerchants),
			zap.Uint("expected_strangers", cfg.Cache.ExpectedStrangers),
		)
	}

	// Create the onboarding service
	service := usecase.NewOnboardingService(
		merchantRepo, transitionRepo, ticketRepo, exhaustedEventRepo,
		eng, aug, jsClient, activationCache, cfg.NATS.OutboundSubject,
	)

	// Create acquisition worker pool and attach it to the service
	acquisitionWorker, err := usecase.NewAcquisitionWorker(
		cfg.WorkerPools.Acquisition,
		merchantRepo,
		jsClient,
		cfg.NATS.OutboundSubject,
		logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize acquisition worker pool", zap.Error(err))
	}
	service.SetAcquisitionWorker(acquisitionWorker)

	// Create and set up processor
	processor := usecase.NewProcessor(service, jsClient, cfg, cfg.Company.ID)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	// Create and initialize DLQ Worker: requires the router from the processor
	dlqWorker, err := dlqworker.NewWorker(cfg, logger.Log, jsClient.NatsConn(), jsClient, processor.GetRouter(), exhaustedEventRepo)
	if err != nil {
		logger.Log.Fatal("Failed to initialize DLQ Worker", zap.Error(err))
	}

	// Create health check server
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.RegisterCheck("postgres", postgresRepo.Ping)
	healthServer.RegisterCheck("nats", func(ctx context.Context) error {
		if !jsClient.NatsConn().IsConnected() {
			return fmt.Errorf("nats connection is down")
		}
		return nil
	})

	// Register metrics handler if enabled BEFORE starting the server
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	// Start health check server (which now might include /metrics)
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	// Start processor
	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	// Start DLQ worker in a separate goroutine
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sigChan := make(chan os.Signal, 1)
	go func() {
		if err := dlqWorker.Start(mainCtx); err != nil {
			logger.Log.Error("DLQ Worker failed to start or encountered an error, initiating shutdown...", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}()

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	// Signal main context cancellation for DLQ worker
	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup

	// processor (which stops the acquisition pool), dlq worker, health
	// server, connections
	numComponents := 4
	wg.Add(numComponents)

	// Shutdown processor (JetStream consumer and acquisition pool)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping onboarding processor")
		start := time.Now()
		processor.Stop()
		logger.Log.Info("[shutdown] Onboarding processor stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping onboarding processor",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown DLQ Worker
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping DLQ worker")
		start := time.Now()
		dlqWorker.Stop()
		logger.Log.Info("[shutdown] DLQ worker stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping DLQ worker",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown health check server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database and NATS connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	if activationCache != nil {
		stats := activationCache.GetStats()
		logger.Log.Info("Activation cache final stats",
			zap.Int64("hits", stats.Hits),
			zap.Int64("misses", stats.Misses),
			zap.Int64("false_positives", stats.FalsePositives),
		)
	}

	logger.Log.Info("Daisi Merchant Onboarding shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool, companyID string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient initializes the JetStream client.
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	// Stream and consumer setup happens in the processor Setup.
	return client, nil
}

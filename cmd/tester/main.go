package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/config"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/storage"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"go.uber.org/zap"
)

// IndividualTaskDetail holds info for a single message within a batch.
type IndividualTaskDetail struct {
	BaseSubject string
	CompanyID   string
	PhoneNumber string
}

// BatchTask represents a batch of messages to be processed by a worker.
type BatchTask struct {
	Tasks      []IndividualTaskDetail
	NatsClient jetstream.ClientInterface
}

const defaultBatchSize = 50

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	subjectsStr := flag.String("subjects", "v1.onboarding.inbound,v1.onboarding.acquire", "Comma-separated list of base NATS subjects")
	rate := flag.Int("rate", 100, "Target messages per second (total)")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent workers")
	companyIDsStr := flag.String("company_ids", cfg.Company.ID, "Comma-separated list of company IDs")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Number of messages to generate/publish per worker batch")
	phonePoolSize := flag.Int("phone-pool", 200, "Number of distinct phone numbers to rotate through, so conversations progress across messages")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	dumpPhone := flag.String("dump-phone", "", "Print the merchant record and conversation history for this phone number, then exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "NATS Load Generator (Batch Mode)\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generates load for the merchant onboarding service by publishing messages to NATS.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
		fmt.Printf("Invalid batch size, using default: %d\n", defaultBatchSize)
	}
	if *phonePoolSize <= 0 {
		*phonePoolSize = 200
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *dumpPhone != "" {
		if err := dumpMerchantRecord(cfg, *dumpPhone); err != nil {
			logger.Log.Fatal("Failed to dump merchant record", zap.String("phone", *dumpPhone), zap.Error(err))
		}
		return
	}

	observer.InitMetrics(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(ctx, *metricsPort)
	var metricsWg sync.WaitGroup
	metricsWg.Add(1)
	go func() {
		defer metricsWg.Done()
		<-ctx.Done()
		logger.Log.Info("Shutting down metrics server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		} else {
			logger.Log.Info("Metrics server stopped")
		}
	}()

	logger.Log.Info("Starting NATS Load Generator (Batch Mode)",
		zap.String("nats_url", *natsURL),
		zap.String("subjects", *subjectsStr),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("batch_size", *batchSize),
		zap.Int("phone_pool", *phonePoolSize),
		zap.String("company_ids", *companyIDsStr),
		zap.Int("metrics_port", *metricsPort),
		zap.String("log_level", *logLevel),
	)

	natsClient, err := jetstream.NewClient(*natsURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()
	logger.Log.Info("Connected to NATS", zap.String("url", *natsURL))

	baseSubjects := strings.Split(*subjectsStr, ",")
	companyIDs := strings.Split(*companyIDsStr, ",")
	if len(baseSubjects) == 0 || baseSubjects[0] == "" {
		logger.Log.Fatal("No base subjects provided")
	}
	if len(companyIDs) == 0 || companyIDs[0] == "" {
		logger.Log.Fatal("No company IDs provided")
	}

	rand.Seed(time.Now().UnixNano())
	gofakeit.Seed(time.Now().UnixNano())

	// A fixed phone pool makes repeated messages land on the same records,
	// driving the dialogue forward instead of creating fresh senders only.
	phonePool := make([]string, *phonePoolSize)
	for i := range phonePool {
		phonePool[i] = "628" + gofakeit.DigitN(10)
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		batchWorkerFunc(data, &wg)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	logger.Log.Info("Worker pool initialized", zap.Int("size", *concurrency))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var loopWg sync.WaitGroup
	loopWg.Add(1)

	go runBatchLoadLoop(ctx, *rate, *duration, *batchSize, baseSubjects, companyIDs, phonePool, natsClient, pool, &wg, &loopWg)

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
		logger.Log.Info("Load generation finished")
	}

	loopWg.Wait()
	logger.Log.Info("Load generation loop finished")

	wg.Wait()
	logger.Log.Info("All publish workers finished")

	metricsWg.Wait()
	logger.Log.Info("Load generator shutdown complete")
}

// dumpMerchantRecord prints the record and its conversation history for one
// phone number as indented JSON. Migration is skipped so a dump never alters
// the target schema.
func dumpMerchantRecord(cfg *config.Config, phoneNumber string) error {
	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, false, cfg.Company.ID)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	ctx := tenant.WithCompanyID(context.Background(), cfg.Company.ID)
	defer repo.Close(ctx)

	record, err := repo.FindMerchantByPhone(ctx, phoneNumber)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal merchant record: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func startMetricsServer(ctx context.Context, port int) *http.Server {
	logger.Log.Info("Starting Prometheus metrics server", zap.Int("port", port))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()

	return server
}

// runBatchLoadLoop manages the rate-limited submission of BATCHES to the worker pool.
func runBatchLoadLoop(ctx context.Context, rate int, duration time.Duration, batchSize int, subjects, companies, phonePool []string, nc jetstream.ClientInterface, pool *ants.PoolWithFunc, wg *sync.WaitGroup, loopWg *sync.WaitGroup) {
	defer loopWg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	messageCounter := 0
	currentBatch := make([]IndividualTaskDetail, 0, batchSize)

	logger.Log.Info("Starting batch load generation loop",
		zap.Int("target_rate_per_sec", rate),
		zap.Duration("duration", duration),
		zap.Int("batch_size", batchSize),
	)

	submitBatch := func(batchToSubmit []IndividualTaskDetail) {
		if len(batchToSubmit) == 0 {
			return
		}
		batchData := BatchTask{
			Tasks:      batchToSubmit,
			NatsClient: nc,
		}
		wg.Add(len(batchToSubmit))
		if err := pool.Invoke(batchData); err != nil {
			logger.Log.Warn("Failed to invoke worker pool for batch", zap.Int("batch_task_count", len(batchToSubmit)), zap.Error(err))
			wg.Add(-len(batchToSubmit))
			for _, taskDetail := range batchToSubmit {
				observer.IncLoadgenPublishErrors(taskDetail.BaseSubject, taskDetail.CompanyID)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Context cancelled, submitting final partial batch")
			submitBatch(currentBatch)
			return
		case <-durationTimer.C:
			logger.Log.Info("Duration elapsed, submitting final partial batch")
			submitBatch(currentBatch)
			return
		case <-ticker.C:
			select {
			case <-ctx.Done():
				logger.Log.Debug("Context cancelled during tick, dropping task")
				return
			default:
			}

			selectedSubject := subjects[messageCounter%len(subjects)]
			selectedCompany := companies[messageCounter%len(companies)]
			selectedPhone := phonePool[messageCounter%len(phonePool)]
			messageCounter++

			observer.IncLoadgenMessagesAttempted(selectedSubject, selectedCompany)

			currentBatch = append(currentBatch, IndividualTaskDetail{
				BaseSubject: selectedSubject,
				CompanyID:   selectedCompany,
				PhoneNumber: selectedPhone,
			})

			if len(currentBatch) >= batchSize {
				submitBatch(currentBatch)
				currentBatch = make([]IndividualTaskDetail, 0, batchSize)
			}
		}
	}
}

// batchWorkerFunc processes a batch of tasks.
func batchWorkerFunc(data interface{}, wg *sync.WaitGroup) {
	batchTask := data.(BatchTask)

	for _, taskDetail := range batchTask.Tasks {
		func(td IndividualTaskDetail) {
			defer wg.Done()

			finalSubject := fmt.Sprintf("%s.%s", td.BaseSubject, td.CompanyID)
			var payload interface{}

			switch td.BaseSubject {
			case string(model.V1InboundMessage):
				payload = model.NewInboundMessagePayload(&model.InboundMessagePayload{
					CompanyID:   td.CompanyID,
					PhoneNumber: td.PhoneNumber,
				})
			case string(model.V1Acquisition):
				payload = model.NewAcquisitionPayload(&model.AcquisitionPayload{
					CompanyID:   td.CompanyID,
					PhoneNumber: td.PhoneNumber,
				})
			default:
				logger.Log.Error("Unsupported base subject for payload generation in batch", zap.String("subject", td.BaseSubject))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.CompanyID)
				return
			}

			payloadBytes, err := json.Marshal(payload)
			if err != nil {
				logger.Log.Error("Failed to marshal payload in batch",
					zap.String("subject", finalSubject),
					zap.String("type", fmt.Sprintf("%T", payload)),
					zap.Error(err))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.CompanyID)
				return
			}

			headers := map[string]string{"CompanyID": td.CompanyID}
			if err := batchTask.NatsClient.Publish(finalSubject, payloadBytes, headers); err != nil {
				logger.Log.Error("Failed to publish message in batch", zap.String("subject", finalSubject), zap.Error(err))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.CompanyID)
			} else {
				observer.IncLoadgenMessagesPublished(td.BaseSubject, td.CompanyID)
			}
		}(taskDetail)
	}
}

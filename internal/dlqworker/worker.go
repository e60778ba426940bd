package dlqworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/config"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/ingestion"
	internal_js "gitlab.com/timkado/api/daisi-merchant-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/storage"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
)

const (
	maxRetries        = 5
	defaultMsgChanCap = 100
	fetchBatchSize    = 10
	fetchMaxWait      = 5 * time.Second
	taskTimeout       = 1 * time.Minute
)

// Worker re-drives onboarding events that landed on the dead letter stream.
// Each message is routed back through the ingestion router; after maxRetries
// failed attempts the event is persisted as exhausted and terminated.
type Worker struct {
	cfg    *config.Config
	logger *zap.Logger
	nc     *nats.Conn
	js     internal_js.ClientInterface
	pool   *ants.Pool
	router ingestion.RouterInterface
	store  storage.ExhaustedEventRepo
	msgCh  chan *nats.Msg
	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

// durableName derives a valid consumer name from the DLQ subject.
func durableName(dlqSubject string) string {
	return strings.ReplaceAll(dlqSubject, ".", "_") + "_worker_consumer"
}

// NewWorker builds the pool and provisions the DLQ stream and its pull
// consumer before returning.
func NewWorker(cfg *config.Config, log *zap.Logger, nc *nats.Conn, jsClient internal_js.ClientInterface, router ingestion.RouterInterface, exhaustedRepo storage.ExhaustedEventRepo) (*Worker, error) {
	pool, err := ants.NewPool(cfg.NATS.DLQWorkers,
		ants.WithLogger(&antsLoggerAdapter{logger: log.Named("ants_pool")}),
		ants.WithPanicHandler(func(err interface{}) {
			log.Error("Worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	if err := provisionDLQ(cfg, log, jsClient); err != nil {
		pool.Release()
		return nil, err
	}

	w := &Worker{
		cfg:    cfg,
		logger: log.Named("dlq_worker"),
		nc:     nc,
		js:     jsClient,
		pool:   pool,
		router: router,
		store:  exhaustedRepo,
		msgCh:  make(chan *nats.Msg, defaultMsgChanCap),
	}

	w.logger.Info("DLQ Worker initialized", zap.Int("pool_size", cfg.NATS.DLQWorkers))
	return w, nil
}

// provisionDLQ creates the dead letter stream and its durable pull consumer.
func provisionDLQ(cfg *config.Config, log *zap.Logger, jsClient internal_js.ClientInterface) error {
	ctx := context.Background()
	streamName := cfg.NATS.DLQStream
	filterSubject := cfg.NATS.DLQSubject + ".>"

	streamCfg := &nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{filterSubject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(cfg.NATS.DLQMaxAgeDays) * 24 * time.Hour,
	}
	if err := jsClient.SetupStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to setup DLQ stream '%s': %w", streamName, err)
	}
	log.Info("DLQ Stream setup complete", zap.String("stream", streamName))

	consumerCfg := &nats.ConsumerConfig{
		Durable:       durableName(cfg.NATS.DLQSubject),
		FilterSubject: filterSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    cfg.NATS.DLQMaxDeliver,
		AckWait:       cfg.NATS.DLQAckWait,
		MaxAckPending: cfg.NATS.DLQMaxAckPending,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
	if err := jsClient.SetupConsumer(ctx, streamName, consumerCfg); err != nil {
		return fmt.Errorf("failed to setup DLQ consumer '%s' for stream '%s': %w", consumerCfg.Durable, streamName, err)
	}
	log.Info("DLQ Consumer setup complete", zap.String("consumer", consumerCfg.Durable))
	return nil
}

// Start runs the fetch and dispatch loops until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	filterSubject := w.cfg.NATS.DLQSubject + ".>"
	durable := durableName(w.cfg.NATS.DLQSubject)

	w.logger.Info("Starting DLQ worker",
		zap.String("stream", w.cfg.NATS.DLQStream),
		zap.String("subject", filterSubject),
		zap.String("durable_name", durable),
	)

	sub, err := w.js.SubscribePull(w.cfg.NATS.DLQStream, filterSubject, durable)
	if err != nil {
		w.logger.Error("Failed to create DLQ pull subscription", zap.Error(err))
		cancel()
		return fmt.Errorf("failed to create DLQ pull subscription: %w", err)
	}

	w.stopWg.Add(2)
	go w.fetchLoop(derivedCtx, sub)
	go w.dispatchLoop(derivedCtx)

	w.logger.Info("DLQ worker started")

	<-derivedCtx.Done()
	w.logger.Info("DLQ worker context cancelled, shutting down")
	return nil
}

// Stop cancels the loops, drains them, and releases the pool.
func (w *Worker) Stop() {
	w.logger.Info("Stopping DLQ worker")
	if w.cancel != nil {
		w.cancel()
	}

	w.stopWg.Wait()
	close(w.msgCh)
	w.pool.Release()
	w.logger.Info("DLQ worker stopped")
}

// fetchLoop pulls message batches from the DLQ consumer onto msgCh.
func (w *Worker) fetchLoop(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Fetch loop stopping, context cancelled")
			return
		default:
		}

		observer.IncDlqFetchRequest()
		msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchMaxWait))
		if err != nil {
			// Timeout just means the queue is empty right now.
			if err == context.Canceled || err == nats.ErrTimeout || err == nats.ErrConnectionClosed {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			observer.IncDlqFetchError()
			w.logger.Error("Fetch loop error retrieving messages", zap.Error(err))
			time.Sleep(1 * time.Second)
			continue
		}

		for _, msg := range msgs {
			select {
			case w.msgCh <- msg:
			case <-ctx.Done():
				w.logger.Info("Fetch loop stopping while queueing message")
				return
			}
		}
	}
}

// dispatchLoop hands queued messages to the worker pool.
func (w *Worker) dispatchLoop(ctx context.Context) {
	defer w.stopWg.Done()

	for {
		observer.SetDlqQueueLength(len(w.msgCh))
		observer.SetDlqWorkersActive(w.pool.Running())

		select {
		case <-ctx.Done():
			w.logger.Info("Dispatch loop stopping, context cancelled")
			return
		case msg, ok := <-w.msgCh:
			if !ok {
				w.logger.Info("Message channel closed, dispatch loop stopping")
				return
			}
			w.submit(msg)
		}
	}
}

func (w *Worker) submit(msg *nats.Msg) {
	var peek model.DLQPayload
	_ = json.Unmarshal(msg.Data, &peek)

	err := w.pool.Submit(func() {
		taskCtx, taskCancel := context.WithTimeout(context.Background(), taskTimeout)
		defer taskCancel()
		w.redeliver(taskCtx, msg)
	})
	if err != nil {
		w.logger.Error("Failed to submit task to ants pool", zap.Error(err))
		if nakErr := msg.NakWithDelay(5 * time.Second); nakErr != nil {
			w.logger.Error("Failed to NAK message after pool submission error", zap.Error(nakErr))
			observer.IncDlqAckFailure(peek.Company)
		}
		return
	}
	observer.IncDlqTasksSubmitted(peek.Company)
}

// redeliver routes one dead-lettered event back through the ingestion
// router and decides its fate: ack, delayed nak, or terminate-and-persist.
func (w *Worker) redeliver(ctx context.Context, msg *nats.Msg) {
	startTime := time.Now()
	var companyID string
	defer func() {
		observer.ObserveDlqProcessingDuration(companyID, time.Since(startTime))
	}()

	meta, err := msg.Metadata()
	if err != nil {
		w.logger.Error("Failed to get message metadata", zap.Error(err))
		w.terminate(msg, companyID)
		return
	}

	var payload model.DLQPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		w.logger.Error("Failed to unmarshal DLQ payload",
			zap.Error(err),
			zap.Uint64("sequence", meta.Sequence.Stream),
			zap.String("subject", msg.Subject),
			zap.ByteString("data", msg.Data),
		)
		w.terminate(msg, companyID)
		return
	}
	companyID = payload.Company

	w.logger.Info("Processing DLQ message",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("stream_sequence", meta.Sequence.Stream),
		zap.Uint64("num_delivered", meta.NumDelivered),
		zap.Uint64("payload_retry_count", payload.RetryCount),
	)

	routerMetadata := &model.MessageMetadata{
		MessageSubject:   payload.SourceSubject,
		CompanyID:        payload.Company,
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		Timestamp:        meta.Timestamp,
		NumDelivered:     meta.NumDelivered,
	}
	handlerCtx := tenant.WithCompanyID(ctx, payload.Company)
	handlerCtx = logger.WithLogger(handlerCtx, w.logger.With(
		zap.String("original_subject", payload.SourceSubject),
		zap.String("dlq_company", payload.Company),
	))

	processingErr := w.router.Route(handlerCtx, routerMetadata, payload.OriginalPayload)
	if processingErr == nil {
		w.logger.Info("Successfully reprocessed event from DLQ",
			zap.String("source_subject", payload.SourceSubject),
			zap.Uint64("attempt", meta.NumDelivered),
		)
		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Error("Failed to ACK reprocessed message", zap.Error(ackErr))
			observer.IncDlqAckFailure(payload.Company)
		} else {
			observer.IncDlqAckSuccess(payload.Company)
		}
		return
	}

	w.logger.Warn("Failed to reprocess event from DLQ",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("num_delivered", meta.NumDelivered),
		zap.Error(processingErr),
	)

	if payload.RetryCount >= maxRetries {
		w.exhaust(ctx, msg, payload, processingErr)
		return
	}

	delay := backoffDelay(int(meta.NumDelivered), w.cfg.NATS.DLQBaseDelayMinutes, w.cfg.NATS.DLQMaxDelayMinutes)
	w.logger.Info("Retrying DLQ message with backoff",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("attempt", meta.NumDelivered),
		zap.Duration("delay", delay),
	)
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		w.logger.Error("Failed to NAK message with delay", zap.Error(nakErr))
		observer.IncDlqAckFailure(payload.Company)
	} else {
		observer.IncDlqTaskRetry(payload.Company)
	}
}

// exhaust persists the event for manual inspection and terminates the
// message so it never redelivers.
func (w *Worker) exhaust(ctx context.Context, msg *nats.Msg, payload model.DLQPayload, processingErr error) {
	w.logger.Warn("Max retries exceeded, persisting to exhausted store",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("retry_count", payload.RetryCount),
	)

	exhaustedEvent := model.ExhaustedEvent{
		CompanyID:       payload.Company,
		SourceSubject:   payload.SourceSubject,
		LastError:       processingErr.Error(),
		RetryCount:      int(payload.RetryCount),
		EventTimestamp:  payload.Timestamp,
		DLQPayload:      datatypes.JSON(msg.Data),
		OriginalPayload: datatypes.JSON(payload.OriginalPayload),
	}

	if saveErr := w.store.Save(ctx, exhaustedEvent); saveErr != nil {
		// The message is terminated regardless so a broken row cannot
		// wedge the queue.
		w.logger.Error("Failed to save exhausted event, terminating message anyway",
			zap.Error(saveErr),
			zap.String("source_subject", payload.SourceSubject),
		)
		w.terminate(msg, payload.Company)
		return
	}

	if termErr := msg.Term(); termErr != nil {
		w.logger.Error("Failed to terminate message after max retries", zap.Error(termErr))
	}
	observer.IncDlqTasksDropped(payload.Company)
	observer.IncDlqAckFailure(payload.Company)
}

func (w *Worker) terminate(msg *nats.Msg, companyID string) {
	if err := msg.Term(); err != nil {
		w.logger.Error("Failed to terminate message", zap.Error(err))
	}
	observer.IncDlqAckFailure(companyID)
}

// backoffDelay doubles the base delay per delivery attempt, capped at max.
func backoffDelay(attempt int, baseDelayMinutes, maxDelayMinutes int) time.Duration {
	baseDelay := time.Duration(baseDelayMinutes) * time.Minute
	maxDelay := time.Duration(maxDelayMinutes) * time.Minute

	if attempt <= 0 {
		return baseDelay
	}

	delay := baseDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/config"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/storage"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
)

// AcquisitionTaskData holds the data for one outreach task.
type AcquisitionTaskData struct {
	Ctx          context.Context // Context derived for the task, NOT the original request context
	Record       model.MerchantRecord
	BusinessName string
}

// IAcquisitionWorker defines the interface for the acquisition worker pool.
type IAcquisitionWorker interface {
	SubmitTask(taskData AcquisitionTaskData) error
	Stop()
}

// AcquisitionWorker sends the first outreach message to acquired prospects
// off the trigger path, so a slow transport never blocks consumers.
type AcquisitionWorker struct {
	pool            *ants.PoolWithFunc
	merchantRepo    storage.MerchantRepo
	publisher       OutboundPublisher
	cfg             config.AcquisitionWorkerPoolConfig
	outboundSubject string
	baseLogger      *zap.Logger
}

var _ IAcquisitionWorker = (*AcquisitionWorker)(nil)

// NewAcquisitionWorker creates and initializes the acquisition worker pool.
func NewAcquisitionWorker(
	cfg config.AcquisitionWorkerPoolConfig,
	merchantRepo storage.MerchantRepo,
	publisher OutboundPublisher,
	outboundSubject string,
	baseLogger *zap.Logger,
) (*AcquisitionWorker, error) {
	worker := &AcquisitionWorker{
		merchantRepo:    merchantRepo,
		publisher:       publisher,
		cfg:             cfg,
		outboundSubject: outboundSubject,
		baseLogger:      baseLogger.Named("acquisition_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(AcquisitionTaskData)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processAcquisitionTask(taskData)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in acquisition worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Acquisition worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return worker, nil
}

// SubmitTask submits a new outreach task to the worker pool.
func (w *AcquisitionWorker) SubmitTask(taskData AcquisitionTaskData) error {
	start := time.Now()
	observer.IncAcquisitionTasksSubmitted(taskData.Record.CompanyID)
	observer.SetAcquisitionQueueLength(w.pool.Waiting())

	err := w.pool.Invoke(taskData)
	duration := time.Since(start)

	if err != nil {
		w.baseLogger.Warn("Failed to submit acquisition task to pool",
			zap.String("record_id", taskData.Record.RecordID),
			zap.String("company_id", taskData.Record.CompanyID),
			zap.Duration("submit_duration", duration),
			zap.Error(err),
		)
		observer.IncAcquisitionTasksProcessed(taskData.Record.CompanyID, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("acquisition pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke acquisition task: %w", err)
	}

	w.baseLogger.Debug("Successfully submitted acquisition task",
		zap.String("record_id", taskData.Record.RecordID),
		zap.Duration("submit_duration", duration),
	)
	return nil
}

// processAcquisitionTask publishes the outreach message for one prospect.
// A publish failure marks the record failed so operators can re-trigger.
func (w *AcquisitionWorker) processAcquisitionTask(taskData AcquisitionTaskData) {
	log := logger.FromContextOr(taskData.Ctx, w.baseLogger).With(
		zap.String("task_record_id", taskData.Record.RecordID),
		zap.String("task_company_id", taskData.Record.CompanyID),
	)
	taskCtx := tenant.WithCompanyID(taskData.Ctx, taskData.Record.CompanyID)

	text := w.cfg.OutreachTemplate
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, taskData.BusinessName)
	}

	outbound := model.OutboundMessagePayload{
		MessageID:   uuid.NewString(),
		PhoneNumber: taskData.Record.PhoneNumber,
		CompanyID:   taskData.Record.CompanyID,
		Text:        text,
		Timestamp:   utils.Now().Unix(),
	}
	data, err := json.Marshal(outbound)
	if err != nil {
		log.Error("Failed to marshal outreach payload", zap.Error(err))
		observer.IncAcquisitionTasksProcessed(taskData.Record.CompanyID, "marshal_error")
		return
	}

	subject := fmt.Sprintf("%s.%s", w.outboundSubject, taskData.Record.CompanyID)
	headers := map[string]string{"Nats-Msg-Id": outbound.MessageID}
	if err := w.publisher.Publish(subject, data, headers); err != nil {
		log.Error("Failed to publish outreach message", zap.Error(err), zap.String("subject", subject))
		observer.IncOutboundPublished(taskData.Record.CompanyID, "error")
		observer.IncAcquisitionTasksProcessed(taskData.Record.CompanyID, "publish_error")

		rec := taskData.Record
		rec.Status = model.StatusFailed
		if updateErr := w.merchantRepo.Update(taskCtx, rec); updateErr != nil {
			log.Error("Failed to mark acquisition record as failed", zap.Error(updateErr))
		}
		return
	}
	observer.IncOutboundPublished(taskData.Record.CompanyID, "success")
	observer.IncAcquisitionTasksProcessed(taskData.Record.CompanyID, "success")
	log.Info("Published outreach message", zap.String("subject", subject))
}

// Stop gracefully shuts down the acquisition worker pool, waiting for
// queued tasks to finish.
func (w *AcquisitionWorker) Stop() {
	w.baseLogger.Info("Stopping acquisition worker pool...")
	w.pool.Release()
	w.baseLogger.Info("Acquisition worker pool stopped")
}

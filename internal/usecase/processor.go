package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/config"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/ingestion"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/ingestion/handler"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
)

// Processor wires the inbound consumer, the event router, and the handler
// for one company.
type Processor struct {
	service         *OnboardingService
	jsClient        jetstream.ClientInterface
	inboundConsumer *ingestion.InboundConsumer
	eventRouter     ingestion.RouterInterface
	inboundHandler  handler.OnboardingHandlerInterface
	outboundStream  string
	outboundSubject string
	outboundMaxAge  time.Duration
}

// NewProcessor creates a processor with all components wired up. Consumer
// and queue group names are suffixed with the company ID so deployments
// for different tenants never share a durable.
func NewProcessor(service *OnboardingService, jsClient jetstream.ClientInterface, cfg *config.Config, companyID string) *Processor {
	router := ingestion.NewRouter()
	inboundHandler := handler.NewOnboardingHandler(service)

	inboundCfg := cfg.NATS.Inbound
	inboundCfg.Consumer = inboundCfg.Consumer + companyID
	inboundCfg.QueueGroup = inboundCfg.QueueGroup + companyID
	inboundConsumer := ingestion.NewInboundConsumer(jsClient, router, inboundCfg, companyID, cfg.NATS.DLQSubject)

	return &Processor{
		service:         service,
		jsClient:        jsClient,
		inboundConsumer: inboundConsumer,
		eventRouter:     router,
		inboundHandler:  inboundHandler,
		outboundStream:  cfg.NATS.OutboundStream,
		outboundSubject: cfg.NATS.OutboundSubject,
		outboundMaxAge:  time.Duration(cfg.NATS.OutboundMaxAgeDays*24) * time.Hour,
	}
}

// GetRouter returns the processor's event router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// Setup registers event handlers and creates the stream and consumer.
func (p *Processor) Setup() error {
	p.eventRouter.Register(model.V1InboundMessage, p.inboundHandler.HandleEvent)
	p.eventRouter.Register(model.V1Acquisition, p.inboundHandler.HandleEvent)

	// Unknown event types are logged and acknowledged, never retried.
	p.eventRouter.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("version", eventType.GetVersion()),
			zap.String("base_type", string(eventType.GetBaseType())),
		)
		return nil
	})

	// The outbound stream must exist before the first reply is published.
	outboundCfg := &nats.StreamConfig{
		Name:      p.outboundStream,
		Subjects:  []string{p.outboundSubject + ".*"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    p.outboundMaxAge,
	}
	if err := p.jsClient.SetupStream(context.Background(), outboundCfg); err != nil {
		return fmt.Errorf("failed to setup outbound stream '%s': %w", p.outboundStream, err)
	}

	if err := p.inboundConsumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup inbound consumer: %w", err)
	}

	logger.Log.Info("Processor setup complete")
	return nil
}

// Start begins consuming inbound events.
func (p *Processor) Start() error {
	logger.Log.Info("Starting onboarding processor...")

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[panic] Recovered from panic in processor",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if err := p.inboundConsumer.Start(); err != nil {
		return fmt.Errorf("failed to start inbound consumer: %w", err)
	}

	logger.Log.Info("Inbound consumer started successfully")
	return nil
}

// Stop stops the consumer and the acquisition worker pool.
func (p *Processor) Stop() {
	logger.Log.Info("Stopping onboarding processor...")
	p.inboundConsumer.Stop()
	if p.service.acquisitionWorker != nil {
		p.service.acquisitionWorker.Stop()
	}
	logger.Log.Info("Onboarding processor stopped")
}

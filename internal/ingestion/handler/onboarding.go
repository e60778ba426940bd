package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
)

// OnboardingHandler processes inbound message and acquisition events
type OnboardingHandler struct {
	service OnboardingServiceProvider
}

// OnboardingServiceProvider defines the interface for onboarding event processing
type OnboardingServiceProvider interface {
	ProcessInboundMessage(ctx context.Context, payload model.InboundMessagePayload, metadata *model.LastMetadata) error
	TriggerAcquisition(ctx context.Context, payload model.AcquisitionPayload, metadata *model.LastMetadata) error
}

// NewOnboardingHandler creates a new onboarding event handler
func NewOnboardingHandler(service OnboardingServiceProvider) *OnboardingHandler {
	return &OnboardingHandler{
		service: service,
	}
}

// HandleEvent dispatches inbound and acquisition events to the service.
func (h *OnboardingHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	requestID := uuid.NewString()
	ctx = tenant.WithRequestID(ctx, requestID)

	log := logger.FromContext(ctx)
	log.Info("Processing onboarding event", zap.String("type", string(eventType)))

	lastMetadata := metadata.ToLastMetadata()
	var err error
	switch eventType {
	case model.V1InboundMessage:
		err = h.handleInboundMessage(ctx, lastMetadata, rawEvent)
	case model.V1Acquisition:
		err = h.handleAcquisition(ctx, lastMetadata, rawEvent)
	default:
		unsupportedErr := fmt.Errorf("unsupported onboarding event type: %s", eventType)
		log.Error("Unsupported onboarding event type", zap.String("eventType", string(eventType)))
		err = apperrors.NewFatal(unsupportedErr, "unsupported onboarding event type")
	}
	return err
}

// handleInboundMessage processes one merchant message.
func (h *OnboardingHandler) handleInboundMessage(ctx context.Context, metadata *model.LastMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.InboundMessagePayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal inbound message payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal inbound message payload")
	}

	// Enrich payload with CompanyID from metadata
	if payload.CompanyID == "" {
		payload.CompanyID = metadata.CompanyID
	}

	log.Info("Processing inbound message",
		zap.String("message_id", payload.MessageID),
		zap.String("phone_number", payload.PhoneNumber),
	)
	return h.service.ProcessInboundMessage(ctx, payload, metadata)
}

// handleAcquisition processes an acquisition trigger.
func (h *OnboardingHandler) handleAcquisition(ctx context.Context, metadata *model.LastMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.AcquisitionPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal acquisition payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal acquisition payload")
	}

	if payload.CompanyID == "" {
		payload.CompanyID = metadata.CompanyID
	}

	log.Info("Processing acquisition trigger", zap.String("phone_number", payload.PhoneNumber))
	return h.service.TriggerAcquisition(ctx, payload, metadata)
}

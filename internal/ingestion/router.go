package ingestion

import (
	"context"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
	"go.uber.org/zap"
)

// EventHandler processes a single routed event.
type EventHandler func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error

// Router dispatches events to handlers by their base event type. Events
// with no registered handler fall through to the default handler when set.
type Router struct {
	handlers       map[model.EventType]EventHandler
	defaultHandler EventHandler
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.EventType]EventHandler),
	}
}

// Register binds a handler to an exact event type.
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.handlers[eventType] = handler
}

// RegisterDefault sets the fallback handler for unmatched event types.
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// Route resolves the event type from the message subject and invokes the
// matching handler with a tenant-scoped context.
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx).With(
		zap.String("event_type", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
		zap.String("company_id", metadata.CompanyID),
	)
	ctx = logger.WithLogger(ctx, log)

	if metadata.CompanyID != "" {
		ctx = tenant.WithCompanyID(ctx, metadata.CompanyID)
	}

	eventType, found := model.MapToBaseEventType(metadata.MessageSubject)
	if !found {
		// The empty event type falls through to the default handler.
		log.Warn("Could not map subject to a known base event type", zap.String("subject", metadata.MessageSubject))
	}

	log.Info("Event received",
		zap.String("payload_size", utils.ByteCountSI(len(rawEvent))),
		zap.String("version", eventType.GetVersion()),
		zap.String("base_type", string(eventType.GetBaseType())),
	)

	handler, ok := r.handlers[eventType]
	if ok {
		return handler(ctx, eventType, metadata, rawEvent)
	}

	if r.defaultHandler != nil {
		log.Warn("No specific handler for event type, using default")
		return r.defaultHandler(ctx, eventType, metadata, rawEvent)
	}

	log.Error("No handler registered for event type")
	return nil
}

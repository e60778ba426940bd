package handler

import (
	"context"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// EventHandlerInterface defines the common interface for event handlers
type EventHandlerInterface interface {
	// HandleEvent processes an event
	HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error
}

// OnboardingHandlerInterface defines the interface for onboarding event handlers
type OnboardingHandlerInterface interface {
	EventHandlerInterface
}

// Ensure the handler implements the interface
var _ OnboardingHandlerInterface = (*OnboardingHandler)(nil)

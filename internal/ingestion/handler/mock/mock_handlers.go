package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// MockOnboardingHandler is a mock for the OnboardingHandlerInterface
type MockOnboardingHandler struct {
	mock.Mock
}

// HandleEvent mocks the HandleEvent method
func (m *MockOnboardingHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	args := m.Called(ctx, eventType, metadata, rawEvent)
	return args.Error(0)
}

// MockOnboardingService is a mock for the OnboardingServiceProvider interface
type MockOnboardingService struct {
	mock.Mock
}

// ProcessInboundMessage mocks the ProcessInboundMessage method
func (m *MockOnboardingService) ProcessInboundMessage(ctx context.Context, payload model.InboundMessagePayload, metadata *model.LastMetadata) error {
	args := m.Called(ctx, payload, metadata)
	return args.Error(0)
}

// TriggerAcquisition mocks the TriggerAcquisition method
func (m *MockOnboardingService) TriggerAcquisition(ctx context.Context, payload model.AcquisitionPayload, metadata *model.LastMetadata) error {
	args := m.Called(ctx, payload, metadata)
	return args.Error(0)
}

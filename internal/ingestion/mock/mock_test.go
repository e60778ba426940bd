package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

func noopHandler(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	return nil
}

func TestRouterMock(t *testing.T) {
	mockRouter := new(RouterMock)

	eventType := model.V1InboundMessage
	metadata := &model.MessageMetadata{MessageSubject: string(eventType), CompanyID: "tenant-a"}

	mockRouter.On("Register", eventType, mock.Anything).Return()
	mockRouter.On("Route", mock.Anything, metadata, mock.Anything).Return(nil)

	mockRouter.Register(eventType, noopHandler)
	err := mockRouter.Route(context.Background(), metadata, []byte(`{}`))

	assert.NoError(t, err)
	mockRouter.AssertExpectations(t)
}

func TestConsumerMock(t *testing.T) {
	mockConsumer := new(ConsumerMock)

	mockConsumer.On("Setup").Return(nil)
	mockConsumer.On("Start").Return(nil)
	mockConsumer.On("Stop").Return()

	assert.NoError(t, mockConsumer.Setup())
	assert.NoError(t, mockConsumer.Start())
	mockConsumer.Stop()

	mockConsumer.AssertExpectations(t)
}

func TestConsumerMockSetupError(t *testing.T) {
	mockConsumer := new(ConsumerMock)

	expectedErr := errors.New("setup failed")
	mockConsumer.On("Setup").Return(expectedErr)

	err := mockConsumer.Setup()

	assert.Equal(t, expectedErr, err)
	mockConsumer.AssertExpectations(t)
}

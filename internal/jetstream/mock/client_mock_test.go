package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// outboundRelay is a minimal consumer of ClientInterface used to verify the mock.
type outboundRelay struct {
	client *ClientMock
}

func (s *outboundRelay) SetupSubscriptions(ctx context.Context) error {
	dummyStreamCfg := &nats.StreamConfig{
		Name:     "onboarding_outbound",
		Subjects: []string{"v1.onboarding.outbound"},
	}
	dummyConsumerCfg := &nats.ConsumerConfig{
		Durable:        "outbound_consumer",
		DeliverGroup:   "outbound_group",
		FilterSubjects: []string{"v1.onboarding.outbound"},
	}

	err := s.client.SetupStream(ctx, dummyStreamCfg)
	if err != nil {
		return err
	}

	err = s.client.SetupConsumer(ctx, "onboarding_outbound", dummyConsumerCfg)
	if err != nil {
		return err
	}

	_, err = s.client.Subscribe("v1.onboarding.outbound", "outbound_consumer", "outbound_group", func(msg *nats.Msg) {
		// Handle message
	})
	return err
}

func (s *outboundRelay) PublishMessage(message []byte) error {
	return s.client.Publish("v1.onboarding.outbound", message, nil)
}

func TestClientMock(t *testing.T) {
	mockClient := new(ClientMock)

	service := &outboundRelay{
		client: mockClient,
	}

	mockClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(nil)
	mockClient.On("SetupConsumer", mock.Anything, "onboarding_outbound", mock.AnythingOfType("*nats.ConsumerConfig")).Return(nil)
	mockClient.On("Subscribe", "v1.onboarding.outbound", "outbound_consumer", "outbound_group", mock.Anything).Return(MockSubscription(), nil)
	mockClient.On("Publish", "v1.onboarding.outbound", []byte("welcome aboard"), mock.Anything).Return(nil)

	err := service.SetupSubscriptions(context.Background())
	assert.NoError(t, err)

	err = service.PublishMessage([]byte("welcome aboard"))
	assert.NoError(t, err)

	mockClient.AssertExpectations(t)
}

func TestClientMockErrors(t *testing.T) {
	mockClient := new(ClientMock)

	service := &outboundRelay{
		client: mockClient,
	}

	expectedErr := errors.New("stream setup failed")
	mockClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(expectedErr)

	err := service.SetupSubscriptions(context.Background())
	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)

	mockClient.AssertExpectations(t)
}

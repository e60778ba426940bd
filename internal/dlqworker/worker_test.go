package dlqworker

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/config"
	routermock "gitlab.com/timkado/api/daisi-merchant-onboarding/internal/ingestion/mock"
	clientmock "gitlab.com/timkado/api/daisi-merchant-onboarding/internal/jetstream/mock"
	storagemock "gitlab.com/timkado/api/daisi-merchant-onboarding/internal/storage/mock"
	"go.uber.org/zap/zaptest"
)

func dlqTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.NATS.DLQStream = "onboarding_dlq"
	cfg.NATS.DLQSubject = "v1.dlq"
	cfg.NATS.DLQWorkers = 2
	cfg.NATS.DLQMaxDeliver = 3
	cfg.NATS.DLQAckWait = 30 * time.Second
	cfg.NATS.DLQMaxAckPending = 100
	cfg.NATS.DLQMaxAgeDays = 7
	cfg.NATS.DLQBaseDelayMinutes = 1
	cfg.NATS.DLQMaxDelayMinutes = 8
	return cfg
}

func TestNewWorker_ProvisionsStreamAndConsumer(t *testing.T) {
	cfg := dlqTestConfig()
	mockClient := new(clientmock.ClientMock)
	mockRouter := new(routermock.RouterMock)
	mockStore := new(storagemock.ExhaustedEventRepoMock)

	mockClient.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == "onboarding_dlq" &&
			len(sc.Subjects) == 1 && sc.Subjects[0] == "v1.dlq.>" &&
			sc.MaxAge == 7*24*time.Hour
	})).Return(nil)
	mockClient.On("SetupConsumer", mock.Anything, "onboarding_dlq", mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == "v1_dlq_worker_consumer" &&
			cc.FilterSubject == "v1.dlq.>" &&
			cc.AckPolicy == nats.AckExplicitPolicy &&
			cc.MaxDeliver == cfg.NATS.DLQMaxDeliver
	})).Return(nil)

	w, err := NewWorker(cfg, zaptest.NewLogger(t), nil, mockClient, mockRouter, mockStore)

	assert.NoError(t, err)
	assert.NotNil(t, w)
	mockClient.AssertExpectations(t)

	w.pool.Release()
}

func TestNewWorker_StreamSetupFails(t *testing.T) {
	cfg := dlqTestConfig()
	mockClient := new(clientmock.ClientMock)
	mockRouter := new(routermock.RouterMock)
	mockStore := new(storagemock.ExhaustedEventRepoMock)

	expectedErr := errors.New("stream setup failed")
	mockClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(expectedErr)

	w, err := NewWorker(cfg, zaptest.NewLogger(t), nil, mockClient, mockRouter, mockStore)

	assert.Error(t, err)
	assert.Nil(t, w)
	assert.Contains(t, err.Error(), "failed to setup DLQ stream")
	mockClient.AssertNotCalled(t, "SetupConsumer", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewWorker_ConsumerSetupFails(t *testing.T) {
	cfg := dlqTestConfig()
	mockClient := new(clientmock.ClientMock)
	mockRouter := new(routermock.RouterMock)
	mockStore := new(storagemock.ExhaustedEventRepoMock)

	mockClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(nil)
	mockClient.On("SetupConsumer", mock.Anything, "onboarding_dlq", mock.AnythingOfType("*nats.ConsumerConfig")).Return(errors.New("consumer setup failed"))

	w, err := NewWorker(cfg, zaptest.NewLogger(t), nil, mockClient, mockRouter, mockStore)

	assert.Error(t, err)
	assert.Nil(t, w)
	assert.Contains(t, err.Error(), "failed to setup DLQ consumer")
}

func TestDurableName(t *testing.T) {
	assert.Equal(t, "v1_dlq_worker_consumer", durableName("v1.dlq"))
	assert.Equal(t, "dlq_worker_consumer", durableName("dlq"))
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		base     int
		max      int
		expected time.Duration
	}{
		{name: "zero attempt uses base", attempt: 0, base: 2, max: 30, expected: 2 * time.Minute},
		{name: "first attempt uses base", attempt: 1, base: 2, max: 30, expected: 2 * time.Minute},
		{name: "second attempt doubles", attempt: 2, base: 2, max: 30, expected: 4 * time.Minute},
		{name: "fourth attempt", attempt: 4, base: 2, max: 30, expected: 16 * time.Minute},
		{name: "capped at max", attempt: 10, base: 2, max: 30, expected: 30 * time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, backoffDelay(tc.attempt, tc.base, tc.max))
		})
	}
}

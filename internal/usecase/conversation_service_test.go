package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/engine"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	storagemock "gitlab.com/timkado/api/daisi-merchant-onboarding/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
)

const (
	testCompanyID   = "tenant-1"
	testPhoneNumber = "+628123456789"
)

// publisherMock mocks the OutboundPublisher interface
type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(subject string, data []byte, headers map[string]string) error {
	args := m.Called(subject, data, headers)
	return args.Error(0)
}

// augmenterMock mocks the augmenter.Augmenter interface
type augmenterMock struct {
	mock.Mock
}

func (m *augmenterMock) Augment(ctx context.Context, record *model.MerchantRecord, inboundText string, plan *engine.Result) (*engine.Augmentation, error) {
	args := m.Called(ctx, record, inboundText, plan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.Augmentation), args.Error(1)
}

type serviceMocks struct {
	merchantRepo   *storagemock.MerchantRepoMock
	transitionRepo *storagemock.TransitionLogRepoMock
	ticketRepo     *storagemock.SupportTicketRepoMock
	exhaustedRepo  *storagemock.ExhaustedEventRepoMock
	publisher      *publisherMock
}

func newTestService(t *testing.T) (*OnboardingService, *serviceMocks) {
	logger.Log = zaptest.NewLogger(t).Named("test")

	m := &serviceMocks{
		merchantRepo:   new(storagemock.MerchantRepoMock),
		transitionRepo: new(storagemock.TransitionLogRepoMock),
		ticketRepo:     new(storagemock.SupportTicketRepoMock),
		exhaustedRepo:  new(storagemock.ExhaustedEventRepoMock),
		publisher:      new(publisherMock),
	}

	eng := engine.New(engine.Config{
		ActivationKeywords:  []string{"register", "daftar"},
		ActivationCode:      "MERCHANT2024",
		SLAThresholdDays:    5,
		UnknownSenderPolicy: "reply",
	}, engine.WithIDGenerator(func() string { return "merchant-test-1" }))

	svc := NewOnboardingService(
		m.merchantRepo, m.transitionRepo, m.ticketRepo, m.exhaustedRepo,
		eng, nil, m.publisher, nil, "v1.onboarding.outbound",
	)
	return svc, m
}

func testContext() context.Context {
	return tenant.WithCompanyID(context.Background(), testCompanyID)
}

func inboundPayload(text string) model.InboundMessagePayload {
	return model.InboundMessagePayload{
		MessageID:   "msg-1",
		PhoneNumber: testPhoneNumber,
		CompanyID:   testCompanyID,
		Text:        text,
		Timestamp:   time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).Unix(),
	}
}

func existingRecord(step string) *model.MerchantRecord {
	return &model.MerchantRecord{
		RecordID:       "merchant-existing",
		PhoneNumber:    testPhoneNumber,
		CompanyID:      testCompanyID,
		BusinessName:   "Warung Sejahtera",
		OnboardingStep: step,
		Status:         model.StatusOnboarding,
	}
}

func TestProcessInboundMessage_ActivationCreatesRecord(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(nil, apperrors.ErrNotFound)
	m.merchantRepo.On("Save", mock.Anything, mock.MatchedBy(func(r model.MerchantRecord) bool {
		return r.RecordID == "merchant-test-1" && r.OnboardingStep == model.StepWelcome && r.PhoneNumber == testPhoneNumber
	})).Return(nil)
	m.transitionRepo.On("Save", mock.Anything, mock.MatchedBy(func(l model.TransitionLog) bool {
		return l.ToStep == model.StepWelcome && l.Trigger == model.TriggerActivation
	})).Return(nil)
	m.publisher.On("Publish", "v1.onboarding.outbound."+testCompanyID, mock.Anything, mock.Anything).Return(nil)

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("halo, saya mau daftar"), nil)
	require.NoError(t, err)

	m.merchantRepo.AssertExpectations(t)
	m.transitionRepo.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
}

func TestProcessInboundMessage_UnknownSenderGetsReplyWithoutRecord(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(nil, apperrors.ErrNotFound)
	m.publisher.On("Publish", "v1.onboarding.outbound."+testCompanyID, mock.Anything, mock.Anything).Return(nil)

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("what is this number"), nil)
	require.NoError(t, err)

	m.merchantRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	m.publisher.AssertExpectations(t)
}

func TestProcessInboundMessage_StepAdvance(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(existingRecord(model.StepContinue), nil)
	m.merchantRepo.On("Save", mock.Anything, mock.MatchedBy(func(r model.MerchantRecord) bool {
		return r.OnboardingStep == model.StepDelivery
	})).Return(nil)
	m.transitionRepo.On("Save", mock.Anything, mock.MatchedBy(func(l model.TransitionLog) bool {
		return l.FromStep == model.StepContinue && l.ToStep == model.StepDelivery
	})).Return(nil)
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("continue"), nil)
	require.NoError(t, err)

	m.merchantRepo.AssertExpectations(t)
	m.transitionRepo.AssertExpectations(t)
}

func TestProcessInboundMessage_RestartDeletesRecord(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(existingRecord(model.StepDelivery), nil)
	m.merchantRepo.On("Delete", mock.Anything, testPhoneNumber).Return(nil)
	m.transitionRepo.On("Save", mock.Anything, mock.MatchedBy(func(l model.TransitionLog) bool {
		return l.Trigger == model.TriggerRestart
	})).Return(nil)
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("restart"), nil)
	require.NoError(t, err)

	m.merchantRepo.AssertExpectations(t)
	m.merchantRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestProcessInboundMessage_SupportOpensTicket(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(existingRecord(model.StepDelivery), nil)
	m.merchantRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	m.ticketRepo.On("Save", mock.Anything, mock.MatchedBy(func(tk model.SupportTicket) bool {
		return tk.ReferenceID == "merchant-existing" && tk.PhoneNumber == testPhoneNumber
	})).Return(nil)
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("support"), nil)
	require.NoError(t, err)

	m.ticketRepo.AssertExpectations(t)
}

func TestProcessInboundMessage_DuplicateTicketIsNotAnError(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(existingRecord(model.StepDelivery), nil)
	m.merchantRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	m.ticketRepo.On("Save", mock.Anything, mock.Anything).Return(apperrors.ErrDuplicate)
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("support"), nil)
	require.NoError(t, err)
}

func TestProcessInboundMessage_SaveFailureIsRetryable(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(existingRecord(model.StepContinue), nil)
	m.merchantRepo.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("continue"), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err), "persist failure should be retryable")

	m.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessInboundMessage_PublishFailureIsRetryable(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(existingRecord(model.StepContinue), nil)
	m.merchantRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	m.transitionRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats: connection closed"))

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("continue"), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestProcessInboundMessage_ValidationFailureIsFatal(t *testing.T) {
	svc, m := newTestService(t)

	payload := inboundPayload("hello")
	payload.PhoneNumber = ""

	err := svc.ProcessInboundMessage(testContext(), payload, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))

	m.merchantRepo.AssertNotCalled(t, "FindByPhone", mock.Anything, mock.Anything)
}

func TestProcessInboundMessage_TenantMismatchIsFatal(t *testing.T) {
	svc, _ := newTestService(t)

	payload := inboundPayload("hello")
	payload.CompanyID = "other-tenant"

	err := svc.ProcessInboundMessage(testContext(), payload, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestProcessInboundMessage_AugmenterFailureFallsBack(t *testing.T) {
	svc, m := newTestService(t)
	aug := new(augmenterMock)
	svc.augmenter = aug

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(existingRecord(model.StepContinue), nil)
	aug.On("Augment", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("augmenter timeout"))
	m.merchantRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("continue"), nil)
	require.NoError(t, err)

	aug.AssertExpectations(t)
	m.merchantRepo.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
}

func TestProcessInboundMessage_TransitionLogFailureDoesNotFailMessage(t *testing.T) {
	svc, m := newTestService(t)

	m.merchantRepo.On("FindByPhone", mock.Anything, testPhoneNumber).Return(existingRecord(model.StepContinue), nil)
	m.merchantRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	m.transitionRepo.On("Save", mock.Anything, mock.Anything).Return(errors.New("audit table gone"))
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := svc.ProcessInboundMessage(testContext(), inboundPayload("continue"), nil)
	require.NoError(t, err)
}

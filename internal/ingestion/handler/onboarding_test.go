package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	handlermock "gitlab.com/timkado/api/daisi-merchant-onboarding/internal/ingestion/handler/mock"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

func testMetadata() *model.MessageMetadata {
	return &model.MessageMetadata{
		MessageID:      "msg-123",
		MessageSubject: "v1.onboarding.inbound.tenant-1",
		Stream:         "onboarding_inbound",
		CompanyID:      "tenant-1",
	}
}

func TestOnboardingHandler_HandleEvent_InboundMessage(t *testing.T) {
	svc := new(handlermock.MockOnboardingService)
	h := NewOnboardingHandler(svc)

	raw := []byte(`{"message_id":"msg-123","phone_number":"+628123456789","company_id":"tenant-1","text":"hello"}`)

	svc.On("ProcessInboundMessage", mock.Anything, mock.MatchedBy(func(p model.InboundMessagePayload) bool {
		return p.MessageID == "msg-123" && p.PhoneNumber == "+628123456789" && p.Text == "hello"
	}), mock.Anything).Return(nil)

	err := h.HandleEvent(context.Background(), model.V1InboundMessage, testMetadata(), raw)
	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestOnboardingHandler_HandleEvent_EnrichesCompanyIDFromMetadata(t *testing.T) {
	svc := new(handlermock.MockOnboardingService)
	h := NewOnboardingHandler(svc)

	raw := []byte(`{"message_id":"msg-123","phone_number":"+628123456789","text":"hello"}`)

	svc.On("ProcessInboundMessage", mock.Anything, mock.MatchedBy(func(p model.InboundMessagePayload) bool {
		return p.CompanyID == "tenant-1"
	}), mock.Anything).Return(nil)

	err := h.HandleEvent(context.Background(), model.V1InboundMessage, testMetadata(), raw)
	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestOnboardingHandler_HandleEvent_Acquisition(t *testing.T) {
	svc := new(handlermock.MockOnboardingService)
	h := NewOnboardingHandler(svc)

	raw := []byte(`{"phone_number":"+628123456789","company_id":"tenant-1","business_name":"Warung Sejahtera"}`)

	svc.On("TriggerAcquisition", mock.Anything, mock.MatchedBy(func(p model.AcquisitionPayload) bool {
		return p.PhoneNumber == "+628123456789" && p.BusinessName == "Warung Sejahtera"
	}), mock.Anything).Return(nil)

	err := h.HandleEvent(context.Background(), model.V1Acquisition, testMetadata(), raw)
	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestOnboardingHandler_HandleEvent_MalformedPayloadIsFatal(t *testing.T) {
	svc := new(handlermock.MockOnboardingService)
	h := NewOnboardingHandler(svc)

	err := h.HandleEvent(context.Background(), model.V1InboundMessage, testMetadata(), []byte(`{not json`))
	require.Error(t, err)
	svc.AssertNotCalled(t, "ProcessInboundMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestOnboardingHandler_HandleEvent_UnsupportedType(t *testing.T) {
	svc := new(handlermock.MockOnboardingService)
	h := NewOnboardingHandler(svc)

	err := h.HandleEvent(context.Background(), model.EventType("v1.onboarding.unknown"), testMetadata(), []byte(`{}`))
	assert.Error(t, err)
}

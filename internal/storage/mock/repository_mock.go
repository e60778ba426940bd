package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// --- MerchantRepo Mock ---

// MerchantRepoMock mocks the MerchantRepo interface
type MerchantRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *MerchantRepoMock) Save(ctx context.Context, record model.MerchantRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// Update mocks the Update method
func (m *MerchantRepoMock) Update(ctx context.Context, record model.MerchantRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// FindByPhone mocks the FindByPhone method
func (m *MerchantRepoMock) FindByPhone(ctx context.Context, phoneNumber string) (*model.MerchantRecord, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MerchantRecord), args.Error(1)
}

// FindByRecordID mocks the FindByRecordID method
func (m *MerchantRepoMock) FindByRecordID(ctx context.Context, recordID string) (*model.MerchantRecord, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MerchantRecord), args.Error(1)
}

// Delete mocks the Delete method
func (m *MerchantRepoMock) Delete(ctx context.Context, phoneNumber string) error {
	args := m.Called(ctx, phoneNumber)
	return args.Error(0)
}

// Close mocks the Close method
func (m *MerchantRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- TransitionLogRepo Mock ---

// TransitionLogRepoMock mocks the TransitionLogRepo interface
type TransitionLogRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *TransitionLogRepoMock) Save(ctx context.Context, logEntry model.TransitionLog) error {
	args := m.Called(ctx, logEntry)
	return args.Error(0)
}

// FindByRecordID mocks the FindByRecordID method
func (m *TransitionLogRepoMock) FindByRecordID(ctx context.Context, recordID string) ([]model.TransitionLog, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TransitionLog), args.Error(1)
}

// FindByPhoneNumber mocks the FindByPhoneNumber method
func (m *TransitionLogRepoMock) FindByPhoneNumber(ctx context.Context, phoneNumber string) ([]model.TransitionLog, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TransitionLog), args.Error(1)
}

// FindWithinTimeRange mocks the FindWithinTimeRange method
func (m *TransitionLogRepoMock) FindWithinTimeRange(ctx context.Context, startTimeUnix, endTimeUnix int64) ([]model.TransitionLog, error) {
	args := m.Called(ctx, startTimeUnix, endTimeUnix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TransitionLog), args.Error(1)
}

// Close mocks the Close method
func (m *TransitionLogRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- SupportTicketRepo Mock ---

// SupportTicketRepoMock mocks the SupportTicketRepo interface
type SupportTicketRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *SupportTicketRepoMock) Save(ctx context.Context, ticket model.SupportTicket) error {
	args := m.Called(ctx, ticket)
	return args.Error(0)
}

// FindByReferenceID mocks the FindByReferenceID method
func (m *SupportTicketRepoMock) FindByReferenceID(ctx context.Context, referenceID string) (*model.SupportTicket, error) {
	args := m.Called(ctx, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SupportTicket), args.Error(1)
}

// FindOpenByPhone mocks the FindOpenByPhone method
func (m *SupportTicketRepoMock) FindOpenByPhone(ctx context.Context, phoneNumber string) ([]model.SupportTicket, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SupportTicket), args.Error(1)
}

// Close mocks the Close method
func (m *SupportTicketRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ExhaustedEventRepo Mock ---

// ExhaustedEventRepoMock mocks the ExhaustedEventRepo interface
type ExhaustedEventRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *ExhaustedEventRepoMock) Save(ctx context.Context, event model.ExhaustedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// Close mocks the Close method
func (m *ExhaustedEventRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

package storage

import (
	"context"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// MerchantRepo defines merchant record storage operations. The store
// serializes read-modify-write access per phone number; callers fetch,
// mutate a copy, and persist.
type MerchantRepo interface {
	Save(ctx context.Context, record model.MerchantRecord) error
	Update(ctx context.Context, record model.MerchantRecord) error
	FindByPhone(ctx context.Context, phoneNumber string) (*model.MerchantRecord, error)
	FindByRecordID(ctx context.Context, recordID string) (*model.MerchantRecord, error)
	Delete(ctx context.Context, phoneNumber string) error
	Close(ctx context.Context) error
}

// TransitionLogRepo defines transition audit log storage operations
type TransitionLogRepo interface {
	Save(ctx context.Context, logEntry model.TransitionLog) error
	FindByRecordID(ctx context.Context, recordID string) ([]model.TransitionLog, error)
	FindByPhoneNumber(ctx context.Context, phoneNumber string) ([]model.TransitionLog, error)
	FindWithinTimeRange(ctx context.Context, startTimeUnix, endTimeUnix int64) ([]model.TransitionLog, error)
	Close(ctx context.Context) error
}

// SupportTicketRepo defines support ticket storage operations
type SupportTicketRepo interface {
	Save(ctx context.Context, ticket model.SupportTicket) error
	FindByReferenceID(ctx context.Context, referenceID string) (*model.SupportTicket, error)
	FindOpenByPhone(ctx context.Context, phoneNumber string) ([]model.SupportTicket, error)
	Close(ctx context.Context) error
}

// ExhaustedEventRepo defines exhausted event storage operations
type ExhaustedEventRepo interface {
	Save(ctx context.Context, event model.ExhaustedEvent) error
	Close(ctx context.Context) error
}

package storage

import (
	"context"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// MerchantRepoAdapter adapts the PostgresRepo to the MerchantRepo interface
type MerchantRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMerchantRepoAdapter creates a new merchant repository adapter
func NewMerchantRepoAdapter(postgres *PostgresRepo) MerchantRepo {
	return &MerchantRepoAdapter{postgres: postgres}
}

// Save saves a merchant record
func (a *MerchantRepoAdapter) Save(ctx context.Context, record model.MerchantRecord) error {
	return a.postgres.SaveMerchant(ctx, record)
}

// Update updates a merchant record
func (a *MerchantRepoAdapter) Update(ctx context.Context, record model.MerchantRecord) error {
	return a.postgres.UpdateMerchant(ctx, record)
}

// FindByPhone finds a merchant record by phone number
func (a *MerchantRepoAdapter) FindByPhone(ctx context.Context, phoneNumber string) (*model.MerchantRecord, error) {
	return a.postgres.FindMerchantByPhone(ctx, phoneNumber)
}

// FindByRecordID finds a merchant record by record ID
func (a *MerchantRepoAdapter) FindByRecordID(ctx context.Context, recordID string) (*model.MerchantRecord, error) {
	return a.postgres.FindMerchantByRecordID(ctx, recordID)
}

// Delete removes a merchant record by phone number
func (a *MerchantRepoAdapter) Delete(ctx context.Context, phoneNumber string) error {
	return a.postgres.DeleteMerchant(ctx, phoneNumber)
}

// Close closes the repository
func (a *MerchantRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// TransitionLogRepoAdapter adapts the PostgresRepo to the TransitionLogRepo interface
type TransitionLogRepoAdapter struct {
	postgres *PostgresRepo
}

// NewTransitionLogRepoAdapter creates a new transition log repository adapter
func NewTransitionLogRepoAdapter(postgres *PostgresRepo) TransitionLogRepo {
	return &TransitionLogRepoAdapter{postgres: postgres}
}

// Save saves a transition log entry
func (a *TransitionLogRepoAdapter) Save(ctx context.Context, logEntry model.TransitionLog) error {
	return a.postgres.SaveTransition(ctx, logEntry)
}

// FindByRecordID finds transition log entries by record ID
func (a *TransitionLogRepoAdapter) FindByRecordID(ctx context.Context, recordID string) ([]model.TransitionLog, error) {
	return a.postgres.FindTransitionsByRecordID(ctx, recordID)
}

// FindByPhoneNumber finds transition log entries by phone number
func (a *TransitionLogRepoAdapter) FindByPhoneNumber(ctx context.Context, phoneNumber string) ([]model.TransitionLog, error) {
	return a.postgres.FindTransitionsByPhoneNumber(ctx, phoneNumber)
}

// FindWithinTimeRange finds transition log entries within a time range
func (a *TransitionLogRepoAdapter) FindWithinTimeRange(ctx context.Context, startTimeUnix, endTimeUnix int64) ([]model.TransitionLog, error) {
	return a.postgres.FindTransitionsWithinTimeRange(ctx, startTimeUnix, endTimeUnix)
}

// Close closes the repository
func (a *TransitionLogRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// SupportTicketRepoAdapter adapts the PostgresRepo to the SupportTicketRepo interface
type SupportTicketRepoAdapter struct {
	postgres *PostgresRepo
}

// NewSupportTicketRepoAdapter creates a new support ticket repository adapter
func NewSupportTicketRepoAdapter(postgres *PostgresRepo) SupportTicketRepo {
	return &SupportTicketRepoAdapter{postgres: postgres}
}

// Save saves a support ticket
func (a *SupportTicketRepoAdapter) Save(ctx context.Context, ticket model.SupportTicket) error {
	return a.postgres.SaveTicket(ctx, ticket)
}

// FindByReferenceID finds a support ticket by reference ID
func (a *SupportTicketRepoAdapter) FindByReferenceID(ctx context.Context, referenceID string) (*model.SupportTicket, error) {
	return a.postgres.FindTicketByReferenceID(ctx, referenceID)
}

// FindOpenByPhone finds open support tickets by phone number
func (a *SupportTicketRepoAdapter) FindOpenByPhone(ctx context.Context, phoneNumber string) ([]model.SupportTicket, error) {
	return a.postgres.FindOpenTicketsByPhone(ctx, phoneNumber)
}

// Close closes the repository
func (a *SupportTicketRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// --- ExhaustedEventRepo Adapter ---

// ExhaustedEventRepoAdapter adapts the PostgresRepo to the ExhaustedEventRepo interface
type ExhaustedEventRepoAdapter struct {
	postgres *PostgresRepo
}

// NewExhaustedEventRepoAdapter creates a new exhausted event repository adapter
func NewExhaustedEventRepoAdapter(postgres *PostgresRepo) ExhaustedEventRepo {
	return &ExhaustedEventRepoAdapter{postgres: postgres}
}

// Save saves an exhausted event
func (a *ExhaustedEventRepoAdapter) Save(ctx context.Context, event model.ExhaustedEvent) error {
	return a.postgres.SaveExhaustedEvent(ctx, event)
}

// Close closes the repository
func (a *ExhaustedEventRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// Ensure adapters implement the interfaces
var _ MerchantRepo = (*MerchantRepoAdapter)(nil)
var _ TransitionLogRepo = (*TransitionLogRepoAdapter)(nil)
var _ SupportTicketRepo = (*SupportTicketRepoAdapter)(nil)
var _ ExhaustedEventRepo = (*ExhaustedEventRepoAdapter)(nil)

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
)

// --- Support Ticket Repository Methods ---

// SaveTicket creates one support ticket row.
func (r *PostgresRepo) SaveTicket(ctx context.Context, ticket model.SupportTicket) error {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if companyID != ticket.CompanyID {
		return fmt.Errorf("%w: ticket CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, ticket.CompanyID, companyID)
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&ticket).Error; createErr != nil {
			mappedErr := checkConstraintViolation(createErr)
			if errors.Is(mappedErr, apperrors.ErrDuplicate) {
				return backoff.Permanent(mappedErr)
			}
			return mappedErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	saveErr := retryableOperation(ctx, commitPolicy, "SaveTicket", operation)
	observer.ObserveDbOperationDuration("save", "support_ticket", companyID, time.Since(startTime), saveErr)
	if saveErr != nil {
		logger.FromContext(ctx).Error("Failed to save support ticket after retries", zap.Error(saveErr),
			zap.String("reference_id", ticket.ReferenceID),
			zap.String("record_id", ticket.RecordID),
		)
		return saveErr
	}
	return nil
}

// FindTicketByReferenceID looks up one ticket by its merchant-facing reference.
func (r *PostgresRepo) FindTicketByReferenceID(ctx context.Context, referenceID string) (*model.SupportTicket, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var ticket model.SupportTicket
	operation := func() error {
		result := r.db.WithContext(ctx).Where("reference_id = ?", referenceID).First(&ticket)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return backoff.Permanent(fmt.Errorf("%w: support ticket %s: %w", apperrors.ErrNotFound, referenceID, result.Error))
			}
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindTicketByReferenceID", operation)
	observer.ObserveDbOperationDuration("find", "support_ticket", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		if !errors.Is(findErr, apperrors.ErrNotFound) {
			logger.FromContext(ctx).Error("Failed to find support ticket", zap.Error(findErr), zap.String("reference_id", referenceID))
		}
		return nil, findErr
	}
	return &ticket, nil
}

// FindOpenTicketsByPhone returns open tickets for a phone number, newest first.
func (r *PostgresRepo) FindOpenTicketsByPhone(ctx context.Context, phoneNumber string) ([]model.SupportTicket, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var tickets []model.SupportTicket
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("phone_number = ? AND ticket_status = ?", phoneNumber, model.TicketOpen).
			Order("created_at desc").
			Find(&tickets)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindOpenTicketsByPhone", operation)
	observer.ObserveDbOperationDuration("find", "support_ticket", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find open support tickets", zap.Error(findErr), zap.String("phone_number", phoneNumber))
		return nil, findErr
	}
	return tickets, nil
}

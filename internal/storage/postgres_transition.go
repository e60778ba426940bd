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

// --- Transition Log Repository Methods ---

// SaveTransition appends one transition log row.
func (r *PostgresRepo) SaveTransition(ctx context.Context, logEntry model.TransitionLog) error {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if companyID != logEntry.CompanyID {
		return fmt.Errorf("%w: transition CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, logEntry.CompanyID, companyID)
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&logEntry).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	saveErr := retryableOperation(ctx, commitPolicy, "SaveTransition", operation)
	observer.ObserveDbOperationDuration("save", "transition_log", companyID, time.Since(startTime), saveErr)
	if saveErr != nil {
		logger.FromContext(ctx).Error("Failed to save transition log after retries", zap.Error(saveErr),
			zap.String("record_id", logEntry.RecordID),
			zap.String("to_step", logEntry.ToStep),
		)
		return saveErr
	}
	return nil
}

// FindTransitionsByRecordID returns all transitions for one merchant record,
// oldest first.
func (r *PostgresRepo) FindTransitionsByRecordID(ctx context.Context, recordID string) ([]model.TransitionLog, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var entries []model.TransitionLog
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("record_id = ?", recordID).
			Order("timestamp asc").
			Find(&entries)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return backoff.Permanent(fmt.Errorf("%w: transitions for record %s: %w", apperrors.ErrNotFound, recordID, result.Error))
			}
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindTransitionsByRecordID", operation)
	observer.ObserveDbOperationDuration("find", "transition_log", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find transitions by record ID", zap.Error(findErr), zap.String("record_id", recordID))
		return nil, findErr
	}
	return entries, nil
}

// FindTransitionsByPhoneNumber returns all transitions logged for a phone
// number, across record recreations.
func (r *PostgresRepo) FindTransitionsByPhoneNumber(ctx context.Context, phoneNumber string) ([]model.TransitionLog, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var entries []model.TransitionLog
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("phone_number = ?", phoneNumber).
			Order("timestamp asc").
			Find(&entries)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindTransitionsByPhoneNumber", operation)
	observer.ObserveDbOperationDuration("find", "transition_log", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find transitions by phone number", zap.Error(findErr), zap.String("phone_number", phoneNumber))
		return nil, findErr
	}
	return entries, nil
}

// FindTransitionsWithinTimeRange returns transitions whose inbound message
// timestamp falls in [startTimeUnix, endTimeUnix].
func (r *PostgresRepo) FindTransitionsWithinTimeRange(ctx context.Context, startTimeUnix, endTimeUnix int64) ([]model.TransitionLog, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var entries []model.TransitionLog
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("timestamp >= ? AND timestamp <= ?", startTimeUnix, endTimeUnix).
			Order("timestamp asc").
			Find(&entries)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindTransitionsWithinTimeRange", operation)
	observer.ObserveDbOperationDuration("find", "transition_log", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find transitions within time range", zap.Error(findErr),
			zap.Int64("start", startTimeUnix), zap.Int64("end", endTimeUnix))
		return nil, findErr
	}
	return entries, nil
}

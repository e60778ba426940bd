package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
)

// --- Merchant Record Repository Methods ---

// SaveMerchant creates or updates a merchant record, locking the row keyed by phone
// number so concurrent deliveries for the same merchant serialize.
func (r *PostgresRepo) SaveMerchant(ctx context.Context, record model.MerchantRecord) error {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if companyID != record.CompanyID {
		return fmt.Errorf("%w: record CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, record.CompanyID, companyID)
	}

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var existing model.MerchantRecord
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("phone_number = ?", record.PhoneNumber).
			First(&existing)
		findErr := result.Error

		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				if createErr := tx.Create(&record).Error; createErr != nil {
					txErr = checkConstraintViolation(createErr)
					return txErr
				}
			} else {
				txErr = fmt.Errorf("%w: failed to lock merchant record row: %w", apperrors.ErrDatabase, findErr)
				return txErr
			}
		} else {
			// Row exists; only the mutable columns are written so RecordID
			// and CreatedAt stay immutable.
			updates := tx.Model(&existing).
				Select(record.GetUpdatableFields()).
				Updates(&record)
			if updates.Error != nil {
				txErr = checkConstraintViolation(updates.Error)
				return txErr
			}
		}
		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit save transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveMerchantRecord Commit", operation)
	observer.ObserveDbOperationDuration("save", "merchant_record", companyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save merchant record after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateMerchant writes the mutable fields of an existing merchant record. Returns
// ErrNotFound when no record exists for the phone number.
func (r *PostgresRepo) UpdateMerchant(ctx context.Context, record model.MerchantRecord) error {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if companyID != record.CompanyID {
		return fmt.Errorf("%w: record CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, record.CompanyID, companyID)
	}
	record.UpdatedAt = utils.Now()

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var existing model.MerchantRecord
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("phone_number = ?", record.PhoneNumber).
			First(&existing)
		findErr := result.Error

		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: merchant record not found for update (phone: %s, CompanyID: %s): %w", apperrors.ErrNotFound, record.PhoneNumber, companyID, findErr)
				return backoff.Permanent(txErr) // Make NotFound permanent for retry policy
			}
			txErr = fmt.Errorf("%w: failed to lock merchant record row for update: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		updateResult := tx.Model(&existing).
			Select(record.GetUpdatableFields()).
			Updates(&record)
		if updateResult.Error != nil {
			txErr = checkConstraintViolation(updateResult.Error)
			return txErr
		}
		if updateResult.RowsAffected == 0 {
			logger.FromContext(ctx).Warn("UpdateMerchantRecord resulted in 0 rows affected, potentially no change", zap.String("phone_number", record.PhoneNumber))
		}
		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit update transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateMerchantRecord Commit", operation)
	observer.ObserveDbOperationDuration("update", "merchant_record", companyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update merchant record after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindMerchantByPhone finds a merchant record by phone number. Returns ErrNotFound
// when the phone number has no record yet.
func (r *PostgresRepo) FindMerchantByPhone(ctx context.Context, phoneNumber string) (*model.MerchantRecord, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var record model.MerchantRecord
	operation := func() error {
		result := r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).First(&record)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return backoff.Permanent(fmt.Errorf("%w: merchant record with phone %s: %w", apperrors.ErrNotFound, phoneNumber, result.Error))
			}
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMerchantByPhone", operation)
	observer.ObserveDbOperationDuration("find", "merchant_record", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		if !apperrors.IsNotFoundError(findErr) {
			logger.FromContext(ctx).Error("Failed to find merchant record by phone", zap.Error(findErr), zap.String("phone_number", phoneNumber))
		}
		return nil, findErr
	}
	return &record, nil
}

// FindMerchantByRecordID finds a merchant record by its public identifier.
func (r *PostgresRepo) FindMerchantByRecordID(ctx context.Context, recordID string) (*model.MerchantRecord, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var record model.MerchantRecord
	operation := func() error {
		result := r.db.WithContext(ctx).Where("record_id = ?", recordID).First(&record)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return backoff.Permanent(fmt.Errorf("%w: merchant record %s: %w", apperrors.ErrNotFound, recordID, result.Error))
			}
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMerchantByRecordID", operation)
	observer.ObserveDbOperationDuration("find", "merchant_record", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		if !apperrors.IsNotFoundError(findErr) {
			logger.FromContext(ctx).Error("Failed to find merchant record by record ID", zap.Error(findErr), zap.String("record_id", recordID))
		}
		return nil, findErr
	}
	return &record, nil
}

// DeleteMerchant removes the merchant record for a phone number. Deleting a missing
// record is not an error; restart must be idempotent.
func (r *PostgresRepo) DeleteMerchant(ctx context.Context, phoneNumber string) error {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).Delete(&model.MerchantRecord{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			logger.FromContext(ctx).Debug("Delete found no merchant record", zap.String("phone_number", phoneNumber))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	deleteErr := retryableOperation(ctx, commitPolicy, "DeleteMerchantRecord", operation)
	observer.ObserveDbOperationDuration("delete", "merchant_record", companyID, time.Since(startTime), deleteErr)
	if deleteErr != nil {
		logger.FromContext(ctx).Error("Failed to delete merchant record after retries", zap.Error(deleteErr), zap.String("phone_number", phoneNumber))
		return deleteErr
	}
	return nil
}

package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/engine"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/validator"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
)

// normalizePhoneNumber strips everything but digits. Numbers shorter than
// ten digits are rejected.
func normalizePhoneNumber(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if len(normalized) < 10 {
		return "", false
	}
	return normalized, true
}

// TriggerAcquisition creates a prospect record in the triggered step and
// hands the outreach message to the worker pool. A phone number that
// already has a record is a conflict.
func (s *OnboardingService) TriggerAcquisition(ctx context.Context, payload model.AcquisitionPayload, metadata *model.LastMetadata) error {
	log := logger.FromContext(ctx)

	if err := validator.Validate(payload); err != nil {
		log.Error("Acquisition payload validation failed", zap.Error(err))
		return apperrors.NewFatal(err, "invalid acquisition payload")
	}
	if err := validatePayloadTenant(ctx, payload.CompanyID); err != nil {
		log.Error("Acquisition tenant validation failed", zap.Error(err))
		return apperrors.NewFatal(err, "acquisition tenant mismatch")
	}

	phoneNumber, ok := normalizePhoneNumber(payload.PhoneNumber)
	if !ok {
		log.Warn("Acquisition rejected: phone number too short", zap.String("phone_number", payload.PhoneNumber))
		return apperrors.NewFatal(
			apperrors.ErrValidation,
			"acquisition phone number %q is not a valid phone number", payload.PhoneNumber)
	}

	unlock := s.lockPhone(phoneNumber)
	defer unlock()

	if existing, err := s.merchantRepo.FindByPhone(ctx, phoneNumber); err == nil && existing != nil {
		log.Warn("Acquisition rejected: record already exists",
			zap.String("phone_number", phoneNumber),
			zap.String("record_id", existing.RecordID),
		)
		return apperrors.NewFatal(
			apperrors.ErrConflict,
			"phone number %s already has record %s", phoneNumber, existing.RecordID)
	} else if err != nil && !apperrors.IsNotFoundError(err) {
		return apperrors.NewRetryable(err, "failed to check for existing merchant record")
	}

	now := utils.Now()
	rec := model.MerchantRecord{
		RecordID:       s.engine.NewRecordID(),
		PhoneNumber:    phoneNumber,
		CompanyID:      payload.CompanyID,
		BusinessName:   payload.BusinessName,
		OnboardingStep: model.StepTriggered,
		Status:         model.StatusAcquiring,
		CreatedAt:      now,
	}
	if rec.BusinessName == "" {
		rec.BusinessName = "Unknown"
	}
	if err := s.merchantRepo.Save(ctx, rec); err != nil {
		return apperrors.NewRetryable(err, "failed to create acquisition record")
	}
	if s.activationCache != nil {
		s.activationCache.MarkKnown(phoneNumber)
	}

	s.logTransition(ctx, model.InboundMessagePayload{
		PhoneNumber: phoneNumber,
		CompanyID:   payload.CompanyID,
	}, &engine.Result{
		UpdatedRecord: &rec,
		Transition:    &engine.Transition{FromStep: "", ToStep: model.StepTriggered, Trigger: model.TriggerAcquisition},
	}, now)

	if s.acquisitionWorker == nil {
		log.Error("No acquisition worker configured, record stays in acquiring status",
			zap.String("record_id", rec.RecordID))
		return nil
	}

	task := AcquisitionTaskData{
		Ctx:          context.WithoutCancel(ctx),
		Record:       rec,
		BusinessName: rec.BusinessName,
	}
	if err := s.acquisitionWorker.SubmitTask(task); err != nil {
		log.Error("Failed to submit acquisition task", zap.Error(err), zap.String("record_id", rec.RecordID))
		s.markAcquisitionFailed(ctx, rec)
		return apperrors.NewRetryable(err, "failed to submit acquisition task")
	}
	observer.IncAcquisitionTriggered(payload.CompanyID)
	return nil
}

// markAcquisitionFailed flips a prospect record to the failed status after
// the outreach could not be sent.
func (s *OnboardingService) markAcquisitionFailed(ctx context.Context, rec model.MerchantRecord) {
	rec.Status = model.StatusFailed
	if err := s.merchantRepo.Update(ctx, rec); err != nil {
		logger.FromContext(ctx).Error("Failed to mark acquisition record as failed",
			zap.Error(err), zap.String("record_id", rec.RecordID))
	}
}

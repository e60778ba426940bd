package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/cache"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/engine"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/validator"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
)

// ProcessInboundMessage runs the full pipeline for one merchant message:
// record lookup, dialogue engine, optional augmenter, persistence, audit
// log, and outbound publish.
func (s *OnboardingService) ProcessInboundMessage(ctx context.Context, payload model.InboundMessagePayload, metadata *model.LastMetadata) error {
	log := logger.FromContext(ctx)

	if err := validator.Validate(payload); err != nil {
		log.Error("Inbound message payload validation failed", zap.Error(err))
		return apperrors.NewFatal(err, "invalid inbound message payload")
	}
	if err := validatePayloadTenant(ctx, payload.CompanyID); err != nil {
		log.Error("Inbound message tenant validation failed", zap.Error(err))
		return apperrors.NewFatal(err, "inbound message tenant mismatch")
	}

	unlock := s.lockPhone(payload.PhoneNumber)
	defer unlock()

	now := utils.Now()
	if payload.Timestamp > 0 {
		now = utils.UnixToTime(payload.Timestamp)
	}

	record, err := s.loadRecord(ctx, payload.PhoneNumber)
	if err != nil {
		return err
	}

	res, err := s.runEngine(ctx, record, payload.Text, now)
	if err != nil {
		return err
	}

	if err := s.persistResult(ctx, payload, metadata, record, res, now); err != nil {
		return err
	}

	return s.publishOutbound(ctx, payload, res, now)
}

// loadRecord fetches the merchant record for a phone number, consulting the
// bloom cache first. A nil record without error means the sender is unknown.
func (s *OnboardingService) loadRecord(ctx context.Context, phoneNumber string) (*model.MerchantRecord, error) {
	log := logger.FromContext(ctx)

	if s.activationCache != nil && s.activationCache.CheckPhone(phoneNumber) == cache.StatusMaybeStranger {
		// Probable stranger: skip the lookup. Possible false positives are
		// reconciled in persistResult before any create.
		return nil, nil
	}

	record, err := s.merchantRepo.FindByPhone(ctx, phoneNumber)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			if s.activationCache != nil {
				s.activationCache.MarkStranger(phoneNumber)
			}
			return nil, nil
		}
		log.Error("Failed to load merchant record", zap.Error(err), zap.String("phone_number", phoneNumber))
		return nil, apperrors.NewRetryable(err, "failed to load merchant record")
	}
	if s.activationCache != nil {
		s.activationCache.MarkKnown(phoneNumber)
	}
	return record, nil
}

// runEngine evaluates the deterministic plan and, when an augmenter is
// configured, lets it refine the reply. Augmenter failure discards the plan
// entirely and substitutes the fixed fallback.
func (s *OnboardingService) runEngine(ctx context.Context, record *model.MerchantRecord, text string, now time.Time) (*engine.Result, error) {
	log := logger.FromContext(ctx)
	companyID, _ := tenant.FromContext(ctx)

	plan, err := s.engine.Evaluate(ctx, record, text, now)
	if err != nil {
		return nil, apperrors.NewFatal(err, "engine evaluation failed")
	}

	if s.augmenter != nil && plan.UpdatedRecord != nil {
		aug, augErr := s.augmenter.Augment(ctx, record, text, plan)
		if augErr != nil {
			log.Warn("Augmenter call failed, using fallback reply", zap.Error(augErr))
			observer.IncAugmenterRequest(companyID, "error")
			return s.engine.Fallback(record, text, now)
		}
		if applyErr := s.engine.ApplyAugmentation(plan, aug, now); applyErr != nil {
			log.Warn("Augmentation rejected, using fallback reply", zap.Error(applyErr))
			observer.IncAugmenterRequest(companyID, "rejected")
			return s.engine.Fallback(record, text, now)
		}
		observer.IncAugmenterRequest(companyID, "applied")
	}

	if err := s.engine.Finalize(plan, now); err != nil {
		return nil, apperrors.NewFatal(err, "engine finalize failed")
	}
	return plan, nil
}

// persistResult writes the engine outcome: record save or delete, the
// transition audit row, and a support ticket when requested.
func (s *OnboardingService) persistResult(ctx context.Context, payload model.InboundMessagePayload, metadata *model.LastMetadata, prior *model.MerchantRecord, res *engine.Result, now time.Time) error {
	log := logger.FromContext(ctx)

	if res.Command == engine.CommandDeleteRecord {
		if err := s.merchantRepo.Delete(ctx, payload.PhoneNumber); err != nil {
			return apperrors.NewRetryable(err, "failed to delete merchant record on restart")
		}
		s.logTransition(ctx, payload, res, now)
		return nil
	}

	rec := res.UpdatedRecord
	if rec == nil {
		// Unknown sender that failed the activation gate: nothing to persist.
		return nil
	}

	// Reconcile a possible bloom false positive: the cache said stranger but
	// a record may exist. The engine must re-run against the real record.
	if prior == nil && s.activationCache != nil && rec.RecordID != "" {
		if existing, err := s.merchantRepo.FindByPhone(ctx, payload.PhoneNumber); err == nil && existing != nil {
			s.activationCache.RecordFalsePositive("stranger")
			s.activationCache.MarkKnown(payload.PhoneNumber)
			log.Debug("Bloom stranger false positive, reprocessing against stored record",
				zap.String("phone_number", payload.PhoneNumber))
			rerun, rerunErr := s.runEngine(ctx, existing, payload.Text, now)
			if rerunErr != nil {
				return rerunErr
			}
			*res = *rerun
			return s.persistResult(ctx, payload, metadata, existing, res, now)
		}
	}

	rec.PhoneNumber = payload.PhoneNumber
	if rec.CompanyID == "" {
		rec.CompanyID = payload.CompanyID
	}
	if metadata != nil {
		if raw, marshalErr := json.Marshal(metadata); marshalErr == nil {
			rec.LastMetadata = datatypes.JSON(raw)
		} else {
			log.Warn("Failed to marshal last metadata", zap.Error(marshalErr))
		}
	}

	if err := s.merchantRepo.Save(ctx, *rec); err != nil {
		return apperrors.NewRetryable(err, "failed to save merchant record")
	}
	if s.activationCache != nil {
		s.activationCache.MarkKnown(payload.PhoneNumber)
	}

	s.logTransition(ctx, payload, res, now)

	if res.SupportRequested {
		s.createSupportTicket(ctx, payload, rec)
	}
	return nil
}

// logTransition appends the audit row for a step transition. Audit failures
// are logged but never fail the message: the record save is authoritative.
func (s *OnboardingService) logTransition(ctx context.Context, payload model.InboundMessagePayload, res *engine.Result, now time.Time) {
	if res.Transition == nil {
		return
	}
	log := logger.FromContext(ctx)

	recordID := ""
	if res.UpdatedRecord != nil {
		recordID = res.UpdatedRecord.RecordID
	}
	entry := model.TransitionLog{
		RecordID:    recordID,
		PhoneNumber: payload.PhoneNumber,
		CompanyID:   payload.CompanyID,
		FromStep:    res.Transition.FromStep,
		ToStep:      res.Transition.ToStep,
		Trigger:     res.Transition.Trigger,
		Timestamp:   now.Unix(),
	}
	if err := s.transitionRepo.Save(ctx, entry); err != nil {
		log.Error("Failed to save transition log", zap.Error(err),
			zap.String("record_id", recordID),
			zap.String("to_step", res.Transition.ToStep),
		)
		return
	}
	observer.IncStepTransition(payload.CompanyID, res.Transition.ToStep, res.Transition.Trigger)
	if res.Transition.ToStep == model.StepEscalated {
		observer.IncSLAEscalation(payload.CompanyID)
	}
}

// createSupportTicket opens a ticket referencing the record ID the merchant
// was shown. Duplicate support requests reuse the same reference and are
// not an error.
func (s *OnboardingService) createSupportTicket(ctx context.Context, payload model.InboundMessagePayload, rec *model.MerchantRecord) {
	log := logger.FromContext(ctx)
	ticket := model.SupportTicket{
		ReferenceID: rec.RecordID,
		RecordID:    rec.RecordID,
		PhoneNumber: payload.PhoneNumber,
		CompanyID:   payload.CompanyID,
		Step:        rec.OnboardingStep,
		Status:      rec.Status,
		TicketStat:  model.TicketOpen,
	}
	if err := s.ticketRepo.Save(ctx, ticket); err != nil {
		if apperrors.IsDuplicateError(err) {
			log.Debug("Support ticket already open for record", zap.String("record_id", rec.RecordID))
			return
		}
		log.Error("Failed to create support ticket", zap.Error(err), zap.String("record_id", rec.RecordID))
		return
	}
	observer.IncSupportTicketCreated(payload.CompanyID)
}

// publishOutbound publishes the engine's reply. Empty outbound text (drop
// policy) publishes nothing.
func (s *OnboardingService) publishOutbound(ctx context.Context, payload model.InboundMessagePayload, res *engine.Result, now time.Time) error {
	log := logger.FromContext(ctx)

	if res.OutboundText == "" {
		log.Debug("No outbound reply for message", zap.String("message_id", payload.MessageID))
		return nil
	}

	outbound := model.OutboundMessagePayload{
		MessageID:   uuid.NewString(),
		PhoneNumber: payload.PhoneNumber,
		CompanyID:   payload.CompanyID,
		Text:        res.OutboundText,
		InReplyTo:   payload.MessageID,
		Timestamp:   now.Unix(),
	}
	data, err := json.Marshal(outbound)
	if err != nil {
		return apperrors.NewFatal(err, "failed to marshal outbound payload")
	}

	subject := fmt.Sprintf("%s.%s", s.outboundSubject, payload.CompanyID)
	headers := map[string]string{"Nats-Msg-Id": outbound.MessageID}
	if err := s.publisher.Publish(subject, data, headers); err != nil {
		observer.IncOutboundPublished(payload.CompanyID, "error")
		log.Error("Failed to publish outbound message", zap.Error(err), zap.String("subject", subject))
		return apperrors.NewRetryable(err, "failed to publish outbound message")
	}
	observer.IncOutboundPublished(payload.CompanyID, "success")
	log.Info("Published outbound reply",
		zap.String("subject", subject),
		zap.String("in_reply_to", payload.MessageID),
	)
	return nil
}

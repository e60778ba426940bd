package usecase

import (
	"context"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// SaveExhaustedEvent persists a DLQ event whose retries ran out, for
// operator review and manual replay.
func (s *OnboardingService) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	return s.exhaustedEventRepo.Save(ctx, event)
}

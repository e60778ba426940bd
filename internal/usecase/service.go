package usecase

import (
	"context"
	"fmt"
	"sync"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/augmenter"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/cache"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/engine"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/storage"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
)

// OutboundPublisher publishes outbound messages to JetStream. Satisfied by
// the jetstream client.
type OutboundPublisher interface {
	Publish(subject string, data []byte, headers map[string]string) error
}

// OnboardingService drives the merchant onboarding conversation: it loads
// the record, runs the dialogue engine, persists the outcome, and publishes
// the reply.
type OnboardingService struct {
	merchantRepo       storage.MerchantRepo
	transitionRepo     storage.TransitionLogRepo
	ticketRepo         storage.SupportTicketRepo
	exhaustedEventRepo storage.ExhaustedEventRepo
	engine             *engine.Engine
	augmenter          augmenter.Augmenter // nil when the augmenter is disabled
	publisher          OutboundPublisher
	activationCache    *cache.ActivationCache // nil disables the bloom fast path
	acquisitionWorker  IAcquisitionWorker
	outboundSubject    string // base subject, company ID appended per message

	// phoneLocks serializes processing per phone number so concurrent
	// deliveries for the same merchant cannot interleave read-modify-write.
	phoneLocks sync.Map
}

// NewOnboardingService creates a new onboarding service
func NewOnboardingService(
	merchantRepo storage.MerchantRepo,
	transitionRepo storage.TransitionLogRepo,
	ticketRepo storage.SupportTicketRepo,
	exhaustedEventRepo storage.ExhaustedEventRepo,
	eng *engine.Engine,
	aug augmenter.Augmenter,
	publisher OutboundPublisher,
	activationCache *cache.ActivationCache,
	outboundSubject string,
) *OnboardingService {
	return &OnboardingService{
		merchantRepo:       merchantRepo,
		transitionRepo:     transitionRepo,
		ticketRepo:         ticketRepo,
		exhaustedEventRepo: exhaustedEventRepo,
		engine:             eng,
		augmenter:          aug,
		publisher:          publisher,
		activationCache:    activationCache,
		outboundSubject:    outboundSubject,
	}
}

// SetAcquisitionWorker attaches the worker pool after construction; the pool
// needs the service and the service needs the pool.
func (s *OnboardingService) SetAcquisitionWorker(w IAcquisitionWorker) {
	s.acquisitionWorker = w
}

// lockPhone acquires the per-phone mutex and returns its unlock function.
func (s *OnboardingService) lockPhone(phoneNumber string) func() {
	v, _ := s.phoneLocks.LoadOrStore(phoneNumber, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// validatePayloadTenant validates that the payload company matches the tenant ID from context
func validatePayloadTenant(ctx context.Context, companyID string) error {
	if companyID == "" {
		return nil // Company is filled from metadata upstream; skip when absent
	}

	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get tenant ID: %w", err)
	}

	if companyID != tenantID {
		return fmt.Errorf("company (%s) does not match tenant ID (%s)", companyID, tenantID)
	}

	return nil
}

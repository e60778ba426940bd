package integration_test

import (
	"time"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

func (s *OnboardingSuite) TestAcquisitionCreatesTriggeredRecord() {
	phone := "628222000001"
	sub := s.SubscribeOutbound()

	s.PublishAcquisition(phone, "Warung Makmur")

	s.WaitForStep(phone, model.StepTriggered, waitTimeout)
	_, _, status, _ := s.FetchRecord(phone)
	s.Equal(model.StatusAcquiring, status)

	// The outreach goes out asynchronously through the worker pool.
	outreach := s.NextOutbound(sub, waitTimeout)
	s.Equal(phone, outreach.PhoneNumber)
	s.Contains(outreach.Text, "Warung Makmur")
}

func (s *OnboardingSuite) TestAcquiredMerchantActivatesOnReply() {
	phone := "628222000002"

	s.PublishAcquisition(phone, "Toko Sejahtera")
	s.WaitForStep(phone, model.StepTriggered, waitTimeout)

	s.PublishInbound(phone, "onboarding")
	s.WaitForStep(phone, model.StepWelcome, waitTimeout)

	_, _, status, _ := s.FetchRecord(phone)
	s.Equal(model.StatusActivated, status)
}

func (s *OnboardingSuite) TestDuplicateAcquisitionKeepsSingleRecord() {
	phone := "628222000003"

	s.PublishAcquisition(phone, "Kopi Kenangan Lama")
	s.WaitForStep(phone, model.StepTriggered, waitTimeout)

	// The second trigger is a conflict and must not clobber the record.
	s.PublishAcquisition(phone, "Kopi Kenangan Lama")
	time.Sleep(2 * time.Second)

	s.Equal(1, s.RecordCount(phone))
}

func (s *OnboardingSuite) TestAcquisitionPhoneIsNormalized() {
	raw := "+62 822-2000-004"
	normalized := "628222000004"

	s.PublishAcquisition(raw, "Bengkel Jaya")

	s.WaitForStep(normalized, model.StepTriggered, waitTimeout)
	s.Equal(0, s.RecordCount(raw))
}

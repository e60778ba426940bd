package integration_test

import (
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

const waitTimeout = 15 * time.Second

func (s *OnboardingSuite) TestActivationCreatesRecord() {
	phone := "628111000001"
	sub := s.SubscribeOutbound()

	s.PublishInbound(phone, "hi, I want to register my store")

	s.WaitForStep(phone, model.StepWelcome, waitTimeout)
	_, step, status, _ := s.FetchRecord(phone)
	s.Equal(model.StepWelcome, step)
	s.Equal(model.StatusActivated, status)

	reply := s.NextOutbound(sub, waitTimeout)
	s.Equal(phone, reply.PhoneNumber)
	s.Equal(s.CompanyID, reply.CompanyID)
	s.NotEmpty(reply.Text)
}

func (s *OnboardingSuite) TestActivationCodePassesGate() {
	phone := "628111000002"

	s.PublishInbound(phone, "MERCHANT2024")

	s.WaitForStep(phone, model.StepWelcome, waitTimeout)
}

func (s *OnboardingSuite) TestUnknownSenderGetsReplyButNoRecord() {
	phone := "628111000003"
	sub := s.SubscribeOutbound()

	s.PublishInbound(phone, "wrong number, sorry")

	reply := s.NextOutbound(sub, waitTimeout)
	s.Equal(phone, reply.PhoneNumber)
	s.NotEmpty(reply.Text)
	s.Equal(0, s.RecordCount(phone))
}

func (s *OnboardingSuite) TestFullOnboardingScript() {
	phone := "628111000004"

	s.PublishInbound(phone, "I want to register my store")
	s.WaitForStep(phone, model.StepWelcome, waitTimeout)

	// A go-live date far enough out passes the SLA check.
	goLive := time.Now().AddDate(0, 0, 30).Format("02/01/2006")
	s.PublishInbound(phone, goLive)
	s.WaitForStep(phone, model.StepContinue, waitTimeout)

	s.PublishInbound(phone, "continue")
	s.WaitForStep(phone, model.StepDelivery, waitTimeout)

	s.PublishInbound(phone, "Jl. Sudirman No. 45, Jakarta Selatan 12190")
	s.WaitForStep(phone, model.StepHardware, waitTimeout)

	s.PublishInbound(phone, "1")
	s.WaitForStep(phone, model.StepProducts, waitTimeout)

	s.PublishInbound(phone, "Nasi goreng, es teh, ayam bakar")
	s.WaitForStep(phone, model.StepTraining, waitTimeout)

	s.PublishInbound(phone, "Training for 3 staff on weekdays")
	s.WaitForStep(phone, model.StepConfirmation, waitTimeout)

	s.PublishInbound(phone, "confirm")
	s.WaitForStep(phone, model.StepCompleted, waitTimeout)

	recordID, _, status, slaStatus := s.FetchRecord(phone)
	s.Equal(model.StatusCompleted, status)
	s.Equal(model.SLAWithin, slaStatus)

	// Activation, SLA check, and six step inputs all leave an audit entry.
	s.GreaterOrEqual(s.TransitionCount(recordID), 8)
}

func (s *OnboardingSuite) TestShortNoticeGoLiveEscalates() {
	phone := "628111000005"

	s.PublishInbound(phone, "merchant onboarding please")
	s.WaitForStep(phone, model.StepWelcome, waitTimeout)

	goLive := time.Now().AddDate(0, 0, 2).Format("02/01/2006")
	s.PublishInbound(phone, goLive)

	s.WaitForStep(phone, model.StepEscalated, waitTimeout)
	_, _, status, slaStatus := s.FetchRecord(phone)
	s.Equal(model.StatusEscalated, status)
	s.Equal(model.SLAAtRisk, slaStatus)
}

func (s *OnboardingSuite) TestSupportCommandOpensTicket() {
	phone := "628111000006"

	s.PublishInbound(phone, "I want to register my shop")
	s.WaitForStep(phone, model.StepWelcome, waitTimeout)

	recordID, _, _, _ := s.FetchRecord(phone)
	s.PublishInbound(phone, "support")

	// Ticket rows are written in the same handler pass as the status change.
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q.support_tickets WHERE reference_id = $1`, s.SchemaName)
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		var count int
		s.Require().NoError(s.db.QueryRowContext(s.Ctx, query, recordID).Scan(&count))
		if count == 1 {
			_, _, status, _ := s.FetchRecord(phone)
			s.Equal(model.StatusSupportRequested, status)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.FailNow("Timed out waiting for support ticket")
}

func (s *OnboardingSuite) TestRestartDeletesRecord() {
	phone := "628111000007"

	s.PublishInbound(phone, "signup please")
	s.WaitForStep(phone, model.StepWelcome, waitTimeout)

	s.PublishInbound(phone, "restart")
	s.WaitForNoRecord(phone, waitTimeout)
}

func (s *OnboardingSuite) TestStatusCommandKeepsState() {
	phone := "628111000008"
	sub := s.SubscribeOutbound()

	s.PublishInbound(phone, "I want to join")
	s.WaitForStep(phone, model.StepWelcome, waitTimeout)
	s.NextOutbound(sub, waitTimeout)

	s.PublishInbound(phone, "status")
	reply := s.NextOutbound(sub, waitTimeout)
	s.NotEmpty(reply.Text)

	_, step, _, _ := s.FetchRecord(phone)
	s.Equal(model.StepWelcome, step)
}

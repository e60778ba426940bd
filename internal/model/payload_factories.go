package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
)

func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// onboardingTexts are the message bodies the load generator rotates
// through. They cover activation, step inputs, and the global commands so
// generated traffic exercises the whole dialogue.
var onboardingTexts = []string{
	"halo, saya mau daftar",
	"onboarding please",
	"MERCHANT2024",
	"25/12/2026",
	"continue",
	"Jl. Sudirman No. 45, Jakarta Selatan 12190",
	"self",
	"professional",
	"Nasi goreng, es teh, ayam bakar",
	"Training for 3 staff on weekdays",
	"confirm",
	"help",
	"status",
	"support",
}

// --- NATS Payload Factories ---

// NewInboundMessagePayload creates an InboundMessagePayload with fake data.
func NewInboundMessagePayload(overrideDefaults ...*InboundMessagePayload) *InboundMessagePayload {
	base := &InboundMessagePayload{
		MessageID:   gofakeit.UUID(),
		PhoneNumber: "628" + gofakeit.DigitN(10),
		CompanyID:   "tenant_" + gofakeit.LetterN(10),
		Text:        gofakeit.RandomString(onboardingTexts),
		Timestamp:   utils.Now().Unix(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.MessageID != "" {
			base.MessageID = ovr.MessageID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.Text != "" {
			base.Text = ovr.Text
		}
		if ovr.Timestamp != 0 {
			base.Timestamp = ovr.Timestamp
		}
	}

	return base
}

// NewAcquisitionPayload creates an AcquisitionPayload with fake data.
func NewAcquisitionPayload(overrideDefaults ...*AcquisitionPayload) *AcquisitionPayload {
	base := &AcquisitionPayload{
		PhoneNumber:  "628" + gofakeit.DigitN(10),
		CompanyID:    "tenant_" + gofakeit.LetterN(10),
		BusinessName: gofakeit.Company(),
		Timestamp:    utils.Now().Unix(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.BusinessName != "" {
			base.BusinessName = ovr.BusinessName
		}
		if ovr.Timestamp != 0 {
			base.Timestamp = ovr.Timestamp
		}
	}

	return base
}

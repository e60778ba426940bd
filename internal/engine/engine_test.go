package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

func testConfig() Config {
	return Config{
		ActivationKeywords: []string{
			"onboarding", "merchant", "business", "setup", "go-live", "golive",
			"store", "shop", "payment", "pos", "terminal", "help", "support",
			"start", "begin", "register", "signup", "sign up", "join",
		},
		ActivationCode:      "MERCHANT2024",
		SLAThresholdDays:    5,
		UnknownSenderPolicy: PolicyReply,
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	seq := 0
	gen := func() string {
		seq++
		return fmt.Sprintf("merchant-test-%d", seq)
	}
	all := append([]Option{WithIDGenerator(gen)}, opts...)
	return New(testConfig(), all...)
}

// testNow is a fixed clock: 2024-01-01 10:30 UTC.
var testNow = time.Date(2024, time.January, 1, 10, 30, 0, 0, time.UTC)

func activatedRecord(t *testing.T, step string) *model.MerchantRecord {
	t.Helper()
	return &model.MerchantRecord{
		RecordID:       "merchant-existing",
		PhoneNumber:    "6281234567890",
		OnboardingStep: step,
		Status:         model.StatusActivated,
		CreatedAt:      testNow.Add(-time.Hour),
	}
}

func TestActivationGate(t *testing.T) {
	testCases := []struct {
		name         string
		text         string
		policy       string
		expectRecord bool
		expectText   string
	}{
		{
			name:         "keyword phrase activates",
			text:         "merchant onboarding",
			policy:       PolicyReply,
			expectRecord: true,
			expectText:   welcomeMessage,
		},
		{
			name:         "keyword embedded in sentence activates",
			text:         "Hi, I want to set up a new SHOP please",
			policy:       PolicyReply,
			expectRecord: true,
			expectText:   welcomeMessage,
		},
		{
			name:         "activation code exact match activates",
			text:         "  merchant2024  ",
			policy:       PolicyReply,
			expectRecord: true,
			expectText:   welcomeMessage,
		},
		{
			name:         "unrelated text replies under reply policy",
			text:         "hello there",
			policy:       PolicyReply,
			expectRecord: false,
			expectText:   notUnderstoodMessage,
		},
		{
			name:         "unrelated text is silent under drop policy",
			text:         "hello there",
			policy:       PolicyDrop,
			expectRecord: false,
			expectText:   "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.UnknownSenderPolicy = tc.policy
			e := New(cfg, WithIDGenerator(func() string { return "merchant-new" }))

			res, err := e.Process(context.Background(), nil, tc.text, testNow)
			require.NoError(t, err)

			assert.Equal(t, tc.expectText, res.OutboundText)
			assert.Equal(t, CommandNone, res.Command)
			if tc.expectRecord {
				require.NotNil(t, res.UpdatedRecord)
				assert.Equal(t, model.StepWelcome, res.UpdatedRecord.OnboardingStep)
				assert.Equal(t, model.StatusActivated, res.UpdatedRecord.Status)
				assert.Equal(t, "merchant-new", res.UpdatedRecord.RecordID)

				history, err := res.UpdatedRecord.History()
				require.NoError(t, err)
				require.Len(t, history, 2)
				assert.Equal(t, tc.text, history[0].Message)
				assert.Equal(t, model.DirectionIncoming, history[0].Direction)
				assert.Equal(t, welcomeMessage, history[1].Message)
				assert.Equal(t, model.DirectionOutgoing, history[1].Direction)
			} else {
				assert.Nil(t, res.UpdatedRecord)
			}
		})
	}
}

func TestGoLiveDateSLA(t *testing.T) {
	testCases := []struct {
		name         string
		text         string
		expectStep   string
		expectStatus string
		expectSLA    string
		expectDays   int
	}{
		{
			name:         "exactly at threshold is met",
			text:         "06/01/2024",
			expectStep:   model.StepContinue,
			expectStatus: model.StatusActivated,
			expectSLA:    model.SLAWithin,
			expectDays:   5,
		},
		{
			name:         "one day short escalates",
			text:         "05/01/2024",
			expectStep:   model.StepEscalated,
			expectStatus: model.StatusEscalated,
			expectSLA:    model.SLAAtRisk,
			expectDays:   4,
		},
		{
			name:         "far future is met",
			text:         "25/12/2099",
			expectStep:   model.StepContinue,
			expectStatus: model.StatusActivated,
			expectSLA:    model.SLAWithin,
		},
		{
			name:         "past date escalates instead of being rejected",
			text:         "25/12/2023",
			expectStep:   model.StepEscalated,
			expectStatus: model.StatusEscalated,
			expectSLA:    model.SLAAtRisk,
			expectDays:   -7,
		},
		{
			name:         "today escalates",
			text:         "01/01/2024",
			expectStep:   model.StepEscalated,
			expectStatus: model.StatusEscalated,
			expectSLA:    model.SLAAtRisk,
			expectDays:   0,
		},
		{
			name:         "leap day parses and is met",
			text:         "29/02/2024",
			expectStep:   model.StepContinue,
			expectStatus: model.StatusActivated,
			expectSLA:    model.SLAWithin,
			expectDays:   59,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t)
			rec := activatedRecord(t, model.StepWelcome)

			res, err := e.Process(context.Background(), rec, tc.text, testNow)
			require.NoError(t, err)

			updated := res.UpdatedRecord
			assert.Equal(t, tc.expectStep, updated.OnboardingStep)
			assert.Equal(t, tc.expectStatus, updated.Status)
			assert.Equal(t, tc.expectSLA, updated.SLAStatus)
			require.NotNil(t, updated.GoLiveDate)
			require.NotNil(t, updated.DaysUntilGoLive)
			if tc.expectDays != 0 || tc.text == "01/01/2024" {
				assert.Equal(t, tc.expectDays, *updated.DaysUntilGoLive)
			}
			assert.NotEmpty(t, res.OutboundText)

			// The original record is untouched.
			assert.Equal(t, model.StepWelcome, rec.OnboardingStep)
			assert.Nil(t, rec.GoLiveDate)
		})
	}
}

func TestInvalidDateInput(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{name: "day out of range", text: "32/01/2024"},
		{name: "month out of range", text: "10/13/2024"},
		{name: "nonexistent calendar day", text: "31/02/2024"},
		{name: "leap day in non leap year", text: "29/02/2023"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t)
			rec := activatedRecord(t, model.StepWelcome)

			res, err := e.Process(context.Background(), rec, tc.text, testNow)
			require.NoError(t, err)

			assert.Equal(t, invalidDateMessage, res.OutboundText)
			assert.Equal(t, model.StepWelcome, res.UpdatedRecord.OnboardingStep)
			assert.Nil(t, res.UpdatedRecord.GoLiveDate)
			assert.Empty(t, res.UpdatedRecord.SLAStatus)
		})
	}
}

func TestGlobalCommands(t *testing.T) {
	t.Run("help leaves state untouched", func(t *testing.T) {
		e := newTestEngine(t)
		rec := activatedRecord(t, model.StepDelivery)

		res, err := e.Process(context.Background(), rec, "HELP", testNow)
		require.NoError(t, err)

		assert.Equal(t, helpMessage, res.OutboundText)
		assert.Equal(t, model.StepDelivery, res.UpdatedRecord.OnboardingStep)
		assert.Equal(t, model.StatusActivated, res.UpdatedRecord.Status)
	})

	t.Run("support flags the record and requests a ticket", func(t *testing.T) {
		e := newTestEngine(t)
		rec := activatedRecord(t, model.StepHardware)

		res, err := e.Process(context.Background(), rec, "support", testNow)
		require.NoError(t, err)

		assert.True(t, res.SupportRequested)
		assert.Equal(t, model.StatusSupportRequested, res.UpdatedRecord.Status)
		assert.Equal(t, model.StepHardware, res.UpdatedRecord.OnboardingStep)
		assert.Contains(t, res.OutboundText, rec.RecordID)

		// Second support call is idempotent on status.
		res2, err := e.Process(context.Background(), res.UpdatedRecord, "support", testNow)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSupportRequested, res2.UpdatedRecord.Status)
		assert.Equal(t, model.StepHardware, res2.UpdatedRecord.OnboardingStep)
	})

	t.Run("status is idempotent", func(t *testing.T) {
		e := newTestEngine(t)
		rec := activatedRecord(t, model.StepProducts)

		first, err := e.Process(context.Background(), rec, "status", testNow)
		require.NoError(t, err)
		second, err := e.Process(context.Background(), first.UpdatedRecord, "status", testNow)
		require.NoError(t, err)

		assert.Equal(t, model.StepProducts, second.UpdatedRecord.OnboardingStep)
		assert.Equal(t, model.StatusActivated, second.UpdatedRecord.Status)
		assert.Contains(t, second.OutboundText, rec.RecordID)
		assert.Contains(t, second.OutboundText, model.StepProducts)
	})

	t.Run("restart issues a delete command", func(t *testing.T) {
		e := newTestEngine(t)
		rec := activatedRecord(t, model.StepTraining)

		res, err := e.Process(context.Background(), rec, "restart", testNow)
		require.NoError(t, err)

		assert.Equal(t, CommandDeleteRecord, res.Command)
		assert.Equal(t, restartMessage, res.OutboundText)
	})

	t.Run("commands work in escalated and completed steps", func(t *testing.T) {
		e := newTestEngine(t)
		for _, step := range []string{model.StepEscalated, model.StepCompleted} {
			rec := activatedRecord(t, step)
			res, err := e.Process(context.Background(), rec, "status", testNow)
			require.NoError(t, err)
			assert.Equal(t, step, res.UpdatedRecord.OnboardingStep)
			assert.NotEmpty(t, res.OutboundText)
		}
	})
}

func TestRestartProducesNewRecordID(t *testing.T) {
	e := newTestEngine(t)
	rec := activatedRecord(t, model.StepDelivery)

	res, err := e.Process(context.Background(), rec, "restart", testNow)
	require.NoError(t, err)
	require.Equal(t, CommandDeleteRecord, res.Command)

	// The next qualifying message recreates the record with a fresh ID.
	res2, err := e.Process(context.Background(), nil, "merchant onboarding", testNow)
	require.NoError(t, err)
	require.NotNil(t, res2.UpdatedRecord)
	assert.NotEqual(t, rec.RecordID, res2.UpdatedRecord.RecordID)
}

func TestFullOnboardingPath(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Process(ctx, nil, "merchant onboarding", testNow)
	require.NoError(t, err)
	rec := res.UpdatedRecord
	require.Equal(t, model.StepWelcome, rec.OnboardingStep)
	assert.Equal(t, welcomeMessage, res.OutboundText)

	steps := []struct {
		text       string
		expectStep string
	}{
		{text: "25/12/2099", expectStep: model.StepContinue},
		{text: "continue", expectStep: model.StepDelivery},
		{text: "42 Main St, Springfield, IL, 62704, USA", expectStep: model.StepHardware},
		{text: "2", expectStep: model.StepProducts},
		{text: "Coffee, pastries and a small lunch menu", expectStep: model.StepTraining},
		{text: "Type 1, Date: 20/12/2099, Time: Morning", expectStep: model.StepConfirmation},
		{text: "confirm", expectStep: model.StepCompleted},
	}

	for _, step := range steps {
		res, err = e.Process(ctx, rec, step.text, testNow)
		require.NoError(t, err)
		rec = res.UpdatedRecord
		require.Equal(t, step.expectStep, rec.OnboardingStep, "after input %q", step.text)
	}

	assert.Equal(t, model.StatusCompleted, rec.Status)
	require.NotNil(t, rec.GoLiveDate)
	assert.Equal(t, "42 Main St, Springfield, IL, 62704, USA", rec.DeliveryAddress)
	assert.Equal(t, model.HardwareProfessional, rec.HardwareChoice)
	assert.Equal(t, "Coffee, pastries and a small lunch menu", rec.ProductList)
	assert.NotEmpty(t, rec.TrainingInfo)

	assert.Contains(t, res.OutboundText, "25/12/2099")
	assert.Contains(t, res.OutboundText, rec.DeliveryAddress)
	assert.Contains(t, res.OutboundText, rec.HardwareChoice)

	// Every exchange appended one inbound and one outbound entry.
	history, err := rec.History()
	require.NoError(t, err)
	assert.Len(t, history, 16)
	for i, entry := range history {
		if i%2 == 0 {
			assert.Equal(t, model.DirectionIncoming, entry.Direction)
		} else {
			assert.Equal(t, model.DirectionOutgoing, entry.Direction)
		}
	}
}

func TestChangesRollsBackToDelivery(t *testing.T) {
	e := newTestEngine(t)
	rec := activatedRecord(t, model.StepConfirmation)
	rec.DeliveryAddress = "42 Main St, Springfield, IL, 62704, USA"

	res, err := e.Process(context.Background(), rec, "changes", testNow)
	require.NoError(t, err)

	assert.Equal(t, model.StepDelivery, res.UpdatedRecord.OnboardingStep)
	assert.Equal(t, changesMessage, res.OutboundText)
	require.NotNil(t, res.Transition)
	assert.Equal(t, model.TriggerRollback, res.Transition.Trigger)
}

func TestFallbackLeavesStateUnchanged(t *testing.T) {
	unmatched := map[string]string{
		model.StepWelcome:      "no date here",
		model.StepContinue:     "maybe later",
		model.StepDelivery:     "short",
		model.StepHardware:     "3",
		model.StepProducts:     "nope",
		model.StepTraining:     "nah",
		model.StepConfirmation: "what now",
		model.StepEscalated:    "anyone there?",
		model.StepCompleted:    "thanks again",
	}

	for step, text := range unmatched {
		t.Run(step, func(t *testing.T) {
			e := newTestEngine(t)
			rec := activatedRecord(t, step)

			res, err := e.Process(context.Background(), rec, text, testNow)
			require.NoError(t, err)

			assert.Equal(t, step, res.UpdatedRecord.OnboardingStep)
			assert.Equal(t, fallbackMessage, res.OutboundText)
			assert.Nil(t, res.Transition)
		})
	}
}

func TestTriggeredRecordEntersWelcomeOnActivation(t *testing.T) {
	e := newTestEngine(t)
	rec := activatedRecord(t, model.StepTriggered)
	rec.Status = model.StatusAcquiring

	res, err := e.Process(context.Background(), rec, "onboarding please", testNow)
	require.NoError(t, err)

	assert.Equal(t, model.StepWelcome, res.UpdatedRecord.OnboardingStep)
	assert.Equal(t, model.StatusActivated, res.UpdatedRecord.Status)
	assert.Equal(t, welcomeMessage, res.OutboundText)

	// Non-qualifying reply keeps the prospect in triggered.
	rec2 := activatedRecord(t, model.StepTriggered)
	res2, err := e.Process(context.Background(), rec2, "who is this?", testNow)
	require.NoError(t, err)
	assert.Equal(t, model.StepTriggered, res2.UpdatedRecord.OnboardingStep)
	assert.Equal(t, fallbackMessage, res2.OutboundText)
}

func TestDeliveryLengthBoundary(t *testing.T) {
	e := newTestEngine(t)

	// Exactly ten characters is rejected, eleven passes.
	rec := activatedRecord(t, model.StepDelivery)
	res, err := e.Process(context.Background(), rec, strings.Repeat("a", 10), testNow)
	require.NoError(t, err)
	assert.Equal(t, model.StepDelivery, res.UpdatedRecord.OnboardingStep)

	rec = activatedRecord(t, model.StepDelivery)
	res, err = e.Process(context.Background(), rec, strings.Repeat("a", 11), testNow)
	require.NoError(t, err)
	assert.Equal(t, model.StepHardware, res.UpdatedRecord.OnboardingStep)
	assert.Equal(t, strings.Repeat("a", 11), res.UpdatedRecord.DeliveryAddress)
}

func TestHardwareChoiceMapping(t *testing.T) {
	e := newTestEngine(t)

	rec := activatedRecord(t, model.StepHardware)
	res, err := e.Process(context.Background(), rec, "1", testNow)
	require.NoError(t, err)
	assert.Equal(t, model.HardwareSelf, res.UpdatedRecord.HardwareChoice)

	rec = activatedRecord(t, model.StepHardware)
	res, err = e.Process(context.Background(), rec, " 2 ", testNow)
	require.NoError(t, err)
	assert.Equal(t, model.HardwareProfessional, res.UpdatedRecord.HardwareChoice)
	assert.Equal(t, model.StepProducts, res.UpdatedRecord.OnboardingStep)
}

func TestSLASnapshotIsFrozen(t *testing.T) {
	e := newTestEngine(t)
	rec := activatedRecord(t, model.StepWelcome)

	res, err := e.Process(context.Background(), rec, "06/01/2024", testNow)
	require.NoError(t, err)
	require.NotNil(t, res.UpdatedRecord.DaysUntilGoLive)
	snapshot := *res.UpdatedRecord.DaysUntilGoLive

	// Days later the snapshot is not recomputed by later steps.
	later := testNow.Add(72 * time.Hour)
	res2, err := e.Process(context.Background(), res.UpdatedRecord, "continue", later)
	require.NoError(t, err)
	require.NotNil(t, res2.UpdatedRecord.DaysUntilGoLive)
	assert.Equal(t, snapshot, *res2.UpdatedRecord.DaysUntilGoLive)
	assert.Equal(t, model.SLAWithin, res2.UpdatedRecord.SLAStatus)
}

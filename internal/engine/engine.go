package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
)

// Command is a side-effect instruction the engine hands back to its caller.
type Command string

const (
	CommandNone         Command = "none"
	CommandDeleteRecord Command = "delete_record"
)

// Unknown-sender policies.
const (
	PolicyReply = "reply"
	PolicyDrop  = "drop"
)

// Config parameterizes the dialogue engine. All values come from service
// configuration; the engine holds no process-wide state.
type Config struct {
	ActivationKeywords  []string
	ActivationCode      string
	SLAThresholdDays    int
	UnknownSenderPolicy string
}

// Transition describes one step change for the audit log. Nil when the
// message did not move the dialogue.
type Transition struct {
	FromStep string
	ToStep   string
	Trigger  string
}

// Result is the outcome of evaluating one inbound message. UpdatedRecord is
// a deep copy; the caller's record is never mutated. SupportRequested is set
// when a support ticket should be opened for the merchant.
type Result struct {
	OutboundText     string
	UpdatedRecord    *model.MerchantRecord
	Command          Command
	Transition       *Transition
	SupportRequested bool

	// outboundAppended guards Finalize against double appends.
	outboundAppended bool
}

// Engine is the scripted onboarding dialogue state machine. It is pure:
// no I/O, no clock reads, and the only nondeterminism is the injected ID
// generator.
type Engine struct {
	cfg      Config
	keywords []string
	code     string
	newID    func() string
}

// Option customizes engine construction.
type Option func(*Engine)

// WithIDGenerator overrides record ID generation, used by tests that need
// deterministic IDs.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New creates a dialogue engine from config. A zero SLA threshold is valid
// and means every future date is accepted.
func New(cfg Config, opts ...Option) *Engine {
	keywords := make([]string, 0, len(cfg.ActivationKeywords))
	for _, kw := range cfg.ActivationKeywords {
		keywords = append(keywords, strings.ToLower(kw))
	}
	e := &Engine{
		cfg:      cfg,
		keywords: keywords,
		code:     strings.ToUpper(strings.TrimSpace(cfg.ActivationCode)),
		newID: func() string {
			return "merchant-" + uuid.NewString()
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewRecordID mints a record ID with the engine's generator. Acquisition
// uses this so that triggered records share the ID scheme of activated ones.
func (e *Engine) NewRecordID() string {
	return e.newID()
}

// Process evaluates one inbound message and finalizes the conversation
// history in a single call. This is the path used when no augmenter is
// configured.
func (e *Engine) Process(ctx context.Context, record *model.MerchantRecord, inboundText string, now time.Time) (*Result, error) {
	res, err := e.Evaluate(ctx, record, inboundText, now)
	if err != nil {
		return nil, err
	}
	if err := e.Finalize(res, now); err != nil {
		return nil, err
	}
	return res, nil
}

// Evaluate computes the deterministic plan for one inbound message. The
// returned record already has the inbound message appended to history; the
// outbound text is appended later by Finalize, so an augmenter can replace
// the text first.
func (e *Engine) Evaluate(ctx context.Context, record *model.MerchantRecord, inboundText string, now time.Time) (*Result, error) {
	log := logger.FromContext(ctx).Named("engine")

	if record == nil {
		return e.activate(log, inboundText, now)
	}

	rec := record.Clone()
	if err := rec.AppendHistory(inboundText, model.DirectionIncoming, now.UTC()); err != nil {
		return nil, fmt.Errorf("failed to append inbound history: %w", err)
	}

	normalized := strings.ToLower(strings.TrimSpace(inboundText))

	// Global commands short-circuit the step logic at any state.
	if res, ok := e.handleCommand(normalized, rec, now); ok {
		return res, nil
	}

	// A triggered record is an acquisition prospect that has not activated
	// yet; its first qualifying reply enters the normal welcome flow.
	if rec.OnboardingStep == model.StepTriggered {
		if e.passesActivationGate(inboundText) {
			from := rec.OnboardingStep
			rec.OnboardingStep = model.StepWelcome
			rec.Status = model.StatusActivated
			return &Result{
				OutboundText:  welcomeMessage,
				UpdatedRecord: rec,
				Command:       CommandNone,
				Transition:    &Transition{FromStep: from, ToStep: model.StepWelcome, Trigger: model.TriggerActivation},
			}, nil
		}
		return &Result{OutboundText: fallbackMessage, UpdatedRecord: rec, Command: CommandNone}, nil
	}

	res := e.advance(log, rec, inboundText, normalized, now)
	return res, nil
}

// Finalize appends the outbound text to the record's history. Safe to call
// once per result; empty outbound text (drop policy) appends nothing.
func (e *Engine) Finalize(res *Result, now time.Time) error {
	if res.outboundAppended || res.UpdatedRecord == nil || res.OutboundText == "" {
		return nil
	}
	if err := res.UpdatedRecord.AppendHistory(res.OutboundText, model.DirectionOutgoing, now.UTC()); err != nil {
		return fmt.Errorf("failed to append outbound history: %w", err)
	}
	res.outboundAppended = true
	return nil
}

// Fallback builds the fixed augmenter-failure result: the record is left
// exactly as it was before processing, only the history grows.
func (e *Engine) Fallback(record *model.MerchantRecord, inboundText string, now time.Time) (*Result, error) {
	rec := record.Clone()
	if rec != nil {
		if err := rec.AppendHistory(inboundText, model.DirectionIncoming, now.UTC()); err != nil {
			return nil, err
		}
	}
	res := &Result{OutboundText: augmenterFallbackMessage, UpdatedRecord: rec, Command: CommandNone}
	if err := e.Finalize(res, now); err != nil {
		return nil, err
	}
	return res, nil
}

// activate handles the first message from a phone number with no record.
func (e *Engine) activate(log *zap.Logger, inboundText string, now time.Time) (*Result, error) {
	if !e.passesActivationGate(inboundText) {
		if e.cfg.UnknownSenderPolicy == PolicyDrop {
			log.Debug("Dropping message from unknown sender")
			return &Result{OutboundText: "", UpdatedRecord: nil, Command: CommandNone}, nil
		}
		return &Result{OutboundText: notUnderstoodMessage, UpdatedRecord: nil, Command: CommandNone}, nil
	}

	rec := &model.MerchantRecord{
		RecordID:       e.newID(),
		OnboardingStep: model.StepWelcome,
		Status:         model.StatusActivated,
		BusinessName:   "Unknown",
		CreatedAt:      now.UTC(),
	}
	if err := rec.AppendHistory(inboundText, model.DirectionIncoming, now.UTC()); err != nil {
		return nil, err
	}

	log.Info("Activated new merchant record", zap.String("record_id", rec.RecordID))

	return &Result{
		OutboundText:  welcomeMessage,
		UpdatedRecord: rec,
		Command:       CommandNone,
		Transition:    &Transition{FromStep: "", ToStep: model.StepWelcome, Trigger: model.TriggerActivation},
	}, nil
}

// passesActivationGate reports whether a first-contact message qualifies:
// case-insensitive containment of a configured keyword, or an exact
// case-insensitive match of the activation code.
func (e *Engine) passesActivationGate(inboundText string) bool {
	lowered := strings.ToLower(inboundText)
	for _, kw := range e.keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return e.code != "" && strings.ToUpper(strings.TrimSpace(inboundText)) == e.code
}

// handleCommand processes the four global commands. Returns ok=false when
// the text is not a command.
func (e *Engine) handleCommand(normalized string, rec *model.MerchantRecord, now time.Time) (*Result, bool) {
	switch normalized {
	case "help":
		return &Result{OutboundText: helpMessage, UpdatedRecord: rec, Command: CommandNone}, true
	case "support":
		rec.Status = model.StatusSupportRequested
		return &Result{
			OutboundText:     supportMessage(rec.RecordID),
			UpdatedRecord:    rec,
			Command:          CommandNone,
			SupportRequested: true,
		}, true
	case "status":
		return &Result{OutboundText: statusMessage(rec), UpdatedRecord: rec, Command: CommandNone}, true
	case "restart":
		return &Result{
			OutboundText:  restartMessage,
			UpdatedRecord: rec,
			Command:       CommandDeleteRecord,
			Transition:    &Transition{FromStep: rec.OnboardingStep, ToStep: "", Trigger: model.TriggerRestart},
		}, true
	}
	return nil, false
}

// advance applies the step transition table to a non-command message.
func (e *Engine) advance(log *zap.Logger, rec *model.MerchantRecord, raw, normalized string, now time.Time) *Result {
	res := &Result{UpdatedRecord: rec, Command: CommandNone}

	switch rec.OnboardingStep {
	case model.StepWelcome:
		if day, month, year, matched := matchDateInput(raw); matched {
			e.acceptGoLiveDate(log, res, rec, day, month, year, now)
			return res
		}

	case model.StepContinue:
		if normalized == "continue" {
			e.transition(res, rec, model.StepDelivery, model.TriggerStepInput)
			rec.Status = model.StatusOnboarding
			res.OutboundText = deliveryPromptMessage
			return res
		}

	case model.StepDelivery:
		// Raw length, untrimmed: short replies are not addresses.
		if len(raw) > 10 {
			rec.DeliveryAddress = raw
			e.transition(res, rec, model.StepHardware, model.TriggerStepInput)
			res.OutboundText = hardwarePromptMessage
			return res
		}

	case model.StepHardware:
		if normalized == "1" || normalized == "2" {
			if normalized == "1" {
				rec.HardwareChoice = model.HardwareSelf
			} else {
				rec.HardwareChoice = model.HardwareProfessional
			}
			e.transition(res, rec, model.StepProducts, model.TriggerStepInput)
			res.OutboundText = productsPromptMessage
			return res
		}

	case model.StepProducts:
		if len(raw) > 5 {
			rec.ProductList = raw
			e.transition(res, rec, model.StepTraining, model.TriggerStepInput)
			res.OutboundText = trainingPromptMessage
			return res
		}

	case model.StepTraining:
		if len(raw) > 5 {
			rec.TrainingInfo = raw
			e.transition(res, rec, model.StepConfirmation, model.TriggerStepInput)
			res.OutboundText = confirmationPromptMessage
			return res
		}

	case model.StepConfirmation:
		if normalized == "confirm" {
			rec.Status = model.StatusCompleted
			e.transition(res, rec, model.StepCompleted, model.TriggerStepInput)
			res.OutboundText = completionMessage(rec)
			return res
		}
		if normalized == "changes" {
			e.transition(res, rec, model.StepDelivery, model.TriggerRollback)
			res.OutboundText = changesMessage
			return res
		}
	}

	// Anything not matched by the table leaves the state untouched.
	res.OutboundText = fallbackMessage
	return res
}

// acceptGoLiveDate runs the SLA check at the welcome step. The SLA snapshot
// is frozen here and never recomputed.
func (e *Engine) acceptGoLiveDate(log *zap.Logger, res *Result, rec *model.MerchantRecord, day, month, year int, now time.Time) {
	goLive, ok := validCalendarDate(day, month, year)
	if !ok {
		res.OutboundText = invalidDateMessage
		return
	}

	days := DaysUntilGoLive(goLive, now)
	met := days >= e.cfg.SLAThresholdDays

	rec.GoLiveDate = &goLive
	rec.DaysUntilGoLive = &days
	if met {
		rec.SLAStatus = model.SLAWithin
		e.transition(res, rec, model.StepContinue, model.TriggerSLACheck)
		res.OutboundText = slaMetMessage(goLive, days)
	} else {
		rec.SLAStatus = model.SLAAtRisk
		rec.Status = model.StatusEscalated
		e.transition(res, rec, model.StepEscalated, model.TriggerSLACheck)
		res.OutboundText = slaMissedMessage(goLive, days)
		log.Info("Go-live date escalated",
			zap.String("record_id", rec.RecordID),
			zap.Int("days_until_go_live", days),
			zap.Int("sla_threshold_days", e.cfg.SLAThresholdDays),
		)
	}
}

func (e *Engine) transition(res *Result, rec *model.MerchantRecord, to, trigger string) {
	res.Transition = &Transition{FromStep: rec.OnboardingStep, ToStep: to, Trigger: trigger}
	rec.OnboardingStep = to
}

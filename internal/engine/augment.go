package engine

import (
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// Augmentation is the contract an augmenter fulfills: replacement text plus
// optional overrides. Field names on the wire follow the augmenter sidecar's
// JSON convention.
type Augmentation struct {
	Message       string            `json:"message"`
	StepUpdate    string            `json:"stepUpdate,omitempty"`
	DataExtracted map[string]string `json:"dataExtracted,omitempty"`
	NextAction    string            `json:"nextAction,omitempty"`
}

// augmentableFields maps dataExtracted keys to record setters. Identifier,
// step, status, and SLA fields are deliberately absent: the augmenter may
// only touch the free-text collection fields.
var augmentableFields = map[string]func(*model.MerchantRecord, string) error{
	"businessName": func(r *model.MerchantRecord, v string) error {
		r.BusinessName = v
		return nil
	},
	"deliveryAddress": func(r *model.MerchantRecord, v string) error {
		r.DeliveryAddress = v
		return nil
	},
	"hardwareChoice": func(r *model.MerchantRecord, v string) error {
		if v != model.HardwareSelf && v != model.HardwareProfessional {
			return fmt.Errorf("invalid hardware choice %q", v)
		}
		r.HardwareChoice = v
		return nil
	},
	"productList": func(r *model.MerchantRecord, v string) error {
		r.ProductList = v
		return nil
	},
	"trainingInfo": func(r *model.MerchantRecord, v string) error {
		r.TrainingInfo = v
		return nil
	},
}

// ApplyAugmentation validates an augmentation and merges it into the
// deterministic plan, in place, before Finalize runs. Any validation
// failure returns an error and leaves the plan for the caller to discard;
// the engine stays the sole authority over terminal and escalation
// transitions.
func (e *Engine) ApplyAugmentation(res *Result, aug *Augmentation, now time.Time) error {
	if aug == nil {
		return fmt.Errorf("nil augmentation")
	}
	if res.UpdatedRecord == nil {
		return fmt.Errorf("augmentation requires a merchant record")
	}
	if aug.Message == "" && aug.StepUpdate == "" && len(aug.DataExtracted) == 0 && aug.NextAction == "" {
		return fmt.Errorf("empty augmentation")
	}

	rec := res.UpdatedRecord

	if aug.StepUpdate != "" {
		if !model.IsKnownStep(aug.StepUpdate) {
			return fmt.Errorf("unknown step override %q", aug.StepUpdate)
		}
		if model.IsTerminalStep(aug.StepUpdate) {
			return fmt.Errorf("step override %q is reserved for the engine", aug.StepUpdate)
		}
		if model.IsTerminalStep(rec.OnboardingStep) {
			return fmt.Errorf("cannot override terminal step %q", rec.OnboardingStep)
		}
		if aug.StepUpdate != rec.OnboardingStep {
			from := rec.OnboardingStep
			rec.OnboardingStep = aug.StepUpdate
			res.Transition = &Transition{FromStep: from, ToStep: aug.StepUpdate, Trigger: model.TriggerAugmenter}
		}
	}

	for key, value := range aug.DataExtracted {
		set, ok := augmentableFields[key]
		if !ok {
			return fmt.Errorf("unexpected extracted field %q", key)
		}
		if err := set(rec, value); err != nil {
			return err
		}
	}

	if aug.Message != "" {
		res.OutboundText = aug.Message
	}

	if aug.NextAction != "" {
		if err := e.applyNextAction(res, aug, now); err != nil {
			return err
		}
	}

	return nil
}

// applyNextAction re-triggers a global command after text substitution. The
// augmented message wins when present; otherwise the command's canonical
// text is used.
func (e *Engine) applyNextAction(res *Result, aug *Augmentation, now time.Time) error {
	cmdRes, ok := e.handleCommand(aug.NextAction, res.UpdatedRecord, now)
	if !ok {
		return fmt.Errorf("unknown next action %q", aug.NextAction)
	}
	res.Command = cmdRes.Command
	res.SupportRequested = cmdRes.SupportRequested
	if cmdRes.Transition != nil {
		res.Transition = cmdRes.Transition
	}
	if aug.Message == "" {
		res.OutboundText = cmdRes.OutboundText
	}
	return nil
}

package augmenter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/engine"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
)

// Augmenter may replace the engine's default reply text and propose step or
// field overrides. Implementations must treat errors as recoverable: the
// caller falls back to the deterministic plan's fixed apology text.
type Augmenter interface {
	Augment(ctx context.Context, record *model.MerchantRecord, inboundText string, plan *engine.Result) (*engine.Augmentation, error)
}

// request is the JSON body sent to the augmenter sidecar. The deterministic
// plan is included so the model can stay consistent with the scripted flow.
type request struct {
	PhoneNumber    string                    `json:"phoneNumber"`
	InboundText    string                    `json:"inboundText"`
	OnboardingStep string                    `json:"onboardingStep"`
	Status         string                    `json:"status"`
	PlannedReply   string                    `json:"plannedReply"`
	PlannedStep    string                    `json:"plannedStep"`
	History        []model.ConversationEntry `json:"history,omitempty"`
}

// historyWindow limits how much conversation context is sent upstream.
const historyWindow = 10

// HTTPAugmenter calls an external LLM sidecar over HTTP. Any transport
// problem, non-200 status, or undecodable body is returned as an error.
type HTTPAugmenter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAugmenter creates an augmenter client with the given endpoint and
// request timeout.
func NewHTTPAugmenter(endpoint string, timeout time.Duration) *HTTPAugmenter {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPAugmenter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Augment posts the conversation context and decodes the augmentation.
func (a *HTTPAugmenter) Augment(ctx context.Context, record *model.MerchantRecord, inboundText string, plan *engine.Result) (*engine.Augmentation, error) {
	log := logger.FromContext(ctx).Named("augmenter")

	req := request{
		InboundText:  inboundText,
		PlannedReply: plan.OutboundText,
	}
	if record != nil {
		req.PhoneNumber = record.PhoneNumber
		req.OnboardingStep = record.OnboardingStep
		req.Status = record.Status
		history, err := record.History()
		if err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		req.History = history
	}
	if plan.UpdatedRecord != nil {
		req.PlannedStep = plan.UpdatedRecord.OnboardingStep
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal augmenter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build augmenter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("augmenter call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("augmenter returned status %d", resp.StatusCode)
	}

	var aug engine.Augmentation
	if err := json.NewDecoder(resp.Body).Decode(&aug); err != nil {
		return nil, fmt.Errorf("failed to decode augmenter response: %w", err)
	}

	log.Debug("Augmenter responded",
		zap.Bool("has_step_update", aug.StepUpdate != ""),
		zap.Int("extracted_fields", len(aug.DataExtracted)),
		zap.String("next_action", aug.NextAction),
	)

	return &aug, nil
}

package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Onboarding step constants. Steps only move forward along the scripted
// path, jump to StepEscalated on an SLA miss, or roll back from
// confirmation to delivery when the merchant asks for changes.
const (
	StepTriggered    = "triggered"
	StepWelcome      = "welcome"
	StepContinue     = "continue"
	StepDelivery     = "delivery"
	StepHardware     = "hardware"
	StepProducts     = "products"
	StepTraining     = "training"
	StepConfirmation = "confirmation"
	StepCompleted    = "completed"
	StepEscalated    = "escalated"
)

// Merchant status constants. Status flags exceptional or terminal
// conditions and is tracked independently of the dialogue step.
const (
	StatusNotStarted       = "not_started"
	StatusActivated        = "activated"
	StatusOnboarding       = "onboarding"
	StatusSupportRequested = "support_requested"
	StatusEscalated        = "escalated"
	StatusCompleted        = "completed"
	StatusAcquiring        = "acquiring"
	StatusFailed           = "failed"
)

// SLA status constants, frozen at the moment the go-live date is accepted.
const (
	SLAWithin    = "within_sla"
	SLAAtRisk    = "at_risk"
	SLAEscalated = "escalated"
)

// Hardware installation choices.
const (
	HardwareSelf         = "self"
	HardwareProfessional = "professional"
)

// Message directions for conversation history entries.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

var knownSteps = map[string]struct{}{
	StepTriggered:    {},
	StepWelcome:      {},
	StepContinue:     {},
	StepDelivery:     {},
	StepHardware:     {},
	StepProducts:     {},
	StepTraining:     {},
	StepConfirmation: {},
	StepCompleted:    {},
	StepEscalated:    {},
}

// IsKnownStep reports whether s is one of the defined onboarding steps.
func IsKnownStep(s string) bool {
	_, ok := knownSteps[s]
	return ok
}

// IsTerminalStep reports whether s is a step the dialogue engine alone may
// enter or leave. Augmenter overrides into or out of these are rejected.
func IsTerminalStep(s string) bool {
	return s == StepCompleted || s == StepEscalated
}

// ConversationEntry is a single message in a merchant's conversation
// history. History is append-only; entries are never edited or trimmed.
type ConversationEntry struct {
	Message   string    `json:"message"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// MerchantRecord is the single persistent entity: one row per phone number
// per company. The dialogue engine mutates a copy and the storage layer
// persists it; conversation history is stored as a JSONB array.
type MerchantRecord struct {
	ID                  int64          `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	RecordID            string         `json:"id" gorm:"column:record_id;index" validate:"required"`
	PhoneNumber         string         `json:"phone_number" gorm:"column:phone_number;uniqueIndex" validate:"required"`
	CompanyID           string         `json:"company_id" gorm:"column:company_id"` // CompanyID is implicitly the tenant ID
	BusinessName        string         `json:"business_name,omitempty" gorm:"column:business_name"`
	OnboardingStep      string         `json:"onboarding_step" gorm:"column:onboarding_step;index"`
	Status              string         `json:"status" gorm:"column:status;index"`
	GoLiveDate          *time.Time     `json:"go_live_date,omitempty" gorm:"column:go_live_date;type:date"`
	SLAStatus           string         `json:"sla_status,omitempty" gorm:"column:sla_status"`
	DaysUntilGoLive     *int           `json:"days_until_go_live,omitempty" gorm:"column:days_until_go_live"`
	DeliveryAddress     string         `json:"delivery_address,omitempty" gorm:"column:delivery_address"`
	HardwareChoice      string         `json:"hardware_choice,omitempty" gorm:"column:hardware_choice"`
	ProductList         string         `json:"product_list,omitempty" gorm:"column:product_list"`
	TrainingInfo        string         `json:"training_info,omitempty" gorm:"column:training_info"`
	ConversationHistory datatypes.JSON `json:"conversation_history,omitempty" gorm:"type:jsonb;column:conversation_history"`
	CreatedAt           time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	LastMetadata        datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (MerchantRecord) TableName(namer schema.Namer) string {
	return namer.TableName("merchant_records")
}

// History decodes the conversation history. A nil or empty column decodes
// to an empty slice.
func (m *MerchantRecord) History() ([]ConversationEntry, error) {
	if len(m.ConversationHistory) == 0 {
		return []ConversationEntry{}, nil
	}
	var entries []ConversationEntry
	if err := json.Unmarshal(m.ConversationHistory, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendHistory appends one entry to the conversation history, preserving
// order. Timestamps are stored as given; callers pass UTC.
func (m *MerchantRecord) AppendHistory(message, direction string, ts time.Time) error {
	entries, err := m.History()
	if err != nil {
		return err
	}
	entries = append(entries, ConversationEntry{Message: message, Direction: direction, Timestamp: ts})
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	m.ConversationHistory = datatypes.JSON(raw)
	return nil
}

// Clone returns a deep copy of the record. The engine mutates a clone so a
// failed processing attempt leaves the caller's record untouched.
func (m *MerchantRecord) Clone() *MerchantRecord {
	if m == nil {
		return nil
	}
	clone := *m
	if m.ConversationHistory != nil {
		clone.ConversationHistory = append(datatypes.JSON(nil), m.ConversationHistory...)
	}
	if m.LastMetadata != nil {
		clone.LastMetadata = append(datatypes.JSON(nil), m.LastMetadata...)
	}
	if m.GoLiveDate != nil {
		d := *m.GoLiveDate
		clone.GoLiveDate = &d
	}
	if m.DaysUntilGoLive != nil {
		n := *m.DaysUntilGoLive
		clone.DaysUntilGoLive = &n
	}
	return &clone
}

// GetUpdatableFields returns the column names that may be updated during an
// ON CONFLICT clause. Excludes the primary key, the immutable identifiers,
// and the creation timestamp.
func (m *MerchantRecord) GetUpdatableFields() []string {
	return []string{
		"business_name", "onboarding_step", "status", "go_live_date",
		"sla_status", "days_until_go_live", "delivery_address",
		"hardware_choice", "product_list", "training_info",
		"conversation_history", "updated_at", "last_metadata",
	}
}

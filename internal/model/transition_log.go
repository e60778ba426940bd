package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Transition trigger kinds recorded in the transition log.
const (
	TriggerActivation  = "activation"
	TriggerStepInput   = "step_input"
	TriggerSLACheck    = "sla_check"
	TriggerRollback    = "rollback"
	TriggerRestart     = "restart"
	TriggerAugmenter   = "augmenter"
	TriggerAcquisition = "acquisition"
)

// TransitionLog records one dialogue step transition for audit and
// reporting. Rows are append-only.
type TransitionLog struct {
	// ID is the internal database primary key.
	ID int64 `json:"-" gorm:"primaryKey;autoIncrement"`
	// RecordID ties the transition to the merchant record that moved.
	RecordID string `json:"record_id" gorm:"column:record_id;index" validate:"required"`
	// PhoneNumber is the merchant's phone number at transition time.
	PhoneNumber string `json:"phone_number" gorm:"column:phone_number;index" validate:"required"`
	// CompanyID identifies the company/tenant this log entry belongs to.
	CompanyID string `json:"company_id" gorm:"column:company_id"` // CompanyID is implicitly the tenant ID
	// FromStep and ToStep bracket the transition.
	FromStep string `json:"from_step" gorm:"column:from_step"`
	ToStep   string `json:"to_step" gorm:"column:to_step" validate:"required"`
	// Trigger names what caused the transition (activation, step_input, ...).
	Trigger string `json:"trigger" gorm:"column:trigger"`
	// Timestamp is the Unix timestamp of the inbound message that caused it.
	Timestamp int64 `json:"timestamp" gorm:"column:timestamp" validate:"required,gte=0"`
	// CreatedAt is the timestamp when the log record was created.
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	LastMetadata datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (TransitionLog) TableName(namer schema.Namer) string {
	return namer.TableName("onboarding_transitions")
}

package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Support ticket statuses.
const (
	TicketOpen     = "open"
	TicketResolved = "resolved"
)

// SupportTicket is created when a merchant sends the support command. The
// reference ID is surfaced back to the merchant so an agent can find the
// conversation.
type SupportTicket struct {
	ID          int64  `json:"-" gorm:"primaryKey;autoIncrement"`
	ReferenceID string `json:"reference_id" gorm:"column:reference_id;uniqueIndex" validate:"required"`
	RecordID    string `json:"record_id" gorm:"column:record_id;index" validate:"required"`
	PhoneNumber string `json:"phone_number" gorm:"column:phone_number;index" validate:"required"`
	CompanyID   string `json:"company_id" gorm:"column:company_id"` // CompanyID is implicitly the tenant ID
	// Step and Status snapshot the record at the time support was requested.
	Step       string     `json:"step" gorm:"column:step"`
	Status     string     `json:"status" gorm:"column:status"`
	TicketStat string     `json:"ticket_status" gorm:"column:ticket_status;default:open"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" gorm:"column:resolved_at"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (SupportTicket) TableName(namer schema.Namer) string {
	return namer.TableName("support_tickets")
}

package model

import (
	"encoding/json"
	"time"
)

// --- Inbound message NATS payload --- //
// InboundMessagePayload is one WhatsApp message received from a merchant,
// published by the transport adapters.
type InboundMessagePayload struct {
	MessageID   string `json:"message_id,omitempty" validate:"required"`
	PhoneNumber string `json:"phone_number,omitempty" validate:"required"`
	CompanyID   string `json:"company_id,omitempty" validate:"required"`
	Text        string `json:"text"`
	// Timestamp is the Unix timestamp at which the transport received the message.
	Timestamp int64 `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
}

// --- Outbound message NATS payload --- //
// OutboundMessagePayload is a reply the engine produced, published for the
// transport adapters to deliver.
type OutboundMessagePayload struct {
	MessageID   string `json:"message_id,omitempty" validate:"required"`
	PhoneNumber string `json:"phone_number,omitempty" validate:"required"`
	CompanyID   string `json:"company_id,omitempty" validate:"required"`
	Text        string `json:"text,omitempty" validate:"required"`
	// InReplyTo is the message_id of the inbound message that produced this reply.
	InReplyTo string `json:"in_reply_to,omitempty" validate:"omitempty"`
	Timestamp int64  `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
}

// --- Acquisition NATS payload --- //
// AcquisitionPayload asks the service to open an outreach conversation
// with a prospect that has not messaged us yet.
type AcquisitionPayload struct {
	PhoneNumber  string `json:"phone_number,omitempty" validate:"required"`
	CompanyID    string `json:"company_id,omitempty" validate:"required"`
	BusinessName string `json:"business_name,omitempty" validate:"omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
}

// --- DLQ Payload --- //
// DLQPayload represents the structure of messages sent to the Dead Letter Queue.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`          // The original subject the message was published to
	Company         string          `json:"company"`                 // The company ID associated with the message
	OriginalPayload json.RawMessage `json:"original_payload"`        // The raw JSON payload of the original message
	Error           string          `json:"error"`                   // The full error message encountered during processing
	ErrorType       string          `json:"error_type"`              // Type of error ('fatal', 'retryable', 'unknown')
	RetryCount      uint64          `json:"retry_count"`             // How many times delivery was attempted (NumDelivered from NATS metadata)
	MaxRetry        int             `json:"max_retry"`               // The configured maximum delivery attempts for the consumer
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"` // Timestamp for the next scheduled retry attempt (set by DLQ worker)
	Timestamp       time.Time       `json:"ts"`                      // Timestamp when the message was sent to the DLQ
}

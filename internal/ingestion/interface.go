package ingestion

import (
	"context"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// RouterInterface is the routing surface consumed by the processor and
// the DLQ worker.
type RouterInterface interface {
	Register(eventType model.EventType, handler EventHandler)
	RegisterDefault(handler EventHandler)
	Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error
}

// ConsumerInterface is the lifecycle of a NATS consumer.
type ConsumerInterface interface {
	Setup() error
	Start() error
	Stop()
}

var (
	_ RouterInterface   = (*Router)(nil)
	_ ConsumerInterface = (*InboundConsumer)(nil)
)

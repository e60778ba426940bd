package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/config"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/tenant"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"

	"github.com/nats-io/nats.go"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
	"go.uber.org/zap"
)

// AckNakAction is the disposition of a consumed message.
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // processed, ACK
	ActionNak                          // terminal failure, NAK immediately
	ActionNakDelay                     // retryable failure, NAK with backoff
	ActionDLQ                          // exhausted or fatal, publish to DLQ then ACK
)

// baseConsumer carries the tenant-scoped context and the ack decision
// parameters shared by every consumer in this package.
type baseConsumer struct {
	client       jetstream.ClientInterface
	router       *Router
	companyID    string
	consumerType string
	ctx          context.Context
	cancel       context.CancelFunc
	maxDeliver   int
	dlqSubject   string
	nakBaseDelay time.Duration
	nakMaxDelay  time.Duration
}

func newBaseConsumer(client jetstream.ClientInterface, router *Router, companyID, consumerType string, maxDeliver int, dlqSubject string, nakBaseDelay, nakMaxDelay time.Duration) *baseConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("company_id", companyID)))
	ctx = tenant.WithCompanyID(ctx, companyID)

	return &baseConsumer{
		client:       client,
		router:       router,
		companyID:    companyID,
		consumerType: consumerType,
		ctx:          ctx,
		cancel:       cancel,
		maxDeliver:   maxDeliver,
		dlqSubject:   dlqSubject,
		nakBaseDelay: nakBaseDelay,
		nakMaxDelay:  nakMaxDelay,
	}
}

// modifySubjects expands base subjects into the stream's wildcard form and
// the consumer's tenant-scoped form.
func modifySubjects(subjects []string, companyID string) (streamSubjects, consumerSubjects []string) {
	for _, subject := range subjects {
		streamSubjects = append(streamSubjects, subject+".*")
		consumerSubjects = append(consumerSubjects, fmt.Sprintf("%s.%s", subject, companyID))
	}
	return streamSubjects, consumerSubjects
}

// determineAckNakAction maps a processing result onto a message disposition.
// Retryable errors back off exponentially; fatal errors and exhausted
// deliveries go to the DLQ.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	if metadata.NumDelivered >= uint64(maxDeliver) || !apperrors.IsRetryable(processingErr) {
		return ActionDLQ, 0
	}

	attempt := metadata.NumDelivered
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// messageID prefers the Nats-Msg-Id header and falls back to the stream
// sequence.
func messageID(msg *nats.Msg, streamSeq uint64) string {
	if msg.Header != nil {
		if id := msg.Header.Get("Nats-Msg-Id"); id != "" {
			return id
		}
	}
	return fmt.Sprintf("msg-%d", streamSeq)
}

// handleMessage routes one message and applies the resulting disposition.
func (bc *baseConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()

	defer func() {
		finalEventType, _ := model.MapToBaseEventType(msg.Subject)
		observer.ObserveEventProcessingDuration(string(finalEventType), bc.companyID, bc.consumerType, time.Since(startTime))

		if r := recover(); r != nil {
			log := logger.FromContext(bc.ctx)
			log.Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Duration("duration", time.Since(startTime)),
				zap.String("consumerType", bc.consumerType),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(string(finalEventType), bc.companyID, bc.consumerType)
			observer.IncEventProcessingAction(string(finalEventType), bc.companyID, bc.consumerType, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	log := logger.FromContext(bc.ctx)

	eventType, found := model.MapToBaseEventType(msg.Subject)
	if !found {
		log.Warn("Unknown event type", zap.String("subject", msg.Subject))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message for unknown event type", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(string(eventType), bc.companyID, bc.consumerType, "nak_unknown_type", "unknown_event_type")
		return
	}

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err), zap.Duration("duration", time.Since(startTime)))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(string(eventType), bc.companyID, bc.consumerType, "nak_metadata_error", "metadata")
		return
	}

	msgID := messageID(msg, metadata.Sequence.Stream)
	internalMetadata := &model.MessageMetadata{
		StreamSequence:   metadata.Sequence.Stream,
		ConsumerSequence: metadata.Sequence.Consumer,
		NumDelivered:     metadata.NumDelivered,
		NumPending:       metadata.NumPending,
		Timestamp:        metadata.Timestamp,
		Stream:           metadata.Stream,
		Consumer:         metadata.Consumer,
		Domain:           metadata.Domain,
		MessageID:        msgID,
		MessageSubject:   msg.Subject,
		CompanyID:        bc.companyID,
	}

	observer.IncEventsReceived(string(eventType), bc.companyID, bc.consumerType)

	msgCtx := logger.WithLogger(bc.ctx, log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", internalMetadata.StreamSequence),
		zap.Uint64("consumer_sequence", internalMetadata.ConsumerSequence),
		zap.String("subject", msg.Subject),
		zap.String("stream", internalMetadata.Stream),
		zap.String("consumer", internalMetadata.Consumer),
		zap.String("consumerType", bc.consumerType),
	))

	routingStartTime := utils.Now()
	processingErr := bc.router.Route(msgCtx, internalMetadata, msg.Data)
	observer.ObserveEventRoutingDuration(string(eventType), bc.companyID, bc.consumerType, time.Since(routingStartTime))

	scopedLog := logger.FromContext(msgCtx)
	action, nakDelay := determineAckNakAction(processingErr, metadata, bc.maxDeliver, bc.nakBaseDelay, bc.nakMaxDelay)

	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		scopedLog.Info("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(string(eventType), bc.companyID, bc.consumerType)
		observer.IncEventProcessingAction(string(eventType), bc.companyID, bc.consumerType, "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			scopedLog.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNak:
		scopedLog.Error("NAKing message immediately", zap.Error(processingErr), zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsFailed(string(eventType), bc.companyID, bc.consumerType)
		observer.IncEventProcessingAction(string(eventType), bc.companyID, bc.consumerType, "nak_terminal", errorType)
		if nakErr := msg.Nak(); nakErr != nil {
			scopedLog.Error("Failed to NAK message", zap.Error(nakErr))
		}

	case ActionNakDelay:
		scopedLog.Info("NAKing message with delay for redelivery",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", bc.maxDeliver),
			zap.Duration("nak_delay", nakDelay),
			zap.Duration("duration", time.Since(startTime)),
		)
		observer.IncEventsFailed(string(eventType), bc.companyID, bc.consumerType)
		observer.IncEventProcessingAction(string(eventType), bc.companyID, bc.consumerType, "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			scopedLog.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionDLQ:
		bc.sendToDLQ(scopedLog, msg, metadata, eventType, msgID, processingErr, errorType, startTime)
	}
}

// sendToDLQ wraps the failed event in a DLQPayload and publishes it to the
// tenant's dead letter subject. The original message is ACKed only after a
// successful publish; otherwise it is NAKed for another attempt.
func (bc *baseConsumer) sendToDLQ(log *zap.Logger, msg *nats.Msg, metadata *nats.MsgMetadata, eventType model.EventType, msgID string, processingErr error, errorType string, startTime time.Time) {
	isRetryable := apperrors.IsRetryable(processingErr)
	reason := "max delivery attempts reached"
	if !isRetryable {
		reason = "fatal error encountered"
	}
	log.Warn("Sending message to DLQ: "+reason,
		zap.Error(processingErr),
		zap.Uint64("num_delivered", metadata.NumDelivered),
		zap.Int("max_deliver", bc.maxDeliver),
		zap.Bool("is_retryable", isRetryable),
		zap.Duration("duration", time.Since(startTime)),
	)
	observer.IncEventsFailed(string(eventType), bc.companyID, bc.consumerType)

	errorClass := "fatal"
	if isRetryable {
		errorClass = "retryable"
	} else if !apperrors.IsFatal(processingErr) {
		log.Warn("Error reaching DLQ is neither Fatal nor Retryable, classifying as fatal", zap.Error(processingErr))
	}

	dlqPayload := model.DLQPayload{
		SourceSubject:   msg.Subject,
		Company:         bc.companyID,
		OriginalPayload: json.RawMessage(msg.Data),
		Error:           processingErr.Error(),
		ErrorType:       errorClass,
		RetryCount:      metadata.NumDelivered,
		MaxRetry:        bc.maxDeliver,
		Timestamp:       time.Now().UTC(),
	}

	dlqFullSubject := fmt.Sprintf("%s.%s", bc.dlqSubject, bc.companyID)

	dlqData, marshalErr := json.Marshal(dlqPayload)
	if marshalErr != nil {
		log.Error("Failed to marshal DLQ payload, NAKing original message",
			zap.Error(marshalErr),
			zap.String("dlq_subject", dlqFullSubject),
		)
		observer.IncEventsFailed(string(eventType), bc.companyID, bc.consumerType)
		observer.IncEventProcessingAction(string(eventType), bc.companyID, bc.consumerType, "nak_dlq_marshal_fail", "dlq_marshal_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after DLQ marshal error", zap.Error(nakErr))
		}
		return
	}

	dlqHeaders := map[string]string{}
	if msgID != "" {
		dlqHeaders["Original-Nats-Msg-Id"] = msgID
	}

	if publishErr := bc.client.Publish(dlqFullSubject, dlqData, dlqHeaders); publishErr != nil {
		log.Error("Failed to publish message to DLQ, NAKing original message",
			zap.Error(publishErr),
			zap.String("dlq_subject", dlqFullSubject),
		)
		observer.IncEventsFailed(string(eventType), bc.companyID, bc.consumerType)
		observer.IncEventProcessingAction(string(eventType), bc.companyID, bc.consumerType, "nak_dlq_publish_fail", "dlq_publish_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after DLQ publish error", zap.Error(nakErr))
		}
		return
	}

	log.Info("Message published to DLQ", zap.String("dlq_subject", dlqFullSubject))
	observer.IncEventProcessingAction(string(eventType), bc.companyID, bc.consumerType, "dlq_published_ack_success", errorType)
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("Failed to ACK message after successful DLQ publish", zap.Error(ackErr))
	}
}

// InboundConsumer consumes merchant messages and acquisition triggers from
// the single inbound stream.
type InboundConsumer struct {
	base          *baseConsumer
	cfg           config.ConsumerNatsConfig
	sub           *nats.Subscription
	filterSubject string
	dlqSubject    string
}

func NewInboundConsumer(client jetstream.ClientInterface, router *Router, cfg config.ConsumerNatsConfig, companyID string, dlqSubject string) *InboundConsumer {
	base := newBaseConsumer(client, router, companyID, "inbound", cfg.MaxDeliver, dlqSubject, cfg.NakBaseDelay, cfg.NakMaxDelay)
	return &InboundConsumer{
		base:       base,
		cfg:        cfg,
		dlqSubject: dlqSubject,
	}
}

// Setup provisions the inbound stream and this tenant's durable consumer.
// The stream subscribes to wildcard subjects so one stream serves every
// tenant; the consumer filters down to this company's subjects.
func (c *InboundConsumer) Setup() error {
	log := logger.FromContext(c.base.ctx)
	log.Info("Setting up InboundConsumer", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	streamSubjects, consumerSubjects := modifySubjects(c.cfg.SubjectList, c.base.companyID)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}

	if err := c.base.client.SetupStream(c.base.ctx, streamCfg); err != nil {
		log.Error("Failed to setup inbound stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup inbound stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: consumerSubjects,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverLastPolicy,
	}
	c.filterSubject = "v1.>"

	if err := c.base.client.SetupConsumer(c.base.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup inbound consumer", zap.Error(err), zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup inbound consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("InboundConsumer setup complete")
	return nil
}

// Start binds the push queue subscription.
func (c *InboundConsumer) Start() error {
	log := logger.FromContext(c.base.ctx)
	log.Info("Starting InboundConsumer subscription", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	sub, err := c.base.client.SubscribePush(c.filterSubject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.base.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe inbound consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe inbound consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("InboundConsumer subscribed")
	return nil
}

// Stop drains the subscription and cancels the consumer context.
func (c *InboundConsumer) Stop() {
	log := logger.FromContext(c.base.ctx)
	log.Info("Stopping InboundConsumer", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining inbound subscription", zap.Error(err))
		}
	}
	if c.base.cancel != nil {
		c.base.cancel()
	}
	log.Info("InboundConsumer stopped")
}

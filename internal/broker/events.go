package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rewards-service/internal/models"
	"rewards-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func redemptionKey(id int64) string {
	return fmt.Sprintf("redemption-%d", id)
}

// PublishRedemptionCreated publishes RedemptionCreated event
func (ep *EventPublisher) PublishRedemptionCreated(ctx context.Context, event *models.RedemptionCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, redemptionKey(event.RequestID), event)
}

// PublishRedemptionProcessed publishes RedemptionProcessed event
func (ep *EventPublisher) PublishRedemptionProcessed(ctx context.Context, event *models.RedemptionProcessedEvent) error {
	return ep.producer.PublishEvent(ctx, redemptionKey(event.RequestID), event)
}

// PublishRedemptionCancelled publishes RedemptionCancelled event
func (ep *EventPublisher) PublishRedemptionCancelled(ctx context.Context, event *models.RedemptionCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, redemptionKey(event.RequestID), event)
}

// PublishRedemptionStatusChanged publishes RedemptionStatusChanged event
func (ep *EventPublisher) PublishRedemptionStatusChanged(ctx context.Context, event *models.RedemptionStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, redemptionKey(event.RequestID), event)
}

// PublishPointsAdjusted publishes PointsAdjusted event keyed by account
func (ep *EventPublisher) PublishPointsAdjusted(ctx context.Context, event *models.PointsAdjustedEvent) error {
	key := fmt.Sprintf("account-%s-%d", event.AccountType, event.AccountID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishBulkChunkCompleted publishes BulkChunkCompleted event keyed by job
func (ep *EventPublisher) PublishBulkChunkCompleted(ctx context.Context, event *models.BulkChunkCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, "bulkjob-"+event.JobID, event)
}

// SubmissionDispatcher sends accepted redemption submissions to the
// submissions topic for the worker to confirm
type SubmissionDispatcher struct {
	producer *Producer
}

// NewSubmissionDispatcher creates a dispatcher writing to producer's topic
func NewSubmissionDispatcher(producer *Producer) *SubmissionDispatcher {
	return &SubmissionDispatcher{producer: producer}
}

// Dispatch publishes the submission keyed by its ticket
func (d *SubmissionDispatcher) Dispatch(ctx context.Context, event *models.RedemptionSubmittedEvent) error {
	return d.producer.PublishEvent(ctx, "ticket-"+event.Ticket, event)
}

// LogPublisher satisfies the same publishing methods as EventPublisher by
// writing events to the log. Used when no Kafka brokers are configured.
type LogPublisher struct{}

func (LogPublisher) log(eventType string, fields ...zap.Field) error {
	util.GetLogger().Info("Domain event", append([]zap.Field{zap.String("event_type", eventType)}, fields...)...)
	return nil
}

func (p LogPublisher) PublishRedemptionCreated(ctx context.Context, event *models.RedemptionCreatedEvent) error {
	return p.log(event.EventType, zap.Int64("request_id", event.RequestID), zap.Int64("total_points", event.TotalPoints))
}

func (p LogPublisher) PublishRedemptionProcessed(ctx context.Context, event *models.RedemptionProcessedEvent) error {
	return p.log(event.EventType, zap.Int64("request_id", event.RequestID))
}

func (p LogPublisher) PublishRedemptionCancelled(ctx context.Context, event *models.RedemptionCancelledEvent) error {
	return p.log(event.EventType, zap.Int64("request_id", event.RequestID), zap.Int64("refunded_points", event.RefundedPoints))
}

func (p LogPublisher) PublishRedemptionStatusChanged(ctx context.Context, event *models.RedemptionStatusChangedEvent) error {
	return p.log(event.EventType, zap.Int64("request_id", event.RequestID), zap.String("to", event.To))
}

func (p LogPublisher) PublishPointsAdjusted(ctx context.Context, event *models.PointsAdjustedEvent) error {
	return p.log(event.EventType,
		zap.String("account_type", string(event.AccountType)),
		zap.Int64("account_id", event.AccountID),
		zap.Int64("delta", event.Delta))
}

func (p LogPublisher) PublishBulkChunkCompleted(ctx context.Context, event *models.BulkChunkCompletedEvent) error {
	return p.log(event.EventType, zap.String("job_id", event.JobID), zap.Int("chunk", event.Chunk))
}

// ErrMalformedMessage marks a message that no retry can handle
var ErrMalformedMessage = errors.New("malformed message")

// EventHandler handles incoming events
type EventHandler struct {
	onRedemptionSubmitted func(context.Context, *models.RedemptionSubmittedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnRedemptionSubmitted registers a handler for RedemptionSubmitted events
func (eh *EventHandler) OnRedemptionSubmitted(handler func(context.Context, *models.RedemptionSubmittedEvent) error) {
	eh.onRedemptionSubmitted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: failed to unmarshal base event: %v", ErrMalformedMessage, err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeRedemptionSubmitted:
		if eh.onRedemptionSubmitted != nil {
			var event models.RedemptionSubmittedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal RedemptionSubmitted event: %v", ErrMalformedMessage, err)
			}
			return eh.onRedemptionSubmitted(ctx, &event)
		}

	default:
		logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}

package service

import (
	"context"
	"time"

	"rewards-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher publishes domain events after their transaction commits.
// Implemented by broker.EventPublisher and broker.LogPublisher.
type EventPublisher interface {
	PublishRedemptionCreated(ctx context.Context, event *models.RedemptionCreatedEvent) error
	PublishRedemptionProcessed(ctx context.Context, event *models.RedemptionProcessedEvent) error
	PublishRedemptionCancelled(ctx context.Context, event *models.RedemptionCancelledEvent) error
	PublishRedemptionStatusChanged(ctx context.Context, event *models.RedemptionStatusChangedEvent) error
	PublishPointsAdjusted(ctx context.Context, event *models.PointsAdjustedEvent) error
	PublishBulkChunkCompleted(ctx context.Context, event *models.BulkChunkCompletedEvent) error
}

// JobStore persists bulk job progress and per-job run locks
type JobStore interface {
	SaveJob(ctx context.Context, job *models.BulkJob, ttl time.Duration) error
	LoadJob(ctx context.Context, id string) (*models.BulkJob, error)
	AdvanceJob(ctx context.Context, id string, expectedHighWater, success, failed int) (bool, error)
	AcquireJobLock(ctx context.Context, id string, ttl time.Duration) (string, bool, error)
	ReleaseJobLock(ctx context.Context, id, token string) error
}

// SubmissionStore persists outcomes of asynchronous submissions
type SubmissionStore interface {
	SaveSubmission(ctx context.Context, sub *models.Submission, ttl time.Duration) error
	LoadSubmission(ctx context.Context, ticket string) (*models.Submission, error)
}

// Dispatcher hands an accepted submission to whatever confirms it
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.RedemptionSubmittedEvent) error
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

package service

import (
	"context"
	"errors"
	"time"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"
	"rewards-service/internal/store"
	"rewards-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmissionService splits redemption submission into an immediate
// acceptance and an asynchronous confirmation
type SubmissionService struct {
	redemptions *RedemptionService
	subs        SubmissionStore
	dispatcher  Dispatcher
	ttl         time.Duration
	logger      *zap.Logger
}

// NewSubmissionService creates a new submission service
func NewSubmissionService(redemptions *RedemptionService, subs SubmissionStore, dispatcher Dispatcher, ttl time.Duration) *SubmissionService {
	return &SubmissionService{
		redemptions: redemptions,
		subs:        subs,
		dispatcher:  dispatcher,
		ttl:         ttl,
		logger:      util.GetLogger(),
	}
}

// Accept validates the request shape, stores it as ACCEPTED and hands it to
// the dispatcher. When idempotencyKey is set it becomes the ticket and a
// repeated call returns the stored submission.
func (s *SubmissionService) Accept(ctx context.Context, req *models.SubmittedRequest, idempotencyKey string) (*models.Submission, error) {
	ctx, span := util.StartSpan(ctx, "SubmissionService.Accept")
	defer span.End()

	if err := ValidateSubmission(req); err != nil {
		return nil, err
	}

	ticket := idempotencyKey
	if ticket != "" {
		existing, err := s.subs.LoadSubmission(ctx, ticket)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrSubmissionNotFound) {
			return nil, apperr.Network("failed to read submission", err)
		}
	} else {
		ticket = uuid.New().String()
	}

	sub := &models.Submission{
		Ticket:    ticket,
		State:     models.SubmissionAccepted,
		UpdatedAt: time.Now(),
	}
	if err := s.subs.SaveSubmission(ctx, sub, s.ttl); err != nil {
		return nil, apperr.Network("failed to store submission", err)
	}

	event := &models.RedemptionSubmittedEvent{
		BaseEvent: newBaseEvent(models.EventTypeRedemptionSubmitted),
		Ticket:    ticket,
		Request:   *req,
	}
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.fail(ctx, sub, apperr.KindNetwork, "submission could not be queued")
		return nil, apperr.Network("failed to queue submission", err)
	}

	util.SubmissionsTotal.WithLabelValues(models.SubmissionAccepted).Inc()
	s.logger.Info("Redemption submission accepted", zap.String("ticket", ticket))
	return sub, nil
}

// rejectionKinds are the outcomes a retry cannot change
var rejectionKinds = map[apperr.Kind]bool{
	apperr.KindValidation:          true,
	apperr.KindInsufficientBalance: true,
	apperr.KindStockUnavailable:    true,
	apperr.KindArchivedAccount:     true,
	apperr.KindNotFound:            true,
}

// Confirm runs the actual creation for an accepted submission. The ticket
// is the idempotency key, so a redelivered command returns the request
// created the first time. Business rejections are recorded as FAILED and
// are not returned as errors. Anything else is returned so the command is
// delivered again.
func (s *SubmissionService) Confirm(ctx context.Context, event *models.RedemptionSubmittedEvent) error {
	ctx, span := util.StartSpan(ctx, "SubmissionService.Confirm")
	defer span.End()

	sub := &models.Submission{Ticket: event.Ticket}

	created, err := s.redemptions.Create(ctx, &event.Request, "ticket:"+event.Ticket)
	if err != nil {
		kind := apperr.KindOf(err)
		if !rejectionKinds[kind] {
			s.logger.Warn("Redemption submission will be retried",
				zap.String("ticket", event.Ticket),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return err
		}
		msg := err.Error()
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			msg = appErr.Reason
			if appErr.Field != "" {
				msg = appErr.Field + ": " + msg
			}
		}
		s.fail(ctx, sub, kind, msg)
		return nil
	}

	sub.State = models.SubmissionConfirmed
	sub.RequestID = created.ID
	sub.UpdatedAt = time.Now()
	if err := s.subs.SaveSubmission(ctx, sub, s.ttl); err != nil {
		return apperr.Network("failed to store submission outcome", err)
	}

	util.SubmissionsTotal.WithLabelValues(models.SubmissionConfirmed).Inc()
	s.logger.Info("Redemption submission confirmed",
		zap.String("ticket", event.Ticket),
		zap.Int64("request_id", created.ID))
	return nil
}

func (s *SubmissionService) fail(ctx context.Context, sub *models.Submission, kind apperr.Kind, msg string) {
	sub.State = models.SubmissionFailed
	sub.ErrorKind = string(kind)
	sub.Message = msg
	sub.UpdatedAt = time.Now()

	util.SubmissionsTotal.WithLabelValues(models.SubmissionFailed).Inc()
	s.logger.Warn("Redemption submission failed",
		zap.String("ticket", sub.Ticket),
		zap.String("kind", sub.ErrorKind),
		zap.String("message", msg))

	if err := s.subs.SaveSubmission(ctx, sub, s.ttl); err != nil {
		s.logger.Error("Failed to store submission outcome", zap.String("ticket", sub.Ticket), zap.Error(err))
	}
}

// Outcome returns the current state of a submission
func (s *SubmissionService) Outcome(ctx context.Context, ticket string) (*models.Submission, error) {
	sub, err := s.subs.LoadSubmission(ctx, ticket)
	if err != nil {
		return nil, translate(err, "load submission")
	}
	return sub, nil
}

// Await polls until the submission leaves ACCEPTED or ctx is done
func (s *SubmissionService) Await(ctx context.Context, ticket string, interval time.Duration) (*models.Submission, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sub, err := s.Outcome(ctx, ticket)
		if err != nil {
			return nil, err
		}
		if sub.State != models.SubmissionAccepted {
			return sub, nil
		}

		select {
		case <-ctx.Done():
			return sub, ctx.Err()
		case <-ticker.C:
		}
	}
}

package worker

import (
	"context"
	"errors"
	"sync"

	"rewards-service/internal/broker"
	"rewards-service/internal/models"
	"rewards-service/internal/service"
	"rewards-service/internal/util"

	"go.uber.org/zap"
)

// SubmissionWorker confirms redemption submissions read from Kafka
type SubmissionWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewSubmissionWorker creates a new submission worker
func NewSubmissionWorker(consumer *broker.Consumer, submissions *service.SubmissionService) *SubmissionWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnRedemptionSubmitted(submissions.Confirm)

	return &SubmissionWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *SubmissionWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting submission worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SubmissionWorker) Stop() error {
	w.logger.Info("Stopping submission worker")
	return w.consumer.Close()
}

// LocalDispatcher confirms submissions on a goroutine in this process. Used
// when no Kafka brokers are configured.
type LocalDispatcher struct {
	mu      sync.RWMutex
	confirm func(context.Context, *models.RedemptionSubmittedEvent) error
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewLocalDispatcher creates a dispatcher with no confirmer bound yet
func NewLocalDispatcher() *LocalDispatcher {
	return &LocalDispatcher{logger: util.GetLogger()}
}

// Bind sets the function that confirms dispatched submissions
func (d *LocalDispatcher) Bind(confirm func(context.Context, *models.RedemptionSubmittedEvent) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confirm = confirm
}

// Dispatch starts confirmation in the background and returns immediately
func (d *LocalDispatcher) Dispatch(ctx context.Context, event *models.RedemptionSubmittedEvent) error {
	d.mu.RLock()
	confirm := d.confirm
	d.mu.RUnlock()

	if confirm == nil {
		return errors.New("local dispatcher has no confirmer bound")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := confirm(context.Background(), event); err != nil {
			d.logger.Error("Failed to confirm submission", zap.String("ticket", event.Ticket), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched confirmation has finished
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

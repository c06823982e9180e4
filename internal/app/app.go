package app

import (
	"context"
	"fmt"

	"rewards-service/config"
	"rewards-service/internal/api"
	"rewards-service/internal/broker"
	"rewards-service/internal/redisclient"
	"rewards-service/internal/service"
	"rewards-service/internal/store"
	"rewards-service/internal/util"
	"rewards-service/internal/worker"

	"go.uber.org/zap"
)

// jobBackend keeps bulk job progress and submission outcomes
type jobBackend interface {
	service.JobStore
	service.SubmissionStore
}

// App holds the wired dependency graph shared by the server and the CLI
type App struct {
	Services api.Services
	Store    *store.Store
	Worker   *worker.SubmissionWorker

	checks  map[string]func(context.Context) error
	closers []func() error
}

// Build connects to the configured backends and wires every service.
// With DATABASE_DRIVER=memory nothing external is contacted.
func Build(cfg *config.Config) (*App, error) {
	logger := util.GetLogger()
	a := &App{checks: make(map[string]func(context.Context) error)}

	var (
		repo       store.Repository
		jobs       jobBackend
		events     service.EventPublisher
		dispatcher service.Dispatcher
		local      *worker.LocalDispatcher
		consumer   *broker.Consumer
	)

	if cfg.UseMemory() {
		logger.Warn("Using in-memory storage; state is lost on exit")
		repo = store.NewMemory()
		jobs = store.NewMemoryJobs()
		events = broker.LogPublisher{}
		local = worker.NewLocalDispatcher()
		dispatcher = local
	} else {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.onClose(db.Close)
		a.checks["database"] = db.Ping
		a.Store = db
		repo = db
		logger.Info("Database connected")

		rdb, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.onClose(rdb.Close)
		a.checks["redis"] = rdb.Ping
		jobs = rdb
		logger.Info("Redis connected")

		eventProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRedemptions)
		a.onClose(eventProducer.Close)
		events = broker.NewEventPublisher(eventProducer)

		submissionProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSubmissions)
		a.onClose(submissionProducer.Close)
		dispatcher = broker.NewSubmissionDispatcher(submissionProducer)

		consumer = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSubmissions, cfg.Kafka.ConsumerGroup)
		logger.Info("Kafka initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	ledger := service.NewLedgerService(repo, events, cfg.Redemption.LedgerMaxRetries)
	redemptions := service.NewRedemptionService(repo, ledger, events)
	submissions := service.NewSubmissionService(redemptions, jobs, dispatcher, cfg.Redemption.SubmissionTTL)

	a.Services = api.Services{
		Accounts: service.NewAccountService(repo, cfg.Search.MinQueryLength, cfg.Search.Limit),
		Ledger:   ledger,
		Bulk: service.NewBulkService(repo, ledger, jobs, events, service.BulkConfig{
			ChunkSize:    cfg.Bulk.ChunkSize,
			Concurrency:  cfg.Bulk.Concurrency,
			PasswordHash: cfg.Bulk.ConfirmationPassHash,
			JobTTL:       cfg.Bulk.JobTTL,
		}),
		Redemptions: redemptions,
		Submissions: submissions,
	}

	if local != nil {
		local.Bind(submissions.Confirm)
		a.onClose(func() error {
			local.Wait()
			return nil
		})
	}
	if consumer != nil {
		a.Worker = worker.NewSubmissionWorker(consumer, submissions)
	}

	return a, nil
}

// Handler returns the HTTP handler with readiness checks registered
func (a *App) Handler() *api.Handler {
	h := api.NewHandler(a.Services)
	for name, check := range a.checks {
		h.AddReadinessCheck(name, check)
	}
	return h
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = fmt.Errorf("close: %w", err)
		}
	}
	a.closers = nil
	return first
}

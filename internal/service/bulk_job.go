package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"
	"rewards-service/internal/store"
	"rewards-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const (
	minChunkSize = 1
	maxChunkSize = 100
)

// BulkConfig tunes chunked balance adjustments
type BulkConfig struct {
	ChunkSize    int
	Concurrency  int
	PasswordHash string
	JobTTL       time.Duration
	LockTTL      time.Duration
}

// BulkService runs bulk point adjustments as resumable chunked jobs. Each
// chunk commits on its own; the job's high-water mark records how many
// chunks are done so a caller can stop and later continue.
type BulkService struct {
	repo   store.Repository
	ledger *LedgerService
	jobs   JobStore
	events EventPublisher
	cfg    BulkConfig
	logger *zap.Logger
}

// NewBulkService creates a new bulk adjustment service
func NewBulkService(repo store.Repository, ledger *LedgerService, jobs JobStore, events EventPublisher, cfg BulkConfig) *BulkService {
	if cfg.ChunkSize < minChunkSize {
		cfg.ChunkSize = 50
	}
	if cfg.ChunkSize > maxChunkSize {
		cfg.ChunkSize = maxChunkSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &BulkService{
		repo:   repo,
		ledger: ledger,
		jobs:   jobs,
		events: events,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// BulkProgress is the externally visible state of a bulk job
type BulkProgress struct {
	JobID        string             `json:"jobId"`
	AccountType  models.AccountType `json:"accountType"`
	Operation    string             `json:"operation"`
	CurrentChunk int                `json:"currentChunk"`
	TotalChunks  int                `json:"totalChunks"`
	SuccessCount int                `json:"successCount"`
	FailedCount  int                `json:"failedCount"`
	TotalRecords int                `json:"totalRecords"`
	Done         bool               `json:"done"`
}

// AccountResult is the outcome for one account of a chunk
type AccountResult struct {
	AccountID int64       `json:"accountId"`
	Success   bool        `json:"success"`
	Balance   int64       `json:"balance,omitempty"`
	ErrorKind apperr.Kind `json:"errorKind,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// ChunkResult is returned after running one chunk
type ChunkResult struct {
	Progress BulkProgress    `json:"progress"`
	Results  []AccountResult `json:"results"`
}

// BulkResult aggregates a whole job run by the pump
type BulkResult struct {
	JobID        string          `json:"jobId"`
	SuccessCount int             `json:"successCount"`
	FailedCount  int             `json:"failedCount"`
	Results      []AccountResult `json:"results"`
}

func progressOf(job *models.BulkJob) BulkProgress {
	return BulkProgress{
		JobID:        job.ID,
		AccountType:  job.AccountType,
		Operation:    job.Operation,
		CurrentChunk: job.HighWater,
		TotalChunks:  job.TotalChunks(),
		SuccessCount: job.SuccessCount,
		FailedCount:  job.FailedCount,
		TotalRecords: len(job.AccountIDs),
		Done:         job.Done(),
	}
}

// VerifyConfirmation checks the out-of-band confirmation password that gates
// every bulk operation
func (s *BulkService) VerifyConfirmation(password string) error {
	if s.cfg.PasswordHash == "" {
		return apperr.Authorization("bulk operations are disabled: no confirmation password configured")
	}
	if password == "" {
		return apperr.Authorization("confirmation password is required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)); err != nil {
		return apperr.Authorization("confirmation password is incorrect")
	}
	return nil
}

// StartBulkDelta snapshots every account of the type and creates a job that
// adds delta to each of them
func (s *BulkService) StartBulkDelta(ctx context.Context, accountType models.AccountType, delta int64, password, reason string) (*BulkProgress, error) {
	if !accountType.Valid() {
		return nil, apperr.Validation("accountType", "Unknown account type")
	}
	if delta == 0 {
		return nil, apperr.Validation("delta", "Delta must not be zero")
	}
	if err := s.VerifyConfirmation(password); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = fmt.Sprintf("bulk adjustment %+d", delta)
	}
	return s.start(ctx, &models.BulkJob{
		AccountType: accountType,
		Operation:   models.BulkOperationDelta,
		Delta:       delta,
		Reason:      reason,
	})
}

// StartReset creates a job that sets every account of the type to zero
func (s *BulkService) StartReset(ctx context.Context, accountType models.AccountType, password string) (*BulkProgress, error) {
	if !accountType.Valid() {
		return nil, apperr.Validation("accountType", "Unknown account type")
	}
	if err := s.VerifyConfirmation(password); err != nil {
		return nil, err
	}
	return s.start(ctx, &models.BulkJob{
		AccountType: accountType,
		Operation:   models.BulkOperationReset,
		Reason:      "bulk reset",
	})
}

func (s *BulkService) start(ctx context.Context, job *models.BulkJob) (*BulkProgress, error) {
	ctx, span := util.StartSpan(ctx, "BulkService.Start")
	defer span.End()

	ids, err := s.repo.ListAccountIDs(ctx, job.AccountType)
	if err != nil {
		return nil, translate(err, "list accounts")
	}

	job.ID = uuid.New().String()
	job.AccountIDs = ids
	job.ChunkSize = s.cfg.ChunkSize
	job.CreatedAt = time.Now()

	if err := s.jobs.SaveJob(ctx, job, s.cfg.JobTTL); err != nil {
		return nil, apperr.Network("failed to save bulk job", err)
	}

	s.logger.Info("Bulk job created",
		zap.String("job_id", job.ID),
		zap.String("operation", job.Operation),
		zap.String("account_type", string(job.AccountType)),
		zap.Int("accounts", len(ids)),
		zap.Int("chunks", job.TotalChunks()))

	p := progressOf(job)
	return &p, nil
}

// Progress returns the persisted state of a job
func (s *BulkService) Progress(ctx context.Context, jobID string) (*BulkProgress, error) {
	job, err := s.jobs.LoadJob(ctx, jobID)
	if err != nil {
		return nil, translate(err, "load bulk job")
	}
	p := progressOf(job)
	return &p, nil
}

// RunNextChunk processes the chunk at the job's high-water mark. Accounts
// already adjusted by an interrupted earlier run are recognised by their
// ledger key and not adjusted again. A finished job returns its final
// progress with no results.
func (s *BulkService) RunNextChunk(ctx context.Context, jobID string) (*ChunkResult, error) {
	ctx, span := util.StartSpan(ctx, "BulkService.RunNextChunk")
	defer span.End()

	token, ok, err := s.jobs.AcquireJobLock(ctx, jobID, s.cfg.LockTTL)
	if err != nil {
		return nil, apperr.Network("failed to lock bulk job", err)
	}
	if !ok {
		return nil, apperr.Conflict("a chunk of this job is already running")
	}
	defer func() {
		if err := s.jobs.ReleaseJobLock(context.Background(), jobID, token); err != nil {
			s.logger.Warn("Failed to release bulk job lock", zap.String("job_id", jobID), zap.Error(err))
		}
	}()

	job, err := s.jobs.LoadJob(ctx, jobID)
	if err != nil {
		return nil, translate(err, "load bulk job")
	}
	if job.Done() {
		return &ChunkResult{Progress: progressOf(job), Results: []AccountResult{}}, nil
	}

	chunk := job.HighWater
	start := time.Now()
	results := s.runChunk(ctx, job, job.Chunk(chunk))
	util.BulkChunkLatency.Observe(time.Since(start).Seconds())

	var success, failed int
	for _, r := range results {
		if r.Success {
			success++
		} else {
			failed++
		}
	}
	util.BulkAccountsTotal.WithLabelValues("success").Add(float64(success))
	util.BulkAccountsTotal.WithLabelValues("failed").Add(float64(failed))

	advanced, err := s.jobs.AdvanceJob(ctx, jobID, chunk, success, failed)
	if err != nil {
		return nil, translate(err, "advance bulk job")
	}
	if !advanced {
		s.logger.Warn("Bulk job chunk was advanced by another run",
			zap.String("job_id", jobID), zap.Int("chunk", chunk))
	}

	job, err = s.jobs.LoadJob(ctx, jobID)
	if err != nil {
		return nil, translate(err, "load bulk job")
	}
	progress := progressOf(job)

	s.logger.Info("Bulk chunk completed",
		zap.String("job_id", jobID),
		zap.Int("chunk", chunk+1),
		zap.Int("total_chunks", progress.TotalChunks),
		zap.Int("success", success),
		zap.Int("failed", failed))

	event := &models.BulkChunkCompletedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeBulkChunkCompleted),
		JobID:        jobID,
		Chunk:        chunk,
		TotalChunks:  progress.TotalChunks,
		SuccessCount: success,
		FailedCount:  failed,
	}
	if err := s.events.PublishBulkChunkCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish BulkChunkCompleted event", zap.Error(err))
	}

	return &ChunkResult{Progress: progress, Results: results}, nil
}

// runChunk adjusts each account independently. A failure on one account
// never affects the others.
func (s *BulkService) runChunk(ctx context.Context, job *models.BulkJob, ids []int64) []AccountResult {
	results := make([]AccountResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = s.adjustOne(gctx, job, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *BulkService) adjustOne(ctx context.Context, job *models.BulkJob, id int64) AccountResult {
	entry, _, err := s.ledger.adjust(ctx, adjustment{
		accountType: job.AccountType,
		accountID:   id,
		delta:       job.Delta,
		reset:       job.Operation == models.BulkOperationReset,
		reason:      job.Reason,
		key:         fmt.Sprintf("bulk:%s:%d", job.ID, id),
	})
	if err != nil {
		msg := err.Error()
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			msg = appErr.Reason
		}
		return AccountResult{AccountID: id, ErrorKind: apperr.KindOf(err), Message: msg}
	}
	return AccountResult{AccountID: id, Success: true, Balance: entry.BalanceAfter}
}

// Resume pumps the remaining chunks of a job one after another. onProgress,
// when set, is called after every chunk. Cancelling ctx stops before the
// next chunk and leaves committed chunks in place.
func (s *BulkService) Resume(ctx context.Context, jobID string, onProgress func(BulkProgress)) (*BulkResult, error) {
	result := &BulkResult{JobID: jobID, Results: []AccountResult{}}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		cr, err := s.RunNextChunk(ctx, jobID)
		if err != nil {
			return result, err
		}
		result.Results = append(result.Results, cr.Results...)
		result.SuccessCount = cr.Progress.SuccessCount
		result.FailedCount = cr.Progress.FailedCount

		if onProgress != nil {
			onProgress(cr.Progress)
		}
		if cr.Progress.Done {
			return result, nil
		}
	}
}

// ApplyBulkDelta adds delta to every account of the type, chunk by chunk
func (s *BulkService) ApplyBulkDelta(ctx context.Context, accountType models.AccountType, delta int64, password, reason string, onProgress func(BulkProgress)) (*BulkResult, error) {
	p, err := s.StartBulkDelta(ctx, accountType, delta, password, reason)
	if err != nil {
		return nil, err
	}
	return s.runStarted(ctx, p, onProgress)
}

// ResetAll sets every account of the type to zero, chunk by chunk
func (s *BulkService) ResetAll(ctx context.Context, accountType models.AccountType, password string, onProgress func(BulkProgress)) (*BulkResult, error) {
	p, err := s.StartReset(ctx, accountType, password)
	if err != nil {
		return nil, err
	}
	return s.runStarted(ctx, p, onProgress)
}

func (s *BulkService) runStarted(ctx context.Context, p *BulkProgress, onProgress func(BulkProgress)) (*BulkResult, error) {
	if onProgress != nil {
		onProgress(*p)
	}
	if p.Done {
		return &BulkResult{JobID: p.JobID, Results: []AccountResult{}}, nil
	}
	return s.Resume(ctx, p.JobID, onProgress)
}

package store

import (
	"context"
	"sync"
	"time"

	"rewards-service/internal/models"

	"github.com/google/uuid"
)

// MemoryJobs keeps bulk job progress, run locks and submission outcomes in
// process. TTLs are accepted for interface parity and ignored.
type MemoryJobs struct {
	mu          sync.Mutex
	jobs        map[string]models.BulkJob
	locks       map[string]string
	submissions map[string]models.Submission
}

// NewMemoryJobs creates an empty in-memory job and submission store
func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{
		jobs:        make(map[string]models.BulkJob),
		locks:       make(map[string]string),
		submissions: make(map[string]models.Submission),
	}
}

func (m *MemoryJobs) SaveJob(ctx context.Context, job *models.BulkJob, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *job
	j.AccountIDs = append([]int64(nil), job.AccountIDs...)
	m.jobs[job.ID] = j
	return nil
}

func (m *MemoryJobs) LoadJob(ctx context.Context, id string) (*models.BulkJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	j.AccountIDs = append([]int64(nil), j.AccountIDs...)
	return &j, nil
}

// AdvanceJob moves the high-water mark forward by one chunk only if it
// still equals expectedHighWater.
func (m *MemoryJobs) AdvanceJob(ctx context.Context, id string, expectedHighWater, success, failed int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if j.HighWater != expectedHighWater {
		return false, nil
	}
	j.HighWater++
	j.SuccessCount += success
	j.FailedCount += failed
	m.jobs[id] = j
	return true, nil
}

func (m *MemoryJobs) AcquireJobLock(ctx context.Context, id string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[id]; held {
		return "", false, nil
	}
	token := uuid.New().String()
	m.locks[id] = token
	return token, true, nil
}

func (m *MemoryJobs) ReleaseJobLock(ctx context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[id] == token {
		delete(m.locks, id)
	}
	return nil
}

func (m *MemoryJobs) SaveSubmission(ctx context.Context, sub *models.Submission, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[sub.Ticket] = *sub
	return nil
}

func (m *MemoryJobs) LoadSubmission(ctx context.Context, ticket string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[ticket]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return &sub, nil
}

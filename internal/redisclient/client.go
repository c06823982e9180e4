package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rewards-service/internal/models"
	"rewards-service/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/advance_job.lua
var advanceJobScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	advanceScript *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientWithRedis(rdb), nil
}

// NewClientWithRedis wraps an existing go-redis client
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		advanceScript: redis.NewScript(advanceJobScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func jobKey(id string) string       { return fmt.Sprintf("bulkjob:%s", id) }
func jobLockKey(id string) string   { return fmt.Sprintf("lock:bulkjob:%s", id) }
func submissionKey(t string) string { return fmt.Sprintf("submission:%s", t) }

// SaveJob stores the job definition and its progress counters in one hash
func (c *Client) SaveJob(ctx context.Context, job *models.BulkJob, ttl time.Duration) error {
	definition, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := jobKey(job.ID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"definition", definition,
		"high_water", job.HighWater,
		"success", job.SuccessCount,
		"failed", job.FailedCount,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// LoadJob reads a job back. Counters in the hash win over the ones in the definition.
func (c *Client) LoadJob(ctx context.Context, id string) (*models.BulkJob, error) {
	result, err := c.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, store.ErrJobNotFound
	}

	return decodeJob(id, result)
}

func decodeJob(id string, fields map[string]string) (*models.BulkJob, error) {
	var job models.BulkJob
	if err := json.Unmarshal([]byte(fields["definition"]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	counters := []struct {
		field string
		dst   *int
	}{
		{"high_water", &job.HighWater},
		{"success", &job.SuccessCount},
		{"failed", &job.FailedCount},
	}
	for _, c := range counters {
		n, err := strconv.Atoi(fields[c.field])
		if err != nil {
			return nil, fmt.Errorf("job %s has a corrupt %s counter: %w", id, c.field, err)
		}
		*c.dst = n
	}
	return &job, nil
}

// AdvanceJob atomically bumps the high-water mark when it still equals
// expectedHighWater and adds the chunk's counts
func (c *Client) AdvanceJob(ctx context.Context, id string, expectedHighWater, success, failed int) (bool, error) {
	result, err := c.advanceScript.Run(ctx, c.rdb, []string{jobKey(id)}, expectedHighWater, success, failed).Result()
	if err != nil {
		return false, fmt.Errorf("advance job script failed: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	switch code {
	case -1:
		return false, store.ErrJobNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// AcquireJobLock takes the per-job run lock. The returned token is needed
// to release it.
func (c *Client) AcquireJobLock(ctx context.Context, id string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, jobLockKey(id), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseJobLock releases the run lock only if token still owns it
func (c *Client) ReleaseJobLock(ctx context.Context, id, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{jobLockKey(id)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// SaveSubmission stores the outcome of an asynchronous submission with TTL
func (c *Client) SaveSubmission(ctx context.Context, sub *models.Submission, ttl time.Duration) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}
	return c.rdb.Set(ctx, submissionKey(sub.Ticket), data, ttl).Err()
}

// LoadSubmission retrieves a submission outcome by ticket
func (c *Client) LoadSubmission(ctx context.Context, ticket string) (*models.Submission, error) {
	data, err := c.rdb.Get(ctx, submissionKey(ticket)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}

	var sub models.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission %s: %w", ticket, err)
	}
	return &sub, nil
}

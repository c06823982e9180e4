package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_DRIVER", "BULK_CHUNK_SIZE", "BULK_JOB_TTL_HOURS", "KAFKA_BROKERS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.False(t, cfg.UseMemory())
	assert.Equal(t, 50, cfg.Bulk.ChunkSize)
	assert.Equal(t, 8, cfg.Bulk.Concurrency)
	assert.Equal(t, 72*time.Hour, cfg.Bulk.JobTTL)
	assert.Equal(t, time.Hour, cfg.Redemption.SubmissionTTL)
	assert.Equal(t, 5, cfg.Redemption.LedgerMaxRetries)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "Memory")
	t.Setenv("BULK_CHUNK_SIZE", "20")
	t.Setenv("BULK_CONCURRENCY", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SEARCH_MIN_QUERY_LENGTH", "3")

	cfg := Load()

	assert.True(t, cfg.UseMemory())
	assert.Equal(t, 20, cfg.Bulk.ChunkSize)
	assert.Equal(t, 8, cfg.Bulk.Concurrency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Search.MinQueryLength)
}

package app

import (
	"context"
	"testing"
	"time"

	"rewards-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Bulk: config.BulkConfig{
			ChunkSize:   10,
			Concurrency: 2,
			JobTTL:      time.Hour,
		},
		Redemption: config.RedemptionConfig{
			SubmissionTTL:    time.Minute,
			LedgerMaxRetries: 3,
		},
		Search: config.SearchConfig{MinQueryLength: 2, Limit: 10},
	}
}

func TestBuildMemory(t *testing.T) {
	a, err := Build(memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Store)
	assert.Nil(t, a.Worker)
	assert.NotNil(t, a.Services.Accounts)
	assert.NotNil(t, a.Services.Bulk)
	assert.NotNil(t, a.Services.Submissions)
	assert.NotNil(t, a.Handler())

	// the bulk service is wired but disabled without a password hash
	_, err = a.Services.Bulk.StartReset(context.Background(), "CUSTOMER", "anything")
	assert.Error(t, err)
}

func TestCloseRunsInReverse(t *testing.T) {
	a := &App{}
	var order []int
	a.onClose(func() error { order = append(order, 1); return nil })
	a.onClose(func() error { order = append(order, 2); return nil })

	require.NoError(t, a.Close())
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, a.Close())
}

package redisclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `{"id":"j1","accountType":"customers","operation":"delta","delta":5,"accountIds":[1,2,3],"chunkSize":2,"highWater":0}`

func TestDecodeJobPrefersHashCounters(t *testing.T) {
	job, err := decodeJob("j1", map[string]string{
		"definition": definition,
		"high_water": "1",
		"success":    "2",
		"failed":     "0",
	})
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, []int64{1, 2, 3}, job.AccountIDs)
	assert.Equal(t, 1, job.HighWater)
	assert.Equal(t, 2, job.SuccessCount)
	assert.Equal(t, 0, job.FailedCount)
}

func TestDecodeJobRejectsCorruptCounters(t *testing.T) {
	for _, tc := range []struct {
		name   string
		fields map[string]string
		msg    string
	}{
		{"garbage high water", map[string]string{"definition": definition, "high_water": "x", "success": "0", "failed": "0"}, "high_water"},
		{"missing failed", map[string]string{"definition": definition, "high_water": "0", "success": "0"}, "failed"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeJob("j1", tc.fields)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	_, err := decodeJob("j1", map[string]string{"definition": "{"})
	assert.Error(t, err)
}

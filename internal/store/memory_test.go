package store

import (
	"context"
	"errors"
	"testing"

	"rewards-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryInTxRestoresSnapshot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	acct := m.AddAccount(models.Account{Type: models.AccountTypeCustomer, Name: "Acme", Points: 100})
	m.AddVariant(models.Variant{ID: 1, PricingType: "FIXED", Stock: 10})

	err := m.InTx(ctx, func(r Repository) error {
		ok, err := r.CompareAndSetPoints(ctx, acct.Type, acct.ID, 100, 40)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = r.ReserveStock(ctx, 1, 4)
		require.NoError(t, err)
		require.True(t, ok)

		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := m.GetAccount(ctx, acct.Type, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Points)

	variants, err := m.GetVariantsByIDs(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 0, variants[0].CommittedStock)
}

func TestMemoryStockLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.AddVariant(models.Variant{ID: 9, PricingType: "FIXED", Stock: 20})

	ok, err := m.ReserveStock(ctx, 9, 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.ReserveStock(ctx, 9, 16)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.ConsumeStock(ctx, 9, 5))
	vs, _ := m.GetVariantsByIDs(ctx, []int64{9})
	assert.Equal(t, 15, vs[0].Stock)
	assert.Equal(t, 0, vs[0].CommittedStock)

	assert.ErrorIs(t, m.ReleaseStock(ctx, 9, 1), ErrStockUnderflow)
}

func TestMemoryStockRejectsNonPositiveUnits(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.AddVariant(models.Variant{ID: 9, PricingType: "FIXED", Stock: 20, CommittedStock: 3})

	ok, err := m.ReserveStock(ctx, 9, -2)
	assert.ErrorIs(t, err, ErrInvalidUnits)
	assert.False(t, ok)
	_, err = m.ReserveStock(ctx, 9, 0)
	assert.ErrorIs(t, err, ErrInvalidUnits)
	assert.ErrorIs(t, m.ReleaseStock(ctx, 9, -1), ErrInvalidUnits)
	assert.ErrorIs(t, m.ConsumeStock(ctx, 9, 0), ErrInvalidUnits)

	vs, _ := m.GetVariantsByIDs(ctx, []int64{9})
	assert.Equal(t, 20, vs[0].Stock)
	assert.Equal(t, 3, vs[0].CommittedStock)
}

func TestMemorySearchRanking(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.AddAccount(models.Account{Type: models.AccountTypeCustomer, Name: "North Hardware", Location: "Cebu"})
	m.AddAccount(models.Account{Type: models.AccountTypeCustomer, Name: "Hardware", Email: "hw@example.com"})
	m.AddAccount(models.Account{Type: models.AccountTypeCustomer, Name: "Hardware Depot"})
	m.AddAccount(models.Account{Type: models.AccountTypeCustomer, Name: "Zeta", Email: "hardware@zeta.com"})
	m.AddAccount(models.Account{Type: models.AccountTypeCustomer, Name: "Hardware Closed", IsArchived: true})
	m.AddAccount(models.Account{Type: models.AccountTypeDistributor, Name: "Hardware"})

	got, err := m.SearchAccounts(ctx, models.AccountTypeCustomer, "hardware", 10)
	require.NoError(t, err)

	names := make([]string, len(got))
	for i, a := range got {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"Hardware", "Hardware Depot", "North Hardware", "Zeta"}, names)
}

func TestMemoryLedgerKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	entry := &models.LedgerEntry{AccountType: models.AccountTypeCustomer, AccountID: 1, Delta: 5, IdempotencyKey: "k1"}
	require.NoError(t, m.InsertLedgerEntry(ctx, entry))
	assert.ErrorIs(t, m.InsertLedgerEntry(ctx, &models.LedgerEntry{IdempotencyKey: "k1"}), ErrDuplicateLedgerKey)

	exists, err := m.LedgerEntryExists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	entries, err := m.ListLedgerEntries(ctx, models.AccountTypeCustomer, 1, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryJobsAdvance(t *testing.T) {
	jobs := NewMemoryJobs()
	ctx := context.Background()
	require.NoError(t, jobs.SaveJob(ctx, &models.BulkJob{ID: "j1", ChunkSize: 2, AccountIDs: []int64{1, 2, 3}}, 0))

	ok, err := jobs.AdvanceJob(ctx, "j1", 0, 2, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = jobs.AdvanceJob(ctx, "j1", 0, 2, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := jobs.LoadJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.HighWater)
	assert.Equal(t, 2, job.SuccessCount)

	token, ok, err := jobs.AcquireJobLock(ctx, "j1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, _ = jobs.AcquireJobLock(ctx, "j1", 0)
	assert.False(t, ok)
	require.NoError(t, jobs.ReleaseJobLock(ctx, "j1", token))
	_, ok, _ = jobs.AcquireJobLock(ctx, "j1", 0)
	assert.True(t, ok)
}

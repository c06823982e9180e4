package service

import (
	"context"
	"testing"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMinimumLength(t *testing.T) {
	f := newFixture(t)
	f.account(models.AccountTypeCustomer, "Ab Hardware", 0)

	got, err := f.accounts.Search(context.Background(), models.AccountTypeCustomer, " a ")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.accounts.Search(context.Background(), models.AccountTypeCustomer, "ab")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.accounts.Search(context.Background(), "ROBOT", "ab")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportColumnsAndSort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 10000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 100, 50))

	for _, n := range []int{3, 1, 2} {
		_, err := f.redemptions.Create(ctx, customerRequest(cust.ID, agent.ID,
			models.SubmittedItem{VariantID: 1, Quantity: qty(n)}), "")
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	result, err := f.redemptions.Export(ctx, &buf, ExportOptions{
		Columns:   []string{"id", "total_points"},
		SortBy:    "total_points",
		Direction: "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, ExportResult{Rows: 3}, result)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"id", "total_points"},
		{"2", "100"},
		{"3", "200"},
		{"1", "300"},
	}, rows)
}

func TestExportRejectsUnknownColumns(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer

	_, err := f.redemptions.Export(context.Background(), &buf, ExportOptions{Columns: []string{"password"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.redemptions.Export(context.Background(), &buf, ExportOptions{SortBy: "name"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.redemptions.Export(context.Background(), &buf, ExportOptions{Direction: "up"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestExportReportsTruncation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 10000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 100, 50))

	for _, n := range []int{3, 1, 2} {
		_, err := f.redemptions.Create(ctx, customerRequest(cust.ID, agent.ID,
			models.SubmittedItem{VariantID: 1, Quantity: qty(n)}), "")
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	result, err := f.redemptions.Export(ctx, &buf, ExportOptions{
		Columns:   []string{"id"},
		SortBy:    "id",
		Direction: "asc",
		MaxRows:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, ExportResult{Rows: 2, Truncated: true}, result)

	// the newest two are kept, then ordered as asked
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id"}, {"2"}, {"3"}}, rows)

	buf.Reset()
	result, err = f.redemptions.Export(ctx, &buf, ExportOptions{MaxRows: 3})
	require.NoError(t, err)
	assert.False(t, result.Truncated)
}

package service

import (
	"context"
	"math"
	"testing"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customerRequest(customerID, agentID int64, items ...models.SubmittedItem) *models.SubmittedRequest {
	return &models.SubmittedRequest{
		RequestedForType:   models.RequestedForCustomer,
		RequestedForID:     customerID,
		RequestedByAgentID: agentID,
		PointsDeductedFrom: models.DeductFromCustomer,
		Items:              items,
	}
}

func TestCreateThenCancelRestoresBalanceAndStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 1000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 60, 20))

	r, err := f.redemptions.Create(ctx, customerRequest(cust.ID, agent.ID,
		models.SubmittedItem{VariantID: 1, Quantity: qty(5)}), "")
	require.NoError(t, err)
	assert.Equal(t, int64(300), r.TotalPoints)
	assert.Equal(t, models.StatusPending, r.Status)
	assert.Equal(t, models.ProcessingNotProcessed, r.ProcessingStatus)
	assert.Equal(t, int64(700), f.balance(t, cust.Type, cust.ID))

	v := f.variant(t, 1)
	assert.Equal(t, 5, v.CommittedStock)
	assert.Equal(t, 15, v.Available())

	cancelled, err := f.redemptions.Cancel(ctx, r.ID, "customer changed mind", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingCancelled, cancelled.ProcessingStatus)
	assert.Equal(t, "customer changed mind", cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, int64(1000), f.balance(t, cust.Type, cust.ID))

	v = f.variant(t, 1)
	assert.Equal(t, 20, v.Stock)
	assert.Equal(t, 0, v.CommittedStock)

	assert.Equal(t, []string{models.EventTypeRedemptionCreated, models.EventTypeRedemptionCancelled}, f.events.types())
}

func TestMarkProcessedConsumesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 1000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 10, 20))

	r, err := f.redemptions.Create(ctx, customerRequest(cust.ID, agent.ID,
		models.SubmittedItem{VariantID: 1, Quantity: qty(5)}), "")
	require.NoError(t, err)

	by := agent.ID
	processed, err := f.redemptions.MarkProcessed(ctx, r.ID, "delivered", &by)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingProcessed, processed.ProcessingStatus)
	assert.Equal(t, "delivered", processed.Remarks)
	require.NotNil(t, processed.Items[0].ItemProcessedBy)
	assert.Equal(t, agent.ID, *processed.Items[0].ItemProcessedBy)

	v := f.variant(t, 1)
	assert.Equal(t, 15, v.Stock)
	assert.Equal(t, 0, v.CommittedStock)
	assert.Equal(t, int64(950), f.balance(t, cust.Type, cust.ID))
}

func TestTerminalRequestsAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 1000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 10, 20))

	create := func() *models.RedemptionRequest {
		r, err := f.redemptions.Create(ctx, customerRequest(cust.ID, agent.ID,
			models.SubmittedItem{VariantID: 1, Quantity: qty(2)}), "")
		require.NoError(t, err)
		return r
	}

	processed := create()
	_, err := f.redemptions.MarkProcessed(ctx, processed.ID, "", nil)
	require.NoError(t, err)

	cancelled := create()
	_, err = f.redemptions.Cancel(ctx, cancelled.ID, "dup", "")
	require.NoError(t, err)

	balance := f.balance(t, cust.Type, cust.ID)
	stock := f.variant(t, 1)

	for _, id := range []int64{processed.ID, cancelled.ID} {
		_, err = f.redemptions.MarkProcessed(ctx, id, "", nil)
		assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))

		_, err = f.redemptions.Cancel(ctx, id, "again", "")
		assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))

		_, err = f.redemptions.UpdateApprovalStatus(ctx, id, models.StatusApproved)
		assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))
	}

	assert.Equal(t, balance, f.balance(t, cust.Type, cust.ID))
	assert.Equal(t, stock, f.variant(t, 1))
}

func TestCartScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 5000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 200, 10))
	f.repo.AddVariant(dynamicVariant(2, "PER_DAY", 50, 1))

	r, err := f.redemptions.Create(ctx, customerRequest(cust.ID, agent.ID,
		models.SubmittedItem{VariantID: 1, Quantity: qty(2)},
		models.SubmittedItem{VariantID: 2, DynamicQuantity: dyn("3")},
	), "")
	require.NoError(t, err)

	assert.Equal(t, int64(550), r.TotalPoints)
	require.Len(t, r.Items, 2)
	assert.Equal(t, int64(400), r.Items[0].TotalPoints)
	assert.Equal(t, int64(150), r.Items[1].TotalPoints)
	assert.Equal(t, 1, r.Items[1].StockUnits)
	assert.Equal(t, int64(4450), f.balance(t, cust.Type, cust.ID))

	_, err = f.redemptions.Cancel(ctx, r.ID, "scenario", "")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), f.balance(t, cust.Type, cust.ID))
}

func TestCreateRejectionsLeaveNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 100)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	archived := f.repo.AddAccount(models.Account{Type: models.AccountTypeCustomer, Name: "Old", Points: 1000, IsArchived: true})
	f.repo.AddVariant(fixedVariant(1, 60, 3))
	f.repo.AddVariant(dynamicVariant(2, "PER_SQFT", 10, 5))

	tests := []struct {
		name string
		req  *models.SubmittedRequest
		kind apperr.Kind
	}{
		{
			name: "insufficient balance",
			req:  customerRequest(cust.ID, agent.ID, models.SubmittedItem{VariantID: 1, Quantity: qty(2)}),
			kind: apperr.KindInsufficientBalance,
		},
		{
			name: "stock unavailable after aggregation",
			req: customerRequest(cust.ID, agent.ID,
				models.SubmittedItem{VariantID: 1, Quantity: qty(1)},
				models.SubmittedItem{VariantID: 1, Quantity: qty(3)}),
			kind: apperr.KindStockUnavailable,
		},
		{
			name: "archived target",
			req:  customerRequest(archived.ID, agent.ID, models.SubmittedItem{VariantID: 1, Quantity: qty(1)}),
			kind: apperr.KindArchivedAccount,
		},
		{
			name: "area too large",
			req:  customerRequest(cust.ID, agent.ID, models.SubmittedItem{VariantID: 2, DynamicQuantity: dyn("1000000")}),
			kind: apperr.KindValidation,
		},
		{
			name: "quantity on metered item",
			req:  customerRequest(cust.ID, agent.ID, models.SubmittedItem{VariantID: 2, Quantity: qty(1)}),
			kind: apperr.KindValidation,
		},
		{
			name: "unknown variant",
			req:  customerRequest(cust.ID, agent.ID, models.SubmittedItem{VariantID: 99, Quantity: qty(1)}),
			kind: apperr.KindValidation,
		},
		{
			name: "unknown target",
			req:  customerRequest(404, agent.ID, models.SubmittedItem{VariantID: 1, Quantity: qty(1)}),
			kind: apperr.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.redemptions.Create(ctx, tt.req, "")
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	assert.Equal(t, int64(100), f.balance(t, cust.Type, cust.ID))
	assert.Equal(t, 0, f.variant(t, 1).CommittedStock)
	assert.Equal(t, 0, f.variant(t, 2).CommittedStock)

	list, err := f.redemptions.List(ctx, models.RedemptionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateRejectsOverflowingQuantities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 100)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 200, 10))

	for _, req := range []*models.SubmittedRequest{
		customerRequest(cust.ID, agent.ID, models.SubmittedItem{VariantID: 1, Quantity: qty(1 << 62)}),
		customerRequest(cust.ID, agent.ID,
			models.SubmittedItem{VariantID: 1, Quantity: qty(math.MaxInt)},
			models.SubmittedItem{VariantID: 1, Quantity: qty(math.MaxInt)}),
	} {
		_, err := f.redemptions.Create(ctx, req, "")
		var appErr *apperr.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperr.KindValidation, appErr.Kind)
		assert.Equal(t, "items[0].quantity", appErr.Field)
		assert.Equal(t, "Quantity too large", appErr.Reason)
	}

	assert.Equal(t, int64(100), f.balance(t, cust.Type, cust.ID))
	assert.Equal(t, 0, f.variant(t, 1).CommittedStock)
}

func TestValidateSubmission(t *testing.T) {
	ok := customerRequest(1, 2, models.SubmittedItem{VariantID: 1, Quantity: qty(1)})
	require.NoError(t, ValidateSubmission(ok))

	tests := []struct {
		name  string
		edit  func(r *models.SubmittedRequest)
		field string
	}{
		{"bad target type", func(r *models.SubmittedRequest) { r.RequestedForType = "SALES_AGENT" }, "requestedForType"},
		{"deduct from other party", func(r *models.SubmittedRequest) { r.PointsDeductedFrom = models.DeductFromDistributor }, "pointsDeductedFrom"},
		{"no items", func(r *models.SubmittedRequest) { r.Items = nil }, "items"},
		{"both quantities", func(r *models.SubmittedRequest) { r.Items[0].DynamicQuantity = dyn("1") }, "items[0].quantity"},
		{"neither quantity", func(r *models.SubmittedRequest) { r.Items[0].Quantity = nil }, "items[0].quantity"},
		{"no variant", func(r *models.SubmittedRequest) { r.Items[0].VariantID = 0 }, "items[0].variantId"},
		{"negative target", func(r *models.SubmittedRequest) { r.RequestedForID = -3 }, "requestedForId"},
		{"unknown deduct source", func(r *models.SubmittedRequest) { r.PointsDeductedFrom = "WALLET" }, "pointsDeductedFrom"},
		{"no agent", func(r *models.SubmittedRequest) { r.RequestedByAgentID = 0 }, "requestedByAgentId"},
		{"bad vehicle date", func(r *models.SubmittedRequest) {
			r.ServiceVehicle = &models.ServiceVehicle{Date: "12/01/2024", Time: "09:00"}
		}, "serviceVehicle.date"},
		{"bad vehicle time", func(r *models.SubmittedRequest) {
			r.ServiceVehicle = &models.ServiceVehicle{Date: "2024-12-01", Time: "9am"}
		}, "serviceVehicle.time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := customerRequest(1, 2, models.SubmittedItem{VariantID: 1, Quantity: qty(1)})
			tt.edit(r)
			err := ValidateSubmission(r)
			require.Error(t, err)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestCreateChargesSalesAgentWhenSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dist := f.account(models.AccountTypeDistributor, "Dist", 50)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 500)
	f.repo.AddVariant(fixedVariant(1, 100, 5))

	r, err := f.redemptions.Create(ctx, &models.SubmittedRequest{
		RequestedForType:   models.RequestedForDistributor,
		RequestedForID:     dist.ID,
		RequestedByAgentID: agent.ID,
		PointsDeductedFrom: models.DeductFromSelf,
		Items:              []models.SubmittedItem{{VariantID: 1, Quantity: qty(2)}},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, models.AccountTypeSalesAgent, r.ChargedAccountType)
	assert.Equal(t, int64(300), f.balance(t, agent.Type, agent.ID))
	assert.Equal(t, int64(50), f.balance(t, dist.Type, dist.ID))

	_, err = f.redemptions.Cancel(ctx, r.ID, "wrong item", "")
	require.NoError(t, err)
	assert.Equal(t, int64(500), f.balance(t, agent.Type, agent.ID))
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 1000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 100, 5))

	req := customerRequest(cust.ID, agent.ID, models.SubmittedItem{VariantID: 1, Quantity: qty(1)})
	first, err := f.redemptions.Create(ctx, req, "key-1")
	require.NoError(t, err)
	second, err := f.redemptions.Create(ctx, req, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(900), f.balance(t, cust.Type, cust.ID))
	assert.Equal(t, 1, f.variant(t, 1).CommittedStock)
}

func TestServiceVehicleWithDriverNeedsDriverItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 1000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 10, 5))
	van := dynamicVariant(2, "PER_DAY", 100, 2)
	van.NeedsDriver = true
	f.repo.AddVariant(van)

	req := customerRequest(cust.ID, agent.ID, models.SubmittedItem{VariantID: 1, Quantity: qty(1)})
	req.ServiceVehicle = &models.ServiceVehicle{Date: "2024-06-01", Time: "08:30", WithDriver: true}
	_, err := f.redemptions.Create(ctx, req, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	req.Items = append(req.Items, models.SubmittedItem{VariantID: 2, DynamicQuantity: dyn("2")})
	r, err := f.redemptions.Create(ctx, req, "")
	require.NoError(t, err)
	require.NotNil(t, r.ServiceVehicle)
	assert.True(t, r.ServiceVehicle.WithDriver)
	assert.Equal(t, int64(210), r.TotalPoints)
}

func TestUpdateApprovalStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.account(models.AccountTypeCustomer, "Acme", 1000)
	agent := f.account(models.AccountTypeSalesAgent, "Agent", 0)
	f.repo.AddVariant(fixedVariant(1, 10, 5))

	r, err := f.redemptions.Create(ctx, customerRequest(cust.ID, agent.ID,
		models.SubmittedItem{VariantID: 1, Quantity: qty(1)}), "")
	require.NoError(t, err)

	_, err = f.redemptions.UpdateApprovalStatus(ctx, r.ID, models.StatusPending)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	approved, err := f.redemptions.UpdateApprovalStatus(ctx, r.ID, models.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Equal(t, models.ProcessingNotProcessed, approved.ProcessingStatus)
	assert.Equal(t, int64(990), f.balance(t, cust.Type, cust.ID))

	_, err = f.redemptions.UpdateApprovalStatus(ctx, r.ID, models.StatusRejected)
	assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))

	// approval does not block processing
	_, err = f.redemptions.MarkProcessed(ctx, r.ID, "", nil)
	require.NoError(t, err)
}

func TestCancelRequiresReason(t *testing.T) {
	f := newFixture(t)

	_, err := f.redemptions.Cancel(context.Background(), 1, "   ", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.redemptions.Cancel(context.Background(), 1, "real reason", "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

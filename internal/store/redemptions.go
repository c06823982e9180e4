package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rewards-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateRedemption inserts a request and its item snapshots
func (s *Store) CreateRedemption(ctx context.Context, req *models.RedemptionRequest) error {
	var vehicleDate, vehicleTime *string
	var withDriver *bool
	if v := req.ServiceVehicle; v != nil {
		vehicleDate, vehicleTime, withDriver = &v.Date, &v.Time, &v.WithDriver
	}

	query := `
		INSERT INTO redemption_requests (
			requested_for_type, requested_for_id, requested_by_agent_id, points_deducted_from,
			charged_account_type, charged_account_id, total_points, status, processing_status,
			remarks, vehicle_date, vehicle_time, vehicle_with_driver, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	row := s.ext.QueryRowxContext(ctx, query,
		req.RequestedForType, req.RequestedForID, req.RequestedByAgentID, req.PointsDeductedFrom,
		req.ChargedAccountType, req.ChargedAccountID, req.TotalPoints, req.Status, req.ProcessingStatus,
		req.Remarks, vehicleDate, vehicleTime, withDriver, req.IdempotencyKey)
	if err := row.Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert redemption request: %w", err)
	}

	for i := range req.Items {
		item := &req.Items[i]
		item.RequestID = req.ID

		err := sqlx.GetContext(ctx, s.ext, &item.ID, `
			INSERT INTO redemption_items (
				request_id, variant_id, pricing_type, quantity, dynamic_quantity,
				points_per_item, total_points, stock_units)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			item.RequestID, item.VariantID, item.PricingType, item.Quantity, item.DynamicQuantity,
			item.PointsPerItem, item.TotalPoints, item.StockUnits)
		if err != nil {
			return fmt.Errorf("failed to insert redemption item: %w", err)
		}
	}

	return nil
}

// GetRedemption retrieves a request with its items
func (s *Store) GetRedemption(ctx context.Context, id int64) (*models.RedemptionRequest, error) {
	var req models.RedemptionRequest
	err := sqlx.GetContext(ctx, s.ext, &req, "SELECT * FROM redemption_requests WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.attachItems(ctx, []*models.RedemptionRequest{&req}); err != nil {
		return nil, err
	}
	return &req, nil
}

// GetRedemptionByIdempotencyKey returns nil when no request carries the key
func (s *Store) GetRedemptionByIdempotencyKey(ctx context.Context, key string) (*models.RedemptionRequest, error) {
	var id int64
	err := sqlx.GetContext(ctx, s.ext, &id,
		"SELECT id FROM redemption_requests WHERE idempotency_key = $1 AND idempotency_key <> ''", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetRedemption(ctx, id)
}

// TransitionProcessing moves the processing axis from one status to another.
// Returns false when the request is no longer in the from status.
func (s *Store) TransitionProcessing(ctx context.Context, id int64, from, to string, update ProcessingUpdate) (bool, error) {
	var processedAt, cancelledAt interface{}
	switch to {
	case models.ProcessingProcessed:
		processedAt = update.At
	case models.ProcessingCancelled:
		cancelledAt = update.At
	}

	res, err := s.ext.ExecContext(ctx, `
		UPDATE redemption_requests
		SET processing_status = $1,
		    remarks = COALESCE(NULLIF($2, ''), remarks),
		    cancellation_reason = COALESCE(NULLIF($3, ''), cancellation_reason),
		    processed_at = COALESCE($4::timestamptz, processed_at),
		    cancelled_at = COALESCE($5::timestamptz, cancelled_at),
		    updated_at = NOW()
		WHERE id = $6 AND processing_status = $7`,
		to, update.Remarks, update.CancellationReason, processedAt, cancelledAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if update.ProcessedBy != nil {
		_, err = s.ext.ExecContext(ctx,
			"UPDATE redemption_items SET item_processed_by = $1 WHERE request_id = $2",
			*update.ProcessedBy, id)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// TransitionStatus moves the approval axis while the request is unprocessed
func (s *Store) TransitionStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	res, err := s.ext.ExecContext(ctx, `
		UPDATE redemption_requests SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND processing_status = $4`,
		to, id, from, models.ProcessingNotProcessed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListRedemptions retrieves requests matching the filter, newest first
func (s *Store) ListRedemptions(ctx context.Context, filter models.RedemptionFilter) ([]models.RedemptionRequest, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.ProcessingStatus != "" {
		add("processing_status = $%d", filter.ProcessingStatus)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.RequestedForType != "" {
		add("requested_for_type = $%d", filter.RequestedForType)
	}
	if filter.RequestedForID != 0 {
		add("requested_for_id = $%d", filter.RequestedForID)
	}

	query := "SELECT * FROM redemption_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var reqs []models.RedemptionRequest
	if err := sqlx.SelectContext(ctx, s.ext, &reqs, query, args...); err != nil {
		return nil, err
	}

	ptrs := make([]*models.RedemptionRequest, len(reqs))
	for i := range reqs {
		ptrs[i] = &reqs[i]
	}
	if err := s.attachItems(ctx, ptrs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *Store) attachItems(ctx context.Context, reqs []*models.RedemptionRequest) error {
	if len(reqs) == 0 {
		return nil
	}

	byID := make(map[int64]*models.RedemptionRequest, len(reqs))
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
		ids = append(ids, r.ID)
		r.Items = []models.RequestItemVariant{}
		hydrateVehicle(r)
	}

	query, args, err := sqlx.In("SELECT * FROM redemption_items WHERE request_id IN (?) ORDER BY id", ids)
	if err != nil {
		return err
	}

	var items []models.RequestItemVariant
	if err := sqlx.SelectContext(ctx, s.ext, &items, s.ext.Rebind(query), args...); err != nil {
		return err
	}
	for _, item := range items {
		r := byID[item.RequestID]
		r.Items = append(r.Items, item)
	}
	return nil
}

func hydrateVehicle(r *models.RedemptionRequest) {
	if r.VehicleDate == nil {
		return
	}
	v := &models.ServiceVehicle{Date: *r.VehicleDate}
	if r.VehicleTime != nil {
		v.Time = *r.VehicleTime
	}
	if r.VehicleWithDriver != nil {
		v.WithDriver = *r.VehicleWithDriver
	}
	r.ServiceVehicle = v
}

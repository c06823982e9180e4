package store

import (
	"context"

	"rewards-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetVariantsByIDs retrieves multiple variants by IDs
func (s *Store) GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.Variant, error) {
	if len(ids) == 0 {
		return []models.Variant{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM variants WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.ext.Rebind(query)

	var variants []models.Variant
	err = sqlx.SelectContext(ctx, s.ext, &variants, query, args...)
	return variants, err
}

// ReserveStock moves units into committed stock if enough is available.
// Returns false when the variant lacks available stock.
func (s *Store) ReserveStock(ctx context.Context, variantID int64, units int) (bool, error) {
	if units < 1 {
		return false, ErrInvalidUnits
	}
	res, err := s.ext.ExecContext(ctx, `
		UPDATE variants
		SET committed_stock = committed_stock + $1, updated_at = NOW()
		WHERE id = $2 AND stock - committed_stock >= $1`,
		units, variantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseStock returns committed units to availability (compensation)
func (s *Store) ReleaseStock(ctx context.Context, variantID int64, units int) error {
	return s.execStock(ctx, `
		UPDATE variants
		SET committed_stock = committed_stock - $1, updated_at = NOW()
		WHERE id = $2 AND committed_stock >= $1`,
		units, variantID)
}

// ConsumeStock permanently deducts committed units
func (s *Store) ConsumeStock(ctx context.Context, variantID int64, units int) error {
	return s.execStock(ctx, `
		UPDATE variants
		SET stock = stock - $1, committed_stock = committed_stock - $1, updated_at = NOW()
		WHERE id = $2 AND committed_stock >= $1 AND stock >= $1`,
		units, variantID)
}

func (s *Store) execStock(ctx context.Context, query string, units int, variantID int64) error {
	if units < 1 {
		return ErrInvalidUnits
	}
	res, err := s.ext.ExecContext(ctx, query, units, variantID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStockUnderflow
	}
	return nil
}

// Package pricing computes the points owed for a cart of catalogue variants.
// Every function here is pure: no I/O and no shared state.
package pricing

import (
	"fmt"
	"math"

	"rewards-service/internal/apperr"

	"github.com/shopspring/decimal"
)

// Type is the closed set of pricing strategies a variant can use
type Type string

const (
	Fixed      Type = "FIXED"
	PerSqft    Type = "PER_SQFT"
	PerInvoice Type = "PER_INVOICE"
	PerEuSrp   Type = "PER_EU_SRP"
	PerDay     Type = "PER_DAY"
)

var (
	maxAmount = decimal.RequireFromString("999999.99")
	maxArea   = decimal.NewFromInt(999999)
	maxDays   = decimal.NewFromInt(365)
	maxPoints = decimal.NewFromInt(math.MaxInt64)
)

// MaxQuantity caps the units of a fixed-price line
const MaxQuantity = 1000000

// ParseType converts a stored pricing literal into a Type
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Fixed, PerSqft, PerInvoice, PerEuSrp, PerDay:
		return t, nil
	}
	return "", apperr.Validation("pricingType", fmt.Sprintf("unknown pricing type %q", s))
}

// Dynamic reports whether the type is priced by a variable quantity
func (t Type) Dynamic() bool {
	return t != Fixed
}

// Line is one cart entry. Quantity is only read for Fixed lines and
// DynamicQuantity only for dynamic ones.
type Line struct {
	ItemID           int64
	Type             Type
	UnitPoints       decimal.Decimal
	Quantity         int
	DynamicQuantity  decimal.Decimal
	PointsMultiplier decimal.NullDecimal
}

// Rate returns the per-unit points applied to the line
func (l Line) Rate() decimal.Decimal {
	if l.Type.Dynamic() && l.PointsMultiplier.Valid {
		return l.PointsMultiplier.Decimal
	}
	return l.UnitPoints
}

// ComputeLineTotal returns the whole points owed for one line
func ComputeLineTotal(line Line) (int64, error) {
	rate := line.Rate()
	if rate.IsNegative() {
		return 0, apperr.Validation("unitPoints", "Unit points must not be negative")
	}

	switch line.Type {
	case Fixed:
		if line.Quantity < 1 {
			return 0, apperr.Validation("quantity", "Quantity must be at least 1")
		}
		if line.Quantity > MaxQuantity {
			return 0, apperr.Validation("quantity", "Quantity too large")
		}
		return toPoints("quantity", rate.Mul(decimal.NewFromInt(int64(line.Quantity))))

	case PerSqft, PerInvoice, PerEuSrp, PerDay:
		if err := ValidateDynamicQuantity(line.Type, line.DynamicQuantity); err != nil {
			return 0, err
		}
		return toPoints("dynamicQuantity", line.DynamicQuantity.Mul(rate))

	default:
		return 0, apperr.Validation("pricingType", fmt.Sprintf("unknown pricing type %q", line.Type))
	}
}

// ValidateDynamicQuantity checks the type-specific bounds of a metered quantity.
func ValidateDynamicQuantity(t Type, q decimal.Decimal) error {
	const field = "dynamicQuantity"

	switch t {
	case PerInvoice, PerEuSrp:
		if q.IsNegative() {
			return apperr.Validation(field, "Amount must not be negative")
		}
		if q.GreaterThan(maxAmount) {
			return apperr.Validation(field, "Amount too large")
		}
		if !q.Equal(q.Truncate(2)) {
			return apperr.Validation(field, "Amount must have at most 2 decimal places")
		}

	case PerSqft:
		if q.IsNegative() {
			return apperr.Validation(field, "Area must not be negative")
		}
		if q.GreaterThan(maxArea) {
			return apperr.Validation(field, "Area too large")
		}
		if !q.Equal(q.Truncate(2)) {
			return apperr.Validation(field, "Area must have at most 2 decimal places")
		}

	case PerDay:
		if q.IsNegative() {
			return apperr.Validation(field, "Days must not be negative")
		}
		if q.GreaterThan(maxDays) {
			return apperr.Validation(field, "Too many days")
		}
		if !q.Equal(q.Truncate(0)) {
			return apperr.Validation(field, "Days must be a whole number")
		}

	case Fixed:
		return apperr.Validation(field, "fixed-price items take a quantity")

	default:
		return apperr.Validation("pricingType", fmt.Sprintf("unknown pricing type %q", t))
	}

	return nil
}

// ComputeCartTotal sums every line. The first invalid line aborts the sum and
// its field is reported as items[i].<field>.
func ComputeCartTotal(lines []Line) (int64, error) {
	_, total, err := ComputeLineTotals(lines)
	return total, err
}

// ComputeLineTotals prices each line and returns the per-line totals along
// with their sum. Errors are indexed like ComputeCartTotal.
func ComputeLineTotals(lines []Line) ([]int64, int64, error) {
	totals := make([]int64, len(lines))
	var total int64
	for i, line := range lines {
		points, err := ComputeLineTotal(line)
		if err != nil {
			return nil, 0, indexed(i, err)
		}
		if total > math.MaxInt64-points {
			return nil, 0, apperr.Validation("items", "Cart total too large")
		}
		totals[i] = points
		total += points
	}
	return totals, total, nil
}

// RemainingBalance returns the balance left after paying cartTotal
func RemainingBalance(accountBalance, cartTotal int64) int64 {
	return accountBalance - cartTotal
}

// CanSubmit reports whether the account can afford the cart
func CanSubmit(accountBalance, cartTotal int64) bool {
	return RemainingBalance(accountBalance, cartTotal) >= 0
}

// toPoints rounds to whole points, refusing values int64 cannot hold
func toPoints(field string, d decimal.Decimal) (int64, error) {
	d = d.Round(0)
	if d.GreaterThan(maxPoints) {
		return 0, apperr.Validation(field, "Line total too large")
	}
	return d.IntPart(), nil
}

func indexed(i int, err error) error {
	if e, ok := err.(*apperr.Error); ok {
		return &apperr.Error{
			Kind:   e.Kind,
			Field:  fmt.Sprintf("items[%d].%s", i, e.Field),
			Reason: e.Reason,
			Err:    e.Err,
		}
	}
	return err
}

package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule failure so callers can react without
// parsing messages.
type Kind string

const (
	KindValidation             Kind = "VALIDATION"
	KindInsufficientBalance    Kind = "INSUFFICIENT_BALANCE"
	KindStockUnavailable       Kind = "STOCK_UNAVAILABLE"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindArchivedAccount        Kind = "ARCHIVED_ACCOUNT"
	KindAuthorization          Kind = "AUTHORIZATION"
	KindNetwork                Kind = "NETWORK"
	KindNotFound               Kind = "NOT_FOUND"
	KindConflict               Kind = "CONFLICT"
	KindInternal               Kind = "INTERNAL"
)

// Error is a typed rejection. Field is set for input validation failures.
type Error struct {
	Kind   Kind
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports bad input on a specific field.
func Validation(field, reason string) *Error {
	return &Error{Kind: KindValidation, Field: field, Reason: reason}
}

// InsufficientBalance reports a delta that would drive a balance negative.
func InsufficientBalance(balance, delta int64) *Error {
	return &Error{
		Kind:   KindInsufficientBalance,
		Reason: fmt.Sprintf("insufficient points: balance=%d, delta=%d", balance, delta),
	}
}

// StockUnavailable reports a variant without enough available stock.
func StockUnavailable(variantID int64, available, requested int) *Error {
	return &Error{
		Kind:   KindStockUnavailable,
		Field:  fmt.Sprintf("variant:%d", variantID),
		Reason: fmt.Sprintf("insufficient stock: available=%d, requested=%d", available, requested),
	}
}

// InvalidTransition reports an operation on a request in the wrong state.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:   KindInvalidStateTransition,
		Reason: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

// Archived reports an operation targeting an archived account.
func Archived(accountType string, id int64) *Error {
	return &Error{
		Kind:   KindArchivedAccount,
		Reason: fmt.Sprintf("%s %d is archived", accountType, id),
	}
}

func Authorization(reason string) *Error {
	return &Error{Kind: KindAuthorization, Reason: reason}
}

func NotFound(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

func Conflict(reason string) *Error {
	return &Error{Kind: KindConflict, Reason: reason}
}

// Network wraps a transient infrastructure failure the caller may retry.
func Network(reason string, err error) *Error {
	return &Error{Kind: KindNetwork, Reason: reason, Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

package service

import (
	"errors"
	"fmt"

	"rewards-service/internal/apperr"
	"rewards-service/internal/store"
)

// errBalanceConflict signals a lost compare-and-set; the caller retries
var errBalanceConflict = errors.New("balance changed concurrently")

// translate maps repository sentinels onto application error kinds.
// Errors that already carry a kind pass through untouched.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) || errors.Is(err, errBalanceConflict) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return apperr.NotFound("account not found")
	case errors.Is(err, store.ErrVariantNotFound):
		return apperr.NotFound("variant not found")
	case errors.Is(err, store.ErrRedemptionNotFound):
		return apperr.NotFound("redemption request not found")
	case errors.Is(err, store.ErrJobNotFound):
		return apperr.NotFound("bulk job not found")
	case errors.Is(err, store.ErrSubmissionNotFound):
		return apperr.NotFound("submission not found")
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

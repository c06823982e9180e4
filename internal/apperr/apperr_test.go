package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("create redemption: %w", InsufficientBalance(100, -150))

	assert.Equal(t, KindInsufficientBalance, KindOf(err))
	assert.True(t, Is(err, KindInsufficientBalance))
	assert.False(t, Is(err, KindValidation))
}

func TestKindOfUntyped(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestValidationMessage(t *testing.T) {
	err := Validation("items[0].dynamicQuantity", "Area too large")
	assert.Equal(t, "VALIDATION: items[0].dynamicQuantity: Area too large", err.Error())
}

func TestNetworkUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Network("redis unavailable", cause)
	assert.ErrorIs(t, err, cause)
}

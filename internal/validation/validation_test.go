package validation

import (
	"errors"
	"testing"

	"rewards-service/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct {
	SKU  string  `json:"sku" binding:"required"`
	Qty  *int    `json:"qty,omitempty" binding:"required_without=Note,excluded_with=Note"`
	Note *string `json:"note" binding:"required_without=Qty"`
}

type order struct {
	Kind  string `json:"kind" binding:"required,oneof=A B"`
	Count int    `json:"count" binding:"min=1"`
	Lines []line `json:"lines" binding:"required,min=1,dive"`
}

func validOrder() order {
	n := 1
	return order{Kind: "A", Count: 1, Lines: []line{{SKU: "x", Qty: &n}}}
}

func TestStructReportsJSONFieldPaths(t *testing.T) {
	require.NoError(t, Struct(validOrder()))

	note := "gift"
	tests := []struct {
		name    string
		edit    func(o *order)
		field   string
		message string
	}{
		{"oneof", func(o *order) { o.Kind = "C" }, "kind", "Must be one of A, B"},
		{"min", func(o *order) { o.Count = 0 }, "count", "Must be at least 1"},
		{"empty slice", func(o *order) { o.Lines = []line{} }, "lines", "At least 1 required"},
		{"nested required", func(o *order) { o.Lines[0].SKU = "" }, "lines[0].sku", "sku is required"},
		{"both set", func(o *order) { o.Lines[0].Note = &note }, "lines[0].qty", "Exactly one of qty or note is required"},
		{"neither set", func(o *order) { o.Lines[0].Qty = nil }, "lines[0].qty", "Exactly one of qty or note is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOrder()
			tt.edit(&o)
			var e *apperr.Error
			require.ErrorAs(t, Struct(o), &e)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Equal(t, tt.field, e.Field)
			assert.Equal(t, tt.message, e.Reason)
		})
	}
}

func TestTranslateDecodeError(t *testing.T) {
	assert.NoError(t, Translate(nil))

	var e *apperr.Error
	require.ErrorAs(t, Translate(errors.New("unexpected EOF")), &e)
	assert.Equal(t, "body", e.Field)
	assert.Equal(t, "Invalid request body: unexpected EOF", e.Reason)
}

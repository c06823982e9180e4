package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rewards-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageRoutesSubmissions(t *testing.T) {
	qty := 2
	event := models.RedemptionSubmittedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "e-1",
			EventType: models.EventTypeRedemptionSubmitted,
			Timestamp: time.Now(),
		},
		Ticket: "t-1",
		Request: models.SubmittedRequest{
			RequestedForType:   models.RequestedForCustomer,
			RequestedForID:     7,
			RequestedByAgentID: 3,
			PointsDeductedFrom: models.DeductFromCustomer,
			Items:              []models.SubmittedItem{{VariantID: 9, Quantity: &qty}},
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var got *models.RedemptionSubmittedEvent
	h := NewEventHandler()
	h.OnRedemptionSubmitted(func(ctx context.Context, e *models.RedemptionSubmittedEvent) error {
		got = e
		return nil
	})

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, "t-1", got.Ticket)
	assert.Equal(t, int64(7), got.Request.RequestedForID)
	require.NotNil(t, got.Request.Items[0].Quantity)
	assert.Equal(t, 2, *got.Request.Items[0].Quantity)
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	payload, err := json.Marshal(models.RedemptionProcessedEvent{
		BaseEvent: models.BaseEvent{EventID: "e-2", EventType: models.EventTypeRedemptionProcessed},
		RequestID: 1,
	})
	require.NoError(t, err)

	called := false
	h := NewEventHandler()
	h.OnRedemptionSubmitted(func(ctx context.Context, e *models.RedemptionSubmittedEvent) error {
		called = true
		return nil
	})

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	assert.False(t, called)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	h := NewEventHandler()
	err := h.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

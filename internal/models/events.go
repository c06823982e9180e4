package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeRedemptionSubmitted     = "REDEMPTION_SUBMITTED"
	EventTypeRedemptionCreated       = "REDEMPTION_CREATED"
	EventTypeRedemptionProcessed     = "REDEMPTION_PROCESSED"
	EventTypeRedemptionCancelled     = "REDEMPTION_CANCELLED"
	EventTypeRedemptionStatusChanged = "REDEMPTION_STATUS_CHANGED"
	EventTypePointsAdjusted          = "POINTS_ADJUSTED"
	EventTypeBulkChunkCompleted      = "BULK_CHUNK_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RedemptionSubmittedEvent carries an accepted, not yet confirmed, request
type RedemptionSubmittedEvent struct {
	BaseEvent
	Ticket  string           `json:"ticket"`
	Request SubmittedRequest `json:"request"`
}

// SubmittedRequest is the wire form of a redemption submission
type SubmittedRequest struct {
	RequestedForType   string          `json:"requestedForType" binding:"required,oneof=CUSTOMER DISTRIBUTOR"`
	RequestedForID     int64           `json:"requestedForId" binding:"required,min=1"`
	RequestedByAgentID int64           `json:"requestedByAgentId" binding:"required,min=1"`
	PointsDeductedFrom string          `json:"pointsDeductedFrom" binding:"required,oneof=SELF DISTRIBUTOR CUSTOMER"`
	Items              []SubmittedItem `json:"items" binding:"required,min=1,dive"`
	Remarks            string          `json:"remarks,omitempty"`
	ServiceVehicle     *ServiceVehicle `json:"serviceVehicle,omitempty"`
}

// SubmittedItem is one requested variant with either quantity or dynamicQuantity
type SubmittedItem struct {
	VariantID       int64            `json:"variantId" binding:"required,min=1"`
	Quantity        *int             `json:"quantity,omitempty" binding:"required_without=DynamicQuantity,excluded_with=DynamicQuantity"`
	DynamicQuantity *decimal.Decimal `json:"dynamicQuantity,omitempty" binding:"required_without=Quantity"`
}

// RedemptionCreatedEvent published when a request is debited and reserved
type RedemptionCreatedEvent struct {
	BaseEvent
	RequestID          int64                `json:"request_id"`
	RequestedForType   string               `json:"requested_for_type"`
	RequestedForID     int64                `json:"requested_for_id"`
	ChargedAccountType AccountType          `json:"charged_account_type"`
	ChargedAccountID   int64                `json:"charged_account_id"`
	TotalPoints        int64                `json:"total_points"`
	Items              []RedemptionItemData `json:"items"`
}

// RedemptionProcessedEvent published when reserved stock is consumed
type RedemptionProcessedEvent struct {
	BaseEvent
	RequestID   int64  `json:"request_id"`
	ProcessedBy *int64 `json:"processed_by,omitempty"`
	Remarks     string `json:"remarks,omitempty"`
}

// RedemptionCancelledEvent published when points are refunded and stock released
type RedemptionCancelledEvent struct {
	BaseEvent
	RequestID      int64  `json:"request_id"`
	RefundedPoints int64  `json:"refunded_points"`
	Reason         string `json:"reason"`
}

// RedemptionStatusChangedEvent published on the approval axis
type RedemptionStatusChangedEvent struct {
	BaseEvent
	RequestID int64  `json:"request_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// PointsAdjustedEvent published for single-target balance corrections
type PointsAdjustedEvent struct {
	BaseEvent
	AccountType  AccountType `json:"account_type"`
	AccountID    int64       `json:"account_id"`
	Delta        int64       `json:"delta"`
	BalanceAfter int64       `json:"balance_after"`
	Reason       string      `json:"reason"`
}

// BulkChunkCompletedEvent published after each committed bulk chunk
type BulkChunkCompletedEvent struct {
	BaseEvent
	JobID        string `json:"job_id"`
	Chunk        int    `json:"chunk"`
	TotalChunks  int    `json:"total_chunks"`
	SuccessCount int    `json:"success_count"`
	FailedCount  int    `json:"failed_count"`
}

// RedemptionItemData represents item data in events
type RedemptionItemData struct {
	VariantID   int64 `json:"variant_id"`
	StockUnits  int   `json:"stock_units"`
	TotalPoints int64 `json:"total_points"`
}

package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType identifies which balance holder an account is
type AccountType string

const (
	AccountTypeCustomer    AccountType = "CUSTOMER"
	AccountTypeDistributor AccountType = "DISTRIBUTOR"
	AccountTypeSalesAgent  AccountType = "SALES_AGENT"
)

// Valid reports whether t is a known account type
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeCustomer, AccountTypeDistributor, AccountTypeSalesAgent:
		return true
	}
	return false
}

var accountTypeSlugs = map[string]AccountType{
	"customers":    AccountTypeCustomer,
	"distributors": AccountTypeDistributor,
	"sales-agents": AccountTypeSalesAgent,
}

// ParseAccountType accepts either the enum value or its URL slug
func ParseAccountType(s string) (AccountType, bool) {
	if t := AccountType(strings.ToUpper(s)); t.Valid() {
		return t, true
	}
	t, ok := accountTypeSlugs[strings.ToLower(s)]
	return t, ok
}

// Account represents a points balance holder
type Account struct {
	ID         int64       `db:"id" json:"id"`
	Type       AccountType `db:"account_type" json:"type"`
	Name       string      `db:"name" json:"name"`
	Email      string      `db:"email" json:"email"`
	Location   string      `db:"location" json:"location"`
	Points     int64       `db:"points" json:"points"`
	IsArchived bool        `db:"is_archived" json:"isArchived"`
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updatedAt"`
}

// Variant represents a redeemable catalogue item variant with its stock
type Variant struct {
	ID               int64               `db:"id" json:"id"`
	ItemID           int64               `db:"item_id" json:"itemId"`
	Name             string              `db:"name" json:"name"`
	PricingType      string              `db:"pricing_type" json:"pricingType"`
	UnitPoints       decimal.Decimal     `db:"unit_points" json:"unitPoints"`
	PointsMultiplier decimal.NullDecimal `db:"points_multiplier" json:"pointsMultiplier"`
	NeedsDriver      bool                `db:"needs_driver" json:"needsDriver"`
	Stock            int                 `db:"stock" json:"stock"`
	CommittedStock   int                 `db:"committed_stock" json:"committedStock"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updatedAt"`
}

// Available returns stock not reserved by pending requests
func (v *Variant) Available() int {
	return v.Stock - v.CommittedStock
}

// LedgerEntry records one applied balance delta
type LedgerEntry struct {
	ID             int64       `db:"id" json:"id"`
	AccountType    AccountType `db:"account_type" json:"accountType"`
	AccountID      int64       `db:"account_id" json:"accountId"`
	Delta          int64       `db:"delta" json:"delta"`
	BalanceAfter   int64       `db:"balance_after" json:"balanceAfter"`
	Reason         string      `db:"reason" json:"reason"`
	IdempotencyKey string      `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
}

// Requested-for types
const (
	RequestedForDistributor = "DISTRIBUTOR"
	RequestedForCustomer    = "CUSTOMER"
)

// Points-deducted-from sources
const (
	DeductFromSelf        = "SELF"
	DeductFromDistributor = "DISTRIBUTOR"
	DeductFromCustomer    = "CUSTOMER"
)

// Approval statuses
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// Processing statuses
const (
	ProcessingNotProcessed = "NOT_PROCESSED"
	ProcessingProcessed    = "PROCESSED"
	ProcessingCancelled    = "CANCELLED"
)

// RedemptionRequest represents a points redemption against one account
type RedemptionRequest struct {
	ID                 int64                `db:"id" json:"id"`
	RequestedForType   string               `db:"requested_for_type" json:"requestedForType"`
	RequestedForID     int64                `db:"requested_for_id" json:"requestedForId"`
	RequestedByAgentID int64                `db:"requested_by_agent_id" json:"requestedByAgentId"`
	PointsDeductedFrom string               `db:"points_deducted_from" json:"pointsDeductedFrom"`
	ChargedAccountType AccountType          `db:"charged_account_type" json:"chargedAccountType"`
	ChargedAccountID   int64                `db:"charged_account_id" json:"chargedAccountId"`
	TotalPoints        int64                `db:"total_points" json:"totalPoints"`
	Status             string               `db:"status" json:"status"`
	ProcessingStatus   string               `db:"processing_status" json:"processingStatus"`
	Remarks            string               `db:"remarks" json:"remarks"`
	CancellationReason string               `db:"cancellation_reason" json:"cancellationReason,omitempty"`
	VehicleDate        *string              `db:"vehicle_date" json:"-"`
	VehicleTime        *string              `db:"vehicle_time" json:"-"`
	VehicleWithDriver  *bool                `db:"vehicle_with_driver" json:"-"`
	ServiceVehicle     *ServiceVehicle      `db:"-" json:"serviceVehicle,omitempty"`
	IdempotencyKey     string               `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	Items              []RequestItemVariant `db:"-" json:"items"`
	CreatedAt          time.Time            `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time            `db:"updated_at" json:"updatedAt"`
	ProcessedAt        *time.Time           `db:"processed_at" json:"processedAt,omitempty"`
	CancelledAt        *time.Time           `db:"cancelled_at" json:"cancelledAt,omitempty"`
}

// Terminal reports whether the processing axis can no longer change
func (r *RedemptionRequest) Terminal() bool {
	return r.ProcessingStatus != ProcessingNotProcessed
}

// ServiceVehicle is the optional vehicle booking attached to a request
type ServiceVehicle struct {
	Date       string `json:"date" binding:"required,datetime=2006-01-02"`
	Time       string `json:"time" binding:"required,datetime=15:04"`
	WithDriver bool   `json:"withDriver"`
}

// RequestItemVariant is the price snapshot of one requested variant
type RequestItemVariant struct {
	ID              int64               `db:"id" json:"id"`
	RequestID       int64               `db:"request_id" json:"requestId"`
	VariantID       int64               `db:"variant_id" json:"variantId"`
	PricingType     string              `db:"pricing_type" json:"pricingType"`
	Quantity        int                 `db:"quantity" json:"quantity"`
	DynamicQuantity decimal.NullDecimal `db:"dynamic_quantity" json:"dynamicQuantity"`
	PointsPerItem   decimal.Decimal     `db:"points_per_item" json:"pointsPerItem"`
	TotalPoints     int64               `db:"total_points" json:"totalPoints"`
	StockUnits      int                 `db:"stock_units" json:"stockUnits"`
	ItemProcessedBy *int64              `db:"item_processed_by" json:"itemProcessedBy,omitempty"`
}

// RedemptionFilter narrows redemption listings
type RedemptionFilter struct {
	ProcessingStatus string
	Status           string
	RequestedForType string
	RequestedForID   int64
	Limit            int
}

// Bulk operations
const (
	BulkOperationDelta = "DELTA"
	BulkOperationReset = "RESET"
)

// BulkJob is a resumable chunked balance adjustment over a snapshot of accounts
type BulkJob struct {
	ID           string      `json:"id"`
	AccountType  AccountType `json:"accountType"`
	Operation    string      `json:"operation"`
	Delta        int64       `json:"delta"`
	Reason       string      `json:"reason"`
	AccountIDs   []int64     `json:"accountIds"`
	ChunkSize    int         `json:"chunkSize"`
	HighWater    int         `json:"highWater"`
	SuccessCount int         `json:"successCount"`
	FailedCount  int         `json:"failedCount"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// TotalChunks returns how many chunks the account snapshot splits into
func (j *BulkJob) TotalChunks() int {
	if j.ChunkSize <= 0 || len(j.AccountIDs) == 0 {
		return 0
	}
	return (len(j.AccountIDs) + j.ChunkSize - 1) / j.ChunkSize
}

// Chunk returns the account IDs of chunk i (zero-based)
func (j *BulkJob) Chunk(i int) []int64 {
	if i < 0 || i >= j.TotalChunks() {
		return nil
	}
	start := i * j.ChunkSize
	end := start + j.ChunkSize
	if end > len(j.AccountIDs) {
		end = len(j.AccountIDs)
	}
	return j.AccountIDs[start:end]
}

// Done reports whether every chunk has committed
func (j *BulkJob) Done() bool {
	return j.HighWater >= j.TotalChunks()
}

// Submission states
const (
	SubmissionAccepted  = "ACCEPTED"
	SubmissionConfirmed = "CONFIRMED"
	SubmissionFailed    = "FAILED"
)

// Submission tracks an asynchronously confirmed redemption request
type Submission struct {
	Ticket    string    `json:"ticket"`
	State     string    `json:"state"`
	RequestID int64     `json:"requestId,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

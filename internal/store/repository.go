package store

import (
	"context"
	"errors"
	"time"

	"rewards-service/internal/models"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrVariantNotFound    = errors.New("variant not found")
	ErrRedemptionNotFound = errors.New("redemption request not found")
	ErrJobNotFound        = errors.New("bulk job not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrStockUnderflow     = errors.New("stock underflow")
	ErrInvalidUnits       = errors.New("stock units must be at least 1")

	ErrDuplicateLedgerKey      = errors.New("ledger idempotency key already used")
	ErrDuplicateIdempotencyKey = errors.New("redemption idempotency key already used")
)

// Repository is the persistence boundary for accounts, catalogue stock and
// redemption requests. Implementations must provide atomic per-row
// compare-and-set for balances and conditional updates for stock.
type Repository interface {
	// InTx runs fn against a transactional view. Any error rolls back every
	// write made through that view.
	InTx(ctx context.Context, fn func(Repository) error) error

	GetAccount(ctx context.Context, accountType models.AccountType, id int64) (*models.Account, error)
	ListAccountIDs(ctx context.Context, accountType models.AccountType) ([]int64, error)
	SearchAccounts(ctx context.Context, accountType models.AccountType, query string, limit int) ([]models.Account, error)
	CompareAndSetPoints(ctx context.Context, accountType models.AccountType, id, expected, points int64) (bool, error)

	LedgerEntryExists(ctx context.Context, idempotencyKey string) (bool, error)
	InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, accountType models.AccountType, id int64, limit int) ([]models.LedgerEntry, error)

	GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.Variant, error)
	ReserveStock(ctx context.Context, variantID int64, units int) (bool, error)
	ReleaseStock(ctx context.Context, variantID int64, units int) error
	ConsumeStock(ctx context.Context, variantID int64, units int) error

	CreateRedemption(ctx context.Context, req *models.RedemptionRequest) error
	GetRedemption(ctx context.Context, id int64) (*models.RedemptionRequest, error)
	GetRedemptionByIdempotencyKey(ctx context.Context, key string) (*models.RedemptionRequest, error)
	TransitionProcessing(ctx context.Context, id int64, from, to string, update ProcessingUpdate) (bool, error)
	TransitionStatus(ctx context.Context, id int64, from, to string) (bool, error)
	ListRedemptions(ctx context.Context, filter models.RedemptionFilter) ([]models.RedemptionRequest, error)
}

// ProcessingUpdate carries the columns written alongside a processing transition
type ProcessingUpdate struct {
	Remarks            string
	CancellationReason string
	ProcessedBy        *int64
	At                 time.Time
}

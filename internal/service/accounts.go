package service

import (
	"context"
	"strings"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"
	"rewards-service/internal/store"
)

const defaultLedgerLimit = 50

// AccountService serves account lookups for picking a redemption target
type AccountService struct {
	repo        store.Repository
	minQueryLen int
	resultLimit int
}

// NewAccountService creates a new account service
func NewAccountService(repo store.Repository, minQueryLen, resultLimit int) *AccountService {
	if minQueryLen < 1 {
		minQueryLen = 2
	}
	if resultLimit < 1 {
		resultLimit = 20
	}
	return &AccountService{repo: repo, minQueryLen: minQueryLen, resultLimit: resultLimit}
}

// Search returns ranked non-archived accounts matching q. Queries shorter
// than the minimum length return no results.
func (s *AccountService) Search(ctx context.Context, accountType models.AccountType, q string) ([]models.Account, error) {
	if !accountType.Valid() {
		return nil, apperr.Validation("accountType", "Unknown account type")
	}
	q = strings.TrimSpace(q)
	if len([]rune(q)) < s.minQueryLen {
		return []models.Account{}, nil
	}

	accounts, err := s.repo.SearchAccounts(ctx, accountType, q, s.resultLimit)
	if err != nil {
		return nil, translate(err, "search accounts")
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	return accounts, nil
}

// Get returns one account
func (s *AccountService) Get(ctx context.Context, accountType models.AccountType, id int64) (*models.Account, error) {
	if !accountType.Valid() {
		return nil, apperr.Validation("accountType", "Unknown account type")
	}
	account, err := s.repo.GetAccount(ctx, accountType, id)
	if err != nil {
		return nil, translate(err, "get account")
	}
	return account, nil
}

// Ledger returns the most recent balance changes of an account
func (s *AccountService) Ledger(ctx context.Context, accountType models.AccountType, id int64, limit int) ([]models.LedgerEntry, error) {
	if _, err := s.Get(ctx, accountType, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultLedgerLimit
	}
	entries, err := s.repo.ListLedgerEntries(ctx, accountType, id, limit)
	if err != nil {
		return nil, translate(err, "list ledger entries")
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return entries, nil
}

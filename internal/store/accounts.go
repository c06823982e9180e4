package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"rewards-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetAccount retrieves an account by type and ID
func (s *Store) GetAccount(ctx context.Context, accountType models.AccountType, id int64) (*models.Account, error) {
	var account models.Account
	err := sqlx.GetContext(ctx, s.ext, &account,
		"SELECT * FROM accounts WHERE account_type = $1 AND id = $2", accountType, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccountIDs returns every account ID of a type, archived included
func (s *Store) ListAccountIDs(ctx context.Context, accountType models.AccountType) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, s.ext, &ids,
		"SELECT id FROM accounts WHERE account_type = $1 ORDER BY id", accountType)
	return ids, err
}

// SearchAccounts finds non-archived accounts matching name, email or location.
// Exact name matches rank first, then name prefixes, then name substrings.
func (s *Store) SearchAccounts(ctx context.Context, accountType models.AccountType, query string, limit int) ([]models.Account, error) {
	escaped := escapeLike(query)

	var accounts []models.Account
	err := sqlx.SelectContext(ctx, s.ext, &accounts, `
		SELECT * FROM accounts
		WHERE account_type = $1 AND NOT is_archived
		  AND (name ILIKE $2 OR email ILIKE $2 OR location ILIKE $2)
		ORDER BY
		  CASE
		    WHEN lower(name) = lower($3) THEN 0
		    WHEN name ILIKE $4 THEN 1
		    WHEN name ILIKE $2 THEN 2
		    ELSE 3
		  END,
		  name, id
		LIMIT $5`,
		accountType, "%"+escaped+"%", query, escaped+"%", limit)
	return accounts, err
}

// CompareAndSetPoints writes points only if the stored balance still equals expected
func (s *Store) CompareAndSetPoints(ctx context.Context, accountType models.AccountType, id, expected, points int64) (bool, error) {
	res, err := s.ext.ExecContext(ctx,
		"UPDATE accounts SET points = $1, updated_at = NOW() WHERE account_type = $2 AND id = $3 AND points = $4",
		points, accountType, id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LedgerEntryExists checks whether a delta with this key was already applied
func (s *Store) LedgerEntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.ext, &exists,
		"SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)", idempotencyKey)
	return exists, err
}

// InsertLedgerEntry records an applied delta
func (s *Store) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (account_type, account_id, delta, balance_after, reason, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, s.ext, entry, query,
		entry.AccountType, entry.AccountID, entry.Delta, entry.BalanceAfter, entry.Reason, entry.IdempotencyKey)
	if isUniqueViolation(err) {
		return ErrDuplicateLedgerKey
	}
	return err
}

// ListLedgerEntries returns the most recent ledger entries of an account
func (s *Store) ListLedgerEntries(ctx context.Context, accountType models.AccountType, id int64, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := sqlx.SelectContext(ctx, s.ext, &entries, `
		SELECT id, account_type, account_id, delta, balance_after, reason,
		       COALESCE(idempotency_key, '') AS idempotency_key, created_at
		FROM ledger_entries
		WHERE account_type = $1 AND account_id = $2
		ORDER BY id DESC
		LIMIT $3`, accountType, id, limit)
	return entries, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

package service

import (
	"context"
	"errors"
	"strings"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"
	"rewards-service/internal/store"
	"rewards-service/internal/util"

	"go.uber.org/zap"
)

// LedgerService applies signed point deltas to account balances. Every
// change is a compare-and-set on the balance plus a ledger entry, written in
// one repository transaction.
type LedgerService struct {
	repo       store.Repository
	events     EventPublisher
	maxRetries int
	logger     *zap.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(repo store.Repository, events EventPublisher, maxRetries int) *LedgerService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &LedgerService{
		repo:       repo,
		events:     events,
		maxRetries: maxRetries,
		logger:     util.GetLogger(),
	}
}

// adjustment describes one balance change
type adjustment struct {
	accountType models.AccountType
	accountID   int64
	delta       int64
	// reset replaces delta with -balance read inside the transaction
	reset bool
	// expected, when set, must equal the balance read inside the transaction
	expected      *int64
	reason        string
	key           string
	allowArchived bool
}

// applyAdjustment runs inside a transaction. The returned bool is false when
// the idempotency key was already recorded and nothing was changed.
func applyAdjustment(ctx context.Context, repo store.Repository, adj adjustment) (*models.LedgerEntry, bool, error) {
	if adj.key != "" {
		done, err := repo.LedgerEntryExists(ctx, adj.key)
		if err != nil {
			return nil, false, err
		}
		if done {
			account, err := repo.GetAccount(ctx, adj.accountType, adj.accountID)
			if err != nil {
				return nil, false, err
			}
			return &models.LedgerEntry{
				AccountType:    adj.accountType,
				AccountID:      adj.accountID,
				BalanceAfter:   account.Points,
				Reason:         adj.reason,
				IdempotencyKey: adj.key,
			}, false, nil
		}
	}

	account, err := repo.GetAccount(ctx, adj.accountType, adj.accountID)
	if err != nil {
		return nil, false, err
	}
	if account.IsArchived && !adj.allowArchived {
		return nil, false, apperr.Archived(string(account.Type), account.ID)
	}
	if adj.expected != nil && *adj.expected != account.Points {
		return nil, false, errBalanceConflict
	}

	delta := adj.delta
	if adj.reset {
		delta = -account.Points
	}

	balance := account.Points + delta
	if balance < 0 {
		return nil, false, apperr.InsufficientBalance(account.Points, delta)
	}

	ok, err := repo.CompareAndSetPoints(ctx, adj.accountType, adj.accountID, account.Points, balance)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errBalanceConflict
	}

	entry := &models.LedgerEntry{
		AccountType:    adj.accountType,
		AccountID:      adj.accountID,
		Delta:          delta,
		BalanceAfter:   balance,
		Reason:         adj.reason,
		IdempotencyKey: adj.key,
	}
	if err := repo.InsertLedgerEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerKey) {
			return nil, false, errBalanceConflict
		}
		return nil, false, err
	}
	return entry, true, nil
}

// withRetry reruns fn while it loses a balance compare-and-set
func (s *LedgerService) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := fn()
		if !errors.Is(err, errBalanceConflict) {
			return err
		}
		util.LedgerConflictRetries.Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return apperr.Conflict("balance kept changing concurrently, retry later")
}

// adjust applies adj in its own transaction with retries
func (s *LedgerService) adjust(ctx context.Context, adj adjustment) (*models.LedgerEntry, bool, error) {
	var (
		entry   *models.LedgerEntry
		applied bool
	)
	err := s.withRetry(ctx, func() error {
		return s.repo.InTx(ctx, func(tx store.Repository) error {
			var err error
			entry, applied, err = applyAdjustment(ctx, tx, adj)
			return err
		})
	})
	if err != nil {
		util.LedgerDeltasTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, false, translate(err, "apply delta")
	}
	if applied {
		util.LedgerDeltasTotal.WithLabelValues("applied").Inc()
	} else {
		util.LedgerDeltasTotal.WithLabelValues("duplicate").Inc()
	}
	return entry, applied, nil
}

// ApplyDelta adds delta to the account balance and returns the new balance.
// A delta that would drive the balance negative is rejected and nothing changes.
func (s *LedgerService) ApplyDelta(ctx context.Context, accountType models.AccountType, id, delta int64, reason string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.ApplyDelta")
	defer span.End()

	if !accountType.Valid() {
		return 0, apperr.Validation("accountType", "Unknown account type")
	}

	entry, _, err := s.adjust(ctx, adjustment{
		accountType: accountType,
		accountID:   id,
		delta:       delta,
		reason:      strings.TrimSpace(reason),
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Points adjusted",
		zap.String("account_type", string(accountType)),
		zap.Int64("account_id", id),
		zap.Int64("delta", delta),
		zap.Int64("balance", entry.BalanceAfter))
	s.publishAdjusted(ctx, entry)
	return entry.BalanceAfter, nil
}

// SetBalance handles absolute corrections. The new value is turned into a
// delta against the balance observed in the same transaction; if another
// writer changes the balance in between the call fails with CONFLICT rather
// than overwriting that change.
func (s *LedgerService) SetBalance(ctx context.Context, accountType models.AccountType, id, points int64, reason string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.SetBalance")
	defer span.End()

	if !accountType.Valid() {
		return 0, apperr.Validation("accountType", "Unknown account type")
	}
	if points < 0 {
		return 0, apperr.Validation("points", "Points must not be negative")
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "manual correction"
	}

	var entry *models.LedgerEntry
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		account, err := tx.GetAccount(ctx, accountType, id)
		if err != nil {
			return err
		}
		current := account.Points
		entry, _, err = applyAdjustment(ctx, tx, adjustment{
			accountType: accountType,
			accountID:   id,
			delta:       points - current,
			expected:    &current,
			reason:      reason,
		})
		return err
	})
	if errors.Is(err, errBalanceConflict) {
		util.LedgerDeltasTotal.WithLabelValues("conflict").Inc()
		return 0, apperr.Conflict("points changed while being edited, reload and try again")
	}
	if err != nil {
		util.LedgerDeltasTotal.WithLabelValues(resultLabel(err)).Inc()
		return 0, translate(err, "set balance")
	}
	util.LedgerDeltasTotal.WithLabelValues("applied").Inc()

	s.logger.Info("Points set",
		zap.String("account_type", string(accountType)),
		zap.Int64("account_id", id),
		zap.Int64("delta", entry.Delta),
		zap.Int64("balance", entry.BalanceAfter))
	s.publishAdjusted(ctx, entry)
	return entry.BalanceAfter, nil
}

func (s *LedgerService) publishAdjusted(ctx context.Context, entry *models.LedgerEntry) {
	event := &models.PointsAdjustedEvent{
		BaseEvent:    newBaseEvent(models.EventTypePointsAdjusted),
		AccountType:  entry.AccountType,
		AccountID:    entry.AccountID,
		Delta:        entry.Delta,
		BalanceAfter: entry.BalanceAfter,
		Reason:       entry.Reason,
	}
	if err := s.events.PublishPointsAdjusted(ctx, event); err != nil {
		s.logger.Error("Failed to publish PointsAdjusted event", zap.Error(err))
	}
}

func resultLabel(err error) string {
	return strings.ToLower(string(apperr.KindOf(err)))
}

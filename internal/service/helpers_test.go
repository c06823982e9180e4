package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"rewards-service/internal/models"
	"rewards-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "s3cret-confirm"

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *recordingPublisher) PublishRedemptionCreated(ctx context.Context, e *models.RedemptionCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishRedemptionProcessed(ctx context.Context, e *models.RedemptionProcessedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishRedemptionCancelled(ctx context.Context, e *models.RedemptionCancelledEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishRedemptionStatusChanged(ctx context.Context, e *models.RedemptionStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPointsAdjusted(ctx context.Context, e *models.PointsAdjustedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishBulkChunkCompleted(ctx context.Context, e *models.BulkChunkCompletedEvent) error {
	return p.record(e.EventType)
}

type fixture struct {
	repo        *store.Memory
	jobs        *store.MemoryJobs
	events      *recordingPublisher
	ledger      *LedgerService
	bulk        *BulkService
	redemptions *RedemptionService
	accounts    *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	f := &fixture{
		repo:   store.NewMemory(),
		jobs:   store.NewMemoryJobs(),
		events: &recordingPublisher{},
	}
	f.ledger = NewLedgerService(f.repo, f.events, 5)
	f.bulk = NewBulkService(f.repo, f.ledger, f.jobs, f.events, BulkConfig{
		ChunkSize:    3,
		Concurrency:  4,
		PasswordHash: string(hash),
		JobTTL:       time.Hour,
	})
	f.redemptions = NewRedemptionService(f.repo, f.ledger, f.events)
	f.accounts = NewAccountService(f.repo, 2, 20)
	return f
}

func (f *fixture) account(typ models.AccountType, name string, points int64) models.Account {
	return f.repo.AddAccount(models.Account{Type: typ, Name: name, Points: points})
}

func (f *fixture) balance(t *testing.T, typ models.AccountType, id int64) int64 {
	t.Helper()
	a, err := f.repo.GetAccount(context.Background(), typ, id)
	require.NoError(t, err)
	return a.Points
}

func (f *fixture) variant(t *testing.T, id int64) models.Variant {
	t.Helper()
	vs, err := f.repo.GetVariantsByIDs(context.Background(), []int64{id})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	return vs[0]
}

func fixedVariant(id int64, unitPoints int64, stock int) models.Variant {
	return models.Variant{
		ID:          id,
		ItemID:      id,
		Name:        "fixed",
		PricingType: "FIXED",
		UnitPoints:  decimal.NewFromInt(unitPoints),
		Stock:       stock,
	}
}

func dynamicVariant(id int64, pricingType string, multiplier int64, stock int) models.Variant {
	return models.Variant{
		ID:               id,
		ItemID:           id,
		Name:             "metered",
		PricingType:      pricingType,
		UnitPoints:       decimal.NewFromInt(1),
		PointsMultiplier: decimal.NewNullDecimal(decimal.NewFromInt(multiplier)),
		Stock:            stock,
	}
}

func qty(n int) *int { return &n }

func dyn(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"rewards-service/internal/models"
)

type accountKey struct {
	typ models.AccountType
	id  int64
}

type memState struct {
	accounts    map[accountKey]models.Account
	variants    map[int64]models.Variant
	redemptions map[int64]models.RedemptionRequest
	ledger      []models.LedgerEntry
	ledgerKeys  map[string]struct{}

	accountSeq    int64
	redemptionSeq int64
	itemSeq       int64
	ledgerSeq     int64
}

func (s *memState) clone() *memState {
	c := *s
	c.accounts = make(map[accountKey]models.Account, len(s.accounts))
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.variants = make(map[int64]models.Variant, len(s.variants))
	for k, v := range s.variants {
		c.variants[k] = v
	}
	c.redemptions = make(map[int64]models.RedemptionRequest, len(s.redemptions))
	for k, v := range s.redemptions {
		c.redemptions[k] = copyRedemption(v)
	}
	c.ledger = append([]models.LedgerEntry(nil), s.ledger...)
	c.ledgerKeys = make(map[string]struct{}, len(s.ledgerKeys))
	for k := range s.ledgerKeys {
		c.ledgerKeys[k] = struct{}{}
	}
	return &c
}

// Memory is an in-process Repository. A single mutex serializes every
// operation; InTx holds it for the whole callback and restores a snapshot
// when the callback fails.
type Memory struct {
	mu   *sync.Mutex
	root **memState
	inTx bool
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	st := &memState{
		accounts:    make(map[accountKey]models.Account),
		variants:    make(map[int64]models.Variant),
		redemptions: make(map[int64]models.RedemptionRequest),
		ledgerKeys:  make(map[string]struct{}),
	}
	return &Memory{mu: &sync.Mutex{}, root: &st}
}

func (m *Memory) state() *memState {
	return *m.root
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// AddAccount seeds an account and returns it with its assigned ID
func (m *Memory) AddAccount(a models.Account) models.Account {
	defer m.lock()()
	st := m.state()
	if a.ID == 0 {
		st.accountSeq++
		a.ID = st.accountSeq
	} else if a.ID > st.accountSeq {
		st.accountSeq = a.ID
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	st.accounts[accountKey{a.Type, a.ID}] = a
	return a
}

// AddVariant seeds a catalogue variant
func (m *Memory) AddVariant(v models.Variant) models.Variant {
	defer m.lock()()
	v.UpdatedAt = time.Now()
	m.state().variants[v.ID] = v
	return v
}

// InTx runs fn with the store locked, rolling back on error
func (m *Memory) InTx(ctx context.Context, fn func(Repository) error) error {
	if m.inTx {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state().clone()
	if err := fn(&Memory{mu: m.mu, root: m.root, inTx: true}); err != nil {
		*m.root = snapshot
		return err
	}
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, accountType models.AccountType, id int64) (*models.Account, error) {
	defer m.lock()()
	a, ok := m.state().accounts[accountKey{accountType, id}]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (m *Memory) ListAccountIDs(ctx context.Context, accountType models.AccountType) ([]int64, error) {
	defer m.lock()()
	var ids []int64
	for k := range m.state().accounts {
		if k.typ == accountType {
			ids = append(ids, k.id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) SearchAccounts(ctx context.Context, accountType models.AccountType, query string, limit int) ([]models.Account, error) {
	defer m.lock()()
	q := strings.ToLower(query)

	type ranked struct {
		rank    int
		account models.Account
	}
	var hits []ranked
	for k, a := range m.state().accounts {
		if k.typ != accountType || a.IsArchived {
			continue
		}
		name := strings.ToLower(a.Name)
		rank := -1
		switch {
		case name == q:
			rank = 0
		case strings.HasPrefix(name, q):
			rank = 1
		case strings.Contains(name, q):
			rank = 2
		case strings.Contains(strings.ToLower(a.Email), q), strings.Contains(strings.ToLower(a.Location), q):
			rank = 3
		}
		if rank >= 0 {
			hits = append(hits, ranked{rank, a})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		if hits[i].account.Name != hits[j].account.Name {
			return hits[i].account.Name < hits[j].account.Name
		}
		return hits[i].account.ID < hits[j].account.ID
	})

	out := make([]models.Account, 0, len(hits))
	for i, h := range hits {
		if limit > 0 && i >= limit {
			break
		}
		out = append(out, h.account)
	}
	return out, nil
}

func (m *Memory) CompareAndSetPoints(ctx context.Context, accountType models.AccountType, id, expected, points int64) (bool, error) {
	defer m.lock()()
	st := m.state()
	key := accountKey{accountType, id}
	a, ok := st.accounts[key]
	if !ok || a.Points != expected {
		return false, nil
	}
	a.Points = points
	a.UpdatedAt = time.Now()
	st.accounts[key] = a
	return true, nil
}

func (m *Memory) LedgerEntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	defer m.lock()()
	_, ok := m.state().ledgerKeys[idempotencyKey]
	return ok, nil
}

func (m *Memory) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	defer m.lock()()
	st := m.state()
	if entry.IdempotencyKey != "" {
		if _, dup := st.ledgerKeys[entry.IdempotencyKey]; dup {
			return ErrDuplicateLedgerKey
		}
		st.ledgerKeys[entry.IdempotencyKey] = struct{}{}
	}
	st.ledgerSeq++
	entry.ID = st.ledgerSeq
	entry.CreatedAt = time.Now()
	st.ledger = append(st.ledger, *entry)
	return nil
}

func (m *Memory) ListLedgerEntries(ctx context.Context, accountType models.AccountType, id int64, limit int) ([]models.LedgerEntry, error) {
	defer m.lock()()
	var out []models.LedgerEntry
	ledger := m.state().ledger
	for i := len(ledger) - 1; i >= 0; i-- {
		e := ledger[i]
		if e.AccountType != accountType || e.AccountID != id {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.Variant, error) {
	defer m.lock()()
	seen := make(map[int64]bool, len(ids))
	out := []models.Variant{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if v, ok := m.state().variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) ReserveStock(ctx context.Context, variantID int64, units int) (bool, error) {
	if units < 1 {
		return false, ErrInvalidUnits
	}
	defer m.lock()()
	st := m.state()
	v, ok := st.variants[variantID]
	if !ok || v.Available() < units {
		return false, nil
	}
	v.CommittedStock += units
	v.UpdatedAt = time.Now()
	st.variants[variantID] = v
	return true, nil
}

func (m *Memory) ReleaseStock(ctx context.Context, variantID int64, units int) error {
	if units < 1 {
		return ErrInvalidUnits
	}
	defer m.lock()()
	st := m.state()
	v, ok := st.variants[variantID]
	if !ok || v.CommittedStock < units {
		return ErrStockUnderflow
	}
	v.CommittedStock -= units
	v.UpdatedAt = time.Now()
	st.variants[variantID] = v
	return nil
}

func (m *Memory) ConsumeStock(ctx context.Context, variantID int64, units int) error {
	if units < 1 {
		return ErrInvalidUnits
	}
	defer m.lock()()
	st := m.state()
	v, ok := st.variants[variantID]
	if !ok || v.CommittedStock < units || v.Stock < units {
		return ErrStockUnderflow
	}
	v.Stock -= units
	v.CommittedStock -= units
	v.UpdatedAt = time.Now()
	st.variants[variantID] = v
	return nil
}

func (m *Memory) CreateRedemption(ctx context.Context, req *models.RedemptionRequest) error {
	defer m.lock()()
	st := m.state()
	if req.IdempotencyKey != "" {
		for _, r := range st.redemptions {
			if r.IdempotencyKey == req.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}
	}

	st.redemptionSeq++
	now := time.Now()
	req.ID = st.redemptionSeq
	req.CreatedAt, req.UpdatedAt = now, now
	for i := range req.Items {
		st.itemSeq++
		req.Items[i].ID = st.itemSeq
		req.Items[i].RequestID = req.ID
	}
	st.redemptions[req.ID] = copyRedemption(*req)
	return nil
}

func (m *Memory) GetRedemption(ctx context.Context, id int64) (*models.RedemptionRequest, error) {
	defer m.lock()()
	r, ok := m.state().redemptions[id]
	if !ok {
		return nil, ErrRedemptionNotFound
	}
	r = copyRedemption(r)
	return &r, nil
}

func (m *Memory) GetRedemptionByIdempotencyKey(ctx context.Context, key string) (*models.RedemptionRequest, error) {
	defer m.lock()()
	for _, r := range m.state().redemptions {
		if key != "" && r.IdempotencyKey == key {
			r = copyRedemption(r)
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) TransitionProcessing(ctx context.Context, id int64, from, to string, update ProcessingUpdate) (bool, error) {
	defer m.lock()()
	st := m.state()
	r, ok := st.redemptions[id]
	if !ok || r.ProcessingStatus != from {
		return false, nil
	}

	r.ProcessingStatus = to
	if update.Remarks != "" {
		r.Remarks = update.Remarks
	}
	if update.CancellationReason != "" {
		r.CancellationReason = update.CancellationReason
	}
	at := update.At
	switch to {
	case models.ProcessingProcessed:
		r.ProcessedAt = &at
	case models.ProcessingCancelled:
		r.CancelledAt = &at
	}
	if update.ProcessedBy != nil {
		for i := range r.Items {
			by := *update.ProcessedBy
			r.Items[i].ItemProcessedBy = &by
		}
	}
	r.UpdatedAt = time.Now()
	st.redemptions[id] = r
	return true, nil
}

func (m *Memory) TransitionStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	defer m.lock()()
	st := m.state()
	r, ok := st.redemptions[id]
	if !ok || r.Status != from || r.ProcessingStatus != models.ProcessingNotProcessed {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	st.redemptions[id] = r
	return true, nil
}

func (m *Memory) ListRedemptions(ctx context.Context, filter models.RedemptionFilter) ([]models.RedemptionRequest, error) {
	defer m.lock()()
	out := []models.RedemptionRequest{}
	for _, r := range m.state().redemptions {
		if filter.ProcessingStatus != "" && r.ProcessingStatus != filter.ProcessingStatus {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.RequestedForType != "" && r.RequestedForType != filter.RequestedForType {
			continue
		}
		if filter.RequestedForID != 0 && r.RequestedForID != filter.RequestedForID {
			continue
		}
		out = append(out, copyRedemption(r))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func copyRedemption(r models.RedemptionRequest) models.RedemptionRequest {
	r.Items = append([]models.RequestItemVariant{}, r.Items...)
	if r.ServiceVehicle != nil {
		v := *r.ServiceVehicle
		r.ServiceVehicle = &v
	}
	return r
}

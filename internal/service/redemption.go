package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"
	"rewards-service/internal/pricing"
	"rewards-service/internal/store"
	"rewards-service/internal/util"
	"rewards-service/internal/validation"

	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RedemptionService owns the redemption request state machine. Creation
// debits the charged account and reserves stock; processing consumes the
// reservation; cancellation refunds the points and releases the stock.
type RedemptionService struct {
	repo   store.Repository
	ledger *LedgerService
	events EventPublisher
	logger *zap.Logger
}

// NewRedemptionService creates a new redemption service
func NewRedemptionService(repo store.Repository, ledger *LedgerService, events EventPublisher) *RedemptionService {
	return &RedemptionService{
		repo:   repo,
		ledger: ledger,
		events: events,
		logger: util.GetLogger(),
	}
}

// ValidateSubmission checks everything about a request that does not need
// the datastore. Field shapes come from the binding tags, so HTTP bodies and
// Kafka commands are held to the same rules.
func ValidateSubmission(req *models.SubmittedRequest) error {
	if req == nil {
		return apperr.Validation("request", "Request body is required")
	}
	if err := validation.Struct(req); err != nil {
		return err
	}

	if req.PointsDeductedFrom != models.DeductFromSelf && req.PointsDeductedFrom != req.RequestedForType {
		return apperr.Validation("pointsDeductedFrom", "Points can only be deducted from the requested account or SELF")
	}
	return nil
}

// chargedAccount resolves which balance pays for the request
func chargedAccount(req *models.SubmittedRequest) (models.AccountType, int64) {
	if req.PointsDeductedFrom == models.DeductFromSelf {
		return models.AccountTypeSalesAgent, req.RequestedByAgentID
	}
	return models.AccountType(req.RequestedForType), req.RequestedForID
}

// priceItems builds the item snapshots and pricing lines from the current
// catalogue. Returned units are the stock units to reserve per variant.
func priceItems(req *models.SubmittedRequest, variants map[int64]models.Variant) ([]models.RequestItemVariant, int64, map[int64]int, error) {
	lines := make([]pricing.Line, len(req.Items))
	needsDriver := false

	for i, item := range req.Items {
		v, ok := variants[item.VariantID]
		if !ok {
			return nil, 0, nil, apperr.Validation(fmt.Sprintf("items[%d].variantId", i), "Unknown variant")
		}
		pt, err := pricing.ParseType(v.PricingType)
		if err != nil {
			return nil, 0, nil, apperr.Validation(fmt.Sprintf("items[%d].pricingType", i),
				fmt.Sprintf("Unsupported pricing type %q", v.PricingType))
		}
		needsDriver = needsDriver || v.NeedsDriver

		line := pricing.Line{
			ItemID:           v.ItemID,
			Type:             pt,
			UnitPoints:       v.UnitPoints,
			PointsMultiplier: v.PointsMultiplier,
		}
		if pt.Dynamic() {
			if item.DynamicQuantity == nil {
				return nil, 0, nil, apperr.Validation(fmt.Sprintf("items[%d].dynamicQuantity", i), "Metered items take a dynamicQuantity")
			}
			line.DynamicQuantity = *item.DynamicQuantity
		} else {
			if item.Quantity == nil {
				return nil, 0, nil, apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "Fixed-price items take a quantity")
			}
			line.Quantity = *item.Quantity
		}
		lines[i] = line
	}

	if sv := req.ServiceVehicle; sv != nil && sv.WithDriver && !needsDriver {
		return nil, 0, nil, apperr.Validation("serviceVehicle.withDriver", "No requested item needs a driver")
	}

	totals, total, err := pricing.ComputeLineTotals(lines)
	if err != nil {
		return nil, 0, nil, err
	}

	items := make([]models.RequestItemVariant, len(lines))
	units := make(map[int64]int)
	for i, line := range lines {
		item := models.RequestItemVariant{
			VariantID:     req.Items[i].VariantID,
			PricingType:   string(line.Type),
			PointsPerItem: line.Rate(),
			TotalPoints:   totals[i],
			StockUnits:    1,
		}
		if line.Type.Dynamic() {
			item.DynamicQuantity.Decimal = line.DynamicQuantity
			item.DynamicQuantity.Valid = true
		} else {
			item.Quantity = line.Quantity
			item.StockUnits = line.Quantity
		}
		items[i] = item
		if units[item.VariantID] > math.MaxInt-item.StockUnits {
			return nil, 0, nil, apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "Quantity too large")
		}
		units[item.VariantID] += item.StockUnits
	}
	return items, total, units, nil
}

// Create validates the request against current balances, stock and pricing,
// then debits the charged account, reserves stock and stores the request in
// one transaction. Nothing is left behind when any step fails. A repeated
// idempotency key returns the request created the first time.
func (s *RedemptionService) Create(ctx context.Context, req *models.SubmittedRequest, idempotencyKey string) (*models.RedemptionRequest, error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.Create")
	defer span.End()

	if err := ValidateSubmission(req); err != nil {
		util.RedemptionsFailedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	if idempotencyKey != "" {
		existing, err := s.repo.GetRedemptionByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil, translate(err, "check idempotency")
		}
		if existing != nil {
			s.logger.Info("Duplicate redemption request detected",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int64("request_id", existing.ID))
			return existing, nil
		}
	}

	var created *models.RedemptionRequest
	err := s.ledger.withRetry(ctx, func() error {
		return s.repo.InTx(ctx, func(tx store.Repository) error {
			var err error
			created, err = s.createTx(ctx, tx, req, idempotencyKey)
			return err
		})
	})

	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		existing, lookupErr := s.repo.GetRedemptionByIdempotencyKey(ctx, idempotencyKey)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		err = translate(err, "create redemption request")
		util.RedemptionsFailedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		s.logger.Warn("Redemption request rejected",
			zap.String("requested_for_type", req.RequestedForType),
			zap.Int64("requested_for_id", req.RequestedForID),
			zap.Error(err))
		return nil, err
	}

	util.RedemptionsCreatedTotal.Inc()
	s.logger.Info("Redemption request created",
		zap.Int64("request_id", created.ID),
		zap.String("charged_account_type", string(created.ChargedAccountType)),
		zap.Int64("charged_account_id", created.ChargedAccountID),
		zap.Int64("total_points", created.TotalPoints))

	s.publishCreated(ctx, created)
	return created, nil
}

func (s *RedemptionService) createTx(ctx context.Context, tx store.Repository, req *models.SubmittedRequest, idempotencyKey string) (*models.RedemptionRequest, error) {
	target, err := tx.GetAccount(ctx, models.AccountType(req.RequestedForType), req.RequestedForID)
	if err != nil {
		return nil, err
	}
	if target.IsArchived {
		return nil, apperr.Archived(string(target.Type), target.ID)
	}

	chargedType, chargedID := chargedAccount(req)
	charged := target
	if chargedType != target.Type || chargedID != target.ID {
		if charged, err = tx.GetAccount(ctx, chargedType, chargedID); err != nil {
			return nil, err
		}
		if charged.IsArchived {
			return nil, apperr.Archived(string(charged.Type), charged.ID)
		}
	}

	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.VariantID)
	}
	found, err := tx.GetVariantsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	variants := make(map[int64]models.Variant, len(found))
	for _, v := range found {
		variants[v.ID] = v
	}

	items, total, units, err := priceItems(req, variants)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		v := variants[id]
		if v.Available() < units[id] {
			return nil, apperr.StockUnavailable(id, v.Available(), units[id])
		}
	}
	if !pricing.CanSubmit(charged.Points, total) {
		return nil, apperr.InsufficientBalance(charged.Points, -total)
	}

	r := &models.RedemptionRequest{
		RequestedForType:   req.RequestedForType,
		RequestedForID:     req.RequestedForID,
		RequestedByAgentID: req.RequestedByAgentID,
		PointsDeductedFrom: req.PointsDeductedFrom,
		ChargedAccountType: chargedType,
		ChargedAccountID:   chargedID,
		TotalPoints:        total,
		Status:             models.StatusPending,
		ProcessingStatus:   models.ProcessingNotProcessed,
		Remarks:            strings.TrimSpace(req.Remarks),
		ServiceVehicle:     req.ServiceVehicle,
		IdempotencyKey:     idempotencyKey,
		Items:              items,
	}
	if err := tx.CreateRedemption(ctx, r); err != nil {
		return nil, err
	}

	if _, _, err := applyAdjustment(ctx, tx, adjustment{
		accountType: chargedType,
		accountID:   chargedID,
		delta:       -total,
		reason:      "redemption:create",
		key:         fmt.Sprintf("redemption:%d:create", r.ID),
	}); err != nil {
		return nil, err
	}

	for id, n := range units {
		ok, err := tx.ReserveStock(ctx, id, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			v := variants[id]
			return nil, apperr.StockUnavailable(id, v.Available(), n)
		}
	}
	return r, nil
}

// MarkProcessed consumes the reserved stock and closes the request
func (s *RedemptionService) MarkProcessed(ctx context.Context, id int64, remarks string, processedBy *int64) (*models.RedemptionRequest, error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.MarkProcessed")
	defer span.End()

	var updated *models.RedemptionRequest
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		r, err := tx.GetRedemption(ctx, id)
		if err != nil {
			return err
		}
		if r.Terminal() {
			return apperr.InvalidTransition(r.ProcessingStatus, models.ProcessingProcessed)
		}

		ok, err := tx.TransitionProcessing(ctx, id, models.ProcessingNotProcessed, models.ProcessingProcessed, store.ProcessingUpdate{
			Remarks:     strings.TrimSpace(remarks),
			ProcessedBy: processedBy,
			At:          time.Now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition(r.ProcessingStatus, models.ProcessingProcessed)
		}

		for _, item := range r.Items {
			if err := tx.ConsumeStock(ctx, item.VariantID, item.StockUnits); err != nil {
				return fmt.Errorf("variant %d: %w", item.VariantID, err)
			}
		}

		updated, err = tx.GetRedemption(ctx, id)
		return err
	})
	if err != nil {
		return nil, translate(err, "mark redemption processed")
	}

	util.RedemptionsProcessedTotal.Inc()
	s.logger.Info("Redemption request processed", zap.Int64("request_id", id))

	event := &models.RedemptionProcessedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeRedemptionProcessed),
		RequestID:   id,
		ProcessedBy: processedBy,
		Remarks:     updated.Remarks,
	}
	if err := s.events.PublishRedemptionProcessed(ctx, event); err != nil {
		s.logger.Error("Failed to publish RedemptionProcessed event", zap.Error(err))
	}
	return updated, nil
}

// Cancel refunds the charged account, releases the reserved stock and closes
// the request. A reason is mandatory.
func (s *RedemptionService) Cancel(ctx context.Context, id int64, reason, remarks string) (*models.RedemptionRequest, error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.Cancel")
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "Cancellation reason is required")
	}

	var updated *models.RedemptionRequest
	err := s.ledger.withRetry(ctx, func() error {
		return s.repo.InTx(ctx, func(tx store.Repository) error {
			r, err := tx.GetRedemption(ctx, id)
			if err != nil {
				return err
			}
			if r.Terminal() {
				return apperr.InvalidTransition(r.ProcessingStatus, models.ProcessingCancelled)
			}

			ok, err := tx.TransitionProcessing(ctx, id, models.ProcessingNotProcessed, models.ProcessingCancelled, store.ProcessingUpdate{
				Remarks:            strings.TrimSpace(remarks),
				CancellationReason: reason,
				At:                 time.Now(),
			})
			if err != nil {
				return err
			}
			if !ok {
				return apperr.InvalidTransition(r.ProcessingStatus, models.ProcessingCancelled)
			}

			for _, item := range r.Items {
				if err := tx.ReleaseStock(ctx, item.VariantID, item.StockUnits); err != nil {
					return fmt.Errorf("variant %d: %w", item.VariantID, err)
				}
			}

			if _, _, err := applyAdjustment(ctx, tx, adjustment{
				accountType:   r.ChargedAccountType,
				accountID:     r.ChargedAccountID,
				delta:         r.TotalPoints,
				reason:        "redemption:cancel",
				key:           fmt.Sprintf("redemption:%d:cancel", r.ID),
				allowArchived: true,
			}); err != nil {
				return err
			}

			updated, err = tx.GetRedemption(ctx, id)
			return err
		})
	})
	if err != nil {
		return nil, translate(err, "cancel redemption")
	}

	util.RedemptionsCancelledTotal.Inc()
	s.logger.Info("Redemption request cancelled",
		zap.Int64("request_id", id),
		zap.Int64("refunded_points", updated.TotalPoints),
		zap.String("reason", reason))

	event := &models.RedemptionCancelledEvent{
		BaseEvent:      newBaseEvent(models.EventTypeRedemptionCancelled),
		RequestID:      id,
		RefundedPoints: updated.TotalPoints,
		Reason:         reason,
	}
	if err := s.events.PublishRedemptionCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish RedemptionCancelled event", zap.Error(err))
	}
	return updated, nil
}

// UpdateApprovalStatus moves the approval axis from PENDING. It has no
// financial side effects and is only allowed while the request is open.
func (s *RedemptionService) UpdateApprovalStatus(ctx context.Context, id int64, status string) (*models.RedemptionRequest, error) {
	if status != models.StatusApproved && status != models.StatusRejected {
		return nil, apperr.Validation("status", "Must be APPROVED or REJECTED")
	}

	r, err := s.repo.GetRedemption(ctx, id)
	if err != nil {
		return nil, translate(err, "get redemption")
	}
	if r.Terminal() {
		return nil, apperr.InvalidTransition(r.ProcessingStatus, status)
	}
	if r.Status != models.StatusPending {
		return nil, apperr.InvalidTransition(r.Status, status)
	}

	ok, err := s.repo.TransitionStatus(ctx, id, models.StatusPending, status)
	if err != nil {
		return nil, translate(err, "update approval status")
	}
	if !ok {
		return nil, apperr.InvalidTransition(r.Status, status)
	}

	event := &models.RedemptionStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeRedemptionStatusChanged),
		RequestID: id,
		From:      r.Status,
		To:        status,
	}
	if err := s.events.PublishRedemptionStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish RedemptionStatusChanged event", zap.Error(err))
	}

	updated, err := s.repo.GetRedemption(ctx, id)
	return updated, translate(err, "get redemption")
}

// Get returns one request with its items
func (s *RedemptionService) Get(ctx context.Context, id int64) (*models.RedemptionRequest, error) {
	r, err := s.repo.GetRedemption(ctx, id)
	if err != nil {
		return nil, translate(err, "get redemption")
	}
	return r, nil
}

// List returns requests matching filter, newest first
func (s *RedemptionService) List(ctx context.Context, filter models.RedemptionFilter) ([]models.RedemptionRequest, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	requests, err := s.repo.ListRedemptions(ctx, filter)
	if err != nil {
		return nil, translate(err, "list redemptions")
	}
	return requests, nil
}

func (s *RedemptionService) publishCreated(ctx context.Context, r *models.RedemptionRequest) {
	items := make([]models.RedemptionItemData, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, models.RedemptionItemData{
			VariantID:   item.VariantID,
			StockUnits:  item.StockUnits,
			TotalPoints: item.TotalPoints,
		})
	}

	event := &models.RedemptionCreatedEvent{
		BaseEvent:          newBaseEvent(models.EventTypeRedemptionCreated),
		RequestID:          r.ID,
		RequestedForType:   r.RequestedForType,
		RequestedForID:     r.RequestedForID,
		ChargedAccountType: r.ChargedAccountType,
		ChargedAccountID:   r.ChargedAccountID,
		TotalPoints:        r.TotalPoints,
		Items:              items,
	}
	if err := s.events.PublishRedemptionCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish RedemptionCreated event", zap.Error(err))
	}
}

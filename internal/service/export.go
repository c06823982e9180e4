package service

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"

	"go.uber.org/zap"
)

const maxExportRows = 10000

// exportColumns maps every exportable column to its cell renderer
var exportColumns = map[string]func(r *models.RedemptionRequest) string{
	"id":                    func(r *models.RedemptionRequest) string { return strconv.FormatInt(r.ID, 10) },
	"requested_for_type":    func(r *models.RedemptionRequest) string { return r.RequestedForType },
	"requested_for_id":      func(r *models.RedemptionRequest) string { return strconv.FormatInt(r.RequestedForID, 10) },
	"requested_by_agent_id": func(r *models.RedemptionRequest) string { return strconv.FormatInt(r.RequestedByAgentID, 10) },
	"points_deducted_from":  func(r *models.RedemptionRequest) string { return r.PointsDeductedFrom },
	"total_points":          func(r *models.RedemptionRequest) string { return strconv.FormatInt(r.TotalPoints, 10) },
	"status":                func(r *models.RedemptionRequest) string { return r.Status },
	"processing_status":     func(r *models.RedemptionRequest) string { return r.ProcessingStatus },
	"remarks":               func(r *models.RedemptionRequest) string { return r.Remarks },
	"cancellation_reason":   func(r *models.RedemptionRequest) string { return r.CancellationReason },
	"item_count":            func(r *models.RedemptionRequest) string { return strconv.Itoa(len(r.Items)) },
	"created_at":            func(r *models.RedemptionRequest) string { return r.CreatedAt.UTC().Format(time.RFC3339) },
	"updated_at":            func(r *models.RedemptionRequest) string { return r.UpdatedAt.UTC().Format(time.RFC3339) },
}

// DefaultExportColumns is the column order used when none are selected
var DefaultExportColumns = []string{
	"id", "requested_for_type", "requested_for_id", "requested_by_agent_id",
	"points_deducted_from", "total_points", "status", "processing_status",
	"remarks", "cancellation_reason", "item_count", "created_at", "updated_at",
}

// ExportOptions selects what an export contains. MaxRows defaults to, and
// is capped at, maxExportRows.
type ExportOptions struct {
	Columns          []string
	SortBy           string
	Direction        string
	ProcessingStatus string
	MaxRows          int
}

// ExportResult describes what an export wrote. When Truncated is set only
// the newest Rows requests were included, ordered as requested.
type ExportResult struct {
	Rows      int
	Truncated bool
}

func (o *ExportOptions) normalize() error {
	if len(o.Columns) == 0 {
		o.Columns = DefaultExportColumns
	}
	for _, c := range o.Columns {
		if _, ok := exportColumns[c]; !ok {
			return apperr.Validation("columns", "Unknown column "+strconv.Quote(c))
		}
	}

	if o.SortBy == "" {
		o.SortBy = "created_at"
	}
	if _, ok := exportColumns[o.SortBy]; !ok {
		return apperr.Validation("sort", "Unknown sort column "+strconv.Quote(o.SortBy))
	}

	switch strings.ToLower(o.Direction) {
	case "":
		o.Direction = "desc"
	case "asc", "desc":
		o.Direction = strings.ToLower(o.Direction)
	default:
		return apperr.Validation("direction", "Must be asc or desc")
	}

	switch o.ProcessingStatus {
	case "", models.ProcessingNotProcessed, models.ProcessingProcessed, models.ProcessingCancelled:
	default:
		return apperr.Validation("processingStatus", "Unknown processing status")
	}

	if o.MaxRows <= 0 || o.MaxRows > maxExportRows {
		o.MaxRows = maxExportRows
	}
	return nil
}

// Export writes a CSV snapshot of redemption requests to w. Past MaxRows
// the newest requests are kept and the result reports the truncation.
func (s *RedemptionService) Export(ctx context.Context, w io.Writer, opts ExportOptions) (ExportResult, error) {
	var result ExportResult
	if err := opts.normalize(); err != nil {
		return result, err
	}

	// one extra row tells whether anything was left out
	requests, err := s.repo.ListRedemptions(ctx, models.RedemptionFilter{
		ProcessingStatus: opts.ProcessingStatus,
		Limit:            opts.MaxRows + 1,
	})
	if err != nil {
		return result, translate(err, "list redemptions")
	}
	if len(requests) > opts.MaxRows {
		requests = requests[:opts.MaxRows]
		result.Truncated = true
		s.logger.Warn("Redemption export truncated",
			zap.Int("max_rows", opts.MaxRows),
			zap.String("processing_status", opts.ProcessingStatus))
	}
	result.Rows = len(requests)

	sortRequests(requests, opts.SortBy, opts.Direction == "desc")

	cw := csv.NewWriter(w)
	if err := cw.Write(opts.Columns); err != nil {
		return result, err
	}
	row := make([]string, len(opts.Columns))
	for i := range requests {
		for j, c := range opts.Columns {
			row[j] = exportColumns[c](&requests[i])
		}
		if err := cw.Write(row); err != nil {
			return result, err
		}
	}
	cw.Flush()
	return result, cw.Error()
}

func sortRequests(requests []models.RedemptionRequest, column string, desc bool) {
	less := func(a, b *models.RedemptionRequest) bool {
		switch column {
		case "id":
			return a.ID < b.ID
		case "requested_for_id":
			return a.RequestedForID < b.RequestedForID
		case "requested_by_agent_id":
			return a.RequestedByAgentID < b.RequestedByAgentID
		case "total_points":
			return a.TotalPoints < b.TotalPoints
		case "item_count":
			return len(a.Items) < len(b.Items)
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		default:
			return exportColumns[column](a) < exportColumns[column](b)
		}
	}

	sort.SliceStable(requests, func(i, j int) bool {
		if desc {
			return less(&requests[j], &requests[i])
		}
		return less(&requests[i], &requests[j])
	})
}

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rewards-service/internal/apperr"
	"rewards-service/internal/models"
	"rewards-service/internal/service"
	"rewards-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services bundles everything the HTTP layer calls into
type Services struct {
	Accounts    *service.AccountService
	Ledger      *service.LedgerService
	Bulk        *service.BulkService
	Redemptions *service.RedemptionService
	Submissions *service.SubmissionService
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	checks map[string]func(context.Context) error
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services) *Handler {
	return &Handler{
		svc:    svc,
		checks: make(map[string]func(context.Context) error),
	}
}

// AddReadinessCheck registers a dependency check used by /ready
func (h *Handler) AddReadinessCheck(name string, check func(context.Context) error) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/accounts/:type/search", h.searchAccounts)
		v1.GET("/accounts/:type/:id", h.getAccount)
		v1.GET("/accounts/:type/:id/ledger", h.getLedger)
		v1.PATCH("/accounts/:type/:id", h.setPoints)
		v1.POST("/accounts/:type/bulk-points", h.bulkPoints)
		v1.POST("/accounts/:type/reset-points", h.resetPoints)

		v1.GET("/bulk-jobs/:id", h.getBulkJob)
		v1.POST("/bulk-jobs/:id/next", h.runNextChunk)

		v1.POST("/redemption-requests", h.createRedemption)
		v1.GET("/redemption-requests", h.listRedemptions)
		v1.GET("/redemption-requests/export", h.exportRedemptions)
		v1.GET("/redemption-requests/:id", h.getRedemption)
		v1.POST("/redemption-requests/:id/mark-processed", h.markProcessed)
		v1.POST("/redemption-requests/:id/cancel", h.cancelRedemption)
		v1.POST("/redemption-requests/:id/status", h.updateStatus)

		v1.GET("/submissions/:ticket", h.getSubmission)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func accountTypeParam(c *gin.Context) (models.AccountType, bool) {
	t, ok := models.ParseAccountType(c.Param("type"))
	if !ok {
		respondError(c, apperr.Validation("type", "Unknown account type "+strconv.Quote(c.Param("type"))))
	}
	return t, ok
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperr.Validation("id", "Invalid id"))
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(c, apperr.Validation(key, "Must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

// searchAccounts handles typeahead search
func (h *Handler) searchAccounts(c *gin.Context) {
	accountType, ok := accountTypeParam(c)
	if !ok {
		return
	}

	accounts, err := h.svc.Accounts.Search(c.Request.Context(), accountType, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// getAccount handles get account by ID
func (h *Handler) getAccount(c *gin.Context) {
	accountType, ok := accountTypeParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	account, err := h.svc.Accounts.Get(c.Request.Context(), accountType, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// getLedger lists the most recent balance changes of an account
func (h *Handler) getLedger(c *gin.Context) {
	accountType, ok := accountTypeParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	entries, err := h.svc.Accounts.Ledger(c.Request.Context(), accountType, id, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type setPointsRequest struct {
	Points *int64 `json:"points" binding:"required"`
	Reason string `json:"reason"`
}

// setPoints handles the single-account absolute balance correction
func (h *Handler) setPoints(c *gin.Context) {
	accountType, ok := accountTypeParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req setPointsRequest
	if !bindJSON(c, &req) {
		return
	}

	balance, err := h.svc.Ledger.SetBalance(c.Request.Context(), accountType, id, *req.Points, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accountType": accountType,
		"accountId":   id,
		"points":      balance,
	})
}

type bulkPointsRequest struct {
	Delta                int64  `json:"delta" binding:"required"`
	Reason               string `json:"reason"`
	ConfirmationPassword string `json:"confirmationPassword"`
}

// bulkPoints starts a chunked delta job; the caller pumps it via /bulk-jobs/:id/next
func (h *Handler) bulkPoints(c *gin.Context) {
	accountType, ok := accountTypeParam(c)
	if !ok {
		return
	}

	var req bulkPointsRequest
	if !bindJSON(c, &req) {
		return
	}

	progress, err := h.svc.Bulk.StartBulkDelta(c.Request.Context(), accountType, req.Delta, req.ConfirmationPassword, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, progress)
}

type resetPointsRequest struct {
	ConfirmationPassword string `json:"confirmationPassword"`
}

// resetPoints starts a chunked job that zeroes every balance of the type
func (h *Handler) resetPoints(c *gin.Context) {
	accountType, ok := accountTypeParam(c)
	if !ok {
		return
	}

	var req resetPointsRequest
	if !bindJSON(c, &req) {
		return
	}

	progress, err := h.svc.Bulk.StartReset(c.Request.Context(), accountType, req.ConfirmationPassword)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, progress)
}

// getBulkJob reports job progress
func (h *Handler) getBulkJob(c *gin.Context) {
	progress, err := h.svc.Bulk.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

// runNextChunk applies the chunk after the job's high-water mark
func (h *Handler) runNextChunk(c *gin.Context) {
	result, err := h.svc.Bulk.RunNextChunk(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// createRedemption handles redemption creation. With Prefer: respond-async
// the request is only accepted and a ticket is returned.
func (h *Handler) createRedemption(c *gin.Context) {
	var req models.SubmittedRequest
	if !bindJSON(c, &req) {
		return
	}

	idempotencyKey := c.GetHeader("Idempotency-Key")

	if h.svc.Submissions != nil && strings.Contains(c.GetHeader("Prefer"), "respond-async") {
		sub, err := h.svc.Submissions.Accept(c.Request.Context(), &req, idempotencyKey)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Location", "/api/v1/submissions/"+sub.Ticket)
		c.JSON(http.StatusAccepted, gin.H{
			"ticket": sub.Ticket,
			"state":  sub.State,
		})
		return
	}

	redemption, err := h.svc.Redemptions.Create(c.Request.Context(), &req, idempotencyKey)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, redemption)
}

// listRedemptions handles filtered listing
func (h *Handler) listRedemptions(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	filter := models.RedemptionFilter{
		ProcessingStatus: c.Query("processingStatus"),
		Status:           c.Query("status"),
		RequestedForType: c.Query("requestedForType"),
		Limit:            limit,
	}
	if raw := c.Query("requestedForId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(c, apperr.Validation("requestedForId", "Invalid id"))
			return
		}
		filter.RequestedForID = id
	}

	requests, err := h.svc.Redemptions.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// exportRedemptions streams the selected columns as CSV
func (h *Handler) exportRedemptions(c *gin.Context) {
	opts := service.ExportOptions{
		SortBy:           c.Query("sort"),
		Direction:        c.Query("direction"),
		ProcessingStatus: c.Query("processingStatus"),
	}
	if raw := c.Query("columns"); raw != "" {
		for _, col := range strings.Split(raw, ",") {
			if col = strings.TrimSpace(col); col != "" {
				opts.Columns = append(opts.Columns, col)
			}
		}
	}

	// render into memory first so a validation error still gets a JSON body
	var buf strings.Builder
	result, err := h.svc.Redemptions.Export(c.Request.Context(), &buf, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("X-Export-Rows", strconv.Itoa(result.Rows))
	if result.Truncated {
		c.Header("X-Export-Truncated", "true")
	}
	filename := "redemption-requests-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(buf.String()))
}

// getRedemption handles get redemption by ID
func (h *Handler) getRedemption(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	redemption, err := h.svc.Redemptions.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, redemption)
}

type markProcessedRequest struct {
	Remarks     string `json:"remarks"`
	ProcessedBy *int64 `json:"processedBy"`
}

func (h *Handler) markProcessed(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req markProcessedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	redemption, err := h.svc.Redemptions.MarkProcessed(c.Request.Context(), id, req.Remarks, req.ProcessedBy)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, redemption)
}

type cancelRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Remarks string `json:"remarks"`
}

func (h *Handler) cancelRedemption(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req cancelRequest
	if !bindJSON(c, &req) {
		return
	}

	redemption, err := h.svc.Redemptions.Cancel(c.Request.Context(), id, req.Reason, req.Remarks)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, redemption)
}

type statusRequest struct {
	Status string `json:"status" binding:"required,oneof=APPROVED REJECTED"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	redemption, err := h.svc.Redemptions.UpdateApprovalStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, redemption)
}

// getSubmission reports the outcome of an asynchronous submission
func (h *Handler) getSubmission(c *gin.Context) {
	if h.svc.Submissions == nil {
		respondError(c, apperr.NotFound("asynchronous submissions are not enabled"))
		return
	}

	sub, err := h.svc.Submissions.Outcome(c.Request.Context(), c.Param("ticket"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

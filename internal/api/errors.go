package api

import (
	"errors"
	"io"
	"net/http"

	"rewards-service/internal/apperr"
	"rewards-service/internal/util"
	"rewards-service/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		validation.Configure(v)
	}
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidStateTransition, apperr.KindStockUnavailable:
		return http.StatusConflict
	case apperr.KindInsufficientBalance, apperr.KindArchivedAccount:
		return http.StatusUnprocessableEntity
	case apperr.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error body {error, message, field}
func respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		util.GetLogger().Error("Unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   apperr.KindInternal,
			"message": "internal error",
		})
		return
	}

	status := statusFor(appErr.Kind)
	if status >= http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", string(appErr.Kind)),
			zap.Error(err),
		)
	}

	body := gin.H{
		"error":   appErr.Kind,
		"message": appErr.Reason,
	}
	if appErr.Field != "" {
		body["field"] = appErr.Field
	}
	c.JSON(status, body)
}

// bindJSON decodes the body, checks its binding tags and reports either
// failure as a validation error
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, validation.Translate(err))
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for endpoints whose body may be left out
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	respondError(c, validation.Translate(err))
	return false
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/internal/service/dedup"
	"taskportal/pkg/logger"
	"taskportal/pkg/util"
)

// StatusFor 把错误分类映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotProvisioned):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDestinationMissing),
		errors.Is(err, model.ErrProvisioningConflict),
		errors.Is(err, dedup.ErrNothingToResolve):
		return http.StatusConflict
	case errors.Is(err, model.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, log *zap.Logger, msg string, err error) {
	status := StatusFor(err)
	_, errType := util.IsRetryableError(err)
	l := logger.WithTrace(c.Request.Context(), log)
	if status >= http.StatusInternalServerError {
		l.Error(msg, zap.String("error_type", errType), zap.Error(err))
	} else {
		l.Warn(msg, zap.String("error_type", errType), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":      msg,
		"error_type": errType,
		"details":    err.Error(),
	})
}

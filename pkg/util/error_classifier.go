package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"taskportal/internal/model"
)

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	// 分片子系统错误分类
	switch {
	case errors.Is(err, model.ErrInvalidIdentifier):
		return false, "invalid_identifier"
	case errors.Is(err, model.ErrPermissionDenied):
		// 权限问题需要人工处理
		return false, "permission_denied"
	case errors.Is(err, model.ErrSourceNotFound):
		return false, "source_not_found"
	case errors.Is(err, model.ErrAmbiguousSurvivor):
		return false, "ambiguous_survivor"
	case errors.Is(err, model.ErrProvisioningConflict):
		return true, "provisioning_conflict"
	case errors.Is(err, model.ErrStoreUnavailable):
		return true, "store_unavailable"
	case errors.Is(err, model.ErrDestinationMissing), errors.Is(err, model.ErrNotProvisioned):
		// 建表事件可能尚未处理完
		return true, "destination_missing"
	case errors.Is(err, model.ErrReparentFailed):
		return true, "reparent_failed"
	}

	// Context timeout - 可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// ShouldRetry checks if an error should be retried based on retry count
func ShouldRetry(retryCount int64, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}

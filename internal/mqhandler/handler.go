package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskportal/internal/service/tables"
	"taskportal/pkg/circuitbreaker"
	"taskportal/pkg/logger"
	"taskportal/pkg/trace"
	"taskportal/pkg/util"
)

const (
	maxRetries = 5 // 最大重试次数
)

// Lifecycle 生命周期服务
type Lifecycle interface {
	ProjectCreated(ctx context.Context, projectID string) error
	TasksAssigned(ctx context.Context, projectID string, taskIDs []string) (tables.ProvisionResult, error)
	ProjectDeleted(ctx context.Context, projectID string) error
}

// DLQPublisher 死信发布
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, errorType string, cause error) error
}

// ProjectEventHandler 处理项目生命周期事件：Redis 去重、错误分类、重试计数，超限或不可重试时进入 DLQ
type ProjectEventHandler struct {
	lifecycle    Lifecycle
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	dlq          DLQPublisher
	logger       *zap.Logger

	// breaker 为 nil 时不做熔断
	breaker     *circuitbreaker.CircuitBreaker
	openBackoff time.Duration
}

func NewProjectEventHandler(
	lifecycle Lifecycle,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	dlq DLQPublisher,
	logger *zap.Logger,
) *ProjectEventHandler {
	return &ProjectEventHandler{
		lifecycle:    lifecycle,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		logger:       logger,
		openBackoff:  time.Second,
	}
}

// UseBreaker 存储持续不可用时熔断，消息重新入队但不计重试次数
func (h *ProjectEventHandler) UseBreaker(cb *circuitbreaker.CircuitBreaker) {
	h.breaker = cb
}

func (h *ProjectEventHandler) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if h.breaker == nil {
		return fn(ctx)
	}
	return h.breaker.Execute(ctx, fn)
}

// pause 熔断期间放慢重新投递
func (h *ProjectEventHandler) pause(ctx context.Context) {
	if h.openBackoff <= 0 {
		return
	}
	t := time.NewTimer(h.openBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// event 单条消息的处理上下文
type event struct {
	name       string
	routingKey string
	eventID    string
	traceID    string
	projectID  string
	raw        json.RawMessage
}

// decodeFailed JSON 解析失败，不可重试，直接进 DLQ 并 ack
func (h *ProjectEventHandler) decodeFailed(ctx context.Context, routingKey string, raw json.RawMessage, err error) error {
	h.logger.Error("Failed to unmarshal payload (non-retryable, sending to DLQ)",
		zap.String("routing_key", routingKey),
		zap.String("raw_payload", string(raw)),
		zap.Error(err),
	)
	h.toDLQ(ctx, h.logger, routingKey, raw, "json_decode_error", err)
	return nil
}

// process 返回 error 表示让 consumer nack 重新投递
func (h *ProjectEventHandler) process(ctx context.Context, ev event, fn func(ctx context.Context) error) error {
	ctx, _ = trace.Ensure(ctx, ev.traceID)
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("handler", ev.name),
		zap.String("event_id", ev.eventID),
		zap.String("project_id", ev.projectID),
	)

	if ev.eventID != "" && !h.deduper.AcquireOnce(ctx, ev.name, ev.eventID) {
		return nil
	}

	cause := h.call(ctx, fn)
	if cause == nil {
		h.resetRetries(ctx, log, ev)
		return nil
	}

	// 失败的事件需要能被重新处理
	if ev.eventID != "" {
		h.deduper.Release(ctx, ev.name, ev.eventID)
	}

	if errors.Is(cause, circuitbreaker.ErrOpen) {
		log.Warn("Store circuit open, requeueing")
		h.pause(ctx)
		return fmt.Errorf("%s: %w", ev.name, cause)
	}

	isRetryable, errType := util.IsRetryableError(cause)
	log = log.With(zap.String("error_type", errType), zap.Bool("retryable", isRetryable), zap.Error(cause))

	if !isRetryable {
		log.Warn("Non-retryable error, sending to DLQ")
		h.toDLQ(ctx, log, ev.routingKey, ev.raw, errType, cause)
		h.resetRetries(ctx, log, ev)
		return nil
	}

	retryCount := int64(1)
	if ev.eventID != "" {
		var err error
		retryCount, err = h.retryCounter.IncrementAndGet(ctx, util.FormatRetryKey(ev.name, ev.eventID))
		if err != nil {
			// Redis 错误不影响处理，按第一次处理
			log.Warn("Failed to get retry count, continuing anyway", zap.NamedError("redis_error", err))
			retryCount = 1
		}
	}

	if !util.ShouldRetry(retryCount, maxRetries, isRetryable) {
		log.Warn("Max retries exceeded, sending to DLQ", zap.Int64("retry_count", retryCount))
		h.toDLQ(ctx, log, ev.routingKey, ev.raw, errType, fmt.Errorf("after %d attempts: %w", retryCount, cause))
		h.resetRetries(ctx, log, ev)
		return nil
	}

	log.Warn("Retryable error, requeueing", zap.Int64("retry_count", retryCount))
	return fmt.Errorf("%s: %w", ev.name, cause)
}

func (h *ProjectEventHandler) resetRetries(ctx context.Context, log *zap.Logger, ev event) {
	if ev.eventID == "" {
		return
	}
	if err := h.retryCounter.Reset(ctx, util.FormatRetryKey(ev.name, ev.eventID)); err != nil {
		log.Warn("Failed to reset retry count", zap.Error(err))
	}
}

func (h *ProjectEventHandler) toDLQ(ctx context.Context, log *zap.Logger, routingKey string, raw []byte, errType string, cause error) {
	if err := h.dlq.PublishToDLQ(ctx, routingKey, raw, errType, cause); err != nil {
		log.Error("Failed to publish to DLQ", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

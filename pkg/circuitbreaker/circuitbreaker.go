package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskportal/internal/model"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常放行
	StateOpen                  // 熔断，直接拒绝
	StateHalfOpen              // 试探恢复，限量放行
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "closed"
}

// ErrOpen 熔断期间返回；包装 ErrStoreUnavailable，调用方按可重试处理
var ErrOpen = fmt.Errorf("circuit breaker is open: %w", model.ErrStoreUnavailable)

type Config struct {
	// 连续失败多少次后打开
	FailureThreshold int
	// 半开状态下成功多少次后关闭
	SuccessThreshold int
	// 打开状态持续多久后进入半开
	Timeout time.Duration
	// 半开状态下同时放行的最大请求数
	HalfOpenMaxRequests int
	// IsFailure 判断错误是否计入失败；为 nil 时任何错误都计入
	IsFailure func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	halfOpenCount int
	openedAt      time.Time
}

func NewCircuitBreaker(config Config) *CircuitBreaker {
	d := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = d.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = d.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Execute 执行 fn；熔断时不调用 fn，直接返回 ErrOpen
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && cb.counts(err) {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.halfOpenCount = 0
		cb.successCount = 0
	}

	switch cb.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrOpen
		}
		cb.halfOpenCount++
	}
	return nil
}

func (cb *CircuitBreaker) counts(err error) bool {
	if cb.config.IsFailure == nil {
		return true
	}
	return cb.config.IsFailure(err)
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	switch cb.state {
	case StateHalfOpen:
		// 试探失败，重新打开
		cb.open()
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.open()
		}
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failureCount = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.successCount++
	cb.halfOpenCount--
	if cb.successCount >= cb.config.SuccessThreshold {
		cb.state = StateClosed
		cb.successCount = 0
		cb.halfOpenCount = 0
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.halfOpenCount = 0
	cb.successCount = 0
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCount = 0
}

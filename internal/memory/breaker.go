package memory

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String 返回状态字符串
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 熔断器打开时直接拒绝调用
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker 记忆服务熔断器
type CircuitBreaker struct {
	name string

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration

	state           int32
	failureCount    int32
	successCount    int32
	lastFailureTime time.Time
	mutex           sync.RWMutex

	now func() time.Time
}

// NewCircuitBreaker 创建熔断器，非法参数回落到默认值
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		state:            int32(StateClosed),
		now:              time.Now,
	}
}

// Call 在熔断保护下执行fn
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// Available 不改变状态地判断当前能否放行
func (cb *CircuitBreaker) Available() bool {
	if cb.State() != StateOpen {
		return true
	}
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.now().Sub(cb.lastFailureTime) >= cb.openTimeout
}

func (cb *CircuitBreaker) allow() bool {
	switch cb.State() {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if !cb.Available() {
			return false
		}
		if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
			atomic.StoreInt32(&cb.successCount, 0)
		}
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.State() {
	case StateHalfOpen:
		if int(atomic.AddInt32(&cb.successCount, 1)) >= cb.successThreshold {
			atomic.StoreInt32(&cb.state, int32(StateClosed))
			atomic.StoreInt32(&cb.failureCount, 0)
		}
	case StateClosed:
		atomic.StoreInt32(&cb.failureCount, 0)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	cb.lastFailureTime = cb.now()
	cb.mutex.Unlock()

	switch cb.State() {
	case StateHalfOpen:
		atomic.StoreInt32(&cb.state, int32(StateOpen))
		atomic.StoreInt32(&cb.successCount, 0)
	case StateClosed:
		if int(atomic.AddInt32(&cb.failureCount, 1)) >= cb.failureThreshold {
			atomic.StoreInt32(&cb.state, int32(StateOpen))
		}
	}
}

// State 当前状态
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&cb.state))
}

// Stats 统计信息，供健康检查输出
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.State().String(),
		"failure_count":     atomic.LoadInt32(&cb.failureCount),
		"success_count":     atomic.LoadInt32(&cb.successCount),
		"failure_threshold": cb.failureThreshold,
		"success_threshold": cb.successThreshold,
		"open_timeout":      cb.openTimeout.String(),
		"last_failure_time": cb.lastFailureTime,
	}
}

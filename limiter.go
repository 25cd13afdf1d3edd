package admission

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AdaptiveLimiter 自适应限流器
// 共享存储可用时使用共享存储（跨进程全局计数），不可用时降级为进程本地存储
// 降级期间只在进入降级的那一刻告警一次，避免刷日志
type AdaptiveLimiter struct {
	policy  Policy
	shared  SharedStore
	local   Store
	logger  logrus.FieldLogger
	enabled bool

	mu       sync.Mutex
	degraded bool
}

// NewAdaptiveLimiter 创建自适应限流器
// shared可为nil，此时只使用本地存储（不产生降级语义）
func NewAdaptiveLimiter(policy Policy, shared SharedStore, local Store, logger logrus.FieldLogger) *AdaptiveLimiter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdaptiveLimiter{
		policy:  policy,
		shared:  shared,
		local:   local,
		logger:  logger,
		enabled: true,
	}
}

// Policy 获取策略
func (l *AdaptiveLimiter) Policy() Policy {
	return l.policy
}

// Check 检查请求是否允许通过
// 策略配置了skip规则时不在此处计数（计数推迟到Commit），但拒绝判断仍然在此处发生
// 内部故障时放行（fail open）：准入层自身的bug不应该拖垮整条请求路径
func (l *AdaptiveLimiter) Check(req *Request) *Decision {
	// 准入检查未启用
	if !l.enabled {
		return &Decision{
			Allowed:    true,
			Policy:     l.policy.Name,
			StatusCode: http.StatusOK,
			Limit:      l.policy.Max,
			Remaining:  l.policy.Max,
		}
	}

	key := l.policy.Key(req)
	deferred := l.policy.SkipSuccessful || l.policy.SkipFailed

	store := l.pick()

	var (
		count     int64
		remaining time.Duration
		err       error
	)
	if deferred {
		// 只读预判：当前计数已达阈值则拒绝，本次请求的计数在结果已知后提交
		count, err = store.Peek(key, l.policy.Window)
		if err == nil {
			count++ // 把本次请求算进去再做判断
			remaining = l.policy.Window
		}
	} else {
		count, remaining, err = store.Incr(key, l.policy.Window)
	}

	// 共享存储中途失联：切换到本地存储重做本次检查
	if err != nil && errors.Is(err, ErrStoreUnavailable) && store != l.local {
		l.markDegraded()
		if deferred {
			count, err = l.local.Peek(key, l.policy.Window)
			if err == nil {
				count++
				remaining = l.policy.Window
			}
		} else {
			count, remaining, err = l.local.Incr(key, l.policy.Window)
		}
	}

	if err != nil {
		// 本地存储也失败，正常情况下不应发生：放行并记录错误
		l.logger.WithFields(logrus.Fields{
			"policy": l.policy.Name,
			"key":    key,
		}).WithError(err).Error("限流检查失败，放行请求")
		return &Decision{
			Allowed:    true,
			Policy:     l.policy.Name,
			StatusCode: http.StatusOK,
			Limit:      l.policy.Max,
		}
	}

	return l.decide(count, remaining)
}

// Commit 在响应结果已知后提交计数
// 只对配置了skip规则的策略有意义；结果命中skip条件时本次请求不计入窗口
func (l *AdaptiveLimiter) Commit(req *Request, success bool) {
	if !l.enabled {
		return
	}
	if !l.policy.SkipSuccessful && !l.policy.SkipFailed {
		return
	}
	if success && l.policy.SkipSuccessful {
		return
	}
	if !success && l.policy.SkipFailed {
		return
	}

	key := l.policy.Key(req)
	store := l.pick()

	_, _, err := store.Incr(key, l.policy.Window)
	if err != nil && errors.Is(err, ErrStoreUnavailable) && store != l.local {
		l.markDegraded()
		_, _, err = l.local.Incr(key, l.policy.Window)
	}
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"policy": l.policy.Name,
			"key":    key,
		}).WithError(err).Error("限流计数提交失败")
	}
}

// pick 选择本次检查使用的存储
func (l *AdaptiveLimiter) pick() Store {
	if l.shared == nil {
		return l.local
	}
	if l.shared.Available() {
		l.markRestored()
		return l.shared
	}
	l.markDegraded()
	return l.local
}

// markDegraded 进入降级状态，只在状态切换时告警一次
func (l *AdaptiveLimiter) markDegraded() {
	if l.shared == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.degraded {
		return
	}
	l.degraded = true
	l.logger.WithField("policy", l.policy.Name).
		Warn("共享存储不可用，限流降级为本地存储（仅保证单进程内正确性）")
}

// markRestored 退出降级状态
func (l *AdaptiveLimiter) markRestored() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.degraded {
		return
	}
	l.degraded = false
	l.logger.WithField("policy", l.policy.Name).
		Info("共享存储恢复，限流恢复为共享存储")
}

// decide 根据窗口计数生成判定结果
func (l *AdaptiveLimiter) decide(count int64, remaining time.Duration) *Decision {
	allowed := count <= l.policy.Max
	left := l.policy.Max - count
	if left < 0 {
		left = 0
	}

	decision := &Decision{
		Allowed:    allowed,
		Policy:     l.policy.Name,
		StatusCode: http.StatusOK,
		Limit:      l.policy.Max,
		Remaining:  left,
		Reset:      time.Now().Add(remaining).Unix(),
	}
	if !allowed {
		decision.StatusCode = http.StatusTooManyRequests
		decision.Code = l.policy.Code
		decision.Message = l.policy.Message
		decision.RetryAfter = int64(remaining.Seconds())
	}
	return decision
}

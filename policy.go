package admission

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// KeyByUserOrIP 键策略：优先使用已认证用户ID，未认证时退化为客户端IP
// namespace不为空时作为键前缀，保证不同策略下相同的用户/IP互不冲突
func KeyByUserOrIP(namespace string) KeyFunc {
	return func(req *Request) string {
		id := req.IP
		if req.UserID != "" {
			id = req.UserID
		}
		if namespace == "" {
			return id
		}
		return namespace + ":" + id
	}
}

// KeyByIP 键策略：始终使用客户端IP
func KeyByIP(namespace string) KeyFunc {
	return func(req *Request) string {
		if namespace == "" {
			return req.IP
		}
		return namespace + ":" + req.IP
	}
}

// Registry 内置策略注册表
// 进程启动时构建一次，持有全部预配置的自适应限流器
type Registry struct {
	config *Config
	shared SharedStore
	local  Store
	logger logrus.FieldLogger

	general       *AdaptiveLimiter
	auth          *AdaptiveLimiter
	fileUpload    *AdaptiveLimiter
	aiProcessing  *AdaptiveLimiter
	passwordReset *AdaptiveLimiter
}

// NewRegistry 从配置构建注册表
// shared可为nil（无共享存储部署，只做单进程限流）；local必须提供
func NewRegistry(config *Config, shared SharedStore, local Store, logger logrus.FieldLogger) (*Registry, error) {
	if config == nil {
		return nil, fmt.Errorf("config不能为空")
	}
	if local == nil {
		return nil, fmt.Errorf("本地存储不能为空")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := &Registry{
		config: config,
		shared: shared,
		local:  local,
		logger: logger,
	}

	r.general = r.build(Policy{
		Name:    PolicyGeneral,
		Window:  config.policyWindow(PolicyGeneral, 15*time.Minute),
		Max:     config.policyMax(PolicyGeneral, 1000),
		Key:     KeyByUserOrIP(""),
		Code:    CodeRateLimitExceeded,
		Message: "请求过于频繁，请稍后再试",
	})
	r.auth = r.build(Policy{
		Name:           PolicyAuth,
		Window:         config.policyWindow(PolicyAuth, 15*time.Minute),
		Max:            config.policyMax(PolicyAuth, 5),
		Key:            KeyByIP(PolicyAuth),
		SkipSuccessful: true,
		Code:           CodeAuthRateLimitExceeded,
		Message:        "登录尝试过于频繁，请稍后再试",
	})
	r.fileUpload = r.build(Policy{
		Name:    PolicyFileUpload,
		Window:  config.policyWindow(PolicyFileUpload, 60*time.Minute),
		Max:     config.policyMax(PolicyFileUpload, 50),
		Key:     KeyByUserOrIP(PolicyFileUpload),
		Code:    CodeUploadRateLimitExceeded,
		Message: "上传过于频繁，请稍后再试",
	})
	r.aiProcessing = r.build(Policy{
		Name:    PolicyAIProcessing,
		Window:  config.policyWindow(PolicyAIProcessing, 60*time.Minute),
		Max:     config.policyMax(PolicyAIProcessing, 20),
		Key:     KeyByUserOrIP(PolicyAIProcessing),
		Code:    CodeAIRateLimitExceeded,
		Message: "AI处理请求过于频繁，请稍后再试",
	})
	r.passwordReset = r.build(Policy{
		Name:    PolicyPasswordReset,
		Window:  config.policyWindow(PolicyPasswordReset, 60*time.Minute),
		Max:     config.policyMax(PolicyPasswordReset, 3),
		Key:     KeyByIP(PolicyPasswordReset),
		Code:    CodePasswordResetRateLimitExceeded,
		Message: "密码重置请求过于频繁，请稍后再试",
	})

	return r, nil
}

// build 构建单个限流器并应用全局开关
func (r *Registry) build(policy Policy) *AdaptiveLimiter {
	limiter := NewAdaptiveLimiter(policy, r.shared, r.local, r.logger)
	limiter.enabled = r.config.Default.Enabled
	return limiter
}

// General 通用流量限流器
func (r *Registry) General() *AdaptiveLimiter {
	return r.general
}

// Auth 登录/认证限流器（成功的登录不计入窗口）
func (r *Registry) Auth() *AdaptiveLimiter {
	return r.auth
}

// FileUpload 文件上传限流器
func (r *Registry) FileUpload() *AdaptiveLimiter {
	return r.fileUpload
}

// AIProcessing AI处理限流器
func (r *Registry) AIProcessing() *AdaptiveLimiter {
	return r.aiProcessing
}

// PasswordReset 密码重置限流器
func (r *Registry) PasswordReset() *AdaptiveLimiter {
	return r.passwordReset
}

// Custom 为内置策略未覆盖的调用点构建临时策略限流器
// 未指定的字段使用默认值：键策略为用户/IP（以策略名为命名空间），原因码为通用限流
func (r *Registry) Custom(policy Policy) (*AdaptiveLimiter, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("策略名称不能为空")
	}
	if policy.Window <= 0 {
		return nil, fmt.Errorf("策略[%s]时间窗口必须大于0", policy.Name)
	}
	if policy.Max <= 0 {
		return nil, fmt.Errorf("策略[%s]限流阈值必须大于0", policy.Name)
	}
	if policy.Key == nil {
		policy.Key = KeyByUserOrIP(policy.Name)
	}
	if policy.Code == "" {
		policy.Code = CodeRateLimitExceeded
	}
	if policy.Message == "" {
		policy.Message = "请求过于频繁，请稍后再试"
	}
	return r.build(policy), nil
}

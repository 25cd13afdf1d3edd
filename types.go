package admission

import (
	"errors"
	"time"
)

// RejectionCode 拒绝原因码
// 对外稳定的枚举，客户端与前端依赖这些取值，不可随意改动
type RejectionCode string

const (
	// CodeRateLimitExceeded 通用限流
	CodeRateLimitExceeded RejectionCode = "RATE_LIMIT_EXCEEDED"
	// CodeAuthRateLimitExceeded 登录/认证限流
	CodeAuthRateLimitExceeded RejectionCode = "AUTH_RATE_LIMIT_EXCEEDED"
	// CodeUploadRateLimitExceeded 文件上传限流
	CodeUploadRateLimitExceeded RejectionCode = "UPLOAD_RATE_LIMIT_EXCEEDED"
	// CodeAIRateLimitExceeded AI处理限流
	CodeAIRateLimitExceeded RejectionCode = "AI_RATE_LIMIT_EXCEEDED"
	// CodePasswordResetRateLimitExceeded 密码重置限流
	CodePasswordResetRateLimitExceeded RejectionCode = "PASSWORD_RESET_RATE_LIMIT_EXCEEDED"
	// CodeIPBanned IP临时封禁
	CodeIPBanned RejectionCode = "IP_BANNED"
)

// ErrStoreUnavailable 共享存储不可达（连接失败、超时）
// 存储实现必须返回可识别的该错误，调用方据此降级到本地存储，而不是拿到一个假的0
var ErrStoreUnavailable = errors.New("admission: shared store unavailable")

// Request 一次待准入请求的上下文
type Request struct {
	// IP 客户端IP
	IP string
	// UserID 已认证用户ID，未认证时为空
	UserID string
	// Path 请求路径
	Path string
	// Method HTTP方法
	Method string
}

// KeyFunc 键策略：从请求上下文映射到限流键
type KeyFunc func(req *Request) string

// Policy 限流策略
// 进程启动时创建一次，之后不可变
type Policy struct {
	// Name 策略名称（同时用作键的命名空间前缀）
	Name string
	// Window 时间窗口
	Window time.Duration
	// Max 窗口内允许的最大请求数
	Max int64
	// Key 键策略
	Key KeyFunc
	// SkipSuccessful 成功的响应不计入窗口（计数推迟到结果已知之后）
	SkipSuccessful bool
	// SkipFailed 失败的响应不计入窗口
	SkipFailed bool
	// Code 拒绝原因码
	Code RejectionCode
	// Message 拒绝消息（返回给客户端）
	Message string
}

// Decision 准入判定结果
type Decision struct {
	// Allowed 是否允许通过
	Allowed bool
	// Policy 命中的策略名称
	Policy string
	// Code 拒绝原因码（Allowed为true时为空）
	Code RejectionCode
	// Message 拒绝消息
	Message string
	// StatusCode 建议的HTTP状态码
	StatusCode int
	// Limit 限流阈值
	Limit int64
	// Remaining 剩余配额
	Remaining int64
	// Reset 重置时间（Unix时间戳）
	Reset int64
	// RetryAfter 建议重试时间（秒）
	RetryAfter int64
}

// Store 窗口计数存储接口
// 同一key的并发递增必须由实现内部串行化
type Store interface {
	// Incr 在当前窗口内递增并返回计数，以及窗口剩余时间
	Incr(key string, window time.Duration) (count int64, remaining time.Duration, err error)
	// Peek 只读获取当前窗口计数，不产生递增
	Peek(key string, window time.Duration) (int64, error)
}

// SharedStore 共享存储（跨进程可见）
// 额外暴露可用性探测，探测必须廉价（读缓存标志，不做网络往返）
type SharedStore interface {
	Store
	// Available 共享存储当前是否可达
	Available() bool
}

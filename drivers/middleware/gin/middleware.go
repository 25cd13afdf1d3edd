package gin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	admission "github.com/Fischlvor/go-admission"
	"github.com/Fischlvor/go-admission/ddos"
)

// Limiter 限流器接口（中间件需要的最小接口）
type Limiter interface {
	Check(req *admission.Request) *admission.Decision
	Commit(req *admission.Request, success bool)
	Policy() admission.Policy
}

// Middleware 准入中间件的公共配置
type Middleware struct {
	// RequestGetter 从gin上下文提取请求上下文
	RequestGetter func(*gin.Context) *admission.Request
	// OnBanned 封禁处理
	OnBanned func(*gin.Context)
	// OnExceeded 限流超出处理
	OnExceeded func(*gin.Context, *admission.Decision)
}

// Option 中间件选项
type Option func(*Middleware)

// WithRequestGetter 自定义请求上下文提取（如代理后的真实IP、自有认证层的用户ID）
func WithRequestGetter(getter func(*gin.Context) *admission.Request) Option {
	return func(m *Middleware) {
		m.RequestGetter = getter
	}
}

// WithBannedHandler 自定义封禁处理
func WithBannedHandler(handler func(*gin.Context)) Option {
	return func(m *Middleware) {
		m.OnBanned = handler
	}
}

// WithExceededHandler 自定义限流超出处理
func WithExceededHandler(handler func(*gin.Context, *admission.Decision)) Option {
	return func(m *Middleware) {
		m.OnExceeded = handler
	}
}

// newMiddleware 应用默认值与选项
func newMiddleware(options ...Option) *Middleware {
	m := &Middleware{
		RequestGetter: DefaultRequestGetter,
		OnBanned:      DefaultBannedHandler,
		OnExceeded:    DefaultExceededHandler,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Protect 滥用检测中间件
// 必须安装在所有限流中间件之前：被封禁的客户端直接拒绝，不再进入限流检查
func Protect(detector *ddos.Detector, options ...Option) gin.HandlerFunc {
	m := newMiddleware(options...)

	return func(c *gin.Context) {
		req := m.RequestGetter(c)
		if detector.Check(req.IP) {
			m.OnBanned(c)
			return
		}
		c.Next()
	}
}

// Limit 限流中间件
// 判定通过则放行；策略配置了skip规则时，本次请求的计数在响应结果已知后提交
func Limit(limiter Limiter, options ...Option) gin.HandlerFunc {
	m := newMiddleware(options...)

	return func(c *gin.Context) {
		req := m.RequestGetter(c)

		decision := limiter.Check(req)

		// 设置限流响应头
		c.Header("X-RateLimit-Limit", formatInt(decision.Limit))
		c.Header("X-RateLimit-Remaining", formatInt(decision.Remaining))
		c.Header("X-RateLimit-Reset", formatInt(decision.Reset))

		if !decision.Allowed {
			c.Header("Retry-After", formatInt(decision.RetryAfter))
			m.OnExceeded(c, decision)
			return
		}

		c.Next()

		// 结果已知，提交计数（无skip规则的策略此调用为空操作）
		limiter.Commit(req, c.Writer.Status() < http.StatusBadRequest)
	}
}

// RejectionBody 构造标准拒绝响应体
// 结构对外稳定：{ error: { code, message, timestamp } }
func RejectionBody(code admission.RejectionCode, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":      string(code),
			"message":   message,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// DefaultRequestGetter 默认请求上下文提取
func DefaultRequestGetter(c *gin.Context) *admission.Request {
	return &admission.Request{
		IP:     c.ClientIP(),
		UserID: c.GetString("user_id"),
		Path:   c.Request.URL.Path,
		Method: c.Request.Method,
	}
}

// DefaultBannedHandler 默认封禁处理
func DefaultBannedHandler(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests,
		RejectionBody(admission.CodeIPBanned, "您的IP因请求异常被临时封禁，请稍后再试"))
	c.Abort()
}

// DefaultExceededHandler 默认限流超出处理
func DefaultExceededHandler(c *gin.Context, decision *admission.Decision) {
	c.JSON(decision.StatusCode, RejectionBody(decision.Code, decision.Message))
	c.Abort()
}

// formatInt 响应头用的十进制格式化
func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

package admission

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// 内置策略名称
const (
	PolicyGeneral       = "general"
	PolicyAuth          = "auth"
	PolicyFileUpload    = "file_upload"
	PolicyAIProcessing  = "ai_processing"
	PolicyPasswordReset = "password_reset"
)

// Config 准入层配置
type Config struct {
	// Default 默认配置
	Default DefaultConfig `yaml:"default"`
	// Redis 共享存储连接配置
	Redis RedisConfig `yaml:"redis"`
	// Policies 内置策略的窗口/阈值覆盖（按策略名）
	Policies map[string]PolicyConfig `yaml:"policies"`
	// DDoS 滥用检测配置
	DDoS DDoSConfig `yaml:"ddos"`
}

// DefaultConfig 默认配置
type DefaultConfig struct {
	// Enabled 是否启用准入检查
	Enabled bool `yaml:"enabled"`
}

// RedisConfig 共享存储连接配置
type RedisConfig struct {
	// Host 主机
	Host string `yaml:"host"`
	// Port 端口
	Port int `yaml:"port"`
	// Password 密码（可为空）
	Password string `yaml:"password"`
	// DB 数据库编号
	DB int `yaml:"db"`
	// Timeout 单次操作超时（如：200ms, 1s）
	Timeout string `yaml:"timeout"`
	// Prefix 键前缀
	Prefix string `yaml:"prefix"`
}

// Addr 返回host:port形式的地址
func (rc *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", rc.Host, rc.Port)
}

// PolicyConfig 单个策略的覆盖配置
type PolicyConfig struct {
	// Window 时间窗口（如：15m, 60m）
	Window string `yaml:"window"`
	// Max 窗口内允许的最大请求数
	Max int64 `yaml:"max"`
}

// DDoSConfig 滥用检测配置
type DDoSConfig struct {
	// Enabled 是否启用
	Enabled bool `yaml:"enabled"`
	// Threshold 追踪周期内的请求数阈值
	Threshold int64 `yaml:"threshold"`
	// BanDuration 封禁时长（如：5m）
	BanDuration string `yaml:"ban_duration"`
	// SweepInterval 过期记录清理周期（如：1m）
	SweepInterval string `yaml:"sweep_interval"`
}

// LoadConfig 从文件加载配置
func LoadConfig(filename string) (*Config, error) {
	// 读取文件
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// validateConfig 验证配置并填充默认值
func validateConfig(config *Config) error {
	// Redis连接
	if config.Redis.Host == "" {
		config.Redis.Host = "localhost"
	}
	if config.Redis.Port == 0 {
		config.Redis.Port = 6379
	}
	if config.Redis.Timeout == "" {
		config.Redis.Timeout = "1s"
	}
	if _, err := parseDuration(config.Redis.Timeout); err != nil {
		return fmt.Errorf("无效的redis超时: %s", config.Redis.Timeout)
	}

	// 策略覆盖
	for name, pc := range config.Policies {
		if !isBuiltinPolicy(name) {
			return fmt.Errorf("未知的策略名称: %s", name)
		}
		if pc.Max <= 0 {
			return fmt.Errorf("策略[%s]限流阈值必须大于0", name)
		}
		if _, err := parseDuration(pc.Window); err != nil {
			return fmt.Errorf("策略[%s]无效的时间窗口: %s", name, pc.Window)
		}
	}

	// 滥用检测
	if config.DDoS.Threshold == 0 {
		config.DDoS.Threshold = 100
	}
	if config.DDoS.Threshold < 0 {
		return fmt.Errorf("滥用检测阈值必须大于0")
	}
	if config.DDoS.BanDuration == "" {
		config.DDoS.BanDuration = "5m"
	}
	if _, err := parseDuration(config.DDoS.BanDuration); err != nil {
		return fmt.Errorf("无效的封禁时长: %s", config.DDoS.BanDuration)
	}
	if config.DDoS.SweepInterval == "" {
		config.DDoS.SweepInterval = "1m"
	}
	if _, err := parseDuration(config.DDoS.SweepInterval); err != nil {
		return fmt.Errorf("无效的清理周期: %s", config.DDoS.SweepInterval)
	}

	return nil
}

// isBuiltinPolicy 检查是否为内置策略名称
func isBuiltinPolicy(name string) bool {
	switch name {
	case PolicyGeneral, PolicyAuth, PolicyFileUpload, PolicyAIProcessing, PolicyPasswordReset:
		return true
	default:
		return false
	}
}

// parseDuration 解析时间窗口字符串
func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// policyWindow 返回策略的窗口，优先使用配置覆盖
func (c *Config) policyWindow(name string, fallback time.Duration) time.Duration {
	if pc, ok := c.Policies[name]; ok && pc.Window != "" {
		if d, err := parseDuration(pc.Window); err == nil {
			return d
		}
	}
	return fallback
}

// policyMax 返回策略的阈值，优先使用配置覆盖
func (c *Config) policyMax(name string, fallback int64) int64 {
	if pc, ok := c.Policies[name]; ok && pc.Max > 0 {
		return pc.Max
	}
	return fallback
}

// GetConfigPath 获取配置文件路径（支持相对路径和绝对路径）
func GetConfigPath(filename string) (string, error) {
	// 如果是绝对路径，直接返回
	if filepath.IsAbs(filename) {
		return filename, nil
	}

	// 尝试从当前工作目录查找
	if _, err := os.Stat(filename); err == nil {
		return filename, nil
	}

	// 尝试从可执行文件目录查找
	execPath, err := os.Executable()
	if err == nil {
		execDir := filepath.Dir(execPath)
		configPath := filepath.Join(execDir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", fmt.Errorf("配置文件不存在: %s", filename)
}

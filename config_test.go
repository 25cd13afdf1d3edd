package admission

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig 写入临时配置文件
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "admission_*.yaml")
	if err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig_Success(t *testing.T) {
	configContent := `default:
  enabled: true

redis:
  host: redis.internal
  port: 6380
  password: secret
  db: 2
  timeout: 200ms
  prefix: admission

policies:
  auth:
    window: 30m
    max: 10
  ai_processing:
    window: 2h
    max: 40

ddos:
  enabled: true
  threshold: 200
  ban_duration: 10m
  sweep_interval: 30s
`
	path := writeTempConfig(t, configContent)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !config.Default.Enabled {
		t.Error("Enabled应该为true")
	}
	if config.Redis.Addr() != "redis.internal:6380" {
		t.Errorf("Addr() = %s, want redis.internal:6380", config.Redis.Addr())
	}
	if config.Redis.Password != "secret" {
		t.Errorf("Password = %s, want secret", config.Redis.Password)
	}
	if config.Redis.DB != 2 {
		t.Errorf("DB = %d, want 2", config.Redis.DB)
	}
	if config.Policies[PolicyAuth].Max != 10 {
		t.Errorf("auth.max = %d, want 10", config.Policies[PolicyAuth].Max)
	}
	if !config.DDoS.Enabled {
		t.Error("ddos.enabled应该为true")
	}
	if config.DDoS.Threshold != 200 {
		t.Errorf("ddos.threshold = %d, want 200", config.DDoS.Threshold)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	// 最小配置，其余字段使用默认值
	path := writeTempConfig(t, "default:\n  enabled: true\n")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Redis.Addr() != "localhost:6379" {
		t.Errorf("默认redis地址 = %s, want localhost:6379", config.Redis.Addr())
	}
	if config.Redis.Timeout != "1s" {
		t.Errorf("默认redis超时 = %s, want 1s", config.Redis.Timeout)
	}
	if config.DDoS.Threshold != 100 {
		t.Errorf("默认滥用阈值 = %d, want 100", config.DDoS.Threshold)
	}
	if config.DDoS.BanDuration != "5m" {
		t.Errorf("默认封禁时长 = %s, want 5m", config.DDoS.BanDuration)
	}
	if config.DDoS.SweepInterval != "1m" {
		t.Errorf("默认清理周期 = %s, want 1m", config.DDoS.SweepInterval)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/admission.yaml"); err == nil {
		t.Error("文件不存在应该返回错误")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "default:\n  enabled: [invalid")

	if _, err := LoadConfig(path); err == nil {
		t.Error("非法YAML应该返回错误")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "空配置填充默认值",
			config:  &Config{},
			wantErr: false,
		},
		{
			name: "未知策略名称",
			config: &Config{
				Policies: map[string]PolicyConfig{
					"unknown": {Window: "1m", Max: 1},
				},
			},
			wantErr: true,
		},
		{
			name: "策略阈值为0",
			config: &Config{
				Policies: map[string]PolicyConfig{
					PolicyAuth: {Window: "1m"},
				},
			},
			wantErr: true,
		},
		{
			name: "策略窗口非法",
			config: &Config{
				Policies: map[string]PolicyConfig{
					PolicyAuth: {Window: "fifteen", Max: 5},
				},
			},
			wantErr: true,
		},
		{
			name: "redis超时非法",
			config: &Config{
				Redis: RedisConfig{Timeout: "soon"},
			},
			wantErr: true,
		},
		{
			name: "封禁时长非法",
			config: &Config{
				DDoS: DDoSConfig{BanDuration: "forever"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsBuiltinPolicy(t *testing.T) {
	for _, name := range []string{
		PolicyGeneral, PolicyAuth, PolicyFileUpload, PolicyAIProcessing, PolicyPasswordReset,
	} {
		if !isBuiltinPolicy(name) {
			t.Errorf("%s 应该是内置策略", name)
		}
	}
	if isBuiltinPolicy("custom") {
		t.Error("custom 不应该是内置策略")
	}
}

func TestPolicyWindowAndMax(t *testing.T) {
	config := &Config{
		Policies: map[string]PolicyConfig{
			PolicyAuth: {Window: "30m", Max: 10},
		},
	}

	if got := config.policyWindow(PolicyAuth, 15*time.Minute); got != 30*time.Minute {
		t.Errorf("policyWindow = %v, want 30m", got)
	}
	if got := config.policyWindow(PolicyGeneral, 15*time.Minute); got != 15*time.Minute {
		t.Errorf("无覆盖时应该返回默认窗口, got %v", got)
	}
	if got := config.policyMax(PolicyAuth, 5); got != 10 {
		t.Errorf("policyMax = %d, want 10", got)
	}
	if got := config.policyMax(PolicyGeneral, 1000); got != 1000 {
		t.Errorf("无覆盖时应该返回默认阈值, got %d", got)
	}
}

func TestGetConfigPath(t *testing.T) {
	// 绝对路径直接返回
	path := writeTempConfig(t, "default:\n  enabled: true\n")
	got, err := GetConfigPath(path)
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if got != path {
		t.Errorf("GetConfigPath() = %s, want %s", got, path)
	}

	// 不存在的相对路径返回错误
	if _, err := GetConfigPath("no_such_admission.yaml"); err == nil {
		t.Error("不存在的配置文件应该返回错误")
	}
}

package ddos

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	admission "github.com/Fischlvor/go-admission"
)

// newTestDetector 创建清理周期很长的检测器，测试中手动触发清理
func newTestDetector(threshold int64, banDuration time.Duration) (*Detector, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	d := New(threshold, banDuration, time.Hour, logger)
	return d, hook
}

func TestDetector_UnderThresholdNeverBanned(t *testing.T) {
	d, _ := newTestDetector(100, 5*time.Minute)
	defer d.Stop()

	// 阈值内的请求全部放行
	for i := 1; i <= 100; i++ {
		if d.Check("1.2.3.4") {
			t.Fatalf("第%d个请求不应该被封禁", i)
		}
	}
}

func TestDetector_BanOnThresholdBreach(t *testing.T) {
	d, _ := newTestDetector(100, 5*time.Minute)
	defer d.Stop()

	for i := 0; i < 100; i++ {
		d.Check("1.2.3.4")
	}

	// 第101个请求开始被封禁，之后的请求持续被拒
	if !d.Check("1.2.3.4") {
		t.Fatal("第101个请求应该被封禁")
	}
	for i := 0; i < 10; i++ {
		if !d.Check("1.2.3.4") {
			t.Fatal("封禁期间的后续请求应该持续被拒")
		}
	}
}

func TestDetector_BreachWarnsOnce(t *testing.T) {
	d, hook := newTestDetector(10, 5*time.Minute)
	defer d.Stop()

	for i := 0; i < 30; i++ {
		d.Check("1.2.3.4")
	}

	warns := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns++
		}
	}
	if warns != 1 {
		t.Errorf("越限应该只告警1次, 实际 %d 次", warns)
	}
}

func TestDetector_ClientsAreIndependent(t *testing.T) {
	d, _ := newTestDetector(10, 5*time.Minute)
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.Check("1.2.3.4")
	}

	// 其他客户端不受影响
	if d.Check("5.6.7.8") {
		t.Error("其他客户端不应该被封禁")
	}
}

func TestDetector_SweepEvictsIdleRecords(t *testing.T) {
	d, _ := newTestDetector(10, 50*time.Millisecond)
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.Check("1.2.3.4")
	}
	if !d.Check("1.2.3.4") {
		t.Fatal("越限后应该被封禁")
	}

	// 安静满banDuration后记录被清理，客户端回到normal
	time.Sleep(60 * time.Millisecond)
	d.sweepOnce(time.Now())

	if d.Size() != 0 {
		t.Fatalf("空闲记录应该被清理, Size() = %d", d.Size())
	}
	if d.Check("1.2.3.4") {
		t.Error("清理后的客户端应该回到normal状态")
	}
}

func TestDetector_ActiveBanSlidesForward(t *testing.T) {
	d, _ := newTestDetector(10, 50*time.Millisecond)
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.Check("1.2.3.4")
	}

	// 封禁期间持续请求会刷新lastSeen，清理不会放过仍在活跃的客户端
	time.Sleep(30 * time.Millisecond)
	if !d.Check("1.2.3.4") {
		t.Fatal("仍在活跃的客户端应该保持封禁")
	}
	d.sweepOnce(time.Now())
	if d.Size() != 1 {
		t.Error("刚活跃过的记录不应该被清理")
	}
	if !d.Check("1.2.3.4") {
		t.Error("封禁应该随客户端的持续请求向前滑动")
	}
}

func TestDetector_SweepKeepsRecentRecords(t *testing.T) {
	d, _ := newTestDetector(100, 5*time.Minute)
	defer d.Stop()

	d.Check("1.2.3.4")
	d.sweepOnce(time.Now())

	if d.Size() != 1 {
		t.Errorf("活跃记录不应该被清理, Size() = %d", d.Size())
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := &admission.DDoSConfig{
		Enabled:       true,
		Threshold:     50,
		BanDuration:   "2m",
		SweepInterval: "30s",
	}

	d, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer d.Stop()

	if d.threshold != 50 {
		t.Errorf("threshold = %d, want 50", d.threshold)
	}
	if d.banDuration != 2*time.Minute {
		t.Errorf("banDuration = %v, want 2m", d.banDuration)
	}
}

func TestNewFromConfig_Invalid(t *testing.T) {
	cfg := &admission.DDoSConfig{BanDuration: "forever", SweepInterval: "1m"}
	if _, err := NewFromConfig(cfg, nil); err == nil {
		t.Error("非法封禁时长应该返回错误")
	}
}

func TestDetector_Disabled(t *testing.T) {
	cfg := &admission.DDoSConfig{
		Enabled:       false,
		Threshold:     1,
		BanDuration:   "1m",
		SweepInterval: "1m",
	}
	d, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer d.Stop()

	// 未启用时永不封禁
	for i := 0; i < 10; i++ {
		if d.Check("1.2.3.4") {
			t.Fatal("未启用时不应该封禁")
		}
	}
}

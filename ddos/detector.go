package ddos

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	admission "github.com/Fischlvor/go-admission"
)

// record 单个客户端的追踪记录
// 状态单向演进：normal → 越限（告警一次）→ 封禁 → 被清理后回到normal
type record struct {
	count    int64
	lastSeen time.Time
	flagged  bool
}

// Detector 滥用检测器
// 独立于各限流器之前运行：按客户端IP追踪请求速率，越限后临时封禁
// 封禁期间客户端每次请求都会刷新lastSeen，封禁窗口随之前移，
// 只有客户端安静满banDuration后记录才会被清理、恢复normal
type Detector struct {
	threshold   int64
	banDuration time.Duration
	enabled     bool
	logger      logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]*record

	stop     chan struct{}
	stopOnce sync.Once
}

// New 创建滥用检测器并启动周期清理
func New(threshold int64, banDuration, sweepInterval time.Duration, logger logrus.FieldLogger) *Detector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := &Detector{
		threshold:   threshold,
		banDuration: banDuration,
		enabled:     true,
		logger:      logger,
		clients:     make(map[string]*record),
		stop:        make(chan struct{}),
	}
	go d.sweepLoop(sweepInterval)
	return d
}

// NewFromConfig 从配置创建滥用检测器
func NewFromConfig(cfg *admission.DDoSConfig, logger logrus.FieldLogger) (*Detector, error) {
	banDuration, err := time.ParseDuration(cfg.BanDuration)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := time.ParseDuration(cfg.SweepInterval)
	if err != nil {
		return nil, err
	}

	d := New(cfg.Threshold, banDuration, sweepInterval, logger)
	d.enabled = cfg.Enabled
	return d, nil
}

// Check 记录一次请求并返回该客户端当前是否处于封禁状态
// 无论是否封禁都会递增计数并刷新lastSeen
func (d *Detector) Check(ip string) bool {
	if !d.enabled {
		return false
	}

	now := time.Now()

	d.mu.Lock()
	rec, ok := d.clients[ip]
	if !ok {
		rec = &record{}
		d.clients[ip] = rec
	}
	rec.count++
	rec.lastSeen = now

	banned := rec.count > d.threshold
	firstBreach := banned && !rec.flagged
	if firstBreach {
		rec.flagged = true
	}
	count := rec.count
	d.mu.Unlock()

	if firstBreach {
		d.logger.WithFields(logrus.Fields{
			"ip":        ip,
			"count":     count,
			"threshold": d.threshold,
		}).Warn("请求速率超过滥用阈值，客户端进入临时封禁")
	}

	return banned
}

// Size 当前追踪的客户端数量
func (d *Detector) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// Stop 停止周期清理
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}

// sweepLoop 周期清理
func (d *Detector) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.sweepOnce(time.Now())
		}
	}
}

// sweepOnce 清理安静满banDuration的记录，使其下次请求回到normal状态
func (d *Detector) sweepOnce(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ip, rec := range d.clients {
		if now.Sub(rec.lastSeen) >= d.banDuration {
			delete(d.clients, ip)
		}
	}
}

package memory

import (
	"fmt"
	"sync"
	"time"
)

// DefaultSweepInterval 默认的后台清理周期
const DefaultSweepInterval = time.Minute

// entry 单个窗口的计数
type entry struct {
	count     int64
	expiresAt int64 // 窗口结束时间（UnixNano）
}

// Store 进程本地窗口计数存储
// 内部键为 key:窗口序号（当前时间戳整除窗口长度），过期窗口天然命中不同的键，
// 热路径上无需扫描过期项；内存由低频的后台清理回收
type Store struct {
	mu      sync.Mutex
	windows map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore 创建本地存储并启动后台清理
// sweepInterval小于等于0时使用默认周期
func NewStore(sweepInterval time.Duration) *Store {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	s := &Store{
		windows: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go s.sweep(sweepInterval)
	return s
}

// Incr 在当前窗口内递增并返回计数与窗口剩余时间
func (s *Store) Incr(key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, fmt.Errorf("无效的时间窗口: %v", window)
	}

	now := time.Now().UnixNano()
	idx := now / int64(window)
	wk := windowKey(key, idx)
	expiresAt := (idx + 1) * int64(window)

	s.mu.Lock()
	ent, ok := s.windows[wk]
	if !ok {
		ent = &entry{expiresAt: expiresAt}
		s.windows[wk] = ent
	}
	ent.count++
	count := ent.count
	s.mu.Unlock()

	return count, time.Duration(expiresAt - now), nil
}

// Peek 只读获取当前窗口计数
func (s *Store) Peek(key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("无效的时间窗口: %v", window)
	}

	idx := time.Now().UnixNano() / int64(window)
	wk := windowKey(key, idx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.windows[wk]; ok {
		return ent.count, nil
	}
	return 0, nil
}

// Len 当前持有的窗口条目数（含未清理的过期窗口）
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Stop 停止后台清理
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// sweep 低频回收已完全过期的窗口
func (s *Store) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			s.mu.Lock()
			for wk, ent := range s.windows {
				if now >= ent.expiresAt {
					delete(s.windows, wk)
				}
			}
			s.mu.Unlock()
		}
	}
}

// windowKey 拼接内部键
func windowKey(key string, idx int64) string {
	return fmt.Sprintf("%s:%d", key, idx)
}
